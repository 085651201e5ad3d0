package api

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"

	"chitter/pkg/errs"
	"chitter/pkg/model"
)

func parsePathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, errs.New(errs.InvalidInput, "malformed %s in path", name)
	}
	return id, nil
}

func parseFeedParams(r *http.Request) (cursor string, limit int) {
	cursor = r.URL.Query().Get("cursor")
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return cursor, limit
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errs.New(errs.InvalidInput, "malformed request body")
	}
	return nil
}

// writeOwnershipError reports an ownership failure as 403: the session is
// valid, it just does not own the resource. Other error kinds keep their
// usual status.
func writeOwnershipError(w http.ResponseWriter, err error) {
	if errs.Is(err, errs.Unauthorized) {
		writeErrorStatus(w, http.StatusForbidden, errs.Unauthorized, err.Error())
		return
	}
	writeError(w, err)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API is running!"})
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	reqID := rand.Int63()
	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.identity.Get().RegisterUser(r.Context(), reqID, body.FirstName, body.LastName, body.Email, body.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "User created successfully",
		"uid":     formatID(user.UserID),
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	reqID := rand.Int63()
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	token, userID, err := s.identity.Get().Login(r.Context(), reqID, body.Email, body.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
		"user_id": formatID(userID),
		"token":   token,
	})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	reqID := rand.Int63()
	userID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.identity.Get().GetProfile(r.Context(), reqID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(user))
}

func (s *Server) photoHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	userID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if callerID != userID {
		writeErrorStatus(w, http.StatusForbidden, errs.Unauthorized, "only the owner may change the profile picture")
		return
	}
	var body struct {
		ImageURL string `json:"imageURL"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.identity.Get().SetProfileImage(r.Context(), reqID, userID, body.ImageURL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "Profile picture uploaded successfully",
		"user_id":  formatID(userID),
		"imageURL": body.ImageURL,
	})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	users, err := s.search.Get().SearchUsers(r.Context(), reqID, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]userJSON, 0, len(users))
	for _, u := range users {
		views = append(views, userView(u))
	}
	writeJSON(w, http.StatusOK, map[string][]userJSON{"users": views})
}

// followBody carries the follower id of a follow/unfollow request; the
// followee is the user in the path.
type followBody struct {
	FollowerID string `json:"follower_id"`
}

func (s *Server) parseFollowPair(r *http.Request, callerID int64) (followerID int64, followeeID int64, err error) {
	followeeID, err = parsePathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	var body followBody
	if err := decodeBody(r, &body); err != nil {
		return 0, 0, err
	}
	followerID, err = strconv.ParseInt(body.FollowerID, 10, 64)
	if err != nil {
		return 0, 0, errs.New(errs.InvalidInput, "malformed follower_id")
	}
	if followerID != callerID {
		return 0, 0, errs.New(errs.Unauthorized, "follower_id does not match the session token")
	}
	return followerID, followeeID, nil
}

func (s *Server) followHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	followerID, followeeID, err := s.parseFollowPair(r, callerID)
	if err != nil {
		writeOwnershipError(w, err)
		return
	}
	if err := s.socialGraph.Get().Follow(r.Context(), reqID, followerID, followeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("(%d) is now following (%d).", followerID, followeeID),
	})
}

func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	followerID, followeeID, err := s.parseFollowPair(r, callerID)
	if err != nil {
		writeOwnershipError(w, err)
		return
	}
	if err := s.socialGraph.Get().Unfollow(r.Context(), reqID, followerID, followeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("(%d) has unfollowed (%d).", followerID, followeeID),
	})
}

// resolveUsers turns graph ids into user records, skipping ids whose profile
// has disappeared in between.
func (s *Server) resolveUsers(r *http.Request, reqID int64, ids []int64) []userJSON {
	views := make([]userJSON, len(ids))
	found := make([]bool, len(ids))
	var wg sync.WaitGroup
	wg.Add(len(ids))
	for idx, id := range ids {
		go func(idx int, id int64) {
			defer wg.Done()
			user, err := s.identity.Get().GetProfile(r.Context(), reqID, id)
			if err != nil {
				return
			}
			views[idx] = userView(user)
			found[idx] = true
		}(idx, id)
	}
	wg.Wait()
	resolved := make([]userJSON, 0, len(ids))
	for idx := range views {
		if found[idx] {
			resolved = append(resolved, views[idx])
		}
	}
	return resolved
}

func (s *Server) followersHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	userID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.socialGraph.Get().GetFollowers(r.Context(), reqID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]userJSON{"followers": s.resolveUsers(r, reqID, ids)})
}

func (s *Server) followingHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	userID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.socialGraph.Get().GetFollowees(r.Context(), reqID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]userJSON{"following": s.resolveUsers(r, reqID, ids)})
}

func (s *Server) postChitHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	authorID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if callerID != authorID {
		writeErrorStatus(w, http.StatusForbidden, errs.Unauthorized, "only the owner may post to this account")
		return
	}
	var body struct {
		Text      string   `json:"text"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		ImageURL  string   `json:"imageURL"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	var location *model.Location
	if body.Latitude != nil || body.Longitude != nil {
		if body.Latitude == nil || body.Longitude == nil {
			writeError(w, errs.New(errs.InvalidInput, "latitude and longitude must both be present"))
			return
		}
		location = &model.Location{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}
	chit, err := s.chitStorage.Get().StoreChit(r.Context(), reqID, authorID, body.Text, location, body.ImageURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Chit posted successfully",
		"chit_id": formatID(chit.ChitID),
	})
}

func (s *Server) listChitsHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	authorID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	chits, err := s.chitStorage.Get().ListChits(r.Context(), reqID, authorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]chitJSON{"chits": chitViews(chits)})
}

func (s *Server) globalFeedHandler(w http.ResponseWriter, r *http.Request) {
	reqID := rand.Int63()
	cursor, limit := parseFeedParams(r)
	page, err := s.feed.Get().GlobalFeed(r.Context(), reqID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chits":       chitViews(page.Chits),
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) personalFeedHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	viewerID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	cursor, limit := parseFeedParams(r)
	page, err := s.feed.Get().PersonalFeed(r.Context(), reqID, viewerID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed":        chitViews(page.Chits),
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) deleteChitHandler(w http.ResponseWriter, r *http.Request, reqID int64, callerID int64) {
	authorID, err := parsePathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	chitID, err := parsePathID(r, "chitID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.chitStorage.Get().DeleteChit(r.Context(), reqID, authorID, chitID, callerID); err != nil {
		writeOwnershipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chit deleted successfully."})
}
