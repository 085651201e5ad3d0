package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"chitter/pkg/errs"
	"chitter/pkg/model"
)

// Response shapes mirror the original client contract: ids travel as opaque
// decimal strings, field names match what the mobile client already parses.

type userJSON struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type profileJSON struct {
	UID            string `json:"uid"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type locationJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type chitJSON struct {
	ChitID    string        `json:"chit_id"`
	UserID    string        `json:"user_id"`
	Content   string        `json:"chit_content"`
	Timestamp int64         `json:"timestamp"`
	Location  *locationJSON `json:"location,omitempty"`
	ImageURL  string        `json:"imageURL,omitempty"`
	Place     string        `json:"place,omitempty"`
}

type errorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func userView(u model.User) userJSON {
	return userJSON{
		UserID:    formatID(u.UserID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
}

func profileView(u model.User) profileJSON {
	return profileJSON{
		UID:            formatID(u.UserID),
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		ProfilePicture: u.ProfileImage,
		CreatedAt:      time.Unix(u.CreatedAt, 0).UTC().Format(time.RFC3339),
	}
}

func chitView(c model.Chit) chitJSON {
	view := chitJSON{
		ChitID:    formatID(c.ChitID),
		UserID:    formatID(c.AuthorID),
		Content:   c.Content,
		Timestamp: c.CreatedAt,
		ImageURL:  c.ImageRef,
		Place:     c.Place,
	}
	if c.Location != nil {
		view.Location = &locationJSON{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
	}
	return view
}

func chitViews(chits []model.Chit) []chitJSON {
	views := make([]chitJSON, 0, len(chits))
	for _, c := range chits {
		views = append(views, chitView(c))
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeErrorStatus(w, statusForKind(kind), kind, err.Error())
}

func writeErrorStatus(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	if kind == "" {
		kind = "internal"
	}
	writeJSON(w, status, map[string]errorJSON{
		"error": {Kind: string(kind), Message: message},
	})
}
