package api

import (
	"context"
	"math/rand"
	"net/http"

	"chitter/pkg/errs"
	"chitter/pkg/services"

	"github.com/ServiceWeaver/weaver"
)

// authHeader carries the session token, matching the client contract.
const authHeader = "X-Authorization"

type Server struct {
	weaver.Implements[weaver.Main]
	identity    weaver.Ref[services.IdentityService]
	socialGraph weaver.Ref[services.SocialGraphService]
	chitStorage weaver.Ref[services.ChitStorageService]
	feed        weaver.Ref[services.FeedService]
	search      weaver.Ref[services.SearchService]
	fanout      weaver.Ref[services.HomeTimelineFanout]
	lis         weaver.Listener `weaver:"chitter"`
}

func Serve(ctx context.Context, s *Server) error {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", instrument("health", s.healthHandler))
	mux.Handle("GET /api/chits", instrument("global_feed", s.globalFeedHandler))
	mux.Handle("POST /api/auth/signup", instrument("signup", s.signupHandler))
	mux.Handle("POST /api/auth/login", instrument("login", s.loginHandler))
	mux.Handle("GET /api/user/{id}", instrument("get_profile", s.profileHandler))
	mux.Handle("POST /api/user/{id}/photo", instrument("set_photo", s.authed(s.photoHandler)))
	mux.Handle("GET /api/users/search", instrument("search_users", s.authed(s.searchHandler)))
	mux.Handle("POST /api/user/{id}/follow", instrument("follow", s.authed(s.followHandler)))
	mux.Handle("DELETE /api/user/{id}/follow", instrument("unfollow", s.authed(s.unfollowHandler)))
	mux.Handle("GET /api/user/{id}/followers", instrument("get_followers", s.authed(s.followersHandler)))
	mux.Handle("GET /api/user/{id}/following", instrument("get_following", s.authed(s.followingHandler)))
	mux.Handle("POST /api/user/{id}/chits", instrument("post_chit", s.authed(s.postChitHandler)))
	mux.Handle("GET /api/user/{id}/chits", instrument("list_chits", s.authed(s.listChitsHandler)))
	mux.Handle("GET /api/user/{id}/feed", instrument("personal_feed", s.authed(s.personalFeedHandler)))
	mux.Handle("DELETE /api/user/{id}/chits/{chitID}", instrument("delete_chit", s.authed(s.deleteChitHandler)))
	var handler http.Handler = mux
	s.Logger(ctx).Info("chitter api available", "addr", s.lis)
	return http.Serve(s.lis, handler)
}

func instrument(label string, fn func(http.ResponseWriter, *http.Request)) http.Handler {
	return weaver.InstrumentHandlerFunc(label, fn)
}

// authed verifies the session token before any handler logic runs and hands
// the handler the authenticated caller id.
func (s *Server) authed(fn func(http.ResponseWriter, *http.Request, int64, int64)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := rand.Int63()
		token := r.Header.Get(authHeader)
		if token == "" {
			writeError(w, errs.New(errs.Unauthorized, "access denied: no token provided"))
			return
		}
		callerID, err := s.identity.Get().VerifyToken(r.Context(), reqID, token)
		if err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, reqID, callerID)
	}
}
