package http

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
)

// NewRouter mounts the transport surface. When tokenAuth is nil the service
// runs open (local development and tests); otherwise game and admin routes
// require a verified token. The websocket endpoint stays outside the
// authenticator because browser clients cannot set headers on the upgrade
// request; it resolves identity itself via identityFrom.
func NewRouter(ws *WSHandler, rest *RestHandler, tokenAuth *jwtauth.JWTAuth) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", ws.ServeWS)

	// Host start and the vote tally are admin surface; running open skips the
	// role check along with token verification.
	admin := requireAdmin
	if tokenAuth == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}

	mount := func(r chi.Router) {
		r.Post("/games/join", rest.Join)
		r.Get("/games/active", rest.ActiveGame)
		r.Get("/games/{gameID}/waiting", rest.Waiting)
		r.Get("/games/{gameID}/results", rest.Results)
		r.Delete("/games/{gameID}/leave", rest.Leave)

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Post("/games/{gameID}/start", rest.StartGame)
			r.Get("/admin/votes", rest.ListVotes)
			r.Get("/admin/votes/{voteID}/tally", rest.TallyVote)
		})
	}

	if tokenAuth != nil {
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator)
			mount(r)
		})
	} else {
		r.Group(mount)
	}

	return r
}
