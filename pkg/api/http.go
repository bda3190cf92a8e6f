package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"convod/pkg/api/handlers"
	"convod/pkg/auth"
)

// Handler builds the versioned API router. Every /v1 route passes
// through signature verification; the gateway middleware wrapping the
// outer server already resolved the caller's API-key role. Side effects
// (fan-out, notifications, search sync) run on outbox workers wired at
// startup, so the router itself carries no collaborator clients.
func Handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterConversations(v1)
	handlers.RegisterMessages(v1)
	handlers.RegisterNotifications(v1)
	handlers.RegisterRegistry(v1)
	v1.Use(mux.MiddlewareFunc(func(next http.Handler) http.Handler {
		return auth.RequireSignedUser(next)
	}))
	return r
}
