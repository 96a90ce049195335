// Package server wires the HTTP routes and runs the listener.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/capability"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/connect"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/permissions"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/server/handlers"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/server/middleware"
)

// Deps are the collaborators the routes close over.
type Deps struct {
	Connect     *connect.Service
	Permissions permissions.Gate
	Tokens      handlers.TokenSource
	Sessions    middleware.SessionVerifier
	Composer    capability.Composer
	Summarizer  capability.Summarizer
	InboxSyncer capability.InboxSyncer
}

// NewRouter builds the full route table.
func NewRouter(d Deps) http.Handler {
	if d.Composer == nil {
		d.Composer = capability.NotConfigured{}
	}
	if d.Summarizer == nil {
		d.Summarizer = capability.NotConfigured{}
	}
	if d.InboxSyncer == nil {
		d.InboxSyncer = capability.NotConfigured{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler())

	// Providers redirect the browser here; the user is identified by state.
	r.Get(connect.CallbackPath, handlers.CallbackHandler(d.Connect))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(d.Sessions))

		r.Route("/oauth", func(r chi.Router) {
			r.Get("/authorize", handlers.AuthorizeHandler(d.Connect))
			r.Post("/disconnect", handlers.DisconnectHandler(d.Connect))
			r.Get("/connections", handlers.ConnectionsHandler(d.Connect))
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", handlers.ListPermissionsHandler(d.Permissions))
			r.Post("/grant", handlers.GrantPermissionHandler(d.Permissions))
			r.Post("/revoke", handlers.RevokePermissionHandler(d.Permissions))
		})

		r.Post("/ai/reply", handlers.ReplyHandler(d.Permissions, d.Composer))
		r.Post("/ai/summarize", handlers.SummarizeHandler(d.Permissions, d.Summarizer))
		r.Post("/inbox/sync", handlers.InboxSyncHandler(d.Permissions, d.Tokens, d.InboxSyncer))
	})

	return r
}
