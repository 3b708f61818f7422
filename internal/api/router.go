package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tiwaz/internal/ops"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; users maps
// tokens to user names and defaultUser is the identity when auth is off.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(p *ops.Pipeline, authEnabled bool, users map[string]string, defaultUser string, sseHandler http.Handler) chi.Router {
	h := NewHandler(p)
	reg := p.Registry()
	has := func(name string) bool {
		_, ok := reg.Lookup(name)
		return ok
	}

	r := chi.NewRouter()

	// The provider redirect carries no bearer token.
	if has("handleOAuthCallback") {
		r.Get("/integrations/google/callback", h.OAuthCallback)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, users, defaultUser))

		// Generic operation access.
		r.Get("/ops", h.ListOperations)
		r.Post("/ops/{name}", h.InvokeOperation)

		// Chat.
		r.Post("/chat", h.Chat)
		r.Post("/generate", h.GenerateText)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Post("/feedback", h.RecordFeedback)
		r.Get("/projects/{id}/tasks", h.ProjectTasks)
		r.Get("/projects/{id}/risks", h.ProjectRisks)

		// Records.
		r.Get("/types", h.ListTypes)
		r.Get("/records/{type}", h.ListRecords)
		r.Get("/records/{type}/search", h.SearchRecords)
		r.Get("/records/{type}/{id}", h.GetRecord)
		r.Put("/records/{type}/{id}", h.SaveRecord)
		r.Delete("/records/{type}/{id}", h.DeleteRecord)
		r.Get("/records/{type}/{id}/context", h.RecordContext)

		// Google integration and workspace.
		if has("getAuthUrl") {
			r.Get("/integrations/google/status", h.IntegrationStatus)
			r.Get("/integrations/google/auth-url", h.AuthURL)
		}
		if has("fetchWorkspaceContext") {
			r.Get("/workspace/domains", h.WorkspaceDomains)
			r.Get("/workspace/{domain}/search", h.SearchWorkspace)
			r.Get("/workspace/{domain}/items/{id}", h.WorkspaceItem)
		}

		// External context.
		if has("fetchURLContext") {
			r.Post("/context/urls", h.URLContext)
		}
		if has("embedText") {
			r.Post("/context/embed", h.Embed)
		}

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
