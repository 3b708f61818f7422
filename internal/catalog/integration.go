package catalog

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/ops"
)

// MaxURLs bounds one fetchURLContext call.
const MaxURLs = 10

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
	Error string `json:"error"`
}

// Validate accepts anything: a callback without code or state is rejected
// by the flow itself with the matching error.
func (r callbackRequest) Validate() error { return nil }

type workspaceSearchRequest struct {
	Query string `json:"query"`
}

func (r workspaceSearchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required),
	)
}

type workspaceContextRequest struct {
	Domain models.Domain `json:"domain"`
	ID     string        `json:"id"`
}

func (r workspaceContextRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Domain, validation.Required, validation.In(
			models.DomainDocuments, models.DomainMail, models.DomainCalendar, models.DomainContacts)),
		validation.Field(&r.ID, validation.Required),
	)
}

type urlContextRequest struct {
	URLs []string `json:"urls"`
}

func (r urlContextRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URLs, validation.Required, validation.Length(1, MaxURLs), validation.Each(validation.Required, is.URL)),
	)
}

type embedRequest struct {
	Text string `json:"text"`
}

func (r embedRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
	)
}

func integrationOps(s Services) []ops.Operation {
	return []ops.Operation{
		{
			Name:        "getAuthUrl",
			Domain:      DomainIntegration,
			Description: "Get the Google consent URL that connects the current user's account.",
			Handler: handle(func(ctx context.Context, _ noArgs) (any, error) {
				u, err := s.OAuth.AuthURL(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"url": u}, nil
			}),
		},
		{
			Name:        "handleOAuthCallback",
			Domain:      DomainIntegration,
			Description: "Complete the Google consent flow with the code and state the provider redirected with.",
			Params: []ops.Param{
				{Name: "code", Type: ops.TypeString, Description: "Authorization code"},
				{Name: "state", Type: ops.TypeString, Description: "State issued by getAuthUrl"},
				{Name: "error", Type: ops.TypeString, Description: "Error reported by the provider"},
			},
			Handler: handle(func(ctx context.Context, req callbackRequest) (any, error) {
				cred, err := s.OAuth.HandleCallback(ctx, req.Code, req.State, req.Error)
				if err != nil {
					return nil, err
				}
				return map[string]string{"status": "connected", "email": cred.Email}, nil
			}),
		},
		{
			Name:        "checkIntegrationStatus",
			Domain:      DomainIntegration,
			Description: "Report whether the current user has connected a Google account.",
			Handler: handle(func(ctx context.Context, _ noArgs) (any, error) {
				return s.OAuth.Status(ctx)
			}),
		},
	}
}

// DomainStatus reports whether one external domain can be searched.
type DomainStatus struct {
	Domain    models.Domain `json:"domain"`
	Available bool          `json:"available"`
}

func workspaceOps(s Services) []ops.Operation {
	search := func(name string, d models.Domain, what string) ops.Operation {
		return ops.Operation{
			Name:        name,
			Domain:      DomainWorkspace,
			Description: fmt.Sprintf("Search the current user's %s and list the matches.", what),
			Params: []ops.Param{
				{Name: "query", Type: ops.TypeString, Description: "Search text", Required: true},
			},
			Handler: handle(func(ctx context.Context, req workspaceSearchRequest) (any, error) {
				return s.Workspace.SearchText(ctx, currentUser(ctx), d, req.Query), nil
			}),
		}
	}
	return []ops.Operation{
		search("searchDocuments", models.DomainDocuments, "documents"),
		search("searchMail", models.DomainMail, "mail"),
		search("searchCalendar", models.DomainCalendar, "calendar events"),
		search("searchContacts", models.DomainContacts, "contacts"),
		{
			Name:        "listWorkspaceDomains",
			Domain:      DomainWorkspace,
			Description: "List the external domains this server can search and whether each is usable for the current user.",
			Handler: handle(func(ctx context.Context, _ noArgs) (any, error) {
				out := []DomainStatus{}
				for _, d := range s.Workspace.Domains() {
					out = append(out, DomainStatus{Domain: d, Available: s.Workspace.Available(ctx, currentUser(ctx), d)})
				}
				return out, nil
			}),
		},
		{
			Name:        "fetchWorkspaceContext",
			Domain:      DomainWorkspace,
			Description: "Fetch one document, message, event or contact and render its content.",
			Params: []ops.Param{
				{Name: "domain", Type: ops.TypeString, Description: "documents, mail, calendar or contacts", Required: true},
				{Name: "id", Type: ops.TypeString, Description: "Item id from a search result", Required: true},
			},
			Handler: handle(func(ctx context.Context, req workspaceContextRequest) (any, error) {
				return s.Workspace.Context(ctx, currentUser(ctx), req.Domain, req.ID), nil
			}),
		},
	}
}

func contextOps(s Services) []ops.Operation {
	var out []ops.Operation
	if s.URLs != nil {
		out = append(out, ops.Operation{
			Name:        "fetchURLContext",
			Domain:      DomainContext,
			Description: "Fetch web pages or PDFs and return their text. Blacklisted URLs are skipped with a note.",
			Params: []ops.Param{
				{Name: "urls", Type: ops.TypeArray, Description: "URLs to fetch", Required: true},
			},
			Handler: handle(func(ctx context.Context, req urlContextRequest) (any, error) {
				return s.URLs.Fetch(ctx, req.URLs)
			}),
		})
	}
	if s.Embedder != nil {
		out = append(out, ops.Operation{
			Name:        "embedText",
			Domain:      DomainContext,
			Description: "Compute the embedding vector of a text.",
			Params: []ops.Param{
				{Name: "text", Type: ops.TypeString, Description: "Text to embed", Required: true},
			},
			Handler: handle(func(ctx context.Context, req embedRequest) (any, error) {
				vec, err := s.Embedder.Embed(ctx, strings.TrimSpace(req.Text))
				if err != nil {
					return nil, err
				}
				return map[string]any{"dimensions": len(vec), "embedding": vec}, nil
			}),
		})
	}
	return out
}
