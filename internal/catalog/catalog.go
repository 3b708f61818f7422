// Package catalog registers every operation Tiwaz exposes. HTTP and MCP
// both dispatch through the registry built here, so an operation behaves
// the same on either surface.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/assistant"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/oauth"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/recordservice"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/store"
)

// Operation domains.
const (
	DomainChat        = "chat"
	DomainProject     = "project"
	DomainIntegration = "integration"
	DomainRecords     = "records"
	DomainWorkspace   = "workspace"
	DomainContext     = "context"
)

// Searcher ranks records of one type.
type Searcher interface {
	Search(ctx context.Context, recordType, query string, limit int) []models.CandidateMatch
}

// Workspace renders external search results and items as text.
type Workspace interface {
	Domains() []models.Domain
	Available(ctx context.Context, user string, d models.Domain) bool
	SearchText(ctx context.Context, user string, d models.Domain, query string) string
	Context(ctx context.Context, user string, d models.Domain, id string) string
}

// OAuth is the account-connection flow.
type OAuth interface {
	AuthURL(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, code, state, providerErr string) (*models.Credential, error)
	Status(ctx context.Context) (oauth.Status, error)
}

// URLFetcher renders web pages and PDFs.
type URLFetcher interface {
	Fetch(ctx context.Context, urls []string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Services are the backends operations dispatch to. A nil Workspace or
// OAuth leaves its operations out.
type Services struct {
	Assistant *assistant.Service
	Records   *recordservice.Service
	Matcher   Searcher
	Workspace Workspace
	OAuth     OAuth
	URLs      URLFetcher
	Embedder  Embedder
	// RecordEvents, when set, is told about records saved or deleted
	// through the catalogue.
	RecordEvents store.EventCallback
}

// New builds the registry.
func New(s Services) *ops.Registry {
	reg := ops.NewRegistry()
	reg.MustRegister(chatOps(s)...)
	reg.MustRegister(projectOps(s)...)
	reg.MustRegister(recordOps(s)...)
	reg.MustRegister(contextOps(s)...)
	if s.OAuth != nil {
		reg.MustRegister(integrationOps(s)...)
	}
	if s.Workspace != nil {
		reg.MustRegister(workspaceOps(s)...)
	}
	return reg
}

// handle decodes and validates the arguments before calling fn.
func handle[Req validation.Validatable](fn func(ctx context.Context, req Req) (any, error)) ops.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var req Req
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, apperr.User("Invalid arguments.", fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
			}
		}
		if err := req.Validate(); err != nil {
			var internal validation.InternalError
			if errors.As(err, &internal) {
				return nil, err
			}
			return nil, apperr.User(err.Error(), apperr.ErrInvalidInput)
		}
		return fn(ctx, req)
	}
}

type noArgs struct{}

func (noArgs) Validate() error { return nil }

func currentUser(ctx context.Context) string { return identity.User(ctx) }

func (s Services) recordEvent(kind, recordType, name string) {
	if s.RecordEvents != nil {
		s.RecordEvents(kind, recordType, name)
	}
}

func lookupType(reg *recordtype.Registry, name string) (models.RecordType, error) {
	rt, ok := reg.Lookup(name)
	if !ok {
		return models.RecordType{}, apperr.User(fmt.Sprintf("Unknown record type %q.", name), apperr.ErrInvalidInput)
	}
	return rt, nil
}
