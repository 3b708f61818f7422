// Package assistant is the chat orchestrator. It resolves the references of
// a prompt into context, asks for clarification when they are ambiguous,
// calls text generation and keeps the conversation.
package assistant

import (
	"context"
	"log/slog"

	"github.com/starford/tiwaz/internal/clarify"
	"github.com/starford/tiwaz/internal/generation"
	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/workspace"
)

// TitleChars bounds a conversation title derived from its first prompt.
const TitleChars = 140

// Conversations persists chat threads and search feedback.
type Conversations interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	AppendTurns(ctx context.Context, id, owner string, turns ...models.Turn) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.ConversationSummary, error)
	AddFeedback(ctx context.Context, f models.Feedback) error
}

// Records is the record store as the assistant sees it.
type Records interface {
	Get(ctx context.Context, recordType, id string) (*models.Record, error)
	Exists(ctx context.Context, recordType, id string) (bool, error)
	Context(ctx context.Context, recordType, id string) string
	FormLink(recordType, id string) string
}

// Searcher ranks records of one type against a query.
type Searcher interface {
	Search(ctx context.Context, recordType, query string, limit int) []models.CandidateMatch
}

// Generator produces text.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts generation.Options) (string, error)
	Model(explicit string) string
}

// URLFetcher renders the content of web pages and PDFs.
type URLFetcher interface {
	Fetch(ctx context.Context, urls []string) (string, error)
}

// Workspace searches and reads the user's external services.
type Workspace interface {
	SearchDomains(ctx context.Context, user string, queries map[models.Domain]string, limit int) map[models.Domain]workspace.Result
	Context(ctx context.Context, user string, d models.Domain, id string) string
	SearchText(ctx context.Context, user string, d models.Domain, query string) string
	ResolveContact(ctx context.Context, user, name string) (workspace.ContactResult, error)
}

// Events is notified when a conversation changes.
type Events interface {
	ConversationUpdated(owner, id string)
}

// Config tunes context assembly.
type Config struct {
	SystemInstruction     string
	MatchThreshold        float64
	DoctypeMatchThreshold int
	MaxContextChars       int
}

// Deps are the collaborators of a Service. Events may be nil.
type Deps struct {
	Conversations Conversations
	Records       Records
	Types         *recordtype.Registry
	Prefixes      *recordtype.PrefixResolver
	Matcher       Searcher
	Generator     Generator
	URLs          URLFetcher
	Workspace     Workspace
	Clarifier     *clarify.Engine
	Events        Events
}

// Service runs chat turns.
type Service struct {
	Deps
	cfg Config
}

// New creates a Service.
func New(deps Deps, cfg Config) *Service {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 30000
	}
	if deps.Clarifier == nil {
		deps.Clarifier = clarify.New(clarify.DefaultThreshold)
	}
	return &Service{Deps: deps, cfg: cfg}
}

func (s *Service) notify(owner, id string) {
	if s.Events != nil {
		s.Events.ConversationUpdated(owner, id)
	}
}

func logError(ctx context.Context, msg string, err error, attrs ...any) {
	slog.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}
