package store

import (
	"context"

	"github.com/starford/tiwaz/internal/models"
)

// RecordIndex is the record half of the store.
type RecordIndex interface {
	UpsertRecord(ctx context.Context, rec models.Record, path string) error
	DeleteRecordByPath(ctx context.Context, path string) (models.Record, error)
	GetRecord(ctx context.Context, recordType, name string) (*models.Record, error)
	ListRecords(ctx context.Context, recordType string) ([]models.Record, error)
	RecordExists(ctx context.Context, recordType, name string) (bool, error)
	RecordNames(ctx context.Context, recordType string) ([]string, error)
	AllChecksums(ctx context.Context) (map[string]string, error)
}

// ConversationStore persists chat threads.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	AppendTurns(ctx context.Context, id, owner string, turns ...models.Turn) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.ConversationSummary, error)
}

// CredentialStore persists one external credential per user.
type CredentialStore interface {
	SaveCredential(ctx context.Context, c models.Credential) error
	GetCredential(ctx context.Context, user string) (*models.Credential, error)
}

// FeedbackStore records helpfulness votes.
type FeedbackStore interface {
	AddFeedback(ctx context.Context, f models.Feedback) error
	FeedbackTally(ctx context.Context, recordType, name string) (int, error)
}

// Verify *DB satisfies every store interface at compile time.
var (
	_ RecordIndex       = (*DB)(nil)
	_ ConversationStore = (*DB)(nil)
	_ CredentialStore   = (*DB)(nil)
	_ FeedbackStore     = (*DB)(nil)
)
