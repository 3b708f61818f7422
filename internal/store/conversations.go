package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// CreateConversation inserts a new conversation. The id must be unused.
func (db *DB) CreateConversation(ctx context.Context, c *models.Conversation) error {
	turns := c.Turns
	if turns == nil {
		turns = []models.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("store: encode turns: %w", err)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO conversations (id, title, owner, turns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Owner, string(turnsJSON), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("store: conversation %s: %w", c.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// AppendTurns appends turns to a conversation owned by owner in one
// transaction and returns the updated conversation.
func (db *DB) AppendTurns(ctx context.Context, id, owner string, turns ...models.Turn) (*models.Conversation, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	c, err := scanConversation(tx.QueryRowContext(ctx, conversationSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: conversation %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load conversation %s: %w", id, err)
	}
	if c.Owner != owner {
		return nil, fmt.Errorf("store: conversation %s: %w", id, apperr.ErrForbidden)
	}

	c.Turns = append(c.Turns, turns...)
	c.UpdatedAt = time.Now().UTC()
	turnsJSON, err := json.Marshal(c.Turns)
	if err != nil {
		return nil, fmt.Errorf("store: encode turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET turns = ?, updated_at = ? WHERE id = ?`,
		string(turnsJSON), c.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("store: update conversation %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return c, nil
}

// GetConversation returns one conversation or apperr.ErrNotFound.
func (db *DB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(db.conn.QueryRowContext(ctx, conversationSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: conversation %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %s: %w", id, err)
	}
	return c, nil
}

// ListConversations returns owner's conversations, most recently updated first.
func (db *DB) ListConversations(ctx context.Context, owner string) ([]models.ConversationSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, updated_at FROM conversations
		WHERE owner = ? ORDER BY updated_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	out := []models.ConversationSummary{}
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const conversationSelect = `SELECT id, title, owner, turns, created_at, updated_at FROM conversations`

func scanConversation(s scanner) (*models.Conversation, error) {
	var (
		c     models.Conversation
		turns string
	)
	if err := s.Scan(&c.ID, &c.Title, &c.Owner, &turns, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(turns), &c.Turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	return &c, nil
}
