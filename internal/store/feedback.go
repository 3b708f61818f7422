package store

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/tiwaz/internal/models"
)

// AddFeedback stores one helpfulness vote.
func (db *DB) AddFeedback(ctx context.Context, f models.Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	helpful := 0
	if f.Helpful {
		helpful = 1
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO search_feedback (search_query, record_type, record_name, is_helpful, user, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.SearchQuery, f.RecordType, f.RecordName, helpful, f.User, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: add feedback: %w", err)
	}
	return nil
}

// FeedbackTally returns helpful minus not-helpful votes for one record.
func (db *DB) FeedbackTally(ctx context.Context, recordType, name string) (int, error) {
	var tally int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN is_helpful = 1 THEN 1 ELSE -1 END), 0)
		FROM search_feedback WHERE record_type = ? AND record_name = ?`,
		recordType, name).Scan(&tally)
	if err != nil {
		return 0, fmt.Errorf("store: feedback tally %s/%s: %w", recordType, name, err)
	}
	return tally, nil
}
