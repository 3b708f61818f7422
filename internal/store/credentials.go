package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// SaveCredential creates or replaces the user's credential. An empty
// refresh token keeps the stored one, since providers only return it on the
// first consent.
func (db *DB) SaveCredential(ctx context.Context, c models.Credential) error {
	var expiry any
	if !c.Expiry.IsZero() {
		expiry = c.Expiry.UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO credentials (user, email, access_token, refresh_token, token_type, expiry, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user) DO UPDATE SET
			email         = CASE WHEN excluded.email <> '' THEN excluded.email ELSE credentials.email END,
			access_token  = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token <> '' THEN excluded.refresh_token ELSE credentials.refresh_token END,
			token_type    = excluded.token_type,
			expiry        = excluded.expiry,
			scopes        = CASE WHEN excluded.scopes <> '' THEN excluded.scopes ELSE credentials.scopes END,
			updated_at    = excluded.updated_at
	`, c.User, c.Email, c.AccessToken, c.RefreshToken, c.TokenType, expiry, c.ScopeString(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save credential for %s: %w", c.User, err)
	}
	return nil
}

// GetCredential returns the user's credential or apperr.ErrNotFound.
func (db *DB) GetCredential(ctx context.Context, user string) (*models.Credential, error) {
	var (
		c      models.Credential
		expiry sql.NullTime
		scopes string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT user, email, access_token, refresh_token, token_type, expiry, scopes
		FROM credentials WHERE user = ?`, user).
		Scan(&c.User, &c.Email, &c.AccessToken, &c.RefreshToken, &c.TokenType, &expiry, &scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: credential for %s: %w", user, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get credential for %s: %w", user, err)
	}
	if expiry.Valid {
		c.Expiry = expiry.Time
	}
	c.Scopes = models.ParseScopes(scopes)
	return &c, nil
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
