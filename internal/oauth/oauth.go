// Package oauth connects a user's Google account: it issues the consent URL,
// completes the code exchange, stores the credential and hands out HTTP
// clients that refresh and persist tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/cache"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/models"
)

// StateTTL bounds how long a consent URL stays usable.
const StateTTL = 600 * time.Second

// Scopes requested on consent. All service scopes are read-only.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/contacts.readonly",
}

// Config holds the OAuth client registration.
type Config struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Store persists credentials.
type Store interface {
	SaveCredential(ctx context.Context, c models.Credential) error
	GetCredential(ctx context.Context, user string) (*models.Credential, error)
}

// Status describes a user's connection.
type Status struct {
	Enabled   bool     `json:"enabled"`
	Connected bool     `json:"connected"`
	Email     string   `json:"email,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Provider runs the authorization-code flow against Google.
type Provider struct {
	enabled bool
	oauth   *oauth2.Config
	store   Store
	// states maps an issued state value to the user who requested it.
	states *cache.Cache[string]
	// userinfoEndpoint replaces the userinfo API base URL when set.
	userinfoEndpoint string
}

// New creates a Provider. states is the shared TTL cache for CSRF state and
// should be created with StateTTL.
func New(cfg Config, store Store, states *cache.Cache[string]) *Provider {
	return &Provider{
		enabled: cfg.Enabled,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		store:  store,
		states: states,
	}
}

// Enabled reports whether the integration is configured.
func (p *Provider) Enabled() bool { return p.enabled }

// AuthURL issues a consent URL for the user in ctx. The state it embeds is
// valid for StateTTL and can be used once.
func (p *Provider) AuthURL(ctx context.Context) (string, error) {
	if !p.enabled {
		return "", apperr.User("Google integration is not enabled.", apperr.ErrConfiguration)
	}
	user := identity.User(ctx)
	if user == "" {
		return "", fmt.Errorf("oauth: auth url: %w: no current user", apperr.ErrAuthorization)
	}
	state := uuid.NewString()
	p.states.Set(state, user)
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// HandleCallback completes the flow for the code Google redirected with.
// providerErr is the "error" query parameter. The returned credential
// belongs to the user who requested the consent URL.
func (p *Provider) HandleCallback(ctx context.Context, code, state, providerErr string) (*models.Credential, error) {
	if providerErr != "" {
		return nil, apperr.User("An error occurred: "+providerErr,
			fmt.Errorf("oauth: provider returned %q: %w", providerErr, apperr.ErrAuthorization))
	}
	user, ok := "", false
	if state != "" {
		user, ok = p.states.Take(state)
	}
	if !ok {
		return nil, apperr.User("State mismatch. Please try again.", apperr.ErrStateMismatch)
	}
	if current := identity.User(ctx); current != "" && current != user {
		return nil, apperr.User("State mismatch. Please try again.", apperr.ErrStateMismatch)
	}
	if code == "" {
		return nil, apperr.User("Missing authorization code.", apperr.ErrInvalidInput)
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", classify(err))
	}
	email, err := p.email(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("oauth: userinfo: %w", classify(err))
	}

	cred := models.Credential{
		User:         user,
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       grantedScopes(tok),
	}
	if err := p.store.SaveCredential(ctx, cred); err != nil {
		return nil, apperr.User("An unexpected error occurred while saving your credentials.", err)
	}
	slog.InfoContext(ctx, "google account connected",
		slog.String("user", user),
		slog.String("email", email))
	return &cred, nil
}

func (p *Provider) email(ctx context.Context, tok *oauth2.Token) (string, error) {
	opts := []option.ClientOption{option.WithTokenSource(p.oauth.TokenSource(ctx, tok))}
	if p.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.userinfoEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return info.Email, nil
}

func grantedScopes(tok *oauth2.Token) []string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return models.ParseScopes(s)
	}
	return append([]string(nil), Scopes...)
}

// Status reports whether the user in ctx has connected an account.
func (p *Provider) Status(ctx context.Context) (Status, error) {
	st := Status{Enabled: p.enabled}
	cred, err := p.store.GetCredential(ctx, identity.User(ctx))
	if errors.Is(err, apperr.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Connected = true
	st.Email = cred.Email
	st.Scopes = cred.Scopes
	return st, nil
}

// HTTPClient returns a client authorized as cred. Tokens refreshed by the
// client are written back to the store.
func (p *Provider) HTTPClient(ctx context.Context, cred *models.Credential) (*http.Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("oauth: %w: missing credential", apperr.ErrAuthorization)
	}
	if cred.RefreshToken == "" && cred.AccessToken == "" {
		return nil, fmt.Errorf("oauth: %w: credential for %s holds no token", apperr.ErrAuthorization, cred.User)
	}
	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	src := &persistingSource{
		ctx:   context.WithoutCancel(ctx),
		base:  p.oauth.TokenSource(ctx, tok),
		store: p.store,
		cred:  *cred,
		last:  cred.AccessToken,
	}
	return oauth2.NewClient(ctx, src), nil
}

// persistingSource saves every token that differs from the last one seen.
type persistingSource struct {
	ctx   context.Context
	base  oauth2.TokenSource
	store Store

	mu   sync.Mutex
	cred models.Credential
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, classify(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken
	s.cred.AccessToken = tok.AccessToken
	s.cred.TokenType = tok.TokenType
	s.cred.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		s.cred.RefreshToken = tok.RefreshToken
	}
	if err := s.store.SaveCredential(s.ctx, s.cred); err != nil {
		slog.WarnContext(s.ctx, "persist refreshed token failed",
			slog.String("user", s.cred.User),
			slog.String("error", err.Error()))
	}
	return tok, nil
}

func classify(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", apperr.ErrAuthorization, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransientProvider, err)
}
