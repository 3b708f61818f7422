package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/cache"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	creds map[string]models.Credential
	saves int
}

func newMemStore() *memStore { return &memStore{creds: map[string]models.Credential{}} }

func (m *memStore) SaveCredential(_ context.Context, c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.RefreshToken == "" {
		c.RefreshToken = m.creds[c.User].RefreshToken
	}
	m.creds[c.User] = c
	m.saves++
	return nil
}

func (m *memStore) GetCredential(_ context.Context, user string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[user]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &c, nil
}

// fakeGoogle serves the token, userinfo and a protected resource endpoint.
func fakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = r.ParseForm()
			resp := map[string]any{"token_type": "Bearer", "expires_in": 3600}
			switch r.Form.Get("grant_type") {
			case "authorization_code":
				if r.Form.Get("code") != "good-code" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
					return
				}
				resp["access_token"] = "at-1"
				resp["refresh_token"] = "rt-1"
				resp["scope"] = "openid https://www.googleapis.com/auth/drive.readonly"
			case "refresh_token":
				resp["access_token"] = "at-refreshed"
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/oauth2/v2/userinfo":
			_, _ = w.Write([]byte(`{"email":"alice@example.com"}`))
		case "/resource":
			_, _ = w.Write([]byte(`{"auth":"` + r.Header.Get("Authorization") + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func testProvider(t *testing.T, srv *httptest.Server, store Store) *Provider {
	t.Helper()
	p := New(Config{Enabled: true, ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb"},
		store, cache.New[string](StateTTL))
	p.oauth.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
	p.userinfoEndpoint = srv.URL + "/"
	return p
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Errorf("auth url params = %v", q)
	}
	if !strings.Contains(q.Get("scope"), "gmail.readonly") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	return q.Get("state")
}

func TestAuthURLDisabled(t *testing.T) {
	p := New(Config{}, newMemStore(), cache.New[string](StateTTL))
	_, err := p.AuthURL(identity.WithUser(context.Background(), "alice"))
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestCallbackFlow(t *testing.T) {
	srv := fakeGoogle(t)
	defer srv.Close()
	store := newMemStore()
	p := testProvider(t, srv, store)
	ctx := identity.WithUser(context.Background(), "alice")

	authURL, err := p.AuthURL(ctx)
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	state := stateOf(t, authURL)

	cred, err := p.HandleCallback(context.Background(), "good-code", state, "")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if cred.User != "alice" || cred.Email != "alice@example.com" || cred.RefreshToken != "rt-1" {
		t.Errorf("credential = %+v", cred)
	}
	stored, err := store.GetCredential(ctx, "alice")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if stored.ScopeString() != "openid https://www.googleapis.com/auth/drive.readonly" {
		t.Errorf("scopes = %q", stored.ScopeString())
	}

	_, err = p.HandleCallback(context.Background(), "good-code", state, "")
	if !errors.Is(err, apperr.ErrStateMismatch) {
		t.Errorf("reused state: err = %v, want ErrStateMismatch", err)
	}

	st, err := p.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Connected || st.Email != "alice@example.com" {
		t.Errorf("status = %+v", st)
	}
}

func TestCallbackProviderError(t *testing.T) {
	p := New(Config{Enabled: true}, newMemStore(), cache.New[string](StateTTL))
	_, err := p.HandleCallback(context.Background(), "", "", "access_denied")
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("err = %v, want ErrAuthorization", err)
	}
	if got := apperr.Public(err); got != "An error occurred: access_denied" {
		t.Errorf("public message = %q", got)
	}
}

func TestCallbackStateChecks(t *testing.T) {
	srv := fakeGoogle(t)
	defer srv.Close()
	p := testProvider(t, srv, newMemStore())

	if _, err := p.HandleCallback(context.Background(), "good-code", "", ""); !errors.Is(err, apperr.ErrStateMismatch) {
		t.Errorf("missing state: err = %v", err)
	}
	if _, err := p.HandleCallback(context.Background(), "good-code", "forged", ""); !errors.Is(err, apperr.ErrStateMismatch) {
		t.Errorf("unknown state: err = %v", err)
	}

	authURL, _ := p.AuthURL(identity.WithUser(context.Background(), "alice"))
	state := stateOf(t, authURL)
	_, err := p.HandleCallback(identity.WithUser(context.Background(), "mallory"), "good-code", state, "")
	if !errors.Is(err, apperr.ErrStateMismatch) {
		t.Errorf("other user: err = %v", err)
	}
}

func TestCallbackBadCode(t *testing.T) {
	srv := fakeGoogle(t)
	defer srv.Close()
	p := testProvider(t, srv, newMemStore())
	authURL, _ := p.AuthURL(identity.WithUser(context.Background(), "alice"))

	_, err := p.HandleCallback(context.Background(), "bad-code", stateOf(t, authURL), "")
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("err = %v, want ErrAuthorization", err)
	}
}

func TestHTTPClientPersistsRefreshedToken(t *testing.T) {
	srv := fakeGoogle(t)
	defer srv.Close()
	store := newMemStore()
	p := testProvider(t, srv, store)
	cred := models.Credential{
		User:         "alice",
		Email:        "alice@example.com",
		AccessToken:  "expired",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}
	_ = store.SaveCredential(context.Background(), cred)

	client, err := p.HTTPClient(context.Background(), &cred)
	if err != nil {
		t.Fatalf("HTTPClient: %v", err)
	}
	resp, err := client.Get(srv.URL + "/resource")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	var body struct{ Auth string }
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Auth != "Bearer at-refreshed" {
		t.Errorf("authorization = %q", body.Auth)
	}

	stored, _ := store.GetCredential(context.Background(), "alice")
	if stored.AccessToken != "at-refreshed" || stored.RefreshToken != "rt-1" {
		t.Errorf("stored credential = %+v", stored)
	}
}

func TestHTTPClientWithoutCredential(t *testing.T) {
	p := New(Config{Enabled: true}, newMemStore(), cache.New[string](StateTTL))
	if _, err := p.HTTPClient(context.Background(), nil); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("err = %v, want ErrAuthorization", err)
	}
}
