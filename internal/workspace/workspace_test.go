package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCreds map[string]*models.Credential

func (f fakeCreds) GetCredential(_ context.Context, user string) (*models.Credential, error) {
	if c, ok := f[user]; ok {
		return c, nil
	}
	return nil, apperr.ErrNotFound
}

type fakeAdapter struct {
	domain    models.Domain
	needsCred bool
	items     []Item
	searchErr error
	doc       Document
	fetchErr  error

	mu    sync.Mutex
	creds []*models.Credential
}

func (f *fakeAdapter) Domain() models.Domain { return f.domain }
func (f *fakeAdapter) Kind() string          { return "Fake Item" }
func (f *fakeAdapter) NeedsCredential() bool { return f.needsCred }

func (f *fakeAdapter) Search(_ context.Context, cred *models.Credential, _ string, limit int) ([]Item, error) {
	f.mu.Lock()
	f.creds = append(f.creds, cred)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeAdapter) Fetch(context.Context, *models.Credential, string) (Document, error) {
	return f.doc, f.fetchErr
}

func TestDocumentFormat(t *testing.T) {
	doc := Document{
		Kind:    "Google Drive File",
		Title:   "Plan",
		Link:    "https://drive/x",
		Meta:    []Meta{{"Owner", "Ann"}, {"Empty", ""}},
		Content: strings.Repeat("a", SnippetChars+50),
	}
	got := doc.Format()
	wantPrefix := "Context for Google Drive File: Plan\n- Link: https://drive/x\n- Owner: Ann\nContent Snippet:\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("format = %q", got[:len(wantPrefix)])
	}
	if n := len(strings.TrimPrefix(got, wantPrefix)); n != SnippetChars {
		t.Errorf("snippet length = %d, want %d", n, SnippetChars)
	}
	if strings.Contains(got, "Empty") {
		t.Error("empty meta line rendered")
	}

	bare := Document{Kind: "Gmail Message"}.Format()
	if !strings.HasPrefix(bare, "Context for Gmail Message: Untitled\n- Link: Link not available\n") {
		t.Errorf("bare format = %q", bare)
	}
}

func TestClassifyBelowThresholdGivesSuggestions(t *testing.T) {
	res := Classify([]Contact{
		{Name: "John Smith", Email: "js@example.com", Score: 0.9},
		{Name: "John Doe", Email: "jd@example.com", Score: 0.9},
	}, 0.95)
	if res.BestMatch != nil {
		t.Fatalf("unexpected best match %+v", res.BestMatch)
	}
	if len(res.Suggestions) != 2 || res.Suggestions[0].Name != "John Smith" {
		t.Errorf("suggestions = %+v", res.Suggestions)
	}
}

func TestClassifyPromotesConfidentMatch(t *testing.T) {
	res := Classify([]Contact{
		{Name: "Low", Score: 0.4},
		{Name: "High", Score: 0.96},
	}, 0.95)
	if res.BestMatch == nil || res.BestMatch.Name != "High" {
		t.Fatalf("best match = %+v", res.BestMatch)
	}
	if len(res.Suggestions) != 0 {
		t.Errorf("suggestions = %+v", res.Suggestions)
	}
	if empty := Classify(nil, 0.95); empty.BestMatch != nil || len(empty.Suggestions) != 0 {
		t.Errorf("empty classify = %+v", empty)
	}
}

func TestContactScoreBoostIsCapped(t *testing.T) {
	if got := ContactScore("Jon Smith", "Joan Smith", false); got != 0.9 {
		t.Errorf("score = %v, want 0.9", got)
	}
	if got := ContactScore("Jon Smith", "Joan Smith", true); got != 1 {
		t.Errorf("boosted score = %v, want 1", got)
	}
}

func TestDescribeError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{apperr.ErrNotFound, "(System: A 404 Not Found error occurred for Gmail Message m1."},
		{apperr.ErrCredentialPermission, "(System: Access to Gmail Message m1 was denied"},
		{apperr.ErrAuthorization, NoCredentialMessage},
		{errors.New("boom"), "(System: Could not retrieve context for Gmail Message m1.)"},
	}
	for _, tc := range cases {
		if got := DescribeError("Gmail Message", "m1", tc.err); !strings.HasPrefix(got, tc.want) {
			t.Errorf("DescribeError(%v) = %q, want prefix %q", tc.err, got, tc.want)
		}
	}
}

func TestClassifyGoogleErrors(t *testing.T) {
	cases := map[int]error{
		404: apperr.ErrNotFound,
		403: apperr.ErrCredentialPermission,
		401: apperr.ErrAuthorization,
		503: apperr.ErrTransientProvider,
	}
	for code, want := range cases {
		err := classify(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: code}))
		if !errors.Is(err, want) {
			t.Errorf("classify(%d) = %v, want %v", code, err, want)
		}
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(models.DomainDocuments, nil); got != "No files found in Google Drive matching your query." {
		t.Errorf("empty drive = %q", got)
	}
	got := FormatResults(models.DomainMail, []Item{{Label: "Invoice", Detail: "Please pay"}})
	if got != "Recent emails matching your query:\n- Subject: Invoice\n  Snippet: Please pay\n" {
		t.Errorf("mail = %q", got)
	}
}

func TestServiceSearchWithoutCredential(t *testing.T) {
	drive := &fakeAdapter{domain: models.DomainDocuments, needsCred: true, items: []Item{{ID: "1"}}}
	s := NewService(fakeCreds{}, 0.95, quietLogger(), drive)

	_, err := s.Search(context.Background(), "bob", models.DomainDocuments, "plan", 5)
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("err = %v, want ErrAuthorization", err)
	}
	if got := s.SearchText(context.Background(), "bob", models.DomainDocuments, "plan"); got != NoCredentialMessage {
		t.Errorf("SearchText = %q", got)
	}
	if s.Available(context.Background(), "bob", models.DomainDocuments) {
		t.Error("domain reported available without credential")
	}
}

func TestServiceSearchPassesCredential(t *testing.T) {
	cred := &models.Credential{User: "alice", AccessToken: "tok"}
	drive := &fakeAdapter{domain: models.DomainDocuments, needsCred: true, items: []Item{{ID: "1"}, {ID: "2"}}}
	imapLike := &fakeAdapter{domain: models.DomainMail, items: []Item{{ID: "9"}}}
	s := NewService(fakeCreds{"alice": cred}, 0.95, quietLogger(), drive, imapLike)

	items, err := s.Search(context.Background(), "alice", models.DomainDocuments, "plan", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("limit not applied: %+v", items)
	}
	if drive.creds[0] != cred {
		t.Errorf("adapter got credential %+v", drive.creds[0])
	}

	res := s.SearchDomains(context.Background(), "bob", map[models.Domain]string{
		models.DomainDocuments: "plan",
		models.DomainMail:      "",
	}, 5)
	if !errors.Is(res[models.DomainDocuments].Err, apperr.ErrAuthorization) {
		t.Errorf("documents err = %v", res[models.DomainDocuments].Err)
	}
	if len(res[models.DomainMail].Items) != 1 || res[models.DomainMail].Err != nil {
		t.Errorf("mail result = %+v", res[models.DomainMail])
	}
	if imapLike.creds[0] != nil {
		t.Error("credential passed to adapter that does not need one")
	}
}

func TestServiceContextDegradesToText(t *testing.T) {
	cred := &models.Credential{User: "alice"}
	drive := &fakeAdapter{
		domain:    models.DomainDocuments,
		needsCred: true,
		fetchErr:  &googleapi.Error{Code: 404},
	}
	s := NewService(fakeCreds{"alice": cred}, 0.95, quietLogger(), drive)
	got := s.Context(context.Background(), "alice", models.DomainDocuments, "f1")
	if !strings.Contains(got, "404 Not Found error occurred for Fake Item f1") {
		t.Errorf("Context = %q", got)
	}
	if got := s.Context(context.Background(), "alice", models.DomainCalendar, "x"); !strings.Contains(got, "not enabled") {
		t.Errorf("Context for missing adapter = %q", got)
	}
}

func TestServiceDomainsOrder(t *testing.T) {
	s := NewService(nil, 0.95, quietLogger(),
		&fakeAdapter{domain: models.DomainContacts},
		&fakeAdapter{domain: models.DomainDocuments},
	)
	got := s.Domains()
	if len(got) != 2 || got[0] != models.DomainDocuments || got[1] != models.DomainContacts {
		t.Errorf("Domains = %v", got)
	}
}

// gatedAdapter blocks every search until release is closed.
type gatedAdapter struct {
	fakeAdapter
	started chan<- models.Domain
	release <-chan struct{}
}

func (g *gatedAdapter) Search(ctx context.Context, cred *models.Credential, q string, limit int) ([]Item, error) {
	g.started <- g.domain
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeAdapter.Search(ctx, cred, q, limit)
}

func TestSearchDomainsRunsConcurrently(t *testing.T) {
	started := make(chan models.Domain, 2)
	release := make(chan struct{})
	docs := &gatedAdapter{fakeAdapter: fakeAdapter{domain: models.DomainDocuments, items: []Item{{ID: "d1"}}}, started: started, release: release}
	mail := &gatedAdapter{fakeAdapter: fakeAdapter{domain: models.DomainMail, searchErr: errors.New("mailbox offline")}, started: started, release: release}
	s := NewService(fakeCreds{}, 0.95, quietLogger(), docs, mail)

	go func() {
		<-started
		<-started
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := s.SearchDomains(ctx, "alice", map[models.Domain]string{
		models.DomainDocuments: "plan",
		models.DomainMail:      "plan",
	}, 5)

	if got := res[models.DomainDocuments]; got.Err != nil || len(got.Items) != 1 || got.Items[0].ID != "d1" {
		t.Errorf("documents result = %+v", got)
	}
	if err := res[models.DomainMail].Err; err == nil || !strings.Contains(err.Error(), "mailbox offline") {
		t.Errorf("mail err = %v", err)
	}
}
