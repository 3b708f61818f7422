// Package workspace searches and reads the user's external services
// (documents, mail, calendar, contacts) behind one adapter interface.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// SnippetChars caps the content included in a fetched item's context.
const SnippetChars = 3000

// DefaultLimit is the number of hits requested when the caller passes none.
const DefaultLimit = 5

// NoCredentialMessage is returned instead of results when the user has not
// connected an account.
const NoCredentialMessage = "Could not get user credentials. Please make sure you have authenticated with Google."

// Item is one search hit.
type Item struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Link   string  `json:"link,omitempty"`
	Detail string  `json:"detail,omitempty"`
	Email  string  `json:"email,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// Candidate converts the hit into a clarification candidate of domain d.
func (i Item) Candidate(d models.Domain) models.CandidateMatch {
	return models.CandidateMatch{Domain: d, ID: i.ID, Label: i.Label, Link: i.Link, Score: i.Score}
}

// Meta is one metadata line of a Document.
type Meta struct {
	Key   string
	Value string
}

// Document is one fetched item ready to be rendered as context.
type Document struct {
	Kind    string
	Title   string
	Link    string
	Meta    []Meta
	Content string
}

// Format renders d in the shared context layout with a bounded snippet.
func (d Document) Format() string {
	title := d.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	link := d.Link
	if link == "" {
		link = "Link not available"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Context for %s: %s\n", d.Kind, title)
	fmt.Fprintf(&b, "- Link: %s\n", link)
	for _, m := range d.Meta {
		if m.Value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Value)
		}
	}
	b.WriteString("Content Snippet:\n")
	b.WriteString(truncate(d.Content, SnippetChars))
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Adapter is implemented once per backing service.
type Adapter interface {
	Domain() models.Domain
	// Kind names the service's items in context text ("Google Drive File").
	Kind() string
	// NeedsCredential is false for adapters configured with their own
	// account, such as IMAP.
	NeedsCredential() bool
	// Search returns up to limit hits. An empty query lists recent items.
	Search(ctx context.Context, cred *models.Credential, query string, limit int) ([]Item, error)
	Fetch(ctx context.Context, cred *models.Credential, id string) (Document, error)
}

// Correspondent reports whether the user exchanged mail with an address.
type Correspondent interface {
	HasCorrespondence(ctx context.Context, cred *models.Credential, email string) (bool, error)
}

// Credentials looks up a user's stored external credential.
type Credentials interface {
	GetCredential(ctx context.Context, user string) (*models.Credential, error)
}

// Service dispatches to the configured adapters and turns their failures
// into descriptive text where callers expect text.
type Service struct {
	creds            Credentials
	adapters         map[models.Domain]Adapter
	contacts         *Contacts
	contactThreshold float64
	logger           *slog.Logger
}

// NewService creates a service over adapters. creds may be nil when no
// adapter needs a credential.
func NewService(creds Credentials, contactThreshold float64, logger *slog.Logger, adapters ...Adapter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		creds:            creds,
		adapters:         make(map[models.Domain]Adapter, len(adapters)),
		contactThreshold: contactThreshold,
		logger:           logger,
	}
	for _, a := range adapters {
		s.adapters[a.Domain()] = a
		if c, ok := a.(*Contacts); ok {
			s.contacts = c
		}
	}
	return s
}

// Domains returns the served domains in presentation order.
func (s *Service) Domains() []models.Domain {
	var out []models.Domain
	for _, d := range models.ExternalDomains {
		if _, ok := s.adapters[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Connected reports whether user has a stored credential.
func (s *Service) Connected(ctx context.Context, user string) bool {
	if s.creds == nil {
		return false
	}
	c, err := s.creds.GetCredential(ctx, user)
	return err == nil && c != nil
}

// Available reports whether searching d for user can work at all.
func (s *Service) Available(ctx context.Context, user string, d models.Domain) bool {
	a, ok := s.adapters[d]
	if !ok {
		return false
	}
	return !a.NeedsCredential() || s.Connected(ctx, user)
}

func (s *Service) credential(ctx context.Context, user string, a Adapter) (*models.Credential, error) {
	if !a.NeedsCredential() {
		return nil, nil
	}
	if s.creds == nil {
		return nil, fmt.Errorf("workspace: %w: no credential store", apperr.ErrAuthorization)
	}
	c, err := s.creds.GetCredential(ctx, user)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("workspace: %w: %s has not connected an account", apperr.ErrAuthorization, user)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Search returns structured hits so callers can tell "no credential" from
// "no matches".
func (s *Service) Search(ctx context.Context, user string, d models.Domain, query string, limit int) ([]Item, error) {
	a, ok := s.adapters[d]
	if !ok {
		return nil, fmt.Errorf("workspace: %w: domain %q is not enabled", apperr.ErrConfiguration, d)
	}
	cred, err := s.credential(ctx, user, a)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	items, err := a.Search(ctx, cred, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, classify(err)
	}
	return items, nil
}

// Result is the outcome of searching one domain.
type Result struct {
	Items []Item
	Err   error
}

// SearchDomains queries several domains concurrently.
func (s *Service) SearchDomains(ctx context.Context, user string, queries map[models.Domain]string, limit int) map[models.Domain]Result {
	out := make(map[models.Domain]Result, len(queries))
	results := make([]Result, len(queries))
	domains := make([]models.Domain, 0, len(queries))
	for d := range queries {
		domains = append(domains, d)
	}

	// A failing domain is reported in its Result and never cancels the others.
	var wg sync.WaitGroup
	for i, d := range domains {
		wg.Go(func() {
			items, err := s.Search(ctx, user, d, queries[d], limit)
			results[i] = Result{Items: items, Err: err}
		})
	}
	wg.Wait()
	for i, d := range domains {
		out[d] = results[i]
	}
	return out
}

// SearchText runs a search and renders the hits, or a description of why
// there are none.
func (s *Service) SearchText(ctx context.Context, user string, d models.Domain, query string) string {
	items, err := s.Search(ctx, user, d, query, DefaultLimit)
	if err != nil {
		return s.describeSearch(ctx, d, query, err)
	}
	return FormatResults(d, items)
}

// Context fetches one item and renders it. Failures become a note.
func (s *Service) Context(ctx context.Context, user string, d models.Domain, id string) string {
	a, ok := s.adapters[d]
	if !ok {
		return fmt.Sprintf("(System: The %s integration is not enabled.)\n", d)
	}
	cred, err := s.credential(ctx, user, a)
	if err != nil {
		return NoCredentialMessage
	}
	doc, err := a.Fetch(ctx, cred, id)
	if err != nil {
		err = classify(err)
		s.logger.WarnContext(ctx, "workspace fetch failed",
			slog.String("domain", string(d)),
			slog.String("id", id),
			slog.String("error", err.Error()))
		return DescribeError(a.Kind(), id, err)
	}
	return doc.Format()
}

func (s *Service) describeSearch(ctx context.Context, d models.Domain, query string, err error) string {
	if errors.Is(err, apperr.ErrAuthorization) {
		return NoCredentialMessage
	}
	s.logger.WarnContext(ctx, "workspace search failed",
		slog.String("domain", string(d)),
		slog.String("query", query),
		slog.String("error", err.Error()))
	if errors.Is(err, apperr.ErrConfiguration) {
		return fmt.Sprintf("(System: The %s integration is not enabled.)\n", d)
	}
	return fmt.Sprintf("An API error occurred during %s search. Please check the error log for details.\n", d)
}

// DescribeError renders a fetch failure as an inline system note.
func DescribeError(kind, id string, err error) string {
	switch {
	case errors.Is(err, apperr.ErrAuthorization):
		return NoCredentialMessage
	case errors.Is(err, apperr.ErrNotFound):
		return fmt.Sprintf("(System: A 404 Not Found error occurred for %s %s. This means the item does not exist or you do not have permission to access it.)\n", kind, id)
	case errors.Is(err, apperr.ErrCredentialPermission):
		return fmt.Sprintf("(System: Access to %s %s was denied by the provider. The granted permissions do not cover this item.)\n", kind, id)
	default:
		return fmt.Sprintf("(System: Could not retrieve context for %s %s.)\n", kind, id)
	}
}

// FormatResults renders search hits of domain d as a bullet list.
func FormatResults(d models.Domain, items []Item) string {
	var b strings.Builder
	switch d {
	case models.DomainDocuments:
		if len(items) == 0 {
			return "No files found in Google Drive matching your query."
		}
		b.WriteString("Recent files from Google Drive matching your query:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- Name: %s, Link: %s\n", it.Label, it.Link)
		}
	case models.DomainMail:
		if len(items) == 0 {
			return "No recent emails found matching your query."
		}
		b.WriteString("Recent emails matching your query:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- Subject: %s\n  Snippet: %s\n", it.Label, it.Detail)
		}
	case models.DomainCalendar:
		if len(items) == 0 {
			return "No upcoming calendar events found in the next 7 days."
		}
		b.WriteString("Upcoming calendar events in the next 7 days:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it.Label)
		}
	case models.DomainContacts:
		if len(items) == 0 {
			return "No contacts found matching your query."
		}
		b.WriteString("Contacts matching your query:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- %s (confidence %.2f)\n", it.Label, it.Score)
		}
	default:
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it.Label)
		}
	}
	return b.String()
}

// classify maps provider errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 404:
			return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
		case gerr.Code == 403:
			return fmt.Errorf("%w: %v", apperr.ErrCredentialPermission, err)
		case gerr.Code == 401:
			return fmt.Errorf("%w: %v", apperr.ErrAuthorization, err)
		case gerr.Code == 429 || gerr.Code >= 500:
			return fmt.Errorf("%w: %v", apperr.ErrTransientProvider, err)
		}
		return err
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", apperr.ErrAuthorization, err)
	}
	return err
}
