package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"google.golang.org/api/people/v1"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/textmatch"
)

// CorrespondenceBoost multiplies the confidence of contacts the user has
// exchanged mail with.
const CorrespondenceBoost = 1.2

const contactPageSize = 5

// Contact is a scored contact candidate. Score is in [0, 1].
type Contact struct {
	ResourceName string  `json:"resource_name"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PhotoURL     string  `json:"photo_url,omitempty"`
	Score        float64 `json:"score"`
}

// ContactResult holds either one confident match or a ranked list of
// suggestions.
type ContactResult struct {
	BestMatch   *Contact  `json:"best_match,omitempty"`
	Suggestions []Contact `json:"suggestions,omitempty"`
}

// Classify sorts candidates by score and promotes the top one to BestMatch
// when it reaches threshold.
func Classify(candidates []Contact, threshold float64) ContactResult {
	sorted := make([]Contact, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > 0 && sorted[0].Score >= threshold {
		best := sorted[0]
		return ContactResult{BestMatch: &best}
	}
	return ContactResult{Suggestions: sorted}
}

// ContactScore is the name similarity on a 0-1 scale, boosted for known
// correspondents and capped at 1.
func ContactScore(query, displayName string, corresponded bool) float64 {
	s := float64(textmatch.TokenSetRatio(query, displayName)) / 100
	if corresponded {
		s *= CorrespondenceBoost
	}
	return math.Min(s, 1)
}

// Contacts searches Google Contacts.
type Contacts struct {
	google
	mail Correspondent
}

// NewContacts creates a Contacts adapter. mail, when set, is used to boost
// contacts the user has corresponded with.
func NewContacts(client HTTPClientFunc, mail Correspondent) *Contacts {
	return &Contacts{google: google{client: client}, mail: mail}
}

func (c *Contacts) Domain() models.Domain { return models.DomainContacts }
func (c *Contacts) Kind() string          { return "Google Contact" }
func (c *Contacts) NeedsCredential() bool { return true }

func (c *Contacts) service(ctx context.Context, cred *models.Credential) (*people.Service, error) {
	opts, err := c.options(ctx, cred)
	if err != nil {
		return nil, err
	}
	return people.NewService(ctx, opts...)
}

// Find returns scored contacts for name, highest first. Contacts without an
// email address are dropped.
func (c *Contacts) Find(ctx context.Context, cred *models.Credential, name string) ([]Contact, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}
	res, err := svc.People.SearchContacts().
		Query(name).
		PageSize(contactPageSize).
		ReadMask("names,emailAddresses,photos").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("workspace: contacts search: %w", err)
	}

	var out []Contact
	for _, r := range res.Results {
		p := r.Person
		if p == nil || len(p.EmailAddresses) == 0 || p.EmailAddresses[0].Value == "" {
			continue
		}
		ct := Contact{ResourceName: p.ResourceName, Name: "N/A", Email: p.EmailAddresses[0].Value}
		if len(p.Names) > 0 && p.Names[0].DisplayName != "" {
			ct.Name = p.Names[0].DisplayName
		}
		if len(p.Photos) > 0 {
			ct.PhotoURL = p.Photos[0].Url
		}
		corresponded := false
		if c.mail != nil {
			ok, err := c.mail.HasCorrespondence(ctx, cred, ct.Email)
			if err != nil {
				slog.DebugContext(ctx, "correspondence check failed", slog.String("email", ct.Email), slog.String("error", err.Error()))
			}
			corresponded = ok
		}
		ct.Score = ContactScore(name, ct.Name, corresponded)
		out = append(out, ct)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Search returns scored contacts as items.
func (c *Contacts) Search(ctx context.Context, cred *models.Credential, query string, limit int) ([]Item, error) {
	if query == "" {
		return nil, nil
	}
	found, err := c.Find(ctx, cred, query)
	if err != nil {
		return nil, err
	}
	if len(found) > limit {
		found = found[:limit]
	}
	items := make([]Item, 0, len(found))
	for _, ct := range found {
		items = append(items, Item{
			ID:    ct.ResourceName,
			Label: ct.Name + " <" + ct.Email + ">",
			Email: ct.Email,
			Score: ct.Score,
		})
	}
	return items, nil
}

// Fetch reads one contact by resource name ("people/c123").
func (c *Contacts) Fetch(ctx context.Context, cred *models.Credential, id string) (Document, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return Document{}, err
	}
	p, err := svc.People.Get(id).
		PersonFields("names,emailAddresses,phoneNumbers,organizations,biographies").
		Context(ctx).
		Do()
	if err != nil {
		return Document{}, fmt.Errorf("workspace: contacts get %s: %w", id, err)
	}
	doc := Document{Kind: c.Kind()}
	if len(p.Names) > 0 {
		doc.Title = p.Names[0].DisplayName
	}
	var emails, phones, orgs []string
	for _, e := range p.EmailAddresses {
		emails = append(emails, e.Value)
	}
	for _, ph := range p.PhoneNumbers {
		phones = append(phones, ph.Value)
	}
	for _, o := range p.Organizations {
		orgs = append(orgs, strings.TrimSpace(o.Title+" "+o.Name))
	}
	doc.Meta = []Meta{
		{"Email", strings.Join(emails, ", ")},
		{"Phone", strings.Join(phones, ", ")},
		{"Organization", strings.Join(orgs, ", ")},
	}
	if len(p.Biographies) > 0 {
		doc.Content = p.Biographies[0].Value
	}
	return doc, nil
}

// ResolveContact finds name among the user's contacts and classifies the
// result against the configured confidence threshold.
func (s *Service) ResolveContact(ctx context.Context, user, name string) (ContactResult, error) {
	if s.contacts == nil {
		return ContactResult{}, nil
	}
	cred, err := s.credential(ctx, user, s.contacts)
	if err != nil {
		return ContactResult{}, err
	}
	found, err := s.contacts.Find(ctx, cred, name)
	if err != nil {
		return ContactResult{}, classify(err)
	}
	return Classify(found, s.contactThreshold), nil
}
