package workspace

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"

	"github.com/starford/tiwaz/internal/models"
)

// metadataFanout bounds concurrent metadata requests of one search.
const metadataFanout = 5

// Gmail searches and reads the user's Gmail messages.
type Gmail struct {
	google
}

// NewGmail creates a Gmail adapter.
func NewGmail(client HTTPClientFunc) *Gmail {
	return &Gmail{google{client: client}}
}

func (g *Gmail) Domain() models.Domain { return models.DomainMail }
func (g *Gmail) Kind() string          { return "Gmail Message" }
func (g *Gmail) NeedsCredential() bool { return true }

func (g *Gmail) service(ctx context.Context, cred *models.Credential) (*gmail.Service, error) {
	opts, err := g.options(ctx, cred)
	if err != nil {
		return nil, err
	}
	return gmail.NewService(ctx, opts...)
}

// gmailQuery turns free text into a Gmail search. Queries already written
// in Gmail operator syntax ("from:a@b.c") pass through.
func gmailQuery(query string) string {
	switch {
	case query == "":
		return "in:inbox"
	case strings.Contains(query, ":"):
		return query
	default:
		return fmt.Sprintf("%q in:anywhere", query)
	}
}

// Search lists matching messages and fetches their subject lines.
func (g *Gmail) Search(ctx context.Context, cred *models.Credential, query string, limit int) ([]Item, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, err
	}
	res, err := svc.Users.Messages.List("me").Q(gmailQuery(query)).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("workspace: gmail list: %w", err)
	}

	items := make([]Item, len(res.Messages))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(metadataFanout)
	for i, m := range res.Messages {
		eg.Go(func() error {
			msg, err := svc.Users.Messages.Get("me", m.Id).
				Format("metadata").
				MetadataHeaders("Subject", "From").
				Context(ctx).
				Do()
			if err != nil {
				return fmt.Errorf("workspace: gmail get %s: %w", m.Id, err)
			}
			subject := header(msg.Payload, "Subject")
			if subject == "" {
				subject = "No Subject"
			}
			label := subject
			if from := header(msg.Payload, "From"); from != "" {
				label += " (from " + from + ")"
			}
			items[i] = Item{ID: msg.Id, Label: label, Link: threadLink(msg.ThreadId), Detail: msg.Snippet}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// Fetch reads one message in raw form and extracts its text body.
func (g *Gmail) Fetch(ctx context.Context, cred *models.Credential, id string) (Document, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return Document{}, err
	}
	msg, err := svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return Document{}, fmt.Errorf("workspace: gmail get %s: %w", id, err)
	}
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return Document{}, fmt.Errorf("workspace: gmail decode %s: %w", id, err)
	}
	doc := messageDocument(g.Kind(), raw)
	doc.Link = threadLink(msg.ThreadId)
	return doc, nil
}

// HasCorrespondence reports whether any message was exchanged with email.
func (g *Gmail) HasCorrespondence(ctx context.Context, cred *models.Credential, email string) (bool, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return false, err
	}
	res, err := svc.Users.Messages.List("me").
		Q(fmt.Sprintf("from:%s OR to:%s", email, email)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return false, err
	}
	return len(res.Messages) > 0, nil
}

func header(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func threadLink(threadID string) string {
	if threadID == "" {
		return ""
	}
	return "https://mail.google.com/mail/#all/" + threadID
}

func decodeRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

// messageDocument parses an RFC 5322 message. HTML-only bodies are
// converted to text by enmime.
func messageDocument(kind string, raw []byte) Document {
	doc := Document{Kind: kind, Content: "(Could not extract email body.)"}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return doc
	}
	doc.Title = env.GetHeader("Subject")
	if doc.Title == "" {
		doc.Title = "No Subject"
	}
	from := env.GetHeader("From")
	if from == "" {
		from = "N/A"
	}
	doc.Meta = []Meta{
		{"From", from},
		{"To", env.GetHeader("To")},
		{"Date", env.GetHeader("Date")},
	}
	if body := strings.TrimSpace(env.Text); body != "" {
		doc.Content = body
	}
	return doc
}
