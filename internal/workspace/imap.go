package workspace

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

const maxMessageBytes = 2 << 20

// imapSession is the part of *client.Client the adapter uses.
type imapSession interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// IMAPConfig is the mailbox an IMAP adapter reads.
type IMAPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Mailbox       string
	TLSSkipVerify bool
}

// IMAP serves the mail domain from one configured IMAP mailbox instead of
// the user's Google account. Item ids are message UIDs.
type IMAP struct {
	cfg  IMAPConfig
	dial func(ctx context.Context) (imapSession, error)
}

// NewIMAP creates an IMAP adapter.
func NewIMAP(cfg IMAPConfig) *IMAP {
	if cfg.Port < 1 {
		cfg.Port = 993
	}
	if strings.TrimSpace(cfg.Mailbox) == "" {
		cfg.Mailbox = "INBOX"
	}
	a := &IMAP{cfg: cfg}
	a.dial = a.openClient
	return a
}

func (a *IMAP) Domain() models.Domain { return models.DomainMail }
func (a *IMAP) Kind() string          { return "Email Message" }
func (a *IMAP) NeedsCredential() bool { return false }

func (a *IMAP) openClient(ctx context.Context) (imapSession, error) {
	address := strings.TrimSpace(a.cfg.Host) + ":" + strconv.Itoa(a.cfg.Port)
	c, err := client.DialTLS(address, &tls.Config{
		ServerName:         a.cfg.Host,
		InsecureSkipVerify: a.cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: imap dial: %w: %v", apperr.ErrTransientProvider, err)
	}
	select {
	case <-ctx.Done():
		c.Logout()
		return nil, ctx.Err()
	default:
	}
	if err := c.Login(a.cfg.Username, a.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("workspace: imap login: %w: %v", apperr.ErrAuthorization, err)
	}
	return c, nil
}

func (a *IMAP) session(ctx context.Context) (imapSession, error) {
	s, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Select(a.cfg.Mailbox, true); err != nil {
		s.Logout()
		return nil, fmt.Errorf("workspace: imap select mailbox: %w", err)
	}
	return s, nil
}

// Search returns the newest messages matching query, or the newest
// messages of the mailbox when query is empty.
func (a *IMAP) Search(ctx context.Context, _ *models.Credential, query string, limit int) ([]Item, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Logout()

	criteria := imap.NewSearchCriteria()
	if query != "" {
		criteria.Text = []string{query}
	}
	uids, err := s.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("workspace: imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > limit {
		uids = uids[:limit]
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.UidFetch(set, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}, messages)
	}()

	items := make([]Item, 0, len(uids))
	for m := range messages {
		it := Item{ID: strconv.FormatUint(uint64(m.Uid), 10), Label: "No Subject"}
		if m.Envelope != nil {
			if subj := strings.TrimSpace(m.Envelope.Subject); subj != "" {
				it.Label = subj
			}
			if from := formatAddresses(m.Envelope.From); from != "" {
				it.Label += " (from " + from + ")"
			}
			if !m.Envelope.Date.IsZero() {
				it.Detail = m.Envelope.Date.Format("2006-01-02 15:04")
			}
		}
		items = append(items, it)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("workspace: imap fetch: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		x, _ := strconv.ParseUint(items[i].ID, 10, 32)
		y, _ := strconv.ParseUint(items[j].ID, 10, 32)
		return x > y
	})
	return items, nil
}

// Fetch reads one message body by UID without marking it seen.
func (a *IMAP) Fetch(ctx context.Context, _ *models.Credential, id string) (Document, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return Document{}, fmt.Errorf("workspace: imap uid %q: %w", id, apperr.ErrInvalidInput)
	}
	s, err := a.session(ctx)
	if err != nil {
		return Document{}, err
	}
	defer s.Logout()

	set := new(imap.SeqSet)
	set.AddNum(uint32(uid))
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.UidFetch(set, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var raw []byte
	for m := range messages {
		body := m.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(body, maxMessageBytes))
		if err == nil {
			raw = data
		}
	}
	if err := <-done; err != nil {
		return Document{}, fmt.Errorf("workspace: imap fetch %s: %w", id, err)
	}
	if raw == nil {
		return Document{}, fmt.Errorf("workspace: imap message %s: %w", id, apperr.ErrNotFound)
	}
	return messageDocument(a.Kind(), raw), nil
}

// HasCorrespondence reports whether any message in the mailbox is from or
// to email.
func (a *IMAP) HasCorrespondence(ctx context.Context, _ *models.Credential, email string) (bool, error) {
	s, err := a.session(ctx)
	if err != nil {
		return false, err
	}
	defer s.Logout()

	from := imap.NewSearchCriteria()
	from.Header = textproto.MIMEHeader{"From": {email}}
	to := imap.NewSearchCriteria()
	to.Header = textproto.MIMEHeader{"To": {email}}
	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{from, to}}

	uids, err := s.UidSearch(criteria)
	if err != nil {
		return false, fmt.Errorf("workspace: imap search correspondence: %w", err)
	}
	return len(uids) > 0, nil
}

func formatAddresses(items []*imap.Address) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		address := strings.TrimSpace(item.MailboxName + "@" + item.HostName)
		if name := strings.TrimSpace(item.PersonalName); name != "" {
			parts = append(parts, name+" <"+address+">")
			continue
		}
		parts = append(parts, address)
	}
	return strings.Join(parts, ", ")
}
