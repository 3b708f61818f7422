package workspace

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

type fakeMessage struct {
	envelope *imap.Envelope
	raw      string
}

type fakeSession struct {
	messages map[uint32]fakeMessage
	searched []*imap.SearchCriteria
	selected string
	loggedIn bool
}

func (f *fakeSession) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	f.selected = name
	return &imap.MailboxStatus{Name: name}, nil
}

func (f *fakeSession) UidSearch(c *imap.SearchCriteria) ([]uint32, error) {
	f.searched = append(f.searched, c)
	var out []uint32
	for uid, m := range f.messages {
		if len(c.Text) > 0 && !strings.Contains(strings.ToLower(m.raw), strings.ToLower(c.Text[0])) {
			continue
		}
		if len(c.Or) > 0 && !strings.Contains(m.raw, c.Or[0][0].Header.Get("From")) {
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

func (f *fakeSession) UidFetch(set *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	for uid, m := range f.messages {
		if !set.Contains(uid) {
			continue
		}
		ch <- &imap.Message{
			Uid:      uid,
			Envelope: m.envelope,
			Body:     map[*imap.BodySectionName]imap.Literal{{}: bytes.NewReader([]byte(m.raw))},
		}
	}
	return nil
}

func (f *fakeSession) Logout() error {
	f.loggedIn = false
	return nil
}

func testIMAP() (*IMAP, *fakeSession) {
	sess := &fakeSession{messages: map[uint32]fakeMessage{
		3: {
			envelope: &imap.Envelope{Subject: "Quarterly numbers", Date: time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC),
				From: []*imap.Address{{PersonalName: "Ann", MailboxName: "ann", HostName: "example.com"}}},
			raw: "From: ann@example.com\r\nSubject: Quarterly numbers\r\n\r\nRevenue is up.\r\n",
		},
		7: {
			envelope: &imap.Envelope{Subject: "Lunch"},
			raw:      "From: bob@example.com\r\nSubject: Lunch\r\n\r\nPizza?\r\n",
		},
	}}
	a := NewIMAP(IMAPConfig{Host: "mail.example.com", Username: "u", Password: "p"})
	a.dial = func(context.Context) (imapSession, error) {
		sess.loggedIn = true
		return sess, nil
	}
	return a, sess
}

func TestIMAPSearchNewestFirst(t *testing.T) {
	a, sess := testIMAP()
	items, err := a.Search(context.Background(), nil, "", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 || items[0].ID != "7" || items[1].ID != "3" {
		t.Fatalf("items = %+v", items)
	}
	if items[1].Label != "Quarterly numbers (from Ann <ann@example.com>)" {
		t.Errorf("label = %q", items[1].Label)
	}
	if sess.selected != "INBOX" {
		t.Errorf("selected mailbox = %q", sess.selected)
	}
	if sess.loggedIn {
		t.Error("session not logged out")
	}
}

func TestIMAPSearchQueryAndLimit(t *testing.T) {
	a, _ := testIMAP()
	items, err := a.Search(context.Background(), nil, "revenue", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 || items[0].ID != "3" {
		t.Errorf("items = %+v", items)
	}
	items, _ = a.Search(context.Background(), nil, "", 1)
	if len(items) != 1 || items[0].ID != "7" {
		t.Errorf("limited items = %+v", items)
	}
}

func TestIMAPFetch(t *testing.T) {
	a, _ := testIMAP()
	doc, err := a.Fetch(context.Background(), nil, "3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Title != "Quarterly numbers" || !strings.Contains(doc.Content, "Revenue is up.") {
		t.Errorf("doc = %+v", doc)
	}
	if _, err := a.Fetch(context.Background(), nil, "99"); err == nil {
		t.Error("expected error for unknown uid")
	}
	if _, err := a.Fetch(context.Background(), nil, "abc"); err == nil {
		t.Error("expected error for malformed uid")
	}
}

func TestIMAPHasCorrespondence(t *testing.T) {
	a, sess := testIMAP()
	ok, err := a.HasCorrespondence(context.Background(), nil, "bob@example.com")
	if err != nil {
		t.Fatalf("HasCorrespondence: %v", err)
	}
	if !ok {
		t.Error("expected correspondence with bob")
	}
	last := sess.searched[len(sess.searched)-1]
	if len(last.Or) != 1 || last.Or[0][1].Header.Get("To") != "bob@example.com" {
		t.Errorf("criteria = %+v", last)
	}
	if ok, _ := a.HasCorrespondence(context.Background(), nil, "eve@example.com"); ok {
		t.Error("unexpected correspondence with eve")
	}
}
