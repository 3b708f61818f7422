package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// CalendarWindow is how far ahead event searches look.
const CalendarWindow = 7 * 24 * time.Hour

const eventsPerCalendar = 10

// Calendar searches upcoming events across all of the user's calendars.
// Item ids have the form "<calendar id>|<event id>".
type Calendar struct {
	google
	now func() time.Time
}

// NewCalendar creates a Calendar adapter.
func NewCalendar(client HTTPClientFunc) *Calendar {
	return &Calendar{google: google{client: client}, now: time.Now}
}

func (c *Calendar) Domain() models.Domain { return models.DomainCalendar }
func (c *Calendar) Kind() string          { return "Google Calendar Event" }
func (c *Calendar) NeedsCredential() bool { return true }

func (c *Calendar) service(ctx context.Context, cred *models.Credential) (*calendar.Service, error) {
	opts, err := c.options(ctx, cred)
	if err != nil {
		return nil, err
	}
	return calendar.NewService(ctx, opts...)
}

type calendarEvent struct {
	calendarID   string
	calendarName string
	event        *calendar.Event
}

func eventStart(e *calendar.Event) string {
	if e.Start == nil {
		return ""
	}
	if e.Start.DateTime != "" {
		return e.Start.DateTime
	}
	return e.Start.Date
}

// Search lists events in the next CalendarWindow, filtered by query when
// one is given, ordered by start time.
func (c *Calendar) Search(ctx context.Context, cred *models.Credential, query string, limit int) ([]Item, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	timeMin := now.Format(time.RFC3339)
	timeMax := now.Add(CalendarWindow).Format(time.RFC3339)

	cals, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("workspace: calendar list: %w", err)
	}
	var all []calendarEvent
	for _, entry := range cals.Items {
		call := svc.Events.List(entry.Id).
			TimeMin(timeMin).
			TimeMax(timeMax).
			MaxResults(eventsPerCalendar).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		events, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("workspace: calendar events %s: %w", entry.Id, err)
		}
		name := entry.Summary
		if name == "" {
			name = entry.Id
		}
		for _, e := range events.Items {
			all = append(all, calendarEvent{calendarID: entry.Id, calendarName: name, event: e})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return eventStart(all[i].event) < eventStart(all[j].event) })
	if len(all) > limit {
		all = all[:limit]
	}
	items := make([]Item, 0, len(all))
	for _, ce := range all {
		summary := ce.event.Summary
		if summary == "" {
			summary = "Untitled Event"
		}
		items = append(items, Item{
			ID:     ce.calendarID + "|" + ce.event.Id,
			Label:  fmt.Sprintf("%s at %s (from Calendar: %s)", summary, eventStart(ce.event), ce.calendarName),
			Link:   ce.event.HtmlLink,
			Detail: ce.event.Location,
		})
	}
	return items, nil
}

// Fetch reads one event. id must be "<calendar id>|<event id>".
func (c *Calendar) Fetch(ctx context.Context, cred *models.Credential, id string) (Document, error) {
	calID, eventID, ok := strings.Cut(id, "|")
	if !ok || calID == "" || eventID == "" {
		return Document{}, fmt.Errorf("workspace: calendar item %q: %w", id, apperr.ErrInvalidInput)
	}
	svc, err := c.service(ctx, cred)
	if err != nil {
		return Document{}, err
	}
	e, err := svc.Events.Get(calID, eventID).Context(ctx).Do()
	if err != nil {
		return Document{}, fmt.Errorf("workspace: calendar get %s: %w", id, err)
	}
	end := ""
	if e.End != nil {
		end = e.End.DateTime
		if end == "" {
			end = e.End.Date
		}
	}
	attendees := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		if a.DisplayName != "" {
			attendees = append(attendees, a.DisplayName+" <"+a.Email+">")
		} else {
			attendees = append(attendees, a.Email)
		}
	}
	content := e.Description
	if content == "" {
		content = "(No description.)"
	}
	return Document{
		Kind:  c.Kind(),
		Title: e.Summary,
		Link:  e.HtmlLink,
		Meta: []Meta{
			{"Start", eventStart(e)},
			{"End", end},
			{"Location", e.Location},
			{"Attendees", strings.Join(attendees, ", ")},
		},
		Content: content,
	}, nil
}
