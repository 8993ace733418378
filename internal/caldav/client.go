// Package caldav stores synced events in a CalDAV calendar.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"calnotion/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// DefaultEndpoint is the iCloud CalDAV server.
const DefaultEndpoint = "https://caldav.icloud.com/"

// basicAuthTransport adds Basic Auth and custom headers to requests.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calnotion/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a Sink backed by a CalDAV server. The table id passed to
// ListExisting and Create is the calendar's display name.
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendars    map[string]string // display name -> calendar path
}

// NewClient creates and initializes a new CalDAV client.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &Client{
		caldavClient: caldavClient,
		logger:       logger,
		calendars:    make(map[string]string),
	}, nil
}

// ListExisting returns every event of the calendar that carries a VEVENT.
func (c *Client) ListExisting(ctx context.Context, tableID string) ([]models.Event, error) {
	calPath, err := c.calendarPath(ctx, tableID)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}
	objects, err := c.caldavClient.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %q: %w", tableID, err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			event, err := fromICal(obj.Path, comp)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
	}
	c.logger.Debug("Fetched existing CalDAV events", "calendar", tableID, "count", len(events))
	return events, nil
}

// Create writes event as a new calendar object.
func (c *Client) Create(ctx context.Context, tableID string, event models.Event) error {
	calPath, err := c.calendarPath(ctx, tableID)
	if err != nil {
		return err
	}

	vevent, err := toICal(GenerateUID(), event)
	if err != nil {
		return fmt.Errorf("failed to build event %s: %w", event, err)
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calnotion//EN")
	cal.Children = append(cal.Children, vevent)

	uid := vevent.Props.Get(ical.PropUID).Value
	eventPath := path.Join(calPath, uid+".ics")

	if _, err := c.caldavClient.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}

	c.logger.Info("Created CalDAV event", "title", event.Title, "gcalID", event.GCalID, "path", eventPath)
	return nil
}

// calendarPath discovers the user's calendars and returns the path of the
// one with the matching name.
func (c *Client) calendarPath(ctx context.Context, name string) (string, error) {
	if p, ok := c.calendars[name]; ok {
		return p, nil
	}

	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			p := cal.Path
			if !strings.HasSuffix(p, "/") {
				p += "/"
			}
			c.calendars[name] = p
			c.logger.Info("Found CalDAV calendar", "name", name, "path", p)
			return p, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
