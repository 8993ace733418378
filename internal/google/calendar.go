package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calnotion/internal/models"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID is the calendar used when none is configured.
	DefaultCalendarID = "primary"
	// DefaultLimit caps the number of upcoming events fetched per run.
	DefaultLimit = 10
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger

	// Now is the clock used for the lower bound of the upcoming window.
	Now func() time.Time
}

// NewClient creates a new Google Calendar client.
// It loads the OAuth client from secretDir/credentials.json (or the given
// client ID and secret) and the user token from secretDir/token.json.
// Refreshed tokens are written back to token.json.
func NewClient(ctx context.Context, logger *slog.Logger, secretDir, clientID, clientSecret string) (*CalendarClient, error) {
	config, err := getOAuthConfig(secretDir, clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := TokenPath(secretDir)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token %s: %w. Please run the 'auth' command first", tokenFile, err)
	}

	ts := newFileTokenSource(logger, tokenFile, token, config.TokenSource(ctx, token))
	return NewClientWithOptions(ctx, logger, option.WithTokenSource(ts))
}

// NewClientWithOptions creates a client from raw API options. It is used by
// NewClient and by callers that already hold an authenticated transport.
func NewClientWithOptions(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, Now: time.Now}, nil
}

// ListUpcoming fetches up to limit events starting at or after now, ordered
// by start time, with recurring events expanded into single instances.
// No upcoming events is not an error.
func (c *CalendarClient) ListUpcoming(ctx context.Context, limit int, calendarID string) ([]models.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	tmin := c.Now().UTC().Format(time.RFC3339)
	c.logger.Debug("Fetching upcoming events", "calendarID", calendarID, "limit", limit, "timeMin", tmin)

	events, err := c.service.Events.List(calendarID).
		TimeMin(tmin).
		MaxResults(int64(limit)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	if len(events.Items) == 0 {
		c.logger.Info("No upcoming events found.", "calendarID", calendarID)
		return []models.Event{}, nil
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events.Items), "calendarID", calendarID)
	return c.toInternalEvents(events.Items), nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
// Records missing a required field are skipped.
func (c *CalendarClient) toInternalEvents(items []*calendar.Event) []models.Event {
	out := make([]models.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			c.logger.Warn("Skipping empty Google event")
			continue
		}
		event, err := FromSource(item)
		if err != nil {
			var missing *models.MissingFieldError
			if errors.As(err, &missing) {
				c.logger.Warn("Skipping malformed Google event", "id", item.Id, "field", missing.Field)
				continue
			}
			c.logger.Warn("Skipping Google event", "id", item.Id, "error", err)
			continue
		}
		out = append(out, event)
	}
	return out
}

// DiscoverCalendars lists the calendars the authenticated account can read.
func (c *CalendarClient) DiscoverCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return list.Items, nil
}
