// Package ics reads upcoming events from an iCalendar feed URL.
package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"calnotion/internal/models"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const (
	defaultLimit   = 10
	defaultHorizon = 30 * 24 * time.Hour

	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405Z"
)

// Feed lists upcoming events from an iCalendar feed. The calendar id passed
// to ListUpcoming is the feed URL.
type Feed struct {
	client  *http.Client
	logger  *slog.Logger
	horizon time.Duration
	loc     *time.Location

	// Now is the clock used for the lower bound of the upcoming window.
	Now func() time.Time
}

// NewFeed creates a Feed. Recurring events are expanded up to horizon past
// now; floating times are interpreted in loc.
func NewFeed(logger *slog.Logger, client *http.Client, horizon time.Duration, loc *time.Location) *Feed {
	if client == nil {
		client = http.DefaultClient
	}
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Feed{client: client, logger: logger, horizon: horizon, loc: loc, Now: time.Now}
}

// ListUpcoming fetches the feed and returns up to limit events starting at
// or after now, ordered by start time, with recurrences expanded.
func (f *Feed) ListUpcoming(ctx context.Context, limit int, feedURL string) ([]models.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	cal, err := f.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	now := f.Now()
	occs := f.expand(cal, now, now.Add(f.horizon))
	sort.SliceStable(occs, func(i, j int) bool { return occs[i].start.Before(occs[j].start) })
	if len(occs) > limit {
		occs = occs[:limit]
	}

	events := make([]models.Event, 0, len(occs))
	for _, o := range occs {
		events = append(events, o.event())
	}
	if len(events) == 0 {
		f.logger.Info("No upcoming events found.", "feed", feedURL)
	} else {
		f.logger.Info("Successfully fetched events from feed", "count", len(events), "feed", feedURL)
	}
	return events, nil
}

func (f *Feed) fetch(ctx context.Context, feedURL string) (*ical.Calendar, error) {
	if strings.HasPrefix(feedURL, "webcal://") {
		feedURL = "https://" + strings.TrimPrefix(feedURL, "webcal://")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := validateICalFormat(string(body)); err != nil {
		return nil, err
	}

	cal, err := ical.NewDecoder(strings.NewReader(string(body))).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}

func validateICalFormat(body string) error {
	trimmed := strings.TrimSpace(body)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data - check if URL requires authentication")
	}
	if !strings.HasPrefix(trimmed, "BEGIN:VCALENDAR") {
		preview := trimmed
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return fmt.Errorf("invalid iCalendar format - expected BEGIN:VCALENDAR, got: %s", preview)
	}
	return nil
}

// occurrence is one concrete instance of a feed event.
type occurrence struct {
	id       string
	title    string
	location string
	start    time.Time
	end      time.Time
	allDay   bool
}

func (o occurrence) event() models.Event {
	format := func(t time.Time) string {
		if o.allDay {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(time.RFC3339)
	}
	return models.Event{
		Start:    format(o.start),
		End:      format(o.end),
		Title:    o.title,
		Location: models.StringPtr(o.location),
		GCalID:   o.id,
	}
}

type master struct {
	comp *ical.Component
	base occurrence
}

// expand turns the feed's VEVENTs into occurrences starting at or after
// from. Recurrences are only expanded up to to.
// Overrides carrying RECURRENCE-ID replace the matching generated instance.
func (f *Feed) expand(cal *ical.Calendar, from, to time.Time) []occurrence {
	var (
		out       []occurrence
		masters   []master
		overrides = make(map[string]map[int64]bool)
	)

	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		if status := comp.Props.Get(ical.PropStatus); status != nil && strings.EqualFold(status.Value, "CANCELLED") {
			// A cancelled override still removes its generated instance.
			uid := comp.Props.Get(ical.PropUID)
			rid := comp.Props.Get(ical.PropRecurrenceID)
			if uid != nil && rid != nil {
				if ridTime, err := rid.DateTime(f.loc); err == nil {
					if overrides[uid.Value] == nil {
						overrides[uid.Value] = make(map[int64]bool)
					}
					overrides[uid.Value][ridTime.Unix()] = true
				}
			}
			continue
		}
		base, err := f.parseEvent(comp)
		if err != nil {
			var missing *models.MissingFieldError
			if errors.As(err, &missing) {
				f.logger.Warn("Skipping malformed feed event", "field", missing.Field)
			} else {
				f.logger.Warn("Skipping feed event", "error", err)
			}
			continue
		}

		if rid := comp.Props.Get(ical.PropRecurrenceID); rid != nil {
			ridTime, err := rid.DateTime(f.loc)
			if err != nil {
				f.logger.Warn("Skipping override with bad RECURRENCE-ID", "uid", base.id, "error", err)
				continue
			}
			if overrides[base.id] == nil {
				overrides[base.id] = make(map[int64]bool)
			}
			overrides[base.id][ridTime.Unix()] = true
			base.id = instanceID(base.id, ridTime, base.allDay)
			if !base.start.Before(from) {
				out = append(out, base)
			}
			continue
		}

		if comp.Props.Get(ical.PropRecurrenceRule) != nil {
			masters = append(masters, master{comp: comp, base: base})
			continue
		}
		if !base.start.Before(from) {
			out = append(out, base)
		}
	}

	for _, m := range masters {
		base := m.base
		set, err := m.comp.RecurrenceSet(f.loc)
		if err != nil || set == nil {
			f.logger.Warn("Skipping event with unreadable recurrence", "uid", base.id, "error", err)
			continue
		}
		duration := base.end.Sub(base.start)
		for _, start := range occurrences(set, from, to) {
			if overrides[base.id][start.Unix()] {
				continue
			}
			inst := base
			inst.start = start
			inst.end = start.Add(duration)
			inst.id = instanceID(base.id, start, base.allDay)
			out = append(out, inst)
		}
	}
	return out
}

func occurrences(set *rrule.Set, from, to time.Time) []time.Time {
	return set.Between(from, to, true)
}

// instanceID names one occurrence of a recurring event the way the Google
// Calendar API names expanded instances.
func instanceID(uid string, start time.Time, allDay bool) string {
	if allDay {
		return uid + "_" + start.Format(dateLayout)
	}
	return uid + "_" + start.UTC().Format(dateTimeLayout)
}

func (f *Feed) parseEvent(comp *ical.Component) (occurrence, error) {
	var o occurrence

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return o, &models.MissingFieldError{Field: "UID"}
	}
	o.id = uid.Value

	summary := comp.Props.Get(ical.PropSummary)
	if summary == nil || summary.Value == "" {
		return o, &models.MissingFieldError{Field: "SUMMARY"}
	}
	o.title = summary.Value

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return o, &models.MissingFieldError{Field: "DTSTART"}
	}
	start, err := startProp.DateTime(f.loc)
	if err != nil {
		return o, fmt.Errorf("invalid DTSTART: %w", err)
	}
	o.start = start
	o.allDay = startProp.ValueType() == ical.ValueDate

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err := comp.Props.Get(ical.PropDateTimeEnd).DateTime(f.loc)
		if err != nil {
			return o, fmt.Errorf("invalid DTEND: %w", err)
		}
		o.end = end
	case comp.Props.Get(ical.PropDuration) != nil:
		d, err := comp.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return o, fmt.Errorf("invalid DURATION: %w", err)
		}
		o.end = start.Add(d)
	case o.allDay:
		o.end = start.AddDate(0, 0, 1)
	default:
		o.end = start
	}

	if loc := comp.Props.Get(ical.PropLocation); loc != nil {
		o.location = loc.Value
	}
	return o, nil
}
