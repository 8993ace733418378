package google

import (
	"calnotion/internal/models"

	"google.golang.org/api/calendar/v3"
)

// FromSource maps a Google Calendar event into the internal Event model.
//
// Start and end prefer the precise dateTime over the all-day date. The
// location is the Meet quick-join link when present, else the first
// conference entry point, else "".
func FromSource(item *calendar.Event) (models.Event, error) {
	if item == nil {
		return models.Event{}, &models.MissingFieldError{Field: "event"}
	}
	if item.Summary == "" {
		return models.Event{}, &models.MissingFieldError{Field: "summary"}
	}
	start := eventTime(item.Start)
	if start == "" {
		return models.Event{}, &models.MissingFieldError{Field: "start"}
	}
	end := eventTime(item.End)
	if end == "" {
		return models.Event{}, &models.MissingFieldError{Field: "end"}
	}
	if item.Id == "" {
		return models.Event{}, &models.MissingFieldError{Field: "id"}
	}

	return models.Event{
		Start:    start,
		End:      end,
		Title:    item.Summary,
		Location: models.StringPtr(location(item)),
		GCalID:   item.Id,
	}, nil
}

func eventTime(t *calendar.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

func location(item *calendar.Event) string {
	if item.HangoutLink != "" {
		return item.HangoutLink
	}
	if cd := item.ConferenceData; cd != nil && len(cd.EntryPoints) > 0 && cd.EntryPoints[0] != nil {
		return cd.EntryPoints[0].Uri
	}
	return ""
}
