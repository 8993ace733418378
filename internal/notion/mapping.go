package notion

import (
	"errors"
	"fmt"
	"time"

	"calnotion/internal/models"

	"github.com/jomei/notionapi"
)

// Schema maps the logical event fields to property names in the database.
type Schema struct {
	Title    string `koanf:"title"`
	Date     string `koanf:"date"`
	Location string `koanf:"location"`
	GCalID   string `koanf:"gcal_id"`
}

// DefaultSchema returns the property names of the stock events database.
func DefaultSchema() Schema {
	return Schema{
		Title:    "Event",
		Date:     "Date",
		Location: "Meeting",
		GCalID:   "gcal_id",
	}
}

// withDefaults fills empty property names from DefaultSchema.
func (s Schema) withDefaults() Schema {
	d := DefaultSchema()
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Date == "" {
		s.Date = d.Date
	}
	if s.Location == "" {
		s.Location = d.Location
	}
	if s.GCalID == "" {
		s.GCalID = d.GCalID
	}
	return s
}

// ToSinkFields builds the page properties used to create a row for event.
// Timestamps are converted to UTC and all-day events are written as dates.
// The location property is only set when the event has a non-empty location.
func ToSinkFields(schema Schema, event models.Event) (notionapi.Properties, error) {
	schema = schema.withDefaults()

	date, err := toDateProperty(event.Start, event.End)
	if err != nil {
		return nil, err
	}

	props := notionapi.Properties{
		schema.Title: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{textRun(event.Title)},
		},
		schema.Date: date,
		schema.GCalID: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{textRun(event.GCalID)},
		},
	}
	if event.HasLocation() {
		props[schema.Location] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  *event.Location,
		}
	}
	return props, nil
}

// FromSink maps a database row back into an Event.
func FromSink(schema Schema, page notionapi.Page) (models.Event, error) {
	schema = schema.withDefaults()
	rowID := string(page.ID)
	malformed := func(field, reason string) error {
		return &models.MalformedRowError{RowID: rowID, Field: field, Reason: reason}
	}

	dateProp, ok := page.Properties[schema.Date]
	if !ok {
		return models.Event{}, malformed(schema.Date, "is missing")
	}
	start, end, err := readDate(dateProp)
	if err != nil {
		return models.Event{}, malformed(schema.Date, err.Error())
	}

	titleProp, ok := page.Properties[schema.Title]
	if !ok {
		return models.Event{}, malformed(schema.Title, "is missing")
	}
	title, ok := asTitle(titleProp)
	if !ok {
		return models.Event{}, malformed(schema.Title, fmt.Sprintf("has unexpected type %T", titleProp))
	}
	if len(title.Title) == 0 {
		return models.Event{}, malformed(schema.Title, "has no text")
	}

	event := models.Event{
		Start: start,
		End:   end,
		Title: plainText(title.Title[0]),
	}

	if prop, ok := page.Properties[schema.Location]; ok {
		if u, ok := asURL(prop); ok {
			event.Location = models.StringPtr(u.URL)
		}
	}
	if prop, ok := page.Properties[schema.GCalID]; ok {
		if rt, ok := asRichText(prop); ok && len(rt.RichText) > 0 {
			event.GCalID = plainText(rt.RichText[0])
		}
	}
	return event, nil
}

func textRun(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

// plainText prefers the server-rendered plain text, falling back to the raw
// content for runs that were never round-tripped through the API.
func plainText(rt notionapi.RichText) string {
	if rt.PlainText != "" {
		return rt.PlainText
	}
	if rt.Text != nil {
		return rt.Text.Content
	}
	return ""
}

// dayRangeProperty is a date property holding calendar dates. The library's
// DateProperty always renders full timestamps.
type dayRangeProperty struct {
	ID   notionapi.ObjectID     `json:"id,omitempty"`
	Type notionapi.PropertyType `json:"type,omitempty"`
	Date dayRange               `json:"date"`
}

type dayRange struct {
	Start string  `json:"start"`
	End   *string `json:"end"`
}

func (p dayRangeProperty) GetID() string {
	return p.ID.String()
}

func (p dayRangeProperty) GetType() notionapi.PropertyType {
	return p.Type
}

func toDateProperty(start, end string) (notionapi.Property, error) {
	startTime, startDay, err := parseUTC(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	endTime, endDay, err := parseUTC(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	if startDay && endDay {
		endDate := endTime.Format(time.DateOnly)
		return dayRangeProperty{
			Type: notionapi.PropertyTypeDate,
			Date: dayRange{Start: startTime.Format(time.DateOnly), End: &endDate},
		}, nil
	}
	s, e := notionapi.Date(startTime), notionapi.Date(endTime)
	return notionapi.DateProperty{
		Type: notionapi.PropertyTypeDate,
		Date: &notionapi.DateObject{Start: &s, End: &e},
	}, nil
}

func parseUTC(value string) (time.Time, bool, error) {
	norm, err := models.NormalizeTimestamp(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return models.ParseTimestamp(norm, time.UTC)
}

// readDate returns the start and end of a date property. Decoded dates lose
// the date-only marker, so a range whose bounds all fall on midnight UTC is
// read back as dates.
func readDate(p notionapi.Property) (string, string, error) {
	switch v := p.(type) {
	case dayRangeProperty:
		end := ""
		if v.Date.End != nil {
			end = *v.Date.End
		}
		return v.Date.Start, end, nil
	case *dayRangeProperty:
		if v != nil {
			return readDate(*v)
		}
	}

	date, ok := asDate(p)
	if !ok {
		return "", "", fmt.Errorf("has unexpected type %T", p)
	}
	if date.Date == nil || date.Date.Start == nil {
		return "", "", errors.New("has no start")
	}

	layout := time.DateOnly
	if !atMidnight(date.Date.Start) || (date.Date.End != nil && !atMidnight(date.Date.End)) {
		layout = time.RFC3339
	}
	end := ""
	if date.Date.End != nil {
		end = time.Time(*date.Date.End).UTC().Format(layout)
	}
	return time.Time(*date.Date.Start).UTC().Format(layout), end, nil
}

func atMidnight(d *notionapi.Date) bool {
	t := time.Time(*d).UTC()
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// Pages decoded from the API carry pointer properties, pages assembled
// locally carry values. Accept both.

func asDate(p notionapi.Property) (notionapi.DateProperty, bool) {
	switch v := p.(type) {
	case *notionapi.DateProperty:
		if v == nil {
			break
		}
		return *v, true
	case notionapi.DateProperty:
		return v, true
	}
	return notionapi.DateProperty{}, false
}

func asTitle(p notionapi.Property) (notionapi.TitleProperty, bool) {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		if v == nil {
			break
		}
		return *v, true
	case notionapi.TitleProperty:
		return v, true
	}
	return notionapi.TitleProperty{}, false
}

func asURL(p notionapi.Property) (notionapi.URLProperty, bool) {
	switch v := p.(type) {
	case *notionapi.URLProperty:
		if v == nil {
			break
		}
		return *v, true
	case notionapi.URLProperty:
		return v, true
	}
	return notionapi.URLProperty{}, false
}

func asRichText(p notionapi.Property) (notionapi.RichTextProperty, bool) {
	switch v := p.(type) {
	case *notionapi.RichTextProperty:
		if v == nil {
			break
		}
		return *v, true
	case notionapi.RichTextProperty:
		return v, true
	}
	return notionapi.RichTextProperty{}, false
}
