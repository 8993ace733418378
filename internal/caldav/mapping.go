package caldav

import (
	"fmt"
	"time"

	"calnotion/internal/models"

	"github.com/emersion/go-ical"
)

// propGCalID carries the source event id on every VEVENT this package writes.
const propGCalID = "X-GCAL-ID"

// toICal converts an Event to a VEVENT with the given UID.
func toICal(uid string, event models.Event) (*ical.Component, error) {
	start, startAllDay, err := models.ParseTimestamp(event.Start, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, endAllDay, err := models.ParseTimestamp(event.End, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setTime(ve.Props, ical.PropDateTimeStart, start, startAllDay)
	setTime(ve.Props, ical.PropDateTimeEnd, end, endAllDay)

	if event.HasLocation() {
		ve.Props.SetText(ical.PropLocation, *event.Location)
	}
	if event.GCalID != "" {
		ve.Props.SetText(propGCalID, event.GCalID)
	}
	return ve, nil
}

func setTime(props ical.Props, name string, t time.Time, allDay bool) {
	if allDay {
		props.SetDate(name, t)
		return
	}
	props.SetDateTime(name, t.UTC())
}

// fromICal maps a stored VEVENT back into an Event.
func fromICal(objectPath string, comp *ical.Component) (models.Event, error) {
	malformed := func(field, reason string) error {
		return &models.MalformedRowError{RowID: objectPath, Field: field, Reason: reason}
	}

	summary := comp.Props.Get(ical.PropSummary)
	if summary == nil {
		return models.Event{}, malformed(ical.PropSummary, "is missing")
	}
	start, err := formatTime(comp.Props.Get(ical.PropDateTimeStart))
	if err != nil {
		return models.Event{}, malformed(ical.PropDateTimeStart, err.Error())
	}

	event := models.Event{Start: start, Title: summary.Value}
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if event.End, err = formatTime(endProp); err != nil {
			return models.Event{}, malformed(ical.PropDateTimeEnd, err.Error())
		}
	}
	if loc := comp.Props.Get(ical.PropLocation); loc != nil {
		event.Location = models.StringPtr(loc.Value)
	}
	if id := comp.Props.Get(propGCalID); id != nil {
		event.GCalID = id.Value
	}
	return event, nil
}

func formatTime(prop *ical.Prop) (string, error) {
	if prop == nil {
		return "", fmt.Errorf("is missing")
	}
	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return "", fmt.Errorf("is unreadable: %v", err)
	}
	if prop.ValueType() == ical.ValueDate {
		return t.Format("2006-01-02"), nil
	}
	return t.UTC().Format(time.RFC3339), nil
}
