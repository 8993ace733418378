package models

import "fmt"

// MissingFieldError is returned when a source record lacks a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("source event is missing required field %q", e.Field)
}

// MalformedRowError is returned when a destination row does not have the
// shape the table schema promises.
type MalformedRowError struct {
	RowID  string
	Field  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row %s: field %q %s", e.RowID, e.Field, e.Reason)
}
