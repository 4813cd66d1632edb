package event

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by the ingest, query and store
// packages matches exactly one of these with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var kindNames = []struct {
	err  error
	name string
}{
	{ErrValidation, "validation_error"},
	{ErrPayloadTooLarge, "payload_too_large"},
	{ErrInvalidTimestamp, "invalid_timestamp"},
	{ErrInvalidCursor, "invalid_cursor"},
	{ErrNotFound, "not_found"},
	{ErrStorageUnavailable, "storage_unavailable"},
}

// KindOf names the failure kind of err, or returns "" for unclassified
// errors.
func KindOf(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// FieldError is a single violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Kind    string `json:"kind"`
	Message string `json:"message"`

	kind error
}

// ValidationError collects every violated field of one candidate. Its kind
// is the kind of the first violation recorded.
type ValidationError struct {
	Fields []FieldError
}

// Add records a violation of the given kind (ErrValidation,
// ErrPayloadTooLarge or ErrInvalidTimestamp).
func (e *ValidationError) Add(kind error, field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{
		Field:   field,
		Kind:    KindOf(kind),
		Message: fmt.Sprintf(format, args...),
		kind:    kind,
	})
}

// Kind returns the sentinel this error matches.
func (e *ValidationError) Kind() error {
	if len(e.Fields) == 0 || e.Fields[0].kind == nil {
		return ErrValidation
	}
	return e.Fields[0].kind
}

func (e *ValidationError) Is(target error) bool {
	return target == e.Kind()
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind(), strings.Join(parts, "; "))
}

// Err returns e when at least one violation was recorded, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
