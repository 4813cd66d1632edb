package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

var epoch = time.Unix(0, 0).UTC()

// Validate checks c against limits in a fixed order: source, message,
// severity, attributes, occurred_at. Every violation is collected into one
// *event.ValidationError whose kind is that of the first violation. On
// success it returns the event to append, without id or received_at.
func Validate(c event.Candidate, limits config.IngestConf, now time.Time) (*event.Event, error) {
	var verr event.ValidationError

	if msg, bad := c.Mistyped("source"); bad {
		verr.Add(event.ErrValidation, "source", "%s", msg)
	} else {
		switch {
		case strings.TrimSpace(c.Source) == "":
			verr.Add(event.ErrValidation, "source", "source is required")
		case len(c.Source) > limits.MaxSourceLength:
			verr.Add(event.ErrValidation, "source", "source is %d bytes, max %d", len(c.Source), limits.MaxSourceLength)
		}
	}

	if msg, bad := c.Mistyped("message"); bad {
		verr.Add(event.ErrValidation, "message", "%s", msg)
	} else {
		switch n := utf8.RuneCountInString(c.Message); {
		case strings.TrimSpace(c.Message) == "":
			verr.Add(event.ErrValidation, "message", "message is required")
		case n > limits.MaxMessageLength:
			verr.Add(event.ErrValidation, "message", "message is %d characters, max %d", n, limits.MaxMessageLength)
		}
	}

	var severity event.Severity
	if msg, bad := c.Mistyped("severity"); bad {
		verr.Add(event.ErrValidation, "severity", "%s", msg)
	} else if strings.TrimSpace(c.Severity) == "" {
		verr.Add(event.ErrValidation, "severity", "severity is required")
	} else if sev, err := event.ParseSeverity(c.Severity); err != nil {
		verr.Add(event.ErrValidation, "severity", "%s", err)
	} else {
		severity = sev
	}

	var attrs event.Attributes
	if msg, bad := c.Mistyped("attributes"); bad {
		verr.Add(event.ErrValidation, "attributes", "%s", msg)
	} else {
		attrs = validateAttributes(c.Attributes, limits, &verr)
	}

	var occurred time.Time
	if msg, bad := c.Mistyped("occurred_at"); bad {
		verr.Add(event.ErrInvalidTimestamp, "occurred_at", "%s", msg)
	} else {
		occurred = validateOccurredAt(c.OccurredAt, limits.ClockSkewTolerance(), now, &verr)
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return &event.Event{
		Source:     c.Source,
		Severity:   severity,
		Message:    c.Message,
		OccurredAt: occurred,
		Attributes: attrs,
	}, nil
}

func validateAttributes(raw event.RawAttributes, limits config.IngestConf, verr *event.ValidationError) event.Attributes {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > limits.MaxAttributes {
		verr.Add(event.ErrValidation, "attributes", "%d attributes, max %d", len(raw), limits.MaxAttributes)
	}

	attrs := make(event.Attributes, len(raw))
	for i, a := range raw {
		field := "attributes." + a.Key
		switch {
		case a.Key == "":
			verr.Add(event.ErrValidation, "attributes", "attribute %d has an empty key", i)
			continue
		case len(a.Key) > limits.MaxAttributeKeyLength:
			verr.Add(event.ErrValidation, field, "key is %d bytes, max %d", len(a.Key), limits.MaxAttributeKeyLength)
			continue
		}
		if _, dup := attrs[a.Key]; dup {
			verr.Add(event.ErrValidation, field, "duplicate key %q", a.Key)
			continue
		}
		v, err := event.ParseValue(a.Value)
		if err != nil {
			verr.Add(event.ErrValidation, field, "%s", err)
			continue
		}
		attrs[a.Key] = v
	}

	if size := encodedSize(raw); size > limits.MaxAttributesBytes {
		verr.Add(event.ErrPayloadTooLarge, "attributes", "attributes are %d bytes serialized, max %d", size, limits.MaxAttributesBytes)
	}
	return attrs
}

// encodedSize is the compact JSON size of the attributes as submitted.
func encodedSize(raw event.RawAttributes) int {
	data, err := raw.MarshalJSON()
	if err != nil {
		return 0
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return len(data)
	}
	return buf.Len()
}

// validateOccurredAt returns the zero time when the field is absent, which
// the store replaces with received_at.
func validateOccurredAt(s string, skew time.Duration, now time.Time, verr *event.ValidationError) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		verr.Add(event.ErrInvalidTimestamp, "occurred_at", "%q is not an RFC 3339 timestamp", s)
		return time.Time{}
	}
	t = t.UTC()
	if t.Before(epoch) {
		verr.Add(event.ErrInvalidTimestamp, "occurred_at", "%s is before 1970-01-01", s)
		return time.Time{}
	}
	if limit := now.Add(skew); t.After(limit) {
		verr.Add(event.ErrInvalidTimestamp, "occurred_at", "%s is more than %s in the future", s, skew)
		return time.Time{}
	}
	return t
}
