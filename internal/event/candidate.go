package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Candidate is an event as submitted by a producer, before validation.
// Server-assigned fields are absent by construction.
type Candidate struct {
	Source     string        `json:"source"`
	Severity   string        `json:"severity"`
	Message    string        `json:"message"`
	OccurredAt string        `json:"occurred_at,omitempty"`
	Attributes RawAttributes `json:"attributes,omitempty"`

	// mistyped holds fields whose JSON value had the wrong type, keyed by
	// field name. Decoding keeps going so the validator can report them.
	mistyped map[string]string
}

// UnmarshalJSON accepts any JSON value for each field. A value of the wrong
// type leaves the field empty and is reported by Mistyped.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source     json.RawMessage `json:"source"`
		Severity   json.RawMessage `json:"severity"`
		Message    json.RawMessage `json:"message"`
		OccurredAt json.RawMessage `json:"occurred_at"`
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = Candidate{}
	c.Source = c.stringField("source", raw.Source)
	c.Severity = c.stringField("severity", raw.Severity)
	c.Message = c.stringField("message", raw.Message)
	c.OccurredAt = c.stringField("occurred_at", raw.OccurredAt)
	if len(raw.Attributes) > 0 {
		if err := c.Attributes.UnmarshalJSON(raw.Attributes); err != nil {
			c.Attributes = nil
			c.markMistyped("attributes", "attributes must be a JSON object, got %s", jsonKind(raw.Attributes))
		}
	}
	return nil
}

// Mistyped reports whether field was submitted with the wrong JSON type.
func (c Candidate) Mistyped(field string) (string, bool) {
	msg, ok := c.mistyped[field]
	return msg, ok
}

func (c *Candidate) stringField(field string, raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		c.markMistyped(field, "%s must be a string, got %s", field, jsonKind(raw))
		return ""
	}
	return s
}

func (c *Candidate) markMistyped(field, format string, args ...interface{}) {
	if c.mistyped == nil {
		c.mistyped = make(map[string]string)
	}
	c.mistyped[field] = fmt.Sprintf(format, args...)
}

// jsonKind names the type of a syntactically valid JSON value.
func jsonKind(raw json.RawMessage) string {
	b := bytes.TrimLeft(raw, " \t\r\n")
	if len(b) == 0 {
		return "nothing"
	}
	switch b[0] {
	case '"':
		return "a string"
	case '{':
		return "an object"
	case '[':
		return "an array"
	case 't', 'f':
		return "a boolean"
	case 'n':
		return "null"
	default:
		return "a number"
	}
}

// RawAttribute is one undecoded key/value pair from the producer payload.
type RawAttribute struct {
	Key   string
	Value json.RawMessage
}

// RawAttributes keeps the payload order and any duplicate keys so the
// validator can reject them; decoding into a map would silently keep the
// last one.
type RawAttributes []RawAttribute

// Attr builds a RawAttribute from a Go value.
func Attr(key string, v interface{}) RawAttribute {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	return RawAttribute{Key: key, Value: raw}
}

func (r *RawAttributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes must be a JSON object")
	}
	out := RawAttributes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		out = append(out, RawAttribute{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func (r RawAttributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if len(a.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(a.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
