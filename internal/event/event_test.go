package event_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in      string
		want    event.Severity
		wantErr bool
	}{
		{in: "debug", want: event.SeverityDebug},
		{in: "INFO", want: event.SeverityInfo},
		{in: " Warning ", want: event.SeverityWarning},
		{in: "error", want: event.SeverityError},
		{in: "critical", want: event.SeverityCritical},
		{in: "fatal", wantErr: true},
		{in: "warn", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := event.ParseSeverity(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	levels := event.Severities()
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i].AtLeast(levels[i-1]), "%s >= %s", levels[i], levels[i-1])
		assert.False(t, levels[i-1].AtLeast(levels[i]), "%s < %s", levels[i-1], levels[i])
	}
	assert.False(t, event.Severity(0).Valid())
}

func TestSeverityJSON(t *testing.T) {
	b, err := json.Marshal(event.SeverityWarning)
	require.NoError(t, err)
	assert.JSONEq(t, `"warning"`, string(b))

	var s event.Severity
	require.NoError(t, json.Unmarshal([]byte(`"Critical"`), &s))
	assert.Equal(t, event.SeverityCritical, s)
	assert.Error(t, json.Unmarshal([]byte(`"fatal"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`3`), &s))
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		raw       string
		kind      event.Kind
		canonical string
		wantErr   bool
	}{
		{raw: `"eu-west"`, kind: event.KindString, canonical: "eu-west"},
		{raw: `42`, kind: event.KindNumber, canonical: "42"},
		{raw: `0.25`, kind: event.KindNumber, canonical: "0.25"},
		{raw: `-3`, kind: event.KindNumber, canonical: "-3"},
		{raw: `true`, kind: event.KindBool, canonical: "true"},
		{raw: `null`, wantErr: true},
		{raw: `[1,2]`, wantErr: true},
		{raw: `{"a":1}`, wantErr: true},
		{raw: `nope`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			v, err := event.ParseValue(json.RawMessage(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, v.Kind())
			assert.Equal(t, tc.canonical, v.Canonical())
		})
	}
}

func TestAttributesRoundTrip(t *testing.T) {
	attrs := event.Attributes{
		"region":  event.StringValue("eu"),
		"retries": event.NumberValue(3),
		"cached":  event.BoolValue(false),
	}
	b, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":"eu","retries":3,"cached":false}`, string(b))

	var back event.Attributes
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, attrs, back)
}

func TestRawAttributesKeepsDuplicates(t *testing.T) {
	var c event.Candidate
	body := `{"source":"svc","severity":"info","message":"m","attributes":{"a":1,"b":"x","a":2}}`
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	require.Len(t, c.Attributes, 3)
	assert.Equal(t, "a", c.Attributes[0].Key)
	assert.Equal(t, "a", c.Attributes[2].Key)
	assert.JSONEq(t, `2`, string(c.Attributes[2].Value))
}

func TestRawAttributesRejectsNonObject(t *testing.T) {
	var attrs event.RawAttributes
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &attrs))

	var c event.Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"attributes":null}`), &c))
	assert.Nil(t, c.Attributes)
	_, bad := c.Mistyped("attributes")
	assert.False(t, bad)
}

func TestCandidateMistypedFields(t *testing.T) {
	var c event.Candidate
	body := `{"source":42,"severity":"info","message":["m"],"occurred_at":1700000000,"attributes":[1,2]}`
	require.NoError(t, json.Unmarshal([]byte(body), &c))

	assert.Equal(t, "info", c.Severity)
	assert.Empty(t, c.Source)
	assert.Nil(t, c.Attributes)

	msg, bad := c.Mistyped("source")
	assert.True(t, bad)
	assert.Equal(t, "source must be a string, got a number", msg)
	msg, _ = c.Mistyped("message")
	assert.Equal(t, "message must be a string, got an array", msg)
	msg, _ = c.Mistyped("attributes")
	assert.Equal(t, "attributes must be a JSON object, got an array", msg)
	_, bad = c.Mistyped("occurred_at")
	assert.True(t, bad)
	_, bad = c.Mistyped("severity")
	assert.False(t, bad)
}

func TestCandidateNullFieldsAreAbsent(t *testing.T) {
	var c event.Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"source":"s","severity":null,"message":"m","occurred_at":null}`), &c))
	assert.Empty(t, c.Severity)
	assert.Empty(t, c.OccurredAt)
	_, bad := c.Mistyped("severity")
	assert.False(t, bad)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &c))
}

func TestRawAttributesMarshal(t *testing.T) {
	attrs := event.RawAttributes{event.Attr("k", "v"), event.Attr("n", 1.5)}
	b, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v","n":1.5}`, string(b))
}

func TestValidationErrorKind(t *testing.T) {
	var verr event.ValidationError
	require.NoError(t, verr.Err())

	verr.Add(event.ErrPayloadTooLarge, "attributes", "too big")
	verr.Add(event.ErrInvalidTimestamp, "occurred_at", "in the future")
	err := verr.Err()
	require.Error(t, err)

	assert.True(t, errors.Is(err, event.ErrPayloadTooLarge))
	assert.False(t, errors.Is(err, event.ErrInvalidTimestamp))
	assert.False(t, errors.Is(err, event.ErrValidation))
	assert.Equal(t, "payload_too_large", event.KindOf(err))
	assert.Equal(t, "invalid_timestamp", verr.Fields[1].Kind)
	assert.Contains(t, err.Error(), "occurred_at: in the future")
}

func TestKindOfWrapped(t *testing.T) {
	err := errors.Join(errors.New("disk I/O error"), event.ErrStorageUnavailable)
	assert.Equal(t, "storage_unavailable", event.KindOf(err))
	assert.Equal(t, "", event.KindOf(errors.New("other")))
}
