package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/query/expr"
	"github.com/gyaneshwarpardhi/evmon/internal/store"
)

// Spec describes one page request. Zero fields do not constrain.
type Spec struct {
	TimeFrom    time.Time // inclusive, on occurred_at
	TimeTo      time.Time // inclusive, on occurred_at
	Source      string
	SeverityMin event.Severity
	Text        string // case-sensitive substring of message
	Attributes  []store.AttributeMatch
	Where       string
	Limit       int // 0 means the configured default
	Cursor      string
}

// ParseSpec reads a Spec from request parameters. Every bad parameter is
// reported in one *event.ValidationError.
func ParseSpec(v url.Values) (Spec, error) {
	var spec Spec
	var verr event.ValidationError

	spec.TimeFrom = parseTime(v, "time_from", &verr)
	spec.TimeTo = parseTime(v, "time_to", &verr)
	spec.Source = v.Get("source")
	spec.Text = v.Get("text")
	spec.Cursor = v.Get("cursor")

	if s := v.Get("severity_min"); s != "" {
		sev, err := event.ParseSeverity(s)
		if err != nil {
			verr.Add(event.ErrValidation, "severity_min", "%s", err)
		}
		spec.SeverityMin = sev
	}

	for _, kv := range v["attr"] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			verr.Add(event.ErrValidation, "attr", "%q is not key=value", kv)
			continue
		}
		spec.Attributes = append(spec.Attributes, store.AttributeMatch{Key: key, Value: value})
	}

	if w := strings.TrimSpace(v.Get("where")); w != "" {
		if _, err := expr.Compile(w); err != nil {
			verr.Add(event.ErrValidation, "where", "%s", err)
		}
		spec.Where = w
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			verr.Add(event.ErrValidation, "limit", "limit must be a positive integer, got %q", s)
		}
		spec.Limit = n
	}

	if err := verr.Err(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ParseStatsFilter reads the optional time window of a stats request.
func ParseStatsFilter(v url.Values) (store.StatsFilter, error) {
	var verr event.ValidationError
	sf := store.StatsFilter{
		TimeFrom: parseTime(v, "time_from", &verr),
		TimeTo:   parseTime(v, "time_to", &verr),
	}
	if err := verr.Err(); err != nil {
		return store.StatsFilter{}, err
	}
	return sf, nil
}

func parseTime(v url.Values, name string, verr *event.ValidationError) time.Time {
	s := v.Get(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		verr.Add(event.ErrValidation, name, "%q is not an RFC 3339 timestamp", s)
		return time.Time{}
	}
	return t.UTC()
}
