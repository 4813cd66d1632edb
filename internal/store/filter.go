package store

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

// AttributeMatch selects events whose attribute Key has the canonical form
// Value.
type AttributeMatch struct {
	Key   string
	Value string
}

// Filter is the conjunction of predicates pushed down into SQL. Zero fields
// do not constrain.
type Filter struct {
	TimeFrom    time.Time // inclusive, on occurred_at
	TimeTo      time.Time // inclusive, on occurred_at
	Source      string
	SeverityMin event.Severity
	Text        string
	Attributes  []AttributeMatch

	// Predicate identifies a read-side predicate layered on top of the scan
	// by the caller. It is not evaluated here, only folded into the cursor
	// fingerprint.
	Predicate string
}

// EmptyRange reports whether the time bounds can match nothing.
func (f Filter) EmptyRange() bool {
	return !f.TimeFrom.IsZero() && !f.TimeTo.IsZero() && f.TimeFrom.After(f.TimeTo)
}

// where renders the filter as SQL conditions over alias e.
func (f Filter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if !f.TimeFrom.IsZero() {
		conds = append(conds, "e.occurred_at >= ?")
		args = append(args, toNanos(f.TimeFrom))
	}
	if !f.TimeTo.IsZero() {
		conds = append(conds, "e.occurred_at <= ?")
		args = append(args, toNanos(f.TimeTo))
	}
	if f.Source != "" {
		conds = append(conds, "e.source = ?")
		args = append(args, f.Source)
	}
	if f.SeverityMin.Valid() {
		conds = append(conds, "e.severity >= ?")
		args = append(args, int(f.SeverityMin))
	}
	if f.Text != "" {
		conds = append(conds, "instr(e.message, ?) > 0")
		args = append(args, f.Text)
	}
	for _, a := range f.Attributes {
		conds = append(conds, "EXISTS (SELECT 1 FROM event_attributes a WHERE a.event_id = e.id AND a.key = ? AND a.value = ?)")
		args = append(args, a.Key, a.Value)
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Matches evaluates the filter in memory against ev. It agrees with the SQL
// rendering and is what a reader without the database would apply.
func (f Filter) Matches(ev event.Event) bool {
	if f.EmptyRange() {
		return false
	}
	if !f.TimeFrom.IsZero() && ev.OccurredAt.Before(f.TimeFrom) {
		return false
	}
	if !f.TimeTo.IsZero() && ev.OccurredAt.After(f.TimeTo) {
		return false
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.SeverityMin.Valid() && !ev.Severity.AtLeast(f.SeverityMin) {
		return false
	}
	if f.Text != "" && !strings.Contains(ev.Message, f.Text) {
		return false
	}
	for _, a := range f.Attributes {
		v, ok := ev.Attributes[a.Key]
		if !ok || v.Canonical() != a.Value {
			return false
		}
	}
	return true
}

// Fingerprint hashes a canonical rendering of the filter. Attribute matches
// are order-insensitive.
func (f Filter) Fingerprint() uint64 {
	attrs := make([]string, 0, len(f.Attributes))
	for _, a := range f.Attributes {
		attrs = append(attrs, strconv.Quote(a.Key)+"="+strconv.Quote(a.Value))
	}
	sort.Strings(attrs)

	var b strings.Builder
	b.WriteString(timeKey(f.TimeFrom))
	b.WriteByte('|')
	b.WriteString(timeKey(f.TimeTo))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(f.Source))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(f.SeverityMin)))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(f.Text))
	b.WriteByte('|')
	b.WriteString(strings.Join(attrs, ","))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(f.Predicate))
	return xxhash.Sum64String(b.String())
}

func timeKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(toNanos(t), 10)
}
