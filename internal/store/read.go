package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

const selectEventColumns = `
SELECT e.id, e.received_at, e.occurred_at, e.source, e.severity, e.message, e.attributes
FROM events e
`

const countEventsSql = `
SELECT COUNT(*) FROM events;
`

type eventRow struct {
	ID         int64  `db:"id"`
	ReceivedAt int64  `db:"received_at"`
	OccurredAt int64  `db:"occurred_at"`
	Source     string `db:"source"`
	Severity   int    `db:"severity"`
	Message    string `db:"message"`
	Attributes string `db:"attributes"`
}

func (r eventRow) toEvent() (event.Event, error) {
	ev := event.Event{
		ID:         r.ID,
		ReceivedAt: fromNanos(r.ReceivedAt),
		OccurredAt: fromNanos(r.OccurredAt),
		Source:     r.Source,
		Severity:   event.Severity(r.Severity),
		Message:    r.Message,
	}
	if r.Attributes != "" && r.Attributes != "{}" {
		if err := json.Unmarshal([]byte(r.Attributes), &ev.Attributes); err != nil {
			return event.Event{}, fmt.Errorf("decode attributes of event %d: %w", r.ID, err)
		}
	}
	return ev, nil
}

// Get returns the event with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (event.Event, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var row eventRow
	err := s.db.GetContext(ctx, &row, selectEventColumns+"WHERE e.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("event %d: %w", id, event.ErrNotFound)
	}
	if err != nil {
		return event.Event{}, unavailable("get", err)
	}
	ev, err := row.toEvent()
	if err != nil {
		return event.Event{}, unavailable("get", err)
	}
	return ev, nil
}

// ScanFrom reads up to limit events matching f with pos.After < id <=
// pos.Ceiling in id order. more reports whether further matches exist
// below the ceiling.
func (s *Store) ScanFrom(ctx context.Context, f Filter, pos Position, limit int) (events []event.Event, more bool, err error) {
	if limit <= 0 || f.EmptyRange() || pos.After >= pos.Ceiling {
		return []event.Event{}, false, nil
	}

	ctx, cancel := s.readContext(ctx)
	defer cancel()

	cond, args := f.where()
	query := selectEventColumns + "WHERE e.id > ? AND e.id <= ? AND " + cond + " ORDER BY e.id ASC LIMIT ?"
	args = append([]interface{}{pos.After, pos.Ceiling}, args...)
	args = append(args, limit+1)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, false, unavailable("scan", err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
		more = true
	}
	events = make([]event.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, false, unavailable("scan", err)
		}
		events = append(events, ev)
	}
	return events, more, nil
}

// ScanResult is one page of a scan.
type ScanResult struct {
	Events []event.Event
	// Next resumes the scan; empty once it is exhausted.
	Next string
}

// Scan returns up to limit events matching f strictly after cursor (or from
// the beginning for an empty cursor), ordered by id.
func (s *Store) Scan(ctx context.Context, f Filter, cursor string, limit int) (ScanResult, error) {
	pos, err := s.Resolve(ctx, f, cursor)
	if err != nil {
		return ScanResult{}, err
	}
	events, more, err := s.ScanFrom(ctx, f, pos, limit)
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Events: events}
	if more && len(events) > 0 {
		res.Next = s.Issue(f, Position{After: events[len(events)-1].ID, Ceiling: pos.Ceiling})
	}
	return res, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, countEventsSql); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}
