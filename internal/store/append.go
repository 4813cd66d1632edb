package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
)

const insertEventSql = `
INSERT INTO events (received_at, occurred_at, source, severity, message, attributes)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id;
`

const insertAttributeSql = `
INSERT INTO event_attributes (event_id, key, value)
VALUES (?, ?, ?);
`

// Append durably stores a validated event. On success ev.ID and
// ev.ReceivedAt are set, and a zero ev.OccurredAt defaults to ReceivedAt.
// Either the whole event (attribute index rows included) is committed or
// nothing is.
func (s *Store) Append(ctx context.Context, ev *event.Event) (int64, error) {
	if !ev.Severity.Valid() {
		return 0, fmt.Errorf("append: %w: severity %d", event.ErrValidation, int(ev.Severity))
	}
	attrs, err := encodeAttributes(ev.Attributes)
	if err != nil {
		return 0, fmt.Errorf("append: %w: %v", event.ErrValidation, err)
	}

	start := time.Now()
	err = s.do(ctx, "append", func(ctx context.Context) error {
		received := s.nextReceivedAt()
		occurred := ev.OccurredAt
		if occurred.IsZero() {
			occurred = received
		}

		var id int64
		err := s.retryBusy(ctx, func() error {
			tx, err := s.db.BeginTxx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			err = tx.QueryRowxContext(ctx, insertEventSql,
				toNanos(received), toNanos(occurred), ev.Source, int(ev.Severity), ev.Message, attrs,
			).Scan(&id)
			if err != nil {
				return err
			}
			for _, k := range sortedKeys(ev.Attributes) {
				if _, err := tx.ExecContext(ctx, insertAttributeSql, id, k, ev.Attributes[k].Canonical()); err != nil {
					return err
				}
			}
			return tx.Commit()
		})
		if err != nil {
			return unavailable("append", err)
		}

		s.lastReceived = received
		ev.ID = id
		ev.ReceivedAt = received
		ev.OccurredAt = occurred.UTC()
		return nil
	})
	metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	return ev.ID, nil
}

func encodeAttributes(attrs event.Attributes) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sortedKeys(attrs event.Attributes) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
