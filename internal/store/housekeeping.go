package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

const pruneSql = `
DELETE FROM events WHERE received_at < ?;
`

const reindexBatchSql = `
SELECT id, attributes FROM events WHERE id > ? ORDER BY id ASC LIMIT ?;
`

const reindexBatchSize = 500

// Prune deletes events received before the cutoff, along with their
// attribute index rows. Deleted ids are never handed out again. This is the
// hook for an external retention policy; nothing in the service calls it on
// its own.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.do(ctx, "prune", func(ctx context.Context) error {
		return s.retryBusy(ctx, func() error {
			res, err := s.db.ExecContext(ctx, pruneSql, toNanos(before))
			if err != nil {
				return unavailable("prune", err)
			}
			deleted, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	slog.Info("pruned events", "before", before, "deleted", deleted)
	return deleted, nil
}

// Reindex rebuilds the attribute index from the events table, which stays
// the source of truth, and rebuilds the SQLite indexes. It returns the
// number of events visited.
func (s *Store) Reindex(ctx context.Context) (int64, error) {
	var visited int64
	err := s.do(ctx, "reindex", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return unavailable("reindex", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM event_attributes"); err != nil {
			return unavailable("reindex", err)
		}

		var after int64
		for {
			var batch []struct {
				ID         int64  `db:"id"`
				Attributes string `db:"attributes"`
			}
			if err := tx.SelectContext(ctx, &batch, reindexBatchSql, after, reindexBatchSize); err != nil {
				return unavailable("reindex", err)
			}
			if len(batch) == 0 {
				break
			}
			for _, row := range batch {
				var attrs event.Attributes
				if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
					return unavailable("reindex", fmt.Errorf("decode attributes of event %d: %w", row.ID, err))
				}
				for _, k := range sortedKeys(attrs) {
					if _, err := tx.ExecContext(ctx, insertAttributeSql, row.ID, k, attrs[k].Canonical()); err != nil {
						return unavailable("reindex", err)
					}
				}
				after = row.ID
				visited++
			}
		}

		if _, err := tx.ExecContext(ctx, "REINDEX events; REINDEX event_attributes;"); err != nil {
			return unavailable("reindex", err)
		}
		return unavailable("reindex", tx.Commit())
	})
	if err != nil {
		return 0, err
	}
	slog.Info("reindexed events", "events", visited)
	return visited, nil
}

// StatsFilter bounds the statistics window on occurred_at (inclusive).
type StatsFilter struct {
	TimeFrom time.Time
	TimeTo   time.Time
}

type SourceCount struct {
	Source string `json:"source" db:"source"`
	Count  int64  `json:"count" db:"count"`
}

type DayCount struct {
	Day   string `json:"day" db:"day"`
	Count int64  `json:"count" db:"count"`
}

// Stats summarizes stored events.
type Stats struct {
	Total      int64            `json:"total"`
	BySeverity map[string]int64 `json:"by_severity"`
	TopSources []SourceCount    `json:"top_sources"`
	Daily      []DayCount       `json:"daily"`
}

const (
	statsTopSources = 10
	statsDays       = 30
)

// Stats computes totals per severity, the busiest sources and per-day
// counts (most recent first) within the window.
func (s *Store) Stats(ctx context.Context, sf StatsFilter) (Stats, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	out := Stats{
		BySeverity: make(map[string]int64),
		TopSources: []SourceCount{},
		Daily:      []DayCount{},
	}
	for _, sev := range event.Severities() {
		out.BySeverity[sev.String()] = 0
	}
	f := Filter{TimeFrom: sf.TimeFrom, TimeTo: sf.TimeTo}
	if f.EmptyRange() {
		return out, nil
	}
	cond, args := f.where()

	var bySev []struct {
		Severity int   `db:"severity"`
		Count    int64 `db:"count"`
	}
	q := "SELECT e.severity AS severity, COUNT(*) AS count FROM events e WHERE " + cond + " GROUP BY e.severity"
	if err := s.db.SelectContext(ctx, &bySev, q, args...); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	for _, r := range bySev {
		out.BySeverity[event.Severity(r.Severity).String()] = r.Count
		out.Total += r.Count
	}

	q = "SELECT e.source AS source, COUNT(*) AS count FROM events e WHERE " + cond +
		" GROUP BY e.source ORDER BY count DESC, e.source ASC LIMIT ?"
	if err := s.db.SelectContext(ctx, &out.TopSources, q, append(args, statsTopSources)...); err != nil {
		return Stats{}, unavailable("stats", err)
	}

	q = strings.Join([]string{
		"SELECT date(e.occurred_at / 1000000000, 'unixepoch') AS day, COUNT(*) AS count",
		"FROM events e WHERE " + cond,
		"GROUP BY day ORDER BY day DESC LIMIT ?",
	}, " ")
	if err := s.db.SelectContext(ctx, &out.Daily, q, append(args, statsDays)...); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return out, nil
}
