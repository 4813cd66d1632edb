// Package store is the SQLite-backed persistence layer. Events live in an
// append-only table keyed by an AUTOINCREMENT id; every mutation is funnelled
// through a single writer goroutine while reads run concurrently on WAL
// snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	received_at INTEGER NOT NULL,
	occurred_at INTEGER NOT NULL,
	source TEXT NOT NULL,
	severity INTEGER NOT NULL,
	message TEXT NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source, id);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity, id);

CREATE TABLE IF NOT EXISTS event_attributes (
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (event_id, key)
);

CREATE INDEX IF NOT EXISTS idx_event_attributes_kv ON event_attributes(key, value);
`

const lastReceivedSql = `
SELECT COALESCE(MAX(received_at), 0) FROM events;
`

const maxIssuedIdSql = `
SELECT COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'events'), 0);
`

// Options tunes the store. Zero values fall back to defaults.
type Options struct {
	// IOTimeout bounds every storage operation, including time spent
	// waiting in the writer queue.
	IOTimeout time.Duration
	// QueueDepth is the capacity of the writer queue.
	QueueDepth int
	// BusyRetries is how many times a write hitting SQLITE_BUSY or
	// SQLITE_LOCKED is retried before failing.
	BusyRetries int
	// Clock supplies received_at. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.IOTimeout <= 0 {
		o.IOTimeout = 5 * time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.BusyRetries < 0 {
		o.BusyRetries = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// busyTimeout is how long SQLite waits on a lock for one attempt. All
// BusyRetries+1 attempts and their backoff fit within IOTimeout.
func (o Options) busyTimeout() time.Duration {
	d := o.IOTimeout / time.Duration(2*(o.BusyRetries+1))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Store is the durable event log.
type Store struct {
	db   *sqlx.DB
	opts Options
	w    *writer

	// lastReceived is only touched from the writer goroutine.
	lastReceived time.Time
}

// DSN builds the go-sqlite3 connection string for path.
func DSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// Open connects to the SQLite file at path, creates the schema and starts the
// writer. An error here means the medium is unusable and callers should not
// continue starting up.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	db, err := sqlx.Open("sqlite3", DSN(path, opts.busyTimeout()))
	if err != nil {
		return nil, unavailable("open", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.IOTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("open", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, unavailable("create schema", err)
	}

	var last int64
	if err := db.GetContext(ctx, &last, lastReceivedSql); err != nil {
		db.Close()
		return nil, unavailable("load sequence", err)
	}

	s := &Store{
		db:   db,
		opts: opts,
		w:    newWriter(opts.QueueDepth),
	}
	if last > 0 {
		s.lastReceived = fromNanos(last)
	}
	slog.Info("store opened", "path", path, "queue_depth", opts.QueueDepth, "io_timeout", opts.IOTimeout)
	return s, nil
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	s.w.Drain()
	return s.db.Close()
}

// QueueUtilization returns writer queue used / capacity (0-1).
func (s *Store) QueueUtilization() float64 {
	if s.w.QueueCap() == 0 {
		return 0
	}
	return float64(s.w.QueueLen()) / float64(s.w.QueueCap())
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.readContext(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// maxIssuedID is the highest id the sequence has ever handed out, including
// ids of events deleted since.
func (s *Store) maxIssuedID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.GetContext(ctx, &id, maxIssuedIdSql); err != nil {
		return 0, unavailable("read sequence", err)
	}
	return id, nil
}

func (s *Store) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.IOTimeout)
}

// nextReceivedAt never goes backwards, even if the wall clock does.
func (s *Store) nextReceivedAt() time.Time {
	now := s.opts.Clock().UTC()
	if now.Before(s.lastReceived) {
		return s.lastReceived
	}
	return now
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// unavailable classifies err as ErrStorageUnavailable, keeping the cause.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, event.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, event.ErrStorageUnavailable, err)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// retryBusy reruns fn while SQLite reports lock contention, up to the
// configured budget, backing off between attempts.
func (s *Store) retryBusy(ctx context.Context, fn func() error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) || attempt >= s.opts.BusyRetries {
			return err
		}
		metrics.StorageBusyRetries.Inc()
		slog.Warn("sqlite busy, retrying", "attempt", attempt+1, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}
