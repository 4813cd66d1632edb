package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// setupTestStore opens a store on a fresh SQLite file.
func setupTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEvent(source string, sev event.Severity, msg string, attrs event.Attributes) *event.Event {
	return &event.Event{Source: source, Severity: sev, Message: msg, Attributes: attrs}
}

func mustAppend(t *testing.T, s *Store, ev *event.Event) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
	return id
}

func TestOpenCreatesSchema(t *testing.T) {
	s := setupTestStore(t, Options{})

	var tables []string
	require.NoError(t, s.db.Select(&tables,
		"SELECT name FROM sqlite_master WHERE type='table' AND name IN ('events','event_attributes') ORDER BY name"))
	assert.Equal(t, []string{"event_attributes", "events"}, tables)

	var count int
	require.NoError(t, s.db.Get(&count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_%'"))
	assert.Equal(t, 4, count)

	var mode string
	require.NoError(t, s.db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestOpenFailsOnUnusablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "events.db")
	_, err := Open(context.Background(), path, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrStorageUnavailable))
}

func TestAppendAndGet(t *testing.T) {
	clock := &fakeClock{now: t0}
	s := setupTestStore(t, Options{Clock: clock.Now})

	occurred := t0.Add(-time.Minute)
	ev := newEvent("svc1", event.SeverityWarning, "disk 91% full", event.Attributes{
		"mount": event.StringValue("/var"),
		"pct":   event.NumberValue(91.5),
		"page":  event.BoolValue(true),
	})
	ev.OccurredAt = occurred

	id := mustAppend(t, s, ev)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, id, ev.ID)
	assert.True(t, ev.ReceivedAt.Equal(t0))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, *ev, got)
	assert.True(t, got.OccurredAt.Equal(occurred))
}

func TestAppendDefaultsOccurredAt(t *testing.T) {
	clock := &fakeClock{now: t0}
	s := setupTestStore(t, Options{Clock: clock.Now})

	id := mustAppend(t, s, newEvent("svc", event.SeverityInfo, "boot", nil))
	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.OccurredAt.Equal(got.ReceivedAt))
	assert.Nil(t, got.Attributes)
}

func TestAppendRejectsInvalidSeverity(t *testing.T) {
	s := setupTestStore(t, Options{})
	_, err := s.Append(context.Background(), newEvent("svc", event.Severity(42), "m", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrValidation))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReceivedAtNeverGoesBackwards(t *testing.T) {
	clock := &fakeClock{now: t0}
	s := setupTestStore(t, Options{Clock: clock.Now})

	first := mustAppend(t, s, newEvent("svc", event.SeverityInfo, "a", nil))
	clock.Set(t0.Add(-time.Hour))
	second := mustAppend(t, s, newEvent("svc", event.SeverityInfo, "b", nil))
	require.Greater(t, second, first)

	a, err := s.Get(context.Background(), first)
	require.NoError(t, err)
	b, err := s.Get(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, b.ReceivedAt.Before(a.ReceivedAt))
}

func TestReceivedAtSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	clock := &fakeClock{now: t0}
	s, err := Open(context.Background(), path, Options{Clock: clock.Now})
	require.NoError(t, err)
	mustAppend(t, s, newEvent("svc", event.SeverityInfo, "a", nil))
	require.NoError(t, s.Close())

	clock.Set(t0.Add(-time.Hour))
	s, err = Open(context.Background(), path, Options{Clock: clock.Now})
	require.NoError(t, err)
	defer s.Close()
	id := mustAppend(t, s, newEvent("svc", event.SeverityInfo, "b", nil))
	assert.Equal(t, int64(2), id)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.ReceivedAt.Equal(t0))
}

func TestGetNotFound(t *testing.T) {
	s := setupTestStore(t, Options{})
	_, err := s.Get(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrNotFound))
	assert.False(t, errors.Is(err, event.ErrStorageUnavailable))
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	s := setupTestStore(t, Options{})
	const n = 64

	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.Append(context.Background(), newEvent("svc", event.SeverityInfo, "concurrent", nil))
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %d", ids[i])
		seen[ids[i]] = true
	}

	res, err := s.Scan(context.Background(), Filter{}, "", n)
	require.NoError(t, err)
	require.Len(t, res.Events, n)
	for i := 1; i < n; i++ {
		assert.Less(t, res.Events[i-1].ID, res.Events[i].ID)
		assert.False(t, res.Events[i].ReceivedAt.Before(res.Events[i-1].ReceivedAt))
	}
}

func TestWriterQueueFull(t *testing.T) {
	s := setupTestStore(t, Options{QueueDepth: 1, IOTimeout: 2 * time.Second})

	release := make(chan struct{})
	started := make(chan struct{})
	go s.do(context.Background(), "block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	// Occupies the single queue slot.
	queued := make(chan error, 1)
	go func() {
		queued <- s.do(context.Background(), "queued", func(ctx context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return s.w.QueueLen() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, s.QueueUtilization())

	_, err := s.Append(context.Background(), newEvent("svc", event.SeverityInfo, "m", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrStorageUnavailable))
	assert.True(t, errors.Is(err, errQueueFull))

	close(release)
	require.NoError(t, <-queued)
}

func TestQueuedJobPastDeadlineNeverRuns(t *testing.T) {
	s := setupTestStore(t, Options{IOTimeout: 50 * time.Millisecond})

	release := make(chan struct{})
	started := make(chan struct{})
	blockerDone := make(chan error, 1)
	go func() {
		blockerDone <- s.do(context.Background(), "block", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var ran atomic.Bool
	err := s.do(context.Background(), "late", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrStorageUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	require.NoError(t, <-blockerDone)

	// The writer must skip the cancelled job.
	mustAppend(t, s, newEvent("svc", event.SeverityInfo, "after", nil))
	assert.False(t, ran.Load())
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), newEvent("svc", event.SeverityInfo, "m", nil))
	assert.True(t, errors.Is(err, event.ErrStorageUnavailable))
	assert.True(t, errors.Is(err, errWriterClosed))
}

func TestBusyTimeoutLeavesRoomForRetries(t *testing.T) {
	o := Options{IOTimeout: 600 * time.Millisecond, BusyRetries: 2}.withDefaults()
	assert.Equal(t, 100*time.Millisecond, o.busyTimeout())

	o = Options{IOTimeout: time.Millisecond, BusyRetries: 5}.withDefaults()
	assert.Equal(t, time.Millisecond, o.busyTimeout())
}

func TestAppendGivesUpAfterBusyRetries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(ctx, path, Options{IOTimeout: 2 * time.Second, BusyRetries: 2})
	require.NoError(t, err)
	defer s.Close()

	// Hold the write lock from a second connection.
	other, err := sqlx.Open("sqlite3", DSN(path, 0))
	require.NoError(t, err)
	defer other.Close()
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)

	retries := testutil.ToFloat64(metrics.StorageBusyRetries)
	start := time.Now()
	_, err = s.Append(ctx, newEvent("svc", event.SeverityInfo, "contended", nil))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrStorageUnavailable))
	assert.True(t, isBusy(err), "got %v", err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StorageBusyRetries)-retries)
	assert.Less(t, elapsed, 2*time.Second)

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	mustAppend(t, s, newEvent("svc", event.SeverityInfo, "after lock", nil))
}
