// Package ingest validates producer candidates and hands accepted events to
// the store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
)

// Appender is the write side of the store.
type Appender interface {
	Append(ctx context.Context, ev *event.Event) (int64, error)
}

// Ingester is the single entry point for new events.
type Ingester struct {
	store  Appender
	limits atomic.Pointer[config.IngestConf]
	clock  func() time.Time
}

type Option func(*Ingester)

// WithClock overrides the clock used for the future-timestamp check.
func WithClock(fn func() time.Time) Option {
	return func(in *Ingester) { in.clock = fn }
}

func New(st Appender, conf config.IngestConf, opts ...Option) *Ingester {
	in := &Ingester{store: st, clock: time.Now}
	in.limits.Store(&conf)
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// SetLimits atomically replaces the limits (used on hot-reload).
func (in *Ingester) SetLimits(conf config.IngestConf) {
	in.limits.Store(&conf)
}

// Limits returns the limits currently in force.
func (in *Ingester) Limits() config.IngestConf {
	return *in.limits.Load()
}

// Ingest validates c and appends it. Exactly one event is stored on
// success, none on failure.
func (in *Ingester) Ingest(ctx context.Context, c event.Candidate) (event.Receipt, error) {
	ev, err := Validate(c, in.Limits(), in.clock())
	if err != nil {
		in.reject(err)
		return event.Receipt{}, err
	}
	if _, err := in.store.Append(ctx, ev); err != nil {
		in.reject(err)
		return event.Receipt{}, fmt.Errorf("ingest: %w", err)
	}
	metrics.EventsIngested.Inc()
	return event.Receipt{ID: ev.ID, ReceivedAt: ev.ReceivedAt}, nil
}

// Result is the outcome of one batch item.
type Result struct {
	Index   int
	Receipt event.Receipt
	Err     error
}

// IngestBatch ingests each candidate independently, in order. A batch over
// max_batch_size is rejected as a whole before anything is stored.
func (in *Ingester) IngestBatch(ctx context.Context, cs []event.Candidate) ([]Result, error) {
	limits := in.Limits()
	if len(cs) == 0 {
		var verr event.ValidationError
		verr.Add(event.ErrValidation, "events", "batch must contain at least one event")
		return nil, verr.Err()
	}
	if len(cs) > limits.MaxBatchSize {
		var verr event.ValidationError
		verr.Add(event.ErrValidation, "events", "batch size %d exceeds max %d", len(cs), limits.MaxBatchSize)
		return nil, verr.Err()
	}

	results := make([]Result, len(cs))
	accepted := 0
	for i, c := range cs {
		receipt, err := in.Ingest(ctx, c)
		results[i] = Result{Index: i, Receipt: receipt, Err: err}
		if err == nil {
			accepted++
		}
	}
	slog.Debug("batch ingested", "total", len(cs), "accepted", accepted)
	return results, nil
}

func (in *Ingester) reject(err error) {
	kind := event.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	metrics.EventsRejected.WithLabelValues(kind).Inc()
}
