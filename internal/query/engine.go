// Package query serves bounded, ordered pages of events over the store's
// scan. It keeps no index of its own.
package query

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
	"github.com/gyaneshwarpardhi/evmon/internal/query/expr"
	"github.com/gyaneshwarpardhi/evmon/internal/store"
)

// Scanner is the read side of the store.
type Scanner interface {
	Resolve(ctx context.Context, f store.Filter, cursor string) (store.Position, error)
	ScanFrom(ctx context.Context, f store.Filter, pos store.Position, limit int) ([]event.Event, bool, error)
	Issue(f store.Filter, pos store.Position) string
}

// Page is one result page. Next is empty once the result set is exhausted.
type Page struct {
	Events []event.Event
	Next   string
}

// Engine runs queries.
type Engine struct {
	store  Scanner
	limits atomic.Pointer[config.QueryConf]
}

func New(st Scanner, conf config.QueryConf) *Engine {
	e := &Engine{store: st}
	e.limits.Store(&conf)
	return e
}

// SetLimits atomically replaces the page size limits (used on hot-reload).
func (e *Engine) SetLimits(conf config.QueryConf) {
	e.limits.Store(&conf)
}

// Limits returns the page size limits currently in force.
func (e *Engine) Limits() config.QueryConf {
	return *e.limits.Load()
}

// Limit resolves the page size for a requested limit: the default when
// unset, clamped to the maximum.
func (e *Engine) Limit(requested int) int {
	conf := e.limits.Load()
	switch {
	case requested <= 0:
		return min(conf.DefaultLimit, conf.MaxLimit)
	case requested > conf.MaxLimit:
		return conf.MaxLimit
	}
	return requested
}

// Query returns the page of events matching spec after spec.Cursor.
func (e *Engine) Query(ctx context.Context, spec Spec) (Page, error) {
	start := time.Now()
	page, err := e.query(ctx, spec)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := event.KindOf(err)
		if outcome == "" {
			outcome = "error"
		}
		metrics.Queries.WithLabelValues(outcome).Inc()
		return Page{}, err
	}
	metrics.Queries.WithLabelValues("ok").Inc()
	return page, nil
}

func (e *Engine) query(ctx context.Context, spec Spec) (Page, error) {
	limit := e.Limit(spec.Limit)

	var pred *expr.Predicate
	if spec.Where != "" {
		p, err := expr.Compile(spec.Where)
		if err != nil {
			var verr event.ValidationError
			verr.Add(event.ErrValidation, "where", "%s", err)
			return Page{}, verr.Err()
		}
		pred = p
	}

	f := store.Filter{
		TimeFrom:    spec.TimeFrom,
		TimeTo:      spec.TimeTo,
		Source:      spec.Source,
		SeverityMin: spec.SeverityMin,
		Text:        spec.Text,
		Attributes:  spec.Attributes,
	}
	if pred != nil {
		f.Predicate = pred.String()
	}

	pos, err := e.store.Resolve(ctx, f, spec.Cursor)
	if err != nil {
		return Page{}, err
	}

	if pred == nil {
		events, more, err := e.store.ScanFrom(ctx, f, pos, limit)
		if err != nil {
			return Page{}, err
		}
		page := Page{Events: events}
		if more && len(events) > 0 {
			page.Next = e.store.Issue(f, store.Position{After: events[len(events)-1].ID, Ceiling: pos.Ceiling})
		}
		return page, nil
	}

	// The predicate runs over scan batches; keep going until one match
	// beyond the page proves there is a next page.
	matched := make([]event.Event, 0, limit+1)
	cur := pos
scan:
	for {
		if err := ctx.Err(); err != nil {
			return Page{}, fmt.Errorf("query: %w: %w", event.ErrStorageUnavailable, err)
		}
		batch, more, err := e.store.ScanFrom(ctx, f, cur, limit)
		if err != nil {
			return Page{}, err
		}
		for _, ev := range batch {
			if pred.Match(ev) {
				matched = append(matched, ev)
				if len(matched) > limit {
					break scan
				}
			}
		}
		if !more || len(batch) == 0 {
			break
		}
		cur.After = batch[len(batch)-1].ID
	}

	page := Page{Events: matched}
	if len(matched) > limit {
		page.Events = matched[:limit]
		page.Next = e.store.Issue(f, store.Position{After: matched[limit-1].ID, Ceiling: pos.Ceiling})
	}
	return page, nil
}

// Each streams every event matching spec, page by page, starting at
// spec.Cursor. It stops when the results are exhausted, when fn returns
// false or when ctx is cancelled.
func (e *Engine) Each(ctx context.Context, spec Spec, fn func(event.Event) bool) error {
	for {
		page, err := e.Query(ctx, spec)
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			if !fn(ev) {
				return nil
			}
		}
		if page.Next == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		spec.Cursor = page.Next
	}
}
