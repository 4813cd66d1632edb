package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
)

var (
	errQueueFull    = errors.New("writer queue full")
	errWriterClosed = errors.New("store closed")
)

const (
	jobPending int32 = iota
	jobRunning
	jobCancelled
)

// job is one mutation dispatched to the writer.
type job struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error
}

// writer is a single-goroutine pool with a bounded input queue. Running all
// mutations on one goroutine makes it the only ordering point for id and
// received_at assignment.
type writer struct {
	mu     sync.RWMutex
	closed bool
	queue  chan *job
	wg     sync.WaitGroup
}

func newWriter(depth int) *writer {
	w := &writer{queue: make(chan *job, depth)}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
	return w
}

func (w *writer) run() {
	for j := range w.queue {
		metrics.WriterQueueDepth.Set(float64(len(w.queue)))
		// The submitter gave up while the job was queued: never start it.
		if !j.state.CompareAndSwap(jobPending, jobRunning) {
			continue
		}
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn(j.ctx)
	}
}

// Submit enqueues a job without blocking.
func (w *writer) Submit(j *job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	select {
	case w.queue <- j:
		return nil
	default:
		return errQueueFull
	}
}

// Drain closes the queue and waits for queued jobs to finish.
func (w *writer) Drain() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (w *writer) QueueLen() int {
	return len(w.queue)
}

// QueueCap returns the total queue capacity.
func (w *writer) QueueCap() int {
	return cap(w.queue)
}

// do runs fn on the writer goroutine and waits for its outcome. The whole
// operation, queueing included, is bounded by the store's I/O timeout. A job
// still queued at the deadline is cancelled and never runs; a job that has
// started is awaited, so the caller always learns whether it took effect.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()

	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := s.w.Submit(j); err != nil {
		metrics.StorageErrors.WithLabelValues(op).Inc()
		return unavailable(op, err)
	}

	var err error
	select {
	case err = <-j.done:
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobCancelled) {
			err = ctx.Err()
		} else {
			err = <-j.done
		}
	}
	if err != nil && event.KindOf(err) == "" {
		err = unavailable(op, err)
	}
	if errors.Is(err, event.ErrStorageUnavailable) {
		metrics.StorageErrors.WithLabelValues(op).Inc()
	}
	return err
}
