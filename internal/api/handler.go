// Package api is the HTTP boundary: JSON in, JSON out, errors mapped to
// status codes. All behaviour lives in the ingest, query and store packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/ingest"
	"github.com/gyaneshwarpardhi/evmon/internal/metrics"
	"github.com/gyaneshwarpardhi/evmon/internal/query"
	"github.com/gyaneshwarpardhi/evmon/internal/store"
)

const (
	maxEventBodyBytes = 1 << 20
	maxBatchBodyBytes = 16 << 20
	readyThreshold    = 0.8
)

// Store is what the handlers need from the persistence layer beyond
// ingestion and queries.
type Store interface {
	Get(ctx context.Context, id int64) (event.Event, error)
	Stats(ctx context.Context, sf store.StatsFilter) (store.Stats, error)
	Ping(ctx context.Context) error
	QueueUtilization() float64
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store  Store
	ingest *ingest.Ingester
	query  *query.Engine
	loader *config.Loader // nil when running on built-in limits
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(st Store, in *ingest.Ingester, eng *query.Engine, loader *config.Loader) http.Handler {
	h := &Handler{store: st, ingest: in, query: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("GET /v1/stats", h.stats)
	h.mux.HandleFunc("GET /v1/config", h.showConfig)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// decodeBody reads one JSON value of at most limit bytes into v. It writes
// the error response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", event.ErrPayloadTooLarge, tooLarge.Limit))
			return false
		}
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// POST /v1/events: validate and durably append one event.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var c event.Candidate
	if !decodeBody(w, r, maxEventBodyBytes, &c) {
		return
	}
	receipt, err := h.ingest.Ingest(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type batchItem struct {
	Index      int          `json:"index"`
	ID         int64        `json:"id,omitempty"`
	ReceivedAt *time.Time   `json:"received_at,omitempty"`
	Error      *errorDetail `json:"error,omitempty"`
}

// POST /v1/events/batch: each event is validated and appended on its own.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var cs []event.Candidate
	if !decodeBody(w, r, maxBatchBodyBytes, &cs) {
		return
	}
	results, err := h.ingest.IngestBatch(r.Context(), cs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]batchItem, 0, len(results))
	accepted := 0
	for _, res := range results {
		item := batchItem{Index: res.Index}
		if res.Err != nil {
			detail := errorDetail{Kind: event.KindOf(res.Err), Message: res.Err.Error()}
			var verr *event.ValidationError
			if errors.As(res.Err, &verr) {
				detail.Fields = verr.Fields
			}
			item.Error = &detail
		} else {
			accepted++
			receivedAt := res.Receipt.ReceivedAt
			item.ID = res.Receipt.ID
			item.ReceivedAt = &receivedAt
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(results),
		"accepted": accepted,
		"rejected": len(results) - accepted,
		"results":  items,
	})
}

type pageResponse struct {
	Events     []event.Event `json:"events"`
	NextCursor *string       `json:"next_cursor"`
}

// GET /v1/events: one page of matching events.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	spec, err := query.ParseSpec(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.query.Query(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := pageResponse{Events: page.Events}
	if resp.Events == nil {
		resp.Events = []event.Event{}
	}
	if page.Next != "" {
		resp.NextCursor = &page.Next
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Errorf("event %q: %w", raw, event.ErrNotFound))
		return
	}
	ev, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /v1/stats: totals, severities, top sources, daily counts.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	sf, err := query.ParseStatsFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.store.Stats(r.Context(), sf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/config: limits in force.
func (h *Handler) showConfig(w http.ResponseWriter, r *http.Request) {
	source := "built-in"
	if h.loader != nil {
		source = h.loader.Path()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source": source,
		"ingest": h.ingest.Limits(),
		"query":  h.query.Limits(),
	})
}

// POST /v1/config/reload: re-read the limits file now. Registered
// callbacks swap the new limits in.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, r, fmt.Errorf("limits file: %w", event.ErrNotFound))
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: errorDetail{Kind: "invalid_config", Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
	})
}

// GET /healthz: liveness, always 200.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the store is unreachable or the writer queue is
// more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.store.QueueUtilization()
	metrics.WriterQueueUtilization.Set(util)
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
