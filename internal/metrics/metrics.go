package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evmon_events_ingested_total",
		Help: "Total number of events durably appended.",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmon_events_rejected_total",
		Help: "Total number of candidates rejected, labelled by failure kind.",
	}, []string{"kind"})

	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmon_queries_total",
		Help: "Total number of query pages served, labelled by outcome.",
	}, []string{"outcome"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evmon_query_duration_seconds",
		Help:    "Latency of a single query page.",
		Buckets: prometheus.DefBuckets,
	})

	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evmon_append_duration_seconds",
		Help:    "Latency of a durable append, writer queueing included.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmon_storage_errors_total",
		Help: "Storage operations that failed as unavailable, labelled by operation.",
	}, []string{"op"})

	StorageBusyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evmon_storage_busy_retries_total",
		Help: "Writes retried after SQLite reported lock contention.",
	})

	WriterQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evmon_writer_queue_depth",
		Help: "Mutations waiting for the single writer.",
	})

	WriterQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evmon_writer_queue_utilization_ratio",
		Help: "Current writer queue utilization (0-1).",
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmon_config_reloads_total",
		Help: "Limits file reloads, labelled by status.",
	}, []string{"status"})
)
