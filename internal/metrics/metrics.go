package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_events_appended_total",
		Help: "Total number of events appended to the log, labelled by kind.",
	}, []string{"kind"})

	AppendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_append_errors_total",
		Help: "Total number of failed event appends, labelled by kind.",
	}, []string{"kind"})

	EventsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_events_replayed_total",
		Help: "Total number of events folded into aggregates, labelled by replay mode.",
	}, []string{"mode"})

	ReplayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chronicle_replay_duration_ms",
		Help:    "Aggregate reconstruction latency in milliseconds, labelled by replay mode.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"mode"})

	CorruptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_corrupt_records_total",
		Help: "Total number of stored records skipped because they could not be decoded.",
	})

	MalformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_malformed_payloads_total",
		Help: "Total number of event payloads that were not a field mapping during replay.",
	})

	CacheStaleWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_cache_stale_writes_total",
		Help: "Total number of list cache writes that failed after the event was appended.",
	}, []string{"kind"})

	CacheRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_cache_repairs_total",
		Help: "Total number of list caches rebuilt from the event log.",
	}, []string{"kind"})
)
