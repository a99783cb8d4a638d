package ledgercache

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer using Prometheus metrics.
//
// Example:
//
//	observer := ledgercache.NewPrometheusObserver("my_agent", prometheus.DefaultRegisterer)
//	coord := ledgercache.NewCoordinator(fetcher, store, ledgercache.WithObserver(observer))
type PrometheusObserver struct {
	cacheChecks     *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	fetchDuration   *prometheus.HistogramVec
	fetchErrors     *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	purgedEntries   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandWait     prometheus.Histogram
	commandPanics   prometheus.Counter
}

// NewPrometheusObserver creates a Prometheus observer with the given namespace.
// All metrics will be prefixed with "{namespace}_ledgercache_".
func NewPrometheusObserver(namespace string, registerer prometheus.Registerer) *PrometheusObserver {
	if namespace == "" {
		namespace = "indy"
	}

	cacheChecks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "cache_checks_total",
			Help:      "Cache policy evaluations by artifact kind and decision",
		},
		[]string{"kind", "decision"},
	)

	cacheLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "cache_check_latency_seconds",
			Help:      "Latency of cache lookups in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of consensus-verified ledger fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "status"},
	)

	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "fetch_errors_total",
			Help:      "Failed ledger fetches by error kind",
		},
		[]string{"kind", "reason"},
	)

	storeErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "store_errors_total",
			Help:      "Fetched results that could not be cached",
		},
		[]string{"kind"},
	)

	purgedEntries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "purged_entries_total",
			Help:      "Cache entries removed by purge sweeps",
		},
		[]string{"kind"},
	)

	commandDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "command_duration_seconds",
			Help:      "Execution time of dispatched commands in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command", "status"},
	)

	commandWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "command_queue_wait_seconds",
			Help:      "Time commands spent queued before execution",
			Buckets:   prometheus.DefBuckets,
		},
	)

	commandPanics := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledgercache",
			Name:      "command_panics_total",
			Help:      "Commands that panicked",
		},
	)

	registerer.MustRegister(
		cacheChecks,
		cacheLatency,
		fetchDuration,
		fetchErrors,
		storeErrors,
		purgedEntries,
		commandDuration,
		commandWait,
		commandPanics,
	)

	return &PrometheusObserver{
		cacheChecks:     cacheChecks,
		cacheLatency:    cacheLatency,
		fetchDuration:   fetchDuration,
		fetchErrors:     fetchErrors,
		storeErrors:     storeErrors,
		purgedEntries:   purgedEntries,
		commandDuration: commandDuration,
		commandWait:     commandWait,
		commandPanics:   commandPanics,
	}
}

func (o *PrometheusObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	decision := event.Decision.String()
	if event.Error != nil {
		decision = "error"
	}
	o.cacheChecks.WithLabelValues(event.Kind.String(), decision).Inc()
	o.cacheLatency.WithLabelValues(event.Kind.String()).Observe(event.Latency.Seconds())
}

func (o *PrometheusObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	status := "success"
	if event.Error != nil {
		status = "error"
		o.fetchErrors.WithLabelValues(event.Kind.String(), ErrorReason(event.Error)).Inc()
	}
	o.fetchDuration.WithLabelValues(event.Kind.String(), status).Observe(event.Duration.Seconds())
}

func (o *PrometheusObserver) OnStore(ctx context.Context, event *StoreEvent) {
	if event.Error != nil {
		o.storeErrors.WithLabelValues(event.Kind.String()).Inc()
	}
}

func (o *PrometheusObserver) OnPurge(ctx context.Context, event *PurgeEvent) {
	o.purgedEntries.WithLabelValues(event.Kind.String()).Add(float64(event.Removed))
}

func (o *PrometheusObserver) OnCommandStart(ctx context.Context, event *CommandStartEvent) {
	o.commandWait.Observe(event.Waited.Seconds())
}

func (o *PrometheusObserver) OnCommandEnd(ctx context.Context, event *CommandEndEvent) {
	status := "success"
	if event.Panicked {
		status = "panic"
		o.commandPanics.Inc()
	} else if event.Error != nil {
		status = "error"
	}
	o.commandDuration.WithLabelValues(event.Command, status).Observe(event.Duration.Seconds())
}
