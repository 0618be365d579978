package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkilian/qgate/pkg/types"
)

const namespace = "qgate"

// Metrics holds the Prometheus collectors for the serving pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksEnqueued   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueWait       prometheus.Histogram
	poolInUse       prometheus.Gauge
	poolReplaced    prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	queryLatency    *prometheus.HistogramVec
	executionErrors *prometheus.CounterVec
	maintenanceRuns *prometheus.CounterVec
	activeClients   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_enqueued_total",
				Help:      "Tasks accepted into the queue, by client priority.",
			},
			[]string{"priority"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Tasks currently pending in the queue.",
			},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time a task spent queued before selection.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		poolInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_sessions_in_use",
				Help:      "Database sessions currently lent to workers.",
			},
		),
		poolReplaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_sessions_replaced_total",
				Help:      "Sessions closed and reopened after failing a health probe.",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by backend and result (hit, miss).",
			},
			[]string{"backend", "result"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Cache backend faults by backend and operation.",
			},
			[]string{"backend", "op"},
		),
		queryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Reported query latency by result source.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		executionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_errors_total",
				Help:      "Task failures by error code.",
			},
			[]string{"code"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance cycles by result (rendered, empty, failed).",
			},
			[]string{"result"},
		),
		activeClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_clients",
				Help:      "Open client connections.",
			},
		),
	}

	m.registry.MustRegister(
		m.tasksEnqueued,
		m.queueDepth,
		m.queueWait,
		m.poolInUse,
		m.poolReplaced,
		m.cacheLookups,
		m.cacheErrors,
		m.queryLatency,
		m.executionErrors,
		m.maintenanceRuns,
		m.activeClients,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) TaskEnqueued(priority int, depth int) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(strconv.Itoa(priority)).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) TaskSelected(wait time.Duration, depth int) {
	if m == nil {
		return
	}
	m.queueWait.Observe(wait.Seconds())
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SessionsInUse(n int) {
	if m == nil {
		return
	}
	m.poolInUse.Set(float64(n))
}

func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.poolReplaced.Inc()
}

func (m *Metrics) CacheLookup(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) CacheError(backend, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) QueryServed(source types.Source, latency float64) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(string(source)).Observe(latency)
}

func (m *Metrics) ExecutionFailed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.executionErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) MaintenanceRun(result string) {
	if m == nil {
		return
	}
	m.maintenanceRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.activeClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.activeClients.Dec()
}
