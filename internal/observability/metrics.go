package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report engine activity.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestsDelayed  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	requestsActive   prometheus.Gauge
	reconnectTotal   prometheus.Counter
	queueDropsTotal  *prometheus.CounterVec
	fallbackSends    prometheus.Counter
	rollbacksTotal   prometheus.Counter
	rollbackFailures prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the engine is instantiated
// multiple times (e.g. in unit tests).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers supply a fresh registry when unique metric names are required (for
// example in tests). Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total requests processed, labeled by complexity class and outcome.",
		},
		[]string{"class", "outcome"},
	)
	requestsDelayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "requests_delayed_total",
			Help:      "Requests that exceeded their soft response-time budget.",
		},
		[]string{"class"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each processing stage execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stage executions that failed irrecoverably.",
		},
		[]string{"stage"},
	)
	requestsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "requests_active",
			Help:      "Number of requests currently being executed.",
		},
	)
	reconnectTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Streaming channel reconnection attempts.",
		},
	)
	queueDropsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "stream",
			Name:      "queue_drops_total",
			Help:      "Outgoing messages dropped under backpressure, by type.",
		},
		[]string{"type"},
	)
	fallbackSends := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "stream",
			Name:      "fallback_sends_total",
			Help:      "Messages delivered through the HTTP fallback transport.",
		},
	)
	rollbacksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "document",
			Name:      "rollbacks_total",
			Help:      "Operation batches rolled back after a partial failure.",
		},
	)
	rollbackFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "document",
			Name:      "rollback_failures_total",
			Help:      "Rollbacks that failed, leaving the document indeterminate.",
		},
	)

	collectors := []prometheus.Collector{
		requestsTotal, requestsDelayed, stageDuration, stageFailures,
		requestsActive, reconnectTotal, queueDropsTotal, fallbackSends,
		rollbacksTotal, rollbackFailures,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}

	return &Metrics{
		requestsTotal:    requestsTotal,
		requestsDelayed:  requestsDelayed,
		stageDuration:    stageDuration,
		stageFailures:    stageFailures,
		requestsActive:   requestsActive,
		reconnectTotal:   reconnectTotal,
		queueDropsTotal:  queueDropsTotal,
		fallbackSends:    fallbackSends,
		rollbacksTotal:   rollbacksTotal,
		rollbackFailures: rollbackFailures,
	}
}

// ObserveRequest records the outcome of a completed request.
func (m *Metrics) ObserveRequest(class, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(class, outcome).Inc()
}

// ObserveDelayed records a request that exceeded its soft budget.
func (m *Metrics) ObserveDelayed(class string) {
	if m == nil {
		return
	}
	m.requestsDelayed.WithLabelValues(class).Inc()
}

// ObserveStage records the duration and status of one stage execution.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveStageFailure records an irrecoverable stage failure.
func (m *Metrics) ObserveStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// RequestStarted increments the active-request gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsActive.Inc()
}

// RequestFinished decrements the active-request gauge.
func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.requestsActive.Dec()
}

// ObserveReconnect records one reconnection attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnectTotal.Inc()
}

// ObserveQueueDrop records an outgoing message dropped under backpressure.
func (m *Metrics) ObserveQueueDrop(messageType string) {
	if m == nil {
		return
	}
	m.queueDropsTotal.WithLabelValues(messageType).Inc()
}

// ObserveFallbackSend records a message delivered via the fallback transport.
func (m *Metrics) ObserveFallbackSend() {
	if m == nil {
		return
	}
	m.fallbackSends.Inc()
}

// ObserveRollback records a completed batch rollback.
func (m *Metrics) ObserveRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

// ObserveRollbackFailure records a rollback that could not complete.
func (m *Metrics) ObserveRollbackFailure() {
	if m == nil {
		return
	}
	m.rollbackFailures.Inc()
}
