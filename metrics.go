package anythread

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and latencies for one or more bridges, and
// implements [prometheus.Collector]. Register it with a registry, e.g.
// prometheus.MustRegister(m), and pass it to [WithMetrics].
type Metrics struct {
	inlineCalls prometheus.Counter
	submitted   prometheus.Counter
	rejected    prometheus.Counter
	completed   *prometheus.CounterVec
	inFlight    prometheus.Gauge
	queueWait   prometheus.Histogram
	processTime prometheus.Histogram
}

var _ prometheus.Collector = (*Metrics)(nil)

// Default histogram buckets, in seconds.
var defaultBuckets = []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}

// NewMetrics constructs metrics with the given namespace (may be empty).
func NewMetrics(namespace string) *Metrics {
	const subsystem = "anythread"
	return &Metrics{
		inlineCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inline_calls_total",
			Help:      "Redirected calls made on the owner goroutine, executed directly.",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_submitted_total",
			Help:      "Requests submitted to the owner event loop.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_rejected_total",
			Help:      "Requests the owner event loop refused to accept.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_completed_total",
			Help:      "Requests processed on the owner goroutine, by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_in_flight",
			Help:      "Requests submitted but not yet processed.",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_wait_seconds",
			Help:      "Time between submission and the start of processing.",
			Buckets:   defaultBuckets,
		}),
		processTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "process_seconds",
			Help:      "Time the owner goroutine spent processing a request.",
			Buckets:   defaultBuckets,
		}),
	}
}

// Describe implements [prometheus.Collector].
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.inlineCalls.Describe(ch)
	m.submitted.Describe(ch)
	m.rejected.Describe(ch)
	m.completed.Describe(ch)
	m.inFlight.Describe(ch)
	m.queueWait.Describe(ch)
	m.processTime.Describe(ch)
}

// Collect implements [prometheus.Collector].
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.inlineCalls.Collect(ch)
	m.submitted.Collect(ch)
	m.rejected.Collect(ch)
	m.completed.Collect(ch)
	m.inFlight.Collect(ch)
	m.queueWait.Collect(ch)
	m.processTime.Collect(ch)
}

// outcomeLabel maps a failure kind (0 for success) to a label value.
func outcomeLabel(kind Kind) string {
	if kind == 0 {
		return "success"
	}
	return kind.String()
}

// the methods below are nil-safe, so the bridge need not check

func (m *Metrics) observeInline() {
	if m != nil {
		m.inlineCalls.Inc()
	}
}

func (m *Metrics) observeSubmitted() {
	if m != nil {
		m.submitted.Inc()
		m.inFlight.Inc()
	}
}

func (m *Metrics) observeRejected() {
	if m != nil {
		m.rejected.Inc()
		m.inFlight.Dec()
	}
}

func (m *Metrics) observeCompleted(kind Kind, wait, took time.Duration) {
	if m != nil {
		m.inFlight.Dec()
		m.completed.WithLabelValues(outcomeLabel(kind)).Inc()
		m.queueWait.Observe(wait.Seconds())
		m.processTime.Observe(took.Seconds())
	}
}
