package chargegate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes reported to a MetricsRecorder.
const (
	OutcomeCommitted = "committed"
	OutcomeDenied    = "denied"
)

// MetricsRecorder receives limiter telemetry. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	// ObserveBatch is called once per evaluated batch with the admission
	// outcome, the number of requests in the batch and the round-trip
	// duration.
	ObserveBatch(outcome string, size int, duration time.Duration)

	// ObserveError is called when a charge fails with a transport or
	// protocol error.
	ObserveError()
}

// NopRecorder discards all metrics. It is the default.
type NopRecorder struct{}

func (NopRecorder) ObserveBatch(string, int, time.Duration) {}
func (NopRecorder) ObserveError()                           {}

// PrometheusRecorder exports limiter metrics through a Prometheus registry.
type PrometheusRecorder struct {
	batches  *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	errors   prometheus.Counter
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the limiter's metrics on reg and returns
// the recorder.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargegate_batches_total",
				Help: "Total charge batches evaluated, by admission outcome",
			},
			[]string{"outcome"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargegate_requests_total",
				Help: "Total charge requests evaluated, by admission outcome of their batch",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chargegate_batch_duration_seconds",
				Help:    "Charge batch round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		errors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chargegate_errors_total",
				Help: "Total charge calls that failed with a transport or protocol error",
			},
		),
	}

	reg.MustRegister(r.batches, r.requests, r.duration, r.errors)
	return r
}

func (r *PrometheusRecorder) ObserveBatch(outcome string, size int, duration time.Duration) {
	r.batches.WithLabelValues(outcome).Inc()
	r.requests.WithLabelValues(outcome).Add(float64(size))
	r.duration.Observe(duration.Seconds())
}

func (r *PrometheusRecorder) ObserveError() {
	r.errors.Inc()
}
