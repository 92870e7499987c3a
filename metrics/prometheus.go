package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on top of prometheus vectors.
type PrometheusRecorder struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheus creates a recorder registered against reg. A nil registerer
// uses the default registry.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "events_total",
			Help:      "Payment engine event counters",
		},
		[]string{"event", "network"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "x402",
			Name:      "operation_latency_seconds",
			Help:      "Payment engine operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)
	reg.MustRegister(events, latency)

	return &PrometheusRecorder{events: events, latency: latency}
}

func (p *PrometheusRecorder) IncCounter(event string, labels map[string]string) {
	p.events.With(prometheus.Labels{
		"event":   event,
		"network": labels["network"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(operation string, d time.Duration, labels map[string]string) {
	p.latency.With(prometheus.Labels{
		"operation": operation,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}
