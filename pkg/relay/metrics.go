package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the validator's Prometheus metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	RegisteredTypes    prometheus.Gauge
	RegisteredDomains  prometheus.Gauge
}

// NewMetrics registers the metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry registers the metrics with registry.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_validations_total",
			Help: "Validated requests by outcome and rejection reason",
		}, []string{"result", "reason"}),
		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_validation_duration_seconds",
			Help:    "Time spent validating a request, including nonce storage",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		RegisteredTypes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_registered_request_types",
			Help: "Number of registered request types",
		}),
		RegisteredDomains: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_registered_domains",
			Help: "Number of registered signing domains",
		}),
	}
}

func (m *Metrics) observe(d Decision, seconds float64) {
	if m == nil {
		return
	}
	result := "accepted"
	if !d.Accepted() {
		result = "rejected"
	}
	m.Validations.WithLabelValues(result, string(d.Reason)).Inc()
	m.ValidationDuration.Observe(seconds)
}

func (m *Metrics) setRegistered(types, domains int) {
	if m == nil {
		return
	}
	m.RegisteredTypes.Set(float64(types))
	m.RegisteredDomains.Set(float64(domains))
}
