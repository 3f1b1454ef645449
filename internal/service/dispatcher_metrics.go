package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// dispatcherMetrics tracks webhook delivery behavior.
type dispatcherMetrics struct {
	attempts  *prometheus.CounterVec
	exhausted prometheus.Counter
	duration  prometheus.Histogram
}

func newDispatcherMetrics(reg prometheus.Registerer) *dispatcherMetrics {
	m := &dispatcherMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pesabridge_webhook_delivery_attempts_total",
			Help: "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pesabridge_webhook_deliveries_exhausted_total",
			Help: "Deliveries that ran out of retry attempts.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pesabridge_webhook_delivery_duration_seconds",
			Help:    "Duration of individual webhook delivery attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.exhausted, m.duration)
	}
	return m
}
