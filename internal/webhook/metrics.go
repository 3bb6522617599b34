package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_webhook_deliveries_total",
			Help: "Total webhook delivery series by terminal status",
		},
		[]string{"status"},
	)

	deliveryAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookbridge_webhook_delivery_attempts_total",
			Help: "Total individual HTTP delivery attempts",
		},
	)

	deliveryRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookbridge_webhook_delivery_retries_total",
			Help: "Total retried delivery attempts",
		},
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookbridge_webhook_delivery_duration_seconds",
			Help:    "End-to-end duration of a delivery series in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	deadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookbridge_webhook_dead_letter_depth",
			Help: "Current number of entries in the dead letter queue",
		},
	)
)
