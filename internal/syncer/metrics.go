package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_sync_completed_total",
			Help: "Total completed sync operations by tracker",
		},
		[]string{"tracker"},
	)

	syncSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_sync_skips_total",
			Help: "Total skipped sync operations by tracker and reason",
		},
		[]string{"tracker", "reason"},
	)

	syncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_sync_failures_total",
			Help: "Total failed sync operations by tracker",
		},
		[]string{"tracker"},
	)
)
