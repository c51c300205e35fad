package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	topUpsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balancehub_topups_created_total",
		Help: "Top-up requests by result.",
	}, []string{"result"})

	pollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balancehub_poll_ticks_total",
		Help: "Gateway status polls by result.",
	}, []string{"result"})

	monitorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancehub_monitors_active",
		Help: "Invoices currently being polled.",
	})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balancehub_reconciliations_total",
		Help: "Reconciliation attempts by terminal status and outcome.",
	}, []string{"status", "outcome"})

	reconciliationEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balancehub_reconciliation_escalations_total",
		Help: "Reconciliations that exhausted their storage retry budget.",
	})

	reconciliationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "balancehub_reconciliation_duration_seconds",
		Help:    "Time spent applying a terminal observation, retries included.",
		Buckets: prometheus.DefBuckets,
	})
)
