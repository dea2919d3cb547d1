package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PassesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_passes_total",
		Help: "Total number of engine passes executed.",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_events_emitted_total",
		Help: "Proactive events inserted, labelled by collector.",
	}, []string{"collector"})

	EventsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_events_deduplicated_total",
		Help: "Emission attempts absorbed by the uniqueness constraint, labelled by collector.",
	}, []string{"collector"})

	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_admission_decisions_total",
		Help: "Push admission outcomes, labelled by reason (ok, daily_cap, duplicate, cooldown, fatigue).",
	}, []string{"reason"})

	PushesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_pushes_delivered_total",
		Help: "Pushes confirmed delivered by the transport.",
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_delivery_failures_total",
		Help: "Delivery failures, labelled by kind (permanent, transient).",
	}, []string{"kind"})

	CollectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_collector_errors_total",
		Help: "Collector failures that were logged and skipped, labelled by collector.",
	}, []string{"collector"})

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tandem_pass_duration_ms",
		Help:    "End-to-end engine pass duration in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
)
