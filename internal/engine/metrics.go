package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lessons counts stored lessons by status as of the last evaluation.
	Lessons = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "lessons",
			Help:      "Stored lessons by status as of the last evaluation",
		},
		[]string{"status"},
	)

	BloatRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "bloat_ratio",
			Help:      "Approved lessons divided by all stored lessons",
		},
	)

	StalenessDays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "staleness_days",
			Help:      "Mean days since approved lessons were last used",
		},
	)

	Archived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "archived_total",
			Help:      "Lessons archived by curation",
		},
		[]string{"reason"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "alerts_raised_total",
			Help:      "Alerts raised by evaluation",
		},
		[]string{"severity", "rule"},
	)

	LastEvaluation = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "engine",
			Name:      "last_evaluation_timestamp_seconds",
			Help:      "Unix time of the last completed evaluation",
		},
	)
)
