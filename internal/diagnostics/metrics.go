package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relevance is the mean retrieval score over the evaluation window.
	Relevance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "relevance",
			Help:      "Mean retrieval relevance score over the evaluation window",
		},
	)

	// Coverage is the fraction of lookups that returned at least one lesson.
	Coverage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "coverage",
			Help:      "Fraction of retrievals that returned at least one lesson",
		},
	)

	PrecisionAt3 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "precision_at_3",
			Help:      "Mean precision of the top three retrieved lessons against ground truth",
		},
	)

	// LatencyMS tracks retrieval latency percentiles.
	// Labels: quantile (p50, p95, p99)
	LatencyMS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "retrieval_latency_ms",
			Help:      "Retrieval latency percentiles in milliseconds",
		},
		[]string{"quantile"},
	)

	SuccessImprovement = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "success_improvement",
			Help:      "Success rate with lessons minus success rate without",
		},
	)

	ErrorReductionPct = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "error_reduction_pct",
			Help:      "Percent reduction in mean errors between the older and newer half of the window",
		},
	)

	Satisfaction = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "satisfaction",
			Help:      "Mean reported human satisfaction",
		},
	)

	// Healthy indicates the current verdict (1=healthy, 0=issues found).
	Healthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "healthy",
			Help:      "Current health verdict (1=healthy, 0=issues found)",
		},
	)

	Issues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lessond",
			Subsystem: "diagnostics",
			Name:      "issues",
			Help:      "Number of health issues in the latest diagnosis",
		},
	)
)

// UpdateGauges publishes a dashboard to the Prometheus gauges.
func UpdateGauges(d Dashboard) {
	rel := d.Leading.Relevance
	Relevance.Set(rel.AvgScore)
	Coverage.Set(rel.Coverage)
	PrecisionAt3.Set(rel.PrecisionAt3)

	lat := d.Leading.Latency
	LatencyMS.WithLabelValues("p50").Set(lat.P50)
	LatencyMS.WithLabelValues("p95").Set(lat.P95)
	LatencyMS.WithLabelValues("p99").Set(lat.P99)

	SuccessImprovement.Set(d.Lagging.SuccessRate.Improvement)
	ErrorReductionPct.Set(d.Lagging.ErrorReduction.ReductionPct)
	Satisfaction.Set(d.Lagging.Satisfaction.Mean)

	if d.Diagnosis.Healthy {
		Healthy.Set(1)
	} else {
		Healthy.Set(0)
	}
	Issues.Set(float64(len(d.Diagnosis.Issues)))
}
