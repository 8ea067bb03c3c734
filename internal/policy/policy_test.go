package policy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	assert.Equal(t, 0.7, p.Similarity.Threshold)
	assert.Equal(t, 0.05, p.Targets.MinImprovement)
	assert.Equal(t, 0.05, p.Targets.MaxDegradation)
	assert.Equal(t, 0.7, p.Targets.TargetRelevance)
	assert.Equal(t, 0.6, p.Targets.TargetCoverage)
	assert.Equal(t, 500*time.Millisecond, p.Targets.MaxLatency.Duration())
	assert.Equal(t, 168*time.Hour, p.Tuning.Cadence.Duration())
	assert.Equal(t, 100, p.Tuning.MinSampleSize)

	assert.Equal(t, 0.50, p.Alerts.Critical.MinRelevance)
	assert.Equal(t, 2*time.Second, p.Alerts.Critical.MaxP95Latency.Duration())
	assert.Equal(t, 50.0, p.Alerts.Critical.MaxErrorIncreasePct)
	assert.Equal(t, 336*time.Hour, p.Alerts.Warning.BelowTargetSpan.Duration())
	assert.Equal(t, 0.60, p.Alerts.Warning.MinRelevance)
	assert.Equal(t, 0.35, p.Alerts.Warning.MinCoverage)
	assert.Equal(t, 0.6, p.Alerts.Warning.MinSatisfaction)
	assert.Equal(t, 0.10, p.Alerts.Info.MinImprovement)
	assert.Equal(t, 0.50, p.Alerts.Info.MaxBloatRatio)

	assert.Equal(t, []string{"engineering", "product"}, p.Routing[SeverityCritical])
	assert.Equal(t, []string{"engineering"}, p.Routing[SeverityWarning])
	assert.Equal(t, []string{"engineering"}, p.Routing[SeverityInfo])

	assert.Equal(t, 2160*time.Hour, p.Archival.UnusedFor.Duration())
	assert.Equal(t, 0.40, p.Archival.MinEffectiveness)
	assert.Equal(t, 1000, p.Capacity.MaxLessons)
	assert.Equal(t, 0.7, p.Capacity.TargetActiveRatio)

	assert.Equal(t, 168*time.Hour, p.ABTest.MinDuration.Duration())
	assert.Equal(t, 100, p.ABTest.MinSamplePerVariant)
	assert.Equal(t, 0.05, p.ABTest.Significance)
	assert.Equal(t, map[string]float64{"control": 0.5, "treatment": 0.5}, p.ABTest.TrafficSplit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"threshold above one", func(p *Policy) { p.Similarity.Threshold = 1.2 }},
		{"negative coverage target", func(p *Policy) { p.Targets.TargetCoverage = -0.1 }},
		{"adjustment out of range", func(p *Policy) { p.Similarity.ClusterAdjustments = map[string]float64{"code": 2} }},
		{"zero latency", func(p *Policy) { p.Targets.MaxLatency = 0 }},
		{"zero sample size", func(p *Policy) { p.Tuning.MinSampleSize = 0 }},
		{"split does not sum to one", func(p *Policy) { p.ABTest.TrafficSplit = map[string]float64{"a": 0.5, "b": 0.4} }},
		{"single variant", func(p *Policy) { p.ABTest.TrafficSplit = map[string]float64{"a": 1} }},
		{"significance of one", func(p *Policy) { p.ABTest.Significance = 1 }},
		{"unrouted severity", func(p *Policy) { delete(p.Routing, SeverityInfo) }},
		{"empty team list", func(p *Policy) { p.Routing[SeverityWarning] = nil }},
		{"negative error increase", func(p *Policy) { p.Alerts.Critical.MaxErrorIncreasePct = -1 }},
		{"zero capacity", func(p *Policy) { p.Capacity.MaxLessons = 0 }},
		{"nan relevance floor", func(p *Policy) { p.Alerts.Critical.MinRelevance = math.NaN() }},
		{"nan adjustment", func(p *Policy) { p.Similarity.ClusterAdjustments = map[string]float64{"code": math.NaN()} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestValidate_SplitTolerance(t *testing.T) {
	p := Default()
	p.ABTest.TrafficSplit = map[string]float64{"a": 0.1, "b": 0.2, "c": 0.7}
	assert.NoError(t, p.Validate())
}

func TestThresholdForCluster(t *testing.T) {
	p := Default().
		WithClusterAdjustment("code", 0.1).
		WithClusterAdjustment("content", -0.15)

	assert.InDelta(t, 0.8, p.ThresholdForCluster("code"), 1e-9)
	assert.InDelta(t, 0.55, p.ThresholdForCluster("content"), 1e-9)
	assert.Equal(t, 0.7, p.ThresholdForCluster("unknown"))
	assert.Equal(t, 0.7, p.ThresholdForCluster(""))
}

func TestShouldArchive(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := Default()
	ago := func(days int) time.Time { return now.AddDate(0, 0, -days) }
	eff := func(v float64) *float64 { return &v }

	tests := []struct {
		name          string
		idleSince     time.Time
		effectiveness *float64
		want          bool
	}{
		{"recently used and effective", ago(5), eff(0.8), false},
		{"idle for 90 days", ago(90), eff(0.8), true},
		{"idle for 89 days", ago(89), nil, false},
		{"idle for 100 days without feedback", ago(100), nil, true},
		{"ineffective", ago(1), eff(0.39), true},
		{"at effectiveness floor", ago(1), eff(0.40), false},
		{"no feedback yet", ago(1), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldArchive(tt.idleSince, tt.effectiveness, now))
		})
	}
}

func TestCanTuneAndTuningDue(t *testing.T) {
	p := Default()
	assert.False(t, p.CanTune(99))
	assert.True(t, p.CanTune(100))

	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, p.TuningDue(last, last.Add(167*time.Hour)))
	assert.True(t, p.TuningDue(last, last.Add(168*time.Hour)))
}

func TestImmutableHelpers(t *testing.T) {
	base := Default().WithClusterAdjustment("code", 0.1)

	raised := base.WithSimilarityThreshold(0.9)
	adjusted := base.WithClusterAdjustment("code", -0.2)

	assert.Equal(t, 0.7, base.Similarity.Threshold)
	assert.Equal(t, 0.9, raised.Similarity.Threshold)
	assert.Equal(t, 0.1, base.Similarity.ClusterAdjustments["code"])
	assert.Equal(t, -0.2, adjusted.Similarity.ClusterAdjustments["code"])

	clone := base.Clone()
	clone.Routing[SeverityCritical][0] = "sales"
	clone.ABTest.TrafficSplit["control"] = 0.9
	assert.Equal(t, "engineering", base.Routing[SeverityCritical][0])
	assert.Equal(t, 0.5, base.ABTest.TrafficSplit["control"])

	teams := base.TeamsFor(SeverityCritical)
	teams[0] = "sales"
	assert.Equal(t, "engineering", base.Routing[SeverityCritical][0])
}

func TestVariants(t *testing.T) {
	p := Default()
	p.ABTest.TrafficSplit = map[string]float64{"treatment": 0.3, "control": 0.4, "holdout": 0.3}
	assert.Equal(t, []string{"control", "holdout", "treatment"}, p.Variants())
}
