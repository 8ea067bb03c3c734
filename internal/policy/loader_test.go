package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "policy.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)

	p, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
similarity:
  threshold: 0.75
  cluster_adjustments:
    code: 0.05
targets:
  max_latency: 750ms
alerts:
  critical:
    min_relevance: 0.45
routing:
  critical: [oncall]
  warning: [engineering]
  info: [engineering]
archival:
  unused_for: 720h
ab_test:
  traffic_split:
    control: 0.8
    treatment: 0.2
`), 0644))

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.75, p.Similarity.Threshold)
	assert.InDelta(t, 0.80, p.ThresholdForCluster("code"), 1e-9)
	assert.Equal(t, 750*time.Millisecond, p.Targets.MaxLatency.Duration())
	assert.Equal(t, 0.45, p.Alerts.Critical.MinRelevance)
	assert.Equal(t, []string{"oncall"}, p.Routing[SeverityCritical])
	assert.Equal(t, 720*time.Hour, p.Archival.UnusedFor.Duration())
	assert.Equal(t, map[string]float64{"control": 0.8, "treatment": 0.2}, p.ABTest.TrafficSplit)

	// Untouched fields keep defaults.
	assert.Equal(t, 0.6, p.Targets.TargetCoverage)
	assert.Equal(t, 1000, p.Capacity.MaxLessons)
}

func TestLoad_ExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  min_improvement: 0
  max_degradation: 0
alerts:
  critical:
    max_error_increase_pct: 0
  info:
    max_bloat_ratio: 0
archival:
  min_effectiveness: 0
`), 0644))

	p, err := Load(path)
	require.NoError(t, err)

	assert.Zero(t, p.Targets.MinImprovement)
	assert.Zero(t, p.Targets.MaxDegradation)
	assert.Zero(t, p.Alerts.Critical.MaxErrorIncreasePct)
	assert.Zero(t, p.Alerts.Info.MaxBloatRatio)
	assert.Zero(t, p.Archival.MinEffectiveness)

	// Siblings of the zeroed keys keep their defaults.
	assert.Equal(t, 0.7, p.Targets.TargetRelevance)
	assert.Equal(t, 0.50, p.Alerts.Critical.MinRelevance)
	assert.Equal(t, Default().Routing, p.Routing)
}

func TestLoad_EnvZeroOverride(t *testing.T) {
	t.Setenv("LESSOND_POLICY_TARGETS_MIN_IMPROVEMENT", "0")

	p, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, p.Targets.MinImprovement)
	assert.Equal(t, 0.05, p.Targets.MaxDegradation)
}

func TestLoad_MapsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ab_test:
  traffic_split:
    baseline: 0.3
    candidate: 0.7
`), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"baseline": 0.3, "candidate": 0.7}, p.ABTest.TrafficSplit)
	assert.Equal(t, Default().Routing, p.Routing)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity:\n  threshold: 0.75\n"), 0644))

	t.Setenv("LESSOND_POLICY_SIMILARITY_THRESHOLD", "0.65")
	t.Setenv("LESSOND_POLICY_ALERTS_WARNING_MIN_COVERAGE", "0.4")
	t.Setenv("LESSOND_POLICY_AB_TEST_SIGNIFICANCE", "0.01")
	t.Setenv("LESSOND_POLICY_TUNING_CADENCE", "24h")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.65, p.Similarity.Threshold)
	assert.Equal(t, 0.4, p.Alerts.Warning.MinCoverage)
	assert.Equal(t, 0.01, p.ABTest.Significance)
	assert.Equal(t, 24*time.Hour, p.Tuning.Cadence.Duration())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad split", "ab_test:\n  traffic_split:\n    a: 0.7\n    b: 0.7\n"},
		{"threshold out of range", "similarity:\n  threshold: 3\n"},
		{"bad duration", "archival:\n  unused_for: forever\n"},
		{"not yaml", "similarity: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"LESSOND_POLICY_SIMILARITY_THRESHOLD", "similarity.threshold"},
		{"LESSOND_POLICY_ALERTS_CRITICAL_MAX_P95_LATENCY", "alerts.critical.max_p95_latency"},
		{"LESSOND_POLICY_AB_TEST_MIN_DURATION", "ab_test.min_duration"},
		{"LESSOND_POLICY_ROUTING_CRITICAL", "routing.critical"},
		{"LESSOND_POLICY_UNKNOWN", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envKey(tt.in), tt.in)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy.yaml")

	want := Default().
		WithSimilarityThreshold(0.72).
		WithClusterAdjustment("analysis", -0.05)
	require.NoError(t, Save(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unused_for: 2160h0m0s")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	err := Save(path, Default().WithSimilarityThreshold(2))
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
