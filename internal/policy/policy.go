// Package policy holds the tunable thresholds that drive retrieval,
// diagnostics, alerting, archival and A/B testing.
//
// A Policy is a value. The With* helpers return modified copies, and a
// Holder publishes whole snapshots atomically so readers never observe a
// half-applied change.
package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/lessond/internal/config"
)

// ErrInvalidPolicy is returned when a policy fails validation.
var ErrInvalidPolicy = errors.New("invalid policy")

// Alert severities used as routing keys.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Severities lists every severity that must be routed.
var Severities = []string{SeverityCritical, SeverityWarning, SeverityInfo}

// Policy is an immutable configuration snapshot.
type Policy struct {
	Similarity Similarity          `koanf:"similarity" yaml:"similarity" json:"similarity"`
	Targets    Targets             `koanf:"targets" yaml:"targets" json:"targets"`
	Tuning     Tuning              `koanf:"tuning" yaml:"tuning" json:"tuning"`
	Alerts     Alerts              `koanf:"alerts" yaml:"alerts" json:"alerts"`
	Routing    map[string][]string `koanf:"routing" yaml:"routing" json:"routing"`
	Archival   Archival            `koanf:"archival" yaml:"archival" json:"archival"`
	Capacity   Capacity            `koanf:"capacity" yaml:"capacity" json:"capacity"`
	ABTest     ABTest              `koanf:"ab_test" yaml:"ab_test" json:"ab_test"`
}

// Similarity is the retrieval acceptance bar plus per-cluster additive offsets.
type Similarity struct {
	Threshold          float64            `koanf:"threshold" yaml:"threshold" json:"threshold"`
	ClusterAdjustments map[string]float64 `koanf:"cluster_adjustments" yaml:"cluster_adjustments,omitempty" json:"cluster_adjustments,omitempty"`
}

// Targets are the performance goals the system is tuned toward.
type Targets struct {
	MinImprovement  float64         `koanf:"min_improvement" yaml:"min_improvement" json:"min_improvement"`
	MaxDegradation  float64         `koanf:"max_degradation" yaml:"max_degradation" json:"max_degradation"`
	TargetRelevance float64         `koanf:"target_relevance" yaml:"target_relevance" json:"target_relevance"`
	TargetCoverage  float64         `koanf:"target_coverage" yaml:"target_coverage" json:"target_coverage"`
	MaxLatency      config.Duration `koanf:"max_latency" yaml:"max_latency" json:"max_latency"`
}

// Tuning gates automatic parameter changes.
type Tuning struct {
	Cadence       config.Duration `koanf:"cadence" yaml:"cadence" json:"cadence"`
	MinSampleSize int             `koanf:"min_sample_size" yaml:"min_sample_size" json:"min_sample_size"`
}

// Alerts holds thresholds for each severity.
type Alerts struct {
	Critical CriticalAlerts `koanf:"critical" yaml:"critical" json:"critical"`
	Warning  WarningAlerts  `koanf:"warning" yaml:"warning" json:"warning"`
	Info     InfoAlerts     `koanf:"info" yaml:"info" json:"info"`
}

// CriticalAlerts fire on severe regressions. Degradation is measured
// against Targets.MaxDegradation.
type CriticalAlerts struct {
	MinRelevance        float64         `koanf:"min_relevance" yaml:"min_relevance" json:"min_relevance"`
	MaxP95Latency       config.Duration `koanf:"max_p95_latency" yaml:"max_p95_latency" json:"max_p95_latency"`
	MaxErrorIncreasePct float64         `koanf:"max_error_increase_pct" yaml:"max_error_increase_pct" json:"max_error_increase_pct"`
}

// WarningAlerts fire on sustained or moderate shortfalls. Latency is
// measured against Targets.MaxLatency.
type WarningAlerts struct {
	BelowTargetSpan config.Duration `koanf:"below_target_span" yaml:"below_target_span" json:"below_target_span"`
	MinRelevance    float64         `koanf:"min_relevance" yaml:"min_relevance" json:"min_relevance"`
	MinCoverage     float64         `koanf:"min_coverage" yaml:"min_coverage" json:"min_coverage"`
	MinSatisfaction float64         `koanf:"min_satisfaction" yaml:"min_satisfaction" json:"min_satisfaction"`
}

// InfoAlerts flag noteworthy but benign conditions.
type InfoAlerts struct {
	MinImprovement float64 `koanf:"min_improvement" yaml:"min_improvement" json:"min_improvement"`
	MaxBloatRatio  float64 `koanf:"max_bloat_ratio" yaml:"max_bloat_ratio" json:"max_bloat_ratio"`
}

// Archival retires lessons that are stale or ineffective.
type Archival struct {
	UnusedFor        config.Duration `koanf:"unused_for" yaml:"unused_for" json:"unused_for"`
	MinEffectiveness float64         `koanf:"min_effectiveness" yaml:"min_effectiveness" json:"min_effectiveness"`
}

// Capacity bounds the lesson store.
type Capacity struct {
	MaxLessons        int     `koanf:"max_lessons" yaml:"max_lessons" json:"max_lessons"`
	TargetActiveRatio float64 `koanf:"target_active_ratio" yaml:"target_active_ratio" json:"target_active_ratio"`
}

// ABTest parameterizes experiments over named variants.
type ABTest struct {
	MinDuration         config.Duration    `koanf:"min_duration" yaml:"min_duration" json:"min_duration"`
	MinSamplePerVariant int                `koanf:"min_sample_per_variant" yaml:"min_sample_per_variant" json:"min_sample_per_variant"`
	Significance        float64            `koanf:"significance" yaml:"significance" json:"significance"`
	TrafficSplit        map[string]float64 `koanf:"traffic_split" yaml:"traffic_split" json:"traffic_split"`
}

// Default returns the built-in policy. Load layers files and environment
// overrides on top of it.
func Default() Policy {
	return Policy{
		Similarity: Similarity{Threshold: 0.7},
		Targets: Targets{
			MinImprovement:  0.05,
			MaxDegradation:  0.05,
			TargetRelevance: 0.7,
			TargetCoverage:  0.6,
			MaxLatency:      config.Duration(500 * time.Millisecond),
		},
		Tuning: Tuning{
			Cadence:       config.Duration(7 * 24 * time.Hour),
			MinSampleSize: 100,
		},
		Alerts: Alerts{
			Critical: CriticalAlerts{
				MinRelevance:        0.50,
				MaxP95Latency:       config.Duration(2000 * time.Millisecond),
				MaxErrorIncreasePct: 50,
			},
			Warning: WarningAlerts{
				BelowTargetSpan: config.Duration(14 * 24 * time.Hour),
				MinRelevance:    0.60,
				MinCoverage:     0.35,
				MinSatisfaction: 0.6,
			},
			Info: InfoAlerts{
				MinImprovement: 0.10,
				MaxBloatRatio:  0.50,
			},
		},
		Routing: map[string][]string{
			SeverityCritical: {"engineering", "product"},
			SeverityWarning:  {"engineering"},
			SeverityInfo:     {"engineering"},
		},
		Archival: Archival{
			UnusedFor:        config.Duration(90 * 24 * time.Hour),
			MinEffectiveness: 0.40,
		},
		Capacity: Capacity{
			MaxLessons:        1000,
			TargetActiveRatio: 0.7,
		},
		ABTest: ABTest{
			MinDuration:         config.Duration(7 * 24 * time.Hour),
			MinSamplePerVariant: 100,
			Significance:        0.05,
			TrafficSplit:        map[string]float64{"control": 0.5, "treatment": 0.5},
		},
	}
}

// Validate checks ranges and structural constraints.
func (p Policy) Validate() error {
	ratios := []struct {
		name  string
		value float64
	}{
		{"similarity.threshold", p.Similarity.Threshold},
		{"targets.min_improvement", p.Targets.MinImprovement},
		{"targets.max_degradation", p.Targets.MaxDegradation},
		{"targets.target_relevance", p.Targets.TargetRelevance},
		{"targets.target_coverage", p.Targets.TargetCoverage},
		{"alerts.critical.min_relevance", p.Alerts.Critical.MinRelevance},
		{"alerts.warning.min_relevance", p.Alerts.Warning.MinRelevance},
		{"alerts.warning.min_coverage", p.Alerts.Warning.MinCoverage},
		{"alerts.warning.min_satisfaction", p.Alerts.Warning.MinSatisfaction},
		{"alerts.info.min_improvement", p.Alerts.Info.MinImprovement},
		{"alerts.info.max_bloat_ratio", p.Alerts.Info.MaxBloatRatio},
		{"archival.min_effectiveness", p.Archival.MinEffectiveness},
		{"capacity.target_active_ratio", p.Capacity.TargetActiveRatio},
	}
	for _, r := range ratios {
		if math.IsNaN(r.value) || r.value < 0 || r.value > 1 {
			return fmt.Errorf("%w: %s %.3f outside [0,1]", ErrInvalidPolicy, r.name, r.value)
		}
	}

	for cluster, adj := range p.Similarity.ClusterAdjustments {
		if math.IsNaN(adj) || adj < -1 || adj > 1 {
			return fmt.Errorf("%w: cluster adjustment %s %.3f outside [-1,1]", ErrInvalidPolicy, cluster, adj)
		}
	}

	durations := []struct {
		name  string
		value config.Duration
	}{
		{"targets.max_latency", p.Targets.MaxLatency},
		{"tuning.cadence", p.Tuning.Cadence},
		{"alerts.critical.max_p95_latency", p.Alerts.Critical.MaxP95Latency},
		{"alerts.warning.below_target_span", p.Alerts.Warning.BelowTargetSpan},
		{"archival.unused_for", p.Archival.UnusedFor},
		{"ab_test.min_duration", p.ABTest.MinDuration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidPolicy, d.name)
		}
	}

	if p.Alerts.Critical.MaxErrorIncreasePct < 0 {
		return fmt.Errorf("%w: alerts.critical.max_error_increase_pct must be non-negative", ErrInvalidPolicy)
	}
	if p.Tuning.MinSampleSize < 1 {
		return fmt.Errorf("%w: tuning.min_sample_size must be at least 1", ErrInvalidPolicy)
	}
	if p.Capacity.MaxLessons < 1 {
		return fmt.Errorf("%w: capacity.max_lessons must be at least 1", ErrInvalidPolicy)
	}
	if p.ABTest.MinSamplePerVariant < 1 {
		return fmt.Errorf("%w: ab_test.min_sample_per_variant must be at least 1", ErrInvalidPolicy)
	}
	if p.ABTest.Significance <= 0 || p.ABTest.Significance >= 1 {
		return fmt.Errorf("%w: ab_test.significance %.3f outside (0,1)", ErrInvalidPolicy, p.ABTest.Significance)
	}

	if len(p.ABTest.TrafficSplit) < 2 {
		return fmt.Errorf("%w: ab_test.traffic_split needs at least two variants", ErrInvalidPolicy)
	}
	var total float64
	for variant, share := range p.ABTest.TrafficSplit {
		if share < 0 || share > 1 {
			return fmt.Errorf("%w: traffic share %s %.3f outside [0,1]", ErrInvalidPolicy, variant, share)
		}
		total += share
	}
	if math.Abs(total-1) > 1e-9 {
		return fmt.Errorf("%w: traffic split sums to %.6f, want 1", ErrInvalidPolicy, total)
	}

	for _, sev := range Severities {
		if len(p.Routing[sev]) == 0 {
			return fmt.Errorf("%w: no teams routed for %s alerts", ErrInvalidPolicy, sev)
		}
	}

	return nil
}

// ThresholdForCluster returns the similarity bar for cluster. Unknown
// clusters get no adjustment.
func (p Policy) ThresholdForCluster(cluster string) float64 {
	return p.Similarity.Threshold + p.Similarity.ClusterAdjustments[cluster]
}

// ShouldArchive reports whether a lesson is stale or ineffective. idleSince
// is the start of the current idle period; callers pass the last use, or
// the approval time for a lesson never used since review.
func (p Policy) ShouldArchive(idleSince time.Time, effectiveness *float64, now time.Time) bool {
	if effectiveness != nil && *effectiveness < p.Archival.MinEffectiveness {
		return true
	}
	return now.Sub(idleSince) >= p.Archival.UnusedFor.Duration()
}

// CanTune reports whether enough samples exist to tune automatically.
func (p Policy) CanTune(samples int) bool {
	return samples >= p.Tuning.MinSampleSize
}

// TuningDue reports whether a full cadence has passed since lastTuned.
func (p Policy) TuningDue(lastTuned, now time.Time) bool {
	return now.Sub(lastTuned) >= p.Tuning.Cadence.Duration()
}

// TeamsFor returns the teams routed for severity, in configured order.
func (p Policy) TeamsFor(severity string) []string {
	teams := p.Routing[severity]
	out := make([]string, len(teams))
	copy(out, teams)
	return out
}

// Variants returns the A/B variant names sorted alphabetically.
func (p Policy) Variants() []string {
	names := make([]string, 0, len(p.ABTest.TrafficSplit))
	for name := range p.ABTest.TrafficSplit {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	out := p
	if p.Similarity.ClusterAdjustments != nil {
		out.Similarity.ClusterAdjustments = make(map[string]float64, len(p.Similarity.ClusterAdjustments))
		for k, v := range p.Similarity.ClusterAdjustments {
			out.Similarity.ClusterAdjustments[k] = v
		}
	}
	if p.Routing != nil {
		out.Routing = make(map[string][]string, len(p.Routing))
		for k, v := range p.Routing {
			teams := make([]string, len(v))
			copy(teams, v)
			out.Routing[k] = teams
		}
	}
	if p.ABTest.TrafficSplit != nil {
		out.ABTest.TrafficSplit = make(map[string]float64, len(p.ABTest.TrafficSplit))
		for k, v := range p.ABTest.TrafficSplit {
			out.ABTest.TrafficSplit[k] = v
		}
	}
	return out
}

// WithSimilarityThreshold returns a copy with a new base threshold.
func (p Policy) WithSimilarityThreshold(threshold float64) Policy {
	out := p.Clone()
	out.Similarity.Threshold = threshold
	return out
}

// WithClusterAdjustment returns a copy with cluster's adjustment set to delta.
func (p Policy) WithClusterAdjustment(cluster string, delta float64) Policy {
	out := p.Clone()
	if out.Similarity.ClusterAdjustments == nil {
		out.Similarity.ClusterAdjustments = make(map[string]float64)
	}
	out.Similarity.ClusterAdjustments[cluster] = delta
	return out
}
