package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessond/internal/policy"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// quietInput raises nothing under the default policy.
func quietInput() Input {
	return Input{
		Retrievals:   20,
		Outcomes:     20,
		Improvement:  0.07,
		Relevance:    0.8,
		P95LatencyMS: 120,
		Coverage:     0.9,
		BloatRatio:   0.8,
	}
}

func rules(alerts []Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Rule)
	}
	return out
}

func TestEvaluate_Quiet(t *testing.T) {
	assert.Empty(t, Evaluate(policy.Default(), quietInput(), testNow))
}

func TestEvaluate_IdleWindowRaisesNothing(t *testing.T) {
	assert.Empty(t, Evaluate(policy.Default(), Input{BloatRatio: 1}, testNow))
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Input)
		want     []string
		severity Severity
	}{
		{"degradation", func(in *Input) { in.Improvement = -0.06 }, []string{RuleSuccessDegradation}, SeverityCritical},
		{"relevance critical", func(in *Input) { in.Relevance = 0.45 }, []string{RuleRelevanceCritical}, SeverityCritical},
		{"latency critical", func(in *Input) { in.P95LatencyMS = 2500 }, []string{RuleLatencyCritical}, SeverityCritical},
		{"error increase", func(in *Input) { in.ErrorReductionPct = -60 }, []string{RuleErrorIncrease}, SeverityCritical},
		{"sustained below target", func(in *Input) { in.ImprovementBelowTarget = true }, []string{RuleImprovementBelowTarget}, SeverityWarning},
		{"relevance low", func(in *Input) { in.Relevance = 0.55 }, []string{RuleRelevanceLow}, SeverityWarning},
		{"latency high", func(in *Input) { in.P95LatencyMS = 800 }, []string{RuleLatencyHigh}, SeverityWarning},
		{"coverage low", func(in *Input) { in.Coverage = 0.3 }, []string{RuleCoverageLow}, SeverityWarning},
		{"satisfaction low", func(in *Input) { in.Satisfaction, in.HasSatisfaction = 0.5, true }, []string{RuleSatisfactionLow}, SeverityWarning},
		{"improvement high", func(in *Input) { in.Improvement = 0.15 }, []string{RuleImprovementHigh}, SeverityInfo},
		{"bloat", func(in *Input) { in.BloatRatio = 0.4 }, []string{RuleBloatLow}, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := quietInput()
			tt.mutate(&in)
			got := Evaluate(policy.Default(), in, testNow)
			require.Equal(t, tt.want, rules(got))
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.Equal(t, testNow, got[0].RaisedAt)
			assert.NotEmpty(t, got[0].Message)
		})
	}
}

func TestEvaluate_BoundariesDoNotFire(t *testing.T) {
	in := quietInput()
	in.Improvement = -0.05
	in.Relevance = 0.60
	in.P95LatencyMS = 500
	in.Coverage = 0.35
	in.ErrorReductionPct = -50
	in.Satisfaction, in.HasSatisfaction = 0.6, true
	in.BloatRatio = 0.5

	assert.Empty(t, Evaluate(policy.Default(), in, testNow))
}

func TestEvaluate_OrderAndValues(t *testing.T) {
	in := Input{
		Retrievals:             5,
		Outcomes:               30,
		Improvement:            -0.2,
		ImprovementBelowTarget: true,
		Relevance:              0.3,
		P95LatencyMS:           3000,
		Coverage:               0.1,
		ErrorReductionPct:      -80,
		BloatRatio:             0.2,
	}
	got := Evaluate(policy.Default(), in, testNow)

	assert.Equal(t, []string{
		RuleSuccessDegradation,
		RuleRelevanceCritical,
		RuleLatencyCritical,
		RuleErrorIncrease,
		RuleImprovementBelowTarget,
		RuleCoverageLow,
		RuleBloatLow,
	}, rules(got))

	assert.Equal(t, 3000.0, got[2].Value)
	assert.Equal(t, 2000.0, got[2].Threshold)
	assert.Equal(t, 80.0, got[3].Value)
	assert.Equal(t, 50.0, got[3].Threshold)
}

func TestEvaluate_UsesPolicyThresholds(t *testing.T) {
	p := policy.Default()
	p.Targets.MaxDegradation = 0.2

	in := quietInput()
	in.Improvement = -0.1
	assert.Empty(t, Evaluate(p, in, testNow))
}
