// Package alerting evaluates policy alert thresholds against current
// indicators and routes the resulting alerts to teams.
package alerting

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lessond/internal/policy"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityCritical Severity = policy.SeverityCritical
	SeverityWarning  Severity = policy.SeverityWarning
	SeverityInfo     Severity = policy.SeverityInfo
)

// Rule names.
const (
	RuleSuccessDegradation     = "success_degradation"
	RuleRelevanceCritical      = "relevance_critical"
	RuleLatencyCritical        = "latency_critical"
	RuleErrorIncrease          = "error_increase"
	RuleImprovementBelowTarget = "improvement_below_target"
	RuleRelevanceLow           = "relevance_low"
	RuleLatencyHigh            = "latency_high"
	RuleCoverageLow            = "coverage_low"
	RuleSatisfactionLow        = "satisfaction_low"
	RuleImprovementHigh        = "improvement_high"
	RuleBloatLow               = "bloat_low"
)

// Alert is one breached threshold.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Input is the indicator state alerts are evaluated against.
//
// Retrieval rules are skipped when Retrievals is zero and outcome rules
// when Outcomes is zero, so an idle window raises nothing.
type Input struct {
	Retrievals int
	Outcomes   int

	Improvement            float64
	ImprovementBelowTarget bool
	Relevance              float64
	P95LatencyMS           float64
	Coverage               float64
	ErrorReductionPct      float64
	Satisfaction           float64
	HasSatisfaction        bool
	BloatRatio             float64
}

// Evaluate returns the alerts p raises for in, critical first. A metric
// that breaches its critical bound does not also raise the matching warning.
func Evaluate(p policy.Policy, in Input, now time.Time) []Alert {
	var out []Alert
	raise := func(sev Severity, rule string, value, threshold float64, format string, args ...any) {
		out = append(out, Alert{
			Severity:  sev,
			Rule:      rule,
			Message:   fmt.Sprintf(format, args...),
			Value:     value,
			Threshold: threshold,
			RaisedAt:  now,
		})
	}

	crit := p.Alerts.Critical
	warn := p.Alerts.Warning
	info := p.Alerts.Info

	maxP95 := crit.MaxP95Latency.Milliseconds()
	maxLatency := p.Targets.MaxLatency.Milliseconds()

	relevanceCritical := in.Retrievals > 0 && in.Relevance < crit.MinRelevance
	latencyCritical := in.Retrievals > 0 && in.P95LatencyMS > maxP95

	if in.Outcomes > 0 && in.Improvement < -p.Targets.MaxDegradation {
		raise(SeverityCritical, RuleSuccessDegradation, in.Improvement, -p.Targets.MaxDegradation,
			"success rate with lessons is %.1f points below runs without them", -in.Improvement*100)
	}
	if relevanceCritical {
		raise(SeverityCritical, RuleRelevanceCritical, in.Relevance, crit.MinRelevance,
			"retrieval relevance %.2f below critical floor %.2f", in.Relevance, crit.MinRelevance)
	}
	if latencyCritical {
		raise(SeverityCritical, RuleLatencyCritical, in.P95LatencyMS, maxP95,
			"p95 retrieval latency %.0fms above %.0fms", in.P95LatencyMS, maxP95)
	}
	if in.Outcomes > 0 && in.ErrorReductionPct < -crit.MaxErrorIncreasePct {
		raise(SeverityCritical, RuleErrorIncrease, -in.ErrorReductionPct, crit.MaxErrorIncreasePct,
			"error rate increased %.0f%%", -in.ErrorReductionPct)
	}

	if in.ImprovementBelowTarget {
		raise(SeverityWarning, RuleImprovementBelowTarget, in.Improvement, p.Targets.MinImprovement,
			"success improvement below %.2f target for %s", p.Targets.MinImprovement, warn.BelowTargetSpan.Duration())
	}
	if in.Retrievals > 0 && !relevanceCritical && in.Relevance < warn.MinRelevance {
		raise(SeverityWarning, RuleRelevanceLow, in.Relevance, warn.MinRelevance,
			"retrieval relevance %.2f below %.2f", in.Relevance, warn.MinRelevance)
	}
	if in.Retrievals > 0 && !latencyCritical && in.P95LatencyMS > maxLatency {
		raise(SeverityWarning, RuleLatencyHigh, in.P95LatencyMS, maxLatency,
			"p95 retrieval latency %.0fms above %.0fms target", in.P95LatencyMS, maxLatency)
	}
	if in.Retrievals > 0 && in.Coverage < warn.MinCoverage {
		raise(SeverityWarning, RuleCoverageLow, in.Coverage, warn.MinCoverage,
			"only %.0f%% of retrievals returned lessons", in.Coverage*100)
	}
	if in.HasSatisfaction && in.Satisfaction < warn.MinSatisfaction {
		raise(SeverityWarning, RuleSatisfactionLow, in.Satisfaction, warn.MinSatisfaction,
			"human satisfaction %.2f below %.2f", in.Satisfaction, warn.MinSatisfaction)
	}

	if in.Outcomes > 0 && in.Improvement > info.MinImprovement {
		raise(SeverityInfo, RuleImprovementHigh, in.Improvement, info.MinImprovement,
			"lessons lift success rate by %.1f points", in.Improvement*100)
	}
	if in.BloatRatio < info.MaxBloatRatio {
		raise(SeverityInfo, RuleBloatLow, in.BloatRatio, info.MaxBloatRatio,
			"only %.0f%% of stored lessons are active", in.BloatRatio*100)
	}

	return out
}
