// Package diagnostics applies fixed health rules to retrieval and usage
// indicators and assembles the dashboard summary.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lessond/internal/metrics"
)

// Thresholds are the health rules. A value past any bound is one issue.
type Thresholds struct {
	MinRelevance      float64
	MinCoverage       float64
	MaxP95LatencyMS   float64
	MinAvgLessonsUsed float64

	// UsageWindow is how many recent outcomes feed the usage rule.
	UsageWindow int
}

// DefaultThresholds are the built-in health rules.
var DefaultThresholds = Thresholds{
	MinRelevance:      0.6,
	MinCoverage:       0.5,
	MaxP95LatencyMS:   500,
	MinAvgLessonsUsed: 0.5,
	UsageWindow:       50,
}

// Input is the indicator state to diagnose.
type Input struct {
	Relevance      metrics.Relevance
	Latency        metrics.Latency
	AvgLessonsUsed float64
}

// Diagnosis is a health verdict. Issues and Recommendations are parallel.
type Diagnosis struct {
	Healthy         bool     `json:"healthy"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

func (d *Diagnosis) add(issue, recommendation string) {
	d.Issues = append(d.Issues, issue)
	d.Recommendations = append(d.Recommendations, recommendation)
}

// Diagnose applies DefaultThresholds to in.
func Diagnose(in Input) Diagnosis {
	return DefaultThresholds.Diagnose(in)
}

// Diagnose checks relevance, coverage, latency and usage, in that order.
func (t Thresholds) Diagnose(in Input) Diagnosis {
	d := Diagnosis{
		Issues:          []string{},
		Recommendations: []string{},
	}

	if in.Relevance.AvgScore < t.MinRelevance {
		d.add(
			fmt.Sprintf("low retrieval relevance: %.2f < %.2f", in.Relevance.AvgScore, t.MinRelevance),
			"raise the similarity threshold or archive low-quality lessons",
		)
	}
	if in.Relevance.Coverage < t.MinCoverage {
		d.add(
			fmt.Sprintf("low retrieval coverage: %.0f%% of lookups returned lessons, want %.0f%%",
				in.Relevance.Coverage*100, t.MinCoverage*100),
			"approve lessons for under-served clusters or lower the similarity threshold",
		)
	}
	if in.Latency.P95 > t.MaxP95LatencyMS {
		d.add(
			fmt.Sprintf("high retrieval latency: p95 %.0fms > %.0fms", in.Latency.P95, t.MaxP95LatencyMS),
			"archive stale lessons to shrink the search space",
		)
	}
	if in.AvgLessonsUsed < t.MinAvgLessonsUsed {
		d.add(
			fmt.Sprintf("retrieved lessons rarely used: %.2f per outcome over the last %d runs",
				in.AvgLessonsUsed, t.UsageWindow),
			"review whether approved lessons match the situations workflows encounter",
		)
	}

	d.Healthy = len(d.Issues) == 0
	return d
}

// Source provides the indicators the Engine reads. *metrics.Collector
// satisfies it.
type Source interface {
	Leading(lookback time.Duration) metrics.Leading
	Lagging(lookback time.Duration) metrics.Lagging
	AvgLessonsUsed(n int) float64
	Counts() metrics.Counts
}

var _ Source = (*metrics.Collector)(nil)

// Dashboard composes the diagnosis with the raw indicator bundles.
type Dashboard struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Diagnosis   Diagnosis       `json:"diagnosis"`
	Leading     metrics.Leading `json:"leading"`
	Lagging     metrics.Lagging `json:"lagging"`
	Counts      metrics.Counts  `json:"counts"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithClock overrides the time source for Dashboard.GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine diagnoses the indicators of a Source.
type Engine struct {
	source     Source
	thresholds Thresholds
	now        func() time.Time
}

// NewEngine returns an Engine reading from source.
func NewEngine(source Source, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		thresholds: DefaultThresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diagnose evaluates the current window.
func (e *Engine) Diagnose(lookback time.Duration) Diagnosis {
	leading := e.source.Leading(lookback)
	return e.diagnose(leading)
}

func (e *Engine) diagnose(leading metrics.Leading) Diagnosis {
	return e.thresholds.Diagnose(Input{
		Relevance:      leading.Relevance,
		Latency:        leading.Latency,
		AvgLessonsUsed: e.source.AvgLessonsUsed(e.thresholds.UsageWindow),
	})
}

// Dashboard returns the diagnosis alongside leading and lagging indicators
// and record counts.
func (e *Engine) Dashboard(lookback time.Duration) Dashboard {
	leading := e.source.Leading(lookback)
	return Dashboard{
		GeneratedAt: e.now(),
		Diagnosis:   e.diagnose(leading),
		Leading:     leading,
		Lagging:     e.source.Lagging(lookback),
		Counts:      e.source.Counts(),
	}
}
