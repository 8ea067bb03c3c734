package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/alerting"
	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
	"github.com/fyrsmithlabs/lessond/internal/policy"
)

// Report is the result of one evaluation cycle.
type Report struct {
	Dashboard diagnostics.Dashboard `json:"dashboard"`

	// BloatRatio is approved/total lessons; 1 when the store is empty.
	BloatRatio float64 `json:"bloat_ratio"`

	// StalenessDays is the mean number of days approved lessons have been
	// idle (see lesson.Lesson.IdleSince).
	StalenessDays float64 `json:"staleness_days"`

	Alerts         []alerting.Alert `json:"alerts"`
	TuningEligible bool             `json:"tuning_eligible"`
}

// storeState is what evaluation reads from the lesson store.
type storeState struct {
	stats     lesson.Stats
	staleness float64
	ok        bool
}

// Evaluate computes the dashboard, records this cycle's snapshots, raises
// alerts against the active policy and routes them.
//
// Store read failures are logged and leave the store-derived indicators
// out of the cycle. Snapshot and routing failures are joined and returned
// with the report.
func (e *Engine) Evaluate(ctx context.Context) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "engine.evaluate")
	defer span.End()

	p := e.policy.Current()
	now := e.now()
	dash := e.diag.Dashboard(e.cfg.Lookback)
	state := e.readStore(ctx, now)

	bloat := 1.0
	if state.ok {
		bloat = metrics.BloatRatio(state.stats.ByStatus[lesson.StatusApproved], state.stats.Total)
	}

	var errs []error
	for _, s := range snapshotsFor(dash, state, bloat, now) {
		if err := e.collector.RecordSnapshot(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("recording %s snapshot: %w", s.Kind, err))
		}
	}

	alerts := alerting.Evaluate(p, e.alertInput(p, dash, bloat), now)
	for _, a := range alerts {
		AlertsRaised.WithLabelValues(string(a.Severity), a.Rule).Inc()
	}
	if e.router != nil && len(alerts) > 0 {
		if err := e.router.Route(ctx, alerts); err != nil {
			errs = append(errs, fmt.Errorf("routing alerts: %w", err))
		}
	}

	report := Report{
		Dashboard:      dash,
		BloatRatio:     bloat,
		StalenessDays:  state.staleness,
		Alerts:         alerts,
		TuningEligible: p.CanTune(dash.Lagging.SuccessRate.Total),
	}
	if report.Alerts == nil {
		report.Alerts = []alerting.Alert{}
	}

	e.publish(report, state, now)

	span.SetAttributes(
		attribute.Bool("diagnosis.healthy", dash.Diagnosis.Healthy),
		attribute.Int("alerts", len(alerts)),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation incomplete")
	}

	e.logger.Info("evaluation complete",
		zap.Bool("healthy", dash.Diagnosis.Healthy),
		zap.Strings("issues", dash.Diagnosis.Issues),
		zap.Int("alerts", len(alerts)),
		zap.Float64("bloat_ratio", bloat),
		zap.Bool("tuning_eligible", report.TuningEligible))
	return report, err
}

func (e *Engine) readStore(ctx context.Context, now time.Time) storeState {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		e.logger.Warn("reading lesson stats failed", zap.Error(err))
		return storeState{}
	}
	approved, err := e.store.ListApproved(ctx, lesson.ListOptions{})
	if err != nil {
		e.logger.Warn("listing approved lessons failed", zap.Error(err))
		return storeState{}
	}
	return storeState{stats: stats, staleness: stalenessDays(approved, now), ok: true}
}

func stalenessDays(approved []*lesson.Lesson, now time.Time) float64 {
	if len(approved) == 0 {
		return 0
	}
	var sum float64
	for _, l := range approved {
		sum += now.Sub(l.IdleSince()).Hours() / 24
	}
	return sum / float64(len(approved))
}

// alertInput maps the dashboard onto the alert rules. The sustained
// improvement check reads success_rate snapshots, including the one this
// cycle just recorded.
func (e *Engine) alertInput(p policy.Policy, dash diagnostics.Dashboard, bloat float64) alerting.Input {
	rel := dash.Leading.Relevance
	lag := dash.Lagging
	return alerting.Input{
		Retrievals: rel.Events,
		Outcomes:   lag.SuccessRate.Total,

		Improvement: lag.SuccessRate.Improvement,
		ImprovementBelowTarget: e.collector.SustainedBelow(metrics.KindSuccessRate,
			p.Targets.MinImprovement, p.Alerts.Warning.BelowTargetSpan.Duration()),
		Relevance:         rel.AvgScore,
		P95LatencyMS:      dash.Leading.Latency.P95,
		Coverage:          rel.Coverage,
		ErrorReductionPct: lag.ErrorReduction.ReductionPct,
		Satisfaction:      lag.Satisfaction.Mean,
		HasSatisfaction:   lag.Satisfaction.Responses > 0,
		BloatRatio:        bloat,
	}
}

// snapshotsFor builds the snapshots for one cycle. Retrieval indicators
// are only recorded for windows with retrievals, outcome indicators only
// for windows with outcomes, so idle periods do not drag trends to zero.
func snapshotsFor(dash diagnostics.Dashboard, state storeState, bloat float64, now time.Time) []metrics.Snapshot {
	rel := dash.Leading.Relevance
	lat := dash.Leading.Latency
	lag := dash.Lagging

	snap := func(kind metrics.Kind, v float64, meta map[string]string) metrics.Snapshot {
		return metrics.Snapshot{Kind: kind, Value: v, Timestamp: now, Metadata: meta}
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	out := []metrics.Snapshot{
		snap(metrics.KindRetrievalLoad, float64(rel.Events), nil),
	}
	if rel.Events > 0 {
		out = append(out,
			snap(metrics.KindRelevance, rel.AvgScore, map[string]string{"precision_at_3": f(rel.PrecisionAt3)}),
			snap(metrics.KindLatency, lat.P95, map[string]string{"p50_ms": f(lat.P50), "p99_ms": f(lat.P99)}),
			snap(metrics.KindCoverage, rel.Coverage, nil),
		)
	}
	if sr := lag.SuccessRate; sr.Total > 0 {
		out = append(out,
			snap(metrics.KindSuccessRate, sr.Improvement, map[string]string{
				"overall":         f(sr.Overall),
				"with_lessons":    f(sr.WithLessons),
				"without_lessons": f(sr.WithoutLessons),
				"total":           strconv.Itoa(sr.Total),
			}),
			snap(metrics.KindErrorReduction, lag.ErrorReduction.ReductionPct, nil),
		)
	}
	if sat := lag.Satisfaction; sat.Responses > 0 {
		out = append(out, snap(metrics.KindSatisfaction, sat.Mean, map[string]string{"response_rate": f(sat.ResponseRate)}))
	}
	if state.ok {
		out = append(out,
			snap(metrics.KindMemoryBloat, bloat, map[string]string{"total": strconv.Itoa(state.stats.Total)}),
			snap(metrics.KindStaleness, state.staleness, nil),
		)
	}
	return out
}

func (e *Engine) publish(r Report, state storeState, now time.Time) {
	diagnostics.UpdateGauges(r.Dashboard)
	if state.ok {
		for st, n := range state.stats.ByStatus {
			Lessons.WithLabelValues(string(st)).Set(float64(n))
		}
		BloatRatio.Set(r.BloatRatio)
		StalenessDays.Set(r.StalenessDays)
	}
	LastEvaluation.Set(float64(now.Unix()))

	e.mu.Lock()
	e.last = r
	e.hasRun = true
	e.mu.Unlock()
}
