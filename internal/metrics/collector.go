package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/lessond/internal/metrics"

const (
	// minErrorReductionSample is the fewest outcomes needed to compare halves.
	minErrorReductionSample = 10

	// topErrorLimit bounds ErrorReduction.TopErrors.
	topErrorLimit = 5
)

// document is the persisted metrics structure.
type document struct {
	WorkflowOutcomes []WorkflowOutcome `json:"workflow_outcomes"`
	RetrievalEvents  []RetrievalEvent  `json:"retrieval_events"`
	MetricSnapshots  []Snapshot        `json:"metric_snapshots"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the time source used for window cutoffs and default
// record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// Collector owns the append-only outcome, retrieval and snapshot logs and
// answers windowed queries over them.
//
// Appends are written through before returning; a failed write drops the
// appended record and returns the error. Queries take the read lock only.
type Collector struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
	now    func() time.Time

	outcomes   []WorkflowOutcome
	retrievals []RetrievalEvent
	snapshots  []Snapshot

	recordCounter metric.Int64Counter
}

// NewCollector opens the metrics document at path. An empty path keeps the
// logs in memory only. A missing or corrupt document starts empty; corruption
// is logged as a warning.
func NewCollector(path string, logger *zap.Logger, opts ...Option) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initMetrics()

	if path == "" {
		return c, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating metrics directory: %w", err)
	}

	if err := c.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("metrics document not found, starting empty", zap.String("path", path))
		} else {
			logger.Warn("metrics document unreadable, starting empty",
				zap.String("path", path),
				zap.Error(err))
		}
		c.outcomes, c.retrievals, c.snapshots = nil, nil, nil
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	c.recordCounter, err = meter.Int64Counter(
		"lessond.metrics.records_total",
		metric.WithDescription("Total number of appended metrics records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		c.logger.Warn("failed to create record counter", zap.Error(err))
	}
}

func (c *Collector) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	c.outcomes = doc.WorkflowOutcomes
	c.retrievals = doc.RetrievalEvents
	c.snapshots = doc.MetricSnapshots
	return nil
}

// save writes the document atomically. Caller holds c.mu.
func (c *Collector) save() error {
	if c.path == "" {
		return nil
	}

	doc := document{
		WorkflowOutcomes: nonNil(c.outcomes),
		RetrievalEvents:  nonNil(c.retrievals),
		MetricSnapshots:  nonNil(c.snapshots),
		UpdatedAt:        c.now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metrics document: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing metrics document: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming metrics document: %w", err)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (c *Collector) countRecord(ctx context.Context, kind string) {
	if c.recordCounter != nil {
		c.recordCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("record", kind)))
	}
}

// RecordOutcome appends a workflow outcome. A zero timestamp is set to now.
func (c *Collector) RecordOutcome(ctx context.Context, o WorkflowOutcome) error {
	if err := o.validate(); err != nil {
		return err
	}
	o = o.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if o.Timestamp.IsZero() {
		o.Timestamp = c.now()
	}
	c.outcomes = append(c.outcomes, o)
	if err := c.save(); err != nil {
		c.outcomes = c.outcomes[:len(c.outcomes)-1]
		return err
	}

	c.countRecord(ctx, "outcome")
	c.logger.Debug("workflow outcome recorded",
		zap.String("run_id", o.RunID),
		zap.String("workflow_id", o.WorkflowID),
		zap.Bool("success", o.Success))
	return nil
}

// RecordRetrieval appends a retrieval event. A zero timestamp is set to now.
func (c *Collector) RecordRetrieval(ctx context.Context, e RetrievalEvent) error {
	if err := e.validate(); err != nil {
		return err
	}
	e = e.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	c.retrievals = append(c.retrievals, e)
	if err := c.save(); err != nil {
		c.retrievals = c.retrievals[:len(c.retrievals)-1]
		return err
	}

	c.countRecord(ctx, "retrieval")
	return nil
}

// RecordSnapshot appends a metric snapshot. A zero timestamp is set to now.
func (c *Collector) RecordSnapshot(ctx context.Context, s Snapshot) error {
	if err := s.validate(); err != nil {
		return err
	}
	s = s.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Timestamp.IsZero() {
		s.Timestamp = c.now()
	}
	c.snapshots = append(c.snapshots, s)
	if err := c.save(); err != nil {
		c.snapshots = c.snapshots[:len(c.snapshots)-1]
		return err
	}

	c.countRecord(ctx, "snapshot")
	return nil
}

// cutoff returns the oldest timestamp inside the window. Caller holds c.mu.
func (c *Collector) cutoff(lookback time.Duration) time.Time {
	return c.now().Add(-lookback)
}

func (c *Collector) outcomesSince(lookback time.Duration) []WorkflowOutcome {
	from := c.cutoff(lookback)
	var out []WorkflowOutcome
	for _, o := range c.outcomes {
		if !o.Timestamp.Before(from) {
			out = append(out, o)
		}
	}
	return out
}

func (c *Collector) retrievalsSince(lookback time.Duration) []RetrievalEvent {
	from := c.cutoff(lookback)
	var out []RetrievalEvent
	for _, e := range c.retrievals {
		if !e.Timestamp.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// Relevance averages retrieval scores, precision@3 over events with ground
// truth, and the fraction of events that surfaced at least one lesson.
func (c *Collector) Relevance(lookback time.Duration) Relevance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return relevanceOf(c.retrievalsSince(lookback))
}

func relevanceOf(events []RetrievalEvent) Relevance {
	if len(events) == 0 {
		return Relevance{}
	}

	var (
		scoreSum     float64
		scoreCount   int
		precisionSum float64
		judged       int
		covered      int
	)
	for _, e := range events {
		for _, s := range e.Scores {
			scoreSum += s
			scoreCount++
		}
		if len(e.RetrievedIDs) > 0 {
			covered++
		}
		if len(e.GroundTruth) > 0 {
			precisionSum += precisionAt3(e.RetrievedIDs, e.GroundTruth)
			judged++
		}
	}

	r := Relevance{
		Coverage: float64(covered) / float64(len(events)),
		Events:   len(events),
	}
	if scoreCount > 0 {
		r.AvgScore = scoreSum / float64(scoreCount)
	}
	if judged > 0 {
		r.PrecisionAt3 = precisionSum / float64(judged)
	}
	return r
}

// precisionAt3 is |top3 ∩ truth| / |top3|; an event that retrieved nothing
// scores zero.
func precisionAt3(retrieved, truth []string) float64 {
	top := retrieved
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) == 0 {
		return 0
	}
	relevant := make(map[string]struct{}, len(truth))
	for _, id := range truth {
		relevant[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(top))
	hits := 0
	for _, id := range top {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := relevant[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(top))
}

// Latency returns p50/p95/p99 retrieval latency over the window.
func (c *Collector) Latency(lookback time.Duration) Latency {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := c.retrievalsSince(lookback)
	samples := make([]float64, 0, len(events))
	for _, e := range events {
		samples = append(samples, e.LatencyMS)
	}
	return latencyOf(samples)
}

func latencyOf(samples []float64) Latency {
	n := len(samples)
	if n == 0 {
		return Latency{}
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	return Latency{
		P50:     sorted[percentileIndex(n, 0.50)],
		P95:     sorted[percentileIndex(n, 0.95)],
		P99:     sorted[percentileIndex(n, 0.99)],
		Samples: n,
	}
}

// percentileIndex is floor(n*q), clamped to the last element.
func percentileIndex(n int, q float64) int {
	i := int(float64(n) * q)
	if i > n-1 {
		i = n - 1
	}
	return i
}

// SuccessRate splits outcomes by whether any lessons were retrieved.
func (c *Collector) SuccessRate(lookback time.Duration) SuccessRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return successRateOf(c.outcomesSince(lookback))
}

func successRateOf(outcomes []WorkflowOutcome) SuccessRate {
	var total, ok, with, withOK, without, withoutOK int
	for _, o := range outcomes {
		total++
		if o.Success {
			ok++
		}
		if len(o.LessonsRetrieved) > 0 {
			with++
			if o.Success {
				withOK++
			}
		} else {
			without++
			if o.Success {
				withoutOK++
			}
		}
	}

	r := SuccessRate{
		Overall:        ratio(ok, total),
		WithLessons:    ratio(withOK, with),
		WithoutLessons: ratio(withoutOK, without),
		Total:          total,
	}
	r.Improvement = r.WithLessons - r.WithoutLessons
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// ErrorReduction compares mean error counts between the older and newer
// halves of the window. Fewer than ten outcomes yield the zero value.
func (c *Collector) ErrorReduction(lookback time.Duration) ErrorReduction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return errorReductionOf(c.outcomesSince(lookback))
}

func errorReductionOf(outcomes []WorkflowOutcome) ErrorReduction {
	if len(outcomes) < minErrorReductionSample {
		return ErrorReduction{}
	}

	ordered := make([]WorkflowOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	mid := len(ordered) / 2
	older, newer := ordered[:mid], ordered[mid:]

	r := ErrorReduction{
		OldRate:   meanErrors(older),
		NewRate:   meanErrors(newer),
		TopErrors: topErrors(ordered, topErrorLimit),
	}
	if r.OldRate > 0 {
		r.ReductionPct = (r.OldRate - r.NewRate) / r.OldRate * 100
	}
	return r
}

func meanErrors(outcomes []WorkflowOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0
	for _, o := range outcomes {
		sum += o.ErrorCount
	}
	return float64(sum) / float64(len(outcomes))
}

// topErrors ranks error tags by frequency; ties keep first-seen order.
func topErrors(outcomes []WorkflowOutcome, limit int) []ErrorCount {
	counts := make(map[string]int)
	var order []string
	for _, o := range outcomes {
		for _, tag := range o.ErrorTypes {
			if _, ok := counts[tag]; !ok {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}

	out := make([]ErrorCount, 0, len(order))
	for _, tag := range order {
		out = append(out, ErrorCount{Tag: tag, Count: counts[tag]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Satisfaction averages the human ratings reported in the window.
func (c *Collector) Satisfaction(lookback time.Duration) Satisfaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := c.outcomesSince(lookback)
	var sum float64
	responses := 0
	for _, o := range outcomes {
		if o.Satisfaction != nil {
			sum += *o.Satisfaction
			responses++
		}
	}

	s := Satisfaction{
		ResponseRate: ratio(responses, len(outcomes)),
		Responses:    responses,
	}
	if responses > 0 {
		s.Mean = sum / float64(responses)
	}
	return s
}

// Leading bundles relevance and latency.
func (c *Collector) Leading(lookback time.Duration) Leading {
	return Leading{
		Relevance: c.Relevance(lookback),
		Latency:   c.Latency(lookback),
	}
}

// Lagging bundles success rate, error reduction and satisfaction.
func (c *Collector) Lagging(lookback time.Duration) Lagging {
	return Lagging{
		SuccessRate:    c.SuccessRate(lookback),
		ErrorReduction: c.ErrorReduction(lookback),
		Satisfaction:   c.Satisfaction(lookback),
	}
}

// RecentOutcomes returns copies of the last n recorded outcomes, oldest first.
func (c *Collector) RecentOutcomes(n int) []WorkflowOutcome {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(c.outcomes) - n
	if start < 0 {
		start = 0
	}
	out := make([]WorkflowOutcome, 0, len(c.outcomes)-start)
	for _, o := range c.outcomes[start:] {
		out = append(out, o.clone())
	}
	return out
}

// AvgLessonsUsed is the mean lessons_used over the last n outcomes, or 0.
func (c *Collector) AvgLessonsUsed(n int) float64 {
	recent := c.RecentOutcomes(n)
	if len(recent) == 0 {
		return 0
	}
	sum := 0
	for _, o := range recent {
		sum += o.LessonsUsed
	}
	return float64(sum) / float64(len(recent))
}

// Counts reports how many records each log holds.
func (c *Collector) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Counts{
		Outcomes:        len(c.outcomes),
		RetrievalEvents: len(c.retrievals),
		Snapshots:       len(c.snapshots),
	}
}

// Snapshots returns copies of the snapshots of kind within the window.
func (c *Collector) Snapshots(kind Kind, lookback time.Duration) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	from := c.cutoff(lookback)
	var out []Snapshot
	for _, s := range c.snapshots {
		if s.Kind == kind && !s.Timestamp.Before(from) {
			out = append(out, s.clone())
		}
	}
	return out
}

// SustainedBelow reports whether kind has stayed below threshold for the
// whole span. History must reach back past the span start and every
// snapshot inside the span must be below threshold.
func (c *Collector) SustainedBelow(kind Kind, threshold float64, span time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	from := c.cutoff(span)
	covered := false
	inSpan := 0
	for _, s := range c.snapshots {
		if s.Kind != kind {
			continue
		}
		if s.Timestamp.Before(from) {
			covered = true
			continue
		}
		if s.Value >= threshold {
			return false
		}
		inSpan++
	}
	return covered && inSpan > 0
}

// BloatRatio is active/total, or 1.0 when there are no lessons.
func BloatRatio(active, total int) float64 {
	if total <= 0 {
		return 1.0
	}
	return float64(active) / float64(total)
}
