package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/alerting"
	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/extraction"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
	"github.com/fyrsmithlabs/lessond/internal/policy"
)

const instrumentationName = "github.com/fyrsmithlabs/lessond/internal/engine"

const (
	DefaultExtractionTimeout = 60 * time.Second
	DefaultLookback          = 7 * 24 * time.Hour
)

// Extractor turns a finished run into proposed lessons. It never fails;
// *extraction.Extractor satisfies it.
type Extractor interface {
	Extract(ctx context.Context, in extraction.RunInput) []*lesson.Lesson
}

// PolicySource supplies the active policy. *policy.Holder satisfies it.
type PolicySource interface {
	Current() policy.Policy
}

// AlertRouter delivers alerts. *alerting.Router satisfies it.
type AlertRouter interface {
	Route(ctx context.Context, alerts []alerting.Alert) error
}

var (
	_ Extractor    = (*extraction.Extractor)(nil)
	_ PolicySource = (*policy.Holder)(nil)
	_ AlertRouter  = (*alerting.Router)(nil)
)

// Deps are the components the Engine coordinates. Router is optional.
type Deps struct {
	Store     *lesson.Store
	Collector *metrics.Collector
	Extractor Extractor
	Policy    PolicySource
	Router    AlertRouter
	Logger    *zap.Logger
}

// Config tunes the Engine. Zero values take the package defaults.
type Config struct {
	ExtractionTimeout time.Duration
	Lookback          time.Duration
	Thresholds        *diagnostics.Thresholds
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source for curation and evaluation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine moves data between the extractor, the lesson store, the metrics
// collector, diagnostics and alerting.
type Engine struct {
	store     *lesson.Store
	collector *metrics.Collector
	extractor Extractor
	policy    PolicySource
	router    AlertRouter
	diag      *diagnostics.Engine
	logger    *zap.Logger
	tracer    trace.Tracer
	cfg       Config
	now       func() time.Time

	mu     sync.RWMutex
	last   Report
	hasRun bool
}

// New validates deps and returns an Engine.
func New(deps Deps, cfg Config, opts ...Option) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("lesson store is required")
	case deps.Collector == nil:
		return nil, errors.New("metrics collector is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Policy == nil:
		return nil, errors.New("policy source is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = DefaultExtractionTimeout
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}

	e := &Engine{
		store:     deps.Store,
		collector: deps.Collector,
		extractor: deps.Extractor,
		policy:    deps.Policy,
		router:    deps.Router,
		logger:    deps.Logger,
		tracer:    otel.Tracer(instrumentationName),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	dopts := []diagnostics.Option{diagnostics.WithClock(e.now)}
	if cfg.Thresholds != nil {
		dopts = append(dopts, diagnostics.WithThresholds(*cfg.Thresholds))
	}
	e.diag = diagnostics.NewEngine(deps.Collector, dopts...)
	return e, nil
}

// Dashboard returns the current diagnostics dashboard over the configured
// lookback without recording anything.
func (e *Engine) Dashboard() diagnostics.Dashboard {
	return e.diag.Dashboard(e.cfg.Lookback)
}

// LastReport returns the most recent Evaluate result.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.hasRun
}

// RecordRetrieval appends a retrieval event and counts one use of every
// retrieved lesson. Ids the store does not know are skipped.
func (e *Engine) RecordRetrieval(ctx context.Context, ev metrics.RetrievalEvent) error {
	if err := e.collector.RecordRetrieval(ctx, ev); err != nil {
		return fmt.Errorf("recording retrieval: %w", err)
	}

	var errs []error
	for _, id := range ev.RetrievedIDs {
		err := e.store.RecordUsage(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, lesson.ErrNotFound):
			e.logger.Debug("retrieved lesson not in store", zap.String("id", id))
		default:
			errs = append(errs, fmt.Errorf("recording usage of %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RecordOutcome appends a workflow outcome.
func (e *Engine) RecordOutcome(ctx context.Context, o metrics.WorkflowOutcome) error {
	if err := e.collector.RecordOutcome(ctx, o); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// RecordFeedback folds an effectiveness observation into a lesson.
func (e *Engine) RecordFeedback(ctx context.Context, id string, effectiveness float64) error {
	return e.store.RecordFeedback(ctx, id, effectiveness)
}
