package lesson

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/lessond/internal/lesson"

// Feedback smoothing weights: new = historyWeight*old + (1-historyWeight)*incoming.
const (
	historyWeight  = 0.7
	incomingWeight = 0.3
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for review and usage timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Store enforces the lesson lifecycle on top of a Repository.
//
// All mutations hold one lock across the read-modify-write and the durable
// write, so concurrent callers are serialized. Reads take the read lock.
type Store struct {
	mu     sync.RWMutex
	repo   Repository
	logger *zap.Logger
	now    func() time.Time

	proposedCounter   metric.Int64Counter
	transitionCounter metric.Int64Counter
	usageCounter      metric.Int64Counter
	feedbackCounter   metric.Int64Counter
}

// NewStore creates a Store backed by repo.
func NewStore(repo Repository, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("lesson repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()

	return s, nil
}

func (s *Store) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	s.proposedCounter, err = meter.Int64Counter(
		"lessond.lessons.proposed_total",
		metric.WithDescription("Total number of lessons proposed"),
		metric.WithUnit("{lesson}"),
	)
	if err != nil {
		s.logger.Warn("failed to create proposed counter", zap.Error(err))
	}

	s.transitionCounter, err = meter.Int64Counter(
		"lessond.lessons.transitions_total",
		metric.WithDescription("Total number of lesson status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		s.logger.Warn("failed to create transition counter", zap.Error(err))
	}

	s.usageCounter, err = meter.Int64Counter(
		"lessond.lessons.usage_total",
		metric.WithDescription("Total number of recorded lesson usages"),
		metric.WithUnit("{use}"),
	)
	if err != nil {
		s.logger.Warn("failed to create usage counter", zap.Error(err))
	}

	s.feedbackCounter, err = meter.Int64Counter(
		"lessond.lessons.feedback_total",
		metric.WithDescription("Total number of effectiveness feedback events"),
		metric.WithUnit("{feedback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create feedback counter", zap.Error(err))
	}
}

// AddProposed inserts l with status proposed and persists it before returning.
func (s *Store) AddProposed(ctx context.Context, l *Lesson) error {
	if l == nil {
		return fmt.Errorf("%w: nil lesson", ErrInvalidLesson)
	}
	l = l.Clone()
	l.Status = StatusProposed
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if err := l.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Insert(ctx, l); err != nil {
		if errors.Is(err, ErrDuplicateID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, l.ID)
		}
		return fmt.Errorf("persisting proposed lesson: %w", err)
	}

	if s.proposedCounter != nil {
		s.proposedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(l.Type)),
			attribute.String("cluster", l.Metadata.WorkflowCluster),
		))
	}
	s.logger.Info("lesson proposed",
		zap.String("id", l.ID),
		zap.String("type", string(l.Type)),
		zap.String("cluster", l.Metadata.WorkflowCluster),
		zap.Float64("confidence", l.Metadata.ConfidenceScore))
	return nil
}

// Approve moves a proposed lesson to approved.
func (s *Store) Approve(ctx context.Context, id, reviewer, notes string) error {
	if reviewer == "" {
		return ErrReviewerRequired
	}
	return s.transition(ctx, id, StatusApproved, func(l *Lesson, now time.Time) {
		l.ReviewedAt = &now
		l.ReviewedBy = reviewer
		l.ReviewNotes = notes
	})
}

// Reject moves a proposed lesson to rejected. A reason is required.
func (s *Store) Reject(ctx context.Context, id, reviewer, reason string) error {
	if reviewer == "" {
		return ErrReviewerRequired
	}
	if reason == "" {
		return ErrReasonRequired
	}
	return s.transition(ctx, id, StatusRejected, func(l *Lesson, now time.Time) {
		l.ReviewedAt = &now
		l.ReviewedBy = reviewer
		l.ReviewNotes = reason
	})
}

// Archive retires an approved lesson.
func (s *Store) Archive(ctx context.Context, id, reason string) error {
	err := s.transition(ctx, id, StatusArchived, nil)
	if err == nil {
		s.logger.Info("lesson archived", zap.String("id", id), zap.String("reason", reason))
	}
	return err
}

func (s *Store) transition(ctx context.Context, id string, to Status, apply func(*Lesson, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("getting lesson: %w", err)
	}

	from := l.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	l.Status = to
	if apply != nil {
		apply(l, s.now())
	}
	if err := s.repo.Update(ctx, l); err != nil {
		return fmt.Errorf("persisting transition: %w", err)
	}

	if s.transitionCounter != nil {
		s.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
	}
	s.logger.Info("lesson transitioned",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// Get returns a copy of the lesson.
func (s *Store) Get(ctx context.Context, id string) (*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting lesson %s: %w", id, err)
	}
	return l, nil
}

// ListPendingReview returns every proposed lesson.
func (s *Store) ListPendingReview(ctx context.Context) ([]*Lesson, error) {
	return s.listByStatus(ctx, StatusProposed)
}

func (s *Store) listByStatus(ctx context.Context, status Status) ([]*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing lessons: %w", err)
	}
	out := make([]*Lesson, 0, len(all))
	for _, l := range all {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

// ListApproved returns approved lessons matching opts, most used first.
// Lessons with equal usage keep their insertion order.
func (s *Store) ListApproved(ctx context.Context, opts ListOptions) ([]*Lesson, error) {
	approved, err := s.listByStatus(ctx, StatusApproved)
	if err != nil {
		return nil, err
	}

	out := approved[:0]
	for _, l := range approved {
		if opts.Cluster != "" && l.Metadata.WorkflowCluster != opts.Cluster {
			continue
		}
		if len(opts.Tags) > 0 && !l.HasAnyTag(opts.Tags) {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsageCount > out[j].UsageCount
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// RecordUsage increments the usage counter and stamps last_used_at.
// Returns ErrNotFound without side effects if the id is unknown.
func (s *Store) RecordUsage(ctx context.Context, id string) error {
	err := s.mutate(ctx, id, func(l *Lesson) error {
		now := s.now()
		l.UsageCount++
		l.LastUsedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	if s.usageCounter != nil {
		s.usageCounter.Add(ctx, 1)
	}
	return nil
}

// RecordFeedback folds an effectiveness observation into the lesson score.
// The first observation is taken as is; later ones are smoothed toward the
// history so a single noisy event moves the estimate gradually.
func (s *Store) RecordFeedback(ctx context.Context, id string, effectiveness float64) error {
	if !inUnitRange(effectiveness) {
		return fmt.Errorf("%w: %v", ErrInvalidEffectiveness, effectiveness)
	}

	var score float64
	err := s.mutate(ctx, id, func(l *Lesson) error {
		score = SmoothEffectiveness(l.EffectivenessScore, effectiveness)
		l.EffectivenessScore = &score
		return nil
	})
	if err != nil {
		return err
	}

	if s.feedbackCounter != nil {
		s.feedbackCounter.Add(ctx, 1)
	}
	s.logger.Debug("lesson feedback recorded",
		zap.String("id", id),
		zap.Float64("incoming", effectiveness),
		zap.Float64("effectiveness", score))
	return nil
}

// SmoothEffectiveness applies exponential smoothing to an effectiveness score.
func SmoothEffectiveness(prev *float64, incoming float64) float64 {
	if prev == nil {
		return clamp01(incoming)
	}
	return clamp01(historyWeight*(*prev) + incomingWeight*incoming)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Store) mutate(ctx context.Context, id string, fn func(*Lesson) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("getting lesson: %w", err)
	}
	if err := fn(l); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, l); err != nil {
		return fmt.Errorf("persisting lesson: %w", err)
	}
	return nil
}

// Stats counts lessons by status, and approved lessons by type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.repo.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing lessons: %w", err)
	}

	stats := Stats{
		Total:    len(all),
		ByStatus: make(map[Status]int, len(Statuses)),
		ByType:   make(map[Type]int, len(Types)),
	}
	for _, st := range Statuses {
		stats.ByStatus[st] = 0
	}
	for _, t := range Types {
		stats.ByType[t] = 0
	}
	for _, l := range all {
		stats.ByStatus[l.Status]++
		if l.Status == StatusApproved {
			stats.ByType[l.Type]++
		}
	}
	return stats, nil
}

// Counts returns the number of approved lessons and the total stored.
func (s *Store) Counts(ctx context.Context) (active, total int, err error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, 0, err
	}
	return stats.ByStatus[StatusApproved], stats.Total, nil
}

// Close closes the underlying repository.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Close()
}
