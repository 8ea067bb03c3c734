package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/policy"
)

// Archive reasons recorded on curated lessons.
const (
	ReasonIneffective = "ineffective"
	ReasonUnused      = "unused"
)

// Curate archives approved lessons that the archival policy marks as
// ineffective or unused, and returns their ids. A failed archive does not
// stop the pass.
func (e *Engine) Curate(ctx context.Context) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.curate")
	defer span.End()

	p := e.policy.Current()
	now := e.now()

	approved, err := e.store.ListApproved(ctx, lesson.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing approved lessons: %w", err)
	}

	archived := []string{}
	var errs []error
	for _, l := range approved {
		if !p.ShouldArchive(l.IdleSince(), l.EffectivenessScore, now) {
			continue
		}
		reason := archiveReason(p, l)
		if err := e.store.Archive(ctx, l.ID, reason); err != nil {
			errs = append(errs, fmt.Errorf("archiving %s: %w", l.ID, err))
			continue
		}
		Archived.WithLabelValues(reason).Inc()
		archived = append(archived, l.ID)
		e.logger.Debug("curation retired lesson",
			zap.String("id", l.ID),
			zap.String("reason", reason),
			zap.Int("usage_count", l.UsageCount))
	}

	e.checkCapacity(ctx, p)
	return archived, errors.Join(errs...)
}

func archiveReason(p policy.Policy, l *lesson.Lesson) string {
	if eff := l.EffectivenessScore; eff != nil && *eff < p.Archival.MinEffectiveness {
		return ReasonIneffective
	}
	return ReasonUnused
}

// checkCapacity warns when the store holds more lessons than the policy
// allows, or when too few of them are approved.
func (e *Engine) checkCapacity(ctx context.Context, p policy.Policy) {
	active, total, err := e.store.Counts(ctx)
	if err != nil {
		e.logger.Warn("counting lessons failed", zap.Error(err))
		return
	}
	if limit := p.Capacity.MaxLessons; limit > 0 && total > limit {
		e.logger.Warn("lesson store over capacity",
			zap.Int("total", total),
			zap.Int("max_lessons", limit))
	}
	if total > 0 {
		ratio := float64(active) / float64(total)
		if ratio < p.Capacity.TargetActiveRatio {
			e.logger.Warn("active lesson ratio below target",
				zap.Float64("ratio", ratio),
				zap.Float64("target", p.Capacity.TargetActiveRatio))
		}
	}
}
