package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/extraction"
	"github.com/fyrsmithlabs/lessond/internal/logging"
)

// ProcessRun extracts lessons from a finished run and stores each as
// proposed. It returns the ids stored.
//
// Extraction runs under its own timeout and before any store call, so a
// slow model never holds the store lock. Extraction failures yield no
// lessons and no error; persistence failures are joined and returned
// alongside the ids that did persist.
func (e *Engine) ProcessRun(ctx context.Context, in extraction.RunInput) ([]string, error) {
	ctx = logging.WithRunID(ctx, in.RunID)
	ctx = logging.WithWorkflowID(ctx, in.WorkflowID)

	ctx, span := e.tracer.Start(ctx, "engine.process_run", trace.WithAttributes(
		attribute.String("run.id", in.RunID),
		attribute.String("workflow.id", in.WorkflowID),
	))
	defer span.End()

	log := e.logger.With(logging.ContextFields(ctx)...)

	xctx, cancel := context.WithTimeout(ctx, e.cfg.ExtractionTimeout)
	lessons := e.extractor.Extract(xctx, in)
	cancel()

	ids := make([]string, 0, len(lessons))
	var errs []error
	for _, l := range lessons {
		if err := e.store.AddProposed(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("adding lesson %s: %w", l.ID, err))
			continue
		}
		ids = append(ids, l.ID)
	}

	span.SetAttributes(
		attribute.Int("lessons.extracted", len(lessons)),
		attribute.Int("lessons.stored", len(ids)),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storing proposed lessons")
		log.Error("storing proposed lessons failed",
			zap.Int("stored", len(ids)),
			zap.Int("failed", len(errs)),
			zap.Error(err))
		return ids, err
	}

	log.Info("run processed",
		zap.Int("extracted", len(lessons)),
		zap.Strings("lesson_ids", ids))
	return ids, nil
}
