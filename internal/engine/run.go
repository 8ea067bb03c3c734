package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Run curates and evaluates once immediately and then on every tick until
// ctx is cancelled. Cycle failures are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("evaluation interval must be positive")
	}

	e.logger.Info("evaluation loop started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.cycle(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("evaluation loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle recovers from panics so a single bad cycle does not end the loop.
func (e *Engine) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation cycle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if archived, err := e.Curate(ctx); err != nil {
		e.logger.Error("curation failed", zap.Error(err))
	} else if len(archived) > 0 {
		e.logger.Info("curation archived lessons", zap.Int("count", len(archived)))
	}
	if _, err := e.Evaluate(ctx); err != nil {
		e.logger.Error("evaluation failed", zap.Error(err))
	}
}
