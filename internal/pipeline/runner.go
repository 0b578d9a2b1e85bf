package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner executes the pipeline stages serially on a fixed interval.
// Each stage fully drains its input before the next starts.
type Runner struct {
	stages   []Filter
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner builds a runner over the given stages, in execution order.
func NewRunner(stages []Filter, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Runner{stages: stages, interval: interval, logger: logger}
}

// Start runs the pipeline until the context is cancelled. The first run
// happens immediately, then on every interval tick.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes every stage once, in order. A stage error skips the
// remaining stages for this run; the next tick starts over.
func (r *Runner) RunOnce(ctx context.Context) {
	start := time.Now()
	for _, stage := range r.stages {
		if ctx.Err() != nil {
			return
		}
		n, err := stage.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("pipeline stage failed",
				zap.String("stage", stage.Name()),
				zap.Error(err),
			)
			return
		}
		if n > 0 {
			r.logger.Debug("pipeline stage promoted items",
				zap.String("stage", stage.Name()),
				zap.Int("promoted", n),
			)
		}
	}
	r.logger.Debug("pipeline run complete",
		zap.Duration("elapsed", time.Since(start)))
}
