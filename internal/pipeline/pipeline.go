// Package pipeline implements the staged filtering pipeline that turns
// raw collected items into categorized, deliverable news.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Filter is one pipeline stage. Run drains the stage's pending input
// and returns the number of items promoted.
type Filter interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// pending returns the items of the input stage that have neither been
// promoted to the output stage nor dropped there. Re-running a stage is
// therefore idempotent: already settled items are skipped.
func pending(ctx context.Context, items feed.ItemStore, drops feed.DropLog, in, out feed.Stage) ([]feed.Item, error) {
	input, err := items.List(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", in, err)
	}
	if len(input) == 0 {
		return nil, nil
	}

	settled := make(map[string]struct{})
	promoted, err := items.List(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", out, err)
	}
	for _, item := range promoted {
		settled[item.ID] = struct{}{}
	}
	dropped, err := drops.ListIDs(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("list drops for %s: %w", out, err)
	}
	for _, id := range dropped {
		settled[id] = struct{}{}
	}

	var todo []feed.Item
	for _, item := range input {
		if _, ok := settled[item.ID]; !ok {
			todo = append(todo, item)
		}
	}
	return todo, nil
}

// recordDrop persists and logs a drop record. A failure to record is
// logged but never propagated; the drop itself already happened.
func recordDrop(ctx context.Context, drops feed.DropLog, clock feed.Clock, logger *zap.Logger, id string, stage feed.Stage, reason feed.DropReason) {
	rec := feed.DropRecord{ItemID: id, Stage: stage, Reason: reason, At: clock.Now()}
	if err := drops.Record(ctx, rec); err != nil {
		logger.Error("recording drop failed", zap.String("item_id", id), zap.Error(err))
	}
	metrics.ObserveDrop(string(stage), string(reason))
	logger.Info("item dropped",
		zap.String("item_id", id),
		zap.String("stage", string(stage)),
		zap.String("reason", string(reason)),
	)
}
