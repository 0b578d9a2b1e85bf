package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// AlphaFilter scores processed items via the external oracle and keeps
// only those at or above the configured threshold. Override items skip
// scoring entirely and carry the fixed sentinel score.
type AlphaFilter struct {
	items      feed.ItemStore
	drops      feed.DropLog
	oracle     feed.Oracle
	categories []feed.CategoryContext
	threshold  float64
	clock      feed.Clock
	logger     *zap.Logger
}

// NewAlphaFilter builds the processed-to-alpha-filtered stage. The
// categories supply keyword context for the oracle call: each item is
// scored against its best keyword match.
func NewAlphaFilter(items feed.ItemStore, drops feed.DropLog, oracle feed.Oracle, categories []feed.CategoryContext, threshold float64, clock feed.Clock, logger *zap.Logger) *AlphaFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlphaFilter{
		items:      items,
		drops:      drops,
		oracle:     oracle,
		categories: categories,
		threshold:  threshold,
		clock:      clock,
		logger:     logger,
	}
}

// Name identifies the stage in logs.
func (f *AlphaFilter) Name() string { return "alpha_filter" }

// Run scores pending processed items. A scoring failure drops only the
// affected item; the rest of the batch continues.
func (f *AlphaFilter) Run(ctx context.Context) (int, error) {
	todo, err := pending(ctx, f.items, f.drops, feed.StageProcessed, feed.StageAlphaFiltered)
	if err != nil {
		return 0, err
	}

	var promoted []feed.Item
	for _, item := range todo {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if item.Override() {
			out := item.Promoted(feed.StageAlphaFiltered)
			sentinel := feed.MaxAlphaScore
			out.AlphaScore = &sentinel
			out.AlphaSignal = feed.OverrideSignal
			promoted = append(promoted, out)
			continue
		}

		// Candidate category context for scoring. Unmatched items are
		// still scored, just without category focus.
		category, _ := matchCategory(strings.ToLower(item.Text), f.categories)
		score, err := f.oracle.Score(ctx, item.Text, category)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			f.logger.Warn("scoring failed",
				zap.String("item_id", item.ID), zap.Error(err))
			recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageAlphaFiltered, feed.ReasonOracleFailed)
			continue
		}
		if score.Value < f.threshold {
			recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageAlphaFiltered, feed.ReasonBelowThreshold)
			continue
		}
		out := item.Promoted(feed.StageAlphaFiltered)
		value := score.Value
		out.AlphaScore = &value
		out.AlphaSignal = score.Label
		promoted = append(promoted, out)
	}

	if len(promoted) > 0 {
		if err := f.items.UpsertBatch(ctx, feed.StageAlphaFiltered, promoted); err != nil {
			return 0, fmt.Errorf("upsert alpha filtered: %w", err)
		}
	}
	metrics.ObservePromoted(string(feed.StageAlphaFiltered), len(promoted))
	return len(promoted), nil
}
