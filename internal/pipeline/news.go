package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// NewsFilter deduplicates content-filtered items, keeps the newsworthy
// ones, and hands each run's survivors to the distribution sink grouped
// by category.
type NewsFilter struct {
	items    feed.ItemStore
	drops    feed.DropLog
	sink     feed.Sink
	ids      feed.IDGenerator
	minWords int
	maxAge   time.Duration
	clock    feed.Clock
	logger   *zap.Logger
}

// NewNewsFilter builds the content-filtered-to-news-filtered stage.
func NewNewsFilter(items feed.ItemStore, drops feed.DropLog, sink feed.Sink, ids feed.IDGenerator, minWords int, maxAge time.Duration, clock feed.Clock, logger *zap.Logger) *NewsFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsFilter{
		items:    items,
		drops:    drops,
		sink:     sink,
		ids:      ids,
		minWords: minWords,
		maxAge:   maxAge,
		clock:    clock,
		logger:   logger,
	}
}

// Name identifies the stage in logs.
func (f *NewsFilter) Name() string { return "news_filter" }

// Run drains pending content-filtered items, promotes the survivors,
// and delivers them to the sink exactly once per run. Duplicate content
// collapses onto the earliest-timestamped item; override items neither
// collapse others nor get collapsed.
func (f *NewsFilter) Run(ctx context.Context) (int, error) {
	todo, err := pending(ctx, f.items, f.drops, feed.StageContentFiltered, feed.StageNewsFiltered)
	if err != nil {
		return 0, err
	}

	// Dedup keys already claimed by earlier runs' survivors.
	existing, err := f.items.List(ctx, feed.StageNewsFiltered)
	if err != nil {
		return 0, fmt.Errorf("list news filtered: %w", err)
	}
	claimed := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		if !item.Override() && item.DedupKey != "" {
			claimed[item.DedupKey] = struct{}{}
		}
	}

	now := f.clock.Now()
	var promoted []feed.Item
	// todo is ordered by timestamp, so the first claimant of a dedup
	// key is the earliest.
	for _, item := range todo {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if item.Override() {
			out := item.Promoted(feed.StageNewsFiltered)
			if out.Category == "" {
				out.Category = feed.OverrideCategory
			}
			promoted = append(promoted, out)
			continue
		}

		if item.DedupKey != "" {
			if _, dup := claimed[item.DedupKey]; dup {
				recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageNewsFiltered, feed.ReasonDuplicate)
				continue
			}
			claimed[item.DedupKey] = struct{}{}
		}
		if !f.newsworthy(item, now) {
			recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageNewsFiltered, feed.ReasonNotNewsworthy)
			continue
		}
		promoted = append(promoted, item.Promoted(feed.StageNewsFiltered))
	}

	if len(promoted) == 0 {
		metrics.ObservePromoted(string(feed.StageNewsFiltered), 0)
		return 0, nil
	}
	if err := f.items.UpsertBatch(ctx, feed.StageNewsFiltered, promoted); err != nil {
		return 0, fmt.Errorf("upsert news filtered: %w", err)
	}
	metrics.ObservePromoted(string(feed.StageNewsFiltered), len(promoted))

	f.deliver(ctx, promoted)
	return len(promoted), nil
}

// newsworthy applies the minimum word count and maximum age checks.
func (f *NewsFilter) newsworthy(item feed.Item, now time.Time) bool {
	if f.minWords > 0 && len(strings.Fields(item.Text)) < f.minWords {
		return false
	}
	if f.maxAge > 0 && now.Sub(item.Timestamp) > f.maxAge {
		return false
	}
	return true
}

// deliver hands this run's survivors to the sink. A failed delivery is
// logged and dropped on the floor; the items stay in the store.
func (f *NewsFilter) deliver(ctx context.Context, items []feed.Item) {
	runID, err := f.ids.NewID()
	if err != nil {
		f.logger.Error("generating run id failed", zap.Error(err))
		return
	}

	groups := make(map[string][]feed.Item)
	for _, item := range items {
		groups[item.Category] = append(groups[item.Category], item)
	}
	delivery := feed.Delivery{RunID: runID, At: f.clock.Now(), Groups: groups}

	if err := f.sink.Deliver(ctx, delivery); err != nil {
		f.logger.Error("delivery failed",
			zap.String("run_id", runID),
			zap.Int("items", delivery.Count()),
			zap.Error(err),
		)
		return
	}
	for category, group := range groups {
		metrics.ObserveDelivered(category, len(group))
	}
	f.logger.Info("delivered news items",
		zap.String("run_id", runID),
		zap.Int("items", delivery.Count()),
		zap.Int("categories", len(groups)),
	)
}
