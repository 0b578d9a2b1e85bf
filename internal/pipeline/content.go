package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// ContentFilter assigns a category to each alpha-filtered item and
// screens out risky or uncategorizable content. Override items pass
// through unchanged apart from the stage promotion.
type ContentFilter struct {
	items         feed.ItemStore
	drops         feed.DropLog
	categories    []feed.CategoryContext
	riskKeywords  []string
	riskThreshold int
	clock         feed.Clock
	logger        *zap.Logger
}

// NewContentFilter builds the alpha-filtered-to-content-filtered stage.
// Categories are evaluated in the given order; priority breaks score ties.
func NewContentFilter(items feed.ItemStore, drops feed.DropLog, categories []feed.CategoryContext, riskKeywords []string, riskThreshold int, clock feed.Clock, logger *zap.Logger) *ContentFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFilter{
		items:         items,
		drops:         drops,
		categories:    categories,
		riskKeywords:  riskKeywords,
		riskThreshold: riskThreshold,
		clock:         clock,
		logger:        logger,
	}
}

// Name identifies the stage in logs.
func (f *ContentFilter) Name() string { return "content_filter" }

// Run categorizes pending alpha-filtered items.
func (f *ContentFilter) Run(ctx context.Context) (int, error) {
	todo, err := pending(ctx, f.items, f.drops, feed.StageAlphaFiltered, feed.StageContentFiltered)
	if err != nil {
		return 0, err
	}

	var promoted []feed.Item
	for _, item := range todo {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if item.Override() {
			promoted = append(promoted, item.Promoted(feed.StageContentFiltered))
			continue
		}

		text := strings.ToLower(item.Text)
		if keywordScore(text, f.riskKeywords) > f.riskThreshold {
			recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageContentFiltered, feed.ReasonRiskExceeded)
			continue
		}
		category, ok := f.classify(text)
		if !ok {
			recordDrop(ctx, f.drops, f.clock, f.logger, item.ID, feed.StageContentFiltered, feed.ReasonNoCategory)
			continue
		}
		out := item.Promoted(feed.StageContentFiltered)
		out.Category = category
		promoted = append(promoted, out)
	}

	if len(promoted) > 0 {
		if err := f.items.UpsertBatch(ctx, feed.StageContentFiltered, promoted); err != nil {
			return 0, fmt.Errorf("upsert content filtered: %w", err)
		}
	}
	metrics.ObservePromoted(string(feed.StageContentFiltered), len(promoted))
	return len(promoted), nil
}

// classify picks the category whose keywords match the text best. A tie
// on match score goes to the category with the smaller priority value.
func (f *ContentFilter) classify(loweredText string) (string, bool) {
	cat, ok := matchCategory(loweredText, f.categories)
	return cat.Name, ok
}

// matchCategory returns the category whose keywords match the lowered
// text best. Ties on match score go to the smaller priority value.
func matchCategory(loweredText string, categories []feed.CategoryContext) (feed.CategoryContext, bool) {
	var best feed.CategoryContext
	found := false
	bestScore := 0
	for _, cat := range categories {
		score := keywordScore(loweredText, cat.Keywords)
		if score == 0 {
			continue
		}
		if !found || score > bestScore || (score == bestScore && cat.Priority < best.Priority) {
			best = cat
			found = true
			bestScore = score
		}
	}
	return best, found
}

// keywordScore counts how many of the keywords occur in the lowered text.
func keywordScore(loweredText string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(loweredText, strings.ToLower(kw)) {
			n++
		}
	}
	return n
}
