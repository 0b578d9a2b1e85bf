package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

var (
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	punctReplacer     = strings.NewReplacer(
		"‘", "'", // left single quote
		"’", "'", // right single quote
		"“", `"`, // left double quote
		"”", `"`, // right double quote
		"–", "-", // en dash
		"—", "-", // em dash
		"…", "...", // ellipsis
		" ", " ", // non-breaking space
	)
)

// NormalizeText strips URLs, straightens typographic punctuation, and
// collapses runs of whitespace into single spaces.
func NormalizeText(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = punctReplacer.Replace(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Processor normalizes raw items and promotes the well-formed ones.
// It makes no external calls.
type Processor struct {
	items  feed.ItemStore
	drops  feed.DropLog
	hasher feed.Hasher
	clock  feed.Clock
	logger *zap.Logger
}

// NewProcessor builds the raw-to-processed stage.
func NewProcessor(items feed.ItemStore, drops feed.DropLog, hasher feed.Hasher, clock feed.Clock, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{items: items, drops: drops, hasher: hasher, clock: clock, logger: logger}
}

// Name identifies the stage in logs.
func (p *Processor) Name() string { return "processor" }

// Run drains pending raw items. Malformed items are dropped with a
// recorded reason; one bad item never aborts the batch.
func (p *Processor) Run(ctx context.Context) (int, error) {
	todo, err := pending(ctx, p.items, p.drops, feed.StageRaw, feed.StageProcessed)
	if err != nil {
		return 0, err
	}

	var promoted []feed.Item
	for _, item := range todo {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		normalized := NormalizeText(item.Text)
		if len(strings.Fields(normalized)) < 2 {
			recordDrop(ctx, p.drops, p.clock, p.logger, item.ID, feed.StageProcessed, feed.ReasonMalformed)
			continue
		}
		key, err := p.hasher.Hash([]byte(strings.ToLower(normalized)))
		if err != nil {
			p.logger.Warn("dedup key hash failed",
				zap.String("item_id", item.ID), zap.Error(err))
			recordDrop(ctx, p.drops, p.clock, p.logger, item.ID, feed.StageProcessed, feed.ReasonMalformed)
			continue
		}
		out := item.Promoted(feed.StageProcessed)
		out.Text = normalized
		out.DedupKey = key
		promoted = append(promoted, out)
	}

	if len(promoted) > 0 {
		if err := p.items.UpsertBatch(ctx, feed.StageProcessed, promoted); err != nil {
			return 0, fmt.Errorf("upsert processed: %w", err)
		}
	}
	metrics.ObservePromoted(string(feed.StageProcessed), len(promoted))
	return len(promoted), nil
}
