package injector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Injector builds override items from side-channel URLs and places
// them directly into the alpha-filtered store, which is the content
// filter's input. Injected items bypass scoring entirely.
type Injector struct {
	resolver Resolver
	items    feed.ItemStore
	hasher   feed.Hasher
	clock    feed.Clock
	logger   *zap.Logger
}

// New builds an injector.
func New(resolver Resolver, items feed.ItemStore, hasher feed.Hasher, clock feed.Clock, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{
		resolver: resolver,
		items:    items,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}
}

// Inject resolves the URL and upserts the resulting override item. The
// same URL injects the same id, so repeat requests are idempotent.
func (i *Injector) Inject(ctx context.Context, url, categoryHint string) (feed.Item, error) {
	if strings.TrimSpace(url) == "" {
		return feed.Item{}, fmt.Errorf("url is required")
	}

	page, err := i.resolver.Resolve(ctx, url)
	if err != nil {
		return feed.Item{}, fmt.Errorf("resolve side-channel url: %w", err)
	}

	text := page.Description
	if text == "" {
		text = page.Title
	}

	digest, err := i.hasher.Hash([]byte("side_channel|" + url))
	if err != nil {
		return feed.Item{}, fmt.Errorf("derive item id: %w", err)
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}

	sentinel := feed.MaxAlphaScore
	item := feed.Item{
		ID:          digest,
		Text:        text,
		Author:      page.Author,
		URL:         url,
		Timestamp:   i.clock.Now(),
		Category:    categoryHint,
		SourceFlags: feed.NewFlagSet(feed.FlagSideChannel, feed.FlagExternalOverride),
		AlphaScore:  &sentinel,
		AlphaSignal: feed.OverrideSignal,
		Stage:       feed.StageAlphaFiltered,
	}

	if err := i.items.UpsertBatch(ctx, feed.StageAlphaFiltered, []feed.Item{item}); err != nil {
		return feed.Item{}, fmt.Errorf("upsert override item: %w", err)
	}
	metrics.ObserveInjected()
	i.logger.Info("injected override item",
		zap.String("item_id", item.ID),
		zap.String("url", url),
		zap.String("category_hint", categoryHint),
	)
	return item, nil
}
