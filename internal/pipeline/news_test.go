package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/store/memory"
)

func newNewsFilter(items feed.ItemStore, drops feed.DropLog, sink feed.Sink, now time.Time) *NewsFilter {
	return NewNewsFilter(items, drops, sink, &fakeIDs{}, 3, 48*time.Hour, fakeClock{now: now}, zap.NewNop())
}

func seedContentFiltered(t *testing.T, items feed.ItemStore, batch ...feed.Item) {
	t.Helper()
	require.NoError(t, items.UpsertBatch(context.Background(), feed.StageContentFiltered, batch))
}

func TestNewsFilterDedupKeepsEarliest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	seedContentFiltered(t, items,
		feed.Item{ID: "late", Text: "fed cuts rates today", Timestamp: now.Add(-time.Hour), Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
		feed.Item{ID: "early", Text: "fed cuts rates today", Timestamp: now.Add(-2 * time.Hour), Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
	)

	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := items.List(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "early", out[0].ID)

	dropped, err := drops.ListIDs(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Equal(t, []string{"late"}, dropped)
}

func TestNewsFilterOverridesExemptFromDedupAndChecks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	// The override shares a dedup key with a regular item, is below the
	// word minimum, and is old. It still survives, and its key does not
	// collapse the regular item.
	seedContentFiltered(t, items,
		feed.Item{
			ID:          "inj",
			Text:        "short",
			Timestamp:   now.Add(-100 * time.Hour),
			SourceFlags: feed.NewFlagSet(feed.FlagExternalOverride),
			DedupKey:    "shared",
			Stage:       feed.StageContentFiltered,
		},
		feed.Item{ID: "reg", Text: "fed cuts rates today", Timestamp: now.Add(-time.Hour), Category: "Macro", DedupKey: "shared", Stage: feed.StageContentFiltered},
	)

	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	out, err := items.List(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byID := map[string]feed.Item{}
	for _, item := range out {
		byID[item.ID] = item
	}
	require.Equal(t, feed.OverrideCategory, byID["inj"].Category)
	require.Equal(t, "Macro", byID["reg"].Category)
}

func TestNewsFilterDropsNotNewsworthy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	seedContentFiltered(t, items,
		feed.Item{ID: "short", Text: "two words", Timestamp: now, Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
		feed.Item{ID: "stale", Text: "old but detailed market report", Timestamp: now.Add(-72 * time.Hour), Category: "Macro", DedupKey: "k2", Stage: feed.StageContentFiltered},
	)

	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	records := drops.Records()
	require.Len(t, records, 2)
	for _, rec := range records {
		require.Equal(t, feed.ReasonNotNewsworthy, rec.Reason)
	}
	require.Empty(t, sink.all())
}

func TestNewsFilterDeliversGroupedByCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	seedContentFiltered(t, items,
		feed.Item{ID: "m1", Text: "fed cuts rates today", Timestamp: now, Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
		feed.Item{ID: "m2", Text: "inflation print comes in cool", Timestamp: now, Category: "Macro", DedupKey: "k2", Stage: feed.StageContentFiltered},
		feed.Item{ID: "c1", Text: "bitcoin breaks yearly high", Timestamp: now, Category: "Crypto", DedupKey: "k3", Stage: feed.StageContentFiltered},
	)

	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	deliveries := sink.all()
	require.Len(t, deliveries, 1)
	require.Equal(t, "run-1", deliveries[0].RunID)
	require.Len(t, deliveries[0].Groups["Macro"], 2)
	require.Len(t, deliveries[0].Groups["Crypto"], 1)
	require.Equal(t, 3, deliveries[0].Count())
}

func TestNewsFilterDedupAgainstPriorRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	seedContentFiltered(t, items,
		feed.Item{ID: "first", Text: "fed cuts rates today", Timestamp: now.Add(-time.Hour), Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
	)
	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A later item with the same content arrives in a subsequent run.
	seedContentFiltered(t, items,
		feed.Item{ID: "second", Text: "fed cuts rates today", Timestamp: now, Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
	)
	n, err = f.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	dropped, err := drops.ListIDs(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Equal(t, []string{"second"}, dropped)

	// No empty delivery for the second run.
	require.Len(t, sink.all(), 1)
}

func TestNewsFilterSinkFailureKeepsItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{err: context.DeadlineExceeded}
	now := time.Unix(1700000000, 0).UTC()
	f := newNewsFilter(items, drops, sink, now)

	seedContentFiltered(t, items,
		feed.Item{ID: "a", Text: "fed cuts rates today", Timestamp: now, Category: "Macro", DedupKey: "k1", Stage: feed.StageContentFiltered},
	)

	n, err := f.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := items.List(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
