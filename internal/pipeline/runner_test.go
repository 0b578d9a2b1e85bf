package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/hash/sha256"
	"github.com/growsignal/alphafeed/internal/store/memory"
)

func TestRunnerEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	sink := &fakeSink{}
	now := time.Unix(1700000000, 0).UTC()
	clock := fakeClock{now: now}

	oracle := &fakeOracle{scores: map[string]feed.Score{
		"fed cuts rates in surprise move": {Value: 0.9, Label: "hawkish pivot"},
		"boring friday afternoon post":    {Value: 0.2, Label: "noise"},
	}}

	runner := NewRunner([]Filter{
		NewProcessor(items, drops, sha256.New(), clock, zap.NewNop()),
		NewAlphaFilter(items, drops, oracle, testCategories(), 0.8, clock, zap.NewNop()),
		NewContentFilter(items, drops, testCategories(), []string{"scam"}, 1, clock, zap.NewNop()),
		NewNewsFilter(items, drops, sink, &fakeIDs{}, 3, 48*time.Hour, clock, zap.NewNop()),
	}, time.Second, zap.NewNop())

	require.NoError(t, items.UpsertBatch(ctx, feed.StageRaw, []feed.Item{
		{ID: "signal", Text: "fed  cuts rates in surprise move", Timestamp: now, SourceFlags: feed.NewFlagSet(feed.FlagFeed), Stage: feed.StageRaw},
		{ID: "noise", Text: "boring friday  afternoon post", Timestamp: now, SourceFlags: feed.NewFlagSet(feed.FlagFeed), Stage: feed.StageRaw},
	}))
	// An injected override lands directly in the alpha-filtered store.
	sentinel := feed.MaxAlphaScore
	require.NoError(t, items.UpsertBatch(ctx, feed.StageAlphaFiltered, []feed.Item{
		{
			ID:          "injected",
			Text:        "analyst flag on upcoming merger",
			Timestamp:   now,
			SourceFlags: feed.NewFlagSet(feed.FlagSideChannel, feed.FlagExternalOverride),
			AlphaScore:  &sentinel,
			AlphaSignal: feed.OverrideSignal,
			Stage:       feed.StageAlphaFiltered,
		},
	}))

	runner.RunOnce(ctx)

	news, err := items.List(ctx, feed.StageNewsFiltered)
	require.NoError(t, err)
	require.Len(t, news, 2)

	byID := map[string]feed.Item{}
	for _, item := range news {
		byID[item.ID] = item
	}
	require.Equal(t, "Macro", byID["signal"].Category)
	require.Equal(t, feed.OverrideCategory, byID["injected"].Category)
	require.Equal(t, feed.OverrideSignal, byID["injected"].AlphaSignal)

	dropped, err := drops.ListIDs(ctx, feed.StageAlphaFiltered)
	require.NoError(t, err)
	require.Equal(t, []string{"noise"}, dropped)

	deliveries := sink.all()
	require.Len(t, deliveries, 1)
	require.Equal(t, 2, deliveries[0].Count())

	// A second run with no new input promotes nothing and delivers nothing.
	runner.RunOnce(ctx)
	require.Len(t, sink.all(), 1)
	require.Equal(t, 2, oracle.callCount())
}

func TestRunnerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	items := memory.NewItemStore()
	drops := memory.NewDropLog()
	clock := fakeClock{now: time.Unix(1700000000, 0).UTC()}
	runner := NewRunner([]Filter{
		NewProcessor(items, drops, sha256.New(), clock, zap.NewNop()),
	}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
