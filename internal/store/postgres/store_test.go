package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/growsignal/alphafeed/internal/feed"
)

func TestNewWithDBValidatesPrefix(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithDB(mock, "items; DROP TABLE users")
	require.Error(t, err)

	store, err := NewWithDB(mock, "")
	require.NoError(t, err)
	require.Equal(t, "items_raw", store.stageTable(feed.StageRaw))
}

func TestUpsertBatchCommitsTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	items := []feed.Item{
		{ID: "a", Text: "first", Timestamp: now, Stage: feed.StageRaw},
		{ID: "b", Text: "second", Timestamp: now.Add(time.Second), Stage: feed.StageRaw},
	}

	mock.ExpectBegin()
	for _, item := range items {
		payload, merr := json.Marshal(item)
		require.NoError(t, merr)
		mock.ExpectExec("INSERT INTO items_raw").
			WithArgs(item.ID, payload, item.Timestamp).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.UpsertBatch(context.Background(), feed.StageRaw, items))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	require.NoError(t, store.UpsertBatch(context.Background(), feed.StageRaw, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDecodesPayloads(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	a, err := json.Marshal(feed.Item{ID: "a", Text: "first", Timestamp: now})
	require.NoError(t, err)
	b, err := json.Marshal(feed.Item{ID: "b", Text: "second", Timestamp: now.Add(time.Second)})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM items_processed").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(a).AddRow(b))

	items, err := store.List(context.Background(), feed.StageProcessed)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "second", items[1].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneDeletesByAgeAndCap(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	cutoff := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("DELETE FROM items_raw WHERE ts").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM items_raw WHERE id IN").
		WithArgs(100).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	removed, err := store.Prune(context.Background(), feed.StageRaw, cutoff, 100)
	require.NoError(t, err)
	require.Equal(t, 5, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneSkipsCapWhenUnlimited(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	cutoff := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("DELETE FROM items_raw WHERE ts").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	removed, err := store.Prune(context.Background(), feed.StageRaw, cutoff, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeenAndFilterUnseen(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO seen_ids").
		WithArgs([]string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	require.NoError(t, store.MarkSeen(context.Background(), []string{"a", "b"}))

	mock.ExpectQuery("SELECT id FROM seen_ids").
		WithArgs([]string{"a", "b", "c"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	unseen, err := store.FilterUnseen(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, unseen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropLogRecordAndListIDs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithDB(mock, "items")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	drop := feed.DropRecord{
		ItemID: "a",
		Stage:  feed.StageAlphaFiltered,
		Reason: feed.ReasonBelowThreshold,
		At:     now,
	}

	mock.ExpectExec("INSERT INTO item_drops").
		WithArgs(drop.ItemID, string(drop.Stage), string(drop.Reason), drop.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Record(context.Background(), drop))

	mock.ExpectQuery("SELECT item_id FROM item_drops").
		WithArgs(string(feed.StageAlphaFiltered)).
		WillReturnRows(pgxmock.NewRows([]string{"item_id"}).AddRow("a"))

	ids, err := store.ListIDs(context.Background(), feed.StageAlphaFiltered)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
