package feed

import (
	"context"
	"time"
)

// ItemStore persists one collection of items per stage, each keyed by
// item id. Writes are batch-atomic: readers never observe a partially
// written batch.
type ItemStore interface {
	// UpsertBatch inserts or replaces the items in the given stage's
	// collection. Re-upserting an existing id never creates a duplicate.
	UpsertBatch(ctx context.Context, stage Stage, items []Item) error
	// List returns the stage's collection ordered by timestamp, then id.
	List(ctx context.Context, stage Stage) ([]Item, error)
	// Prune removes items older than cutoff, then trims the collection
	// to maxItems by discarding the oldest. It returns the removed count.
	Prune(ctx context.Context, stage Stage, cutoff time.Time, maxItems int) (int, error)
}

// SeenStore is the durable set of raw identifiers already admitted,
// surviving process restarts.
type SeenStore interface {
	MarkSeen(ctx context.Context, ids []string) error
	FilterUnseen(ctx context.Context, ids []string) ([]string, error)
}

// DropLog records every item dropped from a stage so that no item
// disappears without a logged cause.
type DropLog interface {
	Record(ctx context.Context, drop DropRecord) error
	// ListIDs returns the ids of all items dropped at the given stage.
	ListIDs(ctx context.Context, stage Stage) ([]string, error)
}

// Oracle scores item text against a category context. Implementations
// return an error wrapping ErrOracleUnavailable on timeout or rate
// limiting; callers treat any non-success as retryable up to a bound.
type Oracle interface {
	Score(ctx context.Context, text string, category CategoryContext) (Score, error)
}

// Sink consumes the news filter's output. The pipeline's obligation
// ends at handing over the delivery; retries and formatting belong to
// the sink.
type Sink interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for item ids and dedup keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces pipeline run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
