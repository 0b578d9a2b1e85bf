// Package memory provides in-memory store implementations, used in
// tests and single-process deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/growsignal/alphafeed/internal/feed"
)

// ItemStore keeps one collection per stage, keyed by item id. Batch
// writes happen under a single lock so readers only ever observe fully
// written batches.
type ItemStore struct {
	mu     sync.RWMutex
	stages map[feed.Stage]map[string]feed.Item
}

// NewItemStore creates an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		stages: make(map[feed.Stage]map[string]feed.Item),
	}
}

// UpsertBatch inserts or replaces items in the stage's collection.
func (s *ItemStore) UpsertBatch(_ context.Context, stage feed.Stage, items []feed.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.stages[stage]
	if !ok {
		coll = make(map[string]feed.Item, len(items))
		s.stages[stage] = coll
	}
	for _, item := range items {
		coll[item.ID] = item
	}
	return nil
}

// List returns the stage's collection ordered by timestamp, then id.
func (s *ItemStore) List(_ context.Context, stage feed.Stage) ([]feed.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.stages[stage]
	out := make([]feed.Item, 0, len(coll))
	for _, item := range coll {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Prune removes items older than cutoff, then trims to maxItems by
// discarding the oldest. A maxItems of zero disables the size cap.
func (s *ItemStore) Prune(_ context.Context, stage feed.Stage, cutoff time.Time, maxItems int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.stages[stage]
	removed := 0
	for id, item := range coll {
		if item.Timestamp.Before(cutoff) {
			delete(coll, id)
			removed++
		}
	}

	if maxItems > 0 && len(coll) > maxItems {
		rest := make([]feed.Item, 0, len(coll))
		for _, item := range coll {
			rest = append(rest, item)
		}
		sort.Slice(rest, func(i, j int) bool {
			return rest[i].Timestamp.Before(rest[j].Timestamp)
		})
		for _, item := range rest[:len(rest)-maxItems] {
			delete(coll, item.ID)
			removed++
		}
	}
	return removed, nil
}

// SeenStore is an in-memory seen-identifier set.
type SeenStore struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewSeenStore creates an empty SeenStore.
func NewSeenStore() *SeenStore {
	return &SeenStore{seen: make(map[string]struct{})}
}

// MarkSeen records the ids as seen.
func (s *SeenStore) MarkSeen(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
	return nil
}

// FilterUnseen returns the subset of ids not yet marked seen, in input order.
func (s *SeenStore) FilterUnseen(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// DropLog is an in-memory drop audit log.
type DropLog struct {
	mu    sync.RWMutex
	drops []feed.DropRecord
}

// NewDropLog creates an empty DropLog.
func NewDropLog() *DropLog {
	return &DropLog{}
}

// Record appends a drop record.
func (d *DropLog) Record(_ context.Context, drop feed.DropRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, drop)
	return nil
}

// ListIDs returns the ids dropped at the given stage.
func (d *DropLog) ListIDs(_ context.Context, stage feed.Stage) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, drop := range d.drops {
		if drop.Stage == stage {
			out = append(out, drop.ItemID)
		}
	}
	return out, nil
}

// Records returns a copy of all drop records, oldest first.
func (d *DropLog) Records() []feed.DropRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]feed.DropRecord(nil), d.drops...)
}
