package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/growsignal/alphafeed/internal/feed"
)

// fakeClock returns a fixed instant.
type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

// fakeOracle returns canned scores per item text and records calls.
type fakeOracle struct {
	mu         sync.Mutex
	scores     map[string]feed.Score
	err        error
	calls      []string
	categories []feed.CategoryContext
}

func (o *fakeOracle) Score(_ context.Context, text string, category feed.CategoryContext) (feed.Score, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, text)
	o.categories = append(o.categories, category)
	if o.err != nil {
		return feed.Score{}, o.err
	}
	score, ok := o.scores[text]
	if !ok {
		return feed.Score{}, fmt.Errorf("%w: no canned score for %q", feed.ErrOracleUnavailable, text)
	}
	return score, nil
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *fakeOracle) sentCategories() []feed.CategoryContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]feed.CategoryContext(nil), o.categories...)
}

// fakeSink records deliveries.
type fakeSink struct {
	mu         sync.Mutex
	deliveries []feed.Delivery
	err        error
}

func (s *fakeSink) Deliver(_ context.Context, d feed.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *fakeSink) all() []feed.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.Delivery(nil), s.deliveries...)
}

// fakeIDs yields sequential run ids.
type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}
