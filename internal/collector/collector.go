package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/config"
	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Collector polls the feed session, admits unseen items, and writes
// them to the raw store. It owns the session lifecycle: consecutive
// poll failures degrade the session and trigger a bounded re-bootstrap.
type Collector struct {
	session   FeedSession
	items     feed.ItemStore
	seen      feed.SeenStore
	hasher    feed.Hasher
	clock     feed.Clock
	logger    *zap.Logger
	cfg       config.CollectorConfig
	selectors Selectors

	restartCh chan string
	recent    *recentWindow

	state    State
	failures int
}

// New builds a collector around the given session and stores.
func New(session FeedSession, items feed.ItemStore, seen feed.SeenStore, hasher feed.Hasher, clock feed.Clock, cfg config.CollectorConfig, selectors Selectors, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.RecentWindow
	if window <= 0 {
		window = 4096
	}
	c := &Collector{
		session:   session,
		items:     items,
		seen:      seen,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		selectors: selectors,
		restartCh: make(chan string, 1),
		recent:    newRecentWindow(window),
	}
	c.setState(StateUnauthenticated)
	return c
}

// RequestRestart asks the collector to re-bootstrap its session before
// the next poll tick. Non-blocking; a pending request absorbs repeats.
func (c *Collector) RequestRestart(trigger string) {
	select {
	case c.restartCh <- trigger:
	default:
	}
}

// State returns the current session state.
func (c *Collector) State() State {
	return c.state
}

func (c *Collector) setState(state State) {
	c.state = state
	metrics.SetSessionState(string(state), AllStates)
}

func (c *Collector) pollInterval() time.Duration {
	if c.cfg.PollIntervalMs > 0 {
		return time.Duration(c.cfg.PollIntervalMs) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (c *Collector) maxFailures() int {
	if c.cfg.MaxConsecutiveFailures > 0 {
		return c.cfg.MaxConsecutiveFailures
	}
	return 3
}

// Run drives the poll loop until the context is cancelled or session
// recovery is exhausted. Exhausted recovery is the only fatal outcome.
func (c *Collector) Run(ctx context.Context) error {
	c.setState(StateAuthenticating)
	if err := c.session.Bootstrap(ctx); err != nil {
		c.logger.Warn("initial bootstrap failed", zap.Error(err))
		if err := c.recover(ctx, "bootstrap"); err != nil {
			return err
		}
	} else {
		c.setState(StateActive)
	}

	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trigger := <-c.restartCh:
			if err := c.handleRestart(ctx, trigger); err != nil {
				return err
			}
		case <-ticker.C:
			// A restart request pending alongside the tick must win:
			// no poll runs on a session slated for restart.
			select {
			case trigger := <-c.restartCh:
				if err := c.handleRestart(ctx, trigger); err != nil {
					return err
				}
				continue
			default:
			}
			start := time.Now()
			err := c.tick(ctx)
			switch {
			case err == nil:
				c.failures = 0
				metrics.ObservePollTick("ok", time.Since(start))
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				c.failures++
				metrics.ObservePollTick("error", time.Since(start))
				c.logger.Warn("poll tick failed",
					zap.Int("consecutive_failures", c.failures),
					zap.Error(err),
				)
				if c.failures >= c.maxFailures() {
					c.setState(StateDegraded)
					metrics.ObserveSessionRestart("degraded")
					if err := c.recover(ctx, "degraded"); err != nil {
						return err
					}
				}
			}
		}
	}
}

func (c *Collector) handleRestart(ctx context.Context, trigger string) error {
	c.logger.Info("session restart requested", zap.String("trigger", trigger))
	metrics.ObserveSessionRestart(trigger)
	return c.recover(ctx, trigger)
}

// recover re-bootstraps the session with bounded backoff. Exhaustion is
// terminal: the collector moves to Failed and reports the error.
func (c *Collector) recover(ctx context.Context, trigger string) error {
	c.setState(StateRecovering)

	attempts := c.cfg.MaxRestartAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := time.Duration(c.cfg.RestartBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}

	err := feed.Retry(ctx, feed.RetryConfig{MaxAttempts: attempts, BaseDelay: backoff, MaxDelay: 30 * time.Second}, func(ctx context.Context) error {
		return c.session.Bootstrap(ctx)
	})
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("session recovery exhausted (trigger %s): %w", trigger, err)
	}

	c.failures = 0
	c.setState(StateActive)
	c.logger.Info("session recovered", zap.String("trigger", trigger))
	return nil
}

// tick snapshots the feed once and admits new items. A failing column
// is skipped; a tick fails only when the whole snapshot does.
func (c *Collector) tick(ctx context.Context) error {
	columns, err := c.session.Columns(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", feed.ErrTransientFeed, err)
	}

	var candidates []Candidate
	for i, column := range columns {
		extracted, err := ExtractCandidates(column, c.selectors)
		if err != nil {
			c.logger.Warn("column extraction failed, skipping",
				zap.Int("column", i), zap.Error(err))
			continue
		}
		candidates = append(candidates, extracted...)
	}
	metrics.ObserveCollected(len(candidates))
	if len(candidates) == 0 {
		return nil
	}

	fresh := make([]feed.Item, 0, len(candidates))
	for _, cand := range candidates {
		id, err := c.candidateID(cand)
		if err != nil {
			c.logger.Warn("deriving item id failed", zap.Error(err))
			continue
		}
		if c.recent.Contains(id) {
			continue
		}
		fresh = append(fresh, feed.Item{
			ID:          id,
			Text:        cand.Text,
			Author:      cand.Author,
			URL:         cand.URL,
			Timestamp:   c.clock.Now(),
			SourceFlags: feed.NewFlagSet(feed.FlagFeed),
			Stage:       feed.StageRaw,
		})
	}
	if len(fresh) == 0 {
		return nil
	}

	ids := make([]string, len(fresh))
	for i, item := range fresh {
		ids[i] = item.ID
	}
	unseen, err := c.seen.FilterUnseen(ctx, ids)
	if err != nil {
		return fmt.Errorf("filter unseen: %w", err)
	}
	if len(unseen) == 0 {
		// Already durably seen: safe to suppress on later ticks.
		for _, id := range ids {
			c.recent.Add(id)
		}
		return nil
	}

	admit := make([]feed.Item, 0, len(unseen))
	keep := make(map[string]struct{}, len(unseen))
	for _, id := range unseen {
		keep[id] = struct{}{}
	}
	for _, item := range fresh {
		if _, ok := keep[item.ID]; ok {
			admit = append(admit, item)
		}
	}

	if err := c.items.UpsertBatch(ctx, feed.StageRaw, admit); err != nil {
		return fmt.Errorf("upsert raw items: %w", err)
	}
	if err := c.seen.MarkSeen(ctx, unseen); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	// Only after the durable write: a failed tick must leave its ids
	// eligible for re-admission on the next snapshot.
	for _, id := range ids {
		c.recent.Add(id)
	}
	metrics.ObserveAdmitted(len(admit))
	c.logger.Debug("admitted new items", zap.Int("count", len(admit)))
	return nil
}

// candidateID prefers the DOM's native id and otherwise derives a
// stable digest from the item's identity fields.
func (c *Collector) candidateID(cand Candidate) (string, error) {
	if cand.NativeID != "" {
		return cand.NativeID, nil
	}
	digest, err := c.hasher.Hash([]byte("feed|" + cand.Author + "|" + cand.Text))
	if err != nil {
		return "", err
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return digest, nil
}

// recentWindow is a fixed-capacity set of recently observed ids with
// FIFO eviction.
type recentWindow struct {
	capacity int
	order    []string
	members  map[string]struct{}
}

func newRecentWindow(capacity int) *recentWindow {
	return &recentWindow{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

func (w *recentWindow) Contains(id string) bool {
	_, ok := w.members[id]
	return ok
}

func (w *recentWindow) Add(id string) {
	if _, ok := w.members[id]; ok {
		return
	}
	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.members, oldest)
	}
	w.order = append(w.order, id)
	w.members[id] = struct{}{}
}
