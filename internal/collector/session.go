package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/config"
)

// FeedSession is the browser surface the collector polls. Bootstrap
// establishes an authenticated session; Columns snapshots the feed's
// column DOM.
type FeedSession interface {
	Bootstrap(ctx context.Context) error
	Columns(ctx context.Context) ([]string, error)
	Close()
}

// ChromeSession drives a headless Chrome tab against the live feed,
// persisting cookies across restarts so a re-bootstrap can usually skip
// the login flow.
type ChromeSession struct {
	cfg         config.SessionConfig
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc

	mu        sync.Mutex
	tab       context.Context
	tabCancel context.CancelFunc
}

// NewChromeSession creates a session backed by a fresh exec allocator.
func NewChromeSession(cfg config.SessionConfig, logger *zap.Logger) (*ChromeSession, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("session.feed_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeSession{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func (s *ChromeSession) navTimeout() time.Duration {
	if s.cfg.NavTimeoutSec > 0 {
		return time.Duration(s.cfg.NavTimeoutSec) * time.Second
	}
	return 45 * time.Second
}

// Bootstrap opens a fresh tab, restores any persisted cookies, and
// authenticates if the feed does not render. Safe to call again after a
// failure; the previous tab is discarded.
func (s *ChromeSession) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tabCancel != nil {
		s.tabCancel()
	}
	tab, cancel := chromedp.NewContext(s.allocator)
	s.tab = tab
	s.tabCancel = cancel

	runCtx, runCancel := context.WithTimeout(tab, s.navTimeout())
	defer runCancel()

	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(s.cfg.FeedURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("navigate feed: %w", err)
	}

	rendered, err := s.feedRendered(runCtx)
	if err != nil {
		return err
	}
	if !rendered {
		if err := s.login(tab); err != nil {
			return err
		}
	}

	if err := s.saveCookies(tab); err != nil {
		s.logger.Warn("persisting session state failed", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *ChromeSession) feedRendered(ctx context.Context) (bool, error) {
	if s.cfg.ColumnSelector == "" {
		return true, nil
	}
	var count int
	script := fmt.Sprintf("document.querySelectorAll(%q).length", s.cfg.ColumnSelector)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &count)); err != nil {
		return false, fmt.Errorf("probe feed columns: %w", err)
	}
	return count > 0, nil
}

func (s *ChromeSession) login(tab context.Context) error {
	if s.cfg.LoginURL == "" {
		return fmt.Errorf("feed not rendered and no login url configured")
	}
	s.logger.Info("authenticating feed session", zap.String("login_url", s.cfg.LoginURL))

	runCtx, cancel := context.WithTimeout(tab, s.navTimeout())
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(s.cfg.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(s.cfg.UsernameSelector, s.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(s.cfg.PasswordSelector, s.cfg.Password, chromedp.ByQuery),
		chromedp.Click(s.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(s.cfg.ColumnSelector, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("login flow: %w", err)
	}
	return nil
}

// Columns returns the outer HTML of every feed column in the live tab.
func (s *ChromeSession) Columns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()
	if tab == nil {
		return nil, fmt.Errorf("session not bootstrapped")
	}

	runCtx, cancel := context.WithTimeout(tab, s.navTimeout())
	defer cancel()

	var columns []string
	script := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%q)).map(el => el.outerHTML)",
		s.cfg.ColumnSelector,
	)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &columns)); err != nil {
		return nil, fmt.Errorf("snapshot feed columns: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}

// Close tears down the tab and the allocator.
func (s *ChromeSession) Close() {
	s.mu.Lock()
	if s.tabCancel != nil {
		s.tabCancel()
		s.tabCancel = nil
		s.tab = nil
	}
	s.mu.Unlock()
	s.allocCancel()
}

func (s *ChromeSession) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return s.restoreCookies(ctx)
	})
}

// persistedCookie is the on-disk cookie representation.
type persistedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

func (s *ChromeSession) restoreCookies(ctx context.Context) error {
	if s.cfg.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session state: %w", err)
	}
	var cookies []persistedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil
	}
	if err := network.SetCookies(params).Do(ctx); err != nil {
		return fmt.Errorf("restore cookies: %w", err)
	}
	s.logger.Debug("restored session cookies", zap.Int("count", len(params)))
	return nil
}

func (s *ChromeSession) saveCookies(tab context.Context) error {
	if s.cfg.StatePath == "" {
		return nil
	}
	runCtx, cancel := context.WithTimeout(tab, s.navTimeout())
	defer cancel()

	var persisted []persistedCookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		persisted = make([]persistedCookie, 0, len(cookies))
		for _, c := range cookies {
			persisted = append(persisted, persistedCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(s.cfg.StatePath, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
