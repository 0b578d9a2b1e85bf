// Package oracle implements the HTTP client for the external alpha
// scoring service.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Config controls the scoring client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	Backoff        time.Duration
	RequestsPerSec float64
}

// Client scores item text against the external service. It rate-limits
// outbound calls and retries transient failures with backoff.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	retry   feed.RetryConfig
	logger  *zap.Logger
}

type scoreRequest struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	Focus    string `json:"focus,omitempty"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// New creates a scoring client from config.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle.base_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}

	retry := feed.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.Backoff > 0 {
		retry.BaseDelay = cfg.Backoff
	}

	return &Client{
		http:    http,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retry,
		logger:  logger,
	}, nil
}

// Score returns the service's verdict for the given text. A service
// that stays unreachable across retries yields feed.ErrOracleUnavailable.
func (c *Client) Score(ctx context.Context, text string, category feed.CategoryContext) (feed.Score, error) {
	var out feed.Score
	err := feed.Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		score, err := c.scoreOnce(ctx, text, category)
		if err != nil {
			return err
		}
		out = score
		return nil
	})
	if err != nil {
		return feed.Score{}, err
	}
	return out, nil
}

func (c *Client) scoreOnce(ctx context.Context, text string, category feed.CategoryContext) (feed.Score, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scoreRequest{Text: text, Category: category.Name, Focus: strings.Join(category.Focus, "; ")}).
		SetResult(&scoreResponse{}).
		Post("/v1/score")
	if err != nil {
		metrics.ObserveOracleCall("error", time.Since(start))
		c.logger.Warn("oracle request failed", zap.Error(err))
		return feed.Score{}, fmt.Errorf("%w: %v", feed.ErrOracleUnavailable, err)
	}
	if resp.IsError() {
		metrics.ObserveOracleCall("error", time.Since(start))
		c.logger.Warn("oracle returned error status",
			zap.Int("status", resp.StatusCode()),
		)
		return feed.Score{}, fmt.Errorf("%w: status %d", feed.ErrOracleUnavailable, resp.StatusCode())
	}
	metrics.ObserveOracleCall("ok", time.Since(start))

	body, ok := resp.Result().(*scoreResponse)
	if !ok || body == nil {
		return feed.Score{}, fmt.Errorf("%w: empty response body", feed.ErrOracleUnavailable)
	}
	if body.Score < 0 || body.Score > 1 {
		return feed.Score{}, fmt.Errorf("oracle score %g out of range [0,1]", body.Score)
	}
	return feed.Score{Value: body.Score, Label: body.Label}, nil
}
