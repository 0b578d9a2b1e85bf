// Package injector turns side-channel URLs into override items that
// bypass the scoring stages.
package injector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Page is the resolved content of a side-channel URL.
type Page struct {
	Title       string
	Description string
	Author      string
}

// Resolver fetches a URL and extracts its page content.
type Resolver interface {
	Resolve(ctx context.Context, url string) (Page, error)
}

// CollyResolver resolves pages with a colly collector, reading Open
// Graph meta tags with a title/heading fallback.
type CollyResolver struct {
	userAgent string
	timeout   time.Duration
}

// NewCollyResolver builds a resolver.
func NewCollyResolver(userAgent string, timeout time.Duration) *CollyResolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CollyResolver{userAgent: userAgent, timeout: timeout}
}

// Resolve fetches the URL and extracts og:title, og:description, and
// the article author when present.
func (r *CollyResolver) Resolve(ctx context.Context, url string) (Page, error) {
	collector := colly.NewCollector(colly.Async(false))
	if r.userAgent != "" {
		collector.UserAgent = r.userAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(r.timeout)

	var (
		page     Page
		fetchErr error
	)

	collector.OnRequest(func(req *colly.Request) {
		select {
		case <-ctx.Done():
			req.Abort()
			fetchErr = ctx.Err()
		default:
		}
	})
	collector.OnHTML(`meta[property="og:title"]`, func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML(`meta[property="og:description"]`, func(e *colly.HTMLElement) {
		if page.Description == "" {
			page.Description = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML(`meta[name="author"]`, func(e *colly.HTMLElement) {
		if page.Author == "" {
			page.Author = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if fetchErr == nil {
			fetchErr = err
		}
	})

	if err := collector.Visit(url); err != nil {
		return Page{}, fmt.Errorf("visit %s: %w", url, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return Page{}, fmt.Errorf("resolve %s: %w", url, fetchErr)
	}
	if page.Title == "" && page.Description == "" {
		return Page{}, fmt.Errorf("resolve %s: no extractable content", url)
	}
	return page, nil
}
