package scrape

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the per-URL outcome of a fan-out. Failures are isolated to
// the URL that produced them.
type Result struct {
	URL     string `json:"url"`
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client fetches one page and returns its markdown content.
type Client interface {
	Scrape(ctx context.Context, url string) (string, error)
}

const (
	DefaultMaxConcurrency = 8
	DefaultTimeout        = 30 * time.Second
)

// Fanout issues concurrent scrapes with a concurrency cap and a per-URL
// timeout.
type Fanout struct {
	client         Client
	maxConcurrency int
	timeout        time.Duration
}

func NewFanout(client Client, maxConcurrency int, timeout time.Duration) *Fanout {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fanout{client: client, maxConcurrency: maxConcurrency, timeout: timeout}
}

// All scrapes every URL concurrently and returns one Result per URL in
// input order regardless of completion order. A timeout or provider
// error for one URL never aborts its siblings; cancelling ctx stops
// in-flight fetches and records the cancellation per URL.
func (f *Fanout) All(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	group := &errgroup.Group{}
	group.SetLimit(f.maxConcurrency)
	for idx, url := range urls {
		idx, url := idx, url
		group.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			content, err := f.client.Scrape(fetchCtx, url)
			if err != nil {
				results[idx] = Result{URL: url, Error: err.Error()}
				return nil
			}
			results[idx] = Result{URL: url, OK: true, Content: content}
			return nil
		})
	}
	_ = group.Wait()

	return results
}
