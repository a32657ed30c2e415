package scrape

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	mu      sync.Mutex
	delays  map[string]time.Duration
	errs    map[string]error
	calls   []string
	active  int32
	maxSeen int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		delays: map[string]time.Duration{},
		errs:   map[string]error{},
	}
}

func (f *fakeClient) Scrape(ctx context.Context, url string) (string, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, url)
	delay := f.delays[url]
	err := f.errs[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "content of " + url, nil
}

func TestFanoutAll_PreservesInputOrder(t *testing.T) {
	client := newFakeClient()
	client.delays["http://b.com"] = 50 * time.Millisecond

	fanout := NewFanout(client, 4, time.Second)
	results := fanout.All(context.Background(), []string{"http://b.com", "http://a.com"})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "http://b.com" || results[1].URL != "http://a.com" {
		t.Fatalf("results out of input order: %+v", results)
	}
	if !results[0].OK || !results[1].OK {
		t.Fatalf("expected both scrapes to succeed: %+v", results)
	}
	if results[0].Content != "content of http://b.com" {
		t.Fatalf("unexpected content: %q", results[0].Content)
	}
}

func TestFanoutAll_PartialFailureIsolation(t *testing.T) {
	client := newFakeClient()
	client.errs["http://bad.com"] = errors.New("boom")

	fanout := NewFanout(client, 4, time.Second)
	results := fanout.All(context.Background(), []string{"http://bad.com", "http://good.com"})

	if results[0].OK {
		t.Fatalf("expected first result to fail")
	}
	if results[0].Error != "boom" {
		t.Fatalf("expected failure reason, got %q", results[0].Error)
	}
	if !results[1].OK {
		t.Fatalf("expected sibling fetch to succeed despite failure")
	}
}

func TestFanoutAll_ConcurrencyCap(t *testing.T) {
	client := newFakeClient()
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = "http://site" + strings.Repeat("x", i) + ".com"
		client.delays[urls[i]] = 20 * time.Millisecond
	}

	fanout := NewFanout(client, 2, time.Second)
	results := fanout.All(context.Background(), urls)

	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	if max := atomic.LoadInt32(&client.maxSeen); max > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", max)
	}
}

func TestFanoutAll_PerURLTimeout(t *testing.T) {
	client := newFakeClient()
	client.delays["http://slow.com"] = time.Second

	fanout := NewFanout(client, 4, 10*time.Millisecond)
	results := fanout.All(context.Background(), []string{"http://slow.com", "http://fast.com"})

	if results[0].OK {
		t.Fatalf("expected slow fetch to time out")
	}
	if !results[1].OK {
		t.Fatalf("expected fast fetch to succeed")
	}
}

func TestFanoutAll_CancellationPropagates(t *testing.T) {
	client := newFakeClient()
	client.delays["http://slow.com"] = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	fanout := NewFanout(client, 4, time.Minute)
	start := time.Now()
	results := fanout.All(ctx, []string{"http://slow.com"})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cancellation did not propagate, took %v", elapsed)
	}
	if results[0].OK {
		t.Fatalf("expected cancelled fetch to fail")
	}
}

func TestFanoutAll_EmptyInput(t *testing.T) {
	fanout := NewFanout(newFakeClient(), 4, time.Second)
	results := fanout.All(context.Background(), nil)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestNewFanout_Defaults(t *testing.T) {
	fanout := NewFanout(newFakeClient(), 0, 0)
	if fanout.maxConcurrency != DefaultMaxConcurrency {
		t.Fatalf("expected default concurrency %d, got %d", DefaultMaxConcurrency, fanout.maxConcurrency)
	}
	if fanout.timeout != DefaultTimeout {
		t.Fatalf("expected default timeout %v, got %v", DefaultTimeout, fanout.timeout)
	}
}
