package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFirecrawlScrape_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"markdown": "# Hello"},
		})
	}))
	defer server.Close()

	client := NewFirecrawlClient(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	content, err := client.Scrape(context.Background(), "http://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "# Hello" {
		t.Fatalf("unexpected content: %q", content)
	}
	if gotPath != "/v1/scrape" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer fc-key" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotBody["url"] != "http://example.com" {
		t.Fatalf("unexpected request url: %v", gotBody["url"])
	}
	formats, ok := gotBody["formats"].([]any)
	if !ok || len(formats) != 1 || formats[0] != "markdown" {
		t.Fatalf("unexpected formats payload: %v", gotBody["formats"])
	}
}

func TestFirecrawlScrape_ProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "site blocked the crawler",
		})
	}))
	defer server.Close()

	client := NewFirecrawlClient(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	_, err := client.Scrape(context.Background(), "http://example.com")
	if err == nil {
		t.Fatalf("expected error when provider reports failure")
	}
	if err.Error() != "site blocked the crawler" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFirecrawlScrape_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewFirecrawlClient(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	_, err := client.Scrape(context.Background(), "http://example.com")
	if err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got: %v", err)
	}
}

func TestFirecrawlScrape_MissingAPIKey(t *testing.T) {
	client := NewFirecrawlClient(FirecrawlConfig{})
	if _, err := client.Scrape(context.Background(), "http://example.com"); err == nil {
		t.Fatalf("expected error without API key")
	}
}
