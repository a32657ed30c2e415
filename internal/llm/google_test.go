package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGoogleGenerate_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"parts": []map[string]any{
							{"text": "Alpha is "},
							{"text": "the first letter."},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	provider := NewGoogleProvider(GoogleConfig{APIKey: "g-key", BaseURL: server.URL})
	content, err := provider.Generate(context.Background(), "what is alpha?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "Alpha is the first letter." {
		t.Fatalf("unexpected content: %q", content)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "g-key" {
		t.Fatalf("unexpected api key header: %s", gotKey)
	}
	contents, ok := gotBody["contents"].([]any)
	if !ok || len(contents) != 1 {
		t.Fatalf("unexpected contents payload: %v", gotBody["contents"])
	}
}

func TestGoogleGenerate_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer server.Close()

	provider := NewGoogleProvider(GoogleConfig{APIKey: "g-key", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error on 429 response")
	}
	if !Transient(err) {
		t.Fatalf("expected rate-limit error to be transient: %v", err)
	}
}

func TestGoogleGenerate_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer server.Close()

	provider := NewGoogleProvider(GoogleConfig{APIKey: "g-key", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error when response has no candidates")
	}
	if Transient(err) {
		t.Fatalf("empty response should not be transient: %v", err)
	}
}

func TestGoogleGenerate_MissingAPIKey(t *testing.T) {
	provider := NewGoogleProvider(GoogleConfig{})
	if _, err := provider.Generate(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error without API key")
	}
}
