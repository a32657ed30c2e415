package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGenerate_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  generated text  "}},
			},
		})
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-key", Model: "gpt-4o-mini", BaseURL: server.URL})
	content, err := provider.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "generated text" {
		t.Fatalf("unexpected content: %q", content)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer sk-key" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %v", gotBody["model"])
	}
}

func TestOpenAIGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-key", Model: "gpt-4o-mini", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error on 503 response")
	}
	if !Transient(err) {
		t.Fatalf("expected 5xx error to be transient: %v", err)
	}
}

func TestOpenAIGenerate_MissingModel(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-key"})
	if _, err := provider.Generate(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error without model")
	}
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(Config{Provider: "google", GoogleAPIKey: "g-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := provider.(*GoogleProvider); !ok {
		t.Fatalf("expected google provider, got %T", provider)
	}

	provider, err = NewProvider(Config{Provider: "openrouter", OpenRouterAPIKey: "or-key", Model: "qwen"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openai, ok := provider.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected openai-compatible provider, got %T", provider)
	}
	if openai.baseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected openrouter base URL: %s", openai.baseURL)
	}

	if _, err := NewProvider(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}
