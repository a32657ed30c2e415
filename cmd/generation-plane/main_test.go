package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/config"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/events"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store/memory"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/workflows"
)

type stubServer struct {
	started chan string
}

func (s *stubServer) Start(ctx context.Context, addr string) error {
	s.started <- addr
	<-ctx.Done()
	return http.ErrServerClosed
}

func testConfig() config.Config {
	return config.Config{
		Port:        "0",
		StoreDriver: "memory",
		LLMProvider: "google",
		LLMModel:    "gemini-2.5-flash",
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	origLoadConfig := loadConfig
	origNewServer := newServer
	origNotify := notifyContext
	defer func() {
		loadConfig = origLoadConfig
		newServer = origNewServer
		notifyContext = origNotify
	}()

	loadConfig = func() (config.Config, error) {
		return testConfig(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	notifyContext = func(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
		return ctx, cancel
	}

	srv := &stubServer{started: make(chan string, 1)}
	newServer = func(st store.Store, broker *events.Broker, workflowService *workflows.Service) server {
		return srv
	}

	done := make(chan error, 1)
	go func() { done <- run() }()

	select {
	case addr := <-srv.started:
		if addr != ":0" {
			t.Fatalf("unexpected listen address: %s", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after shutdown signal")
	}
}

func TestRunFailsWhenStoreUnavailable(t *testing.T) {
	origLoadConfig := loadConfig
	origNewStore := newStore
	defer func() {
		loadConfig = origLoadConfig
		newStore = origNewStore
	}()

	loadConfig = func() (config.Config, error) {
		return testConfig(), nil
	}
	newStore = func(cfg config.Config) (store.Store, error) {
		return nil, errors.New("connection refused")
	}

	if err := run(); err == nil {
		t.Fatalf("expected error when store cannot be opened")
	}
}

func TestRunFailsOnUnsupportedProvider(t *testing.T) {
	origLoadConfig := loadConfig
	defer func() { loadConfig = origLoadConfig }()

	loadConfig = func() (config.Config, error) {
		cfg := testConfig()
		cfg.LLMProvider = "carrier-pigeon"
		return cfg, nil
	}

	if err := run(); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestNewStoreSelectsDriver(t *testing.T) {
	st, err := newStore(config.Config{StoreDriver: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.(*memory.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}
}
