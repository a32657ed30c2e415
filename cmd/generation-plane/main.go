package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/api"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/config"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/events"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/llm"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/scrape"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store/memory"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store/postgres"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		_ = godotenv.Load()
		return config.Load(), nil
	}
	newBroker = events.NewBroker
	newStore = func(cfg config.Config) (store.Store, error) {
		if cfg.StoreDriver == "memory" {
			return memory.New(), nil
		}
		return postgres.New(cfg.PostgresURL)
	}
	newProvider = llm.NewProvider
	newWorkflowService = func(st store.Store, broker *events.Broker, fanout *scrape.Fanout, provider llm.Provider, cfg workflows.Config) *workflows.Service {
		return workflows.NewService(st, broker, fanout, provider, cfg)
	}
	newServer = func(st store.Store, broker *events.Broker, workflowService *workflows.Service) server {
		return api.NewServer(st, broker, workflowService)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := newBroker()
	st, err := newStore(cfg)
	if err != nil {
		return err
	}

	provider, err := newProvider(llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		GoogleAPIKey:     cfg.GoogleAPIKey,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
	})
	if err != nil {
		return err
	}

	scraper := scrape.NewFirecrawlClient(scrape.FirecrawlConfig{
		APIKey:  cfg.FirecrawlAPIKey,
		BaseURL: cfg.FirecrawlBaseURL,
	})
	fanout := scrape.NewFanout(scraper, cfg.ScrapeMaxConcurrency, cfg.ScrapeTimeout)

	workflowService := newWorkflowService(st, broker, fanout, provider, workflows.Config{
		MaxAttempts:      cfg.WorkflowMaxAttempts,
		RetryBase:        cfg.WorkflowRetryBase,
		RetryMaxInterval: cfg.WorkflowRetryMax,
		Workers:          cfg.WorkflowWorkers,
		QueueSize:        cfg.WorkflowQueueSize,
	})
	workflowService.Start(ctx)
	if err := workflowService.RecoverPending(ctx); err != nil {
		log.Printf("warning: failed to recover pending runs: %v", err)
	}

	srv := newServer(st, broker, workflowService)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Atelier generation plane listening on %s", addr)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	workflowService.Wait()

	return nil
}
