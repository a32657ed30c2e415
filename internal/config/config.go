package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 string
	StoreDriver          string
	PostgresURL          string
	FirecrawlAPIKey      string
	FirecrawlBaseURL     string
	ScrapeMaxConcurrency int
	ScrapeTimeout        time.Duration
	LLMProvider          string
	LLMModel             string
	LLMBaseURL           string
	GoogleAPIKey         string
	OpenAIAPIKey         string
	OpenRouterAPIKey     string
	WorkflowMaxAttempts  int
	WorkflowRetryBase    time.Duration
	WorkflowRetryMax     time.Duration
	WorkflowWorkers      int
	WorkflowQueueSize    int
}

func Load() Config {
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:                 getEnv("GENERATION_PLANE_PORT", "8080"),
		StoreDriver:          getEnv("STORE_DRIVER", "postgres"),
		PostgresURL:          postgresURL,
		FirecrawlAPIKey:      getEnv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL:     getEnv("FIRECRAWL_BASE_URL", ""),
		ScrapeMaxConcurrency: getEnvInt("SCRAPE_MAX_CONCURRENCY", 8),
		ScrapeTimeout:        getEnvDuration("SCRAPE_TIMEOUT_MS", 30*time.Second),
		LLMProvider:          getEnv("LLM_PROVIDER", "google"),
		LLMModel:             getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
		GoogleAPIKey:         getEnv("GOOGLE_API_KEY", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		WorkflowMaxAttempts:  getEnvInt("WORKFLOW_MAX_ATTEMPTS", 3),
		WorkflowRetryBase:    getEnvDuration("WORKFLOW_RETRY_BASE_MS", time.Second),
		WorkflowRetryMax:     getEnvDuration("WORKFLOW_RETRY_MAX_MS", 30*time.Second),
		WorkflowWorkers:      getEnvInt("WORKFLOW_WORKERS", 4),
		WorkflowQueueSize:    getEnvInt("WORKFLOW_QUEUE_SIZE", 64),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "atelier")
	password := getEnv("POSTGRES_PASSWORD", "atelier")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "atelier")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
