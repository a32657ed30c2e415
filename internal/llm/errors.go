package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

// ProviderError carries the HTTP status of a failed provider call so the
// orchestrator can distinguish transient failures from permanent ones.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed: %d %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// Transient reports whether retrying the call can reasonably be expected
// to succeed. Rate limits, timeouts and upstream 5xx responses are
// transient; everything else (bad API key, invalid model, malformed
// response) is permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch {
		case providerErr.Status == http.StatusTooManyRequests:
			return true
		case providerErr.Status == http.StatusRequestTimeout:
			return true
		case providerErr.Status >= 500:
			return true
		case providerErr.Status > 0:
			return false
		}
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	if strings.Contains(message, "timeout") || strings.Contains(message, "timed out") {
		return true
	}
	if strings.Contains(message, "rate limit") || strings.Contains(message, "temporarily unavailable") {
		return true
	}
	if strings.Contains(message, "connection reset") || strings.Contains(message, "connection refused") {
		return true
	}
	if strings.Contains(message, "bad gateway") {
		return true
	}
	return false
}
