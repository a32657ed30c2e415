package workflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/events"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/extract"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/prompt"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

func (s *Service) executeRun(ctx context.Context, runID string) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("warning: load run %s: %v", runID, err)
		return
	}
	if run == nil || run.Terminal() {
		return
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	if !s.registerCancel(runID, cancel) {
		// Another worker is already executing this run.
		cancel(nil)
		return
	}
	defer func() {
		s.unregisterCancel(runID)
		cancel(nil)
	}()

	// Finalization writes must survive run cancellation.
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			s.finishRun(persistCtx, *run, store.RunStatusFailed, fmt.Sprintf("panic: %v", rec), "", events.TypeRunFailed)
		}
	}()

	msg, err := s.store.GetMessage(ctx, run.MessageID)
	if err != nil || msg == nil {
		reason := "message not found"
		if err != nil {
			reason = err.Error()
		}
		s.finishRun(persistCtx, *run, store.RunStatusFailed, reason, "", events.TypeRunFailed)
		return
	}

	if err := s.store.MarkRunRunning(ctx, runID); err != nil {
		log.Printf("warning: mark run %s running: %v", runID, err)
	}
	_ = s.store.UpdateMessageStatus(ctx, msg.ID, store.MessageStatusProcessing, "", "")
	s.emitEvent(ctx, runID, events.TypeRunStarted, map[string]any{"message_id": msg.ID})

	text, err := s.runPipeline(runCtx, runID, msg.Content)
	if err != nil {
		if errors.Is(context.Cause(runCtx), errRunCancelled) {
			s.finishRun(persistCtx, *run, store.RunStatusFailed, "run cancelled", "", events.TypeRunCancelled)
			return
		}
		if ctx.Err() != nil {
			// Shutdown: leave the run non-terminal so RecoverPending
			// resumes it from the memoization log on the next boot.
			return
		}
		s.finishRun(persistCtx, *run, store.RunStatusFailed, err.Error(), "", events.TypeRunFailed)
		return
	}
	s.finishRun(persistCtx, *run, store.RunStatusCompleted, "", text, events.TypeRunCompleted)
}

// runPipeline drives the three steps in order. Each step consults the
// memoization log first, so a resumed run never repeats completed work.
func (s *Service) runPipeline(ctx context.Context, runID string, original string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	rawURLs, err := s.runStep(ctx, runID, store.StepExtractURLs, fingerprint(original), func(context.Context) (string, error) {
		return encodeStrings(extract.URLs(original))
	})
	if err != nil {
		return "", err
	}
	urls, err := decodeStrings(rawURLs)
	if err != nil {
		return "", fmt.Errorf("decode %s output: %w", store.StepExtractURLs, err)
	}

	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	contextText, err := s.runStep(ctx, runID, store.StepScrapeURLs, fingerprint(strings.Join(urls, "\n")), func(stepCtx context.Context) (string, error) {
		if len(urls) == 0 {
			return "", nil
		}
		results := s.fanout.All(stepCtx, urls)
		failed := 0
		firstErr := ""
		for _, result := range results {
			if result.OK {
				continue
			}
			failed++
			if firstErr == "" {
				firstErr = result.Error
			}
		}
		// Per-URL failures are tolerated; only a clean sweep of
		// failures fails the step.
		if failed == len(results) {
			return "", &retryableError{fmt.Errorf("all %d scrape(s) failed: %s", len(results), firstErr)}
		}
		return prompt.Join(results), nil
	})
	if err != nil {
		return "", err
	}

	finalPrompt := prompt.Render(contextText, original)
	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	return s.runStep(ctx, runID, store.StepGenerateText, fingerprint(finalPrompt), func(stepCtx context.Context) (string, error) {
		return s.provider.Generate(stepCtx, finalPrompt)
	})
}

// runStep executes one memoized step. A succeeded record with a matching
// fingerprint is reused without executing fn. Transient failures are
// retried with exponential backoff until the attempt budget, counted
// durably across resumptions, is spent.
func (s *Service) runStep(ctx context.Context, runID string, stepName string, inputFingerprint string, fn func(context.Context) (string, error)) (string, error) {
	writeCtx := context.WithoutCancel(ctx)

	record, err := s.store.GetStepRecord(writeCtx, runID, stepName)
	if err != nil {
		return "", err
	}
	if record != nil && record.Status == store.StepStatusSucceeded {
		if record.InputFingerprint == inputFingerprint {
			s.emitEvent(writeCtx, runID, events.TypeStepSkipped, map[string]any{
				"step":        stepName,
				"fingerprint": inputFingerprint,
			})
			return record.Output, nil
		}
		// A succeeded record is immutable, but its input no longer
		// matches; recompute without disturbing the stored record.
		log.Printf("warning: run %s step %s fingerprint mismatch, recomputing", runID, stepName)
		record = nil
	}

	attempt := 0
	if record != nil && record.InputFingerprint == inputFingerprint {
		attempt = record.Attempt
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBase
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = s.cfg.RetryMaxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return "", context.Cause(ctx)
		}
		attempt++
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_ = s.store.PutStepRecord(writeCtx, store.StepRecord{
			RunID:            runID,
			StepName:         stepName,
			InputFingerprint: inputFingerprint,
			Status:           store.StepStatusPending,
			Attempt:          attempt,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		s.emitEvent(writeCtx, runID, events.TypeStepStarted, map[string]any{
			"step":    stepName,
			"attempt": attempt,
		})

		output, err := fn(ctx)
		now = time.Now().UTC().Format(time.RFC3339Nano)
		if err == nil {
			if putErr := s.store.PutStepRecord(writeCtx, store.StepRecord{
				RunID:            runID,
				StepName:         stepName,
				InputFingerprint: inputFingerprint,
				Status:           store.StepStatusSucceeded,
				Output:           output,
				Attempt:          attempt,
				CreatedAt:        now,
				UpdatedAt:        now,
			}); putErr != nil {
				log.Printf("warning: memoize run %s step %s: %v", runID, stepName, putErr)
			}
			s.emitEvent(writeCtx, runID, events.TypeStepCompleted, map[string]any{
				"step":    stepName,
				"attempt": attempt,
			})
			return output, nil
		}

		_ = s.store.PutStepRecord(writeCtx, store.StepRecord{
			RunID:            runID,
			StepName:         stepName,
			InputFingerprint: inputFingerprint,
			Status:           store.StepStatusFailed,
			Error:            err.Error(),
			Attempt:          attempt,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		s.emitEvent(writeCtx, runID, events.TypeStepFailed, map[string]any{
			"step":    stepName,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		if !transient(err) || attempt >= s.cfg.MaxAttempts {
			return "", &StepError{StepName: stepName, Attempts: attempt, Err: err}
		}
		select {
		case <-time.After(policy.NextBackOff()):
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}
}

func (s *Service) finishRun(ctx context.Context, run store.WorkflowRun, status string, errMsg string, content string, eventType string) {
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.store.CompleteRun(ctx, run.ID, status, errMsg, completedAt); err != nil {
		log.Printf("warning: complete run %s: %v", run.ID, err)
	}

	messageStatus := store.MessageStatusFailed
	if status == store.RunStatusCompleted {
		messageStatus = store.MessageStatusCompleted
	}
	if err := s.store.UpdateMessageStatus(ctx, run.MessageID, messageStatus, content, errMsg); err != nil {
		log.Printf("warning: update message %s: %v", run.MessageID, err)
	}

	payload := map[string]any{
		"message_id": run.MessageID,
		"status":     status,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	s.emitEvent(ctx, run.ID, eventType, payload)
}

func fingerprint(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeStrings(raw string) ([]string, error) {
	values := []string{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}
