package workflows

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/events"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/llm"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/scrape"
	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

const eventSource = "generation_plane"

var errRunCancelled = errors.New("run cancelled")

type Config struct {
	MaxAttempts      int
	RetryBase        time.Duration
	RetryMaxInterval time.Duration
	Workers          int
	QueueSize        int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Service owns the generation workflow: it turns queued chat messages
// into runs, drives each run's steps through the memoization log, and
// publishes the status transitions the UI observes.
type Service struct {
	store    store.Store
	broker   *events.Broker
	fanout   *scrape.Fanout
	provider llm.Provider
	cfg      Config

	queue chan string

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

func NewService(st store.Store, broker *events.Broker, fanout *scrape.Fanout, provider llm.Provider, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		store:    st,
		broker:   broker,
		fanout:   fanout,
		provider: provider,
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		cancels:  map[string]context.CancelCauseFunc{},
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// runs interrupted by shutdown stay non-terminal and are picked up by
// RecoverPending on the next boot.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case runID := <-s.queue:
					s.executeRun(ctx, runID)
				}
			}
		}()
	}
}

// Wait blocks until every worker has drained.
func (s *Service) Wait() {
	s.wg.Wait()
}

// OnMessageQueued is the workflow entry point: it resolves the run for
// the given message and enqueues it. Calling it again for a message
// whose run already completed returns that run untouched, so no
// provider call is ever repeated. A message with a non-terminal run is
// re-enqueued (resumption); only a failed run gets a fresh one.
func (s *Service) OnMessageQueued(ctx context.Context, conversationID string, messageID string, text string) (string, error) {
	latest, err := s.store.LatestRunForMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if latest != nil {
		if latest.Status == store.RunStatusCompleted {
			return latest.ID, nil
		}
		if !latest.Terminal() {
			// A run a worker is already executing must not be queued a
			// second time: two workers would repeat the in-flight step's
			// provider call.
			if s.inFlight(latest.ID) {
				return latest.ID, nil
			}
			if err := s.enqueue(ctx, latest.ID); err != nil {
				return "", err
			}
			return latest.ID, nil
		}
	}

	run := store.WorkflowRun{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         store.RunStatusQueued,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	s.emitEvent(ctx, run.ID, events.TypeRunQueued, map[string]any{
		"message_id":      messageID,
		"conversation_id": conversationID,
	})
	if err := s.enqueue(ctx, run.ID); err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *Service) enqueue(ctx context.Context, runID string) error {
	select {
	case s.queue <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRun cancels an in-flight run (propagating to its network calls)
// or, for a run that has not started, marks it failed immediately.
// Steps that already committed a succeeded record are not rolled back.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	cancel, inFlight := s.cancels[runID]
	s.mu.Unlock()
	if inFlight {
		cancel(errRunCancelled)
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.Terminal() {
		return nil
	}
	s.finishRun(ctx, *run, store.RunStatusFailed, "run cancelled", "", events.TypeRunCancelled)
	return nil
}

// RecoverPending re-enqueues every non-terminal run. Called once at
// boot so a process crash mid-run still reaches a terminal status.
func (s *Service) RecoverPending(ctx context.Context) error {
	pending, err := s.store.ListPendingRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range pending {
		if err := s.enqueue(ctx, run.ID); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		log.Printf("recovered %d pending workflow run(s)", len(pending))
	}
	return nil
}

// registerCancel claims the run for the calling worker. It reports false
// when another worker already holds the run, in which case the caller
// must not execute it.
func (s *Service) registerCancel(runID string, cancel context.CancelCauseFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cancels[runID]; exists {
		return false
	}
	s.cancels[runID] = cancel
	return true
}

func (s *Service) inFlight(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[runID]
	return ok
}

func (s *Service) unregisterCancel(runID string) {
	s.mu.Lock()
	delete(s.cancels, runID)
	s.mu.Unlock()
}

func (s *Service) emitEvent(ctx context.Context, runID string, eventType string, payload map[string]any) {
	seq, err := s.store.NextSeq(ctx, runID)
	if err != nil {
		log.Printf("warning: event sequence for run %s: %v", runID, err)
		return
	}
	event := store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    eventSource,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	}
	_ = s.store.AppendEvent(ctx, event)
	if s.broker != nil {
		s.broker.Publish(events.RunEvent{
			RunID:   event.RunID,
			Seq:     event.Seq,
			Type:    events.NormalizeType(event.Type),
			Ts:      event.Timestamp,
			Source:  event.Source,
			TraceID: event.TraceID,
			Payload: event.Payload,
		})
	}
}
