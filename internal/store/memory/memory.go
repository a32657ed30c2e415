package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
	messageIndex  map[string]store.Message
	runs          map[string]store.WorkflowRun
	steps         map[string]map[string]store.StepRecord
	events        map[string][]store.RunEvent
	seq           map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]store.Conversation{},
		messages:      map[string][]store.Message{},
		messageIndex:  map[string]store.Message{},
		runs:          map[string]store.WorkflowRun{},
		steps:         map[string]map[string]store.StepRecord{},
		events:        map[string][]store.RunEvent{},
		seq:           map[string]int64{},
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conversation store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversation.ID] = conversation
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	copy := conversation
	return &copy, nil
}

func (m *MemoryStore) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Conversation, 0, len(m.conversations))
	for _, conversation := range m.conversations {
		results = append(results, conversation)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	m.messageIndex[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, messageID string) (*store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messageIndex[messageID]
	if !ok {
		return nil, nil
	}
	copy := msg
	return &copy, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[conversationID]
	results := append([]store.Message{}, messages...)
	sort.Slice(results, func(i, j int) bool {
		return results[i].Sequence < results[j].Sequence
	})
	return results, nil
}

func (m *MemoryStore) UpdateMessageStatus(ctx context.Context, messageID string, status string, content string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messageIndex[messageID]
	if !ok {
		return nil
	}
	msg.Status = status
	if status == store.MessageStatusCompleted {
		msg.Content = content
	}
	if status == store.MessageStatusFailed {
		msg.Error = errMsg
	}
	m.messageIndex[messageID] = msg
	byConversation := m.messages[msg.ConversationID]
	for idx := range byConversation {
		if byConversation[idx].ID == messageID {
			byConversation[idx] = msg
		}
	}
	m.messages[msg.ConversationID] = byConversation
	return nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.Status == "" {
		run.Status = store.RunStatusQueued
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copy := run
	return &copy, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]store.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.WorkflowRun, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, run)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) LatestRunForMessage(ctx context.Context, messageID string) (*store.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *store.WorkflowRun
	for _, run := range m.runs {
		if run.MessageID != messageID {
			continue
		}
		if latest == nil || parseTime(run.CreatedAt).After(parseTime(latest.CreatedAt)) {
			copy := run
			latest = &copy
		}
	}
	return latest, nil
}

func (m *MemoryStore) MarkRunRunning(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Terminal() {
		return nil
	}
	run.Status = store.RunStatusRunning
	m.runs[runID] = run
	return nil
}

func (m *MemoryStore) CompleteRun(ctx context.Context, runID string, status string, errMsg string, completedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Terminal() {
		return nil
	}
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = completedAt
	m.runs[runID] = run
	return nil
}

func (m *MemoryStore) ListPendingRuns(ctx context.Context) ([]store.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.WorkflowRun{}
	for _, run := range m.runs {
		if run.Terminal() {
			continue
		}
		results = append(results, run)
	}
	sort.Slice(results, func(i, j int) bool {
		return parseTime(results[i].CreatedAt).Before(parseTime(results[j].CreatedAt))
	})
	return results, nil
}

func (m *MemoryStore) GetStepRecord(ctx context.Context, runID string, stepName string) (*store.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byRun := m.steps[runID]
	if byRun == nil {
		return nil, nil
	}
	record, ok := byRun[stepName]
	if !ok {
		return nil, nil
	}
	copy := record
	return &copy, nil
}

func (m *MemoryStore) PutStepRecord(ctx context.Context, record store.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[record.RunID] == nil {
		m.steps[record.RunID] = map[string]store.StepRecord{}
	}
	existing, ok := m.steps[record.RunID][record.StepName]
	if ok && existing.Status == store.StepStatusSucceeded {
		return nil
	}
	if ok {
		record.CreatedAt = existing.CreatedAt
	}
	m.steps[record.RunID][record.StepName] = record
	return nil
}

func (m *MemoryStore) ListStepRecords(ctx context.Context, runID string) ([]store.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byRun := m.steps[runID]
	if len(byRun) == 0 {
		return []store.StepRecord{}, nil
	}
	results := make([]store.StepRecord, 0, len(byRun))
	for _, record := range byRun {
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		return stepOrder(results[i].StepName) < stepOrder(results[j].StepName)
	})
	return results, nil
}

func (m *MemoryStore) ClearStepRecords(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, runID)
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.RunID] = append(m.events[event.RunID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[runID]
	if afterSeq <= 0 {
		return append([]store.RunEvent{}, events...), nil
	}
	filtered := []store.RunEvent{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[runID] += 1
	return m.seq[runID], nil
}

func stepOrder(stepName string) int {
	switch stepName {
	case store.StepExtractURLs:
		return 0
	case store.StepScrapeURLs:
		return 1
	case store.StepGenerateText:
		return 2
	default:
		return 3
	}
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
