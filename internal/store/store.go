package store

import "context"

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	MessageStatusQueued     = "queued"
	MessageStatusProcessing = "processing"
	MessageStatusCompleted  = "completed"
	MessageStatusFailed     = "failed"
)

const (
	StepStatusPending   = "pending"
	StepStatusSucceeded = "succeeded"
	StepStatusFailed    = "failed"
)

const (
	StepExtractURLs  = "extract-urls"
	StepScrapeURLs   = "scrape-urls"
	StepGenerateText = "generate-text"
)

type Conversation struct {
	ID        string
	Title     string
	CreatedAt string
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Status         string
	Error          string
	Sequence       int64
	CreatedAt      string
}

type WorkflowRun struct {
	ID             string
	ConversationID string
	MessageID      string
	Status         string
	Error          string
	CreatedAt      string
	CompletedAt    string
}

// Terminal reports whether the run has reached an absorbing state.
func (r WorkflowRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// StepRecord is the memoized outcome of one named step within a run,
// keyed by (RunID, StepName). A succeeded record is immutable: writes
// over it are dropped unless the records are explicitly cleared.
type StepRecord struct {
	RunID            string
	StepName         string
	InputFingerprint string
	Status           string
	Output           string
	Error            string
	Attempt          int
	CreatedAt        string
	UpdatedAt        string
}

type RunEvent struct {
	RunID     string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

type Store interface {
	CreateConversation(ctx context.Context, conversation Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)

	AddMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// UpdateMessageStatus moves the message through the UI-visible
	// lifecycle. Content is applied only on completed, error only on failed.
	UpdateMessageStatus(ctx context.Context, messageID string, status string, content string, errMsg string) error

	CreateRun(ctx context.Context, run WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)
	ListRuns(ctx context.Context) ([]WorkflowRun, error)
	LatestRunForMessage(ctx context.Context, messageID string) (*WorkflowRun, error)
	// MarkRunRunning is a no-op when the run is already terminal.
	MarkRunRunning(ctx context.Context, runID string) error
	// CompleteRun moves a run to completed or failed exactly once; a run
	// already in a terminal state is left untouched.
	CompleteRun(ctx context.Context, runID string, status string, errMsg string, completedAt string) error
	ListPendingRuns(ctx context.Context) ([]WorkflowRun, error)

	GetStepRecord(ctx context.Context, runID string, stepName string) (*StepRecord, error)
	// PutStepRecord upserts the record for (RunID, StepName). If the
	// existing record has status succeeded the write is dropped.
	PutStepRecord(ctx context.Context, record StepRecord) error
	ListStepRecords(ctx context.Context, runID string) ([]StepRecord, error)
	// ClearStepRecords force-removes all records for a run. Cleanup and
	// tests only; normal orchestration never calls it.
	ClearStepRecords(ctx context.Context, runID string) error

	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error)
	NextSeq(ctx context.Context, runID string) (int64, error)
}
