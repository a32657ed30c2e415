package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"conversations",
		"messages",
		"workflow_runs",
		"step_records",
		"run_events",
		"run_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run infra/migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateConversation(ctx context.Context, conversation store.Conversation) error {
	const query = `
		INSERT INTO conversations (id, title, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := p.db.ExecContext(ctx, query, conversation.ID, conversation.Title, conversation.CreatedAt)
	return err
}

func (p *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	const query = `
		SELECT id, title, created_at
		FROM conversations
		WHERE id = $1
	`
	var conversation store.Conversation
	var createdAt time.Time
	err := p.db.QueryRowContext(ctx, query, conversationID).Scan(&conversation.ID, &conversation.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conversation.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	return &conversation, nil
}

func (p *PostgresStore) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	const query = `
		SELECT id, title, created_at
		FROM conversations
		ORDER BY created_at DESC, id
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Conversation{}
	for rows.Next() {
		var conversation store.Conversation
		var createdAt time.Time
		if err := rows.Scan(&conversation.ID, &conversation.Title, &createdAt); err != nil {
			return nil, err
		}
		conversation.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AddMessage(ctx context.Context, msg store.Message) error {
	const query = `
		INSERT INTO messages (id, conversation_id, role, content, status, error, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		msg.Status,
		nullString(msg.Error),
		msg.Sequence,
		msg.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetMessage(ctx context.Context, messageID string) (*store.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, status, error, sequence, created_at
		FROM messages
		WHERE id = $1
	`
	row := p.db.QueryRowContext(ctx, query, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, status, error, sequence, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sequence ASC
	`
	rows, err := p.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpdateMessageStatus(ctx context.Context, messageID string, status string, content string, errMsg string) error {
	const query = `
		UPDATE messages SET
			status = $2,
			content = CASE WHEN $2 = 'completed' THEN $3 ELSE content END,
			error = CASE WHEN $2 = 'failed' THEN $4 ELSE error END
		WHERE id = $1
	`
	_, err := p.db.ExecContext(ctx, query, messageID, status, content, nullString(errMsg))
	return err
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.WorkflowRun) error {
	status := run.Status
	if status == "" {
		status = store.RunStatusQueued
	}
	const query = `
		INSERT INTO workflow_runs (id, conversation_id, message_id, status, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.ConversationID,
		run.MessageID,
		status,
		nullString(run.Error),
		run.CreatedAt,
		nullTimestamp(run.CompletedAt),
	)
	return err
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.WorkflowRun, error) {
	const query = `
		SELECT id, conversation_id, message_id, status, error, created_at, completed_at
		FROM workflow_runs
		WHERE id = $1
	`
	row := p.db.QueryRowContext(ctx, query, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]store.WorkflowRun, error) {
	const query = `
		SELECT id, conversation_id, message_id, status, error, created_at, completed_at
		FROM workflow_runs
		ORDER BY created_at DESC, id
	`
	return p.queryRuns(ctx, query)
}

func (p *PostgresStore) LatestRunForMessage(ctx context.Context, messageID string) (*store.WorkflowRun, error) {
	const query = `
		SELECT id, conversation_id, message_id, status, error, created_at, completed_at
		FROM workflow_runs
		WHERE message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := p.db.QueryRowContext(ctx, query, messageID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) MarkRunRunning(ctx context.Context, runID string) error {
	const query = `
		UPDATE workflow_runs SET status = 'running'
		WHERE id = $1 AND status IN ('queued', 'running')
	`
	_, err := p.db.ExecContext(ctx, query, runID)
	return err
}

func (p *PostgresStore) CompleteRun(ctx context.Context, runID string, status string, errMsg string, completedAt string) error {
	const query = `
		UPDATE workflow_runs SET
			status = $2,
			error = $3,
			completed_at = $4
		WHERE id = $1 AND status IN ('queued', 'running')
	`
	_, err := p.db.ExecContext(ctx, query, runID, status, nullString(errMsg), nullTimestamp(completedAt))
	return err
}

func (p *PostgresStore) ListPendingRuns(ctx context.Context) ([]store.WorkflowRun, error) {
	const query = `
		SELECT id, conversation_id, message_id, status, error, created_at, completed_at
		FROM workflow_runs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at ASC, id
	`
	return p.queryRuns(ctx, query)
}

func (p *PostgresStore) queryRuns(ctx context.Context, query string, args ...any) ([]store.WorkflowRun, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) GetStepRecord(ctx context.Context, runID string, stepName string) (*store.StepRecord, error) {
	const query = `
		SELECT run_id, step_name, input_fingerprint, status, output, error, attempt, created_at, updated_at
		FROM step_records
		WHERE run_id = $1 AND step_name = $2
	`
	row := p.db.QueryRowContext(ctx, query, runID, stepName)
	record, err := scanStepRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// PutStepRecord upserts the memoized record for (run_id, step_name). The
// conflict clause's WHERE guard makes a write over a succeeded record a
// no-op, so a replayed step can never clobber committed output.
func (p *PostgresStore) PutStepRecord(ctx context.Context, record store.StepRecord) error {
	const query = `
		INSERT INTO step_records (run_id, step_name, input_fingerprint, status, output, error, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET
			input_fingerprint = EXCLUDED.input_fingerprint,
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			attempt = EXCLUDED.attempt,
			updated_at = EXCLUDED.updated_at
		WHERE step_records.status <> 'succeeded'
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		record.RunID,
		record.StepName,
		record.InputFingerprint,
		record.Status,
		nullString(record.Output),
		nullString(record.Error),
		record.Attempt,
		record.CreatedAt,
		record.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) ListStepRecords(ctx context.Context, runID string) ([]store.StepRecord, error) {
	const query = `
		SELECT run_id, step_name, input_fingerprint, status, output, error, attempt, created_at, updated_at
		FROM step_records
		WHERE run_id = $1
		ORDER BY created_at ASC, step_name
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.StepRecord{}
	for rows.Next() {
		record, err := scanStepRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ClearStepRecords(ctx context.Context, runID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM step_records WHERE run_id = $1", runID)
	return err
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO run_events (run_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		event.RunID,
		event.Seq,
		event.Type,
		timestamp,
		event.Source,
		nullString(event.TraceID),
		encoded,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, type, timestamp, source, trace_id, payload
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RunEvent{}
	for rows.Next() {
		var event store.RunEvent
		var timestamp time.Time
		var traceID sql.NullString
		var payloadBytes []byte
		if err := rows.Scan(&event.RunID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		if len(payloadBytes) > 0 {
			payload := map[string]any{}
			if err := json.Unmarshal(payloadBytes, &payload); err == nil {
				event.Payload = payload
			}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = run_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (store.Message, error) {
	var msg store.Message
	var errMsg sql.NullString
	var createdAt time.Time
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Role,
		&msg.Content,
		&msg.Status,
		&errMsg,
		&msg.Sequence,
		&createdAt,
	); err != nil {
		return store.Message{}, err
	}
	if errMsg.Valid {
		msg.Error = errMsg.String
	}
	msg.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	return msg, nil
}

func scanRun(row rowScanner) (store.WorkflowRun, error) {
	var run store.WorkflowRun
	var errMsg sql.NullString
	var createdAt time.Time
	var completedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.ConversationID,
		&run.MessageID,
		&run.Status,
		&errMsg,
		&createdAt,
		&completedAt,
	); err != nil {
		return store.WorkflowRun{}, err
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	run.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	return run, nil
}

func scanStepRecord(row rowScanner) (store.StepRecord, error) {
	var record store.StepRecord
	var output sql.NullString
	var errMsg sql.NullString
	var createdAt time.Time
	var updatedAt time.Time
	if err := row.Scan(
		&record.RunID,
		&record.StepName,
		&record.InputFingerprint,
		&record.Status,
		&output,
		&errMsg,
		&record.Attempt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.StepRecord{}, err
	}
	if output.Valid {
		record.Output = output.String
	}
	if errMsg.Valid {
		record.Error = errMsg.String
	}
	record.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	record.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return record, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimestamp(value string) any {
	if value == "" {
		return nil
	}
	return value
}
