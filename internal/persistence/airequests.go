package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// AiRequestStatus is the lifecycle of one LLM API call.
type AiRequestStatus string

const (
	AiRequestStarted   AiRequestStatus = "started"
	AiRequestCompleted AiRequestStatus = "completed"
	AiRequestFailed    AiRequestStatus = "failed"
)

// AiRequestRecord is a row in ai_requests. A row is authoritative only
// once Status is terminal and LatencyMs is set.
type AiRequestRecord struct {
	ID                  ids.AiRequestID
	TaskID              ids.TaskID
	ContextID           ids.ContextID
	SessionID           ids.SessionID
	UserID              ids.UserID
	TraceID             ids.TraceID
	Provider            string
	Model               string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	SystemPrompt        string
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostMicrodollars    int64
	LatencyMs           *int64
	CacheHit            bool
	IsStreaming         bool
	Status              AiRequestStatus
	ResponseContent     string
	ErrorMessage        string
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// AiRequestMessage is one conversation entry sent with a request, ordered
// by SequenceNumber.
type AiRequestMessage struct {
	AiRequestID    ids.AiRequestID
	SequenceNumber int
	Role           string
	Content        string
}

// AiRequestToolCall is one tool invocation the model requested.
type AiRequestToolCall struct {
	AiRequestID    ids.AiRequestID
	SequenceNumber int
	ToolCallID     string
	ToolName       string
	ArgumentsJSON  string
}

// StartAiRequest inserts a request row in the started state.
func (s *Store) StartAiRequest(ctx context.Context, rec AiRequestRecord) error {
	if rec.ID == "" {
		return &InvalidDataError{Field: "ai_request_id", Reason: "empty"}
	}
	if rec.Provider == "" || rec.Model == "" {
		return &InvalidDataError{Field: "provider/model", Reason: "empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_requests (
			id, task_id, context_id, session_id, user_id, trace_id,
			provider, model, temperature, top_p, max_tokens, system_prompt,
			is_streaming, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, nullable(rec.TaskID.String()), nullable(rec.ContextID.String()),
		nullable(rec.SessionID.String()), nullable(rec.UserID.String()), nullable(rec.TraceID.String()),
		rec.Provider, rec.Model, rec.Temperature, rec.TopP, rec.MaxTokens, rec.SystemPrompt,
		rec.IsStreaming, AiRequestStarted)
	if err != nil {
		return fmt.Errorf("start ai request: %w", err)
	}
	return nil
}

// AiRequestCompletion carries the terminal fields written when a request
// finishes successfully.
type AiRequestCompletion struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostMicrodollars    int64
	LatencyMs           int64
	CacheHit            bool
	ResponseContent     string
}

// CompleteAiRequest marks a request completed. Cost is computed by the
// caller exactly once; it is never recomputed on read.
func (s *Store) CompleteAiRequest(ctx context.Context, id ids.AiRequestID, c AiRequestCompletion) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ai_requests SET
			status = ?, input_tokens = ?, output_tokens = ?,
			cache_read_tokens = ?, cache_creation_tokens = ?,
			cost_microdollars = ?, latency_ms = ?, cache_hit = ?,
			response_content = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, AiRequestCompleted, c.InputTokens, c.OutputTokens,
		c.CacheReadTokens, c.CacheCreationTokens,
		c.CostMicrodollars, c.LatencyMs, c.CacheHit,
		c.ResponseContent, id, AiRequestStarted)
	if err != nil {
		return fmt.Errorf("complete ai request: %w", err)
	}
	return requireRow(res, "ai request "+id.String())
}

// FailAiRequest marks a request failed with the error string.
func (s *Store) FailAiRequest(ctx context.Context, id ids.AiRequestID, latencyMs int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ai_requests SET
			status = ?, latency_ms = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, AiRequestFailed, latencyMs, errMsg, id, AiRequestStarted)
	if err != nil {
		return fmt.Errorf("fail ai request: %w", err)
	}
	return requireRow(res, "ai request "+id.String())
}

// AppendAiRequestMessages writes the request's conversation history in
// order. Sequence numbers continue from any rows already present.
func (s *Store) AppendAiRequestMessages(ctx context.Context, id ids.AiRequestID, msgs []AiRequestMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence_number), -1) + 1 FROM ai_request_messages WHERE ai_request_id = ?;
		`, id).Scan(&next); err != nil {
			return fmt.Errorf("next message sequence: %w", err)
		}
		for i, m := range msgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ai_request_messages (ai_request_id, sequence_number, role, content)
				VALUES (?, ?, ?, ?);
			`, id, next+i, m.Role, m.Content); err != nil {
				return fmt.Errorf("insert ai request message: %w", err)
			}
		}
		return nil
	})
}

// AppendAiRequestToolCalls records the tool calls the model requested.
func (s *Store) AppendAiRequestToolCalls(ctx context.Context, id ids.AiRequestID, calls []AiRequestToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence_number), -1) + 1 FROM ai_request_tool_calls WHERE ai_request_id = ?;
		`, id).Scan(&next); err != nil {
			return fmt.Errorf("next tool call sequence: %w", err)
		}
		for i, c := range calls {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ai_request_tool_calls (ai_request_id, sequence_number, tool_call_id, tool_name, arguments_json)
				VALUES (?, ?, ?, ?, ?);
			`, id, next+i, c.ToolCallID, c.ToolName, c.ArgumentsJSON); err != nil {
				return fmt.Errorf("insert ai request tool call: %w", err)
			}
		}
		return nil
	})
}

// ListAiRequestsByTask returns a task's LLM calls in creation order.
func (s *Store) ListAiRequestsByTask(ctx context.Context, taskID ids.TaskID) ([]AiRequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(task_id, ''), COALESCE(context_id, ''), COALESCE(session_id, ''),
			COALESCE(user_id, ''), COALESCE(trace_id, ''), provider, model,
			temperature, top_p, max_tokens, system_prompt,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			cost_microdollars, latency_ms, cache_hit, is_streaming, status,
			response_content, COALESCE(error_message, ''), created_at, completed_at
		FROM ai_requests WHERE task_id = ? ORDER BY created_at ASC, id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list ai requests: %w", err)
	}
	defer rows.Close()

	var out []AiRequestRecord
	for rows.Next() {
		rec, err := scanAiRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ai request rows: %w", err)
	}
	return out, nil
}

// GetAiRequest loads one request row.
func (s *Store) GetAiRequest(ctx context.Context, id ids.AiRequestID) (AiRequestRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(task_id, ''), COALESCE(context_id, ''), COALESCE(session_id, ''),
			COALESCE(user_id, ''), COALESCE(trace_id, ''), provider, model,
			temperature, top_p, max_tokens, system_prompt,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			cost_microdollars, latency_ms, cache_hit, is_streaming, status,
			response_content, COALESCE(error_message, ''), created_at, completed_at
		FROM ai_requests WHERE id = ?;
	`, id)
	rec, err := scanAiRequest(row)
	if err == sql.ErrNoRows {
		return AiRequestRecord{}, fmt.Errorf("ai request %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListAiRequestMessages returns a request's conversation in sequence
// order.
func (s *Store) ListAiRequestMessages(ctx context.Context, id ids.AiRequestID) ([]AiRequestMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ai_request_id, sequence_number, role, content
		FROM ai_request_messages WHERE ai_request_id = ? ORDER BY sequence_number ASC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list ai request messages: %w", err)
	}
	defer rows.Close()

	var out []AiRequestMessage
	for rows.Next() {
		var m AiRequestMessage
		if err := rows.Scan(&m.AiRequestID, &m.SequenceNumber, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan ai request message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ai request message rows: %w", err)
	}
	return out, nil
}

// ListAiRequestToolCalls returns a request's tool calls in sequence order.
func (s *Store) ListAiRequestToolCalls(ctx context.Context, id ids.AiRequestID) ([]AiRequestToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ai_request_id, sequence_number, tool_call_id, tool_name, arguments_json
		FROM ai_request_tool_calls WHERE ai_request_id = ? ORDER BY sequence_number ASC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list ai request tool calls: %w", err)
	}
	defer rows.Close()

	var out []AiRequestToolCall
	for rows.Next() {
		var c AiRequestToolCall
		if err := rows.Scan(&c.AiRequestID, &c.SequenceNumber, &c.ToolCallID, &c.ToolName, &c.ArgumentsJSON); err != nil {
			return nil, fmt.Errorf("scan ai request tool call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ai request tool call rows: %w", err)
	}
	return out, nil
}

func scanAiRequest(row rowScanner) (AiRequestRecord, error) {
	var (
		rec                     AiRequestRecord
		taskID, contextID       string
		sessionID, userID       string
		traceID                 string
		temperature, topP       sql.NullFloat64
		maxTokens, latencyMs    sql.NullInt64
		completedAt             sql.NullTime
	)
	err := row.Scan(&rec.ID, &taskID, &contextID, &sessionID, &userID, &traceID,
		&rec.Provider, &rec.Model, &temperature, &topP, &maxTokens, &rec.SystemPrompt,
		&rec.InputTokens, &rec.OutputTokens, &rec.CacheReadTokens, &rec.CacheCreationTokens,
		&rec.CostMicrodollars, &latencyMs, &rec.CacheHit, &rec.IsStreaming, &rec.Status,
		&rec.ResponseContent, &rec.ErrorMessage, &rec.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return AiRequestRecord{}, err
		}
		return AiRequestRecord{}, fmt.Errorf("scan ai request: %w", err)
	}
	rec.TaskID = ids.TaskID(taskID)
	rec.ContextID = ids.ContextID(contextID)
	rec.SessionID = ids.SessionID(sessionID)
	rec.UserID = ids.UserID(userID)
	rec.TraceID = ids.TraceID(traceID)
	if temperature.Valid {
		v := temperature.Float64
		rec.Temperature = &v
	}
	if topP.Valid {
		v := topP.Float64
		rec.TopP = &v
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		rec.MaxTokens = &v
	}
	if latencyMs.Valid {
		v := latencyMs.Int64
		rec.LatencyMs = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
