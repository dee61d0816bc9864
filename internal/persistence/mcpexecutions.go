package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// McpExecutionStatus is the lifecycle of one MCP tool invocation.
type McpExecutionStatus string

const (
	McpExecutionStarted   McpExecutionStatus = "started"
	McpExecutionCompleted McpExecutionStatus = "completed"
	McpExecutionFailed    McpExecutionStatus = "failed"
)

// McpExecutionRecord is a row in mcp_tool_executions. Rows are append
// only: inputs are written on start, outputs on completion, and nothing
// is ever rewritten after a terminal status.
type McpExecutionRecord struct {
	ID              ids.McpExecutionID
	TaskID          ids.TaskID
	ContextID       ids.ContextID
	ServerName      string
	ToolName        string
	InputJSON       string
	OutputJSON      string
	Status          McpExecutionStatus
	ExecutionTimeMs *int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// StartMcpExecution records a tool invocation before it runs, so a
// crash mid-call still leaves an audit row.
func (s *Store) StartMcpExecution(ctx context.Context, rec McpExecutionRecord) error {
	if rec.ID == "" {
		return &InvalidDataError{Field: "mcp_execution_id", Reason: "empty"}
	}
	if rec.ServerName == "" || rec.ToolName == "" {
		return &InvalidDataError{Field: "server_name/tool_name", Reason: "empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_tool_executions (id, task_id, context_id, server_name, tool_name, input_json, status)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, nullable(rec.TaskID.String()), nullable(rec.ContextID.String()),
		rec.ServerName, rec.ToolName, rec.InputJSON, McpExecutionStarted)
	if err != nil {
		return fmt.Errorf("start mcp execution: %w", err)
	}
	return nil
}

// CompleteMcpExecution records the tool's raw output and duration.
func (s *Store) CompleteMcpExecution(ctx context.Context, id ids.McpExecutionID, outputJSON string, executionTimeMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mcp_tool_executions SET status = ?, output_json = ?, execution_time_ms = ?
		WHERE id = ? AND status = ?;
	`, McpExecutionCompleted, outputJSON, executionTimeMs, id, McpExecutionStarted)
	if err != nil {
		return fmt.Errorf("complete mcp execution: %w", err)
	}
	return requireRow(res, "mcp execution "+id.String())
}

// FailMcpExecution records a tool failure and duration.
func (s *Store) FailMcpExecution(ctx context.Context, id ids.McpExecutionID, errMsg string, executionTimeMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mcp_tool_executions SET status = ?, error_message = ?, execution_time_ms = ?
		WHERE id = ? AND status = ?;
	`, McpExecutionFailed, errMsg, executionTimeMs, id, McpExecutionStarted)
	if err != nil {
		return fmt.Errorf("fail mcp execution: %w", err)
	}
	return requireRow(res, "mcp execution "+id.String())
}

// ListMcpExecutionsByTask returns a task's tool invocations in the
// order they were started.
func (s *Store) ListMcpExecutionsByTask(ctx context.Context, taskID ids.TaskID) ([]McpExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(task_id, ''), COALESCE(context_id, ''), server_name, tool_name,
			input_json, COALESCE(output_json, ''), status, execution_time_ms,
			COALESCE(error_message, ''), created_at
		FROM mcp_tool_executions WHERE task_id = ? ORDER BY created_at ASC, id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list mcp executions: %w", err)
	}
	defer rows.Close()

	var out []McpExecutionRecord
	for rows.Next() {
		rec, err := scanMcpExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mcp execution rows: %w", err)
	}
	return out, nil
}

// GetMcpExecution loads one execution row.
func (s *Store) GetMcpExecution(ctx context.Context, id ids.McpExecutionID) (McpExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(task_id, ''), COALESCE(context_id, ''), server_name, tool_name,
			input_json, COALESCE(output_json, ''), status, execution_time_ms,
			COALESCE(error_message, ''), created_at
		FROM mcp_tool_executions WHERE id = ?;
	`, id)
	rec, err := scanMcpExecution(row)
	if err == sql.ErrNoRows {
		return McpExecutionRecord{}, fmt.Errorf("mcp execution %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func scanMcpExecution(row rowScanner) (McpExecutionRecord, error) {
	var (
		rec               McpExecutionRecord
		taskID, contextID string
		execMs            sql.NullInt64
	)
	err := row.Scan(&rec.ID, &taskID, &contextID, &rec.ServerName, &rec.ToolName,
		&rec.InputJSON, &rec.OutputJSON, &rec.Status, &execMs,
		&rec.ErrorMessage, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return McpExecutionRecord{}, err
		}
		return McpExecutionRecord{}, fmt.Errorf("scan mcp execution: %w", err)
	}
	rec.TaskID = ids.TaskID(taskID)
	rec.ContextID = ids.ContextID(contextID)
	if execMs.Valid {
		v := execMs.Int64
		rec.ExecutionTimeMs = &v
	}
	return rec, nil
}
