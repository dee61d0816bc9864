package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// StepStatus is the lifecycle of one execution step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step types recorded by the execution strategy.
const (
	StepTypeUnderstanding = "understanding"
	StepTypeListTools     = "list_tools"
	StepTypePlanning      = "planning"
	StepTypeToolExecution = "tool_execution"
	StepTypeSynthesis     = "synthesis"
	StepTypeResponding    = "responding"
)

// ExecutionStepRecord is a row in agent_execution_steps, one per phase
// transition of a task's execution.
type ExecutionStepRecord struct {
	ID           ids.StepID
	TaskID       ids.TaskID
	StepType     string
	Title        string
	Status       StepStatus
	DurationMs   *int64
	ErrorMessage string
	CreatedAt    time.Time
}

// CreateExecutionStep records a step entering the running state.
func (s *Store) CreateExecutionStep(ctx context.Context, rec ExecutionStepRecord) error {
	if rec.ID == "" {
		return &InvalidDataError{Field: "step_id", Reason: "empty"}
	}
	if rec.TaskID == "" {
		return &InvalidDataError{Field: "task_id", Reason: "empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_execution_steps (id, task_id, step_type, title, status)
		VALUES (?, ?, ?, ?, ?);
	`, rec.ID, rec.TaskID, rec.StepType, rec.Title, StepRunning)
	if err != nil {
		return fmt.Errorf("create execution step: %w", err)
	}
	return nil
}

// CompleteExecutionStep marks a running step completed with its duration.
func (s *Store) CompleteExecutionStep(ctx context.Context, id ids.StepID, durationMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_execution_steps SET status = ?, duration_ms = ?
		WHERE id = ? AND status = ?;
	`, StepCompleted, durationMs, id, StepRunning)
	if err != nil {
		return fmt.Errorf("complete execution step: %w", err)
	}
	return requireRow(res, "execution step "+id.String())
}

// FailExecutionStep marks a running step failed with the error string.
func (s *Store) FailExecutionStep(ctx context.Context, id ids.StepID, durationMs int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_execution_steps SET status = ?, duration_ms = ?, error_message = ?
		WHERE id = ? AND status = ?;
	`, StepFailed, durationMs, errMsg, id, StepRunning)
	if err != nil {
		return fmt.Errorf("fail execution step: %w", err)
	}
	return requireRow(res, "execution step "+id.String())
}

// ListStepsByTask returns a task's execution steps in creation order.
func (s *Store) ListStepsByTask(ctx context.Context, taskID ids.TaskID) ([]ExecutionStepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, step_type, title, status, duration_ms, COALESCE(error_message, ''), created_at
		FROM agent_execution_steps WHERE task_id = ? ORDER BY created_at ASC, id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list execution steps: %w", err)
	}
	defer rows.Close()

	var out []ExecutionStepRecord
	for rows.Next() {
		var (
			rec        ExecutionStepRecord
			durationMs sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.StepType, &rec.Title, &rec.Status,
			&durationMs, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution step: %w", err)
		}
		if durationMs.Valid {
			v := durationMs.Int64
			rec.DurationMs = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execution step rows: %w", err)
	}
	return out, nil
}
