package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
)

// TaskRecord is a row in tasks.
type TaskRecord struct {
	ID           ids.TaskID
	ContextID    ids.ContextID
	State        a2a.TaskState
	StatusText   string
	ErrorMessage string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateTask inserts a task in the submitted state.
func (s *Store) CreateTask(ctx context.Context, id ids.TaskID, contextID ids.ContextID) error {
	if id == "" {
		return &InvalidDataError{Field: "task_id", Reason: "empty"}
	}
	if contextID == "" {
		return &InvalidDataError{Field: "context_id", Reason: "empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, context_id, state) VALUES (?, ?, ?);
	`, id, contextID, a2a.TaskStateSubmitted)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTaskStatus advances a task's state. Terminal states are
// immutable: a write against a terminal task returns ErrTerminalState and
// changes nothing.
func (s *Store) UpdateTaskStatus(ctx context.Context, id ids.TaskID, state a2a.TaskState, statusText, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, status_text = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state NOT IN ('completed', 'canceled', 'failed', 'rejected');
	`, state, statusText, nullable(errorMessage), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	// Distinguish a missing task from a terminal one.
	var state0 string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?;`, id).Scan(&state0)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check task state: %w", err)
	}
	return fmt.Errorf("task %s in state %s: %w", id, state0, ErrTerminalState)
}

// SetTaskMetadata replaces the task's metadata JSON.
func (s *Store) SetTaskMetadata(ctx context.Context, id ids.TaskID, md map[string]any) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET metadata_json = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, string(raw), id)
	if err != nil {
		return fmt.Errorf("set task metadata: %w", err)
	}
	return requireRow(res, "task "+id.String())
}

// GetTaskByID loads one task.
func (s *Store) GetTaskByID(ctx context.Context, id ids.TaskID) (TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_id, state, status_text, COALESCE(error_message, ''), COALESCE(metadata_json, ''), created_at, updated_at
		FROM tasks WHERE id = ?;
	`, id)
	rec, err := scanTask(row)
	if err == sql.ErrNoRows {
		return TaskRecord{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListTasksByContext returns a context's tasks in creation order.
func (s *Store) ListTasksByContext(ctx context.Context, contextID ids.ContextID) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, state, status_text, COALESCE(error_message, ''), COALESCE(metadata_json, ''), created_at, updated_at
		FROM tasks WHERE context_id = ? ORDER BY created_at ASC, id ASC;
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// FindTaskByPrefix resolves a possibly shortened task id to the unique
// full id. Zero matches is ErrNotFound; more than one is an
// InvalidDataError naming the ambiguity.
func (s *Store) FindTaskByPrefix(ctx context.Context, prefix string) (TaskRecord, error) {
	if prefix == "" {
		return TaskRecord{}, &InvalidDataError{Field: "task_id", Reason: "empty prefix"}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, state, status_text, COALESCE(error_message, ''), COALESCE(metadata_json, ''), created_at, updated_at
		FROM tasks WHERE id LIKE ? || '%' LIMIT 2;
	`, prefix)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("find task by prefix: %w", err)
	}
	defer rows.Close()

	var matches []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return TaskRecord{}, err
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return TaskRecord{}, fmt.Errorf("task rows: %w", err)
	}
	switch len(matches) {
	case 0:
		return TaskRecord{}, fmt.Errorf("task %s: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return TaskRecord{}, &InvalidDataError{Field: "task_id", Reason: fmt.Sprintf("prefix %q is ambiguous", prefix)}
	}
}

func scanTask(row rowScanner) (TaskRecord, error) {
	var (
		rec      TaskRecord
		metaJSON string
	)
	err := row.Scan(&rec.ID, &rec.ContextID, &rec.State, &rec.StatusText, &rec.ErrorMessage, &metaJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return TaskRecord{}, err
		}
		return TaskRecord{}, fmt.Errorf("scan task: %w", err)
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return TaskRecord{}, fmt.Errorf("decode task metadata: %w", err)
		}
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
