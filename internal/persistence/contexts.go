package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// ContextRecord is a row in user_contexts.
type ContextRecord struct {
	ID          ids.ContextID
	UserID      ids.UserID
	SessionID   ids.SessionID
	Name        string
	EvaluatedAt *time.Time
	EvalScore   *float64
	EvalSummary string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateContext inserts a context owned by user.
func (s *Store) CreateContext(ctx context.Context, id ids.ContextID, user ids.UserID, session ids.SessionID, name string) error {
	if id == "" {
		return &InvalidDataError{Field: "context_id", Reason: "empty"}
	}
	if user == "" {
		return &InvalidDataError{Field: "user_id", Reason: "empty"}
	}
	var sess any
	if session != "" {
		sess = string(session)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_contexts (id, user_id, session_id, name)
		VALUES (?, ?, ?, ?);
	`, id, user, sess, name)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	return nil
}

// ValidateContextOwnership fails with ErrNotFound when the context does
// not exist or belongs to someone else.
func (s *Store) ValidateContextOwnership(ctx context.Context, id ids.ContextID, user ids.UserID) error {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM user_contexts WHERE id = ? AND user_id = ?;
	`, id, user).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("validate context ownership: %w", err)
	}
	return nil
}

// UpdateContextName renames a context. Callers must have validated
// ownership; the user id is still part of the predicate so a stale caller
// cannot rename a foreign context.
func (s *Store) UpdateContextName(ctx context.Context, id ids.ContextID, user ids.UserID, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_contexts SET name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?;
	`, name, id, user)
	if err != nil {
		return fmt.Errorf("update context name: %w", err)
	}
	return requireRow(res, "context "+id.String())
}

// DeleteContext removes a context and everything under it.
func (s *Store) DeleteContext(ctx context.Context, id ids.ContextID, user ids.UserID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM user_contexts WHERE id = ? AND user_id = ?;
		`, id, user)
		if err != nil {
			return fmt.Errorf("delete context: %w", err)
		}
		if err := requireRow(res, "context "+id.String()); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM artifact_parts WHERE context_id = ?;`,
			`DELETE FROM task_artifacts WHERE context_id = ?;`,
			`DELETE FROM agent_execution_steps WHERE task_id IN (SELECT id FROM tasks WHERE context_id = ?);`,
			`DELETE FROM tasks WHERE context_id = ?;`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete context children: %w", err)
			}
		}
		return nil
	})
}

// GetContext loads one context row regardless of owner. Ownership checks
// are the caller's job via ValidateContextOwnership.
func (s *Store) GetContext(ctx context.Context, id ids.ContextID) (ContextRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(session_id, ''), name, evaluated_at, eval_score, COALESCE(eval_summary, ''), created_at, updated_at
		FROM user_contexts WHERE id = ?;
	`, id)
	return scanContext(row)
}

// ListContextsByUser returns the user's contexts, newest first.
func (s *Store) ListContextsByUser(ctx context.Context, user ids.UserID) ([]ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(session_id, ''), name, evaluated_at, eval_score, COALESCE(eval_summary, ''), created_at, updated_at
		FROM user_contexts WHERE user_id = ? ORDER BY created_at DESC;
	`, user)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextRecord
	for rows.Next() {
		rec, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context rows: %w", err)
	}
	return out, nil
}

// ListUnevaluatedCompletedContexts returns contexts that have at least one
// completed task and no evaluation yet, oldest first, capped at limit.
// Used by the conversation evaluator job.
func (s *Store) ListUnevaluatedCompletedContexts(ctx context.Context, limit int) ([]ContextRecord, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, COALESCE(c.session_id, ''), c.name, c.evaluated_at, c.eval_score, COALESCE(c.eval_summary, ''), c.created_at, c.updated_at
		FROM user_contexts c
		WHERE c.evaluated_at IS NULL
		  AND EXISTS (SELECT 1 FROM tasks t WHERE t.context_id = c.id AND t.state = 'completed')
		ORDER BY c.created_at ASC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unevaluated contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextRecord
	for rows.Next() {
		rec, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context rows: %w", err)
	}
	return out, nil
}

// SaveContextEvaluation records the evaluator's verdict for a context.
func (s *Store) SaveContextEvaluation(ctx context.Context, id ids.ContextID, score float64, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_contexts
		SET evaluated_at = CURRENT_TIMESTAMP, eval_score = ?, eval_summary = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, score, summary, id)
	if err != nil {
		return fmt.Errorf("save context evaluation: %w", err)
	}
	return requireRow(res, "context "+id.String())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (ContextRecord, error) {
	var (
		rec     ContextRecord
		session string
		evalAt  sql.NullTime
		score   sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &session, &rec.Name, &evalAt, &score, &rec.EvalSummary, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return ContextRecord{}, fmt.Errorf("context: %w", ErrNotFound)
	}
	if err != nil {
		return ContextRecord{}, fmt.Errorf("scan context: %w", err)
	}
	rec.SessionID = ids.SessionID(session)
	if evalAt.Valid {
		t := evalAt.Time
		rec.EvaluatedAt = &t
	}
	if score.Valid {
		v := score.Float64
		rec.EvalScore = &v
	}
	return rec, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
