// Package persistence is the relational store behind the execution core:
// contexts, tasks, artifacts, AI requests, MCP executions, execution
// steps, and scheduled jobs, on sqlite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for missing rows and for ownership failures.
// Ownership failures deliberately look identical to absent rows so a
// caller cannot enumerate foreign context ids.
var ErrNotFound = errors.New("not found")

// ErrTerminalState is returned when a write would change a task that has
// already reached a terminal state.
var ErrTerminalState = errors.New("task is in a terminal state")

// InvalidDataError reports a rejected input field.
type InvalidDataError struct {
	Field  string
	Reason string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store wraps the sqlite database. Transactions are scoped to individual
// methods; there are no cross-method transactions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS user_contexts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT,
	name         TEXT NOT NULL DEFAULT '',
	evaluated_at TIMESTAMP,
	eval_score   REAL,
	eval_summary TEXT,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_user_contexts_user ON user_contexts(user_id);

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	context_id    TEXT NOT NULL,
	state         TEXT NOT NULL,
	status_text   TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	metadata_json TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_context ON tasks(context_id);

CREATE TABLE IF NOT EXISTS task_artifacts (
	artifact_id   TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	context_id    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	metadata_json TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (task_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS artifact_parts (
	artifact_id TEXT NOT NULL,
	context_id  TEXT NOT NULL,
	position    INTEGER NOT NULL,
	part_json   TEXT NOT NULL,
	PRIMARY KEY (artifact_id, context_id, position)
);

CREATE TABLE IF NOT EXISTS ai_requests (
	id                    TEXT PRIMARY KEY,
	task_id               TEXT,
	context_id            TEXT,
	session_id            TEXT,
	user_id               TEXT,
	trace_id              TEXT,
	provider              TEXT NOT NULL,
	model                 TEXT NOT NULL,
	temperature           REAL,
	top_p                 REAL,
	max_tokens            INTEGER,
	system_prompt         TEXT NOT NULL DEFAULT '',
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cost_microdollars     INTEGER NOT NULL DEFAULT 0,
	latency_ms            INTEGER,
	cache_hit             INTEGER NOT NULL DEFAULT 0,
	is_streaming          INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL,
	response_content      TEXT NOT NULL DEFAULT '',
	error_message         TEXT,
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at          TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ai_requests_task ON ai_requests(task_id);

CREATE TABLE IF NOT EXISTS ai_request_messages (
	ai_request_id   TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	PRIMARY KEY (ai_request_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS ai_request_tool_calls (
	ai_request_id   TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL,
	arguments_json  TEXT NOT NULL,
	PRIMARY KEY (ai_request_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS mcp_tool_executions (
	id                TEXT PRIMARY KEY,
	task_id           TEXT,
	context_id        TEXT,
	server_name       TEXT NOT NULL,
	tool_name         TEXT NOT NULL,
	input_json        TEXT NOT NULL,
	output_json       TEXT,
	status            TEXT NOT NULL,
	execution_time_ms INTEGER,
	error_message     TEXT,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mcp_executions_task ON mcp_tool_executions(task_id);

CREATE TABLE IF NOT EXISTS agent_execution_steps (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	step_type     TEXT NOT NULL,
	title         TEXT NOT NULL,
	status        TEXT NOT NULL,
	duration_ms   INTEGER,
	error_message TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_execution_steps_task ON agent_execution_steps(task_id);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	job_name    TEXT PRIMARY KEY,
	schedule    TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_run    TIMESTAMP,
	next_run    TIMESTAMP,
	last_status TEXT,
	last_error  TEXT,
	run_count   INTEGER NOT NULL DEFAULT 0
);
`

func (s *Store) applySchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// retryOnBusy retries fn on transient sqlite lock errors with bounded
// jittered backoff.
func retryOnBusy(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "database table is locked") {
			return err
		}
		delay := time.Duration(10*(i+1))*time.Millisecond + time.Duration(rand.IntN(10))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// inTx runs fn inside a transaction with rollback on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
