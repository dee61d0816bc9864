package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ScheduledJobRecord is a row in scheduled_jobs, keyed by job name.
type ScheduledJobRecord struct {
	JobName    string
	Schedule   string
	Enabled    bool
	LastRun    *time.Time
	NextRun    *time.Time
	LastStatus string
	LastError  string
	RunCount   int64
}

// UpsertScheduledJob registers a job, updating the schedule and
// enabled flag if the job already exists. Run history is preserved.
func (s *Store) UpsertScheduledJob(ctx context.Context, name, schedule string, enabled bool) error {
	if name == "" {
		return &InvalidDataError{Field: "job_name", Reason: "empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (job_name, schedule, enabled)
		VALUES (?, ?, ?)
		ON CONFLICT (job_name) DO UPDATE SET schedule = excluded.schedule, enabled = excluded.enabled;
	`, name, schedule, enabled)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}
	return nil
}

// RecordJobRun writes the outcome of one job run atomically: status,
// error, run timestamps and the incremented run counter move together.
func (s *Store) RecordJobRun(ctx context.Context, name, status, lastError string, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			last_run = CURRENT_TIMESTAMP, next_run = ?,
			last_status = ?, last_error = ?, run_count = run_count + 1
		WHERE job_name = ?;
	`, nextRun.UTC(), status, nullable(lastError), name)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return requireRow(res, "scheduled job "+name)
}

// GetScheduledJob loads one job row by name.
func (s *Store) GetScheduledJob(ctx context.Context, name string) (ScheduledJobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_name, schedule, enabled, last_run, next_run,
			COALESCE(last_status, ''), COALESCE(last_error, ''), run_count
		FROM scheduled_jobs WHERE job_name = ?;
	`, name)
	rec, err := scanScheduledJob(row)
	if err == sql.ErrNoRows {
		return ScheduledJobRecord{}, fmt.Errorf("scheduled job %s: %w", name, ErrNotFound)
	}
	return rec, err
}

// ListScheduledJobs returns all registered jobs ordered by name.
func (s *Store) ListScheduledJobs(ctx context.Context) ([]ScheduledJobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_name, schedule, enabled, last_run, next_run,
			COALESCE(last_status, ''), COALESCE(last_error, ''), run_count
		FROM scheduled_jobs ORDER BY job_name ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledJobRecord
	for rows.Next() {
		rec, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduled job rows: %w", err)
	}
	return out, nil
}

func scanScheduledJob(row rowScanner) (ScheduledJobRecord, error) {
	var (
		rec              ScheduledJobRecord
		lastRun, nextRun sql.NullTime
	)
	err := row.Scan(&rec.JobName, &rec.Schedule, &rec.Enabled, &lastRun, &nextRun,
		&rec.LastStatus, &rec.LastError, &rec.RunCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return ScheduledJobRecord{}, err
		}
		return ScheduledJobRecord{}, fmt.Errorf("scan scheduled job: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		rec.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		rec.NextRun = &t
	}
	return rec, nil
}
