package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

const jobColumns = `id, name, description, icon, job_key, principal, state, alert, error_code, created_at, started_at, finished_at`

// PutJob creates or updates a job ledger entry. Messages are ignored; use
// AppendJobMessage.
func (s *Store) PutJob(ctx context.Context, record storage.JobRecord) error {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if record.State == "" {
		return fmt.Errorf("job state is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	alert = excluded.alert,
	error_code = excluded.error_code,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at
`,
		record.ID, record.Name, record.Description, record.Icon, record.Key, record.Principal,
		record.State, record.Alert, record.ErrorCode, toMillis(record.CreatedAt),
		nullMillis(record.StartedAt), nullMillis(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// AppendJobMessage records one progress line.
func (s *Store) AppendJobMessage(ctx context.Context, jobID string, message storage.JobMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.clock()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO job_messages (job_id, seq, text, created_at) VALUES (?, ?, ?, ?)`,
		jobID, message.Seq, message.Text, toMillis(message.CreatedAt),
	)
	if isConstraintError(err) {
		return fmt.Errorf("job %s message %d: duplicate or unknown job", jobID, message.Seq)
	}
	if err != nil {
		return fmt.Errorf("append job message: %w", err)
	}
	return nil
}

// GetJob loads a job and its messages in order.
func (s *Store) GetJob(ctx context.Context, id string) (storage.JobRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, strings.TrimSpace(id))
	record, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.JobRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.JobRecord{}, fmt.Errorf("get job: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, text, created_at FROM job_messages WHERE job_id = ? ORDER BY seq`, record.ID)
	if err != nil {
		return storage.JobRecord{}, fmt.Errorf("get job messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var message storage.JobMessage
		var createdAt int64
		if err := rows.Scan(&message.Seq, &message.Text, &createdAt); err != nil {
			return storage.JobRecord{}, fmt.Errorf("scan job message: %w", err)
		}
		message.CreatedAt = fromMillis(createdAt)
		record.Messages = append(record.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return storage.JobRecord{}, fmt.Errorf("iterate job messages: %w", err)
	}
	return record, nil
}

// ListJobs returns the most recent jobs without their messages.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]storage.JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var records []storage.JobRecord
	for rows.Next() {
		record, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

// FailInterruptedJobs marks jobs left pending or running by a previous
// process as failed and returns how many were updated.
func (s *Store) FailInterruptedJobs(ctx context.Context, alert string, now time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET state = 'failed', alert = ?, error_code = 'UNKNOWN', finished_at = ?
WHERE state IN ('pending', 'running')
`, alert, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJob(scan func(dest ...any) error) (storage.JobRecord, error) {
	var record storage.JobRecord
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64
	if err := scan(
		&record.ID, &record.Name, &record.Description, &record.Icon, &record.Key, &record.Principal,
		&record.State, &record.Alert, &record.ErrorCode, &createdAt, &startedAt, &finishedAt,
	); err != nil {
		return storage.JobRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.StartedAt = fromNullMillis(startedAt)
	record.FinishedAt = fromNullMillis(finishedAt)
	return record, nil
}
