package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, organization_id, export_type, work_record_id, filters,
	state, progress, failure_count, error_code, error_id, error_message,
	failure_reason, storage_path, manifest_path, manifest_hash, manifest,
	created_by, request_id, created_at, updated_at, started_at, completed_at`

// PostgresJobStore implements JobStore and AtomicClaimStore using PostgreSQL.
// The atomic claim relies on FOR UPDATE SKIP LOCKED so concurrent claimers
// skip rows already locked by another process.
type PostgresJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{db: db, logger: logger}
}

// Insert stores a new job.
func (s *PostgresJobStore) Insert(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = StateQueued
	}

	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}

	query := `
		INSERT INTO export_jobs
			(id, organization_id, export_type, work_record_id, filters, state,
			 progress, failure_count, created_by, request_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.OrganizationID, string(job.ExportType), job.WorkRecordID,
		filters, string(job.State), job.Progress, job.FailureCount,
		job.CreatedBy, job.RequestID, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert export job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return job, nil
}

// OldestQueued returns the oldest queued job, or nil when none exists.
func (s *PostgresJobStore) OldestQueued(ctx context.Context) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs
		WHERE state = 'queued' ORDER BY created_at ASC, id ASC LIMIT 1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query oldest queued job: %w", err)
	}
	return job, nil
}

// CountActive returns how many jobs occupy worker slots.
func (s *PostgresJobStore) CountActive(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM export_jobs
		WHERE state IN ('preparing', 'generating', 'uploading')`
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// TryClaim conditionally transitions a job from queued to preparing. Zero
// rows affected means another process won the race.
func (s *PostgresJobStore) TryClaim(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE export_jobs
		SET state = 'preparing', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'queued'
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim export job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// ClaimOldestQueued atomically claims the oldest queued job under the cap in
// a single server-side statement.
func (s *PostgresJobStore) ClaimOldestQueued(ctx context.Context, maxActive int) (*Job, error) {
	query := `
		WITH active AS (
			SELECT COUNT(*) AS n FROM export_jobs
			WHERE state IN ('preparing', 'generating', 'uploading')
		),
		next_job AS (
			SELECT j.id FROM export_jobs j, active
			WHERE j.state = 'queued' AND ($1 <= 0 OR active.n < $1)
			ORDER BY j.created_at ASC, j.id ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		)
		UPDATE export_jobs e
		SET state = 'preparing', started_at = NOW(), updated_at = NOW()
		FROM next_job
		WHERE e.id = next_job.id
		RETURNING ` + qualifyColumns("e") + `
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, maxActive))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to atomically claim export job: %w", err)
	}
	return job, nil
}

// SetState updates the job's state and progress.
func (s *PostgresJobStore) SetState(ctx context.Context, id string, state State, progress int) error {
	query := `UPDATE export_jobs SET state = $2, progress = $3, updated_at = NOW() WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, string(state), progress)
	if err != nil {
		return fmt.Errorf("failed to set job state: %w", err)
	}
	return requireRow(result)
}

// MarkReady records the terminal success state with its artifact fields.
func (s *PostgresJobStore) MarkReady(ctx context.Context, id string, artifact ReadyArtifact) error {
	manifest, err := json.Marshal(artifact.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	query := `
		UPDATE export_jobs
		SET state = 'ready', progress = 100,
		    storage_path = $2, manifest_path = $3, manifest_hash = $4, manifest = $5,
		    error_code = '', error_id = '', error_message = '', failure_reason = '',
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id,
		artifact.StoragePath, artifact.ManifestPath, artifact.ManifestHash, manifest)
	if err != nil {
		return fmt.Errorf("failed to mark job ready: %w", err)
	}
	return requireRow(result)
}

// RecordFailure increments the failure count and requeues or fails the job
// in one conditional statement so the poison-pill decision is atomic with
// the row update.
func (s *PostgresJobStore) RecordFailure(ctx context.Context, id string, failure Failure) (State, error) {
	query := `
		UPDATE export_jobs
		SET failure_count = failure_count + 1,
		    error_code = $2, error_id = $3, error_message = $4, failure_reason = $5,
		    state = CASE WHEN failure_count + 1 >= $6 THEN 'failed' ELSE 'queued' END,
		    progress = CASE WHEN failure_count + 1 >= $6 THEN progress ELSE 0 END,
		    completed_at = CASE WHEN failure_count + 1 >= $6 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING state
	`
	var state string
	err := s.db.QueryRowContext(ctx, query, id,
		failure.Code, failure.ErrorID, failure.Message, failure.Reason,
		MaxFailureCount).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("failed to record job failure: %w", err)
	}
	return State(state), nil
}

// Cancel marks a job canceled. Allowed only from queued or preparing.
func (s *PostgresJobStore) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE export_jobs
		SET state = 'canceled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('queued', 'preparing')
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel export job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotCancelable
	}
	return nil
}

// ReadyCompletedBefore returns ready jobs completed at or before cutoff.
func (s *PostgresJobStore) ReadyCompletedBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs
		WHERE organization_id = $1 AND state = 'ready' AND completed_at <= $2
		ORDER BY completed_at ASC`
	return s.queryJobs(ctx, query, orgID, cutoff)
}

// TerminalBefore returns failed and canceled jobs created at or before cutoff.
func (s *PostgresJobStore) TerminalBefore(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs
		WHERE state IN ('failed', 'canceled') AND created_at <= $1
		ORDER BY created_at ASC`
	return s.queryJobs(ctx, query, cutoff)
}

// MarkExpired marks a ready job expired; the row is retained.
func (s *PostgresJobStore) MarkExpired(ctx context.Context, id string) error {
	query := `UPDATE export_jobs SET state = 'expired', updated_at = NOW()
		WHERE id = $1 AND state = 'ready'`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark job expired: %w", err)
	}
	return requireRow(result)
}

// Delete hard-deletes a job row.
func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete export job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	job := &Job{}
	var (
		exportType   string
		state        string
		workRecordID sql.NullString
		filters      []byte
		manifest     []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&job.ID, &job.OrganizationID, &exportType, &workRecordID,
		&filters, &state, &job.Progress, &job.FailureCount, &job.ErrorCode,
		&job.ErrorID, &job.ErrorMessage, &job.FailureReason, &job.StoragePath,
		&job.ManifestPath, &job.ManifestHash, &manifest, &job.CreatedBy,
		&job.RequestID, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.ExportType = Type(exportType)
	job.State = State(state)
	if workRecordID.Valid {
		job.WorkRecordID = &workRecordID.String
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}
	if len(manifest) > 0 && string(manifest) != "null" {
		job.Manifest = &Manifest{}
		if err := json.Unmarshal(manifest, job.Manifest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// qualifyColumns prefixes each job column with a table alias for RETURNING
// clauses that join other relations.
func qualifyColumns(alias string) string {
	return alias + `.id, ` + alias + `.organization_id, ` + alias + `.export_type, ` +
		alias + `.work_record_id, ` + alias + `.filters, ` + alias + `.state, ` +
		alias + `.progress, ` + alias + `.failure_count, ` + alias + `.error_code, ` +
		alias + `.error_id, ` + alias + `.error_message, ` + alias + `.failure_reason, ` +
		alias + `.storage_path, ` + alias + `.manifest_path, ` + alias + `.manifest_hash, ` +
		alias + `.manifest, ` + alias + `.created_by, ` + alias + `.request_id, ` +
		alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.started_at, ` +
		alias + `.completed_at`
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}
