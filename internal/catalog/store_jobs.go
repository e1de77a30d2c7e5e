package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, asset_id, stage, status, attempts, progress_percent,
    last_error, started_at, completed_at, created_at, updated_at`

// InsertJob persists a newly created processing job.
func (s *Store) InsertJob(ctx context.Context, job *ProcessingJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.AssetID,
		job.Stage,
		job.Status,
		job.Attempts,
		job.ProgressPercent,
		nullableString(job.LastError),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing processing job.
func (s *Store) UpdateJob(ctx context.Context, job *ProcessingJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE processing_jobs
         SET status = ?, attempts = ?, progress_percent = ?, last_error = ?,
             started_at = ?, completed_at = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		job.Attempts,
		job.ProgressPercent,
		nullableString(job.LastError),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// GetJob fetches the processing job for one (asset, stage) pair.
func (s *Store) GetJob(ctx context.Context, assetID string, stage Stage) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE asset_id = ? AND stage = ?`,
		assetID, stage,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s/%s: %w", assetID, stage, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobsForAsset returns every stage job for an asset in pipeline order.
func (s *Store) JobsForAsset(ctx context.Context, assetID string) ([]*ProcessingJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE asset_id = ?`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs for asset: %w", err)
	}
	defer rows.Close()

	byStage := make(map[Stage]*ProcessingJob)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		byStage[job.Stage] = job
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*ProcessingJob, 0, len(byStage))
	for _, stage := range PipelineStages {
		if job, ok := byStage[stage]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ResetStuckJobs returns in-progress jobs to pending. The daemon runs this at
// startup: the in-process queue does not survive restarts, so anything still
// marked in-progress was orphaned by the previous process.
func (s *Store) ResetStuckJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE processing_jobs
         SET status = ?, progress_percent = 0, last_error = 'reset after restart', updated_at = ?
         WHERE status = ?`,
		JobPending,
		formatTime(time.Now().UTC()),
		JobInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*ProcessingJob, error) {
	var (
		job          ProcessingJob
		stageStr     string
		statusStr    string
		lastError    sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&job.ID,
		&job.AssetID,
		&stageStr,
		&statusStr,
		&job.Attempts,
		&job.ProgressPercent,
		&lastError,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Stage = Stage(stageStr)
	job.Status = JobStatus(statusStr)
	job.LastError = lastError.String
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}
