package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new pending job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.CurrentStep == "" {
		job.CurrentStep = domain.StageInitialization
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob, job.ID, job.ProjectID, string(job.Status), string(job.CurrentStep))
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrDuplicateOperation
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if !validID(jobID) {
		return nil, domain.ErrNotFound
	}
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
}

// LatestForProject returns the most recently created job of a project.
func (r *JobRepositoryPG) LatestForProject(ctx context.Context, projectID string) (*domain.Job, error) {
	if !validID(projectID) {
		return nil, domain.ErrNotFound
	}
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectLatestJobForProject, projectID))
}

func (r *JobRepositoryPG) MarkRunning(ctx context.Context, jobID string, stage domain.Stage, progress int, resumed bool) error {
	return r.exec(ctx, sqlinline.QMarkJobRunning, jobID, string(stage), progress, resumed)
}

func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, stage domain.Stage, progress int) error {
	return r.exec(ctx, sqlinline.QUpdateJobProgress, jobID, string(stage), progress)
}

func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, stage domain.Stage, message string) error {
	return r.exec(ctx, sqlinline.QMarkJobFailed, jobID, string(stage), message)
}

func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string) error {
	return r.exec(ctx, sqlinline.QMarkJobCompleted, jobID)
}

// ListStalled returns running jobs parked at stage since before.
func (r *JobRepositoryPG) ListStalled(ctx context.Context, stage domain.Stage, before time.Time) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectStalledJobs, string(stage), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) exec(ctx context.Context, query string, jobID string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, append([]any{jobID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		status, stp string
	)
	if err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&status,
		&stp,
		&job.Progress,
		&job.ResumeCount,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CurrentStep = domain.Stage(stp)
	return &job, nil
}
