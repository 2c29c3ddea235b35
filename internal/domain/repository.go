package domain

import (
	"context"
	"time"
)

// ProjectRepository persists content requests.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	GetByID(ctx context.Context, projectID string) (*Project, error)
}

// JobRepository persists the single source of truth for pipeline progress.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	LatestForProject(ctx context.Context, projectID string) (*Job, error)
	// MarkRunning sets status=running at the given stage, keeping started_at
	// if it is already set, and bumps resume_count when resumed is true.
	MarkRunning(ctx context.Context, jobID string, stage Stage, progress int, resumed bool) error
	UpdateProgress(ctx context.Context, jobID string, stage Stage, progress int) error
	MarkFailed(ctx context.Context, jobID string, stage Stage, message string) error
	MarkCompleted(ctx context.Context, jobID string) error
	// ListStalled returns running jobs at stage not updated since before.
	ListStalled(ctx context.Context, stage Stage, before time.Time) ([]Job, error)
}

// ArtifactRepository is the keyed artifact store. Writes are idempotent per
// key and deletes of missing artifacts are no-ops.
type ArtifactRepository interface {
	Get(ctx context.Context, key ArtifactKey) (*Artifact, error)
	// Upsert stores the artifact in its key slot, replacing any previous
	// content, and reports whether the slot was newly created.
	Upsert(ctx context.Context, artifact *Artifact) (bool, error)
	// Delete removes the artifact in the key slot and reports whether one existed.
	Delete(ctx context.Context, key ArtifactKey) (bool, error)
	// ResolvePending atomically removes the pending slot and upserts
	// completed, reporting whether the pending artifact existed.
	ResolvePending(ctx context.Context, pending ArtifactKey, completed *Artifact) (bool, error)
	ListByJob(ctx context.Context, jobID string) ([]Artifact, error)
	CountByType(ctx context.Context, jobID string, t ArtifactType) (int, error)
	// ListByType returns artifacts of type t across all jobs, oldest first.
	ListByType(ctx context.Context, t ArtifactType) ([]Artifact, error)
}

// EventRepository is the append-only event log.
type EventRepository interface {
	Append(ctx context.Context, event *JobEvent) error
	ListByJob(ctx context.Context, jobID string) ([]JobEvent, error)
}

// Store bundles the repositories the pipeline needs.
type Store struct {
	Projects  ProjectRepository
	Jobs      JobRepository
	Artifacts ArtifactRepository
	Events    EventRepository
}
