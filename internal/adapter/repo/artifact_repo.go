package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/sqlinline"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository.
type ArtifactRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewArtifactRepository constructs a new artifact repository instance.
func NewArtifactRepository(sql infra.SQLExecutor) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{sql: sql}
}

func (r *ArtifactRepositoryPG) Get(ctx context.Context, key domain.ArtifactKey) (*domain.Artifact, error) {
	if !validID(key.JobID) {
		return nil, domain.ErrNotFound
	}
	return scanArtifact(r.sql.QueryRow(ctx, sqlinline.QSelectArtifact, key.JobID, string(key.Type), key.SceneIndex))
}

// Upsert writes the artifact into its slot. The id and timestamps of the
// stored row are copied back onto artifact.
func (r *ArtifactRepositoryPG) Upsert(ctx context.Context, artifact *domain.Artifact) (bool, error) {
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	meta, err := marshalJSON(artifact.Metadata)
	if err != nil {
		return false, err
	}
	var inserted bool
	row := r.sql.QueryRow(ctx, sqlinline.QUpsertArtifact,
		artifact.ID,
		artifact.JobID,
		artifact.ProjectID,
		string(artifact.Type),
		artifact.SceneIndex,
		artifact.FileURL,
		meta,
	)
	if err := row.Scan(&artifact.ID, &artifact.CreatedAt, &artifact.UpdatedAt, &inserted); err != nil {
		return false, fmt.Errorf("upsert artifact %s: %w", artifact.Key(), err)
	}
	return inserted, nil
}

func (r *ArtifactRepositoryPG) Delete(ctx context.Context, key domain.ArtifactKey) (bool, error) {
	if !validID(key.JobID) {
		return false, nil
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteArtifact, key.JobID, string(key.Type), key.SceneIndex)
	if err != nil {
		return false, fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResolvePending swaps the pending slot for the completed artifact in a
// single statement so both never coexist. The completed artifact is only
// written when the pending one still existed.
func (r *ArtifactRepositoryPG) ResolvePending(ctx context.Context, pending domain.ArtifactKey, completed *domain.Artifact) (bool, error) {
	if completed.ID == "" {
		completed.ID = uuid.NewString()
	}
	meta, err := marshalJSON(completed.Metadata)
	if err != nil {
		return false, err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QResolvePendingArtifact,
		completed.ID,
		pending.JobID,
		completed.ProjectID,
		string(completed.Type),
		pending.SceneIndex,
		completed.FileURL,
		meta,
		string(pending.Type),
	)
	if err := row.Scan(&completed.ID, &completed.CreatedAt, &completed.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("resolve pending %s: %w", pending, err)
	}
	return true, nil
}

// ListByJob returns all artifacts belonging to the job.
func (r *ArtifactRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if !validID(jobID) {
		return nil, nil
	}
	return r.list(ctx, sqlinline.QSelectArtifactsByJob, jobID)
}

func (r *ArtifactRepositoryPG) CountByType(ctx context.Context, jobID string, t domain.ArtifactType) (int, error) {
	if !validID(jobID) {
		return 0, nil
	}
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountArtifactsByType, jobID, string(t)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ArtifactRepositoryPG) ListByType(ctx context.Context, t domain.ArtifactType) ([]domain.Artifact, error) {
	return r.list(ctx, sqlinline.QSelectArtifactsByType, string(t))
}

func (r *ArtifactRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Artifact, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func scanArtifact(row pgx.Row) (*domain.Artifact, error) {
	var (
		a    domain.Artifact
		typ  string
		meta []byte
	)
	if err := row.Scan(&a.ID, &a.JobID, &a.ProjectID, &typ, &a.SceneIndex, &a.FileURL, &meta, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a.Type = domain.ArtifactType(typ)
	m, err := unmarshalObject(meta)
	if err != nil {
		return nil, err
	}
	a.Metadata = m
	return &a, nil
}
