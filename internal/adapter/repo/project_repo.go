package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/sqlinline"
)

// ProjectRepositoryPG implements domain.ProjectRepository.
type ProjectRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProjectRepository creates a project repository backed by PostgreSQL.
func NewProjectRepository(sql infra.SQLExecutor) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{sql: sql}
}

// Create inserts a project, assigning an id when none is set.
func (r *ProjectRepositoryPG) Create(ctx context.Context, project *domain.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	brief, err := marshalJSON(project.Brief)
	if err != nil {
		return err
	}
	if err := r.sql.QueryRow(ctx, sqlinline.QInsertProject, project.ID, project.Title, brief).Scan(&project.CreatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrDuplicateOperation
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetByID fetches a project by its identifier.
func (r *ProjectRepositoryPG) GetByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if !validID(projectID) {
		return nil, domain.ErrNotFound
	}
	var (
		p     domain.Project
		brief []byte
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectProjectByID, projectID).Scan(&p.ID, &p.Title, &brief, &p.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(brief) > 0 {
		if err := json.Unmarshal(brief, &p.Brief); err != nil {
			return nil, fmt.Errorf("decode brief: %w", err)
		}
	}
	return &p, nil
}
