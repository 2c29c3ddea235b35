package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/pipeline"
)

type createProjectRequest struct {
	Title          string  `json:"title" validate:"max=200"`
	Topic          string  `json:"topic" validate:"required,max=500"`
	TargetDuration float64 `json:"target_duration_seconds" validate:"omitempty,gte=4,lte=180"`
	Language       string  `json:"language" validate:"omitempty,bcp47_language_tag"`
	Voice          string  `json:"voice" validate:"max=100"`
	Style          string  `json:"style" validate:"max=200"`
	AspectRatio    string  `json:"aspect_ratio" validate:"omitempty,oneof=9:16 1:1 4:5 16:9"`
}

// ProjectsCreate stores the brief, creates the first job and starts it.
func (a *App) ProjectsCreate(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !a.decode(w, r, &req) {
		return
	}
	brief := domain.Brief{
		Topic:          req.Topic,
		TargetDuration: req.TargetDuration,
		Language:       req.Language,
		Voice:          strings.TrimSpace(req.Voice),
		Style:          strings.TrimSpace(req.Style),
		AspectRatio:    req.AspectRatio,
	}
	jsoncfg.NormalizeBrief(&brief)
	if err := jsoncfg.ValidateBrief(brief); err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = brief.Topic
	}

	ctx := r.Context()
	project := &domain.Project{Title: title, Brief: brief}
	if err := a.Store.Projects.Create(ctx, project); err != nil {
		a.fail(w, r, err)
		return
	}
	job := &domain.Job{ProjectID: project.ID}
	if err := a.Store.Jobs.Create(ctx, job); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Runner.Run(ctx, pipeline.RunRequest{ProjectID: project.ID, JobID: job.ID}); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("schedule pipeline run")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "pipeline is not accepting work")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"project_id": project.ID,
		"job_id":     job.ID,
		"status":     string(job.Status),
	})
}

// ProjectsGet returns the project with lifecycle fields taken from its
// latest job.
func (a *App) ProjectsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := a.Store.Projects.GetByID(ctx, chi.URLParam(r, "project_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	latest, err := a.Store.Jobs.LatestForProject(ctx, project.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toProjectView(domain.ProjectProjection(*project, latest)))
}
