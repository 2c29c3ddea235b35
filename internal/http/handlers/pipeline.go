package handlers

import (
	"net/http"

	"shortgen/internal/domain"
	"shortgen/internal/pipeline"
)

type runPipelineRequest struct {
	ProjectID  string `json:"project_id" validate:"required,max=64"`
	JobID      string `json:"job_id" validate:"required,max=64"`
	ResumeStep string `json:"resume_step" validate:"omitempty,max=64"`
}

// PipelineRun acknowledges a run request. The run itself happens in the
// background; its outcome is visible on the job and its event log.
func (a *App) PipelineRun(w http.ResponseWriter, r *http.Request) {
	var req runPipelineRequest
	if !a.decode(w, r, &req) {
		return
	}
	var resume domain.Stage
	if req.ResumeStep != "" {
		st, err := domain.ParseStage(req.ResumeStep)
		if err != nil || !st.Runnable() {
			a.error(w, http.StatusBadRequest, "bad_request", "resume_step must be a runnable stage")
			return
		}
		resume = st
	}

	// Reject unknown jobs synchronously; the run repeats these checks.
	job, err := a.Store.Jobs.GetByID(r.Context(), req.JobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.ProjectID != req.ProjectID {
		a.error(w, http.StatusBadRequest, "bad_request", "job does not belong to project")
		return
	}

	run := pipeline.RunRequest{ProjectID: req.ProjectID, JobID: req.JobID, ResumeStep: resume}
	if err := a.Runner.Run(r.Context(), run); err != nil {
		a.Logger.Error().Err(err).Str("job_id", req.JobID).Msg("schedule pipeline run")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "pipeline is not accepting work")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"project_id":  req.ProjectID,
		"job_id":      req.JobID,
		"resume_step": string(resume),
	})
}
