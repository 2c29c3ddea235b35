package handlers

import (
	"time"

	"shortgen/internal/domain"
)

type jobView struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Status       string     `json:"status"`
	CurrentStep  string     `json:"current_step"`
	Progress     int        `json:"progress"`
	ResumeCount  int        `json:"resume_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toJobView(j *domain.Job) jobView {
	return jobView{
		ID:           j.ID,
		ProjectID:    j.ProjectID,
		Status:       string(j.Status),
		CurrentStep:  string(j.CurrentStep),
		Progress:     j.Progress,
		ResumeCount:  j.ResumeCount,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

type artifactView struct {
	ID         string         `json:"id"`
	Type       string         `json:"artifact_type"`
	SceneIndex *int           `json:"scene_index"`
	FileURL    string         `json:"file_url,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func toArtifactViews(list []domain.Artifact) []artifactView {
	out := make([]artifactView, 0, len(list))
	for _, a := range list {
		meta := a.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		out = append(out, artifactView{
			ID:         a.ID,
			Type:       string(a.Type),
			SceneIndex: a.SceneIndex,
			FileURL:    a.FileURL,
			Metadata:   meta,
			CreatedAt:  a.CreatedAt,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return out
}

type projectView struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Brief        domain.Brief `json:"brief"`
	JobID        string       `json:"job_id,omitempty"`
	Status       string       `json:"status"`
	CurrentStep  string       `json:"current_step"`
	Progress     int          `json:"progress"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func toProjectView(v domain.ProjectView) projectView {
	return projectView{
		ID:           v.ID,
		Title:        v.Title,
		Brief:        v.Brief,
		JobID:        v.JobID,
		Status:       string(v.Status),
		CurrentStep:  string(v.CurrentStep),
		Progress:     v.Progress,
		ErrorMessage: v.ErrorMessage,
		CreatedAt:    v.CreatedAt,
	}
}
