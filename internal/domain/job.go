package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further stage will run without an explicit resume.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Stage enumerates pipeline stages in canonical order.
type Stage string

const (
	StageInitialization      Stage = "initialization"
	StageScriptGeneration    Stage = "script_generation"
	StageScenePlanning       Stage = "scene_planning"
	StageVoiceoverGeneration Stage = "voiceover_generation"
	StageVideoClipGeneration Stage = "video_clip_generation"
	StageVideoAssembly       Stage = "video_assembly"
	StageCompleted           Stage = "completed"
)

// ProgressRange is the closed progress interval owned by a stage.
type ProgressRange struct {
	Start int
	End   int
}

// Span interpolates a fraction of the stage into the job-wide progress scale.
func (r ProgressRange) Span(fraction float64) int {
	if fraction <= 0 {
		return r.Start
	}
	if fraction >= 1 {
		return r.End
	}
	return r.Start + int(float64(r.End-r.Start)*fraction)
}

var stageOrder = []Stage{
	StageInitialization,
	StageScriptGeneration,
	StageScenePlanning,
	StageVoiceoverGeneration,
	StageVideoClipGeneration,
	StageVideoAssembly,
	StageCompleted,
}

var stageProgress = map[Stage]ProgressRange{
	StageInitialization:      {Start: 0, End: 5},
	StageScriptGeneration:    {Start: 5, End: 20},
	StageScenePlanning:       {Start: 20, End: 30},
	StageVoiceoverGeneration: {Start: 30, End: 45},
	StageVideoClipGeneration: {Start: 45, End: 85},
	StageVideoAssembly:       {Start: 85, End: 100},
	StageCompleted:           {Start: 100, End: 100},
}

// Stages returns the canonical stage order, ending with StageCompleted.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of the stage in canonical order or -1 when unknown.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Runnable reports whether the stage has an executor (everything but completed).
func (s Stage) Runnable() bool {
	return s.Valid() && s != StageCompleted
}

// Before reports whether s precedes other in canonical order.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// Progress returns the stage's progress range.
func (s Stage) Progress() ProgressRange {
	return stageProgress[s]
}

// ParseStage validates a raw stage name.
func ParseStage(raw string) (Stage, error) {
	st := Stage(raw)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, raw)
	}
	return st, nil
}

// Job is one execution instance of the pipeline for a project.
type Job struct {
	ID           string
	ProjectID    string
	Status       JobStatus
	CurrentStep  Stage
	Progress     int
	ResumeCount  int
	ErrorMessage string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Brief is the content request a project is generated from.
type Brief struct {
	Topic          string  `json:"topic"`
	TargetDuration float64 `json:"target_duration_seconds"`
	Language       string  `json:"language"`
	Voice          string  `json:"voice,omitempty"`
	Style          string  `json:"style,omitempty"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
}

// Project is the owning content request of one or more jobs.
type Project struct {
	ID        string
	Title     string
	Brief     Brief
	CreatedAt time.Time
}

// ProjectView is the read projection of a project; lifecycle fields are
// derived from its latest job rather than stored twice.
type ProjectView struct {
	Project
	JobID        string    `json:"job_id,omitempty"`
	Status       JobStatus `json:"status"`
	CurrentStep  Stage     `json:"current_step"`
	Progress     int       `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// ProjectProjection derives the project view from its most recent job. A
// project without a job is reported as pending at initialization.
func ProjectProjection(p Project, latest *Job) ProjectView {
	view := ProjectView{
		Project:     p,
		Status:      JobStatusPending,
		CurrentStep: StageInitialization,
	}
	if latest == nil {
		return view
	}
	view.JobID = latest.ID
	view.Status = latest.Status
	view.CurrentStep = latest.CurrentStep
	view.Progress = latest.Progress
	view.ErrorMessage = latest.ErrorMessage
	return view
}
