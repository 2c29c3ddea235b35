package domain

import (
	"fmt"
	"time"
)

// ArtifactType enumerates persisted stage outputs.
type ArtifactType string

const (
	ArtifactScript           ArtifactType = "script"
	ArtifactScenePlan        ArtifactType = "scene_plan"
	ArtifactVoiceover        ArtifactType = "voiceover"
	ArtifactVideoClip        ArtifactType = "video_clip"
	ArtifactVideoClipPending ArtifactType = "video_clip_pending"
	ArtifactFinalVideo       ArtifactType = "final_video"
)

// PerScene reports whether artifacts of this type are keyed by scene index.
func (t ArtifactType) PerScene() bool {
	return t == ArtifactVideoClip || t == ArtifactVideoClipPending
}

// Artifact represents a persisted output of one pipeline stage.
type Artifact struct {
	ID         string
	JobID      string
	ProjectID  string
	Type       ArtifactType
	SceneIndex *int
	FileURL    string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ArtifactKey identifies the unique slot an artifact occupies.
type ArtifactKey struct {
	JobID      string
	Type       ArtifactType
	SceneIndex int
}

// JobArtifact is the key of a per-job singleton artifact.
func JobArtifact(jobID string, t ArtifactType) ArtifactKey {
	return ArtifactKey{JobID: jobID, Type: t, SceneIndex: -1}
}

// SceneArtifact is the key of a per-scene artifact.
func SceneArtifact(jobID string, t ArtifactType, scene int) ArtifactKey {
	return ArtifactKey{JobID: jobID, Type: t, SceneIndex: scene}
}

func (k ArtifactKey) String() string {
	if k.SceneIndex < 0 {
		return fmt.Sprintf("%s/%s", k.JobID, k.Type)
	}
	return fmt.Sprintf("%s/%s/%d", k.JobID, k.Type, k.SceneIndex)
}

// Key returns the unique slot of the artifact.
func (a *Artifact) Key() ArtifactKey {
	scene := -1
	if a.SceneIndex != nil {
		scene = *a.SceneIndex
	}
	return ArtifactKey{JobID: a.JobID, Type: a.Type, SceneIndex: scene}
}

// SceneIndexOrDefault dereferences the scene index, returning -1 when unset.
func (a *Artifact) SceneIndexOrDefault() int {
	if a == nil || a.SceneIndex == nil {
		return -1
	}
	return *a.SceneIndex
}

// IntPtr is a small helper for optional scene indexes.
func IntPtr(v int) *int {
	return &v
}

// Scene is one time-bounded visual segment of the plan.
type Scene struct {
	Index    int     `json:"index"`
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
}

// ScenePlan is the decoded payload of a scene_plan artifact.
type ScenePlan struct {
	Scenes        []Scene `json:"scenes"`
	TotalDuration float64 `json:"total_duration"`
}

// SceneCount is the number of scenes the clip stage must produce.
func (p ScenePlan) SceneCount() int {
	return len(p.Scenes)
}
