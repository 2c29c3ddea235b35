// Package memstore keeps projects, jobs, artifacts and events in process
// memory. It backs STORE_DRIVER=memory for local runs and the pipeline tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shortgen/internal/domain"
)

// Store implements every domain repository over guarded maps.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	projects  map[string]domain.Project
	jobs      map[string]domain.Job
	artifacts map[domain.ArtifactKey]domain.Artifact
	events    map[string][]domain.JobEvent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		projects:  make(map[string]domain.Project),
		jobs:      make(map[string]domain.Job),
		artifacts: make(map[domain.ArtifactKey]domain.Artifact),
		events:    make(map[string][]domain.JobEvent),
	}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Repositories returns the store wired into every repository slot.
func (s *Store) Repositories() domain.Store {
	return domain.Store{
		Projects:  projectRepo{s},
		Jobs:      jobRepo{s},
		Artifacts: artifactRepo{s},
		Events:    eventRepo{s},
	}
}

type projectRepo struct{ s *Store }

func (r projectRepo) Create(ctx context.Context, project *domain.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if _, ok := r.s.projects[project.ID]; ok {
		return domain.ErrDuplicateOperation
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = r.s.now()
	}
	r.s.projects[project.ID] = *project
	return nil
}

func (r projectRepo) GetByID(ctx context.Context, projectID string) (*domain.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.projects[projectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

type jobRepo struct{ s *Store }

func (r jobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return domain.ErrDuplicateOperation
	}
	now := r.s.now()
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.CurrentStep == "" {
		job.CurrentStep = domain.StageInitialization
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	r.s.jobs[job.ID] = *job
	return nil
}

func (r jobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r jobRepo) LatestForProject(ctx context.Context, projectID string) (*domain.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.Job
	for _, j := range r.s.jobs {
		if j.ProjectID != projectID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			cp := j
			latest = &cp
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (r jobRepo) update(jobID string, fn func(j *domain.Job)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&j)
	j.UpdatedAt = r.s.now()
	r.s.jobs[jobID] = j
	return nil
}

func (r jobRepo) MarkRunning(ctx context.Context, jobID string, stage domain.Stage, progress int, resumed bool) error {
	return r.update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusRunning
		j.CurrentStep = stage
		j.Progress = progress
		j.ErrorMessage = ""
		j.FinishedAt = nil
		if j.StartedAt == nil {
			now := r.s.now()
			j.StartedAt = &now
		}
		if resumed {
			j.ResumeCount++
		}
	})
}

func (r jobRepo) UpdateProgress(ctx context.Context, jobID string, stage domain.Stage, progress int) error {
	return r.update(jobID, func(j *domain.Job) {
		j.CurrentStep = stage
		j.Progress = progress
	})
}

func (r jobRepo) MarkFailed(ctx context.Context, jobID string, stage domain.Stage, message string) error {
	return r.update(jobID, func(j *domain.Job) {
		now := r.s.now()
		j.Status = domain.JobStatusFailed
		j.CurrentStep = stage
		j.ErrorMessage = message
		j.FinishedAt = &now
	})
}

func (r jobRepo) MarkCompleted(ctx context.Context, jobID string) error {
	return r.update(jobID, func(j *domain.Job) {
		now := r.s.now()
		j.Status = domain.JobStatusCompleted
		j.CurrentStep = domain.StageCompleted
		j.Progress = 100
		j.ErrorMessage = ""
		j.FinishedAt = &now
	})
}

func (r jobRepo) ListStalled(ctx context.Context, stage domain.Stage, before time.Time) ([]domain.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Job
	for _, j := range r.s.jobs {
		if j.Status == domain.JobStatusRunning && j.CurrentStep == stage && j.UpdatedAt.Before(before) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	return out, nil
}

type artifactRepo struct{ s *Store }

func (r artifactRepo) Get(ctx context.Context, key domain.ArtifactKey) (*domain.Artifact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.artifacts[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (r artifactRepo) Upsert(ctx context.Context, artifact *domain.Artifact) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.put(artifact), nil
}

func (r artifactRepo) Delete(ctx context.Context, key domain.ArtifactKey) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.artifacts[key]; !ok {
		return false, nil
	}
	delete(r.s.artifacts, key)
	return true, nil
}

func (r artifactRepo) ResolvePending(ctx context.Context, pending domain.ArtifactKey, completed *domain.Artifact) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.artifacts[pending]; !ok {
		return false, nil
	}
	delete(r.s.artifacts, pending)
	r.s.put(completed)
	return true, nil
}

func (r artifactRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Artifact
	for key, a := range r.s.artifacts {
		if key.JobID == jobID {
			out = append(out, *cloneArtifact(a))
		}
	}
	sortArtifacts(out)
	return out, nil
}

func (r artifactRepo) CountByType(ctx context.Context, jobID string, t domain.ArtifactType) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for key := range r.s.artifacts {
		if key.JobID == jobID && key.Type == t {
			n++
		}
	}
	return n, nil
}

func (r artifactRepo) ListByType(ctx context.Context, t domain.ArtifactType) ([]domain.Artifact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Artifact
	for key, a := range r.s.artifacts {
		if key.Type == t {
			out = append(out, *cloneArtifact(a))
		}
	}
	sortArtifacts(out)
	return out, nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(ctx context.Context, event *domain.JobEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.s.now()
	}
	r.s.events[event.JobID] = append(r.s.events[event.JobID], *event)
	return nil
}

func (r eventRepo) ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.JobEvent, len(r.s.events[jobID]))
	copy(out, r.s.events[jobID])
	return out, nil
}

// put writes artifact into its slot; the caller holds mu.
func (s *Store) put(artifact *domain.Artifact) bool {
	key := artifact.Key()
	now := s.now()
	existing, ok := s.artifacts[key]
	if ok {
		artifact.ID = existing.ID
		artifact.CreatedAt = existing.CreatedAt
	} else {
		if artifact.ID == "" {
			artifact.ID = uuid.NewString()
		}
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = now
		}
	}
	artifact.UpdatedAt = now
	s.artifacts[key] = *cloneArtifact(*artifact)
	return !ok
}

func cloneArtifact(a domain.Artifact) *domain.Artifact {
	cp := a
	if a.SceneIndex != nil {
		cp.SceneIndex = domain.IntPtr(*a.SceneIndex)
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func sortArtifacts(list []domain.Artifact) {
	sort.Slice(list, func(i, k int) bool {
		if !list[i].CreatedAt.Equal(list[k].CreatedAt) {
			return list[i].CreatedAt.Before(list[k].CreatedAt)
		}
		if list[i].Type != list[k].Type {
			return list[i].Type < list[k].Type
		}
		return list[i].SceneIndexOrDefault() < list[k].SceneIndexOrDefault()
	})
}
