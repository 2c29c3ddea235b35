package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shortgen/internal/domain"
	"shortgen/internal/providers"
	"shortgen/internal/providers/callguard"
	"shortgen/internal/providers/video"
	"shortgen/internal/storage"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// ClipStage produces one clip per planned scene. Polling providers are
// waited on inline. Callback providers get a pending artifact per submitted
// scene and the stage yields until the gateway or watchdog resolves them.
type ClipStage struct {
	deps *StepDeps
}

func (c *ClipStage) Stage() domain.Stage { return domain.StageVideoClipGeneration }

type sceneState int

const (
	sceneOpen sceneState = iota
	scenePending
	sceneDone
)

func (c *ClipStage) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	provider, err := c.deps.Clips.Active()
	if err != nil {
		return Outcome{}, err
	}
	total := st.Plan.SceneCount()
	if total == 0 {
		return Outcome{}, fmt.Errorf("%w: scene plan has no scenes", domain.ErrInconsistentState)
	}
	log := c.deps.Logger.With().Str("job_id", st.Job.ID).Str("provider", provider.Name()).Logger()

	done := 0
	halted := false
scenes:
	for _, scene := range st.Plan.Scenes {
		state, err := c.sceneState(ctx, st.Job.ID, scene.Index)
		if err != nil {
			return Outcome{}, err
		}
		switch state {
		case sceneDone:
			done++
			continue
		case scenePending:
			log.Debug().Int("scene_index", scene.Index).Msg("clip already submitted")
			continue
		}

		switch p := provider.(type) {
		case video.PollingProvider:
			if err := c.generatePolled(ctx, st, p, scene, done, total); err != nil {
				return Outcome{}, err
			}
			done++
			st.Report(ctx, float64(done)/float64(total), fmt.Sprintf("clip %d of %d ready", done, total), map[string]any{"scene_index": scene.Index})
		case video.CallbackProvider:
			ok, inFlight, err := c.admit(ctx, st.Job.ID, p.ConcurrencyLimit())
			if err != nil {
				return Outcome{}, err
			}
			if !ok {
				log.Info().Int("scene_index", scene.Index).Int("in_flight", inFlight).Int("limit", p.ConcurrencyLimit()).Msg("clip concurrency ceiling reached")
				halted = true
				break scenes
			}
			if err := c.submitCallback(ctx, st, p, scene); err != nil {
				return Outcome{}, err
			}
		default:
			return Outcome{}, fmt.Errorf("%w: clip provider %s supports neither polling nor callbacks", domain.ErrMisconfigured, provider.Name())
		}
	}

	// Recount: a callback may have resolved while the loop ran.
	completed, pending, err := tallyClips(ctx, c.deps.Store.Artifacts, st.Job.ID, st.Plan)
	if err != nil {
		return Outcome{}, err
	}
	if completed >= total {
		return Outcome{Data: map[string]any{"clips": completed}}, nil
	}
	data := map[string]any{"completed": completed, "pending": pending, "scene_count": total, "halted": halted}
	st.Report(ctx, float64(completed)/float64(total), fmt.Sprintf("waiting for %d of %d clips", total-completed, total), data)
	return Outcome{Yield: true, Data: data}, nil
}

// Restore succeeds only when every scene has a completed clip.
func (c *ClipStage) Restore(ctx context.Context, st *RunState) (bool, error) {
	for _, scene := range st.Plan.Scenes {
		state, err := c.sceneState(ctx, st.Job.ID, scene.Index)
		if err != nil {
			return false, err
		}
		if state != sceneDone {
			return false, nil
		}
	}
	return st.Plan.SceneCount() > 0, nil
}

func (c *ClipStage) sceneState(ctx context.Context, jobID string, scene int) (sceneState, error) {
	arts := c.deps.Store.Artifacts
	if _, err := arts.Get(ctx, domain.SceneArtifact(jobID, domain.ArtifactVideoClip, scene)); err == nil {
		return sceneDone, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return sceneOpen, err
	}
	if _, err := arts.Get(ctx, domain.SceneArtifact(jobID, domain.ArtifactVideoClipPending, scene)); err == nil {
		return scenePending, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return sceneOpen, err
	}
	return sceneOpen, nil
}

// tallyClips counts completed and pending clips for the scenes of plan.
// Artifacts left over from an earlier plan are ignored.
func tallyClips(ctx context.Context, arts domain.ArtifactRepository, jobID string, plan *domain.ScenePlan) (completed, pending int, err error) {
	all, err := arts.ListByJob(ctx, jobID)
	if err != nil {
		return 0, 0, err
	}
	inPlan := planIndexes(plan)
	for i := range all {
		a := &all[i]
		if _, ok := inPlan[a.SceneIndexOrDefault()]; !ok {
			continue
		}
		switch a.Type {
		case domain.ArtifactVideoClip:
			completed++
		case domain.ArtifactVideoClipPending:
			pending++
		}
	}
	return completed, pending, nil
}

// pruneClips deletes clip and pending artifacts whose scene is not in plan.
func pruneClips(ctx context.Context, arts domain.ArtifactRepository, jobID string, plan *domain.ScenePlan) (int, error) {
	all, err := arts.ListByJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	inPlan := planIndexes(plan)
	removed := 0
	for i := range all {
		a := &all[i]
		if a.Type != domain.ArtifactVideoClip && a.Type != domain.ArtifactVideoClipPending {
			continue
		}
		if _, ok := inPlan[a.SceneIndexOrDefault()]; ok {
			continue
		}
		ok, err := arts.Delete(ctx, a.Key())
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func planIndexes(plan *domain.ScenePlan) map[int]struct{} {
	out := make(map[int]struct{}, plan.SceneCount())
	for _, sc := range plan.Scenes {
		out[sc.Index] = struct{}{}
	}
	return out
}

// admit applies the per-job ceiling from persisted pending artifacts only.
func (c *ClipStage) admit(ctx context.Context, jobID string, limit int) (bool, int, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	n, err := c.deps.Store.Artifacts.CountByType(ctx, jobID, domain.ArtifactVideoClipPending)
	if err != nil {
		return false, 0, err
	}
	return n < limit, n, nil
}

func clipRequest(st *RunState, scene domain.Scene) video.ClipRequest {
	return video.ClipRequest{
		JobID:       st.Job.ID,
		ProjectID:   st.Job.ProjectID,
		SceneIndex:  scene.Index,
		Prompt:      scene.Prompt,
		Duration:    scene.Duration,
		AspectRatio: st.Brief.AspectRatio,
	}
}

func (c *ClipStage) submitCallback(ctx context.Context, st *RunState, p video.CallbackProvider, scene domain.Scene) error {
	req := clipRequest(st, scene)
	req.CallbackURL = c.deps.Signer.URL(CallbackTarget{
		Provider:   p.Name(),
		ProjectID:  st.Job.ProjectID,
		JobID:      st.Job.ID,
		SceneIndex: scene.Index,
	})
	sub, err := callguard.Do(ctx, c.deps.Guards.For(p.Name()), func(ctx context.Context) (*video.Submission, error) {
		return p.Submit(ctx, req)
	})
	if err != nil {
		return err
	}
	submittedAt := sub.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = c.deps.Now()
	}
	pending := &domain.Artifact{
		JobID:      st.Job.ID,
		ProjectID:  st.Job.ProjectID,
		Type:       domain.ArtifactVideoClipPending,
		SceneIndex: domain.IntPtr(scene.Index),
		Metadata: map[string]any{
			"provider":     p.Name(),
			"handle":       sub.Handle,
			"submitted_at": submittedAt.UTC().Format(time.RFC3339Nano),
			"duration":     scene.Duration,
		},
	}
	if _, err := c.deps.Store.Artifacts.Upsert(ctx, pending); err != nil {
		return fmt.Errorf("record pending clip %d: %w", scene.Index, err)
	}
	c.deps.Events.Progress(ctx, st.Job.ID, c.Stage(), c.Stage().Progress().Start, fmt.Sprintf("clip for scene %d submitted", scene.Index), map[string]any{
		"scene_index": scene.Index,
		"provider":    p.Name(),
		"handle":      sub.Handle,
	})
	return nil
}

func (c *ClipStage) generatePolled(ctx context.Context, st *RunState, p video.PollingProvider, scene domain.Scene, done, total int) error {
	guard := c.deps.Guards.For(p.Name())
	req := clipRequest(st, scene)
	sub, err := callguard.Do(ctx, guard, func(ctx context.Context) (*video.Submission, error) {
		return p.Submit(ctx, req)
	})
	if err != nil {
		return err
	}

	policy := p.PollPolicy()
	if policy.Interval <= 0 {
		policy.Interval = defaultPollInterval
	}
	if policy.Timeout <= 0 {
		policy.Timeout = defaultPollTimeout
	}
	pollCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	expired := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return providers.Timeout(p.Name(), "clip for scene %d not ready after %s", scene.Index, policy.Timeout)
	}

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(policy.Interval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return expired()
		case <-timer.C:
		}

		status, err := callguard.Do(pollCtx, guard, func(ctx context.Context) (*video.ClipStatus, error) {
			return p.Status(ctx, sub.Handle)
		})
		if err != nil {
			if pollCtx.Err() != nil {
				return expired()
			}
			return err
		}
		st.Report(ctx, (float64(done)+status.Progress)/float64(total), fmt.Sprintf("scene %d poll %d: %s", scene.Index, attempt, status.State), map[string]any{
			"scene_index": scene.Index,
			"attempt":     attempt,
			"state":       string(status.State),
			"handle":      sub.Handle,
		})

		switch status.State {
		case video.StateSucceeded:
			url, err := rehostClip(ctx, c.deps.Media, st.Job.ID, scene.Index, status.MediaURL)
			if err != nil {
				return err
			}
			clip := clipArtifact(st.Job, scene.Index, url, map[string]any{
				"provider":     p.Name(),
				"handle":       sub.Handle,
				"source":       "poll",
				"attempts":     attempt,
				"completed_at": c.deps.Now().UTC().Format(time.RFC3339Nano),
			})
			if _, err := c.deps.Store.Artifacts.Upsert(ctx, clip); err != nil {
				return fmt.Errorf("persist clip %d: %w", scene.Index, err)
			}
			return nil
		case video.StateFailed:
			return providers.Terminal(p.Name(), "clip for scene %d failed: %s", scene.Index, failureReason(status))
		}
	}
}

func rehostClip(ctx context.Context, media *storage.Rehoster, jobID string, scene int, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: clip for scene %d has no media", domain.ErrProviderFailure, scene)
	}
	url, err := media.Rehost(ctx, ref, mediaKey(jobID, fmt.Sprintf("clips/scene-%02d.mp4", scene)))
	if err != nil {
		return "", fmt.Errorf("rehost clip %d: %w", scene, err)
	}
	return url, nil
}

func clipArtifact(job *domain.Job, scene int, url string, meta map[string]any) *domain.Artifact {
	return &domain.Artifact{
		JobID:      job.ID,
		ProjectID:  job.ProjectID,
		Type:       domain.ArtifactVideoClip,
		SceneIndex: domain.IntPtr(scene),
		FileURL:    url,
		Metadata:   meta,
	}
}

func failureReason(status *video.ClipStatus) string {
	if status.Error != "" {
		return status.Error
	}
	return "provider reported failure"
}
