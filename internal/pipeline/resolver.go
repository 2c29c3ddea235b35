package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/providers"
	"shortgen/internal/providers/video"
	"shortgen/internal/storage"
)

// Resolution reports what a clip outcome did to the job.
type Resolution string

const (
	ResolutionProgress  Resolution = "progress"
	ResolutionCompleted Resolution = "completed"
	ResolutionFailed    Resolution = "failed"
	ResolutionIgnored   Resolution = "ignored"
)

// ClipResolver applies provider outcomes to pending clips. The webhook
// gateway and the watchdog share it.
type ClipResolver struct {
	store  domain.Store
	media  *storage.Rehoster
	events *Emitter
	runner Runner
	logger zerolog.Logger
	now    Clock
}

// NewClipResolver builds a resolver that continues jobs through runner.
func NewClipResolver(store domain.Store, media *storage.Rehoster, events *Emitter, runner Runner, logger zerolog.Logger) *ClipResolver {
	return &ClipResolver{store: store, media: media, events: events, runner: runner, logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source.
func (r *ClipResolver) WithClock(now Clock) *ClipResolver {
	r.now = now
	return r
}

// Apply resolves pending with status. Non-terminal statuses only record
// progress.
func (r *ClipResolver) Apply(ctx context.Context, job *domain.Job, pending *domain.Artifact, status *video.ClipStatus, source string) (Resolution, error) {
	scene := pending.SceneIndexOrDefault()
	provider := jsoncfg.String(pending.Metadata, "provider")
	stage := domain.StageVideoClipGeneration

	switch status.State {
	case video.StateSucceeded:
		if status.MediaURL == "" {
			err := providers.Terminal(provider, "clip for scene %d succeeded without media", scene)
			return ResolutionFailed, r.Fail(ctx, job, pending, err, source)
		}
		return ResolutionCompleted, r.complete(ctx, job, pending, status, source)
	case video.StateFailed:
		err := providers.Terminal(provider, "clip for scene %d failed: %s", scene, failureReason(status))
		return ResolutionFailed, r.Fail(ctx, job, pending, err, source)
	default:
		r.events.Progress(ctx, job.ID, stage, job.Progress, fmt.Sprintf("scene %d %s", scene, status.State), map[string]any{
			"scene_index": scene,
			"provider":    provider,
			"state":       string(status.State),
			"progress":    status.Progress,
			"source":      source,
		})
		return ResolutionProgress, nil
	}
}

func (r *ClipResolver) complete(ctx context.Context, job *domain.Job, pending *domain.Artifact, status *video.ClipStatus, source string) error {
	scene := pending.SceneIndexOrDefault()
	url, err := rehostClip(ctx, r.media, job.ID, scene, status.MediaURL)
	if err != nil {
		return err
	}
	meta := map[string]any{
		"provider":     jsoncfg.String(pending.Metadata, "provider"),
		"handle":       jsoncfg.String(pending.Metadata, "handle"),
		"submitted_at": jsoncfg.String(pending.Metadata, "submitted_at"),
		"completed_at": r.now().UTC().Format(time.RFC3339Nano),
		"source":       source,
	}
	if url != status.MediaURL && !strings.HasPrefix(status.MediaURL, "data:") {
		meta["source_url"] = status.MediaURL
	}
	removed, err := r.store.Artifacts.ResolvePending(ctx, pending.Key(), clipArtifact(job, scene, url, meta))
	if err != nil {
		return err
	}
	if !removed {
		// Another resolution won the slot; nothing was written.
		r.logger.Debug().Str("job_id", job.ID).Int("scene_index", scene).Msg("pending clip already resolved")
		return nil
	}
	r.events.Progress(ctx, job.ID, domain.StageVideoClipGeneration, job.Progress, fmt.Sprintf("clip for scene %d ready", scene), map[string]any{
		"scene_index": scene,
		"file_url":    url,
		"source":      source,
	})
	return r.advance(ctx, job)
}

// advance re-invokes the orchestrator once the job can make progress.
func (r *ClipResolver) advance(ctx context.Context, job *domain.Job) error {
	arts := r.store.Artifacts
	planArt, err := arts.Get(ctx, domain.JobArtifact(job.ID, domain.ArtifactScenePlan))
	if err != nil {
		return fmt.Errorf("%w: scene plan for job %s: %v", domain.ErrInconsistentState, job.ID, err)
	}
	plan, err := decodePlan(planArt)
	if err != nil {
		return err
	}
	total := plan.SceneCount()
	completed, pending, err := tallyClips(ctx, arts, job.ID, plan)
	if err != nil {
		return err
	}
	if total > 0 {
		progress := domain.StageVideoClipGeneration.Progress().Span(float64(completed) / float64(total))
		if err := r.store.Jobs.UpdateProgress(ctx, job.ID, domain.StageVideoClipGeneration, progress); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update clip progress failed")
		}
	}

	req := RunRequest{ProjectID: job.ProjectID, JobID: job.ID}
	switch {
	case completed >= total:
		req.ResumeStep = domain.StageVideoAssembly
	case completed+pending < total:
		req.ResumeStep = domain.StageVideoClipGeneration
	default:
		return nil
	}
	r.logger.Info().Str("job_id", job.ID).Str("resume_step", string(req.ResumeStep)).Int("completed", completed).Int("pending", pending).Msg("re-invoking pipeline")
	return r.runner.Run(ctx, req)
}

// Fail removes the pending clip and fails the whole job; one scene's
// failure is fatal.
func (r *ClipResolver) Fail(ctx context.Context, job *domain.Job, pending *domain.Artifact, cause error, source string) error {
	stage := domain.StageVideoClipGeneration
	if _, err := r.store.Artifacts.Delete(ctx, pending.Key()); err != nil {
		return err
	}
	err := domain.NewStageError(stage, cause)
	r.events.Failed(ctx, job.ID, stage, job.Progress, err, map[string]any{
		"scene_index":  pending.SceneIndexOrDefault(),
		"provider":     jsoncfg.String(pending.Metadata, "provider"),
		"handle":       jsoncfg.String(pending.Metadata, "handle"),
		"source":       source,
		"resume_count": job.ResumeCount,
	})
	if err := r.store.Jobs.MarkFailed(ctx, job.ID, stage, failureSummary(stage, cause)); err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	r.logger.Warn().Err(cause).Str("job_id", job.ID).Int("scene_index", pending.SceneIndexOrDefault()).Str("source", source).Msg("clip failed, job marked failed")
	return nil
}

const maxSummaryLen = 500

// failureSummary is the user-visible error_message of a failed job.
func failureSummary(stage domain.Stage, err error) string {
	msg := err.Error()
	var se *domain.StageError
	if errors.As(err, &se) {
		msg = se.Err.Error()
	}
	summary := fmt.Sprintf("%s failed: %s", stage, msg)
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen-3] + "..."
	}
	return summary
}
