package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/lock"
)

// Orchestrator runs a job's stages in canonical order, resuming from
// persisted checkpoints. It is the only writer of stage transitions while
// it holds the job's run lock.
type Orchestrator struct {
	store  domain.Store
	locker lock.Locker
	steps  map[domain.Stage]Step
	events *Emitter
	cfg    Config
	logger zerolog.Logger
}

// NewOrchestrator validates the step set and returns a ready orchestrator.
func NewOrchestrator(store domain.Store, locker lock.Locker, steps []Step, events *Emitter, cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	byStage := make(map[domain.Stage]Step, len(steps))
	for _, s := range steps {
		byStage[s.Stage()] = s
	}
	for _, stage := range domain.Stages() {
		if stage.Runnable() && byStage[stage] == nil {
			return nil, fmt.Errorf("%w: no step for stage %s", domain.ErrMisconfigured, stage)
		}
	}
	return &Orchestrator{
		store:  store,
		locker: locker,
		steps:  byStage,
		events: events,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}, nil
}

// Run executes the job from its resume point. A yielding clip stage returns
// nil with the job left running. Stage failures mark the job failed and are
// returned as *domain.StageError.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) error {
	job, project, err := o.validate(ctx, req)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		o.logger.Debug().Str("job_id", job.ID).Msg("job already completed")
		return nil
	}

	lease, err := lock.Acquire(ctx, o.locker, lock.JobKey(job.ID), o.cfg.LockTTL, o.cfg.LockWait)
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: %s", domain.ErrJobBusy, job.ID)
	}
	if err != nil {
		return fmt.Errorf("acquire job lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("release job lock")
		}
	}()

	// Another run may have moved the job while we waited for the lock.
	if job, err = o.store.Jobs.GetByID(ctx, job.ID); err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		return nil
	}

	resume := resumePoint(job, req.ResumeStep)
	resumed := job.Status == domain.JobStatusFailed
	if resumed && job.ResumeCount >= o.cfg.MaxResumes {
		err := fmt.Errorf("%w: job %s already resumed %d times", domain.ErrResumeLimitExceeded, job.ID, job.ResumeCount)
		o.events.Failed(ctx, job.ID, resume, job.Progress, err, map[string]any{
			"resume_count": job.ResumeCount,
			"max_resumes":  o.cfg.MaxResumes,
		})
		return err
	}

	st := &RunState{Project: project, Job: job, Brief: project.Brief}
	jsoncfg.NormalizeBrief(&st.Brief)

	resume, failedAt, err := o.restore(ctx, st, resume)
	if err != nil {
		return o.fail(ctx, st, failedAt, err)
	}

	if err := o.store.Jobs.MarkRunning(ctx, job.ID, resume, resume.Progress().Start, resumed); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	job.Status = domain.JobStatusRunning
	job.CurrentStep = resume
	if resumed {
		job.ResumeCount++
	}
	log := o.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Str("resume_step", string(resume)).Bool("resumed", resumed).Msg("pipeline run started")

	for _, stage := range domain.Stages() {
		if !stage.Runnable() || stage.Before(resume) {
			continue
		}
		out, err := o.runStage(ctx, st, o.steps[stage], stage != resume)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				// Interrupted runs stay running at the stage so a later run resumes there.
				o.events.Warn(ctx, job.ID, stage, stage.Progress().Start, "run interrupted", nil)
				return err
			}
			return o.fail(ctx, st, stage, err)
		}
		if out.Yield {
			log.Info().Str("stage", string(stage)).Msg("pipeline suspended")
			return nil
		}
	}

	if err := o.store.Jobs.MarkCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	o.events.Finished(ctx, job.ID, domain.StageCompleted, 100, nil)
	log.Info().Msg("pipeline completed")
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, st *RunState, step Step, advance bool) (Outcome, error) {
	stage := step.Stage()
	rng := stage.Progress()
	jobID := st.Job.ID
	if advance {
		if err := o.store.Jobs.UpdateProgress(ctx, jobID, stage, rng.Start); err != nil {
			return Outcome{}, err
		}
	}
	st.Job.CurrentStep = stage
	st.Job.Progress = rng.Start
	o.events.Started(ctx, jobID, stage, rng.Start)

	st.report = func(ctx context.Context, fraction float64, message string, data map[string]any) {
		p := rng.Span(fraction)
		if p != st.Job.Progress {
			if err := o.store.Jobs.UpdateProgress(ctx, jobID, stage, p); err != nil {
				o.logger.Warn().Err(err).Str("job_id", jobID).Msg("update progress")
			}
			st.Job.Progress = p
		}
		o.events.Progress(ctx, jobID, stage, p, message, data)
	}
	defer func() { st.report = nil }()

	out, err := step.Execute(ctx, st)
	if err != nil || out.Yield {
		return out, err
	}
	if err := o.store.Jobs.UpdateProgress(ctx, jobID, stage, rng.End); err != nil {
		return Outcome{}, err
	}
	st.Job.Progress = rng.End
	o.events.Finished(ctx, jobID, stage, rng.End, out.Data)
	return out, nil
}

// fail performs the single failed transition of a run.
func (o *Orchestrator) fail(ctx context.Context, st *RunState, stage domain.Stage, cause error) error {
	ctx = context.WithoutCancel(ctx)
	err := domain.NewStageError(stage, cause)
	var se *domain.StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	if merr := o.store.Jobs.MarkFailed(ctx, st.Job.ID, stage, failureSummary(stage, err)); merr != nil {
		o.logger.Error().Err(merr).Str("job_id", st.Job.ID).Msg("mark job failed")
	}
	o.events.Failed(ctx, st.Job.ID, stage, st.Job.Progress, err, map[string]any{"resume_count": st.Job.ResumeCount})
	o.logger.Error().Err(cause).Str("job_id", st.Job.ID).Str("stage", string(stage)).Str("kind", string(domain.KindOf(cause))).Msg("pipeline stage failed")
	return err
}

func (o *Orchestrator) validate(ctx context.Context, req RunRequest) (*domain.Job, *domain.Project, error) {
	if req.JobID == "" || req.ProjectID == "" {
		return nil, nil, fmt.Errorf("%w: project_id and job_id are required", domain.ErrInvalidInput)
	}
	if req.ResumeStep != "" && !req.ResumeStep.Runnable() {
		return nil, nil, fmt.Errorf("%w: resume_step %q is not a runnable stage", domain.ErrInvalidInput, req.ResumeStep)
	}
	job, err := o.store.Jobs.GetByID(ctx, req.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: job %s: %w", domain.ErrInvalidInput, req.JobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	if job.ProjectID != req.ProjectID {
		return nil, nil, fmt.Errorf("%w: job %s does not belong to project %s", domain.ErrInvalidInput, job.ID, req.ProjectID)
	}
	project, err := o.store.Projects.GetByID(ctx, req.ProjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: project %s: %w", domain.ErrInvalidInput, req.ProjectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	return job, project, nil
}

// restore loads checkpoints of every stage before resume. A missing
// checkpoint moves the resume point back to that stage.
func (o *Orchestrator) restore(ctx context.Context, st *RunState, resume domain.Stage) (domain.Stage, domain.Stage, error) {
	for _, stage := range domain.Stages() {
		if !stage.Before(resume) {
			break
		}
		ok, err := o.steps[stage].Restore(ctx, st)
		if err != nil {
			return resume, stage, err
		}
		if !ok {
			o.logger.Warn().Str("job_id", st.Job.ID).Str("requested", string(resume)).Str("stage", string(stage)).Msg("checkpoint missing, resuming earlier")
			return stage, "", nil
		}
	}
	return resume, "", nil
}

func resumePoint(job *domain.Job, requested domain.Stage) domain.Stage {
	if requested != "" {
		return requested
	}
	switch job.Status {
	case domain.JobStatusFailed, domain.JobStatusRunning:
		if job.CurrentStep.Runnable() {
			return job.CurrentStep
		}
	}
	return domain.StageInitialization
}
