package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"shortgen/internal/dispatch"
	"shortgen/internal/domain"
)

// AsyncRunner schedules runs on the dispatcher and returns as soon as the
// run is queued. Outcomes are visible on the job and its event log. A run
// requested from a task already on the dispatcher executes inline in that
// task.
type AsyncRunner struct {
	target     Runner
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// NewAsyncRunner wraps target so runs execute on dispatcher.
func NewAsyncRunner(target Runner, dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *AsyncRunner {
	return &AsyncRunner{target: target, dispatcher: dispatcher, logger: logger}
}

func (a *AsyncRunner) Run(ctx context.Context, req RunRequest) error {
	if a.dispatcher.InTask(ctx) {
		a.run(ctx, req)
		return nil
	}
	return a.dispatcher.Submit("pipeline:"+req.JobID, func(ctx context.Context) {
		a.run(ctx, req)
	})
}

func (a *AsyncRunner) run(ctx context.Context, req RunRequest) {
	err := a.target.Run(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobBusy):
		a.logger.Info().Str("job_id", req.JobID).Str("resume_step", string(req.ResumeStep)).Msg("job busy, run skipped")
	case errors.Is(err, context.Canceled):
		a.logger.Warn().Str("job_id", req.JobID).Msg("run interrupted by shutdown")
	default:
		a.logger.Error().Err(err).Str("job_id", req.JobID).Str("kind", string(domain.KindOf(err))).Msg("pipeline run failed")
	}
}
