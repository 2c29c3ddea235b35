package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"shortgen/internal/domain"
)

// Emitter appends job events and mirrors them to the log. Event writes never
// fail a stage; a lost audit entry is logged instead.
type Emitter struct {
	events domain.EventRepository
	logger zerolog.Logger
}

// NewEmitter writes lifecycle events to events.
func NewEmitter(events domain.EventRepository, logger zerolog.Logger) *Emitter {
	return &Emitter{events: events, logger: logger}
}

func (e *Emitter) Started(ctx context.Context, jobID string, stage domain.Stage, progress int) {
	e.emit(ctx, &domain.JobEvent{
		JobID:    jobID,
		Level:    domain.LevelInfo,
		Step:     stage,
		Type:     domain.EventStepStarted,
		Message:  string(stage) + " started",
		Progress: progress,
	})
}

func (e *Emitter) Progress(ctx context.Context, jobID string, stage domain.Stage, progress int, message string, data map[string]any) {
	e.emit(ctx, &domain.JobEvent{
		JobID:    jobID,
		Level:    domain.LevelInfo,
		Step:     stage,
		Type:     domain.EventStepProgress,
		Message:  message,
		Progress: progress,
		Data:     data,
	})
}

// Warn records a progress event at warn level.
func (e *Emitter) Warn(ctx context.Context, jobID string, stage domain.Stage, progress int, message string, data map[string]any) {
	e.emit(ctx, &domain.JobEvent{
		JobID:    jobID,
		Level:    domain.LevelWarn,
		Step:     stage,
		Type:     domain.EventStepProgress,
		Message:  message,
		Progress: progress,
		Data:     data,
	})
}

func (e *Emitter) Finished(ctx context.Context, jobID string, stage domain.Stage, progress int, data map[string]any) {
	message := string(stage) + " finished"
	if stage == domain.StageCompleted {
		message = "pipeline completed"
	}
	e.emit(ctx, &domain.JobEvent{
		JobID:    jobID,
		Level:    domain.LevelInfo,
		Step:     stage,
		Type:     domain.EventStepFinished,
		Message:  message,
		Progress: progress,
		Data:     data,
	})
}

// Failed records the full diagnostic payload of a failure.
func (e *Emitter) Failed(ctx context.Context, jobID string, stage domain.Stage, progress int, err error, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["error"] = err.Error()
	data["error_kind"] = string(domain.KindOf(err))
	data["stage"] = string(stage)
	e.emit(ctx, &domain.JobEvent{
		JobID:    jobID,
		Level:    domain.LevelError,
		Step:     stage,
		Type:     domain.EventStepFailed,
		Message:  string(stage) + " failed: " + err.Error(),
		Progress: progress,
		Data:     data,
	})
}

func (e *Emitter) emit(ctx context.Context, event *domain.JobEvent) {
	// Events outlive a cancelled run so the timeline stays complete.
	if err := e.events.Append(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Error().Err(err).Str("job_id", event.JobID).Str("event_type", string(event.Type)).Msg("append job event failed")
		return
	}
	var ev *zerolog.Event
	switch event.Level {
	case domain.LevelError:
		ev = e.logger.Error()
	case domain.LevelWarn:
		ev = e.logger.Warn()
	default:
		ev = e.logger.Debug()
	}
	ev.Str("job_id", event.JobID).Str("stage", string(event.Step)).Str("event_type", string(event.Type)).Int("progress", event.Progress).Msg(event.Message)
}
