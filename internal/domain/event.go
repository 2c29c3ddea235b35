package domain

import "time"

// EventType enumerates step lifecycle events.
type EventType string

const (
	EventStepStarted  EventType = "step_started"
	EventStepProgress EventType = "step_progress"
	EventStepFinished EventType = "step_finished"
	EventStepFailed   EventType = "step_failed"
)

// EventLevel is the severity of a job event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// JobEvent is one write-once entry of the append-only job timeline.
type JobEvent struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Level     EventLevel     `json:"level"`
	Step      Stage          `json:"step"`
	Type      EventType      `json:"event_type"`
	Message   string         `json:"message"`
	Progress  int            `json:"progress"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
