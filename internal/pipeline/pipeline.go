// Package pipeline drives a job through its stages, suspends it while
// callback clip providers work and picks it back up from the webhook gateway
// or the watchdog.
package pipeline

import (
	"context"
	"time"

	"shortgen/internal/domain"
)

// RunRequest identifies one orchestrator invocation.
type RunRequest struct {
	ProjectID string
	JobID     string
	// ResumeStep, when set, overrides the resume point derived from the job.
	ResumeStep domain.Stage
}

// Runner executes or schedules a pipeline run.
type Runner interface {
	Run(ctx context.Context, req RunRequest) error
}

// Config carries the orchestration limits.
type Config struct {
	// MaxResumes caps explicit resumes of a failed job.
	MaxResumes int
	// LockTTL is the lifetime of the per-job run lock.
	LockTTL time.Duration
	// LockWait bounds how long a run waits for a busy job.
	LockWait time.Duration
}

// DefaultConfig returns the limits used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxResumes: 5,
		LockTTL:    30 * time.Minute,
		LockWait:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxResumes <= 0 {
		c.MaxResumes = d.MaxResumes
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.LockWait < 0 {
		c.LockWait = 0
	}
	return c
}

// Clock returns the current time; tests pin it.
type Clock func() time.Time
