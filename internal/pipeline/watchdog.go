package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/lock"
	"shortgen/internal/providers"
	"shortgen/internal/providers/callguard"
	"shortgen/internal/providers/video"
)

// WatchdogConfig bounds the reconciler.
type WatchdogConfig struct {
	Interval      time.Duration
	MaxPendingAge time.Duration
	StallAfter    time.Duration
	Workers       int
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxPendingAge <= 0 {
		c.MaxPendingAge = 30 * time.Minute
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// WatchdogDeps are the watchdog's collaborators.
type WatchdogDeps struct {
	Store    domain.Store
	Clips    *video.Registry
	Guards   *callguard.Set
	Resolver *ClipResolver
	Runner   Runner
	Locker   lock.Locker
	Logger   zerolog.Logger
	Now      Clock
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Skipped    bool `json:"skipped"`
	Scanned    int  `json:"scanned"`
	TimedOut   int  `json:"timed_out"`
	Resolved   int  `json:"resolved"`
	InProgress int  `json:"in_progress"`
	Orphaned   int  `json:"orphaned"`
	Restarted  int  `json:"restarted"`
	Errors     int  `json:"errors"`
}

// Watchdog reconciles pending clips whose notification may never arrive and
// restarts clip stages whose continuation was lost.
type Watchdog struct {
	deps WatchdogDeps
	cfg  WatchdogConfig
	pool *ants.Pool
}

// NewWatchdog builds a watchdog with its own worker pool.
func NewWatchdog(deps WatchdogDeps, cfg WatchdogConfig) (*Watchdog, error) {
	cfg = cfg.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		deps.Logger.Error().Interface("panic", p).Msg("watchdog task panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("watchdog pool: %w", err)
	}
	return &Watchdog{deps: deps, cfg: cfg, pool: pool}, nil
}

// Close releases the worker pool.
func (w *Watchdog) Close() {
	w.pool.Release()
}

// Run sweeps every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.deps.Logger.Info().Dur("interval", w.cfg.Interval).Msg("watchdog started")
	for {
		if _, err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.deps.Logger.Error().Err(err).Msg("watchdog sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one reconciliation pass. Only one sweep runs across the
// cluster at a time; a busy sweep lock skips the pass.
func (w *Watchdog) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	ttl := 2 * w.cfg.Interval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	lease, ok, err := w.deps.Locker.TryAcquire(ctx, lock.SweepKey, ttl)
	if err != nil {
		return report, fmt.Errorf("sweep lock: %w", err)
	}
	if !ok {
		report.Skipped = true
		w.deps.Logger.Debug().Msg("sweep already running elsewhere")
		return report, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.deps.Logger.Warn().Err(err).Msg("release sweep lock")
		}
	}()

	pendings, err := w.deps.Store.Artifacts.ListByType(ctx, domain.ArtifactVideoClipPending)
	if err != nil {
		return report, fmt.Errorf("list pending clips: %w", err)
	}
	report.Scanned = len(pendings)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(outcome sweepOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeTimedOut:
			report.TimedOut++
		case outcomeResolved:
			report.Resolved++
		case outcomeInProgress:
			report.InProgress++
		case outcomeOrphaned:
			report.Orphaned++
		default:
			report.Errors++
		}
	}
	for i := range pendings {
		pending := pendings[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcome, err := w.reconcile(ctx, &pending)
			if err != nil {
				w.deps.Logger.Warn().Err(err).Str("job_id", pending.JobID).Int("scene_index", pending.SceneIndexOrDefault()).Msg("reconcile pending clip")
				outcome = outcomeError
			}
			record(outcome)
		}
		if err := w.pool.Submit(task); err != nil {
			wg.Done()
			record(outcomeError)
			w.deps.Logger.Error().Err(err).Msg("watchdog pool submit")
		}
	}
	wg.Wait()

	restarted, err := w.restartStalled(ctx)
	report.Restarted = restarted
	if err != nil {
		return report, err
	}

	w.deps.Logger.Info().
		Int("scanned", report.Scanned).
		Int("timed_out", report.TimedOut).
		Int("resolved", report.Resolved).
		Int("orphaned", report.Orphaned).
		Int("restarted", report.Restarted).
		Int("errors", report.Errors).
		Msg("watchdog sweep finished")
	return report, nil
}

type sweepOutcome int

const (
	outcomeError sweepOutcome = iota
	outcomeTimedOut
	outcomeResolved
	outcomeInProgress
	outcomeOrphaned
)

func (w *Watchdog) reconcile(ctx context.Context, pending *domain.Artifact) (sweepOutcome, error) {
	arts := w.deps.Store.Artifacts
	job, err := w.deps.Store.Jobs.GetByID(ctx, pending.JobID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && job.Status.Terminal()) {
		if _, err := arts.Delete(ctx, pending.Key()); err != nil {
			return outcomeError, err
		}
		return outcomeOrphaned, nil
	}
	if err != nil {
		return outcomeError, err
	}

	scene := pending.SceneIndexOrDefault()
	providerName := jsoncfg.String(pending.Metadata, "provider")
	age := w.deps.Now().Sub(submittedAt(pending))
	if age > w.cfg.MaxPendingAge {
		cause := providers.Timeout(providerName, "clip for scene %d unresolved after %s", scene, age.Truncate(time.Second))
		if err := w.deps.Resolver.Fail(ctx, job, pending, cause, "watchdog"); err != nil {
			return outcomeError, err
		}
		return outcomeTimedOut, nil
	}

	provider, err := w.deps.Clips.Get(providerName)
	if err != nil {
		return outcomeError, err
	}
	handle := jsoncfg.String(pending.Metadata, "handle")
	status, err := callguard.Do(ctx, w.deps.Guards.For(provider.Name()), func(ctx context.Context) (*video.ClipStatus, error) {
		return provider.Status(ctx, handle)
	})
	if err != nil {
		return outcomeError, fmt.Errorf("status of %s: %w", handle, err)
	}
	if !status.Terminal() {
		return outcomeInProgress, nil
	}
	if _, err := w.deps.Resolver.Apply(ctx, job, pending, status, "watchdog"); err != nil {
		return outcomeError, err
	}
	return outcomeResolved, nil
}

// restartStalled re-invokes clip stages that have nothing in flight and have
// not moved for StallAfter.
func (w *Watchdog) restartStalled(ctx context.Context) (int, error) {
	stage := domain.StageVideoClipGeneration
	jobs, err := w.deps.Store.Jobs.ListStalled(ctx, stage, w.deps.Now().Add(-w.cfg.StallAfter))
	if err != nil {
		return 0, fmt.Errorf("list stalled jobs: %w", err)
	}
	restarted := 0
	for _, job := range jobs {
		n, err := w.deps.Store.Artifacts.CountByType(ctx, job.ID, domain.ArtifactVideoClipPending)
		if err != nil {
			return restarted, err
		}
		if n > 0 {
			continue
		}
		w.deps.Logger.Info().Str("job_id", job.ID).Msg("restarting stalled clip stage")
		if err := w.deps.Runner.Run(ctx, RunRequest{ProjectID: job.ProjectID, JobID: job.ID, ResumeStep: stage}); err != nil {
			w.deps.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("restart stalled job")
			continue
		}
		restarted++
	}
	return restarted, nil
}

func submittedAt(a *domain.Artifact) time.Time {
	if raw := jsoncfg.String(a.Metadata, "submitted_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	return a.CreatedAt
}
