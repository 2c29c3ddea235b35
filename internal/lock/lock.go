// Package lock provides the per-job run lock and the cluster-wide sweep lock.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock stayed busy for the whole wait.
var ErrNotAcquired = errors.New("lock: not acquired")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// TryAcquire takes key for ttl without waiting.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// retryEvery is the polling interval while waiting for a busy lock.
const retryEvery = 100 * time.Millisecond

// Acquire waits up to wait for key to become free.
func Acquire(ctx context.Context, l Locker, key string, ttl, wait time.Duration) (Lease, error) {
	deadline := time.Now().Add(wait)
	for {
		lease, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		timer := time.NewTimer(retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// JobKey is the run lock of one job.
func JobKey(jobID string) string {
	return "shortgen:job:" + jobID
}

// SweepKey guards the watchdog sweep.
const SweepKey = "shortgen:watchdog:sweep"
