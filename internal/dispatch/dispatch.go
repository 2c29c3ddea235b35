// Package dispatch runs background work on a bounded goroutine pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatch: closed")

// Dispatcher executes tasks on an ants pool. Tasks get a context that is
// independent of the submitter and cancelled only when Close gives up
// waiting.
type Dispatcher struct {
	pool   *ants.Pool
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type taskKey struct{}

// New builds a dispatcher with size workers.
func New(size int, logger zerolog.Logger) (*Dispatcher, error) {
	if size < 1 {
		size = 1
	}
	panicHandler := func(p interface{}) {
		logger.Error().Interface("panic", p).Msg("dispatch task panicked")
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(panicHandler), ants.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("dispatch: create pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{pool: pool, logger: logger, cancel: cancel}
	d.ctx = context.WithValue(ctx, taskKey{}, d)
	return d, nil
}

// InTask reports whether ctx belongs to a task running on d. Work started
// from such a task must not be submitted back to d: with every worker busy
// the nested Submit would wait on itself.
func (d *Dispatcher) InTask(ctx context.Context) bool {
	owner, _ := ctx.Value(taskKey{}).(*Dispatcher)
	return owner == d
}

// Submit queues task. It blocks while every worker is busy, so it must not
// be called from inside a task of the same dispatcher (see InTask).
func (d *Dispatcher) Submit(name string, task func(ctx context.Context)) error {
	// The lock only orders wg.Add before Close's Wait; it is not held while
	// the pool blocks.
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	err := d.pool.Submit(func() {
		defer d.wg.Done()
		start := time.Now()
		task(d.ctx)
		d.logger.Debug().Str("task", name).Dur("took", time.Since(start)).Msg("dispatch task done")
	})
	if err != nil {
		d.wg.Done()
		return fmt.Errorf("dispatch: submit %s: %w", name, err)
	}
	return nil
}

// Running reports the number of busy workers.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close stops accepting tasks and waits for running ones until ctx expires,
// then cancels them.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		d.cancel()
		<-done
	}
	d.cancel()
	d.pool.Release()
	return err
}
