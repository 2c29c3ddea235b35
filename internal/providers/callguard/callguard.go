// Package callguard wraps collaborator calls with bounded retries and a
// per-provider circuit breaker.
package callguard

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"shortgen/internal/domain"
	"shortgen/internal/providers"
)

// Policy bounds retries for one provider.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RateLimitWait is used when a rate-limited response carries no Retry-After.
	RateLimitWait time.Duration
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// DefaultPolicy is used for every provider unless overridden.
func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		RateLimitWait:   5 * time.Second,
		BreakerTimeout:  30 * time.Second,
	}
}

// Guard protects calls to a single provider.
type Guard struct {
	name   string
	policy Policy
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
}

// New builds a guard with a breaker that trips once at least three calls in
// the window failed at a 60% ratio.
func New(name string, policy Policy, logger zerolog.Logger) *Guard {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     policy.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Only upstream health problems count against the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch domain.KindOf(err) {
			case domain.KindTransient, domain.KindRateLimited, domain.KindTimeout:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Guard{name: name, policy: policy, cb: cb, logger: logger}
}

// Name returns the provider the guard protects.
func (g *Guard) Name() string {
	return g.name
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

// Do runs op through the breaker, retrying transient and rate-limited
// failures. Any other failure is returned on the first attempt.
func Do[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		var zero T
		out, err := g.cb.Execute(func() (interface{}, error) {
			return op(ctx)
		})
		if err != nil {
			return zero, g.classify(err)
		}
		v, _ := out.(T)
		return v, nil
	}

	b := backoff.NewExponentialBackOff()
	if g.policy.InitialInterval > 0 {
		b.InitialInterval = g.policy.InitialInterval
	}
	if g.policy.MaxInterval > 0 {
		b.MaxInterval = g.policy.MaxInterval
	}
	tries := g.policy.MaxTries
	if tries == 0 {
		tries = 1
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn().Err(err).Str("provider", g.name).Int("attempt", attempt).Dur("retry_in", next).Msg("provider call failed, retrying")
		}),
	)
	if err != nil {
		return res, unwrapPermanent(err)
	}
	return res, nil
}

func (g *Guard) classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &providers.Error{Category: domain.KindTransient, Provider: g.name, Message: "circuit open", Err: err}
	}
	switch domain.KindOf(err) {
	case domain.KindTransient:
		return err
	case domain.KindRateLimited:
		wait := g.policy.RateLimitWait
		var pe *providers.Error
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = pe.RetryAfter
		}
		return errors.Join(err, backoff.RetryAfter(int(math.Ceil(wait.Seconds()))))
	default:
		return backoff.Permanent(err)
	}
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

// Set hands out one guard per provider name.
type Set struct {
	mu     sync.Mutex
	policy Policy
	logger zerolog.Logger
	guards map[string]*Guard
}

// NewSet builds guards lazily per provider name using policy.
func NewSet(policy Policy, logger zerolog.Logger) *Set {
	return &Set{policy: policy, logger: logger, guards: make(map[string]*Guard)}
}

// For returns the guard of provider, creating it on first use.
func (s *Set) For(provider string) *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[provider]
	if !ok {
		g = New(provider, s.policy, s.logger)
		s.guards[provider] = g
	}
	return g
}
