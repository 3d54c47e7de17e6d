// Package breaker isolates a misbehaving fetch engine behind a
// sony/gobreaker circuit breaker, one per engine name, so a single
// engine's outage turns into per-URL TransientErrors instead of a hot
// retry loop against a dead upstream.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/boringdata/kurt/pkg/kurterrors"
)

// Registry holds one circuit breaker per named engine, created lazily
// on first use with a shared Settings template.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
}

// NewRegistry builds a Registry. consecutiveFailureThreshold is how
// many consecutive failures trip an engine's breaker open; openTimeout
// is how long it stays open before allowing a trial request.
func NewRegistry(consecutiveFailureThreshold uint32, openTimeout time.Duration) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: func(name string) gobreaker.Settings {
			return gobreaker.Settings{
				Name:        name,
				MaxRequests: 1,
				Interval:    0,
				Timeout:     openTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= consecutiveFailureThreshold
				},
			}
		},
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(r.settings(name))
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named engine's breaker. When the
// breaker is open, it returns a TransientError without calling fn so
// callers keep propagating per-URL failures rather than blocking on a
// known-dead engine.
func (r *Registry) Execute(ctx context.Context, engineName string, fn func(ctx context.Context) (any, error)) (any, error) {
	cb := r.get(engineName)
	result, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, kurterrors.NewTransientError("fetch:"+engineName, err)
	}
	return result, err
}

// State reports an engine's current breaker state, for health/status
// reporting.
func (r *Registry) State(engineName string) gobreaker.State {
	return r.get(engineName).State()
}
