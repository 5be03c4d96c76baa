// Package gate provides process-wide admission control for activities that
// call external services. A gate bounds how many external-call units may
// execute at once; the default capacity of 1 gives full mutual exclusion,
// which keeps reliability testing against a single external dependency
// simple.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultAcquireTimeout bounds how long an acquirer waits for a slot.
const DefaultAcquireTimeout = 5 * time.Minute

// ErrAcquireTimeout is returned when a slot does not free up within the
// acquire timeout. It signals transient contention, not a permanent failure,
// so callers may treat it as retryable.
var ErrAcquireTimeout = errors.New("gate: timed out acquiring slot")

// HeartbeatFunc is invoked when a slot is acquired so long waits stay
// visible to host-level liveness checks.
type HeartbeatFunc func(ctx context.Context)

// Gate is a semaphore-backed admission control primitive. It lives for the
// lifetime of the worker process and has no teardown.
type Gate struct {
	sem       *semaphore.Weighted
	capacity  int64
	heartbeat HeartbeatFunc

	held    atomic.Int64
	waiters atomic.Int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithHeartbeat sets the heartbeat callback fired on each acquisition.
func WithHeartbeat(fn HeartbeatFunc) Option {
	return func(g *Gate) {
		g.heartbeat = fn
	}
}

// New creates a Gate with the given capacity. Capacity values below 1 are
// coerced to 1.
func New(capacity int, opts ...Option) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var (
	defaultGate *Gate
	defaultOnce sync.Once
)

// Default returns the process-wide gate, lazily created on first use with
// capacity 1.
func Default() *Gate {
	defaultOnce.Do(func() {
		defaultGate = New(1)
	})
	return defaultGate
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Acquire blocks until a slot is free, the timeout elapses, or ctx is
// cancelled. A zero or negative timeout falls back to DefaultAcquireTimeout.
// On success the heartbeat callback fires, and the caller must Release.
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g.waiters.Add(1)
	err := g.sem.Acquire(acquireCtx, 1)
	g.waiters.Add(-1)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("gate: acquire cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("%w (timeout %s)", ErrAcquireTimeout, timeout)
	}

	g.held.Add(1)
	if g.heartbeat != nil {
		g.heartbeat(ctx)
	}
	return nil
}

// Release frees a slot. It is unconditional and must run even if the
// guarded operation failed.
func (g *Gate) Release() {
	g.held.Add(-1)
	g.sem.Release(1)
}

// With runs fn while holding a slot, releasing it on every exit path
// including panics.
func (g *Gate) With(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// Stats reports the current holder and waiter counts for observability.
func (g *Gate) Stats() (held, waiting int) {
	return int(g.held.Load()), int(g.waiters.Load())
}
