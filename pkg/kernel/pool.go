// Package kernel assembles the runtime. The request path turns one user
// message into a reply by running the message graph under the session's
// request slot; the background path feeds scheduler-produced tasks through
// the priority queue into typed handlers. Start wires both to one process
// lifetime, Stop drains them in reverse order.
package kernel

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
)

// Pool runs detached background work at a bounded concurrency. Spawn returns
// immediately; the work runs under the pool's own context, so a request that
// spawned it may finish or fail without cancelling it. Only process shutdown
// cancels pool work.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	active  atomic.Int64
	spawned atomic.Int64
	dropped atomic.Int64
}

var _ graph.Spawner = (*Pool)(nil)

// NewPool creates a pool sized by the runtime config. The pool is inert
// until Start.
func NewPool(cfg *config.RuntimeConfig) *Pool {
	if cfg == nil {
		cfg = config.DefaultRuntimeConfig()
	}
	size := cfg.PoolSize()
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: slog.Default().With("component", "kernel.pool"),
	}
}

// Start arms the pool with its lifetime context. Calling Start on a running
// pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.baseCtx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.logger.Info("Background pool started", "size", p.size)
}

// Spawn queues fn for execution and returns immediately. The callback
// receives the pool's context, not the caller's. Work spawned after Stop is
// dropped with a warning rather than silently lost.
func (p *Pool) Spawn(name string, fn func(ctx context.Context)) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		p.dropped.Add(1)
		p.logger.Warn("Background work dropped, pool not running", "work", name)
		return
	}
	ctx := p.baseCtx
	p.wg.Add(1)
	p.spawned.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.dropped.Add(1)
			p.logger.Warn("Background work dropped at shutdown", "work", name)
			return
		}
		defer p.sem.Release(1)

		p.active.Add(1)
		defer p.active.Add(-1)

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Background work panicked",
					"work", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		start := time.Now()
		fn(ctx)
		p.logger.Debug("Background work finished",
			"work", name, "elapsed", time.Since(start))
	}()
}

// Stop waits up to timeout for in-flight work to finish, then cancels the
// pool context so stragglers abort. After Stop the pool drops new spawns.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("Background work still running at shutdown",
			"waited", timeout, "active", p.active.Load())
	}
	cancel()
}

// PoolStats is a point-in-time view for health reporting.
type PoolStats struct {
	Size    int   `json:"size"`
	Active  int64 `json:"active"`
	Spawned int64 `json:"spawned"`
	Dropped int64 `json:"dropped"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:    p.size,
		Active:  p.active.Load(),
		Spawned: p.spawned.Load(),
		Dropped: p.dropped.Load(),
	}
}
