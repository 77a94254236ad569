// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults applied when Config leaves the knobs zero.
const (
	// DefaultCeiling is the maximum concurrent processes per pool.
	DefaultCeiling = 4

	// DefaultIdleTimeout is how long a process may sit idle before the
	// janitor evicts it.
	DefaultIdleTimeout = 5 * time.Minute

	// removeGrace bounds the graceful shutdown of an explicitly discarded
	// process (handshake failure, release after close).
	removeGrace = 10 * time.Second

	// evictGrace bounds the graceful shutdown of a janitor eviction. An
	// idle process holds no in-flight work, so there is nothing worth
	// waiting long for before the kill.
	evictGrace = time.Second
)

// Config describes one pool.
type Config struct {
	// Tool identifies the language server (e.g., "go", "rust").
	Tool string

	// Root is the absolute workspace root all processes share.
	Root string

	// Ceiling is the maximum number of live processes. Zero means
	// DefaultCeiling.
	Ceiling int

	// IdleTimeout is the eviction deadline for idle processes. Zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Factory constructs a fresh engine for a new slot. Required.
	Factory EngineFactory
}

// =============================================================================
// POOL
// =============================================================================

// Pool is a bounded set of language server processes for one tool and
// workspace root.
//
// Description:
//
//	Acquire hands out idle processes first, spawns new slots while under
//	the ceiling, and blocks otherwise. Release returns a process for
//	reuse. Crashed processes are removed as soon as their exit watcher
//	fires, freeing their slot for waiters.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	procs map[string]*PooledProcess

	// avail is closed and replaced to broadcast "a slot may be free".
	// Waiters re-check pool state after each broadcast.
	avail chan struct{}

	closed bool

	logger *slog.Logger
}

// New creates a pool.
//
// Inputs:
//
//	cfg - Pool configuration; Factory is required
//
// Outputs:
//
//	*Pool - The pool, with no processes spawned yet
//	error - Non-nil if the configuration is invalid
func New(cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("pool config: Factory is required")
	}
	if cfg.Ceiling < 0 {
		return nil, fmt.Errorf("pool config: negative ceiling %d", cfg.Ceiling)
	}
	if cfg.Ceiling == 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	return &Pool{
		cfg:   cfg,
		procs: make(map[string]*PooledProcess),
		avail: make(chan struct{}),
		logger: slog.Default().With(
			slog.String("pool_tool", cfg.Tool),
			slog.String("pool_root", cfg.Root),
		),
	}, nil
}

// Tool returns the tool this pool serves.
func (p *Pool) Tool() string {
	return p.cfg.Tool
}

// Root returns the workspace root this pool serves.
func (p *Pool) Root() string {
	return p.cfg.Root
}

// Acquire obtains a process for exclusive use.
//
// Description:
//
//	Returns an idle process when one exists, creates a new slot while
//	the live count is under the ceiling, and otherwise blocks until a
//	slot frees or ctx expires. The returned process is not necessarily
//	started; callers go through Session, which starts it on first use.
//
// Inputs:
//
//	ctx - Context bounding the wait
//
// Outputs:
//
//	*PooledProcess - The acquired slot, in state InUse
//	error - ErrPoolClosed, or ctx.Err() if the wait timed out
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) Acquire(ctx context.Context) (*PooledProcess, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	waitStart := time.Now()
	waited := false

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if proc := p.idleLocked(); proc != nil {
			proc.state = StateInUse
			p.updateSizeGaugesLocked()
			p.mu.Unlock()
			p.recordAcquire("idle", waited, time.Since(waitStart))
			return proc, nil
		}

		if len(p.procs) < p.cfg.Ceiling {
			proc := newPooledProcess(p.cfg.Factory())
			p.procs[proc.id] = proc
			p.updateSizeGaugesLocked()
			p.mu.Unlock()
			p.logger.Debug("created pool slot", slog.String("process_id", proc.id))
			p.recordAcquire("spawn", waited, time.Since(waitStart))
			return proc, nil
		}

		wait := p.avail
		p.mu.Unlock()

		waited = true
		select {
		case <-ctx.Done():
			p.recordAcquire("timeout", true, time.Since(waitStart))
			return nil, fmt.Errorf("waiting for pool slot: %w", ctx.Err())
		case <-wait:
			// A slot may have freed; loop and re-check.
		}
	}
}

// Release returns a process to the pool for reuse.
//
// Description:
//
//	Marks the process idle, stamps its release time for the idle
//	eviction clock, and wakes waiters. Releasing a removed process is a
//	no-op, which makes the session's unconditional deferred release safe
//	after a crash or handshake failure.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) Release(proc *PooledProcess) {
	p.mu.Lock()
	if proc.state != StateInUse {
		p.mu.Unlock()
		return
	}

	if p.closed {
		// Shutdown won the race; this process is no longer tracked.
		proc.state = StateRemoved
		p.mu.Unlock()
		p.shutdownEngine(proc, removeGrace)
		return
	}

	proc.state = StateIdle
	proc.lastReleased = time.Now()
	p.updateSizeGaugesLocked()
	p.broadcastLocked()
	p.mu.Unlock()
}

// Remove takes a process out of the pool permanently.
//
// Description:
//
//	Used for handshake failures and explicit discards. The slot frees
//	immediately; the engine is shut down in the background. Idempotent.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) Remove(proc *PooledProcess) {
	p.mu.Lock()
	if proc.state == StateRemoved {
		p.mu.Unlock()
		return
	}
	proc.state = StateRemoved
	delete(p.procs, proc.id)
	p.updateSizeGaugesLocked()
	p.broadcastLocked()
	p.mu.Unlock()

	p.logger.Debug("removed pool slot", slog.String("process_id", proc.id))
	go p.shutdownEngine(proc, removeGrace)
}

// startProcess starts a slot's engine on first use and registers its exit
// watcher. A slot whose handshake fails is removed so the next acquisition
// gets a fresh one.
func (p *Pool) startProcess(ctx context.Context, proc *PooledProcess) error {
	if err := proc.EnsureStarted(ctx); err != nil {
		p.Remove(proc)
		return err
	}
	proc.watchOnce.Do(func() { p.watchExit(proc) })
	return nil
}

// watchExit arranges crash detection for a started process. Registered
// exactly once per slot, right after its only successful start.
func (p *Pool) watchExit(proc *PooledProcess) {
	go func() {
		<-proc.engine.Done()

		p.mu.Lock()
		if p.closed || proc.state == StateRemoved {
			p.mu.Unlock()
			return
		}
		proc.state = StateRemoved
		delete(p.procs, proc.id)
		p.updateSizeGaugesLocked()
		p.broadcastLocked()
		p.mu.Unlock()

		p.logger.Warn("pool process exited; slot freed",
			slog.String("process_id", proc.id),
		)
		recordCrash(p.cfg.Tool)
	}()
}

// CleanupIdle evicts processes idle longer than the pool's idle timeout.
//
// Description:
//
//	Called by the registry janitor on a fixed cadence. In-use processes
//	are never touched regardless of age. Returns the number evicted.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) CleanupIdle() int {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	var evicted []*PooledProcess
	for id, proc := range p.procs {
		if proc.state == StateIdle && now.Sub(proc.lastReleased) >= p.cfg.IdleTimeout {
			proc.state = StateRemoved
			delete(p.procs, id)
			evicted = append(evicted, proc)
		}
	}
	if len(evicted) > 0 {
		p.updateSizeGaugesLocked()
		p.broadcastLocked()
	}
	p.mu.Unlock()

	for _, proc := range evicted {
		p.logger.Info("evicting idle pool process",
			slog.String("process_id", proc.ID()),
		)
		recordEviction(p.cfg.Tool)
		go p.shutdownEngine(proc, evictGrace)
	}
	return len(evicted)
}

// Shutdown terminates every process and closes the pool.
//
// Description:
//
//	Later acquisitions and waiters in flight fail with ErrPoolClosed.
//	Processes still in use are shut down too; their sessions will see
//	transport errors. Idempotent.
//
// Inputs:
//
//	ctx - Context bounding the whole shutdown
//
// Outputs:
//
//	error - The first shutdown error encountered, if any
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	procs := make([]*PooledProcess, 0, len(p.procs))
	for id, proc := range p.procs {
		proc.state = StateRemoved
		delete(p.procs, id)
		procs = append(procs, proc)
	}
	p.updateSizeGaugesLocked()
	p.broadcastLocked()
	p.mu.Unlock()

	p.logger.Info("shutting down pool", slog.Int("processes", len(procs)))

	g, gctx := errgroup.WithContext(ctx)
	for _, proc := range procs {
		proc := proc
		g.Go(func() error {
			return proc.engine.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// =============================================================================
// STATS
// =============================================================================

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	// Tool is the tool this pool serves.
	Tool string

	// Root is the workspace root this pool serves.
	Root string

	// Total is the number of live slots.
	Total int

	// Idle is the number of slots available for acquisition.
	Idle int

	// InUse is the number of slots currently held by sessions.
	InUse int
}

// Stats returns a snapshot of the pool.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Tool: p.cfg.Tool, Root: p.cfg.Root, Total: len(p.procs)}
	for _, proc := range p.procs {
		switch proc.state {
		case StateIdle:
			st.Idle++
		case StateInUse:
			st.InUse++
		}
	}
	return st
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// idleLocked returns an idle process, preferring the most recently
// released one so cold processes age toward eviction. Caller holds p.mu.
func (p *Pool) idleLocked() *PooledProcess {
	var best *PooledProcess
	for _, proc := range p.procs {
		if proc.state != StateIdle {
			continue
		}
		if best == nil || proc.lastReleased.After(best.lastReleased) {
			best = proc
		}
	}
	return best
}

// broadcastLocked wakes every goroutine blocked in Acquire. Caller holds p.mu.
func (p *Pool) broadcastLocked() {
	close(p.avail)
	p.avail = make(chan struct{})
}

// updateSizeGaugesLocked refreshes the size gauges. Caller holds p.mu.
func (p *Pool) updateSizeGaugesLocked() {
	idle, inUse := 0, 0
	for _, proc := range p.procs {
		switch proc.state {
		case StateIdle:
			idle++
		case StateInUse:
			inUse++
		}
	}
	setPoolSize(p.cfg.Tool, idle, inUse)
}

// shutdownEngine shuts one engine down with a bounded grace period.
func (p *Pool) shutdownEngine(proc *PooledProcess, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := proc.engine.Shutdown(ctx); err != nil {
		p.logger.Warn("engine shutdown failed",
			slog.String("process_id", proc.ID()),
			slog.Any("error", err),
		)
	}
}

// recordAcquire records acquisition metrics.
func (p *Pool) recordAcquire(outcome string, waited bool, waitDur time.Duration) {
	recordAcquire(p.cfg.Tool, outcome)
	if waited {
		observeAcquireWait(p.cfg.Tool, waitDur.Seconds())
	}
}
