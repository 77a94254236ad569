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

	"github.com/AleutianAI/codenav/config"
	"github.com/AleutianAI/codenav/lsp"
)

// janitorInterval is the cadence of the idle-eviction sweep.
const janitorInterval = 30 * time.Second

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds one pool per (tool, workspace root) pair and runs the
// shared janitor that evicts idle processes across all of them.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	servers *config.ServerRegistry

	mu     sync.Mutex
	pools  map[poolKey]*Pool
	closed bool

	janitorOnce sync.Once
	janitorStop chan struct{}

	logger *slog.Logger
}

type poolKey struct {
	tool string
	root string
}

// NewRegistry creates a registry over a server configuration.
//
// Inputs:
//
//	servers - The loaded server registry
//
// Outputs:
//
//	*Registry - The registry, with no pools yet
func NewRegistry(servers *config.ServerRegistry) *Registry {
	return &Registry{
		servers:     servers,
		pools:       make(map[poolKey]*Pool),
		janitorStop: make(chan struct{}),
		logger:      slog.Default().With(slog.String("component", "pool_registry")),
	}
}

// PoolFor returns the pool for a tool and workspace root, creating it on
// first use.
//
// Description:
//
//	The pool's ceiling and idle timeout come from the tool's server
//	configuration. Creating a pool never spawns a process; the first
//	janitor sweep is also armed here.
//
// Inputs:
//
//	tool - The configured tool name (e.g., "go")
//	root - Absolute workspace root
//
// Outputs:
//
//	*Pool - The pool for the pair
//	error - ErrUnknownTool if no configuration exists for the tool, or
//	        ErrRegistryClosed after shutdown
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *Registry) PoolFor(tool, root string) (*Pool, error) {
	cfg, ok := r.servers.Get(tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	key := poolKey{tool: tool, root: root}
	if p, ok := r.pools[key]; ok {
		return p, nil
	}

	p, err := New(Config{
		Tool:        tool,
		Root:        root,
		Ceiling:     cfg.MaxProcesses,
		IdleTimeout: cfg.IdleTimeout.Std(),
		Factory:     engineFactory(cfg, root),
	})
	if err != nil {
		return nil, err
	}
	r.pools[key] = p

	r.logger.Info("created pool",
		slog.String("tool", tool),
		slog.String("root", root),
	)

	r.janitorOnce.Do(func() { go r.janitor() })
	return p, nil
}

// SessionFor returns a session over the pool for a tool and root.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *Registry) SessionFor(tool, root string) (*Session, error) {
	cfg, ok := r.servers.Get(tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	p, err := r.PoolFor(tool, root)
	if err != nil {
		return nil, err
	}
	return NewSession(p, cfg.LanguageID), nil
}

// SessionForPath resolves the tool from the file's extension and returns
// a session for it.
func (r *Registry) SessionForPath(path, root string) (*Session, error) {
	tool, ok := r.servers.ForPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: no tool handles %s", ErrUnknownTool, path)
	}
	return r.SessionFor(tool, root)
}

// Stats returns a snapshot of every pool.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(pools))
	for _, p := range pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// janitor sweeps every pool for idle processes on a fixed cadence.
func (r *Registry) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.janitorStop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep runs one idle-eviction pass over all pools.
func (r *Registry) sweep() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	evicted := 0
	for _, p := range pools {
		evicted += p.CleanupIdle()
	}
	if evicted > 0 {
		r.logger.Debug("janitor sweep evicted idle processes",
			slog.Int("evicted", evicted),
		)
	}
}

// ShutdownAll shuts down every pool and stops the janitor.
//
// Description:
//
//	Pools shut down concurrently; the first error is returned after all
//	have finished. Idempotent.
//
// Inputs:
//
//	ctx - Context bounding the whole shutdown
//
// Outputs:
//
//	error - The first pool shutdown error, if any
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.janitorStop)
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[poolKey]*Pool)
	r.mu.Unlock()

	r.logger.Info("shutting down all pools", slog.Int("pools", len(pools)))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pools {
		p := p
		g.Go(func() error {
			return p.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// engineFactory builds the factory that creates engines for one tool and
// root.
func engineFactory(cfg *config.ServerConfig, root string) EngineFactory {
	return func() Engine {
		var initOpts interface{}
		if cfg.InitializationOptions != nil {
			initOpts = cfg.InitializationOptions
		}
		return lsp.NewServer(lsp.ServerConfig{
			Name:                  cfg.Name,
			Command:               cfg.Command,
			Args:                  cfg.Args,
			RootDir:               root,
			InitializationOptions: initOpts,
		})
	}
}
