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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/codenav/lsp"
)

// Engine is the protocol engine a pooled process drives. *lsp.Server
// satisfies it; tests substitute fakes.
type Engine interface {
	// Start spawns the process and performs the initialize handshake.
	Start(ctx context.Context) error

	// Shutdown terminates the process gracefully.
	Shutdown(ctx context.Context) error

	// Done is closed when the process has exited for any reason.
	Done() <-chan struct{}

	// OpenDocument opens a document on the server.
	OpenDocument(path, languageID, content string) error

	// UpdateDocument replaces a document's content.
	UpdateDocument(path, content string) error

	// CloseDocument closes a document and evicts its diagnostics.
	CloseDocument(path string) error

	// IsOpen reports whether a document is open on the server.
	IsOpen(path string) bool

	// References finds references to the symbol at a position.
	References(ctx context.Context, path string, pos lsp.Position) ([]lsp.Location, error)

	// Definition finds the definition of the symbol at a position.
	Definition(ctx context.Context, path string, pos lsp.Position) ([]lsp.Location, error)

	// Hover fetches documentation for the symbol at a position.
	Hover(ctx context.Context, path string, pos lsp.Position) (*lsp.HoverInfo, error)

	// Diagnostics returns the latest published diagnostics for a document.
	Diagnostics(path string) []lsp.Diagnostic

	// ApplyEdit applies a structured workspace edit.
	ApplyEdit(ctx context.Context, label string, edit lsp.WorkspaceEdit) (*lsp.ApplyEditResult, error)
}

// EngineFactory constructs a fresh, unstarted engine for a pool slot.
type EngineFactory func() Engine

// =============================================================================
// PROCESS STATE
// =============================================================================

// ProcessState is the lifecycle state of a pool slot.
type ProcessState int

const (
	// StateIdle means the process is available for acquisition.
	StateIdle ProcessState = iota

	// StateInUse means exactly one session holds the process.
	StateInUse

	// StateRemoved means the process left the pool (evicted, crashed, or
	// shut down) and will never be handed out again.
	StateRemoved
)

// String returns a human-readable state name.
func (s ProcessState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// =============================================================================
// POOLED PROCESS
// =============================================================================

// PooledProcess is one slot in a Pool: an engine plus the bookkeeping the
// pool needs. The engine starts lazily; constructing a slot never spawns
// an OS process.
//
// Thread Safety:
//
//	state and lastReleased are guarded by the owning pool's mutex. The
//	startOnce gate makes EnsureStarted safe to call from any goroutine.
type PooledProcess struct {
	id     string
	engine Engine

	// state and lastReleased are owned by the pool's mutex.
	state        ProcessState
	lastReleased time.Time

	startOnce sync.Once
	startErr  error

	// watchOnce gates exit-watcher registration to the first successful
	// start.
	watchOnce sync.Once
}

func newPooledProcess(engine Engine) *PooledProcess {
	return &PooledProcess{
		id:     uuid.NewString(),
		engine: engine,
		state:  StateInUse,
	}
}

// ID returns the slot's unique identifier.
func (p *PooledProcess) ID() string {
	return p.id
}

// Engine returns the slot's engine. Callers must hold the slot (state
// InUse) before operating on it.
func (p *PooledProcess) Engine() Engine {
	return p.engine
}

// EnsureStarted starts the engine exactly once.
//
// Description:
//
//	The first caller spawns the process and runs the handshake; every
//	later caller gets the same result. A slot whose start failed is
//	poisoned: it keeps returning the original error and must be removed
//	from the pool.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *PooledProcess) EnsureStarted(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.engine.Start(ctx)
	})
	return p.startErr
}
