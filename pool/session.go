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
	"os"
	"time"

	"github.com/AleutianAI/codenav/lsp"
)

// defaultIndexWait is how long a session pauses after opening a document
// on a freshly used process, giving the server a moment to index before
// the first positional query.
const defaultIndexWait = 200 * time.Millisecond

// =============================================================================
// SESSION
// =============================================================================

// Session runs language queries against a pool with scoped acquisition:
// every operation acquires a process, ensures it is started and has the
// document open, runs, and releases the process on the way out, success
// or failure.
//
// Description:
//
//	Sessions are cheap and stateless apart from their configuration;
//	create one per tool and share it freely. Positions at this layer are
//	1-indexed lines and columns, converted to the 0-indexed wire format
//	internally.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Session struct {
	pool *Pool

	// languageID is the LSP language identifier sent with didOpen.
	languageID string

	// indexWait is the pause after a didOpen before querying. Zero means
	// defaultIndexWait.
	indexWait time.Duration
}

// NewSession creates a session over a pool.
//
// Inputs:
//
//	p - The pool to draw processes from
//	languageID - LSP language identifier for opened documents (e.g., "go")
//
// Outputs:
//
//	*Session - The session
func NewSession(p *Pool, languageID string) *Session {
	return &Session{
		pool:       p,
		languageID: languageID,
		indexWait:  defaultIndexWait,
	}
}

// WithProcess runs fn with an exclusively held, started engine.
//
// Description:
//
//	Acquires a process, starts it if this is its first use, runs fn, and
//	releases the process unconditionally. A process whose start or
//	handshake failed is removed from the pool before the error is
//	returned, so the failure does not poison later acquisitions.
//
// Inputs:
//
//	ctx - Context bounding acquisition, startup, and fn
//	fn - The work to run against the engine
//
// Outputs:
//
//	error - Acquisition, startup, or fn's error
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Session) WithProcess(ctx context.Context, fn func(ctx context.Context, eng Engine) error) error {
	proc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(proc)

	if err := s.pool.startProcess(ctx, proc); err != nil {
		return fmt.Errorf("start pooled process: %w", err)
	}

	return fn(ctx, proc.Engine())
}

// ensureOpen opens path on the engine from disk if it is not open yet.
// Returns true if this call performed the open.
func (s *Session) ensureOpen(eng Engine, path string) (bool, error) {
	if eng.IsOpen(path) {
		return false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read document: %w", err)
	}
	if err := eng.OpenDocument(path, s.languageID, string(content)); err != nil {
		return false, err
	}
	return true, nil
}

// settleAfterOpen gives the server time to index a freshly opened document.
func (s *Session) settleAfterOpen(ctx context.Context, opened bool) {
	if !opened {
		return
	}
	wait := s.indexWait
	if wait == 0 {
		wait = defaultIndexWait
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// References finds all references to the symbol at a position.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	path - Absolute file path
//	line - 1-indexed line number
//	column - 1-indexed column number
//
// Outputs:
//
//	[]lsp.Location - Reference locations; empty if none
//	error - Non-nil on acquisition, startup, or query failure
func (s *Session) References(ctx context.Context, path string, line, column int) ([]lsp.Location, error) {
	var locations []lsp.Location
	err := s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		opened, err := s.ensureOpen(eng, path)
		if err != nil {
			return err
		}
		s.settleAfterOpen(ctx, opened)

		locations, err = eng.References(ctx, path, wirePosition(line, column))
		return err
	})
	return locations, err
}

// Definition finds the definition of the symbol at a position.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	path - Absolute file path
//	line - 1-indexed line number
//	column - 1-indexed column number
//
// Outputs:
//
//	[]lsp.Location - Definition locations (usually one); empty if unknown
//	error - Non-nil on acquisition, startup, or query failure
func (s *Session) Definition(ctx context.Context, path string, line, column int) ([]lsp.Location, error) {
	var locations []lsp.Location
	err := s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		opened, err := s.ensureOpen(eng, path)
		if err != nil {
			return err
		}
		s.settleAfterOpen(ctx, opened)

		locations, err = eng.Definition(ctx, path, wirePosition(line, column))
		return err
	})
	return locations, err
}

// Hover fetches documentation for the symbol at a position.
//
// Outputs:
//
//	*lsp.HoverInfo - Hover content, or nil if the server had nothing
//	error - Non-nil on acquisition, startup, or query failure
func (s *Session) Hover(ctx context.Context, path string, line, column int) (*lsp.HoverInfo, error) {
	var info *lsp.HoverInfo
	err := s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		opened, err := s.ensureOpen(eng, path)
		if err != nil {
			return err
		}
		s.settleAfterOpen(ctx, opened)

		info, err = eng.Hover(ctx, path, wirePosition(line, column))
		return err
	})
	return info, err
}

// Diagnostics returns the latest diagnostics published for a file.
//
// Description:
//
//	Opens the document if needed and waits briefly for the server to
//	publish, since diagnostics arrive asynchronously after didOpen.
//
// Outputs:
//
//	[]lsp.Diagnostic - The current set; empty when the file is clean
//	error - Non-nil on acquisition or startup failure
func (s *Session) Diagnostics(ctx context.Context, path string) ([]lsp.Diagnostic, error) {
	var diags []lsp.Diagnostic
	err := s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		opened, err := s.ensureOpen(eng, path)
		if err != nil {
			return err
		}
		s.settleAfterOpen(ctx, opened)

		diags = eng.Diagnostics(path)
		return nil
	})
	return diags, err
}

// UpdateDocument pushes new content for a file to the server.
//
// Description:
//
//	Opens the document with the given content if it was not open, or
//	sends a didChange with full replacement content if it was.
//
// Outputs:
//
//	error - Non-nil on acquisition, startup, or send failure
func (s *Session) UpdateDocument(ctx context.Context, path, content string) error {
	return s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		if !eng.IsOpen(path) {
			return eng.OpenDocument(path, s.languageID, content)
		}
		return eng.UpdateDocument(path, content)
	})
}

// ApplyEdit applies a structured workspace edit through the server.
//
// Outputs:
//
//	*lsp.ApplyEditResult - Applied flag plus failure reason
//	error - Non-nil on acquisition, startup, or request failure
func (s *Session) ApplyEdit(ctx context.Context, label string, edit lsp.WorkspaceEdit) (*lsp.ApplyEditResult, error) {
	var result *lsp.ApplyEditResult
	err := s.WithProcess(ctx, func(ctx context.Context, eng Engine) error {
		var err error
		result, err = eng.ApplyEdit(ctx, label, edit)
		return err
	})
	return result, err
}

// wirePosition converts 1-indexed line/column to the 0-indexed wire format.
func wirePosition(line, column int) lsp.Position {
	if line > 0 {
		line--
	}
	if column > 0 {
		column--
	}
	return lsp.Position{Line: line, Character: column}
}
