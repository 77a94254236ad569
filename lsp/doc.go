// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements the protocol engine that codenav uses to talk to
// external language servers (gopls, rust-analyzer, etc.) over stdio.
//
// The engine is deliberately narrow: it frames and correlates JSON-RPC
// traffic, performs the initialize handshake, keeps per-document diagnostics
// published by the server, and exposes the small query vocabulary the rest
// of codenav needs (references, definition, hover, applyEdit). Language
// analysis itself always happens in the child process.
//
// # Components
//
//   - Framer: incremental Content-Length frame decoder/encoder
//   - Protocol: request/response correlation and notification dispatch
//   - Server: one child process bound to one Protocol for its whole lifetime
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction. The
// read side of a Protocol is single-goroutine by design: only ReadLoop
// touches the framer buffer, and the pending-request table is guarded by
// one mutex held only for table updates, never across I/O.
//
// # Example
//
//	srv := lsp.NewServer(lsp.ServerConfig{
//	    Name:    "go",
//	    Command: "gopls",
//	    Args:    []string{"serve"},
//	    RootDir: "/path/to/project",
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	locs, err := srv.Definition(ctx, "/path/to/file.go", lsp.Position{Line: 9, Character: 5})
package lsp
