// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codenav/lsp"
	"github.com/AleutianAI/codenav/pool"
)

// queryTimeout bounds one CLI query end to end, including the server
// spawn and indexing on a cold pool.
const queryTimeout = 60 * time.Second

// withSession resolves the file's tool and workspace root, builds a
// one-shot registry, runs fn, and tears everything down.
func withSession(cmd *cobra.Command, path string, fn func(ctx context.Context, sess *pool.Session, abs string) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	root := rootDir
	if root == "" {
		root = filepath.Dir(abs)
	}

	reg := pool.NewRegistry(servers)
	defer func() {
		_ = reg.ShutdownAll(context.Background())
	}()

	sess, err := reg.SessionForPath(abs, root)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	defer cancel()
	return fn(ctx, sess, abs)
}

// parsePosition parses the 1-indexed line and column arguments.
func parsePosition(lineArg, colArg string) (int, int, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return 0, 0, fmt.Errorf("invalid line %q: must be a positive integer", lineArg)
	}
	col, err := strconv.Atoi(colArg)
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("invalid column %q: must be a positive integer", colArg)
	}
	return line, col, nil
}

// printLocations writes locations as file:line:col, converting back to
// 1-indexed positions.
func printLocations(cmd *cobra.Command, locations []lsp.Location) {
	for _, loc := range locations {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d:%d\n",
			lsp.URIToPath(loc.URI),
			loc.Range.Start.Line+1,
			loc.Range.Start.Character+1,
		)
	}
}

// runRefs finds references to the symbol at a position.
func runRefs(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withSession(cmd, args[0], func(ctx context.Context, sess *pool.Session, abs string) error {
		locations, err := sess.References(ctx, abs, line, col)
		if err != nil {
			return err
		}
		if len(locations) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no references found")
			return nil
		}
		printLocations(cmd, locations)
		return nil
	})
}

// runDef finds the definition of the symbol at a position.
func runDef(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withSession(cmd, args[0], func(ctx context.Context, sess *pool.Session, abs string) error {
		locations, err := sess.Definition(ctx, abs, line, col)
		if err != nil {
			return err
		}
		if len(locations) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no definition found")
			return nil
		}
		printLocations(cmd, locations)
		return nil
	})
}

// runHover shows documentation for the symbol at a position.
func runHover(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	return withSession(cmd, args[0], func(ctx context.Context, sess *pool.Session, abs string) error {
		info, err := sess.Hover(ctx, abs, line, col)
		if err != nil {
			return err
		}
		if info == nil || info.Content == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "no documentation found")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.Content)
		return nil
	})
}

// runDiag shows the current diagnostics for a file.
func runDiag(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], func(ctx context.Context, sess *pool.Session, abs string) error {
		diags, err := sess.Diagnostics(ctx, abs)
		if err != nil {
			return err
		}
		if len(diags) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no diagnostics")
			return nil
		}
		for _, d := range diags {
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d:%d: [%s] %s\n",
				abs,
				d.Range.Start.Line+1,
				d.Range.Start.Character+1,
				severityName(d.Severity),
				d.Message,
			)
		}
		return nil
	})
}

// severityName maps a diagnostic severity to its display name.
func severityName(s lsp.DiagnosticSeverity) string {
	switch s {
	case lsp.SeverityError:
		return "error"
	case lsp.SeverityWarning:
		return "warning"
	case lsp.SeverityInfo:
		return "info"
	case lsp.SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}
