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
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codenav/lsp"
)

// checkTimeout bounds each server's spawn-plus-handshake probe.
const checkTimeout = 30 * time.Second

// checkConcurrency caps how many servers are probed at once.
const checkConcurrency = 3

// checkResult is one server's probe outcome.
type checkResult struct {
	tool string
	err  error
}

// runCheck starts each requested server, runs the initialize handshake,
// and shuts it down again.
func runCheck(cmd *cobra.Command, args []string) error {
	tools := args
	if len(tools) == 0 {
		tools = servers.Names()
		sort.Strings(tools)
	}

	root := rootDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving workspace root: %w", err)
		}
		root = wd
	}

	var mu sync.Mutex
	var results []checkResult

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(checkConcurrency)
	for _, tool := range tools {
		tool := tool
		g.Go(func() error {
			err := probeServer(ctx, tool, root)
			mu.Lock()
			results = append(results, checkResult{tool: tool, err: err})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].tool < results[j].tool })

	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", res.tool, res.err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "OK    %s\n", res.tool)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed the check", failed, len(results))
	}
	return nil
}

// probeServer spawns one server, waits for a successful handshake, and
// tears it down.
func probeServer(ctx context.Context, tool, root string) error {
	cfg, ok := servers.Get(tool)
	if !ok {
		return fmt.Errorf("no configuration for tool %q", tool)
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	srv := lsp.NewServer(lsp.ServerConfig{
		Name:    cfg.Name,
		Command: cfg.Command,
		Args:    cfg.Args,
		RootDir: root,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	return srv.Shutdown(context.Background())
}
