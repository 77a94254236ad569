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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codenav/config"
	"github.com/AleutianAI/codenav/pkg/logging"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	verbose  bool
	jsonLogs bool
	logDir   string
	rootDir  string

	servers *config.ServerRegistry
	logger  *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "codenav",
		Short: "A CLI for navigating codebases through language servers",
		Long: `codenav runs language servers (gopls, rust-analyzer, etc.) in
bounded process pools and exposes their navigation queries: references,
definitions, hover documentation, and diagnostics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  logDir,
				Service: "codenav",
				JSON:    jsonLogs,
			})
			logger.Install()

			var err error
			servers, err = config.Load()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	serversCmd = &cobra.Command{
		Use:   "servers",
		Short: "List the configured language servers",
		RunE:  runServers, // Defined in cmd_servers.go
	}

	checkCmd = &cobra.Command{
		Use:   "check [tool...]",
		Short: "Verify that language servers are installed and can initialize",
		RunE:  runCheck, // Defined in cmd_check.go
	}

	refsCmd = &cobra.Command{
		Use:   "refs <file> <line> <column>",
		Short: "Find references to the symbol at a position (1-indexed)",
		Args:  cobra.ExactArgs(3),
		RunE:  runRefs, // Defined in cmd_query.go
	}

	defCmd = &cobra.Command{
		Use:   "def <file> <line> <column>",
		Short: "Find the definition of the symbol at a position (1-indexed)",
		Args:  cobra.ExactArgs(3),
		RunE:  runDef, // Defined in cmd_query.go
	}

	hoverCmd = &cobra.Command{
		Use:   "hover <file> <line> <column>",
		Short: "Show documentation for the symbol at a position (1-indexed)",
		Args:  cobra.ExactArgs(3),
		RunE:  runHover, // Defined in cmd_query.go
	}

	diagCmd = &cobra.Command{
		Use:   "diag <file>",
		Short: "Show current diagnostics for a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiag, // Defined in cmd_query.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the codenav version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("codenav", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write logs to this directory")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root (defaults to the current directory)")

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(defCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(versionCmd)
}
