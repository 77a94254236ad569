// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	t.Run("embedded registry parses", func(t *testing.T) {
		if reg.Count() < 3 {
			t.Errorf("Count() = %d, expected at least the common servers", reg.Count())
		}
	})

	t.Run("go entry is complete", func(t *testing.T) {
		cfg, ok := reg.Get("go")
		if !ok {
			t.Fatal("no go entry")
		}
		if cfg.Command != "gopls" {
			t.Errorf("command = %q", cfg.Command)
		}
		if cfg.LanguageID != "go" {
			t.Errorf("language_id = %q", cfg.LanguageID)
		}
		if cfg.IdleTimeout.Std() != 5*time.Minute {
			t.Errorf("idle_timeout = %v", cfg.IdleTimeout.Std())
		}
		if cfg.MaxProcesses != 4 {
			t.Errorf("max_processes = %d", cfg.MaxProcesses)
		}
	})

	t.Run("extension lookup", func(t *testing.T) {
		cases := map[string]string{
			".go":  "go",
			".GO":  "go",
			".rs":  "rust",
			".tsx": "typescript",
			".py":  "python",
			".hpp": "cpp",
		}
		for ext, want := range cases {
			tool, ok := reg.ForExtension(ext)
			if !ok || tool != want {
				t.Errorf("ForExtension(%q) = %q, %v; want %q", ext, tool, ok, want)
			}
		}
		if _, ok := reg.ForExtension(".md"); ok {
			t.Error("unexpected handler for .md")
		}
	})

	t.Run("path lookup uses the extension", func(t *testing.T) {
		tool, ok := reg.ForPath("/workspace/internal/server/handler.go")
		if !ok || tool != "go" {
			t.Errorf("ForPath = %q, %v", tool, ok)
		}
		if _, ok := reg.ForPath("/workspace/Makefile"); ok {
			t.Error("unexpected handler for extensionless file")
		}
	})

	t.Run("names cover every entry", func(t *testing.T) {
		names := reg.Names()
		if len(names) != reg.Count() {
			t.Errorf("Names() has %d entries, Count() = %d", len(names), reg.Count())
		}
	})
}

func TestParseServersYAML_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty name",
			yaml: "servers:\n  - command: gopls\n    language_id: go\n",
			want: "empty name",
		},
		{
			name: "empty command",
			yaml: "servers:\n  - name: go\n    language_id: go\n",
			want: "empty command",
		},
		{
			name: "empty language id",
			yaml: "servers:\n  - name: go\n    command: gopls\n",
			want: "empty language_id",
		},
		{
			name: "duplicate name",
			yaml: "servers:\n" +
				"  - name: go\n    command: gopls\n    language_id: go\n" +
				"  - name: go\n    command: gopls\n    language_id: go\n",
			want: "duplicate server name",
		},
		{
			name: "extension without dot",
			yaml: "servers:\n  - name: go\n    command: gopls\n    language_id: go\n    extensions: [\"go\"]\n",
			want: "must start with a dot",
		},
		{
			name: "extension claimed twice",
			yaml: "servers:\n" +
				"  - name: go\n    command: gopls\n    language_id: go\n    extensions: [\".go\"]\n" +
				"  - name: go2\n    command: gopls\n    language_id: go\n    extensions: [\".go\"]\n",
			want: "claimed by both",
		},
		{
			name: "negative max processes",
			yaml: "servers:\n  - name: go\n    command: gopls\n    language_id: go\n    max_processes: -1\n",
			want: "negative max_processes",
		},
		{
			name: "bad duration",
			yaml: "servers:\n  - name: go\n    command: gopls\n    language_id: go\n    idle_timeout: forever\n",
			want: "invalid duration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseServersYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Run("parses yaml durations", func(t *testing.T) {
		reg, err := parseServersYAML([]byte(
			"servers:\n  - name: go\n    command: gopls\n    language_id: go\n    idle_timeout: 90s\n"))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		cfg, _ := reg.Get("go")
		if cfg.IdleTimeout.Std() != 90*time.Second {
			t.Errorf("idle_timeout = %v", cfg.IdleTimeout.Std())
		}
	})

	t.Run("zero value means unset", func(t *testing.T) {
		reg, err := parseServersYAML([]byte(
			"servers:\n  - name: go\n    command: gopls\n    language_id: go\n"))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		cfg, _ := reg.Get("go")
		if cfg.IdleTimeout.Std() != 0 {
			t.Errorf("idle_timeout = %v, want 0", cfg.IdleTimeout.Std())
		}
	})
}

func TestLoad_ExternalOverride(t *testing.T) {
	t.Run("env path takes precedence", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.yaml")
		yaml := "servers:\n  - name: zig\n    command: zls\n    language_id: zig\n    extensions: [\".zig\"]\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		t.Setenv(envServersPath, path)

		reg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if _, ok := reg.Get("zig"); !ok {
			t.Error("external registry not loaded")
		}
		if _, ok := reg.Get("go"); ok {
			t.Error("embedded registry leaked through the override")
		}
	})

	t.Run("unreadable external file falls back to embedded", func(t *testing.T) {
		t.Setenv(envServersPath, filepath.Join(t.TempDir(), "missing.yaml"))

		reg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if _, ok := reg.Get("go"); !ok {
			t.Error("embedded fallback not used")
		}
	})

	t.Run("oversized external file falls back to embedded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.yaml")
		big := make([]byte, MaxYAMLFileSize+1)
		if err := os.WriteFile(path, big, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		t.Setenv(envServersPath, path)

		reg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if _, ok := reg.Get("go"); !ok {
			t.Error("embedded fallback not used")
		}
	})
}

func TestRegistry_NilSafety(t *testing.T) {
	var reg *ServerRegistry
	if _, ok := reg.Get("go"); ok {
		t.Error("nil registry returned an entry")
	}
	if _, ok := reg.ForExtension(".go"); ok {
		t.Error("nil registry resolved an extension")
	}
	if reg.Count() != 0 || reg.Names() != nil {
		t.Error("nil registry reported entries")
	}
}
