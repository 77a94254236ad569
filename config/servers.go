// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides the language server registry for codenav.
//
// The registry maps tool names to server binaries, their arguments, the
// file extensions they handle, and their pool limits. An embedded default
// covers the common servers; an external servers.yaml overrides it when
// present.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed YAML file size (1MB).
	// Prevents memory issues from large files.
	MaxYAMLFileSize = 1024 * 1024

	// MaxServersInRegistry is the maximum server entries allowed.
	MaxServersInRegistry = 100

	// MaxExtensionsPerServer is the maximum extensions allowed per server.
	MaxExtensionsPerServer = 20

	// envServersPath overrides the external registry location.
	envServersPath = "CODENAV_SERVERS_PATH"
)

// =============================================================================
// Embedded Default Registry
// =============================================================================

//go:embed servers.yaml
var defaultServersYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	registryLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "config",
		Name:      "registry_load_errors_total",
		Help:      "Total server registry load errors",
	})

	registryLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codenav",
		Subsystem: "config",
		Name:      "registry_load_duration_seconds",
		Help:      "Duration of server registry loading",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

// =============================================================================
// Types
// =============================================================================

// Duration wraps time.Duration for YAML values like "5m" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// serversYAML is the root structure for YAML deserialization.
type serversYAML struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes one language server tool.
type ServerConfig struct {
	// Name is the tool name (e.g., "go", "rust").
	Name string `yaml:"name"`

	// Command is the server binary to look up on PATH.
	Command string `yaml:"command"`

	// Args are the arguments passed to the binary.
	Args []string `yaml:"args,omitempty"`

	// LanguageID is the LSP language identifier sent with didOpen.
	LanguageID string `yaml:"language_id"`

	// Extensions are the file extensions this server handles (with dot).
	Extensions []string `yaml:"extensions"`

	// InitializationOptions are passed verbatim in the initialize request.
	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`

	// MaxProcesses is the pool ceiling for this tool. Zero uses the pool
	// default.
	MaxProcesses int `yaml:"max_processes,omitempty"`

	// IdleTimeout is the idle eviction deadline. Zero uses the pool
	// default.
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`
}

// ServerRegistry is the loaded, validated set of server configurations.
//
// Thread Safety: Safe for concurrent use after initialization.
type ServerRegistry struct {
	// entries maps tool name to its configuration.
	entries map[string]*ServerConfig

	// extensionIndex maps lowercase extensions to tool names.
	extensionIndex map[string]string
}

// =============================================================================
// Loading
// =============================================================================

// Load loads the server registry.
//
// Description:
//
//	Tries the external servers.yaml first (CODENAV_SERVERS_PATH, then
//	./servers.yaml and ./config/servers.yaml), and falls back to the
//	embedded default if no external file is usable.
//
// Outputs:
//
//	*ServerRegistry - The loaded registry. Never nil on success.
//	error - Non-nil if both external and embedded data fail to parse.
func Load() (*ServerRegistry, error) {
	start := time.Now()
	defer func() {
		registryLoadDuration.Observe(time.Since(start).Seconds())
	}()

	var yamlData []byte
	source := "embedded"

	if path := externalRegistryPath(); path != "" {
		data, err := readExternalYAML(path)
		if err == nil {
			yamlData = data
			source = "external"
			slog.Info("loaded server registry from external file",
				slog.String("path", path))
		} else {
			slog.Warn("external server registry not usable, using embedded default",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	if yamlData == nil {
		yamlData = defaultServersYAML
	}

	registry, err := parseServersYAML(yamlData)
	if err != nil {
		registryLoadErrors.Inc()
		return nil, fmt.Errorf("parsing server registry: %w", err)
	}

	slog.Info("server registry loaded",
		slog.Int("server_count", len(registry.entries)),
		slog.String("source", source))
	return registry, nil
}

// Default loads the embedded registry only, ignoring external files.
// Intended for tests and tools that need deterministic configuration.
func Default() (*ServerRegistry, error) {
	return parseServersYAML(defaultServersYAML)
}

// externalRegistryPath returns the external registry location, or empty.
func externalRegistryPath() string {
	if path := os.Getenv(envServersPath); path != "" {
		return path
	}

	locations := []string{
		"./servers.yaml",
		"./config/servers.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			absPath, _ := filepath.Abs(loc)
			return absPath
		}
	}
	return ""
}

// readExternalYAML reads an external registry file with size checks.
func readExternalYAML(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("YAML file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// parseServersYAML parses and validates registry YAML.
func parseServersYAML(data []byte) (*ServerRegistry, error) {
	var raw serversYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if len(raw.Servers) > MaxServersInRegistry {
		return nil, fmt.Errorf("too many servers: %d (max %d)", len(raw.Servers), MaxServersInRegistry)
	}

	registry := &ServerRegistry{
		entries:        make(map[string]*ServerConfig, len(raw.Servers)),
		extensionIndex: make(map[string]string),
	}

	for i := range raw.Servers {
		srv := raw.Servers[i]
		if srv.Name == "" {
			return nil, fmt.Errorf("server at index %d has empty name", i)
		}
		if srv.Command == "" {
			return nil, fmt.Errorf("server %s has empty command", srv.Name)
		}
		if srv.LanguageID == "" {
			return nil, fmt.Errorf("server %s has empty language_id", srv.Name)
		}
		if _, dup := registry.entries[srv.Name]; dup {
			return nil, fmt.Errorf("duplicate server name %s", srv.Name)
		}
		if len(srv.Extensions) > MaxExtensionsPerServer {
			return nil, fmt.Errorf("server %s has too many extensions: %d (max %d)",
				srv.Name, len(srv.Extensions), MaxExtensionsPerServer)
		}
		if srv.MaxProcesses < 0 {
			return nil, fmt.Errorf("server %s has negative max_processes", srv.Name)
		}

		registry.entries[srv.Name] = &raw.Servers[i]

		for _, ext := range srv.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				return nil, fmt.Errorf("server %s extension %q must start with a dot", srv.Name, ext)
			}
			if owner, dup := registry.extensionIndex[ext]; dup {
				return nil, fmt.Errorf("extension %s claimed by both %s and %s", ext, owner, srv.Name)
			}
			registry.extensionIndex[ext] = srv.Name
		}
	}

	return registry, nil
}

// =============================================================================
// Registry Methods
// =============================================================================

// Get returns the configuration for a tool.
//
// Outputs:
//
//	*ServerConfig - The configuration, or nil if not found.
//	bool - True if found.
func (r *ServerRegistry) Get(name string) (*ServerConfig, bool) {
	if r == nil {
		return nil, false
	}
	cfg, ok := r.entries[name]
	return cfg, ok
}

// ForExtension returns the tool handling a file extension.
//
// Inputs:
//
//	ext - The extension including the dot (e.g., ".go"); case-insensitive.
//
// Outputs:
//
//	string - The tool name.
//	bool - True if an entry claims the extension.
func (r *ServerRegistry) ForExtension(ext string) (string, bool) {
	if r == nil {
		return "", false
	}
	tool, ok := r.extensionIndex[strings.ToLower(ext)]
	return tool, ok
}

// ForPath returns the tool handling a file path, by its extension.
func (r *ServerRegistry) ForPath(path string) (string, bool) {
	return r.ForExtension(filepath.Ext(path))
}

// Names returns the configured tool names in no particular order.
func (r *ServerRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Count returns the number of configured servers.
func (r *ServerRegistry) Count() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
