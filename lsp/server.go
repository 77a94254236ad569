// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultStartupTimeout bounds the process spawn plus initialize handshake.
const DefaultStartupTimeout = 30 * time.Second

// shutdownGrace is how long Shutdown waits for a clean exit before killing.
const shutdownGrace = 5 * time.Second

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of an LSP server.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the server process is starting.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateStopping means the server is shutting down.
	ServerStateStopping

	// ServerStateStopped means the server has terminated.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig describes how to run one language server.
type ServerConfig struct {
	// Name identifies the tool for logs and metrics (e.g., "go", "rust").
	Name string

	// Command is the server binary to look up on PATH.
	Command string

	// Args are the arguments passed to the binary.
	Args []string

	// RootDir is the absolute path of the workspace root.
	RootDir string

	// InitializationOptions are passed verbatim in the initialize request.
	InitializationOptions interface{}

	// StartupTimeout bounds spawn plus handshake. Zero means
	// DefaultStartupTimeout.
	StartupTimeout time.Duration

	// RequestTimeout overrides DefaultRequestTimeout for queries issued
	// through this server. Zero means the default.
	RequestTimeout time.Duration
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind tags an asynchronous server event.
type EventKind int

const (
	// EventDiagnostics means new diagnostics replaced a document's set.
	EventDiagnostics EventKind = iota

	// EventLogMessage is a window/logMessage from the server.
	EventLogMessage

	// EventCrash means the process exited unexpectedly.
	EventCrash
)

// Event is an asynchronous occurrence on a running server. Delivered on the
// Events channel on a best-effort basis: if no one is draining the channel,
// events are dropped rather than blocking the read goroutine.
type Event struct {
	// Kind tags the event.
	Kind EventKind

	// URI is the document the event concerns (diagnostics only).
	URI string

	// Diagnostics is the full replacement set (diagnostics only).
	Diagnostics []Diagnostic

	// Message is the log text (log messages only).
	Message string

	// Err is the terminal error (crash only).
	Err error
}

// =============================================================================
// SERVER
// =============================================================================

// Server represents a running LSP server process.
//
// Description:
//
//	Manages the lifecycle of one child process bound to one Protocol for
//	the whole process lifetime: spawn, initialize handshake, document
//	synchronization, diagnostics cache, crash detection, and shutdown.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Server struct {
	config ServerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities

	state   ServerState
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}

	// done closes exactly once when the process has exited for any reason.
	done     chan struct{}
	doneOnce sync.Once
	exitErr  error

	// openDocs tracks URIs with an open didOpen/didClose bracket, mapping
	// URI to the current synced version.
	openDocs   map[string]int
	openDocsMu sync.Mutex

	// diagnostics caches the latest published set per open document.
	// Overwritten wholesale on every publishDiagnostics; evicted on close.
	diagnostics   map[string][]Diagnostic
	diagnosticsMu sync.RWMutex

	events chan Event

	lastUsed   time.Time
	lastUsedMu sync.Mutex

	logger *slog.Logger
}

// NewServer creates a new server instance (not started).
//
// Inputs:
//
//	config - Tool configuration for the server
//
// Outputs:
//
//	*Server - The configured (but not started) server
func NewServer(config ServerConfig) *Server {
	return &Server{
		config:      config,
		state:       ServerStateUninitialized,
		readDone:    make(chan struct{}),
		done:        make(chan struct{}),
		openDocs:    make(map[string]int),
		diagnostics: make(map[string][]Diagnostic),
		events:      make(chan Event, 64),
		lastUsed:    time.Now(),
		logger:      slog.Default().With(slog.String("lsp_server", config.Name)),
	}
}

// Start starts the LSP server process and initializes it.
//
// Description:
//
//	Looks up the binary, spawns the process with stdio pipes, starts the
//	read loop, and performs the initialize handshake. On success the
//	server is ready for requests. A server that fails its handshake is
//	torn down and must not be reused.
//
// Inputs:
//
//	ctx - Context for cancellation; StartupTimeout is applied on top
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - Server binary not found on PATH
//	ErrServerAlreadyStarted - Start called on a non-uninitialized server
//	ErrInitializeFailed - LSP initialize handshake failed
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller will start the server.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateStopped)
		s.markDone(ErrServerNotInstalled)
		s.logger.Warn("language server not installed",
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	s.logger.Info("starting language server",
		slog.String("command", path),
		slog.String("root_dir", s.config.RootDir),
	)

	startupTimeout := s.config.StartupTimeout
	if startupTimeout == 0 {
		startupTimeout = DefaultStartupTimeout
	}
	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	defer startCancel()

	// Server context is independent of the caller's: the process outlives
	// the Start call.
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cmd = exec.CommandContext(s.ctx, path, s.config.Args...)
	s.cmd.Dir = s.config.RootDir

	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	s.stderr, err = s.cmd.StderrPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		return fmt.Errorf("start process: %w", err)
	}
	recordServerSpawn(ctx, s.config.Name, true)

	s.protocol = NewProtocol(s.stdout, s.stdin)
	s.protocol.SetNotificationHandler(s.handleNotification)

	go func() {
		defer close(s.readDone)
		_ = s.protocol.ReadLoop(s.ctx)
	}()
	go s.drainStderr()
	go s.watchExit()

	if err := s.initialize(startCtx); err != nil {
		_ = s.Shutdown(ctx)
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.setState(ServerStateReady)
	s.touchLastUsed()

	caps := s.Capabilities()
	s.logger.Info("language server ready",
		slog.Bool("definition", caps.HasDefinitionProvider()),
		slog.Bool("references", caps.HasReferencesProvider()),
		slog.Bool("hover", caps.HasHoverProvider()),
	)

	return nil
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   PathToURI(s.config.RootDir),
		RootPath:  s.config.RootDir,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
				Definition: &DefinitionCapabilities{},
				References: &ReferencesCapabilities{},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				PublishDiagnostics: &PublishDiagnosticsClientCapabilities{
					VersionSupport: true,
				},
			},
			Workspace: WorkspaceClientCapabilities{
				ApplyEdit: true,
				WorkspaceEdit: &WorkspaceEditClientCapabilities{
					DocumentChanges: true,
				},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{
				URI:  PathToURI(s.config.RootDir),
				Name: "workspace",
			},
		},
	}

	if s.config.InitializationOptions != nil {
		params.InitializationOptions = s.config.InitializationOptions
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.stateMu.Lock()
	s.capabilities = result.Capabilities
	s.stateMu.Unlock()

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// watchExit waits for the process and converts an unexpected exit into a
// crash: pending requests fail with ErrProcessCrashed, done closes, and an
// EventCrash is emitted.
func (s *Server) watchExit() {
	err := s.cmd.Wait()

	state := s.State()
	if state == ServerStateStopping || state == ServerStateStopped {
		// Orderly shutdown path; Shutdown owns state transitions.
		s.markDone(nil)
		return
	}

	crashErr := ErrProcessCrashed
	if err != nil {
		crashErr = fmt.Errorf("%w: %v", ErrProcessCrashed, err)
	}

	s.logger.Error("language server process exited unexpectedly",
		slog.Any("error", err),
	)

	s.protocol.Fail(crashErr)
	s.setState(ServerStateStopped)
	s.markDone(crashErr)
	s.emit(Event{Kind: EventCrash, Err: crashErr})
}

// drainStderr forwards server stderr lines to the debug log so a wedged
// server leaves a trail without its pipe filling up.
func (s *Server) drainStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		s.logger.Debug("server stderr", slog.String("line", scanner.Text()))
	}
}

// markDone closes the done channel exactly once.
func (s *Server) markDone(err error) {
	s.doneOnce.Do(func() {
		s.exitErr = err
		close(s.done)
	})
}

// Done returns a channel closed when the process has exited for any reason.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Events returns the asynchronous event channel. Events are dropped when
// the channel is full; consumers that care must drain it.
func (s *Server) Events() <-chan Event {
	return s.events
}

func (s *Server) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// handleNotification runs on the read goroutine; it must stay fast.
func (s *Server) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("bad publishDiagnostics payload", "error", err)
			return
		}
		s.storeDiagnostics(p)
		s.emit(Event{Kind: EventDiagnostics, URI: p.URI, Diagnostics: p.Diagnostics})
	case "window/logMessage":
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Debug("server log message",
			slog.Int("type", p.Type),
			slog.String("message", p.Message),
		)
		s.emit(Event{Kind: EventLogMessage, Message: p.Message})
	default:
		s.logger.Debug("ignoring server notification", slog.String("method", method))
	}
}

// storeDiagnostics replaces the cached set for a document. Diagnostics for
// documents we never opened (or already closed) are discarded: the cache
// mirrors the open-document set exactly.
func (s *Server) storeDiagnostics(p PublishDiagnosticsParams) {
	s.openDocsMu.Lock()
	_, open := s.openDocs[p.URI]
	s.openDocsMu.Unlock()
	if !open {
		return
	}

	s.diagnosticsMu.Lock()
	s.diagnostics[p.URI] = p.Diagnostics
	s.diagnosticsMu.Unlock()
}

// Diagnostics returns the latest published diagnostics for a file, or nil
// if none have been published or the document is not open.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Diagnostics(path string) []Diagnostic {
	uri := PathToURI(path)
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()
	diags := s.diagnostics[uri]
	out := make([]Diagnostic, len(diags))
	copy(out, diags)
	return out
}

// =============================================================================
// DOCUMENT SYNCHRONIZATION
// =============================================================================

// OpenDocument sends textDocument/didOpen for a file.
//
// Description:
//
//	Opens a document on the server with the given content at version 1.
//	Opening a document that is already open is a no-op: servers treat a
//	duplicate didOpen as a protocol violation.
//
// Inputs:
//
//	path - Absolute file path
//	languageID - LSP language identifier (e.g., "go")
//	content - Full document content
//
// Outputs:
//
//	error - Non-nil if the server is not ready or the send failed
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) OpenDocument(path, languageID, content string) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	uri := PathToURI(path)

	s.openDocsMu.Lock()
	if _, open := s.openDocs[uri]; open {
		s.openDocsMu.Unlock()
		return nil
	}
	s.openDocs[uri] = 1
	s.openDocsMu.Unlock()

	s.touchLastUsed()
	err := s.protocol.SendNotification("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       content,
		},
	})
	if err != nil {
		s.openDocsMu.Lock()
		delete(s.openDocs, uri)
		s.openDocsMu.Unlock()
	}
	return err
}

// UpdateDocument sends textDocument/didChange with full replacement content.
//
// Description:
//
//	Replaces the document's content on the server and bumps its version.
//	The document must already be open.
//
// Inputs:
//
//	path - Absolute file path
//	content - New full document content
//
// Outputs:
//
//	error - ErrServerNotRunning, or a send failure, or an error if the
//	        document is not open
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) UpdateDocument(path, content string) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	uri := PathToURI(path)

	s.openDocsMu.Lock()
	version, open := s.openDocs[uri]
	if !open {
		s.openDocsMu.Unlock()
		return fmt.Errorf("document not open: %s", path)
	}
	version++
	s.openDocs[uri] = version
	s.openDocsMu.Unlock()

	s.touchLastUsed()
	return s.protocol.SendNotification("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{
			{Text: content},
		},
	})
}

// CloseDocument sends textDocument/didClose and evicts cached diagnostics.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) CloseDocument(path string) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	uri := PathToURI(path)

	s.openDocsMu.Lock()
	_, open := s.openDocs[uri]
	delete(s.openDocs, uri)
	s.openDocsMu.Unlock()
	if !open {
		return nil
	}

	s.diagnosticsMu.Lock()
	delete(s.diagnostics, uri)
	s.diagnosticsMu.Unlock()

	s.touchLastUsed()
	return s.protocol.SendNotification("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// IsOpen reports whether a document currently has an open bracket.
func (s *Server) IsOpen(path string) bool {
	uri := PathToURI(path)
	s.openDocsMu.Lock()
	defer s.openDocsMu.Unlock()
	_, open := s.openDocs[uri]
	return open
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit messages to the server, then waits for the
//	process to terminate. If the server doesn't exit within the grace
//	period, or ctx expires first, it is killed. Callers needing a faster
//	teardown than the default grace pass a shorter ctx.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//
// Outputs:
//
//	error - Non-nil if shutdown encountered errors (server is still stopped)
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == ServerStateStopped || s.state == ServerStateStopping {
		s.stateMu.Unlock()
		return nil
	}
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	s.logger.Info("shutting down language server")

	defer s.cleanup()

	if s.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()

		_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
		_ = s.protocol.SendNotification("exit", nil)
		s.protocol.Close()
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			_ = s.cmd.Process.Kill()
			<-s.done
		case <-time.After(shutdownGrace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	} else {
		s.markDone(nil)
	}

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.setState(ServerStateStopped)
	s.markDone(nil)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Name returns the tool name this server runs.
func (s *Server) Name() string {
	return s.config.Name
}

// RootDir returns the workspace root path.
func (s *Server) RootDir() string {
	return s.config.RootDir
}

// Capabilities returns the capabilities reported during initialization.
// Zero value before the handshake completes.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Capabilities() ServerCapabilities {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.capabilities
}

// LastUsed returns when the server was last used.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) LastUsed() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsed
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method to invoke
//	params - Method parameters
//
// Outputs:
//
//	*Response - The server's response
//	error - Non-nil if server not ready, send failed, or timeout
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}
	s.touchLastUsed()
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendNotification(method, params)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Server) touchLastUsed() {
	s.lastUsedMu.Lock()
	s.lastUsed = time.Now()
	s.lastUsedMu.Unlock()
}

// PathToURI converts an absolute file path to a file:// URI.
func PathToURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// URIToPath converts a file:// URI back to a file path.
func URIToPath(uri string) string {
	const prefix = "file://"
	if len(uri) >= len(prefix) && uri[:len(prefix)] == prefix {
		return filepath.FromSlash(uri[len(prefix):])
	}
	return uri
}
