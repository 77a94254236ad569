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
	"errors"
	"fmt"
)

// Sentinel errors for the protocol engine.
var (
	// ErrServerNotRunning indicates the engine is not in a ready state.
	ErrServerNotRunning = errors.New("language server not running")

	// ErrServerNotInstalled indicates the server binary was not found on PATH.
	ErrServerNotInstalled = errors.New("language server not installed")

	// ErrServerAlreadyStarted indicates Start was called twice on one engine.
	ErrServerAlreadyStarted = errors.New("language server already started")

	// ErrInitializeFailed indicates the initialize handshake did not complete.
	// A process that failed its handshake must not be reused.
	ErrInitializeFailed = errors.New("initialize handshake failed")

	// ErrRequestTimeout indicates one request exceeded its deadline. The
	// engine stays usable; a late response for that id is dropped silently.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrProcessCrashed indicates the child process exited or errored while
	// requests were pending. All pending requests on the engine fail with it.
	ErrProcessCrashed = errors.New("language server process crashed")

	// ErrMalformedHeader indicates a frame header without a Content-Length
	// field. The framer skips past the header and resyncs; the stream is
	// not torn down.
	ErrMalformedHeader = errors.New("malformed frame header")

	// ErrInvalidResponse indicates a response body that could not be parsed.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrCapabilityUnsupported indicates the server did not advertise the
	// capability a query needs during initialization.
	ErrCapabilityUnsupported = errors.New("capability not supported by server")
)

// RemoteError represents an error returned by the language server via
// JSON-RPC. It is surfaced to callers as-is so they can distinguish
// "method not found" from genuine server failures.
//
// Error codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32601: Method not found
//   - -32603: Internal error
//   - -32099 to -32000: Server error (reserved)
//   - -32802: Server not initialized
//   - -32800: Request cancelled
type RemoteError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("remote error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *RemoteError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *RemoteError) IsParseError() bool {
	return e.Code == -32700
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *RemoteError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *RemoteError) IsServerNotInitialized() bool {
	return e.Code == -32802
}
