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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// DefaultRequestTimeout is applied to SendRequest when the caller's context
// carries no deadline of its own.
const DefaultRequestTimeout = 5 * time.Second

// readChunkSize is the size of the buffer handed to each Read on the
// server's output stream.
const readChunkSize = 4096

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents a JSON-RPC request.
type Request struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier. Omit for notifications.
	ID int64 `json:"id,omitempty"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier this response corresponds to.
	ID int64 `json:"id"`

	// Result contains the method result (mutually exclusive with Error).
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (mutually exclusive with Result).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC error.
type ResponseError struct {
	// Code is the error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data contains additional error information.
	Data interface{} `json:"data,omitempty"`
}

// Notification represents a JSON-RPC notification (no ID, no response).
type Notification struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params json.RawMessage `json:"params,omitempty"`
}

// NotificationHandler receives server-initiated notifications
// (publishDiagnostics, logMessage, ...). Called from the read goroutine;
// handlers must not block.
type NotificationHandler func(method string, params json.RawMessage)

// outcome is what a pending request receives: exactly one response or one
// transport-level error.
type outcome struct {
	resp Response
	err  error
}

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication over stdin/stdout.
//
// Description:
//
//	Implements the LSP base protocol using Content-Length framing via
//	Framer. Manages request/response correlation, dispatches server
//	notifications to a handler, and fails all pending requests when the
//	transport dies.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can send requests and
//	notifications simultaneously. ReadLoop must run on a single goroutine.
type Protocol struct {
	reader  io.Reader
	writer  io.Writer
	writeMu sync.Mutex

	framer *Framer

	nextID    int64
	pending   map[int64]chan outcome
	pendingMu sync.Mutex

	notifyHandler atomic.Value // NotificationHandler

	closed  int32 // atomic: 1 if closed
	failErr error // set once under pendingMu when the transport dies

	logger *slog.Logger
}

// NewProtocol creates a new protocol handler.
//
// Description:
//
//	Creates a protocol handler that communicates over the provided
//	reader (server stdout) and writer (server stdin).
//
// Inputs:
//
//	r - Reader for server responses (e.g., stdout pipe)
//	w - Writer for client requests (e.g., stdin pipe)
//
// Outputs:
//
//	*Protocol - The protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	return &Protocol{
		reader:  r,
		writer:  w,
		framer:  NewFramer(),
		pending: make(map[int64]chan outcome),
		logger:  slog.Default(),
	}
}

// SetNotificationHandler installs the handler for server-initiated
// notifications. Replaces any previous handler. Safe to call at any time.
func (p *Protocol) SetNotificationHandler(h NotificationHandler) {
	p.notifyHandler.Store(h)
}

// SendRequest sends a request and waits for the response.
//
// Description:
//
//	Sends a JSON-RPC request to the server and blocks until a response
//	arrives, the deadline passes, or the transport dies. If ctx has no
//	deadline, DefaultRequestTimeout is applied. On timeout the pending
//	entry is removed so a late response for that id is dropped silently;
//	the protocol stays usable for other requests.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method to invoke (e.g., "textDocument/definition")
//	params - Method parameters (will be JSON-marshaled)
//
// Outputs:
//
//	*Response - The server's response
//	error - ErrRequestTimeout on deadline, *RemoteError if the server
//	        returned a JSON-RPC error, the failure error if the
//	        transport died
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, p.failureError()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	id := atomic.AddInt64(&p.nextID, 1)

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	ch := make(chan outcome, 1)
	p.pendingMu.Lock()
	if p.failErr != nil {
		err := p.failErr
		p.pendingMu.Unlock()
		return nil, err
	}
	p.pending[id] = ch
	p.pendingMu.Unlock()

	if err := p.writeMessage(req); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		// Remove the entry so a late response finds nobody waiting.
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, method, ctx.Err())
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.resp.Error != nil {
			return nil, &RemoteError{
				Code:    out.resp.Error.Code,
				Message: out.resp.Error.Message,
				Data:    out.resp.Error.Data,
			}
		}
		return &out.resp, nil
	}
}

// SendNotification sends a notification (no response expected).
//
// Inputs:
//
//	method - The LSP method to invoke (e.g., "initialized")
//	params - Method parameters (will be JSON-marshaled)
//
// Outputs:
//
//	error - Non-nil if sending failed
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return p.failureError()
	}

	notifData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	notif := Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  notifData,
	}
	return p.writeMessage(notif)
}

// writeMessage marshals and writes a single framed message.
func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.writer.Write(EncodeFrame(data)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the server and dispatches them.
//
// Description:
//
//	Continuously reads raw chunks from the server's output, feeds them
//	through the framer, and dispatches each complete payload. Responses
//	are matched to pending requests; notifications go to the installed
//	handler. A malformed frame header is logged and skipped; the loop
//	keeps running. Returns when the stream ends or the context is
//	cancelled. Call this in a goroutine after starting the server.
//
// Inputs:
//
//	ctx - Context for cancellation
//
// Outputs:
//
//	error - io.EOF mapped to ErrProcessCrashed, or the read error
//
// Thread Safety:
//
//	Must be called from a single goroutine. Safe to run while other
//	goroutines call SendRequest/SendNotification.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := p.reader.Read(chunk)
		if n > 0 {
			p.framer.Feed(chunk[:n])
			p.drainFrames()
		}
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrProcessCrashed
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// drainFrames dispatches every complete payload currently buffered.
func (p *Protocol) drainFrames() {
	for {
		payload, ok, err := p.framer.Next()
		if err != nil {
			p.logger.Warn("skipping malformed frame header", "error", err)
			continue
		}
		if !ok {
			return
		}
		p.handleMessage(payload)
	}
}

// handleMessage dispatches a received message.
//
// Classification goes by the method field first: a message with a method
// is server-initiated (a notification, or a request when it also carries
// an id), regardless of what the id value is. The server numbers its own
// requests from its own id space, so an id alone must never be matched
// against the pending table.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var probe struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		p.logger.Warn("dropping unparseable message", "error", err)
		return
	}

	if probe.Method != "" {
		if probe.ID != nil {
			p.rejectServerRequest(probe.Method, *probe.ID)
			return
		}
		if h, ok := p.notifyHandler.Load().(NotificationHandler); ok && h != nil {
			var notif Notification
			if err := json.Unmarshal(msg, &notif); err != nil {
				p.logger.Warn("dropping unparseable notification", "error", err)
				return
			}
			h(notif.Method, notif.Params)
		}
		return
	}

	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		p.logger.Warn("dropping unparseable response", "error", err)
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[resp.ID]
	if ok {
		delete(p.pending, resp.ID)
	}
	p.pendingMu.Unlock()

	if !ok {
		// Late response after a timeout. Dropped by design of the pending
		// table.
		p.logger.Debug("dropping response with no pending request", "id", resp.ID)
		return
	}
	ch <- outcome{resp: resp}
}

// rejectServerRequest answers a server-to-client request with a
// method-not-found error. None of them are implemented here (gopls sends
// workspace/configuration and client/registerCapability during startup);
// an explicit error response keeps the server from waiting on us.
func (p *Protocol) rejectServerRequest(method string, id int64) {
	p.logger.Debug("rejecting server-to-client request",
		"method", method,
		"id", id,
	)
	if atomic.LoadInt32(&p.closed) == 1 {
		return
	}
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &ResponseError{
			Code:    -32601,
			Message: "method not supported: " + method,
		},
	}
	if err := p.writeMessage(resp); err != nil {
		p.logger.Debug("failed to reject server-to-client request", "error", err)
	}
}

// Fail tears down the protocol with a transport-level error.
//
// Description:
//
//	Marks the protocol closed and delivers err to every pending request.
//	Later sends return the same error. Idempotent: only the first call's
//	error sticks.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) Fail(err error) {
	if err == nil {
		err = ErrServerNotRunning
	}
	atomic.StoreInt32(&p.closed, 1)

	p.pendingMu.Lock()
	if p.failErr == nil {
		p.failErr = err
	}
	for id, ch := range p.pending {
		ch <- outcome{err: p.failErr}
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// Close marks the protocol as closed for an orderly shutdown.
//
// Description:
//
//	Prevents further sends and fails any requests still pending with
//	ErrServerNotRunning. Does not close the underlying reader/writer.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) Close() {
	p.Fail(ErrServerNotRunning)
}

// failureError returns the error later sends should report.
func (p *Protocol) failureError() error {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	return ErrServerNotRunning
}
