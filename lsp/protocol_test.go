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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pendingCount reads the size of the pending table.
func pendingCount(p *Protocol) int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// waitForPending blocks until the pending table is non-empty or the
// deadline passes.
func waitForPending(t *testing.T, p *Protocol) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pendingCount(p) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no request became pending")
}

func TestNewProtocol(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(strings.NewReader(""), &buf)

	if p.reader == nil {
		t.Error("reader not set")
	}
	if p.writer == nil {
		t.Error("writer not set")
	}
	if p.framer == nil {
		t.Error("framer not initialized")
	}
	if p.pending == nil {
		t.Error("pending map not initialized")
	}
}

func TestProtocol_SendNotification(t *testing.T) {
	t.Run("writes a framed message without an id", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		params := DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: "file:///tmp/main.go"},
		}
		if err := p.SendNotification("textDocument/didClose", params); err != nil {
			t.Fatalf("SendNotification: %v", err)
		}

		f := NewFramer()
		f.Feed(buf.Bytes())
		payload, ok, err := f.Next()
		if err != nil || !ok {
			t.Fatalf("framer: ok=%v err=%v", ok, err)
		}

		var notif Notification
		if err := json.Unmarshal(payload, &notif); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if notif.JSONRPC != JSONRPCVersion {
			t.Errorf("jsonrpc = %q, want %q", notif.JSONRPC, JSONRPCVersion)
		}
		if notif.Method != "textDocument/didClose" {
			t.Errorf("method = %q", notif.Method)
		}
		if strings.Contains(string(payload), `"id"`) {
			t.Errorf("notification carries an id: %s", payload)
		}
	})

	t.Run("fails after close", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Close()

		err := p.SendNotification("initialized", struct{}{})
		if !errors.Is(err, ErrServerNotRunning) {
			t.Errorf("expected ErrServerNotRunning, got %v", err)
		}
	})
}

func TestProtocol_SendRequest(t *testing.T) {
	t.Run("rejects nil context", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		//nolint:staticcheck // nil context is the case under test
		if _, err := p.SendRequest(nil, "test", nil); err == nil {
			t.Error("expected error for nil context")
		}
	})

	t.Run("fails after close", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Close()

		_, err := p.SendRequest(context.Background(), "test", nil)
		if !errors.Is(err, ErrServerNotRunning) {
			t.Errorf("expected ErrServerNotRunning, got %v", err)
		}
	})

	t.Run("correlates response by id", func(t *testing.T) {
		serverIn, clientOut := io.Pipe()
		clientIn, serverOut := io.Pipe()
		defer serverOut.Close()

		p := NewProtocol(clientIn, clientOut)
		go func() { _ = p.ReadLoop(context.Background()) }()

		// Echo server: answers each request with its id.
		go func() {
			f := NewFramer()
			chunk := make([]byte, 1024)
			for {
				n, err := serverIn.Read(chunk)
				if n > 0 {
					f.Feed(chunk[:n])
					for {
						payload, ok, ferr := f.Next()
						if ferr != nil || !ok {
							break
						}
						var req Request
						if json.Unmarshal(payload, &req) != nil {
							continue
						}
						resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, req.ID)
						_, _ = serverOut.Write(EncodeFrame([]byte(resp)))
					}
				}
				if err != nil {
					return
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := p.SendRequest(ctx, "textDocument/hover", nil)
		if err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		if !strings.Contains(string(resp.Result), `"ok":true`) {
			t.Errorf("unexpected result: %s", resp.Result)
		}
		if pendingCount(p) != 0 {
			t.Errorf("pending table not drained: %d entries", pendingCount(p))
		}
	})

	t.Run("converts server error to RemoteError", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		var reqErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reqErr = p.SendRequest(ctx, "textDocument/references", nil)
		}()

		waitForPending(t, p)
		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
		wg.Wait()

		var remote *RemoteError
		if !errors.As(reqErr, &remote) {
			t.Fatalf("expected *RemoteError, got %v", reqErr)
		}
		if !remote.IsMethodNotFound() {
			t.Errorf("expected method-not-found, got code %d", remote.Code)
		}
	})

	t.Run("times out and drops the late response", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := p.SendRequest(ctx, "textDocument/definition", nil)
		if !errors.Is(err, ErrRequestTimeout) {
			t.Fatalf("expected ErrRequestTimeout, got %v", err)
		}
		if pendingCount(p) != 0 {
			t.Fatalf("pending entry not removed on timeout")
		}

		// The late response finds nobody waiting and must not panic or
		// poison later requests.
		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))

		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()

		var wg sync.WaitGroup
		var resp *Response
		var err2 error
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err2 = p.SendRequest(ctx2, "textDocument/definition", nil)
		}()

		waitForPending(t, p)
		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":2,"result":[]}`))
		wg.Wait()

		if err2 != nil {
			t.Fatalf("second request failed: %v", err2)
		}
		if string(resp.Result) != "[]" {
			t.Errorf("unexpected result: %s", resp.Result)
		}
	})

	t.Run("concurrent requests each get their own response", func(t *testing.T) {
		serverIn, clientOut := io.Pipe()
		clientIn, serverOut := io.Pipe()
		defer serverOut.Close()

		p := NewProtocol(clientIn, clientOut)
		go func() { _ = p.ReadLoop(context.Background()) }()

		go func() {
			f := NewFramer()
			chunk := make([]byte, 1024)
			for {
				n, err := serverIn.Read(chunk)
				if n > 0 {
					f.Feed(chunk[:n])
					for {
						payload, ok, ferr := f.Next()
						if ferr != nil || !ok {
							break
						}
						var req Request
						if json.Unmarshal(payload, &req) != nil {
							continue
						}
						resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, req.ID)
						_, _ = serverOut.Write(EncodeFrame([]byte(resp)))
					}
				}
				if err != nil {
					return
				}
			}
		}()

		const workers = 8
		var wg sync.WaitGroup
		var mismatches int32
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				resp, err := p.SendRequest(ctx, "test/echo", nil)
				if err != nil {
					atomic.AddInt32(&mismatches, 1)
					return
				}
				var got int64
				if json.Unmarshal(resp.Result, &got) != nil || got != resp.ID {
					atomic.AddInt32(&mismatches, 1)
				}
			}()
		}
		wg.Wait()

		if mismatches != 0 {
			t.Errorf("%d of %d requests got the wrong response", mismatches, workers)
		}
	})
}

func TestProtocol_ServerRequests(t *testing.T) {
	t.Run("a server request never resolves a pending client id", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		var resp *Response
		var reqErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, reqErr = p.SendRequest(ctx, "initialize", nil)
		}()

		waitForPending(t, p)

		// The server's own request ids start at 1 too; this one collides
		// with the in-flight client request and must not resolve it.
		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"workspace/configuration","params":{"items":[]}}`))
		if pendingCount(p) != 1 {
			t.Fatal("server request consumed the pending client request")
		}

		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`))
		wg.Wait()

		if reqErr != nil {
			t.Fatalf("SendRequest: %v", reqErr)
		}
		if !strings.Contains(string(resp.Result), "capabilities") {
			t.Errorf("result = %s", resp.Result)
		}

		// The colliding request got an explicit method-not-found reply.
		f := NewFramer()
		f.Feed(buf.Bytes())
		rejected := false
		for {
			payload, ok, err := f.Next()
			if err != nil || !ok {
				break
			}
			var reply Response
			if json.Unmarshal(payload, &reply) != nil || reply.Error == nil {
				continue
			}
			if reply.ID == 1 && reply.Error.Code == -32601 {
				rejected = true
			}
		}
		if !rejected {
			t.Error("no method-not-found reply written for the server request")
		}
	})

	t.Run("requests with a method are never matched as responses", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		// No pending entry at all: a server request must still be rejected,
		// not logged as a late response.
		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":7,"method":"client/registerCapability","params":{}}`))

		f := NewFramer()
		f.Feed(buf.Bytes())
		payload, ok, err := f.Next()
		if err != nil || !ok {
			t.Fatalf("no reply written: ok=%v err=%v", ok, err)
		}
		var reply Response
		if err := json.Unmarshal(payload, &reply); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if reply.ID != 7 || reply.Error == nil || reply.Error.Code != -32601 {
			t.Errorf("reply = %+v", reply)
		}
	})

	t.Run("no reply is attempted after close", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Close()

		p.handleMessage([]byte(`{"jsonrpc":"2.0","id":3,"method":"workspace/configuration","params":{}}`))
		if buf.Len() != 0 {
			t.Error("reply written on a closed protocol")
		}
	})
}

func TestProtocol_Notifications(t *testing.T) {
	t.Run("dispatches server notifications to the handler", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		var gotMethod string
		var gotParams json.RawMessage
		p.SetNotificationHandler(func(method string, params json.RawMessage) {
			gotMethod = method
			gotParams = params
		})

		p.handleMessage([]byte(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`))

		if gotMethod != "window/logMessage" {
			t.Errorf("method = %q", gotMethod)
		}
		if !strings.Contains(string(gotParams), `"message":"hi"`) {
			t.Errorf("params = %s", gotParams)
		}
	})

	t.Run("ignores notifications without a handler", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		// Must not panic.
		p.handleMessage([]byte(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`))
	})

	t.Run("drops unparseable messages", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		p.handleMessage([]byte(`{not json`))
	})
}

func TestProtocol_Fail(t *testing.T) {
	t.Run("delivers the error to pending requests", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		var reqErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reqErr = p.SendRequest(ctx, "textDocument/hover", nil)
		}()

		waitForPending(t, p)
		crash := fmt.Errorf("%w: exit status 2", ErrProcessCrashed)
		p.Fail(crash)
		wg.Wait()

		if !errors.Is(reqErr, ErrProcessCrashed) {
			t.Errorf("expected ErrProcessCrashed, got %v", reqErr)
		}
	})

	t.Run("first error sticks", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)

		crash := fmt.Errorf("%w: exit status 1", ErrProcessCrashed)
		p.Fail(crash)
		p.Fail(errors.New("some later error"))

		_, err := p.SendRequest(context.Background(), "test", nil)
		if !errors.Is(err, ErrProcessCrashed) {
			t.Errorf("expected the first failure error, got %v", err)
		}
	})

	t.Run("nil error defaults to ErrServerNotRunning", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		p.Fail(nil)

		_, err := p.SendRequest(context.Background(), "test", nil)
		if !errors.Is(err, ErrServerNotRunning) {
			t.Errorf("expected ErrServerNotRunning, got %v", err)
		}
	})
}

func TestProtocol_ReadLoop(t *testing.T) {
	t.Run("maps EOF to ErrProcessCrashed", func(t *testing.T) {
		clientIn, serverOut := io.Pipe()
		var buf bytes.Buffer
		p := NewProtocol(clientIn, &buf)

		errCh := make(chan error, 1)
		go func() { errCh <- p.ReadLoop(context.Background()) }()

		serverOut.Close()

		select {
		case err := <-errCh:
			if !errors.Is(err, ErrProcessCrashed) {
				t.Errorf("expected ErrProcessCrashed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("ReadLoop did not return")
		}
	})

	t.Run("returns nil on EOF after close", func(t *testing.T) {
		clientIn, serverOut := io.Pipe()
		var buf bytes.Buffer
		p := NewProtocol(clientIn, &buf)

		errCh := make(chan error, 1)
		go func() { errCh <- p.ReadLoop(context.Background()) }()

		p.Close()
		serverOut.Close()

		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("expected nil after orderly close, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("ReadLoop did not return")
		}
	})

	t.Run("errors without a reader", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf)
		if err := p.ReadLoop(context.Background()); err == nil {
			t.Error("expected error for nil reader")
		}
	})
}
