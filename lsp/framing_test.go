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
	"errors"
	"fmt"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	t.Run("prefixes Content-Length header", func(t *testing.T) {
		frame := EncodeFrame([]byte(`{"jsonrpc":"2.0"}`))
		want := "Content-Length: 17\r\n\r\n" + `{"jsonrpc":"2.0"}`
		if string(frame) != want {
			t.Errorf("got %q, want %q", frame, want)
		}
	})

	t.Run("encodes empty payload", func(t *testing.T) {
		frame := EncodeFrame(nil)
		if string(frame) != "Content-Length: 0\r\n\r\n" {
			t.Errorf("got %q", frame)
		}
	})
}

func TestFramer_RoundTrip(t *testing.T) {
	t.Run("decodes an encoded frame", func(t *testing.T) {
		payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"test"}`)

		f := NewFramer()
		f.Feed(EncodeFrame(payload))

		got, ok, err := f.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			t.Fatal("expected a complete frame")
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("got %q, want %q", got, payload)
		}
	})

	t.Run("survives byte-by-byte delivery", func(t *testing.T) {
		payload := []byte(`{"method":"textDocument/didOpen"}`)
		frame := EncodeFrame(payload)

		f := NewFramer()
		var got []byte
		for _, b := range frame {
			f.Feed([]byte{b})
			p, ok, err := f.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if ok {
				got = p
			}
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("got %q, want %q", got, payload)
		}
	})

	t.Run("drains multiple frames from one chunk", func(t *testing.T) {
		payloads := [][]byte{
			[]byte(`{"id":1}`),
			[]byte(`{"id":2}`),
			[]byte(`{"id":3}`),
		}
		var chunk []byte
		for _, p := range payloads {
			chunk = append(chunk, EncodeFrame(p)...)
		}

		f := NewFramer()
		f.Feed(chunk)

		for i, want := range payloads {
			got, ok, err := f.Next()
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if !ok {
				t.Fatalf("frame %d: expected complete frame", i)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("frame %d: got %q, want %q", i, got, want)
			}
		}

		if _, ok, _ := f.Next(); ok {
			t.Error("expected no more frames")
		}
		if f.Buffered() != 0 {
			t.Errorf("Buffered() = %d, want 0", f.Buffered())
		}
	})

	t.Run("accepts Content-Length zero", func(t *testing.T) {
		f := NewFramer()
		f.Feed([]byte("Content-Length: 0\r\n\r\n"))

		got, ok, err := f.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			t.Fatal("expected a complete frame")
		}
		if len(got) != 0 {
			t.Errorf("got %q, want empty payload", got)
		}
	})

	t.Run("waits for the full body", func(t *testing.T) {
		payload := []byte(`{"id":1,"result":null}`)
		frame := EncodeFrame(payload)

		f := NewFramer()
		f.Feed(frame[:len(frame)-5])

		if _, ok, err := f.Next(); ok || err != nil {
			t.Fatalf("expected incomplete frame, got ok=%v err=%v", ok, err)
		}

		f.Feed(frame[len(frame)-5:])
		got, ok, err := f.Next()
		if err != nil || !ok {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("got %q, want %q", got, payload)
		}
	})
}

func TestFramer_Headers(t *testing.T) {
	t.Run("ignores extra headers", func(t *testing.T) {
		payload := `{"id":7}`
		input := fmt.Sprintf(
			"Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: %d\r\n\r\n%s",
			len(payload), payload)

		f := NewFramer()
		f.Feed([]byte(input))

		got, ok, err := f.Next()
		if err != nil || !ok {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
		if string(got) != payload {
			t.Errorf("got %q, want %q", got, payload)
		}
	})

	t.Run("matches header name case-insensitively", func(t *testing.T) {
		payload := `{}`
		input := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(payload), payload)

		f := NewFramer()
		f.Feed([]byte(input))

		if _, ok, err := f.Next(); !ok || err != nil {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
	})

	t.Run("skips header without Content-Length and resyncs", func(t *testing.T) {
		good := `{"id":9}`
		input := "X-Garbage: yes\r\n\r\n" +
			fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(good), good)

		f := NewFramer()
		f.Feed([]byte(input))

		_, ok, err := f.Next()
		if !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader, got ok=%v err=%v", ok, err)
		}

		got, ok, err := f.Next()
		if err != nil || !ok {
			t.Fatalf("after resync: ok=%v err=%v", ok, err)
		}
		if string(got) != good {
			t.Errorf("got %q, want %q", got, good)
		}
	})

	t.Run("rejects negative Content-Length", func(t *testing.T) {
		f := NewFramer()
		f.Feed([]byte("Content-Length: -5\r\n\r\n"))

		_, _, err := f.Next()
		if !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader, got %v", err)
		}
	})

	t.Run("rejects non-numeric Content-Length", func(t *testing.T) {
		f := NewFramer()
		f.Feed([]byte("Content-Length: banana\r\n\r\n"))

		_, _, err := f.Next()
		if !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader, got %v", err)
		}
	})
}
