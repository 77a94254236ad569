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
	"fmt"
	"strconv"
	"strings"
)

// headerTerminator separates the ASCII header block from the message body.
const headerTerminator = "\r\n\r\n"

// =============================================================================
// FRAMER
// =============================================================================

// Framer is an incremental decoder for the LSP base protocol framing: an
// ASCII header block terminated by an empty line, carrying a decimal
// Content-Length field, followed by exactly that many body bytes.
//
// Description:
//
//	Feed appends raw bytes in whatever chunk sizes the pipe delivers; Next
//	drains complete payloads. A single chunk may complete zero, one, or
//	many frames. A header without a Content-Length field is skipped and
//	reported as ErrMalformedHeader; the stream resyncs at the next header.
//
// Thread Safety:
//
//	NOT safe for concurrent use. A Framer belongs to the single reader
//	goroutine of one process's output stream.
type Framer struct {
	buf bytes.Buffer

	// need is the body length of the frame currently being assembled,
	// or -1 when no header has been parsed yet.
	need int
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{need: -1}
}

// Feed appends a chunk of raw stream bytes to the framer's buffer.
func (f *Framer) Feed(p []byte) {
	f.buf.Write(p)
}

// Next returns the next complete payload.
//
// Outputs:
//
//	payload - The frame body; may be empty for Content-Length: 0
//	ok - True if a payload was produced; false means wait for more data
//	err - ErrMalformedHeader if a header had to be skipped (call Next again)
func (f *Framer) Next() (payload []byte, ok bool, err error) {
	if f.need < 0 {
		idx := bytes.Index(f.buf.Bytes(), []byte(headerTerminator))
		if idx < 0 {
			return nil, false, nil
		}

		header := string(f.buf.Next(idx + len(headerTerminator)))
		length, perr := parseContentLength(header[:idx])
		if perr != nil {
			// Skip the malformed header and resync at the next one.
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedHeader, perr)
		}
		f.need = length
	}

	if f.buf.Len() < f.need {
		return nil, false, nil
	}

	payload = make([]byte, f.need)
	copy(payload, f.buf.Next(f.need))
	f.need = -1
	return payload, true, nil
}

// Buffered returns the number of bytes held but not yet consumed.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// parseContentLength extracts the Content-Length value from a header block.
func parseContentLength(header string) (int, error) {
	for _, line := range strings.Split(header, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			// Ignore Content-Type and any other headers.
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid Content-Length value %q", strings.TrimSpace(value))
		}
		if length < 0 {
			return 0, fmt.Errorf("negative Content-Length: %d", length)
		}
		return length, nil
	}
	return 0, fmt.Errorf("no Content-Length field in header")
}

// EncodeFrame returns the exact byte sequence to write for a payload:
// the Content-Length header, the terminating empty line, and the body.
func EncodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d%s", len(payload), headerTerminator)
	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	frame = append(frame, payload...)
	return frame
}
