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
	"fmt"
	"time"
)

// =============================================================================
// QUERIES
// =============================================================================

// References finds all references to the symbol at a position.
//
// Description:
//
//	Sends textDocument/references for the symbol at the given position.
//	The declaration itself is included. A null result from the server
//	normalizes to an empty slice.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	path - Absolute file path (document should be open)
//	pos - 0-indexed position of the symbol
//
// Outputs:
//
//	[]Location - Reference locations; empty if the symbol has none
//	error - ErrCapabilityUnsupported if the server lacks the provider
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) References(ctx context.Context, path string, pos Position) ([]Location, error) {
	if !s.Capabilities().HasReferencesProvider() {
		return nil, fmt.Errorf("%w: references", ErrCapabilityUnsupported)
	}

	ctx, span := startOperationSpan(ctx, "References", s.config.Name, path)
	defer span.End()
	start := time.Now()

	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: true},
	}

	resp, err := s.Request(ctx, "textDocument/references", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "references", s.config.Name, time.Since(start), 0, false)
		return nil, err
	}

	locations, err := parseLocationResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "references", s.config.Name, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse references: %w", err)
	}

	setOperationSpanResult(span, len(locations), true)
	recordOperationMetrics(ctx, "references", s.config.Name, time.Since(start), len(locations), true)
	return locations, nil
}

// Definition finds the definition of the symbol at a position.
//
// Description:
//
//	Sends textDocument/definition. Servers answer with a Location, a
//	Location array, or LocationLink array depending on their vintage;
//	all shapes normalize to []Location. A null result means the symbol
//	has no known definition and yields an empty slice, not an error.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	path - Absolute file path (document should be open)
//	pos - 0-indexed position of the symbol
//
// Outputs:
//
//	[]Location - Definition locations (usually one)
//	error - ErrCapabilityUnsupported if the server lacks the provider
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if !s.Capabilities().HasDefinitionProvider() {
		return nil, fmt.Errorf("%w: definition", ErrCapabilityUnsupported)
	}

	ctx, span := startOperationSpan(ctx, "Definition", s.config.Name, path)
	defer span.End()
	start := time.Now()

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
		Position:     pos,
	}

	resp, err := s.Request(ctx, "textDocument/definition", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "definition", s.config.Name, time.Since(start), 0, false)
		return nil, err
	}

	locations, err := parseLocationResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "definition", s.config.Name, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	setOperationSpanResult(span, len(locations), true)
	recordOperationMetrics(ctx, "definition", s.config.Name, time.Since(start), len(locations), true)
	return locations, nil
}

// Hover fetches documentation for the symbol at a position.
//
// Description:
//
//	Sends textDocument/hover and flattens the response into HoverInfo.
//	A null result (nothing to show) yields (nil, nil).
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	path - Absolute file path (document should be open)
//	pos - 0-indexed position of the symbol
//
// Outputs:
//
//	*HoverInfo - Hover content, or nil if the server had nothing
//	error - ErrCapabilityUnsupported if the server lacks the provider
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Hover(ctx context.Context, path string, pos Position) (*HoverInfo, error) {
	if !s.Capabilities().HasHoverProvider() {
		return nil, fmt.Errorf("%w: hover", ErrCapabilityUnsupported)
	}

	ctx, span := startOperationSpan(ctx, "Hover", s.config.Name, path)
	defer span.End()
	start := time.Now()

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
		Position:     pos,
	}

	resp, err := s.Request(ctx, "textDocument/hover", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", s.config.Name, time.Since(start), 0, false)
		return nil, err
	}

	info, err := parseHoverResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", s.config.Name, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse hover: %w", err)
	}

	count := 0
	if info != nil {
		count = 1
	}
	setOperationSpanResult(span, count, true)
	recordOperationMetrics(ctx, "hover", s.config.Name, time.Since(start), count, true)
	return info, nil
}

// ApplyEdit asks the client side to apply a structured workspace edit.
//
// Description:
//
//	Sends workspace/applyEdit with the given edit. The result always
//	reports whether the edit was applied and a failure reason when not;
//	a server that answers with a bare boolean is normalized too.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	label - Optional human-readable description of the edit
//	edit - The multi-file edit
//
// Outputs:
//
//	*ApplyEditResult - Applied flag plus failure reason
//	error - Non-nil on transport or server error
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) ApplyEdit(ctx context.Context, label string, edit WorkspaceEdit) (*ApplyEditResult, error) {
	ctx, span := startOperationSpan(ctx, "ApplyEdit", s.config.Name, "")
	defer span.End()
	start := time.Now()

	params := ApplyWorkspaceEditParams{
		Label: label,
		Edit:  edit,
	}

	resp, err := s.Request(ctx, "workspace/applyEdit", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "apply_edit", s.config.Name, time.Since(start), 0, false)
		return nil, err
	}

	result, err := parseApplyEditResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "apply_edit", s.config.Name, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse applyEdit: %w", err)
	}

	setOperationSpanResult(span, 1, result.Applied)
	recordOperationMetrics(ctx, "apply_edit", s.config.Name, time.Since(start), 1, result.Applied)
	return result, nil
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// parseLocationResponse parses a location or array of locations response.
func parseLocationResponse(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return []Location{}, nil
	}

	if data[0] == '[' {
		// Try array of LocationLinks first (has targetUri field)
		var links []LocationLink
		if err := json.Unmarshal(data, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
			locations := make([]Location, len(links))
			for i, link := range links {
				locations[i] = Location{
					URI:   link.TargetURI,
					Range: link.TargetSelectionRange,
				}
			}
			return locations, nil
		}

		var locations []Location
		if err := json.Unmarshal(data, &locations); err == nil {
			if locations == nil {
				locations = []Location{}
			}
			return locations, nil
		}
		return nil, ErrInvalidResponse
	}

	// Try single location
	var single Location
	if err := json.Unmarshal(data, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}

	// Try single LocationLink
	var link LocationLink
	if err := json.Unmarshal(data, &link); err == nil && link.TargetURI != "" {
		return []Location{{URI: link.TargetURI, Range: link.TargetSelectionRange}}, nil
	}

	return nil, ErrInvalidResponse
}

// parseHoverResponse flattens the hover result shapes into HoverInfo.
func parseHoverResponse(data json.RawMessage) (*HoverInfo, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	// Modern servers: {contents: {kind, value}, range}
	var result HoverResult
	if err := json.Unmarshal(data, &result); err == nil && result.Contents.Value != "" {
		return &HoverInfo{
			Content: result.Contents.Value,
			Kind:    result.Contents.Kind,
			Range:   result.Range,
		}, nil
	}

	// Legacy servers: contents may be a string or an array of strings.
	var legacy struct {
		Contents json.RawMessage `json:"contents"`
		Range    *Range          `json:"range,omitempty"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, ErrInvalidResponse
	}

	var str string
	if err := json.Unmarshal(legacy.Contents, &str); err == nil {
		return &HoverInfo{Content: str, Kind: "plaintext", Range: legacy.Range}, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(legacy.Contents, &parts); err == nil {
		content := ""
		for _, part := range parts {
			var ps string
			if err := json.Unmarshal(part, &ps); err == nil {
				if content != "" {
					content += "\n"
				}
				content += ps
				continue
			}
			var pm MarkupContent
			if err := json.Unmarshal(part, &pm); err == nil {
				if content != "" {
					content += "\n"
				}
				content += pm.Value
			}
		}
		return &HoverInfo{Content: content, Kind: "plaintext", Range: legacy.Range}, nil
	}

	return nil, ErrInvalidResponse
}

// parseApplyEditResponse normalizes the applyEdit result shapes.
func parseApplyEditResponse(data json.RawMessage) (*ApplyEditResult, error) {
	if len(data) == 0 || string(data) == "null" {
		return &ApplyEditResult{Applied: false, FailureReason: "empty response"}, nil
	}

	var result ApplyEditResult
	if err := json.Unmarshal(data, &result); err == nil {
		return &result, nil
	}

	// Some servers answer with a bare boolean.
	var applied bool
	if err := json.Unmarshal(data, &applied); err == nil {
		return &ApplyEditResult{Applied: applied}, nil
	}

	return nil, ErrInvalidResponse
}
