// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import "errors"

// Sentinel errors for pool management.
var (
	// ErrPoolClosed indicates the pool has been shut down. Acquisitions
	// in flight and later ones all fail with it.
	ErrPoolClosed = errors.New("process pool closed")

	// ErrUnknownTool indicates no server configuration exists for a tool.
	ErrUnknownTool = errors.New("unknown language server tool")

	// ErrRegistryClosed indicates the registry has been shut down.
	ErrRegistryClosed = errors.New("pool registry closed")
)
