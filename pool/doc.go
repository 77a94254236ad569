// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool manages bounded pools of language server processes.
//
// A Pool owns every process for one (tool, workspace root) pair and
// enforces a ceiling on concurrent processes. Acquisition prefers an idle
// process, spawns a new one while under the ceiling, and otherwise blocks
// until a process is released or the context expires. Processes are started
// lazily: a pool slot is cheap until the first operation actually needs the
// child process, at which point the spawn and initialize handshake happen
// exactly once.
//
// A background janitor evicts processes idle past their deadline, and a
// per-process exit watcher removes crashed processes so their slots free
// up immediately.
//
// # Components
//
//   - Pool: bounded process set for one tool and root
//   - PooledProcess: one slot with lazy start and crash detection
//   - Session: scoped acquire/operate/release around a single operation
//   - Registry: pools keyed by (tool, root) plus the shared janitor
//
// # Example
//
//	reg := pool.NewRegistry(servers)
//	defer reg.ShutdownAll(context.Background())
//
//	sess, err := reg.SessionFor("go", "/path/to/project")
//	if err != nil {
//	    return err
//	}
//	refs, err := sess.References(ctx, "/path/to/project/main.go", 42, 8)
package pool
