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

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codenav/config"
)

// newTestRegistry builds a registry over the embedded server defaults.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	servers, err := config.Default()
	require.NoError(t, err)
	return NewRegistry(servers)
}

func TestRegistry_PoolFor(t *testing.T) {
	t.Run("creates a pool per tool and root", func(t *testing.T) {
		r := newTestRegistry(t)

		p, err := r.PoolFor("go", "/workspace/a")
		require.NoError(t, err)
		assert.Equal(t, "go", p.Tool())
		assert.Equal(t, "/workspace/a", p.Root())
	})

	t.Run("returns the same pool for the same pair", func(t *testing.T) {
		r := newTestRegistry(t)

		a, err := r.PoolFor("go", "/workspace")
		require.NoError(t, err)
		b, err := r.PoolFor("go", "/workspace")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("distinct roots get distinct pools", func(t *testing.T) {
		r := newTestRegistry(t)

		a, err := r.PoolFor("go", "/workspace/a")
		require.NoError(t, err)
		b, err := r.PoolFor("go", "/workspace/b")
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("rejects unknown tools", func(t *testing.T) {
		r := newTestRegistry(t)
		_, err := r.PoolFor("cobol", "/workspace")
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("fails after shutdown", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.ShutdownAll(context.Background()))

		_, err := r.PoolFor("go", "/workspace")
		assert.ErrorIs(t, err, ErrRegistryClosed)
	})
}

func TestRegistry_Sessions(t *testing.T) {
	t.Run("SessionFor carries the tool's language id", func(t *testing.T) {
		r := newTestRegistry(t)

		sess, err := r.SessionFor("go", "/workspace")
		require.NoError(t, err)
		assert.Equal(t, "go", sess.languageID)
	})

	t.Run("SessionForPath resolves the tool by extension", func(t *testing.T) {
		r := newTestRegistry(t)

		sess, err := r.SessionForPath("/workspace/src/lib.rs", "/workspace")
		require.NoError(t, err)
		assert.Equal(t, "rust", sess.pool.Tool())
	})

	t.Run("SessionForPath rejects unhandled extensions", func(t *testing.T) {
		r := newTestRegistry(t)
		_, err := r.SessionForPath("/workspace/README.md", "/workspace")
		assert.ErrorIs(t, err, ErrUnknownTool)
	})
}

func TestRegistry_Stats(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PoolFor("go", "/workspace/a")
	require.NoError(t, err)
	_, err = r.PoolFor("python", "/workspace/b")
	require.NoError(t, err)

	stats := r.Stats()
	assert.Len(t, stats, 2)
}

func TestRegistry_ShutdownAll(t *testing.T) {
	t.Run("closes every pool", func(t *testing.T) {
		r := newTestRegistry(t)

		p, err := r.PoolFor("go", "/workspace")
		require.NoError(t, err)
		require.NoError(t, r.ShutdownAll(context.Background()))

		_, err = p.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrPoolClosed)
	})

	t.Run("is idempotent", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.ShutdownAll(context.Background()))
		require.NoError(t, r.ShutdownAll(context.Background()))
	})
}
