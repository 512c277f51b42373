/*
 * Keepsake
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/lib/backend"
)

func TestProcessStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	process, err := NewProcess(ctx, Config{
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
		Backend:    backend.Config{Type: "memory"},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- process.Run(ctx) }()

	// Give the listeners a moment, then ask for an orderly shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("process did not shut down")
	}
}

func TestProcessRejectsUnknownBackend(t *testing.T) {
	_, err := NewProcess(context.Background(), Config{
		DataDir: t.TempDir(),
		Backend: backend.Config{Type: "postgres"},
	})
	require.True(t, trace.IsBadParameter(err))
}

func TestSigningKeySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := loadOrCreateSigningKey(dir)
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := loadOrCreateSigningKey(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// The key file is private to the server user.
	info, err := os.Stat(filepath.Join(dir, "signing.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
