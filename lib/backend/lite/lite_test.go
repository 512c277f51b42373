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

package lite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/backend/test"
)

func TestLiteConformance(t *testing.T) {
	test.RunSuite(t, func(t *testing.T) backend.Backend {
		b, err := New(context.Background(), Config{Path: t.TempDir()})
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestLitePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := backend.Key("persist", "a")

	b, err := New(ctx, Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.Create(ctx, backend.Item{Key: key, Value: []byte("v")}))
	require.NoError(t, b.Close())

	b, err = New(ctx, Config{Path: dir})
	require.NoError(t, err)
	defer b.Close()

	item, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), item.Value)
}

func TestLiteConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
