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

// Package test contains the conformance suite shared by all backend
// implementations.
package test

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/lib/backend"
)

// Constructor returns a fresh empty backend for one subtest.
type Constructor func(t *testing.T) backend.Backend

// RunSuite runs the backend conformance suite against the backend built
// by the constructor.
func RunSuite(t *testing.T, newBackend Constructor) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newBackend(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newBackend(t)) })
	t.Run("Range", func(t *testing.T) { testRange(t, newBackend(t)) })
	t.Run("RevisionIDs", func(t *testing.T) { testRevisionIDs(t, newBackend(t)) })
}

func testCRUD(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	key := backend.Key("test", "crud")

	_, err := b.Get(ctx, key)
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, b.Create(ctx, backend.Item{Key: key, Value: []byte("one")}))
	err = b.Create(ctx, backend.Item{Key: key, Value: []byte("two")})
	require.True(t, trace.IsAlreadyExists(err))

	item, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), item.Value)

	require.NoError(t, b.Update(ctx, backend.Item{Key: key, Value: []byte("two")}))
	item, err = b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), item.Value)

	require.NoError(t, b.Put(ctx, backend.Item{Key: key, Value: []byte("three")}))
	item, err = b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("three"), item.Value)

	require.NoError(t, b.Delete(ctx, key))
	err = b.Delete(ctx, key)
	require.True(t, trace.IsNotFound(err))

	err = b.Update(ctx, backend.Item{Key: key, Value: []byte("nope")})
	require.True(t, trace.IsNotFound(err))
}

func testCompareAndSwap(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	key := backend.Key("test", "cas")

	err := b.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("missing")},
		backend.Item{Key: key, Value: []byte("new")})
	require.True(t, trace.IsCompareFailed(err))

	require.NoError(t, b.Create(ctx, backend.Item{Key: key, Value: []byte("one")}))

	err = b.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("stale")},
		backend.Item{Key: key, Value: []byte("new")})
	require.True(t, trace.IsCompareFailed(err))

	require.NoError(t, b.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("one")},
		backend.Item{Key: key, Value: []byte("two")}))

	item, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), item.Value)
}

func testRange(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	prefix := "range"
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Create(ctx, backend.Item{
			Key:   backend.Key(prefix, name),
			Value: []byte(name),
		}))
	}
	// A sibling outside the prefix must not match.
	require.NoError(t, b.Create(ctx, backend.Item{
		Key:   backend.Key("rangezz", "e"),
		Value: []byte("e"),
	}))

	start := backend.ExactKey(prefix)
	res, err := b.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	require.NoError(t, err)
	require.Len(t, res.Items, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		require.Equal(t, backend.Key(prefix, name), res.Items[i].Key)
	}

	res, err = b.GetRange(ctx, start, backend.RangeEnd(start), 2)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	require.NoError(t, b.DeleteRange(ctx, start, backend.RangeEnd(start)))
	res, err = b.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	require.NoError(t, err)
	require.Empty(t, res.Items)

	item, err := b.Get(ctx, backend.Key("rangezz", "e"))
	require.NoError(t, err)
	require.Equal(t, []byte("e"), item.Value)
}

func testRevisionIDs(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	key := backend.Key("test", "rev")

	require.NoError(t, b.Create(ctx, backend.Item{Key: key, Value: []byte("one")}))
	first, err := b.Get(ctx, key)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, backend.Item{Key: key, Value: []byte("two")}))
	second, err := b.Get(ctx, key)
	require.NoError(t, err)

	require.Greater(t, second.ID, first.ID)
}
