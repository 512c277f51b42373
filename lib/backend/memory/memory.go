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

// Package memory implements an in-memory backend backed by a B-tree.
// It is the default backend of the test suites and works for ephemeral
// single-process deployments.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/lib/backend"
)

// btreeDegree is the degree of the underlying B-tree.
const btreeDegree = 8

type btreeItem struct {
	backend.Item
}

func less(a, b *btreeItem) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Memory is an in-memory backend. All operations are guarded by a single
// mutex; none of them perform I/O while holding it.
type Memory struct {
	mu     sync.Mutex
	tree   *btree.BTreeG[*btreeItem]
	nextID int64
	closed bool
}

// New returns a new empty in-memory backend.
func New() *Memory {
	return &Memory{
		tree:   btree.NewG[*btreeItem](btreeDegree, less),
		nextID: 1,
	}
}

// Close releases the tree. Subsequent operations fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tree.Clear(false)
	return nil
}

// Create creates an item if it does not exist.
func (m *Memory) Create(ctx context.Context, i Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	if _, found := m.tree.Get(&btreeItem{Item: i}); found {
		return trace.AlreadyExists("key %q already exists", string(i.Key))
	}
	m.put(i)
	return nil
}

// Put creates or overwrites an item.
func (m *Memory) Put(ctx context.Context, i Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	m.put(i)
	return nil
}

// Update overwrites an existing item.
func (m *Memory) Update(ctx context.Context, i Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	if _, found := m.tree.Get(&btreeItem{Item: i}); !found {
		return trace.NotFound("key %q is not found", string(i.Key))
	}
	m.put(i)
	return nil
}

// CompareAndSwap replaces the stored item if its value matches expected.
func (m *Memory) CompareAndSwap(ctx context.Context, expected, replaceWith Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	existing, found := m.tree.Get(&btreeItem{Item: expected})
	if !found {
		return trace.CompareFailed("key %q is not found", string(expected.Key))
	}
	if !bytes.Equal(existing.Value, expected.Value) {
		return trace.CompareFailed("current value of %q does not match expected", string(expected.Key))
	}
	m.put(replaceWith)
	return nil
}

// Get returns a single item or trace.NotFound.
func (m *Memory) Get(ctx context.Context, key []byte) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	existing, found := m.tree.Get(&btreeItem{Item: Item{Key: key}})
	if !found {
		return nil, trace.NotFound("key %q is not found", string(key))
	}
	item := existing.Item
	return &item, nil
}

// GetRange returns items with startKey <= key < endKey.
func (m *Memory) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	var res backend.GetResult
	m.tree.AscendRange(&btreeItem{Item: Item{Key: startKey}}, &btreeItem{Item: Item{Key: endKey}}, func(item *btreeItem) bool {
		res.Items = append(res.Items, item.Item)
		return limit == backend.NoLimit || len(res.Items) < limit
	})
	return &res, nil
}

// Delete deletes an item by key.
func (m *Memory) Delete(ctx context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	if _, found := m.tree.Delete(&btreeItem{Item: Item{Key: key}}); !found {
		return trace.NotFound("key %q is not found", string(key))
	}
	return nil
}

// DeleteRange deletes all items with startKey <= key < endKey.
func (m *Memory) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return trace.Wrap(err)
	}
	var doomed []*btreeItem
	m.tree.AscendRange(&btreeItem{Item: Item{Key: startKey}}, &btreeItem{Item: Item{Key: endKey}}, func(item *btreeItem) bool {
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		m.tree.Delete(item)
	}
	return nil
}

// put inserts the item with a fresh revision id. Callers hold the mutex.
func (m *Memory) put(i Item) {
	i.ID = m.nextID
	m.nextID++
	m.tree.ReplaceOrInsert(&btreeItem{Item: i})
}

func (m *Memory) check(ctx context.Context) error {
	if m.closed {
		return trace.BadParameter("using a closed memory backend")
	}
	return trace.Wrap(ctx.Err())
}

// Item is re-exported for brevity inside this package.
type Item = backend.Item
