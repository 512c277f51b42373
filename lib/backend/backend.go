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

// Package backend provides the storage backend abstraction layer. The
// services layer stores every resource as a JSON-encoded item under a
// "/"-separated key, so a backend only needs ordered key-value semantics.
package backend

import (
	"bytes"
	"context"
	"strings"
)

// Backend implements an abstraction over local storage. Item keys are
// valid UTF-8 and ordered bytewise, which range operations rely on.
type Backend interface {
	// Create creates an item if it does not exist. Returns
	// trace.AlreadyExists if it does.
	Create(ctx context.Context, i Item) error

	// Put puts an item into the backend, creating it if it does not
	// exist and overwriting it otherwise.
	Put(ctx context.Context, i Item) error

	// Update updates an existing item. Returns trace.NotFound if the
	// item does not exist.
	Update(ctx context.Context, i Item) error

	// CompareAndSwap replaces the item stored under expected.Key with
	// replaceWith, but only if the stored value equals expected.Value.
	// Returns trace.CompareFailed otherwise.
	CompareAndSwap(ctx context.Context, expected Item, replaceWith Item) error

	// Get returns a single item or trace.NotFound.
	Get(ctx context.Context, key []byte) (*Item, error)

	// GetRange returns items with startKey <= key < endKey in key order,
	// up to limit items. NoLimit means no limit.
	GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*GetResult, error)

	// Delete deletes an item by key. Returns trace.NotFound if the item
	// does not exist.
	Delete(ctx context.Context, key []byte) error

	// DeleteRange deletes all items with startKey <= key < endKey.
	DeleteRange(ctx context.Context, startKey, endKey []byte) error

	// Close closes the backend and releases associated resources.
	Close() error
}

// Item is a key-value record.
type Item struct {
	// Key is the full "/"-separated key of the record.
	Key []byte
	// Value is the record payload, JSON in practice.
	Value []byte
	// ID is a revision counter: every write of a key stores a larger ID
	// than any previous write. Used by CompareAndSwap consumers to
	// detect concurrent modification in tests.
	ID int64
}

// GetResult is the result of a GetRange request.
type GetResult struct {
	// Items is the matched items in ascending key order.
	Items []Item
}

// NoLimit disables the item count limit of GetRange.
const NoLimit = 0

// Separator separates key parts.
const Separator = '/'

// Key joins parts into a path separated by Separator, always starting
// with Separator.
func Key(parts ...string) []byte {
	return []byte(strings.Join(append([]string{""}, parts...), string(Separator)))
}

// ExactKey returns a prefix key that matches only children of the given
// path: Key(parts...) plus a trailing separator.
func ExactKey(parts ...string) []byte {
	return append(Key(parts...), Separator)
}

// RangeEnd returns the key just past every key that has the given key as
// a prefix, for use as the endKey of GetRange and DeleteRange.
func RangeEnd(key []byte) []byte {
	end := make([]byte, len(key))
	copy(end, key)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// key is all 0xff bytes, nothing sorts after its prefix range
	return append(end, 0xff)
}

// Items is a list of backend items sortable by key.
type Items []Item

// Len is part of sort.Interface.
func (it Items) Len() int { return len(it) }

// Swap is part of sort.Interface.
func (it Items) Swap(i, j int) { it[i], it[j] = it[j], it[i] }

// Less is part of sort.Interface.
func (it Items) Less(i, j int) bool { return bytes.Compare(it[i].Key, it[j].Key) < 0 }

// Config is the 'storage' section of the server configuration.
type Config struct {
	// Type selects the backend implementation, "lite" or "memory".
	Type string `yaml:"type,omitempty"`

	// Path is the directory holding backend state, used by the lite
	// backend.
	Path string `yaml:"path,omitempty"`
}
