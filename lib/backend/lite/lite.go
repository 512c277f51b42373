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

// Package lite implements the SQLite storage backend, the default for
// single-node production deployments.
package lite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/gravitational/keepsake/lib/backend"
)

const (
	// BackendName is the name of this backend in the storage config.
	BackendName = "lite"

	// dbFile is the database file name inside the backend directory.
	dbFile = "keepsake.db"

	// busyTimeout is how long a connection waits on a locked database
	// before failing, in milliseconds.
	busyTimeout = 10000
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT NOT NULL PRIMARY KEY,
	value BLOB NOT NULL,
	id INTEGER NOT NULL
);`

// Config is the lite backend configuration.
type Config struct {
	// Path is the directory holding the database file. Created if
	// missing.
	Path string
	// Memory runs the database in memory, for tests.
	Memory bool
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" && !c.Memory {
		return trace.BadParameter("specify directory path to the database location")
	}
	return nil
}

// Backend is a SQLite-backed key-value store. The database is owned by a
// single process; concurrent access within the process is serialized on
// one connection, which matches the single-writer assumption of the
// state machine.
type Backend struct {
	Config
	db *sql.DB
}

// New returns a lite backend for the given configuration, creating the
// database and schema as needed.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	var dsn string
	if cfg.Memory {
		dsn = fmt.Sprintf("file:lite-%v?mode=memory&cache=shared", os.Getpid())
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		path := filepath.Join(cfg.Path, dbFile)
		dsn = fmt.Sprintf("file:%v?%v", url.PathEscape(path),
			url.Values{
				"_busy_timeout": []string{fmt.Sprintf("%v", busyTimeout)},
				"_journal_mode": []string{"WAL"},
				"_sync":         []string{"NORMAL"},
			}.Encode())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// Single connection: SQLite supports one writer, and keeping a lone
	// connection also pins the shared in-memory database alive.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, trace.Wrap(convertError(err))
	}
	return &Backend{Config: cfg, db: db}, nil
}

// Close closes the database.
func (l *Backend) Close() error {
	return trace.Wrap(l.db.Close())
}

// Create creates an item if it does not exist.
func (l *Backend) Create(ctx context.Context, i backend.Item) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO kv (key, value, id) VALUES (?, ?, ?)",
			string(i.Key), i.Value, id)
		if isConstraintError(err) {
			return trace.AlreadyExists("key %q already exists", string(i.Key))
		}
		return trace.Wrap(convertError(err))
	})
}

// Put creates or overwrites an item.
func (l *Backend) Put(ctx context.Context, i backend.Item) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO kv (key, value, id) VALUES (?, ?, ?)",
			string(i.Key), i.Value, id)
		return trace.Wrap(convertError(err))
	})
}

// Update overwrites an existing item.
func (l *Backend) Update(ctx context.Context, i backend.Item) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx)
		if err != nil {
			return trace.Wrap(err)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE kv SET value = ?, id = ? WHERE key = ?",
			i.Value, id, string(i.Key))
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if n == 0 {
			return trace.NotFound("key %q is not found", string(i.Key))
		}
		return nil
	})
}

// CompareAndSwap replaces the stored item if its value matches expected.
func (l *Backend) CompareAndSwap(ctx context.Context, expected, replaceWith backend.Item) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		var value []byte
		err := tx.QueryRowContext(ctx,
			"SELECT value FROM kv WHERE key = ?", string(expected.Key)).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return trace.CompareFailed("key %q is not found", string(expected.Key))
		}
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		if string(value) != string(expected.Value) {
			return trace.CompareFailed("current value of %q does not match expected", string(expected.Key))
		}
		id, err := nextID(ctx, tx)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE kv SET value = ?, id = ? WHERE key = ?",
			replaceWith.Value, id, string(replaceWith.Key))
		return trace.Wrap(convertError(err))
	})
}

// Get returns a single item or trace.NotFound.
func (l *Backend) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	item := backend.Item{Key: key}
	err := l.db.QueryRowContext(ctx,
		"SELECT value, id FROM kv WHERE key = ?", string(key)).Scan(&item.Value, &item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trace.NotFound("key %q is not found", string(key))
	}
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	return &item, nil
}

// GetRange returns items with startKey <= key < endKey in key order.
func (l *Backend) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	q := "SELECT key, value, id FROM kv WHERE key >= ? AND key < ? ORDER BY key"
	args := []any{string(startKey), string(endKey)}
	if limit != backend.NoLimit {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()
	var res backend.GetResult
	for rows.Next() {
		var item backend.Item
		var key string
		if err := rows.Scan(&key, &item.Value, &item.ID); err != nil {
			return nil, trace.Wrap(err)
		}
		item.Key = []byte(key)
		res.Items = append(res.Items, item)
	}
	return &res, trace.Wrap(rows.Err())
}

// Delete deletes an item by key.
func (l *Backend) Delete(ctx context.Context, key []byte) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", string(key))
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if n == 0 {
			return trace.NotFound("key %q is not found", string(key))
		}
		return nil
	})
}

// DeleteRange deletes all items with startKey <= key < endKey.
func (l *Backend) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM kv WHERE key >= ? AND key < ?",
			string(startKey), string(endKey))
		return trace.Wrap(convertError(err))
	})
}

// nextID allocates the next revision id within a transaction.
func nextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(id) FROM kv").Scan(&id); err != nil {
		return 0, trace.Wrap(convertError(err))
	}
	return id.Int64 + 1, nil
}

func (l *Backend) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return trace.NewAggregate(err, rbErr)
		}
		return trace.Wrap(err)
	}
	return trace.Wrap(convertError(tx.Commit()))
}

func isConstraintError(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// convertError maps driver errors so no sqlite error type leaks past the
// backend boundary.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return trace.ConnectionProblem(err, "database error: %v", serr.Error())
	}
	return err
}
