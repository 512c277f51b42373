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

package services

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/utils"
)

// Identity manages user accounts. Password hashes are stored out of band
// of the user record and only surface through GetPasswordHash.
type Identity interface {
	// CreateUser registers a user, enforcing email and username
	// uniqueness with trace.AlreadyExists. The HashedPassword field of
	// the passed user is persisted separately and never returned by
	// the read methods.
	CreateUser(ctx context.Context, user *types.User) (*types.User, error)

	// GetUser returns a user by id or trace.NotFound.
	GetUser(ctx context.Context, id string) (*types.User, error)

	// GetUserByEmail resolves a user through the canonical email index.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	// GetUserByUsername resolves a user through the canonical username
	// index.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// UpdateUser overwrites the mutable fields of an existing user.
	// Email and username are immutable once registered.
	UpdateUser(ctx context.Context, user *types.User) error

	// GetPasswordHash returns the stored bcrypt hash for the user.
	GetPasswordHash(ctx context.Context, userID string) ([]byte, error)

	// UpdateUserLastLogin records a successful credential exchange.
	UpdateUserLastLogin(ctx context.Context, userID string, t time.Time) error
}

// MarshalUser serializes a user record for storage. The password hash is
// excluded by the type's JSON mapping; implementations store it under a
// dedicated key.
func MarshalUser(user *types.User) ([]byte, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := utils.FastMarshal(user)
	return data, trace.Wrap(err)
}

// UnmarshalUser deserializes a stored user record.
func UnmarshalUser(data []byte) (*types.User, error) {
	var user types.User
	if err := utils.FastUnmarshal(data, &user); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}
