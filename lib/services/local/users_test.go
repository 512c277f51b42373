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

package local

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/backend/memory"
)

func newUser(email, username string) *types.User {
	return &types.User{
		Email:          email,
		Username:       username,
		HashedPassword: "$2a$10$fakefakefakefakefakefake",
		FullName:       "Test User",
		IsActive:       true,
		CreatedAt:      t0,
	}
}

func TestUserCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	svc := NewIdentityService(memory.New())

	created, err := svc.CreateUser(ctx, newUser("Alice@Example.COM", "Alice"))
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", created.Email)
	require.Equal(t, "alice", created.Username)
	require.Empty(t, created.HashedPassword)

	got, err := svc.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Email, got.Email)
	require.Empty(t, got.HashedPassword)

	byEmail, err := svc.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)

	byUsername, err := svc.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, created.ID, byUsername.ID)

	hash, err := svc.GetPasswordHash(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "$2a$10$fakefakefakefakefakefake", string(hash))

	_, err = svc.GetUserByEmail(ctx, "nobody@example.com")
	require.True(t, trace.IsNotFound(err))
}

func TestUserUniqueness(t *testing.T) {
	ctx := context.Background()
	svc := NewIdentityService(memory.New())

	_, err := svc.CreateUser(ctx, newUser("alice@example.com", "alice"))
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, newUser("alice@example.com", "alice2"))
	require.True(t, trace.IsAlreadyExists(err))

	_, err = svc.CreateUser(ctx, newUser("alice2@example.com", "alice"))
	require.True(t, trace.IsAlreadyExists(err))

	// The failed attempts must not leave index debris behind.
	_, err = svc.CreateUser(ctx, newUser("alice2@example.com", "alice2"))
	require.NoError(t, err)
}

func TestUserLastLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewIdentityService(memory.New())

	created, err := svc.CreateUser(ctx, newUser("alice@example.com", "alice"))
	require.NoError(t, err)
	require.True(t, created.LastLoginAt.IsZero())

	loginAt := t0.Add(time.Hour)
	require.NoError(t, svc.UpdateUserLastLogin(ctx, created.ID, loginAt))

	got, err := svc.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, loginAt, got.LastLoginAt.UTC())
}
