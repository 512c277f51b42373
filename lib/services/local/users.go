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
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/services"
)

const (
	usersPrefix    = "users"
	paramsSuffix   = "params"
	pwdSuffix      = "pwd"
	emailIndex     = "useridx-email"
	usernameIndex  = "useridx-username"
)

// IdentityService manages user accounts over a backend. The user record
// is stored under a params key and the password hash under a sibling pwd
// key, so record reads never carry secrets. Uniqueness of email and
// username is enforced with index keys created alongside the record.
type IdentityService struct {
	backend backend.Backend
}

// NewIdentityService returns a new identity storage service.
func NewIdentityService(b backend.Backend) *IdentityService {
	return &IdentityService{backend: b}
}

func userParamsKey(id string) []byte {
	return backend.Key(usersPrefix, id, paramsSuffix)
}

func userPwdKey(id string) []byte {
	return backend.Key(usersPrefix, id, pwdSuffix)
}

// CreateUser registers a user. The email index is claimed first, then
// the username index, then the record itself; a failed claim rolls back
// the earlier one so a half-registered identity never blocks a retry.
func (s *IdentityService) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	hash := user.HashedPassword
	value, err := services.MarshalUser(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if hash == "" {
		return nil, trace.BadParameter("missing user password hash")
	}
	err = s.backend.Create(ctx, backend.Item{
		Key:   backend.Key(emailIndex, user.Email),
		Value: []byte(user.ID),
	})
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("user with email %q already exists", user.Email)
		}
		return nil, trace.Wrap(err)
	}
	err = s.backend.Create(ctx, backend.Item{
		Key:   backend.Key(usernameIndex, user.Username),
		Value: []byte(user.ID),
	})
	if err != nil {
		s.backend.Delete(ctx, backend.Key(emailIndex, user.Email))
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("user with username %q already exists", user.Username)
		}
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Create(ctx, backend.Item{Key: userParamsKey(user.ID), Value: value}); err != nil {
		s.backend.Delete(ctx, backend.Key(emailIndex, user.Email))
		s.backend.Delete(ctx, backend.Key(usernameIndex, user.Username))
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Put(ctx, backend.Item{Key: userPwdKey(user.ID), Value: []byte(hash)}); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *user
	out.HashedPassword = ""
	return &out, nil
}

// GetUser returns a user by id, without secrets.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*types.User, error) {
	if id == "" {
		return nil, trace.BadParameter("missing user id")
	}
	item, err := s.backend.Get(ctx, userParamsKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	user, err := services.UnmarshalUser(item.Value)
	return user, trace.Wrap(err)
}

// GetUserByEmail resolves a user through the canonical email index.
func (s *IdentityService) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	email = types.CanonicalEmail(email)
	if email == "" {
		return nil, trace.BadParameter("missing email")
	}
	item, err := s.backend.Get(ctx, backend.Key(emailIndex, email))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user with email %q is not found", email)
		}
		return nil, trace.Wrap(err)
	}
	user, err := s.GetUser(ctx, string(item.Value))
	return user, trace.Wrap(err)
}

// GetUserByUsername resolves a user through the canonical username index.
func (s *IdentityService) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	username = types.CanonicalUsername(username)
	if username == "" {
		return nil, trace.BadParameter("missing username")
	}
	item, err := s.backend.Get(ctx, backend.Key(usernameIndex, username))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user with username %q is not found", username)
		}
		return nil, trace.Wrap(err)
	}
	user, err := s.GetUser(ctx, string(item.Value))
	return user, trace.Wrap(err)
}

// UpdateUser overwrites the mutable fields of an existing user. Email
// and username changes are rejected because the uniqueness indexes
// reference the registered values.
func (s *IdentityService) UpdateUser(ctx context.Context, user *types.User) error {
	existing, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if user.Email != existing.Email || user.Username != existing.Username {
		return trace.BadParameter("email and username cannot be changed")
	}
	value, err := services.MarshalUser(user)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.backend.Update(ctx, backend.Item{Key: userParamsKey(user.ID), Value: value}))
}

// GetPasswordHash returns the stored bcrypt hash for the user.
func (s *IdentityService) GetPasswordHash(ctx context.Context, userID string) ([]byte, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing user id")
	}
	item, err := s.backend.Get(ctx, userPwdKey(userID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q has no password set", userID)
		}
		return nil, trace.Wrap(err)
	}
	return item.Value, nil
}

// UpdateUserLastLogin records a successful credential exchange.
func (s *IdentityService) UpdateUserLastLogin(ctx context.Context, userID string, t time.Time) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return trace.Wrap(err)
	}
	user.LastLoginAt = t.UTC()
	value, err := services.MarshalUser(user)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.backend.Update(ctx, backend.Item{Key: userParamsKey(userID), Value: value}))
}
