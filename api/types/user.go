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

package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// MaxFullNameLength is the maximum length of a user's display name.
const MaxFullNameLength = 255

// User is a registered account. Email and username are unique and stored in
// canonical (lowercased) form.
type User struct {
	// ID is the user identifier (UUID string).
	ID string `json:"id"`
	// Email is the canonical login email.
	Email string `json:"email"`
	// Username is the canonical public handle.
	Username string `json:"username"`
	// HashedPassword is the bcrypt hash of the user's password. Never
	// serialized to clients.
	HashedPassword string `json:"-"`
	// FullName is the display name.
	FullName string `json:"full_name,omitempty"`
	// IsActive gates every authenticated operation. Deactivated users
	// keep their rows but cannot act.
	IsActive bool `json:"is_active"`
	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at"`
	// LastLoginAt is when the account last exchanged credentials for
	// tokens. Zero if the user has never signed in.
	LastLoginAt time.Time `json:"last_login_at"`
}

// CanonicalEmail normalizes an email address for storage and lookups.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CanonicalUsername normalizes a username for storage and lookups.
func CanonicalUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// CheckAndSetDefaults validates the user and canonicalizes its unique
// fields.
func (u *User) CheckAndSetDefaults() error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, err := uuid.Parse(u.ID); err != nil {
		return trace.BadParameter("invalid user id %q", u.ID)
	}
	u.Email = CanonicalEmail(u.Email)
	if u.Email == "" {
		return trace.BadParameter("missing user email")
	}
	if !strings.Contains(u.Email, "@") {
		return trace.BadParameter("invalid user email %q", u.Email)
	}
	u.Username = CanonicalUsername(u.Username)
	if u.Username == "" {
		return trace.BadParameter("missing username")
	}
	if strings.ContainsAny(u.Username, " \t/") {
		return trace.BadParameter("invalid username %q", u.Username)
	}
	if len(u.FullName) > MaxFullNameLength {
		return trace.BadParameter("user full name exceeds %v characters", MaxFullNameLength)
	}
	return nil
}
