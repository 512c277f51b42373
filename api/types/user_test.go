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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestUserCanonicalization(t *testing.T) {
	u := &User{
		Email:    "  Ada.Lovelace@Example.COM ",
		Username: "Ada",
		FullName: "Ada Lovelace",
		IsActive: true,
	}
	require.NoError(t, u.CheckAndSetDefaults())
	require.Equal(t, "ada.lovelace@example.com", u.Email)
	require.Equal(t, "ada", u.Username)
	require.NotEmpty(t, u.ID)
}

func TestUserValidation(t *testing.T) {
	tests := []struct {
		name string
		user User
	}{
		{"missing email", User{Username: "ada"}},
		{"email without at sign", User{Email: "nope", Username: "ada"}},
		{"missing username", User{Email: "a@b.c"}},
		{"username with spaces", User{Email: "a@b.c", Username: "ada lovelace"}},
		{"username with slash", User{Email: "a@b.c", Username: "ada/lovelace"}},
		{"bad id", User{ID: "xxx", Email: "a@b.c", Username: "ada"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			err := u.CheckAndSetDefaults()
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestRecipientValidation(t *testing.T) {
	r := &Recipient{
		OwnerID: "owner",
		Name:    "  Grandma  ",
		Email:   "Grandma@Example.com",
	}
	require.NoError(t, r.CheckAndSetDefaults())
	require.Equal(t, "Grandma", r.Name)
	require.Equal(t, "grandma@example.com", r.Email)

	missing := &Recipient{OwnerID: "owner"}
	err := missing.CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err))
}

func TestDraftValidation(t *testing.T) {
	d := &Draft{OwnerID: "owner"}
	require.NoError(t, d.CheckAndSetDefaults())
	require.NotEmpty(t, d.ID)

	bad := &Draft{OwnerID: "owner", RecipientID: "not-a-uuid"}
	err := bad.CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err))
}
