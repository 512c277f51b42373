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

// MaxRecipientNameLength is the maximum length of a recipient's name.
const MaxRecipientNameLength = 255

// Recipient is a contact-book entry private to its owner. It carries no
// access rights; a capsule is addressed to a user id, and a recipient only
// remembers who that user is.
type Recipient struct {
	// ID is the recipient identifier (UUID string).
	ID string `json:"id"`
	// OwnerID identifies the user whose contact book this entry is in.
	OwnerID string `json:"owner_id"`
	// Name is the display name the owner chose for this contact.
	Name string `json:"name"`
	// Email optionally records the contact's email address.
	Email string `json:"email,omitempty"`
	// UserID optionally links the contact to a registered user.
	UserID string `json:"user_id,omitempty"`
	// CreatedAt is when the entry was added.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the recipient and fills in generated
// fields.
func (r *Recipient) CheckAndSetDefaults() error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, err := uuid.Parse(r.ID); err != nil {
		return trace.BadParameter("invalid recipient id %q", r.ID)
	}
	if r.OwnerID == "" {
		return trace.BadParameter("missing recipient owner")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return trace.BadParameter("missing recipient name")
	}
	if len(r.Name) > MaxRecipientNameLength {
		return trace.BadParameter("recipient name exceeds %v characters", MaxRecipientNameLength)
	}
	if r.Email != "" {
		r.Email = CanonicalEmail(r.Email)
		if !strings.Contains(r.Email, "@") {
			return trace.BadParameter("invalid recipient email %q", r.Email)
		}
	}
	if r.UserID != "" {
		if _, err := uuid.Parse(r.UserID); err != nil {
			return trace.BadParameter("invalid recipient user id %q", r.UserID)
		}
	}
	return nil
}
