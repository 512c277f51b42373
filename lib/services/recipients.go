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

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/utils"
)

// Recipients manages the per-user contact book. Entries carry no access
// rights and are visible to their owner alone.
type Recipients interface {
	// CreateRecipient adds a contact-book entry.
	CreateRecipient(ctx context.Context, recipient *types.Recipient) (*types.Recipient, error)

	// GetRecipient returns the owner's entry by id or trace.NotFound.
	GetRecipient(ctx context.Context, ownerID, id string) (*types.Recipient, error)

	// ListRecipients returns all of the owner's entries ordered by
	// name.
	ListRecipients(ctx context.Context, ownerID string) ([]*types.Recipient, error)

	// DeleteRecipient removes the owner's entry.
	DeleteRecipient(ctx context.Context, ownerID, id string) error
}

// MarshalRecipient serializes a recipient for storage, validating it
// first.
func MarshalRecipient(recipient *types.Recipient) ([]byte, error) {
	if err := recipient.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := utils.FastMarshal(recipient)
	return data, trace.Wrap(err)
}

// UnmarshalRecipient deserializes a stored recipient.
func UnmarshalRecipient(data []byte) (*types.Recipient, error) {
	var recipient types.Recipient
	if err := utils.FastUnmarshal(data, &recipient); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := recipient.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &recipient, nil
}
