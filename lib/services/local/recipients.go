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
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/services"
)

const recipientsPrefix = "recipients"

// RecipientService manages contact books over a backend.
type RecipientService struct {
	backend backend.Backend
}

// NewRecipientService returns a new recipient storage service.
func NewRecipientService(b backend.Backend) *RecipientService {
	return &RecipientService{backend: b}
}

func recipientKey(ownerID, id string) []byte {
	return backend.Key(recipientsPrefix, ownerID, id)
}

// CreateRecipient adds a contact-book entry.
func (s *RecipientService) CreateRecipient(ctx context.Context, recipient *types.Recipient) (*types.Recipient, error) {
	value, err := services.MarshalRecipient(recipient)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Create(ctx, backend.Item{Key: recipientKey(recipient.OwnerID, recipient.ID), Value: value}); err != nil {
		return nil, trace.Wrap(err)
	}
	return recipient, nil
}

// GetRecipient returns the owner's entry by id.
func (s *RecipientService) GetRecipient(ctx context.Context, ownerID, id string) (*types.Recipient, error) {
	if ownerID == "" {
		return nil, trace.BadParameter("missing recipient owner id")
	}
	if id == "" {
		return nil, trace.BadParameter("missing recipient id")
	}
	item, err := s.backend.Get(ctx, recipientKey(ownerID, id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("recipient %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	recipient, err := services.UnmarshalRecipient(item.Value)
	return recipient, trace.Wrap(err)
}

// ListRecipients returns all of the owner's entries ordered by name.
func (s *RecipientService) ListRecipients(ctx context.Context, ownerID string) ([]*types.Recipient, error) {
	if ownerID == "" {
		return nil, trace.BadParameter("missing recipient owner id")
	}
	startKey := backend.ExactKey(recipientsPrefix, ownerID)
	result, err := s.backend.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Recipient, 0, len(result.Items))
	for _, item := range result.Items {
		recipient, err := services.UnmarshalRecipient(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, recipient)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// DeleteRecipient removes the owner's entry.
func (s *RecipientService) DeleteRecipient(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return trace.BadParameter("missing recipient owner id")
	}
	if id == "" {
		return trace.BadParameter("missing recipient id")
	}
	err := s.backend.Delete(ctx, recipientKey(ownerID, id))
	if trace.IsNotFound(err) {
		return trace.NotFound("recipient %q is not found", id)
	}
	return trace.Wrap(err)
}
