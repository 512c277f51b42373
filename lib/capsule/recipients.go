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

package capsule

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/utils"
)

// CreateRecipientRequest adds a contact-book entry.
type CreateRecipientRequest struct {
	// Name is the display name for the contact.
	Name string `json:"name"`
	// Email optionally records the contact's email.
	Email string `json:"email,omitempty"`
	// UserID optionally links a registered user. Validated against the
	// identity service when set.
	UserID string `json:"user_id,omitempty"`
}

// CreateRecipient adds an entry to the principal's contact book.
func (s *Server) CreateRecipient(ctx context.Context, principal types.Principal, req CreateRecipientRequest) (*types.Recipient, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.UserID != "" {
		if _, err := s.cfg.Identity.GetUser(ctx, req.UserID); err != nil {
			if trace.IsNotFound(err) {
				return nil, trace.BadParameter("user %q does not exist", req.UserID)
			}
			return nil, trace.Wrap(err)
		}
	}
	recipient := &types.Recipient{
		OwnerID:   principal.ID,
		Name:      utils.SanitizeLine(req.Name, types.MaxRecipientNameLength),
		Email:     req.Email,
		UserID:    req.UserID,
		CreatedAt: s.cfg.Clock.Now().UTC(),
	}
	created, err := s.cfg.Recipients.CreateRecipient(ctx, recipient)
	return created, trace.Wrap(err)
}

// ListRecipients returns the principal's contact book ordered by name.
func (s *Server) ListRecipients(ctx context.Context, principal types.Principal) ([]*types.Recipient, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	recipients, err := s.cfg.Recipients.ListRecipients(ctx, principal.ID)
	return recipients, trace.Wrap(err)
}

// DeleteRecipient removes an entry from the principal's contact book.
func (s *Server) DeleteRecipient(ctx context.Context, principal types.Principal, recipientID string) error {
	if err := s.checkPrincipal(principal); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.cfg.Recipients.DeleteRecipient(ctx, principal.ID, recipientID))
}
