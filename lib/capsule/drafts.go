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

// DraftRequest carries the mutable fields of a scratchpad draft.
type DraftRequest struct {
	// Title is the working subject line.
	Title string `json:"title,omitempty"`
	// Body is the working letter text.
	Body string `json:"body,omitempty"`
	// MediaURLs is the working attachment list.
	MediaURLs []string `json:"media_urls,omitempty"`
	// Theme is an optional presentation hint.
	Theme string `json:"theme,omitempty"`
	// RecipientID optionally links a contact-book recipient.
	RecipientID string `json:"recipient_id,omitempty"`
}

func (s *Server) draftFromRequest(owner string, req DraftRequest) *types.Draft {
	return &types.Draft{
		OwnerID:     owner,
		Title:       utils.SanitizeLine(req.Title, types.MaxTitleLength),
		Body:        utils.SanitizeText(req.Body, 0),
		MediaURLs:   sanitizeMediaURLs(req.MediaURLs),
		Theme:       utils.SanitizeLine(req.Theme, types.MaxThemeLength),
		RecipientID: req.RecipientID,
	}
}

// CreateDraft stores a new scratchpad draft for the principal.
func (s *Server) CreateDraft(ctx context.Context, principal types.Principal, req DraftRequest) (*types.Draft, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.RecipientID != "" {
		if _, err := s.cfg.Recipients.GetRecipient(ctx, principal.ID, req.RecipientID); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	draft := s.draftFromRequest(principal.ID, req)
	now := s.cfg.Clock.Now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	created, err := s.cfg.Drafts.CreateDraft(ctx, draft)
	return created, trace.Wrap(err)
}

// GetDraft returns one of the principal's drafts.
func (s *Server) GetDraft(ctx context.Context, principal types.Principal, draftID string) (*types.Draft, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	draft, err := s.cfg.Drafts.GetDraft(ctx, principal.ID, draftID)
	return draft, trace.Wrap(err)
}

// UpdateDraft overwrites one of the principal's drafts. The update time
// moves forward even when the content is unchanged.
func (s *Server) UpdateDraft(ctx context.Context, principal types.Principal, draftID string, req DraftRequest) (*types.Draft, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	existing, err := s.cfg.Drafts.GetDraft(ctx, principal.ID, draftID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if req.RecipientID != "" && req.RecipientID != existing.RecipientID {
		if _, err := s.cfg.Recipients.GetRecipient(ctx, principal.ID, req.RecipientID); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	draft := s.draftFromRequest(principal.ID, req)
	draft.ID = existing.ID
	draft.CreatedAt = existing.CreatedAt
	draft.UpdatedAt = s.cfg.Clock.Now().UTC()
	updated, err := s.cfg.Drafts.UpdateDraft(ctx, draft)
	return updated, trace.Wrap(err)
}

// ListDrafts returns the principal's drafts, most recently updated
// first.
func (s *Server) ListDrafts(ctx context.Context, principal types.Principal) ([]*types.Draft, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	drafts, err := s.cfg.Drafts.ListDrafts(ctx, principal.ID)
	return drafts, trace.Wrap(err)
}

// DeleteDraft removes one of the principal's drafts.
func (s *Server) DeleteDraft(ctx context.Context, principal types.Principal, draftID string) error {
	if err := s.checkPrincipal(principal); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.cfg.Drafts.DeleteDraft(ctx, principal.ID, draftID))
}

// PromoteDraftRequest turns a scratchpad draft into a draft capsule.
type PromoteDraftRequest struct {
	// ReceiverID overrides the receiver. When empty, the linked
	// recipient's registered user is used.
	ReceiverID string `json:"receiver_id,omitempty"`
	// AllowEarlyView lets the receiver read the content before opening.
	AllowEarlyView bool `json:"allow_early_view"`
	// AllowReceiverReply marks the capsule as accepting a reply.
	AllowReceiverReply bool `json:"allow_receiver_reply"`
}

// PromoteDraft creates a draft capsule from a scratchpad draft and
// deletes the scratchpad. The receiver comes from the request or from
// the linked recipient's registered user.
func (s *Server) PromoteDraft(ctx context.Context, principal types.Principal, draftID string, req PromoteDraftRequest) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	draft, err := s.cfg.Drafts.GetDraft(ctx, principal.ID, draftID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	receiverID := req.ReceiverID
	if receiverID == "" && draft.RecipientID != "" {
		recipient, err := s.cfg.Recipients.GetRecipient(ctx, principal.ID, draft.RecipientID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		receiverID = recipient.UserID
	}
	if receiverID == "" {
		return nil, trace.BadParameter("draft has no receiver: link a registered recipient or pass one explicitly")
	}
	created, err := s.CreateCapsule(ctx, principal, CreateCapsuleRequest{
		ReceiverID:         receiverID,
		Title:              draft.Title,
		Body:               draft.Body,
		MediaURLs:          draft.MediaURLs,
		Theme:              draft.Theme,
		AllowEarlyView:     req.AllowEarlyView,
		AllowReceiverReply: req.AllowReceiverReply,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Drafts.DeleteDraft(ctx, principal.ID, draft.ID); err != nil {
		// The capsule exists; losing the scratchpad cleanup is not
		// worth failing the promotion over.
		s.log.WarnContext(ctx, "Failed to delete promoted draft.",
			"draft", draft.ID, "error", err)
	}
	return created, nil
}
