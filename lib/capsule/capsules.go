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
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/lifecycle"
	"github.com/gravitational/keepsake/lib/services"
	"github.com/gravitational/keepsake/lib/utils"
)

// CreateCapsuleRequest carries the fields of a new draft capsule.
type CreateCapsuleRequest struct {
	// ReceiverID is the addressee's user id.
	ReceiverID string `json:"receiver_id"`
	// Title is the capsule title.
	Title string `json:"title"`
	// Body is the letter body.
	Body string `json:"body"`
	// MediaURLs is an optional ordered list of attachment URLs.
	MediaURLs []string `json:"media_urls,omitempty"`
	// Theme is an optional presentation hint.
	Theme string `json:"theme,omitempty"`
	// AllowEarlyView lets the receiver read the content before opening.
	AllowEarlyView bool `json:"allow_early_view"`
	// AllowReceiverReply marks the capsule as accepting a reply.
	AllowReceiverReply bool `json:"allow_receiver_reply"`
}

// CreateCapsule creates a draft capsule authored by the principal.
func (s *Server) CreateCapsule(ctx context.Context, principal types.Principal, req CreateCapsuleRequest) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.ReceiverID == "" {
		return nil, trace.BadParameter("missing capsule receiver")
	}
	if _, err := s.cfg.Identity.GetUser(ctx, req.ReceiverID); err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.BadParameter("receiver %q does not exist", req.ReceiverID)
		}
		return nil, trace.Wrap(err)
	}
	capsule := &types.Capsule{
		SenderID:           principal.ID,
		ReceiverID:         req.ReceiverID,
		Title:              utils.SanitizeLine(req.Title, types.MaxTitleLength),
		Body:               utils.SanitizeText(req.Body, 0),
		MediaURLs:          sanitizeMediaURLs(req.MediaURLs),
		Theme:              utils.SanitizeLine(req.Theme, types.MaxThemeLength),
		State:              types.StateDraft,
		AllowEarlyView:     req.AllowEarlyView,
		AllowReceiverReply: req.AllowReceiverReply,
		CreatedAt:          s.cfg.Clock.Now().UTC(),
	}
	created, err := s.cfg.Capsules.CreateCapsule(ctx, capsule)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created capsule.", "capsule", created.ID, "sender", principal.ID)
	return created, nil
}

// UpdateCapsuleRequest is a partial update of a draft capsule. Nil
// fields are left unchanged.
type UpdateCapsuleRequest struct {
	// Title replaces the title when set.
	Title *string `json:"title,omitempty"`
	// Body replaces the body when set.
	Body *string `json:"body,omitempty"`
	// MediaURLs replaces the attachment list when set.
	MediaURLs *[]string `json:"media_urls,omitempty"`
	// Theme replaces the theme when set.
	Theme *string `json:"theme,omitempty"`
	// AllowEarlyView replaces the early view flag when set.
	AllowEarlyView *bool `json:"allow_early_view,omitempty"`
	// AllowReceiverReply replaces the reply flag when set.
	AllowReceiverReply *bool `json:"allow_receiver_reply,omitempty"`
}

// UpdateCapsule applies a partial update to a draft capsule after the
// edit gate passes.
func (s *Server) UpdateCapsule(ctx context.Context, principal types.Principal, capsuleID string, req UpdateCapsuleRequest) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	capsule, err := s.cfg.Capsules.GetCapsule(ctx, capsuleID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ok, reason := s.cfg.Machine.CanEdit(capsule, principal.ID); !ok {
		return nil, trace.AccessDenied("%s", reason)
	}
	patched := capsule.Clone()
	if req.Title != nil {
		patched.Title = utils.SanitizeLine(*req.Title, types.MaxTitleLength)
	}
	if req.Body != nil {
		patched.Body = utils.SanitizeText(*req.Body, 0)
	}
	if req.MediaURLs != nil {
		patched.MediaURLs = sanitizeMediaURLs(*req.MediaURLs)
	}
	if req.Theme != nil {
		patched.Theme = utils.SanitizeLine(*req.Theme, types.MaxThemeLength)
	}
	if req.AllowEarlyView != nil {
		patched.AllowEarlyView = *req.AllowEarlyView
	}
	if req.AllowReceiverReply != nil {
		patched.AllowReceiverReply = *req.AllowReceiverReply
	}
	updated, err := s.cfg.Capsules.UpdateCapsule(ctx, patched)
	return updated, trace.Wrap(err)
}

// SealCapsule binds a draft capsule to an unlock instant, making it
// immutable. The unlock time is normalized to UTC before validation.
func (s *Server) SealCapsule(ctx context.Context, principal types.Principal, capsuleID string, unlockTime time.Time) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	capsule, err := s.cfg.Capsules.GetCapsule(ctx, capsuleID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ok, reason := s.cfg.Machine.CanSeal(capsule, principal.ID); !ok {
		return nil, trace.AccessDenied("%s", reason)
	}
	params, err := s.cfg.Machine.Seal(unlockTime.UTC(), s.cfg.Clock.Now().UTC())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sealed, err := s.cfg.Capsules.TransitionCapsule(ctx, capsule.ID, params.State, services.TransitionParams{
		SealedAt:          &params.SealedAt,
		ScheduledUnlockAt: &params.ScheduledUnlockAt,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Sealed capsule.",
		"capsule", sealed.ID,
		"unlock_at", params.ScheduledUnlockAt)
	return sealed, nil
}

// OpenCapsule opens a ready capsule on behalf of its receiver. A second
// open reports an illegal transition rather than a permission failure.
func (s *Server) OpenCapsule(ctx context.Context, principal types.Principal, capsuleID string) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	capsule, err := s.cfg.Capsules.GetCapsule(ctx, capsuleID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ok, reason := s.cfg.Machine.CanOpen(capsule, principal.ID); !ok {
		if reason == lifecycle.ReasonAlreadyOpened {
			return nil, trace.BadParameter("%s", reason)
		}
		return nil, trace.AccessDenied("%s", reason)
	}
	now := s.cfg.Clock.Now().UTC()
	opened, err := s.cfg.Capsules.TransitionCapsule(ctx, capsule.ID, types.StateOpened, services.TransitionParams{
		OpenedAt: &now,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Opened capsule.", "capsule", opened.ID, "receiver", principal.ID)
	return opened, nil
}

// GetCapsule returns the capsule, content included only when the view
// gate passes. Principals unrelated to the capsule get NotFound rather
// than confirmation that it exists.
func (s *Server) GetCapsule(ctx context.Context, principal types.Principal, capsuleID string) (*types.Capsule, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	capsule, err := s.cfg.Capsules.GetCapsule(ctx, capsuleID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if capsule.SenderID != principal.ID && capsule.ReceiverID != principal.ID {
		return nil, trace.NotFound("capsule %q is not found", capsuleID)
	}
	// The receiver cannot see a draft at all.
	if capsule.State == types.StateDraft && capsule.SenderID != principal.ID {
		return nil, trace.NotFound("capsule %q is not found", capsuleID)
	}
	if ok, _ := s.cfg.Machine.CanView(capsule, principal.ID); !ok {
		return capsule.WithoutContent(), nil
	}
	return capsule, nil
}

// ListCapsules pages through the principal's inbox or outbox, newest
// first. Inbox items are view-gated individually, and drafts never
// appear in an inbox.
func (s *Server) ListCapsules(ctx context.Context, principal types.Principal, req ListRequest) (*Page, error) {
	if err := s.checkPrincipal(principal); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := req.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	filter := services.CapsuleFilter{
		State: types.State(req.State),
		Skip:  (req.Page - 1) * req.PageSize,
		Limit: req.PageSize,
	}
	var items []*types.Capsule
	var total int
	var err error
	switch req.Box {
	case Outbox:
		items, err = s.cfg.Capsules.ListBySender(ctx, principal.ID, filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		total, err = s.cfg.Capsules.CountBySender(ctx, principal.ID, filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	case Inbox:
		if filter.State == types.StateDraft {
			return nil, trace.BadParameter("drafts are not visible in the inbox")
		}
		filter.ExcludeDrafts = true
		items, err = s.cfg.Capsules.ListByReceiver(ctx, principal.ID, filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		total, err = s.cfg.Capsules.CountByReceiver(ctx, principal.ID, filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		items = s.gateInbox(principal, items)
	}
	return &Page{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// gateInbox strips undisclosed content from inbox listings.
func (s *Server) gateInbox(principal types.Principal, items []*types.Capsule) []*types.Capsule {
	out := make([]*types.Capsule, 0, len(items))
	for _, c := range items {
		if ok, _ := s.cfg.Machine.CanView(c, principal.ID); !ok {
			c = c.WithoutContent()
		}
		out = append(out, c)
	}
	return out
}

// DeleteCapsule removes a draft capsule. Sealed capsules cannot be
// deleted.
func (s *Server) DeleteCapsule(ctx context.Context, principal types.Principal, capsuleID string) error {
	if err := s.checkPrincipal(principal); err != nil {
		return trace.Wrap(err)
	}
	capsule, err := s.cfg.Capsules.GetCapsule(ctx, capsuleID)
	if err != nil {
		return trace.Wrap(err)
	}
	if ok, reason := s.cfg.Machine.CanDelete(capsule, principal.ID); !ok {
		return trace.AccessDenied("%s", reason)
	}
	return trace.Wrap(s.cfg.Capsules.DeleteCapsule(ctx, capsule.ID))
}

// sanitizeMediaURLs trims and bounds the attachment list, dropping empty
// entries while preserving order.
func sanitizeMediaURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = utils.SanitizeLine(u, types.MaxMediaURLLength)
		if u == "" {
			continue
		}
		out = append(out, u)
		if len(out) == types.MaxMediaURLs {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
