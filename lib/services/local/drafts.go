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

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/services"
)

const draftsPrefix = "drafts"

// DraftService manages composition scratchpads over a backend. Keys are
// owner-scoped, so listing an owner's drafts is a single range read.
type DraftService struct {
	backend backend.Backend
}

// NewDraftService returns a new draft storage service.
func NewDraftService(b backend.Backend) *DraftService {
	return &DraftService{backend: b}
}

func draftKey(ownerID, id string) []byte {
	return backend.Key(draftsPrefix, ownerID, id)
}

// CreateDraft stores a new draft.
func (s *DraftService) CreateDraft(ctx context.Context, draft *types.Draft) (*types.Draft, error) {
	value, err := services.MarshalDraft(draft)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Create(ctx, backend.Item{Key: draftKey(draft.OwnerID, draft.ID), Value: value}); err != nil {
		return nil, trace.Wrap(err)
	}
	return draft, nil
}

// GetDraft returns the owner's draft by id.
func (s *DraftService) GetDraft(ctx context.Context, ownerID, id string) (*types.Draft, error) {
	if ownerID == "" {
		return nil, trace.BadParameter("missing draft owner id")
	}
	if id == "" {
		return nil, trace.BadParameter("missing draft id")
	}
	item, err := s.backend.Get(ctx, draftKey(ownerID, id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("draft %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	draft, err := services.UnmarshalDraft(item.Value)
	return draft, trace.Wrap(err)
}

// UpdateDraft overwrites an existing draft.
func (s *DraftService) UpdateDraft(ctx context.Context, draft *types.Draft) (*types.Draft, error) {
	value, err := services.MarshalDraft(draft)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.backend.Update(ctx, backend.Item{Key: draftKey(draft.OwnerID, draft.ID), Value: value})
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("draft %q is not found", draft.ID)
		}
		return nil, trace.Wrap(err)
	}
	return draft, nil
}

// ListDrafts returns all of the owner's drafts, most recently updated
// first.
func (s *DraftService) ListDrafts(ctx context.Context, ownerID string) ([]*types.Draft, error) {
	if ownerID == "" {
		return nil, trace.BadParameter("missing draft owner id")
	}
	startKey := backend.ExactKey(draftsPrefix, ownerID)
	result, err := s.backend.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Draft, 0, len(result.Items))
	for _, item := range result.Items {
		draft, err := services.UnmarshalDraft(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, draft)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteDraft removes the owner's draft.
func (s *DraftService) DeleteDraft(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return trace.BadParameter("missing draft owner id")
	}
	if id == "" {
		return trace.BadParameter("missing draft id")
	}
	err := s.backend.Delete(ctx, draftKey(ownerID, id))
	if trace.IsNotFound(err) {
		return trace.NotFound("draft %q is not found", id)
	}
	return trace.Wrap(err)
}
