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

// Drafts manages composition scratchpads. Every method is scoped to an
// owner: a draft is invisible to anyone else.
type Drafts interface {
	// CreateDraft stores a new draft.
	CreateDraft(ctx context.Context, draft *types.Draft) (*types.Draft, error)

	// GetDraft returns the owner's draft by id or trace.NotFound.
	GetDraft(ctx context.Context, ownerID, id string) (*types.Draft, error)

	// UpdateDraft overwrites an existing draft.
	UpdateDraft(ctx context.Context, draft *types.Draft) (*types.Draft, error)

	// ListDrafts returns all of the owner's drafts ordered by update
	// time descending.
	ListDrafts(ctx context.Context, ownerID string) ([]*types.Draft, error)

	// DeleteDraft removes the owner's draft.
	DeleteDraft(ctx context.Context, ownerID, id string) error
}

// MarshalDraft serializes a draft for storage, validating it first.
func MarshalDraft(draft *types.Draft) ([]byte, error) {
	if err := draft.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := utils.FastMarshal(draft)
	return data, trace.Wrap(err)
}

// UnmarshalDraft deserializes a stored draft.
func UnmarshalDraft(data []byte) (*types.Draft, error) {
	var draft types.Draft
	if err := utils.FastUnmarshal(data, &draft); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := draft.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &draft, nil
}
