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

// Package services defines the persistence interfaces the capsule core
// depends on, together with the marshaling helpers shared by their
// implementations.
package services

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/utils"
)

// CapsuleFilter narrows capsule list and count queries.
type CapsuleFilter struct {
	// State, when set, keeps only capsules in that state.
	State types.State
	// ExcludeDrafts drops draft capsules, used for inbox queries where
	// drafts are invisible to the receiver.
	ExcludeDrafts bool
	// Skip drops that many matches from the head of the result.
	Skip int
	// Limit caps the number of returned capsules. Zero means no limit.
	Limit int
}

// Match reports whether the capsule passes the state filter.
func (f CapsuleFilter) Match(c *types.Capsule) bool {
	if f.ExcludeDrafts && c.State == types.StateDraft {
		return false
	}
	return f.State == "" || c.State == f.State
}

// TransitionParams carries the timestamp fields written together with a
// state transition. Nil fields are left untouched.
type TransitionParams struct {
	// SealedAt is set on the draft to sealed transition.
	SealedAt *time.Time
	// ScheduledUnlockAt is set on the draft to sealed transition and
	// never changed afterwards.
	ScheduledUnlockAt *time.Time
	// OpenedAt is set on the ready to opened transition.
	OpenedAt *time.Time
}

// Capsules manages capsule storage.
type Capsules interface {
	// CreateCapsule creates a new capsule row.
	CreateCapsule(ctx context.Context, capsule *types.Capsule) (*types.Capsule, error)

	// GetCapsule returns a capsule by id or trace.NotFound.
	GetCapsule(ctx context.Context, id string) (*types.Capsule, error)

	// UpdateCapsule overwrites the content fields of an existing
	// capsule. State and timestamps move only through
	// TransitionCapsule.
	UpdateCapsule(ctx context.Context, capsule *types.Capsule) (*types.Capsule, error)

	// DeleteCapsule removes a capsule row.
	DeleteCapsule(ctx context.Context, id string) error

	// ListBySender returns the sender's capsules ordered by creation
	// time descending.
	ListBySender(ctx context.Context, senderID string, filter CapsuleFilter) ([]*types.Capsule, error)

	// CountBySender returns how many capsules match the filter for the
	// sender.
	CountBySender(ctx context.Context, senderID string, filter CapsuleFilter) (int, error)

	// ListByReceiver returns the receiver's capsules ordered by
	// creation time descending.
	ListByReceiver(ctx context.Context, receiverID string, filter CapsuleFilter) ([]*types.Capsule, error)

	// CountByReceiver returns how many capsules match the filter for
	// the receiver.
	CountByReceiver(ctx context.Context, receiverID string, filter CapsuleFilter) (int, error)

	// GetDueCapsules returns every capsule the unlock engine may need
	// to advance: state sealed or unfolding with an unlock instant set.
	GetDueCapsules(ctx context.Context) ([]*types.Capsule, error)

	// TransitionCapsule moves a capsule to the next state, writing the
	// supplied timestamps in the same update. It refuses any edge that
	// is not a single forward hop and fails with trace.CompareFailed
	// if the row changed underneath, so a lost race never persists a
	// backward transition.
	TransitionCapsule(ctx context.Context, id string, next types.State, params TransitionParams) (*types.Capsule, error)
}

// MarshalCapsule serializes a capsule for storage, validating it first.
func MarshalCapsule(capsule *types.Capsule) ([]byte, error) {
	if err := capsule.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := utils.FastMarshal(capsule)
	return data, trace.Wrap(err)
}

// UnmarshalCapsule deserializes a stored capsule and re-checks its
// structural invariants.
func UnmarshalCapsule(data []byte) (*types.Capsule, error) {
	var capsule types.Capsule
	if err := utils.FastUnmarshal(data, &capsule); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := capsule.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &capsule, nil
}
