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

// Package local implements the services interfaces over the key-value
// backend. Resources are stored as JSON items under "/"-separated keys.
package local

import (
	"context"
	"sort"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/services"
)

const capsulesPrefix = "capsules"

// CapsuleService manages capsule storage over a backend.
type CapsuleService struct {
	backend backend.Backend
}

// NewCapsuleService returns a new capsule storage service.
func NewCapsuleService(b backend.Backend) *CapsuleService {
	return &CapsuleService{backend: b}
}

func capsuleKey(id string) []byte {
	return backend.Key(capsulesPrefix, id)
}

// CreateCapsule creates a new capsule row.
func (s *CapsuleService) CreateCapsule(ctx context.Context, capsule *types.Capsule) (*types.Capsule, error) {
	value, err := services.MarshalCapsule(capsule)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Create(ctx, backend.Item{Key: capsuleKey(capsule.ID), Value: value}); err != nil {
		return nil, trace.Wrap(err)
	}
	return capsule.Clone(), nil
}

// GetCapsule returns a capsule by id.
func (s *CapsuleService) GetCapsule(ctx context.Context, id string) (*types.Capsule, error) {
	if id == "" {
		return nil, trace.BadParameter("missing capsule id")
	}
	item, err := s.backend.Get(ctx, capsuleKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("capsule %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	capsule, err := services.UnmarshalCapsule(item.Value)
	return capsule, trace.Wrap(err)
}

// UpdateCapsule overwrites the content fields of an existing capsule.
// The stored state and timestamps are preserved: state moves only
// through TransitionCapsule.
func (s *CapsuleService) UpdateCapsule(ctx context.Context, capsule *types.Capsule) (*types.Capsule, error) {
	existing, err := s.GetCapsule(ctx, capsule.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	updated := capsule.Clone()
	updated.State = existing.State
	updated.CreatedAt = existing.CreatedAt
	updated.SealedAt = existing.SealedAt
	updated.ScheduledUnlockAt = existing.ScheduledUnlockAt
	updated.OpenedAt = existing.OpenedAt
	value, err := services.MarshalCapsule(updated)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.backend.Update(ctx, backend.Item{Key: capsuleKey(updated.ID), Value: value}); err != nil {
		return nil, trace.Wrap(err)
	}
	return updated, nil
}

// DeleteCapsule removes a capsule row.
func (s *CapsuleService) DeleteCapsule(ctx context.Context, id string) error {
	if id == "" {
		return trace.BadParameter("missing capsule id")
	}
	err := s.backend.Delete(ctx, capsuleKey(id))
	if trace.IsNotFound(err) {
		return trace.NotFound("capsule %q is not found", id)
	}
	return trace.Wrap(err)
}

// ListBySender returns the sender's capsules, newest first.
func (s *CapsuleService) ListBySender(ctx context.Context, senderID string, filter services.CapsuleFilter) ([]*types.Capsule, error) {
	capsules, err := s.selectCapsules(ctx, func(c *types.Capsule) bool {
		return c.SenderID == senderID && filter.Match(c)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return paginate(capsules, filter.Skip, filter.Limit), nil
}

// CountBySender returns how many capsules match for the sender.
func (s *CapsuleService) CountBySender(ctx context.Context, senderID string, filter services.CapsuleFilter) (int, error) {
	capsules, err := s.selectCapsules(ctx, func(c *types.Capsule) bool {
		return c.SenderID == senderID && filter.Match(c)
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return len(capsules), nil
}

// ListByReceiver returns the receiver's capsules, newest first.
func (s *CapsuleService) ListByReceiver(ctx context.Context, receiverID string, filter services.CapsuleFilter) ([]*types.Capsule, error) {
	capsules, err := s.selectCapsules(ctx, func(c *types.Capsule) bool {
		return c.ReceiverID == receiverID && filter.Match(c)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return paginate(capsules, filter.Skip, filter.Limit), nil
}

// CountByReceiver returns how many capsules match for the receiver.
func (s *CapsuleService) CountByReceiver(ctx context.Context, receiverID string, filter services.CapsuleFilter) (int, error) {
	capsules, err := s.selectCapsules(ctx, func(c *types.Capsule) bool {
		return c.ReceiverID == receiverID && filter.Match(c)
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return len(capsules), nil
}

// GetDueCapsules returns capsules the unlock engine may need to advance.
func (s *CapsuleService) GetDueCapsules(ctx context.Context) ([]*types.Capsule, error) {
	capsules, err := s.selectCapsules(ctx, func(c *types.Capsule) bool {
		return c.State.IsTimeLocked() && c.ScheduledUnlockAt != nil
	})
	return capsules, trace.Wrap(err)
}

// TransitionCapsule moves a capsule one hop forward, writing the
// supplied timestamps in the same compare-and-swap update.
func (s *CapsuleService) TransitionCapsule(ctx context.Context, id string, next types.State, params services.TransitionParams) (*types.Capsule, error) {
	if id == "" {
		return nil, trace.BadParameter("missing capsule id")
	}
	item, err := s.backend.Get(ctx, capsuleKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("capsule %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	capsule, err := services.UnmarshalCapsule(item.Value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !capsule.State.CanTransitionTo(next) {
		return nil, trace.BadParameter("capsule cannot transition from %v to %v", capsule.State, next)
	}
	if capsule.State != types.StateDraft && params.ScheduledUnlockAt != nil {
		return nil, trace.BadParameter("unlock time of a sealed capsule is immutable")
	}
	updated := capsule.Clone()
	updated.State = next
	if params.SealedAt != nil {
		t := params.SealedAt.UTC()
		updated.SealedAt = &t
	}
	if params.ScheduledUnlockAt != nil {
		t := params.ScheduledUnlockAt.UTC()
		updated.ScheduledUnlockAt = &t
	}
	if params.OpenedAt != nil {
		t := params.OpenedAt.UTC()
		updated.OpenedAt = &t
	}
	value, err := services.MarshalCapsule(updated)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.backend.CompareAndSwap(ctx,
		backend.Item{Key: item.Key, Value: item.Value},
		backend.Item{Key: item.Key, Value: value})
	if err != nil {
		if trace.IsCompareFailed(err) {
			return nil, trace.CompareFailed("capsule %q was modified concurrently", id)
		}
		return nil, trace.Wrap(err)
	}
	return updated, nil
}

// selectCapsules scans the capsule range and keeps rows matching the
// predicate, ordered by creation time descending.
func (s *CapsuleService) selectCapsules(ctx context.Context, match func(*types.Capsule) bool) ([]*types.Capsule, error) {
	startKey := backend.ExactKey(capsulesPrefix)
	result, err := s.backend.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.Capsule
	for _, item := range result.Items {
		capsule, err := services.UnmarshalCapsule(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if match(capsule) {
			out = append(out, capsule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// paginate applies skip and limit to an already ordered result.
func paginate[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
