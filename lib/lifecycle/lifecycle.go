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

// Package lifecycle holds the capsule state machine: the pure decision
// logic behind every transition and authorization gate. It performs no
// I/O and never reads the clock; callers inject "now".
package lifecycle

import (
	"fmt"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/defaults"
)

// Config holds the temporal thresholds of the state machine.
type Config struct {
	// MinUnlockLead is the minimum interval between sealing and the
	// unlock instant.
	MinUnlockLead time.Duration
	// MaxUnlockLead is the maximum interval between sealing and the
	// unlock instant.
	MaxUnlockLead time.Duration
	// EarlyViewThreshold is how long before the unlock instant a sealed
	// capsule enters the unfolding phase.
	EarlyViewThreshold time.Duration
}

// CheckAndSetDefaults fills in missing thresholds.
func (c *Config) CheckAndSetDefaults() error {
	if c.MinUnlockLead == 0 {
		c.MinUnlockLead = defaults.MinUnlockLead
	}
	if c.MaxUnlockLead == 0 {
		c.MaxUnlockLead = defaults.MaxUnlockLead
	}
	if c.EarlyViewThreshold == 0 {
		c.EarlyViewThreshold = defaults.EarlyViewThreshold
	}
	if c.MinUnlockLead < 0 || c.MaxUnlockLead < 0 || c.EarlyViewThreshold < 0 {
		return trace.BadParameter("lifecycle thresholds must be positive")
	}
	if c.MinUnlockLead >= c.MaxUnlockLead {
		return trace.BadParameter("minimum unlock lead %v must be below the maximum %v",
			c.MinUnlockLead, c.MaxUnlockLead)
	}
	return nil
}

// Machine is the capsule state machine.
type Machine struct {
	cfg Config
}

// New returns a state machine with the given thresholds.
func New(cfg Config) (*Machine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Machine{cfg: cfg}, nil
}

// SealParams is the record applied to a draft capsule when it is sealed.
type SealParams struct {
	// State is always StateSealed.
	State types.State
	// SealedAt is the sealing instant, the caller's "now".
	SealedAt time.Time
	// ScheduledUnlockAt is the unlock instant, normalized to UTC.
	ScheduledUnlockAt time.Time
}

// Seal validates an unlock instant against the configured bounds and
// returns the sealing record. The caller must have normalized unlockTime
// to UTC already.
func (m *Machine) Seal(unlockTime, now time.Time) (SealParams, error) {
	unlockTime = unlockTime.UTC()
	now = now.UTC()
	if unlockTime.Before(now.Add(m.cfg.MinUnlockLead)) || unlockTime.Equal(now.Add(m.cfg.MinUnlockLead)) {
		return SealParams{}, trace.BadParameter("unlock time must be more than %v in the future", m.cfg.MinUnlockLead)
	}
	if unlockTime.After(now.Add(m.cfg.MaxUnlockLead)) {
		return SealParams{}, trace.BadParameter("unlock time cannot be more than %v in the future", m.cfg.MaxUnlockLead)
	}
	return SealParams{
		State:             types.StateSealed,
		SealedAt:          now,
		ScheduledUnlockAt: unlockTime,
	}, nil
}

// NextState returns the automatic transition due for the capsule at the
// given instant, if any. Only a single hop is ever returned: a sealed
// capsule whose unlock instant has long passed still goes through
// unfolding first, preserving the observable phase order.
func (m *Machine) NextState(capsule *types.Capsule, now time.Time) (types.State, bool) {
	if !capsule.State.IsTimeLocked() {
		return "", false
	}
	if capsule.ScheduledUnlockAt == nil {
		return "", false
	}
	unlock := capsule.ScheduledUnlockAt.UTC()
	now = now.UTC()
	switch capsule.State {
	case types.StateSealed:
		if unlock.Sub(now) <= m.cfg.EarlyViewThreshold {
			return types.StateUnfolding, true
		}
	case types.StateUnfolding:
		if !now.Before(unlock) {
			return types.StateReady, true
		}
	}
	return "", false
}

// ValidateTransition checks that from to next is a legal single forward
// hop.
func (m *Machine) ValidateTransition(from, next types.State) error {
	if !from.CanTransitionTo(next) {
		return trace.BadParameter("illegal capsule transition from %v to %v", from, next)
	}
	return nil
}

// CanEdit reports whether the principal may modify the capsule's content
// fields.
func (m *Machine) CanEdit(capsule *types.Capsule, principalID string) (bool, string) {
	if capsule.SenderID != principalID {
		return false, "Only the sender can edit a capsule"
	}
	if capsule.State != types.StateDraft {
		return false, fmt.Sprintf("Cannot edit capsule in %v state", capsule.State)
	}
	return true, ""
}

// CanSeal reports whether the principal may seal the capsule.
func (m *Machine) CanSeal(capsule *types.Capsule, principalID string) (bool, string) {
	if capsule.SenderID != principalID {
		return false, "Only the sender can seal a capsule"
	}
	if capsule.State != types.StateDraft {
		return false, fmt.Sprintf("Cannot seal capsule in %v state", capsule.State)
	}
	return true, ""
}

// CanDelete reports whether the principal may delete the capsule. Only
// unsealed drafts can be removed.
func (m *Machine) CanDelete(capsule *types.Capsule, principalID string) (bool, string) {
	if capsule.SenderID != principalID {
		return false, "Only the sender can delete a capsule"
	}
	if capsule.State != types.StateDraft {
		return false, fmt.Sprintf("Cannot delete capsule in %v state", capsule.State)
	}
	return true, ""
}

// CanOpen reports whether the principal may open the capsule. An
// already-opened capsule yields a distinguishable reason so callers can
// report an illegal transition rather than a permission failure.
func (m *Machine) CanOpen(capsule *types.Capsule, principalID string) (bool, string) {
	if capsule.ReceiverID != principalID {
		return false, "Only the receiver can open a capsule"
	}
	switch capsule.State {
	case types.StateReady:
		return true, ""
	case types.StateOpened:
		return false, ReasonAlreadyOpened
	default:
		return false, fmt.Sprintf("Capsule is not ready to be opened in %v state", capsule.State)
	}
}

// ReasonAlreadyOpened is returned by CanOpen for a second open attempt.
const ReasonAlreadyOpened = "Capsule is already opened"

// CanView reports whether the principal may read the capsule's content.
// The sender always may; the receiver may once the capsule is opened, or
// during the unfolding and ready phases when early view is allowed.
// Everyone else gets a metadata-only projection at most.
func (m *Machine) CanView(capsule *types.Capsule, principalID string) (bool, string) {
	if capsule.SenderID == principalID {
		return true, ""
	}
	if capsule.ReceiverID != principalID {
		return false, "Capsule contents are private to its sender and receiver"
	}
	if capsule.State == types.StateOpened {
		return true, ""
	}
	if capsule.AllowEarlyView &&
		(capsule.State == types.StateUnfolding || capsule.State == types.StateReady) {
		return true, ""
	}
	return false, fmt.Sprintf("Capsule contents are not visible in %v state", capsule.State)
}

// EarlyViewThreshold exposes the configured unfolding threshold.
func (m *Machine) EarlyViewThreshold() time.Duration {
	return m.cfg.EarlyViewThreshold
}
