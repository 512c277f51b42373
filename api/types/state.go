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

package types

import (
	"github.com/gravitational/trace"
)

// State is the lifecycle state of a capsule. States advance along a single
// forward path and never move backwards:
//
//	draft -> sealed -> unfolding -> ready -> opened
//
// A draft can also be deleted, which is a row removal rather than a
// transition.
type State string

const (
	// StateDraft is the initial state. The capsule is editable by the
	// sender and invisible to the receiver.
	StateDraft State = "draft"

	// StateSealed is entered when the sender binds an unlock instant.
	// Contents are frozen and hidden from everyone but the sender.
	StateSealed State = "sealed"

	// StateUnfolding is the teaser phase entered when the unlock instant
	// is at most the early-view threshold away.
	StateUnfolding State = "unfolding"

	// StateReady is entered once the unlock instant has elapsed. The
	// receiver may now open the capsule.
	StateReady State = "ready"

	// StateOpened is the terminal state, entered by the receiver.
	StateOpened State = "opened"
)

// AllStates lists every valid capsule state in canonical order.
var AllStates = []State{StateDraft, StateSealed, StateUnfolding, StateReady, StateOpened}

// successor holds the only state legally reachable from each state by a
// persisted transition.
var successor = map[State]State{
	StateDraft:     StateSealed,
	StateSealed:    StateUnfolding,
	StateUnfolding: StateReady,
	StateReady:     StateOpened,
}

// ParseState converts a wire string into a State.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.IsValid() {
		return "", trace.BadParameter("invalid capsule state %q", v)
	}
	return s, nil
}

// IsValid reports whether the state is a member of the closed enumeration.
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateSealed, StateUnfolding, StateReady, StateOpened:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateOpened
}

// IsTimeLocked reports whether the state is advanced by the unlock engine
// rather than by a principal.
func (s State) IsTimeLocked() bool {
	return s == StateSealed || s == StateUnfolding
}

// CanTransitionTo reports whether a persisted transition from s to next is
// legal. Only single forward hops along the lifecycle path are allowed.
func (s State) CanTransitionTo(next State) bool {
	return successor[s] == next
}

func (s State) String() string {
	return string(s)
}
