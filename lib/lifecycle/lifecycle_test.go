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

package lifecycle

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/api/types"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	sender   = "11111111-1111-1111-1111-111111111111"
	receiver = "22222222-2222-2222-2222-222222222222"
	stranger = "33333333-3333-3333-3333-333333333333"
)

func newMachine(t *testing.T) *Machine {
	m, err := New(Config{})
	require.NoError(t, err)
	return m
}

func capsuleIn(state types.State, unlock time.Time) *types.Capsule {
	c := &types.Capsule{
		SenderID:       sender,
		ReceiverID:     receiver,
		Title:          "a letter",
		Body:           "hi",
		State:          state,
		CreatedAt:      t0,
		AllowEarlyView: false,
	}
	if state != types.StateDraft {
		sealedAt := t0
		c.SealedAt = &sealedAt
		c.ScheduledUnlockAt = &unlock
	}
	if state == types.StateOpened {
		openedAt := unlock.Add(5 * time.Minute)
		c.OpenedAt = &openedAt
	}
	return c
}

func TestSealBounds(t *testing.T) {
	m := newMachine(t)
	eps := time.Second

	tests := []struct {
		name   string
		unlock time.Time
		ok     bool
	}{
		{name: "below minimum", unlock: t0.Add(time.Minute - eps), ok: false},
		{name: "exactly minimum", unlock: t0.Add(time.Minute), ok: false},
		{name: "just above minimum", unlock: t0.Add(time.Minute + eps), ok: true},
		{name: "exactly maximum", unlock: t0.Add(5 * 365 * 24 * time.Hour), ok: true},
		{name: "just above maximum", unlock: t0.Add(5*365*24*time.Hour + eps), ok: false},
		{name: "in the past", unlock: t0.Add(-time.Hour), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := m.Seal(tt.unlock, t0)
			if !tt.ok {
				require.True(t, trace.IsBadParameter(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, types.StateSealed, params.State)
			require.Equal(t, t0, params.SealedAt)
			require.Equal(t, tt.unlock, params.ScheduledUnlockAt)
		})
	}
}

func TestSealNormalizesToUTC(t *testing.T) {
	m := newMachine(t)
	zone := time.FixedZone("UTC+2", 2*3600)
	unlock := t0.Add(10 * 24 * time.Hour).In(zone)
	params, err := m.Seal(unlock, t0)
	require.NoError(t, err)
	require.Equal(t, time.UTC, params.ScheduledUnlockAt.Location())
	require.True(t, params.ScheduledUnlockAt.Equal(unlock))
}

func TestNextState(t *testing.T) {
	m := newMachine(t)
	unlock := t0.Add(10 * 24 * time.Hour)

	tests := []struct {
		name  string
		state types.State
		now   time.Time
		want  types.State
		due   bool
	}{
		{name: "sealed far from unlock", state: types.StateSealed, now: t0, due: false},
		{name: "sealed just outside threshold", state: types.StateSealed, now: unlock.Add(-3*24*time.Hour - time.Second), due: false},
		{name: "sealed exactly at threshold", state: types.StateSealed, now: unlock.Add(-3 * 24 * time.Hour), want: types.StateUnfolding, due: true},
		{name: "sealed inside threshold", state: types.StateSealed, now: unlock.Add(-time.Hour), want: types.StateUnfolding, due: true},
		{name: "sealed past unlock still single hop", state: types.StateSealed, now: unlock.Add(time.Hour), want: types.StateUnfolding, due: true},
		{name: "unfolding before unlock", state: types.StateUnfolding, now: unlock.Add(-time.Minute), due: false},
		{name: "unfolding at unlock", state: types.StateUnfolding, now: unlock, want: types.StateReady, due: true},
		{name: "unfolding past unlock", state: types.StateUnfolding, now: unlock.Add(time.Hour), want: types.StateReady, due: true},
		{name: "ready never advances automatically", state: types.StateReady, now: unlock.Add(time.Hour), due: false},
		{name: "opened is terminal", state: types.StateOpened, now: unlock.Add(time.Hour), due: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, due := m.NextState(capsuleIn(tt.state, unlock), tt.now)
			require.Equal(t, tt.due, due)
			if due {
				require.Equal(t, tt.want, next)
			}
		})
	}
}

func TestNextStateWithoutUnlock(t *testing.T) {
	m := newMachine(t)
	c := capsuleIn(types.StateSealed, t0.Add(time.Hour))
	c.ScheduledUnlockAt = nil
	_, due := m.NextState(c, t0.Add(2*time.Hour))
	require.False(t, due)

	_, due = m.NextState(capsuleIn(types.StateDraft, time.Time{}), t0)
	require.False(t, due)
}

func TestValidateTransition(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, m.ValidateTransition(types.StateSealed, types.StateUnfolding))
	err := m.ValidateTransition(types.StateSealed, types.StateReady)
	require.True(t, trace.IsBadParameter(err))
	err = m.ValidateTransition(types.StateReady, types.StateSealed)
	require.True(t, trace.IsBadParameter(err))
}

func TestEditAndSealGates(t *testing.T) {
	m := newMachine(t)
	unlock := t0.Add(10 * 24 * time.Hour)

	draft := capsuleIn(types.StateDraft, time.Time{})
	ok, _ := m.CanEdit(draft, sender)
	require.True(t, ok)
	ok, reason := m.CanEdit(draft, receiver)
	require.False(t, ok)
	require.Equal(t, "Only the sender can edit a capsule", reason)

	sealed := capsuleIn(types.StateSealed, unlock)
	ok, reason = m.CanEdit(sealed, sender)
	require.False(t, ok)
	require.Equal(t, "Cannot edit capsule in sealed state", reason)

	ok, _ = m.CanSeal(draft, sender)
	require.True(t, ok)
	ok, _ = m.CanSeal(sealed, sender)
	require.False(t, ok)
	ok, _ = m.CanSeal(draft, stranger)
	require.False(t, ok)

	ok, _ = m.CanDelete(draft, sender)
	require.True(t, ok)
	ok, _ = m.CanDelete(sealed, sender)
	require.False(t, ok)
}

func TestOpenGate(t *testing.T) {
	m := newMachine(t)
	unlock := t0.Add(10 * 24 * time.Hour)

	ready := capsuleIn(types.StateReady, unlock)
	ok, _ := m.CanOpen(ready, receiver)
	require.True(t, ok)

	ok, _ = m.CanOpen(ready, sender)
	require.False(t, ok)

	opened := capsuleIn(types.StateOpened, unlock)
	ok, reason := m.CanOpen(opened, receiver)
	require.False(t, ok)
	require.Equal(t, ReasonAlreadyOpened, reason)

	unfolding := capsuleIn(types.StateUnfolding, unlock)
	ok, reason = m.CanOpen(unfolding, receiver)
	require.False(t, ok)
	require.NotEqual(t, ReasonAlreadyOpened, reason)
}

func TestViewGate(t *testing.T) {
	m := newMachine(t)
	unlock := t0.Add(10 * 24 * time.Hour)

	for _, state := range types.AllStates {
		c := capsuleIn(state, unlock)
		ok, _ := m.CanView(c, sender)
		require.True(t, ok, "sender can always view state %v", state)
		ok, _ = m.CanView(c, stranger)
		require.False(t, ok, "stranger can never view state %v", state)
	}

	// Receiver without early view: opened only.
	for _, state := range []types.State{types.StateSealed, types.StateUnfolding, types.StateReady} {
		ok, _ := m.CanView(capsuleIn(state, unlock), receiver)
		require.False(t, ok, "receiver must not view state %v without early view", state)
	}
	ok, _ := m.CanView(capsuleIn(types.StateOpened, unlock), receiver)
	require.True(t, ok)

	// Receiver with early view: unfolding and ready too, but not sealed.
	for state, want := range map[types.State]bool{
		types.StateSealed:    false,
		types.StateUnfolding: true,
		types.StateReady:     true,
		types.StateOpened:    true,
	} {
		c := capsuleIn(state, unlock)
		c.AllowEarlyView = true
		ok, _ := m.CanView(c, receiver)
		require.Equal(t, want, ok, "early view in state %v", state)
	}
}

func TestSelfAddressedCapsule(t *testing.T) {
	m := newMachine(t)
	unlock := t0.Add(10 * 24 * time.Hour)

	c := capsuleIn(types.StateReady, unlock)
	c.ReceiverID = sender

	ok, _ := m.CanOpen(c, sender)
	require.True(t, ok)
	ok, _ = m.CanView(c, sender)
	require.True(t, ok)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{MinUnlockLead: time.Hour, MaxUnlockLead: time.Minute})
	require.True(t, trace.IsBadParameter(err))
}
