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
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateDraft, StateSealed, true},
		{StateSealed, StateUnfolding, true},
		{StateUnfolding, StateReady, true},
		{StateReady, StateOpened, true},
		{StateDraft, StateUnfolding, false},
		{StateDraft, StateReady, false},
		{StateDraft, StateOpened, false},
		{StateSealed, StateReady, false},
		{StateSealed, StateOpened, false},
		{StateSealed, StateDraft, false},
		{StateUnfolding, StateSealed, false},
		{StateUnfolding, StateOpened, false},
		{StateReady, StateUnfolding, false},
		{StateOpened, StateReady, false},
		{StateOpened, StateDraft, false},
		{StateOpened, StateOpened, false},
		{StateDraft, StateDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestParseState(t *testing.T) {
	for _, s := range AllStates {
		parsed, err := ParseState(string(s))
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}

	_, err := ParseState("unsealed")
	require.True(t, trace.IsBadParameter(err))
	_, err = ParseState("")
	require.True(t, trace.IsBadParameter(err))
}

func TestCapsuleCheckAndSetDefaults(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	unlock := now.Add(10 * 24 * time.Hour)

	valid := func() *Capsule {
		return &Capsule{
			SenderID:   uuid.NewString(),
			ReceiverID: uuid.NewString(),
			Title:      "to future you",
			Body:       "hi",
			CreatedAt:  now,
		}
	}

	t.Run("ok", func(t *testing.T) {
		c := valid()
		require.NoError(t, c.CheckAndSetDefaults())
		require.NotEmpty(t, c.ID)
		require.Equal(t, StateDraft, c.State)
	})

	tests := []struct {
		name   string
		mutate func(*Capsule)
	}{
		{"missing sender", func(c *Capsule) { c.SenderID = "" }},
		{"missing receiver", func(c *Capsule) { c.ReceiverID = "" }},
		{"missing title", func(c *Capsule) { c.Title = "" }},
		{"missing body", func(c *Capsule) { c.Body = "" }},
		{"bad id", func(c *Capsule) { c.ID = "not-a-uuid" }},
		{"title too long", func(c *Capsule) { c.Title = strings.Repeat("x", MaxTitleLength+1) }},
		{"theme too long", func(c *Capsule) { c.Theme = strings.Repeat("x", MaxThemeLength+1) }},
		{"unknown state", func(c *Capsule) { c.State = State("lost") }},
		{"sealed without unlock", func(c *Capsule) {
			c.State = StateSealed
			c.SealedAt = &now
		}},
		{"sealed without seal time", func(c *Capsule) {
			c.State = StateSealed
			c.ScheduledUnlockAt = &unlock
		}},
		{"seal time after unlock", func(c *Capsule) {
			c.State = StateSealed
			late := unlock.Add(time.Minute)
			c.SealedAt = &late
			c.ScheduledUnlockAt = &unlock
		}},
		{"opened without open time", func(c *Capsule) {
			c.State = StateOpened
			c.SealedAt = &now
			c.ScheduledUnlockAt = &unlock
		}},
		{"open time outside opened state", func(c *Capsule) {
			c.OpenedAt = &now
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.CheckAndSetDefaults()
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}

	t.Run("opened with all timestamps", func(t *testing.T) {
		c := valid()
		c.State = StateOpened
		c.SealedAt = &now
		c.ScheduledUnlockAt = &unlock
		opened := unlock.Add(5 * time.Minute)
		c.OpenedAt = &opened
		require.NoError(t, c.CheckAndSetDefaults())
	})

	t.Run("self addressed is legal", func(t *testing.T) {
		c := valid()
		c.ReceiverID = c.SenderID
		require.NoError(t, c.CheckAndSetDefaults())
		require.True(t, c.IsSelfAddressed())
	})
}

func TestCapsuleWithoutContent(t *testing.T) {
	c := &Capsule{
		ID:         uuid.NewString(),
		SenderID:   uuid.NewString(),
		ReceiverID: uuid.NewString(),
		Title:      "soon",
		Body:       "the secret text",
		MediaURLs:  []string{"https://example.com/a.jpg"},
		State:      StateUnfolding,
	}
	redacted := c.WithoutContent()
	require.Empty(t, redacted.Body)
	require.Empty(t, redacted.MediaURLs)
	require.Equal(t, c.Title, redacted.Title)
	require.Equal(t, c.State, redacted.State)
	// the original is untouched
	require.Equal(t, "the secret text", c.Body)
	require.Len(t, c.MediaURLs, 1)
}

func TestCapsuleClone(t *testing.T) {
	now := time.Now().UTC()
	unlock := now.Add(time.Hour)
	c := &Capsule{
		ID:                uuid.NewString(),
		SenderID:          uuid.NewString(),
		ReceiverID:        uuid.NewString(),
		Title:             "t",
		Body:              "b",
		MediaURLs:         []string{"https://example.com/a.jpg"},
		State:             StateSealed,
		SealedAt:          &now,
		ScheduledUnlockAt: &unlock,
	}
	clone := c.Clone()
	clone.MediaURLs[0] = "https://example.com/b.jpg"
	*clone.SealedAt = now.Add(time.Minute)
	require.Equal(t, "https://example.com/a.jpg", c.MediaURLs[0])
	require.Equal(t, now, *c.SealedAt)
}
