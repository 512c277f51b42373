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
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

const (
	// MaxTitleLength is the maximum length of a capsule or draft title.
	MaxTitleLength = 255
	// MaxThemeLength is the maximum length of a capsule or draft theme.
	MaxThemeLength = 50
	// MaxMediaURLs caps the number of media attachments per capsule.
	MaxMediaURLs = 10
	// MaxMediaURLLength caps the length of a single media URL.
	MaxMediaURLLength = 2048
)

// Capsule is a time-locked message from a sender to a receiver. Once sealed
// its contents and unlock instant are immutable; the unlock engine advances
// it through the unfolding and ready phases, and the receiver opens it.
type Capsule struct {
	// ID is the capsule identifier (UUID string).
	ID string `json:"id"`
	// SenderID identifies the user that authored the capsule.
	SenderID string `json:"sender_id"`
	// ReceiverID identifies the addressee. Self-addressed capsules are
	// legal, so SenderID and ReceiverID may match.
	ReceiverID string `json:"receiver_id"`
	// Title is a short subject line, always visible to sender and
	// receiver regardless of state.
	Title string `json:"title"`
	// Body is the letter itself. Hidden from the receiver until the view
	// gate allows it.
	Body string `json:"body,omitempty"`
	// MediaURLs is an ordered list of attachment URLs, gated together
	// with the body.
	MediaURLs []string `json:"media_urls,omitempty"`
	// Theme is an optional presentation hint.
	Theme string `json:"theme,omitempty"`
	// State is the lifecycle state.
	State State `json:"state"`
	// CreatedAt is when the capsule row was created.
	CreatedAt time.Time `json:"created_at"`
	// SealedAt is when the capsule left the draft state. Set exactly once.
	SealedAt *time.Time `json:"sealed_at,omitempty"`
	// ScheduledUnlockAt is the UTC instant after which the capsule
	// becomes ready. Immutable once the capsule is sealed.
	ScheduledUnlockAt *time.Time `json:"scheduled_unlock_at,omitempty"`
	// OpenedAt is when the receiver opened the capsule. Set iff the
	// capsule is in the opened state.
	OpenedAt *time.Time `json:"opened_at,omitempty"`
	// AllowEarlyView lets the receiver read the body during the
	// unfolding and ready phases, before formally opening.
	AllowEarlyView bool `json:"allow_early_view"`
	// AllowReceiverReply marks the capsule as accepting a reply once
	// opened.
	AllowReceiverReply bool `json:"allow_receiver_reply"`
}

// CheckAndSetDefaults validates the capsule and fills in generated fields.
// It enforces the structural invariants that must hold after every
// committed write.
func (c *Capsule) CheckAndSetDefaults() error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, err := uuid.Parse(c.ID); err != nil {
		return trace.BadParameter("invalid capsule id %q", c.ID)
	}
	if c.SenderID == "" {
		return trace.BadParameter("missing capsule sender")
	}
	if c.ReceiverID == "" {
		return trace.BadParameter("missing capsule receiver")
	}
	if c.Title == "" {
		return trace.BadParameter("missing capsule title")
	}
	if len(c.Title) > MaxTitleLength {
		return trace.BadParameter("capsule title exceeds %v characters", MaxTitleLength)
	}
	if len(c.Theme) > MaxThemeLength {
		return trace.BadParameter("capsule theme exceeds %v characters", MaxThemeLength)
	}
	if c.Body == "" {
		return trace.BadParameter("missing capsule body")
	}
	if len(c.MediaURLs) > MaxMediaURLs {
		return trace.BadParameter("capsule has more than %v media attachments", MaxMediaURLs)
	}
	if c.State == "" {
		c.State = StateDraft
	}
	if !c.State.IsValid() {
		return trace.BadParameter("invalid capsule state %q", c.State)
	}
	if c.State != StateDraft {
		if c.ScheduledUnlockAt == nil {
			return trace.BadParameter("capsule in state %q has no unlock time", c.State)
		}
		if c.SealedAt == nil {
			return trace.BadParameter("capsule in state %q has no seal time", c.State)
		}
		if c.SealedAt.After(*c.ScheduledUnlockAt) {
			return trace.BadParameter("capsule seal time is after its unlock time")
		}
	}
	if (c.OpenedAt != nil) != (c.State == StateOpened) {
		return trace.BadParameter("capsule open time must be set exactly when the capsule is opened")
	}
	return nil
}

// IsSelfAddressed reports whether sender and receiver are the same user.
func (c *Capsule) IsSelfAddressed() bool {
	return c.SenderID == c.ReceiverID
}

// WithoutContent returns a metadata-only projection of the capsule: the
// body and media attachments are removed while the title, state and
// timestamps remain visible. Returned to principals that fail the view
// gate.
func (c *Capsule) WithoutContent() *Capsule {
	out := *c
	out.Body = ""
	out.MediaURLs = nil
	return &out
}

// Clone returns a deep copy of the capsule.
func (c *Capsule) Clone() *Capsule {
	out := *c
	if c.MediaURLs != nil {
		out.MediaURLs = append([]string(nil), c.MediaURLs...)
	}
	if c.SealedAt != nil {
		t := *c.SealedAt
		out.SealedAt = &t
	}
	if c.ScheduledUnlockAt != nil {
		t := *c.ScheduledUnlockAt
		out.ScheduledUnlockAt = &t
	}
	if c.OpenedAt != nil {
		t := *c.OpenedAt
		out.OpenedAt = &t
	}
	return &out
}
