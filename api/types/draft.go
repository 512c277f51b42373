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

// Draft is a private scratchpad for composing a capsule. Unlike a capsule
// in the draft state it has no receiver yet, only an optional link to a
// contact-book recipient. Drafts are visible to their owner alone.
type Draft struct {
	// ID is the draft identifier (UUID string).
	ID string `json:"id"`
	// OwnerID identifies the user composing the draft.
	OwnerID string `json:"owner_id"`
	// Title is the working subject line. May be empty while composing.
	Title string `json:"title,omitempty"`
	// Body is the working letter text.
	Body string `json:"body,omitempty"`
	// MediaURLs is the working list of attachment URLs.
	MediaURLs []string `json:"media_urls,omitempty"`
	// Theme is an optional presentation hint.
	Theme string `json:"theme,omitempty"`
	// RecipientID optionally links a contact-book recipient.
	RecipientID string `json:"recipient_id,omitempty"`
	// CreatedAt is when the draft was started.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt moves forward on every write, even a no-op one.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the draft and fills in generated fields.
func (d *Draft) CheckAndSetDefaults() error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	} else if _, err := uuid.Parse(d.ID); err != nil {
		return trace.BadParameter("invalid draft id %q", d.ID)
	}
	if d.OwnerID == "" {
		return trace.BadParameter("missing draft owner")
	}
	if len(d.Title) > MaxTitleLength {
		return trace.BadParameter("draft title exceeds %v characters", MaxTitleLength)
	}
	if len(d.Theme) > MaxThemeLength {
		return trace.BadParameter("draft theme exceeds %v characters", MaxThemeLength)
	}
	if len(d.MediaURLs) > MaxMediaURLs {
		return trace.BadParameter("draft has more than %v media attachments", MaxMediaURLs)
	}
	if d.RecipientID != "" {
		if _, err := uuid.Parse(d.RecipientID); err != nil {
			return trace.BadParameter("invalid draft recipient id %q", d.RecipientID)
		}
	}
	return nil
}
