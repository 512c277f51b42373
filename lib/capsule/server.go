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

// Package capsule implements the synchronous request-handling facade of
// the capsule core. Every operation authorizes the principal through the
// state machine gates and delegates persistence to the services layer.
package capsule

import (
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/defaults"
	"github.com/gravitational/keepsake/lib/lifecycle"
	"github.com/gravitational/keepsake/lib/services"
)

// ServerConfig holds the facade dependencies, wired explicitly by the
// process supervisor.
type ServerConfig struct {
	// Capsules is the capsule storage service.
	Capsules services.Capsules
	// Identity resolves receivers and principals.
	Identity services.Identity
	// Drafts is the scratchpad storage service.
	Drafts services.Drafts
	// Recipients is the contact book storage service.
	Recipients services.Recipients
	// Machine is the capsule state machine.
	Machine *lifecycle.Machine
	// Clock is the time source for create, seal and open instants.
	Clock clockwork.Clock
	// Logger overrides the default component logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *ServerConfig) CheckAndSetDefaults() error {
	if c.Capsules == nil {
		return trace.BadParameter("missing parameter Capsules")
	}
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Drafts == nil {
		return trace.BadParameter("missing parameter Drafts")
	}
	if c.Recipients == nil {
		return trace.BadParameter("missing parameter Recipients")
	}
	if c.Machine == nil {
		machine, err := lifecycle.New(lifecycle.Config{})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Machine = machine
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(keepsake.ComponentKey, keepsake.ComponentCapsule)
	}
	return nil
}

// Server is the capsule facade.
type Server struct {
	cfg ServerConfig
	log *slog.Logger
}

// NewServer returns a new capsule facade.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{cfg: cfg, log: cfg.Logger}, nil
}

// checkPrincipal rejects inactive or empty principals before any
// business logic runs.
func (s *Server) checkPrincipal(principal types.Principal) error {
	if principal.ID == "" {
		return trace.AccessDenied("missing principal")
	}
	if !principal.IsActive {
		return trace.AccessDenied("account is not active")
	}
	return nil
}

// Box selects the direction of a capsule listing.
type Box string

const (
	// Inbox lists capsules addressed to the principal.
	Inbox Box = "inbox"
	// Outbox lists capsules authored by the principal.
	Outbox Box = "outbox"
)

// ParseBox validates a box string.
func ParseBox(v string) (Box, error) {
	switch Box(v) {
	case Inbox, Outbox:
		return Box(v), nil
	case "":
		return Inbox, nil
	}
	return "", trace.BadParameter("invalid box %q, expected %q or %q", v, Inbox, Outbox)
}

// ListRequest narrows and paginates a capsule listing.
type ListRequest struct {
	// Box selects inbox or outbox. Defaults to inbox.
	Box Box `json:"box"`
	// State optionally filters by capsule state.
	State string `json:"state,omitempty"`
	// Page is the 1-indexed page number.
	Page int `json:"page"`
	// PageSize is the page size, clamped to the configured bounds.
	PageSize int `json:"page_size"`
}

// CheckAndSetDefaults validates and normalizes the request.
func (r *ListRequest) CheckAndSetDefaults() error {
	box, err := ParseBox(string(r.Box))
	if err != nil {
		return trace.Wrap(err)
	}
	r.Box = box
	if r.State != "" {
		if _, err := types.ParseState(r.State); err != nil {
			return trace.Wrap(err)
		}
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Page < 1 {
		return trace.BadParameter("page must be positive, got %v", r.Page)
	}
	if r.PageSize == 0 {
		r.PageSize = defaults.DefaultPageSize
	}
	if r.PageSize < defaults.MinPageSize || r.PageSize > defaults.MaxPageSize {
		return trace.BadParameter("page size must be between %v and %v, got %v",
			defaults.MinPageSize, defaults.MaxPageSize, r.PageSize)
	}
	return nil
}

// Page is one page of a capsule listing.
type Page struct {
	// Items is the page contents, gated projections included.
	Items []*types.Capsule `json:"items"`
	// Total is the number of capsules matching the query across all
	// pages.
	Total int `json:"total"`
	// Page echoes the 1-indexed page number.
	Page int `json:"page"`
	// PageSize echoes the page size.
	PageSize int `json:"page_size"`
}
