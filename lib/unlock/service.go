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

// Package unlock implements the time-lock engine: the background
// component that advances capsules through their time-driven transitions.
package unlock

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/lifecycle"
	"github.com/gravitational/keepsake/lib/notify"
	"github.com/gravitational/keepsake/lib/services"
)

// Stats summarizes one sweep.
type Stats struct {
	// Checked is how many due capsules the sweep examined.
	Checked int `json:"checked"`
	// SealedToUnfolding counts transitions into the unfolding phase.
	SealedToUnfolding int `json:"sealed_to_unfolding"`
	// UnfoldingToReady counts transitions into the ready phase.
	UnfoldingToReady int `json:"unfolding_to_ready"`
	// Errors counts capsules skipped because of an error. The sweep
	// continues past them.
	Errors int `json:"errors"`
}

// ServiceConfig holds the unlock service dependencies.
type ServiceConfig struct {
	// Capsules is the capsule storage service.
	Capsules services.Capsules
	// Machine is the capsule state machine.
	Machine *lifecycle.Machine
	// Notifier receives phase notifications, best effort.
	Notifier notify.Notifier
	// Clock is the time source. Read once per sweep.
	Clock clockwork.Clock
	// Logger overrides the default component logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *ServiceConfig) CheckAndSetDefaults() error {
	if c.Capsules == nil {
		return trace.BadParameter("missing parameter Capsules")
	}
	if c.Machine == nil {
		return trace.BadParameter("missing parameter Machine")
	}
	if c.Notifier == nil {
		c.Notifier = notify.NewLogNotifier()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(keepsake.ComponentKey, keepsake.ComponentUnlock)
	}
	return nil
}

// Service advances due capsules through time-driven transitions. It is
// driven by the Scheduler, which guarantees that two sweeps never run
// concurrently.
type Service struct {
	cfg ServiceConfig
	log *slog.Logger
}

// NewService returns a new unlock service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg, log: cfg.Logger}, nil
}

// Sweep runs one pass over the due capsules. The clock is read once at
// the start so every decision within the sweep shares the same "now".
// Each capsule advances at most one hop; a capsule whose unlock instant
// is long past reaches ready over two consecutive sweeps, preserving the
// observable unfolding phase. Per-capsule failures are counted and
// logged without aborting the sweep.
func (s *Service) Sweep(ctx context.Context) (Stats, error) {
	now := s.cfg.Clock.Now().UTC()
	var stats Stats

	due, err := s.cfg.Capsules.GetDueCapsules(ctx)
	if err != nil {
		return stats, trace.Wrap(err)
	}
	stats.Checked = len(due)

	for _, capsule := range due {
		if err := ctx.Err(); err != nil {
			return stats, trace.Wrap(err)
		}
		next, dueNow := s.cfg.Machine.NextState(capsule, now)
		if !dueNow {
			continue
		}
		if err := s.advance(ctx, capsule, next); err != nil {
			stats.Errors++
			sweepErrors.Inc()
			s.log.ErrorContext(ctx, "Failed to advance capsule.",
				"capsule", capsule.ID,
				"from", capsule.State,
				"to", next,
				"error", err)
			continue
		}
		switch next {
		case types.StateUnfolding:
			stats.SealedToUnfolding++
			transitionsTotal.WithLabelValues(labelSealedToUnfolding).Inc()
		case types.StateReady:
			stats.UnfoldingToReady++
			transitionsTotal.WithLabelValues(labelUnfoldingToReady).Inc()
		}
	}

	sweepsTotal.Inc()
	capsulesChecked.Add(float64(stats.Checked))
	lastSweepTimestamp.Set(float64(now.Unix()))

	if stats.SealedToUnfolding+stats.UnfoldingToReady+stats.Errors > 0 {
		s.log.InfoContext(ctx, "Sweep complete.",
			"checked", stats.Checked,
			"sealed_to_unfolding", stats.SealedToUnfolding,
			"unfolding_to_ready", stats.UnfoldingToReady,
			"errors", stats.Errors)
	}
	return stats, nil
}

// advance applies one transition and fires the matching notification.
func (s *Service) advance(ctx context.Context, capsule *types.Capsule, next types.State) error {
	if err := s.cfg.Machine.ValidateTransition(capsule.State, next); err != nil {
		return trace.Wrap(err)
	}
	updated, err := s.cfg.Capsules.TransitionCapsule(ctx, capsule.ID, next, services.TransitionParams{})
	if err != nil {
		return trace.Wrap(err)
	}
	// Notification failures never revert a committed transition.
	switch next {
	case types.StateUnfolding:
		if err := s.cfg.Notifier.NotifyUnfolding(ctx, updated); err != nil {
			s.log.WarnContext(ctx, "Failed to send unfolding notification.",
				"capsule", updated.ID, "error", err)
		}
	case types.StateReady:
		if err := s.cfg.Notifier.NotifyReady(ctx, updated); err != nil {
			s.log.WarnContext(ctx, "Failed to send ready notification.",
				"capsule", updated.ID, "error", err)
		}
	}
	return nil
}
