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

package unlock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/lib/defaults"
)

// SchedulerConfig holds the scheduler dependencies.
type SchedulerConfig struct {
	// Service is the unlock service driven by the scheduler.
	Service *Service
	// Interval is the sweep period.
	Interval time.Duration
	// Clock is the time source for the ticker.
	Clock clockwork.Clock
	// Logger overrides the default component logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *SchedulerConfig) CheckAndSetDefaults() error {
	if c.Service == nil {
		return trace.BadParameter("missing parameter Service")
	}
	if c.Interval == 0 {
		c.Interval = defaults.SweepInterval
	}
	if c.Interval < 0 {
		return trace.BadParameter("sweep interval must be positive")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(keepsake.ComponentKey,
			keepsake.Component(keepsake.ComponentUnlock, "scheduler"))
	}
	return nil
}

// Scheduler drives the unlock service: one sweep per tick, never more
// than one sweep in flight. Sweeps run synchronously on the scheduler
// goroutine, so an overrunning sweep simply absorbs the ticks it missed;
// pending ticks are drained afterwards rather than queued. The engine
// compares absolute unlock instants, which makes backward and large
// forward clock jumps harmless: missed transitions are caught up by the
// next sweep.
type Scheduler struct {
	cfg SchedulerConfig
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{cfg: cfg, log: cfg.Logger}, nil
}

// Start launches the background sweep loop. Idempotent: a second call
// logs a warning and does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.log.Warn("Unlock scheduler is already running.")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.log.Info("Unlock scheduler started.", "interval", s.cfg.Interval)
}

// Stop cancels future ticks and waits for the sweep in flight, if any,
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("Unlock scheduler stopped.")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.cfg.Service.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("Sweep failed.", "error", err)
			}
			// Drop ticks that accumulated while the sweep ran; the
			// next sweep starts a full interval from now, not from a
			// backlog.
			for {
				select {
				case <-ticker.Chan():
					continue
				default:
				}
				break
			}
		}
	}
}
