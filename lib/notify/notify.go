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

// Package notify defines the notification contract invoked by the unlock
// engine. Delivery is best effort: a failed notification is logged and
// never blocks or reverts a transition.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
)

// Notifier is invoked as capsules move through time-driven transitions.
type Notifier interface {
	// NotifyUnfolding fires when a capsule enters the unfolding phase,
	// an early warning that the unlock instant is near.
	NotifyUnfolding(ctx context.Context, capsule *types.Capsule) error

	// NotifyReady fires when a capsule becomes ready to open.
	NotifyReady(ctx context.Context, capsule *types.Capsule) error
}

// LogNotifier writes notifications to the process log. It is the default
// when no delivery integration is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		log: slog.With(keepsake.ComponentKey, keepsake.ComponentNotify),
	}
}

// NotifyUnfolding logs the early warning.
func (n *LogNotifier) NotifyUnfolding(ctx context.Context, capsule *types.Capsule) error {
	n.log.InfoContext(ctx, "Capsule is unfolding.",
		"capsule", capsule.ID,
		"receiver", capsule.ReceiverID,
		"unlock_at", capsule.ScheduledUnlockAt)
	return nil
}

// NotifyReady logs the ready notification.
func (n *LogNotifier) NotifyReady(ctx context.Context, capsule *types.Capsule) error {
	n.log.InfoContext(ctx, "Capsule is ready to open.",
		"capsule", capsule.ID,
		"receiver", capsule.ReceiverID)
	return nil
}

// Multi fans a notification out to several notifiers, aggregating
// failures.
type Multi struct {
	notifiers []Notifier
}

// NewMulti returns a fan-out notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// NotifyUnfolding fans out the early warning.
func (m *Multi) NotifyUnfolding(ctx context.Context, capsule *types.Capsule) error {
	var errors []error
	for _, n := range m.notifiers {
		errors = append(errors, n.NotifyUnfolding(ctx, capsule))
	}
	return trace.NewAggregate(errors...)
}

// NotifyReady fans out the ready notification.
func (m *Multi) NotifyReady(ctx context.Context, capsule *types.Capsule) error {
	var errors []error
	for _, n := range m.notifiers {
		errors = append(errors, n.NotifyReady(ctx, capsule))
	}
	return trace.NewAggregate(errors...)
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu        sync.Mutex
	unfolding []string
	ready     []string
	// FailReady, when set, makes NotifyReady return an error after
	// recording.
	FailReady bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NotifyUnfolding records the capsule id.
func (r *Recorder) NotifyUnfolding(ctx context.Context, capsule *types.Capsule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unfolding = append(r.unfolding, capsule.ID)
	return nil
}

// NotifyReady records the capsule id.
func (r *Recorder) NotifyReady(ctx context.Context, capsule *types.Capsule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, capsule.ID)
	if r.FailReady {
		return trace.ConnectionProblem(nil, "notification channel is down")
	}
	return nil
}

// Unfolding returns the recorded unfolding notifications.
func (r *Recorder) Unfolding() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unfolding...)
}

// Ready returns the recorded ready notifications.
func (r *Recorder) Ready() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ready...)
}
