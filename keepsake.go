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

// Package keepsake holds constants shared across the keepsake server
// components.
package keepsake

import "strings"

// Version is the semantic version of the keepsake server. It is reported by
// the ping endpoint and the version CLI command.
const Version = "1.0.0"

// APIPrefix is the path prefix of the versioned HTTP API.
const APIPrefix = "/v1"

const (
	// ComponentKey is the name of the log attribute holding the component
	// name of the emitting subsystem.
	ComponentKey = "component"

	// ComponentProcess is the top level process supervisor.
	ComponentProcess = "process"

	// ComponentWeb is the HTTP API gateway.
	ComponentWeb = "web"

	// ComponentAuth is the credential service issuing and validating
	// bearer tokens.
	ComponentAuth = "auth"

	// ComponentCapsule is the capsule facade handling synchronous
	// request-path operations.
	ComponentCapsule = "capsule"

	// ComponentUnlock is the background time-lock engine advancing
	// capsules through time-driven transitions.
	ComponentUnlock = "unlock"

	// ComponentBackend is the storage backend layer.
	ComponentBackend = "backend"

	// ComponentNotify is the notification dispatcher.
	ComponentNotify = "notify"
)

// Component generates a component name joining parts with a colon,
// e.g. Component("unlock", "scheduler") returns "unlock:scheduler".
func Component(parts ...string) string {
	return strings.Join(parts, ":")
}
