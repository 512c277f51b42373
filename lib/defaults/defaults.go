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

// Package defaults contains default constants set in various parts of the
// keepsake codebase.
package defaults

import "time"

const (
	// HTTPListenAddr is the address the HTTP API binds to by default.
	HTTPListenAddr = "0.0.0.0:3580"

	// DiagListenAddr is the address the diagnostics endpoints (metrics,
	// health) bind to by default.
	DiagListenAddr = "127.0.0.1:3581"

	// BackendType is the storage backend used when none is configured.
	BackendType = "lite"

	// BackendDir is the default backend subdirectory inside the data
	// directory.
	BackendDir = "backend"

	// DataDir is the default directory for server state.
	DataDir = "/var/lib/keepsake"
)

const (
	// MinUnlockLead is the minimum interval between sealing a capsule and
	// its unlock instant. Sealing with a closer unlock time is rejected.
	MinUnlockLead = time.Minute

	// MaxUnlockLead is the maximum interval between sealing a capsule and
	// its unlock instant, approximately five years.
	MaxUnlockLead = 5 * 365 * 24 * time.Hour

	// EarlyViewThreshold is how long before the unlock instant a sealed
	// capsule enters the unfolding teaser phase.
	EarlyViewThreshold = 3 * 24 * time.Hour

	// SweepInterval is the period of the unlock engine's background
	// sweeps.
	SweepInterval = 60 * time.Second
)

const (
	// DefaultPageSize is the page size used by list operations when the
	// caller does not specify one.
	DefaultPageSize = 20

	// MaxPageSize caps the page size of list operations.
	MaxPageSize = 100

	// MinPageSize floors the page size of list operations.
	MinPageSize = 1
)

const (
	// AccessTokenTTL is the lifetime of issued access tokens.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenTTL is the lifetime of issued refresh tokens.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// BCryptCost is the work factor for password hashing.
	BCryptCost = 10

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8

	// AuthRateLimitPerSecond is the sustained rate of signup/login
	// attempts allowed per client address.
	AuthRateLimitPerSecond = 5

	// AuthRateLimitBurst is the burst of signup/login attempts allowed
	// per client address.
	AuthRateLimitBurst = 10
)

const (
	// HTTPReadTimeout is the maximum duration for reading an entire
	// request.
	HTTPReadTimeout = 10 * time.Second

	// HTTPWriteTimeout is the maximum duration before timing out writes
	// of a response.
	HTTPWriteTimeout = 30 * time.Second

	// HTTPIdleTimeout is the maximum time to wait for the next request on
	// a kept-alive connection.
	HTTPIdleTimeout = 2 * time.Minute

	// ShutdownTimeout bounds the graceful shutdown of the HTTP listeners.
	ShutdownTimeout = 30 * time.Second
)
