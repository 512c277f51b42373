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

package config

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/lib/service"
)

const sampleConfig = `
keepsake:
  data_dir: /tmp/keepsake-test
  listen_addr: 127.0.0.1:3580
  log_level: debug
storage:
  type: lite
  path: /tmp/keepsake-test/backend
auth:
  access_token_ttl: 5m
  bcrypt_cost: 12
capsules:
  sweep_interval: 30s
  early_view_threshold: 48h
`

func TestParseAndApply(t *testing.T) {
	fc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	var cfg service.Config
	require.NoError(t, Apply(fc, &cfg))
	require.Equal(t, "/tmp/keepsake-test", cfg.DataDir)
	require.Equal(t, "127.0.0.1:3580", cfg.ListenAddr)
	require.True(t, cfg.Debug)
	require.Equal(t, "lite", cfg.Backend.Type)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 12, cfg.BCryptCost)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, 48*time.Hour, cfg.EarlyViewThreshold)
	// Untouched values stay zero for CheckAndSetDefaults to fill.
	require.Zero(t, cfg.RefreshTokenTTL)
}

func TestFlagsWinOverFile(t *testing.T) {
	fc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	cfg := service.Config{ListenAddr: "0.0.0.0:8080", BCryptCost: 10}
	require.NoError(t, Apply(fc, &cfg))
	require.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	require.Equal(t, 10, cfg.BCryptCost)
}

func TestParseRejections(t *testing.T) {
	// Unknown fields are typos, not extensions.
	_, err := Parse([]byte("keepsake:\n  listen_address: 1.2.3.4:80\n"))
	require.True(t, trace.IsBadParameter(err))

	// Bad durations.
	_, err = Parse([]byte("capsules:\n  sweep_interval: sixty\n"))
	require.True(t, trace.IsBadParameter(err))

	// Bad log level.
	fc, err := Parse([]byte("keepsake:\n  log_level: loud\n"))
	require.NoError(t, err)
	var cfg service.Config
	require.True(t, trace.IsBadParameter(Apply(fc, &cfg)))
}
