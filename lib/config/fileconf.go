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

// Package config reads the keepsake YAML configuration file and applies
// it onto the runtime service configuration.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/keepsake/lib/service"
)

// Duration is a time.Duration that unmarshals from the usual Go
// duration string form ("90s", "72h").
type Duration time.Duration

// UnmarshalYAML parses the duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return trace.Wrap(err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return trace.BadParameter("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// FileConfig is the YAML structure of the keepsake configuration file.
// Unknown fields are rejected so typos do not silently fall back to
// defaults.
type FileConfig struct {
	Keepsake struct {
		DataDir    string `yaml:"data_dir,omitempty"`
		ListenAddr string `yaml:"listen_addr,omitempty"`
		DiagAddr   string `yaml:"diag_addr,omitempty"`
		LogLevel   string `yaml:"log_level,omitempty"`
	} `yaml:"keepsake,omitempty"`

	Storage struct {
		Type string `yaml:"type,omitempty"`
		Path string `yaml:"path,omitempty"`
	} `yaml:"storage,omitempty"`

	Auth struct {
		SigningKeyFile  string   `yaml:"signing_key_file,omitempty"`
		AccessTokenTTL  Duration `yaml:"access_token_ttl,omitempty"`
		RefreshTokenTTL Duration `yaml:"refresh_token_ttl,omitempty"`
		BCryptCost      int      `yaml:"bcrypt_cost,omitempty"`
	} `yaml:"auth,omitempty"`

	Capsules struct {
		MinUnlockLead      Duration `yaml:"min_unlock_lead,omitempty"`
		MaxUnlockLead      Duration `yaml:"max_unlock_lead,omitempty"`
		EarlyViewThreshold Duration `yaml:"early_view_threshold,omitempty"`
		SweepInterval      Duration `yaml:"sweep_interval,omitempty"`
	} `yaml:"capsules,omitempty"`
}

// ReadFile loads and parses a configuration file.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	fc, err := Parse(data)
	return fc, trace.Wrap(err)
}

// Parse parses configuration file contents.
func Parse(data []byte) (*FileConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var fc FileConfig
	if err := decoder.Decode(&fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	return &fc, nil
}

// Apply copies the file configuration onto the runtime config. Values
// already set on cfg (from CLI flags) win over the file.
func Apply(fc *FileConfig, cfg *service.Config) error {
	if cfg.DataDir == "" {
		cfg.DataDir = fc.Keepsake.DataDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fc.Keepsake.ListenAddr
	}
	if cfg.DiagAddr == "" {
		cfg.DiagAddr = fc.Keepsake.DiagAddr
	}
	switch fc.Keepsake.LogLevel {
	case "", "info", "warn", "error":
	case "debug":
		cfg.Debug = true
	default:
		return trace.BadParameter("unsupported log level %q", fc.Keepsake.LogLevel)
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = fc.Storage.Type
	}
	if cfg.Backend.Path == "" {
		cfg.Backend.Path = fc.Storage.Path
	}
	if fc.Auth.SigningKeyFile != "" {
		key, err := os.ReadFile(fc.Auth.SigningKeyFile)
		if err != nil {
			return trace.ConvertSystemError(err)
		}
		cfg.SigningKey = bytes.TrimSpace(key)
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = time.Duration(fc.Auth.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = time.Duration(fc.Auth.RefreshTokenTTL)
	}
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = fc.Auth.BCryptCost
	}
	if cfg.MinUnlockLead == 0 {
		cfg.MinUnlockLead = time.Duration(fc.Capsules.MinUnlockLead)
	}
	if cfg.MaxUnlockLead == 0 {
		cfg.MaxUnlockLead = time.Duration(fc.Capsules.MaxUnlockLead)
	}
	if cfg.EarlyViewThreshold == 0 {
		cfg.EarlyViewThreshold = time.Duration(fc.Capsules.EarlyViewThreshold)
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Duration(fc.Capsules.SweepInterval)
	}
	return nil
}
