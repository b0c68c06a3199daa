// Brick Core
// Copyright (c) 2026 The Brick Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Brick Core.
//
// Brick Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Brick Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Brick Core.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/adrg/xdg"
	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	// CfgEnv overrides the config file path.
	CfgEnv = "BRICK_CFG"
)

// Values is the on-disk config document.
type Values struct {
	SD           SD   `toml:"sd"`
	ConfigSchema int  `toml:"config_schema"`
	DebugLogging bool `toml:"debug_logging"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	SD: SD{
		AutoMount:        true,
		ForbiddenThreads: []string{"audioProcess"},
	},
}

// Instance is the loaded config. Accessors are safe for concurrent use.
type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// DefaultConfigDir is $XDG_CONFIG_HOME/brick.
func DefaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultDataDir is $XDG_DATA_HOME/brick, where logs are written.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ErrSchemaMismatch is returned when the file was written by a different
// config schema.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// NewConfig loads the config file in configDir, or the file named by
// BRICK_CFG, writing defaults first when it does not exist yet.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	} else {
		log.Debug().Str("path", cfgPath).Msg("config path from environment")
	}

	cfg := &Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	_, err := os.Stat(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		log.Info().Str("path", cfgPath).Msg("wrote default sd config")
	case err != nil:
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file location.
func (c *Instance) Path() string {
	return c.cfgPath
}

// decode overlays the TOML document in data on a copy of defaults, so keys
// missing from the file keep their default values.
//
//nolint:gocritic // defaults copied on purpose
func decode(data []byte, defaults Values) (Values, error) {
	vals := defaults
	vals.SD.ForbiddenThreads = slices.Clone(defaults.SD.ForbiddenThreads)
	if err := toml.Unmarshal(data, &vals); err != nil {
		return Values{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if vals.ConfigSchema != SchemaVersion {
		return Values{}, fmt.Errorf("%w: got %d, expecting %d",
			ErrSchemaMismatch, vals.ConfigSchema, SchemaVersion)
	}
	return vals, nil
}

// Load replaces the current values with the file contents. On error the
// previous values stay in place.
func (c *Instance) Load() error {
	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	vals, err := decode(data, c.defaults)
	if err != nil {
		log.Error().Err(err).Str("path", c.cfgPath).Msg("config rejected")
		return err
	}
	c.vals = vals
	return nil
}

// Save writes the current values, stamped with SchemaVersion.
func (c *Instance) Save() error {
	c.mu.Lock()
	c.vals.ConfigSchema = SchemaVersion
	data, err := toml.Marshal(&c.vals)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}
