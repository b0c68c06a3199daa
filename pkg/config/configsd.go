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
	"slices"
	"time"
)

type SD struct {
	AutoMountPolicy  AutoMountPolicy `toml:"auto_mount_policy,omitempty"`
	Device           string          `toml:"device,omitempty"`
	MountRoot        string          `toml:"mount_root,omitempty"`
	ForbiddenThreads []string        `toml:"forbidden_threads,omitempty"`
	RequestTimeoutMs int             `toml:"request_timeout_ms,omitempty"`
	AutoMount        bool            `toml:"auto_mount"`
	MountReadOnly    bool            `toml:"mount_read_only"`
}

type AutoMountPolicy struct {
	PollIntervalMs int `toml:"poll_interval_ms,omitempty"`
	MinIntervalMs  int `toml:"min_interval_ms,omitempty"`
	Burst          int `toml:"burst,omitempty"`
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// SDDevice is the card image or block device path.
func (c *Instance) SDDevice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.SD.Device
}

func (c *Instance) SetSDDevice(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.SD.Device = path
}

// SDMountRoot is the directory of a host-mounted card, if any.
func (c *Instance) SDMountRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.SD.MountRoot
}

func (c *Instance) SetSDMountRoot(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.SD.MountRoot = path
}

func (c *Instance) SDRequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.SD.RequestTimeoutMs, DefaultRequestTimeout)
}

func (c *Instance) SetSDRequestTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.SD.RequestTimeoutMs = int(d.Milliseconds())
}

func (c *Instance) SDAutoMount() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.SD.AutoMount
}

func (c *Instance) SetSDAutoMount(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.SD.AutoMount = enabled
}

func (c *Instance) SDMountReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.SD.MountReadOnly
}

func (c *Instance) SetSDMountReadOnly(readOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.SD.MountReadOnly = readOnly
}

// SDForbiddenThreads returns a copy of the thread names barred from the
// driver.
func (c *Instance) SDForbiddenThreads() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vals.SD.ForbiddenThreads)
}

func (c *Instance) SDPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.SD.AutoMountPolicy.PollIntervalMs, DefaultPollInterval)
}

func (c *Instance) SDMinMountInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.SD.AutoMountPolicy.MinIntervalMs, DefaultMinMountSpacing)
}

func (c *Instance) SDMountBurst() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.SD.AutoMountPolicy.Burst <= 0 {
		return 1
	}
	return c.vals.SD.AutoMountPolicy.Burst
}
