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

import "time"

var AppVersion = "DEVELOPMENT"

const (
	AppName                = "brick"
	LogFile                = "brick-sd.log"
	CfgFile                = "config.toml"
	DefaultRequestTimeout  = 2000 * time.Millisecond
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMinMountSpacing = 2 * time.Second
)
