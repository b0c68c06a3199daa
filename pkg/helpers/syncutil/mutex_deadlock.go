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

//go:build deadlock

// Package syncutil holds the lock types used across the storage stack.
// Building with -tags=deadlock swaps in lock-order and hold-time checking.
package syncutil

import (
	"github.com/rs/zerolog/log"
	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled reports whether the checker is compiled in.
const DeadlockEnabled = true

func init() {
	deadlock.Opts.DeadlockTimeout = DeadlockTimeout
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Error().Msg("potential deadlock in sd storage locks")
	}
}

// Mutex reports lock-order inversions and waits beyond DeadlockTimeout.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is the checked counterpart of the read-mostly lock.
type RWMutex struct {
	deadlock.RWMutex
}
