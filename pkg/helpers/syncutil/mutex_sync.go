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

//go:build !deadlock

// Package syncutil holds the lock types used across the storage stack.
// Building with -tags=deadlock swaps in lock-order and hold-time checking.
package syncutil

import "sync"

// DeadlockEnabled reports whether the checker is compiled in.
const DeadlockEnabled = false

// Mutex guards short critical sections such as the request pool bitmap,
// the mailbox ring and the controller registers. None of them is held
// across card I/O, so the plain runtime mutex is enough.
type Mutex struct {
	sync.Mutex //nolint:forbidigo // wrapped here only
}

// RWMutex guards read-mostly state: the forbidden caller set, the driver
// lifecycle against Close, config values and event subscribers.
type RWMutex struct {
	sync.RWMutex //nolint:forbidigo // wrapped here only
}
