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

package blockdev

import (
	"errors"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
)

var (
	errNotInserted  = errors.New("card not inserted")
	errNotConnected = errors.New("card not connected")
	errOutOfRange   = errors.New("sector out of range")
	errProtected    = errors.New("card write protected")
	errInjected     = errors.New("injected fault")
)

// MemController is an in-memory card with fault injection. It backs the
// simulator and tests; toggles may be flipped from any goroutine.
type MemController struct {
	data        []byte
	pending     ErrorFlags
	latched     ErrorFlags
	reads       int
	writes      int
	syncs       int
	mu          syncutil.Mutex
	inserted    bool
	protected   bool
	connected   bool
	failConnect bool
}

// NewMemController returns an inserted, writable card of blocks blocks.
func NewMemController(blocks uint32) *MemController {
	return &MemController{
		data:     make([]byte, uint64(blocks)*BlockSize),
		inserted: true,
	}
}

// SetInserted simulates card insertion or removal. Removal latches the
// card-removed flag like the controller interrupt does.
func (m *MemController) SetInserted(inserted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inserted && !inserted {
		m.latched |= FlagCardRemoved
		m.connected = false
	}
	m.inserted = inserted
}

// SetWriteProtected flips the write-protect switch.
func (m *MemController) SetWriteProtected(wp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protected = wp
}

// InjectFault makes the next transfer fail with flags latched.
func (m *MemController) InjectFault(flags ErrorFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = flags
}

// FailConnect makes connection attempts fail until cleared.
func (m *MemController) FailConnect(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failConnect = fail
}

// Transfers returns the number of block reads, writes and syncs served.
func (m *MemController) Transfers() (reads, writes, syncs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes, m.syncs
}

func (m *MemController) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemController) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MemController) Inserted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserted
}

func (m *MemController) WriteProtected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protected
}

func (m *MemController) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inserted {
		m.latched |= FlagCardRemoved
		return errNotInserted
	}
	if m.failConnect {
		m.latched |= FlagCommand
		return errInjected
	}
	m.connected = true
	return nil
}

func (m *MemController) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// transferLocked validates a transfer and consumes any injected fault.
func (m *MemController) transferLocked(sector, count uint32) (int, int, error) {
	if !m.inserted {
		m.latched |= FlagCardRemoved
		return 0, 0, errNotInserted
	}
	if !m.connected {
		m.latched |= FlagCommand
		return 0, 0, errNotConnected
	}
	if m.pending != 0 {
		m.latched |= m.pending
		m.pending = 0
		return 0, 0, errInjected
	}
	off := uint64(sector) * BlockSize
	n := uint64(count) * BlockSize
	if off+n > uint64(len(m.data)) {
		m.latched |= FlagCommand
		return 0, 0, errOutOfRange
	}
	return int(off), int(n), nil
}

func (m *MemController) Read(sector uint32, buf []byte, count uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, n, err := m.transferLocked(sector, count)
	if err != nil {
		return err
	}
	copy(buf[:n], m.data[off:off+n])
	m.reads++
	return nil
}

func (m *MemController) Write(sector uint32, buf []byte, count uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, n, err := m.transferLocked(sector, count)
	if err != nil {
		return err
	}
	if m.protected {
		m.latched |= FlagCommand
		return errProtected
	}
	copy(m.data[off:off+n], buf[:n])
	m.writes++
	return nil
}

func (m *MemController) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inserted {
		m.latched |= FlagCardRemoved
		return errNotInserted
	}
	m.syncs++
	return nil
}

func (m *MemController) Info() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inserted {
		return Info{}, errNotInserted
	}
	return Info{
		BlockCount: uint64(len(m.data)) / BlockSize,
		BlockSize:  BlockSize,
	}, nil
}

func (m *MemController) FetchErrors() ErrorFlags {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags := m.latched
	m.latched = 0
	return flags
}
