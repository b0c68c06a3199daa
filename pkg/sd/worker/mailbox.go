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

package worker

import (
	"context"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
)

// Depth is the mailbox capacity.
const Depth = 8

// Mailbox is a bounded FIFO of request references. Post never blocks;
// Fetch blocks until a request arrives or the context ends.
type Mailbox struct {
	buf  [Depth]*Request
	wake chan struct{}
	head int
	n    int
	mu   syncutil.Mutex
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Post appends r and reports false when the mailbox is full.
func (m *Mailbox) Post(r *Request) bool {
	m.mu.Lock()
	if m.n == Depth {
		m.mu.Unlock()
		return false
	}
	m.buf[(m.head+m.n)%Depth] = r
	m.n++
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// TryFetch pops the oldest request, or returns nil when empty.
func (m *Mailbox) TryFetch() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == 0 {
		return nil
	}
	r := m.buf[m.head]
	m.buf[m.head] = nil
	m.head = (m.head + 1) % Depth
	m.n--
	return r
}

// Fetch pops the oldest request, waiting for one if needed.
func (m *Mailbox) Fetch(ctx context.Context) (*Request, error) {
	for {
		if r := m.TryFetch(); r != nil {
			return r, nil
		}
		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // cancellation passthrough
		}
	}
}

// Len returns the number of queued requests.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// Purge removes every request for which doomed returns true, copying them
// into out in queue order, and returns how many were removed. Survivors
// keep their relative order. The whole pass runs under the lock, so a
// concurrent Post lands after the survivors.
func (m *Mailbox) Purge(doomed func(*Request) bool, out *[Depth]*Request) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, kept := 0, 0
	for i := range m.n {
		r := m.buf[(m.head+i)%Depth]
		if doomed(r) {
			out[removed] = r
			removed++
			continue
		}
		m.buf[(m.head+kept)%Depth] = r
		kept++
	}
	for i := kept; i < m.n; i++ {
		m.buf[(m.head+i)%Depth] = nil
	}
	m.n = kept
	return removed
}
