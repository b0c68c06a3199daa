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
	"math/bits"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// PoolSize is the number of request slots.
const PoolSize = 8

// Pool is a fixed arena of requests with an in-use bitmap. The lock covers
// the bitmap scan only.
type Pool struct {
	slots [PoolSize]Request
	mu    syncutil.Mutex
	used  uint8
}

// NewPool returns a pool with every slot free.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.slots {
		p.slots[i].slot = uint8(i)
		p.slots[i].done = make(chan struct{}, 1)
	}
	return p
}

// Alloc returns a reset request, or nil when every slot is taken.
func (p *Pool) Alloc() *Request {
	p.mu.Lock()
	free := ^p.used
	if free == 0 {
		p.mu.Unlock()
		return nil
	}
	i := bits.TrailingZeros8(free)
	p.used |= 1 << i
	p.mu.Unlock()

	r := &p.slots[i]
	r.reset()
	return r
}

// Release returns r to the pool.
func (p *Pool) Release(r *Request) {
	if r == nil || int(r.slot) >= PoolSize || &p.slots[r.slot] != r {
		log.Error().Msg("release of a request not owned by the pool")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bit := uint8(1) << r.slot
	if p.used&bit == 0 {
		log.Error().Uint8("slot", r.slot).Msg("double release of sd request slot")
		return
	}
	p.used &^= bit
}

// InUse returns the number of allocated slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bits.OnesCount8(p.used)
}
