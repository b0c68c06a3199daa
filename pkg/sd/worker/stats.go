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
	"math"
	"sync/atomic"
	"time"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
)

// Stats counts requests by the result their caller saw. Only the worker
// mutates it; callers receive copies through GetStats requests.
//
// Every request counts once: OpsTotal = OpsSuccess + OpsError, and ByCode
// sums to OpsError. Façade rejections count under their code, abandoned
// requests under Fault, and saves purged on write protect under FsError.
type Stats struct {
	OpsTotal   uint32
	OpsSuccess uint32
	OpsError   uint32
	// ByCode counts failed results per code.
	ByCode [status.NumCodes]uint32
	// Samples is the number of latency samples folded into the average.
	Samples      uint32
	LatencyMinUs uint32
	LatencyMaxUs uint32
	LatencyAvgUs uint32
}

// Count returns the counter for code.
func (s *Stats) Count(code status.Code) uint32 {
	if int(code) >= len(s.ByCode) {
		return 0
	}
	return s.ByCode[code]
}

func latencyUs(d time.Duration) uint32 {
	us := d.Microseconds()
	switch {
	case us < 0:
		return 0
	case us > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(us)
	}
}

func (s *Stats) record(code status.Code, latency time.Duration) {
	s.OpsTotal++
	if code == status.Ok {
		s.OpsSuccess++
	} else {
		s.OpsError++
		s.ByCode[code]++
	}

	sample := latencyUs(latency)
	s.Samples++
	if s.Samples == 1 || sample < s.LatencyMinUs {
		s.LatencyMinUs = sample
	}
	if sample > s.LatencyMaxUs {
		s.LatencyMaxUs = sample
	}
	n := uint64(s.Samples)
	s.LatencyAvgUs = uint32((uint64(s.LatencyAvgUs)*(n-1) + uint64(sample)) / n) //nolint:gosec // mean of uint32 samples
}

// rejections counts requests the façade turned away before they reached
// the queue. It is written by any caller and folded into Stats by the
// worker.
type rejections struct {
	byCode [status.NumCodes]atomic.Uint32
}

func (r *rejections) add(code status.Code) {
	if int(code) < len(r.byCode) {
		r.byCode[code].Add(1)
	}
}

func (r *rejections) foldInto(s *Stats) {
	for code := range r.byCode {
		n := r.byCode[code].Swap(0)
		if n == 0 {
			continue
		}
		s.OpsTotal += n
		s.OpsError += n
		s.ByCode[code] += n
	}
}

func (r *rejections) reset() {
	for code := range r.byCode {
		r.byCode[code].Store(0)
	}
}
