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
	"sync/atomic"
	"time"

	"github.com/brick-instruments/brick-core/pkg/sd/project"
)

// Kind identifies a request type.
type Kind uint8

const (
	KindInit Kind = iota
	KindMount
	KindUnmount
	KindLoadPattern
	KindSavePattern
	KindLoadSample
	KindListProjects
	KindGetStats
	KindClearStats
)

var kindNames = [...]string{
	KindInit:         "init",
	KindMount:        "mount",
	KindUnmount:      "unmount",
	KindLoadPattern:  "load pattern",
	KindSavePattern:  "save pattern",
	KindLoadSample:   "load sample",
	KindListProjects: "list projects",
	KindGetStats:     "get stats",
	KindClearStats:   "clear stats",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IO reports whether the request touches the card and so raises the Busy
// marker while it runs.
func (k Kind) IO() bool {
	return k != KindInit && k != KindGetStats && k != KindClearStats
}

// Params is the request payload. The set of implementations is closed;
// each kind has exactly one parameter type. Struct tags carry the argument
// bounds checked before a request is queued.
type Params interface {
	Kind() Kind
	sealed()
}

type InitParams struct{}

type MountParams struct {
	ReadOnly bool
}

type UnmountParams struct{}

// LoadPatternParams fills Buf and reports Loaded and Generation.
type LoadPatternParams struct {
	Project    string `validate:"sdname"`
	Pattern    string `validate:"sdname"`
	Buf        []byte `validate:"required,min=1"`
	Loaded     int
	Generation uint32
}

// SavePatternParams carries the generation by value so nothing in the
// request refers to the caller's stack.
type SavePatternParams struct {
	Project    string `validate:"sdname"`
	Pattern    string `validate:"sdname"`
	Data       []byte `validate:"required,min=1,max=8192"`
	Generation uint32
}

type LoadSampleParams struct {
	Name   string `validate:"sdname"`
	Buf    []byte `validate:"required,min=1"`
	Loaded int
}

// ListProjectsParams fills Out and reports Listed.
type ListProjectsParams struct {
	Out    []project.Info `validate:"required,min=1,max=128"`
	Listed int
}

type GetStatsParams struct {
	Stats Stats
}

type ClearStatsParams struct{}

func (*InitParams) Kind() Kind         { return KindInit }
func (*MountParams) Kind() Kind        { return KindMount }
func (*UnmountParams) Kind() Kind      { return KindUnmount }
func (*LoadPatternParams) Kind() Kind  { return KindLoadPattern }
func (*SavePatternParams) Kind() Kind  { return KindSavePattern }
func (*LoadSampleParams) Kind() Kind   { return KindLoadSample }
func (*ListProjectsParams) Kind() Kind { return KindListProjects }
func (*GetStatsParams) Kind() Kind     { return KindGetStats }
func (*ClearStatsParams) Kind() Kind   { return KindClearStats }

func (*InitParams) sealed()         {}
func (*MountParams) sealed()        {}
func (*UnmountParams) sealed()      {}
func (*LoadPatternParams) sealed()  {}
func (*SavePatternParams) sealed()  {}
func (*LoadSampleParams) sealed()   {}
func (*ListProjectsParams) sealed() {}
func (*GetStatsParams) sealed()     {}
func (*ClearStatsParams) sealed()   {}

// Request ownership. A request is pending from post until either the
// worker completes it or the caller gives up waiting; whichever side loses
// the race owns the release.
const (
	ownerPending uint32 = iota
	ownerCompleted
	ownerAbandoned
)

// Request is one slot of the pool.
type Request struct {
	Params   Params
	err      error
	done     chan struct{}
	enqueued time.Time
	owner    atomic.Uint32
	slot     uint8
}

// Kind returns the kind of the attached parameters.
func (r *Request) Kind() Kind {
	if r.Params == nil {
		return KindInit
	}
	return r.Params.Kind()
}

// Done is signalled once when the worker completes the request.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err is the request result. Only valid after Done fired.
func (r *Request) Err() error {
	return r.err
}

// Abandon detaches a caller that stopped waiting. It returns false when
// the worker completed the request first, in which case Done is ready and
// the caller still owns the release.
func (r *Request) Abandon() bool {
	return r.owner.CompareAndSwap(ownerPending, ownerAbandoned)
}

// complete stores the result and signals the caller. It returns false when
// the caller had already abandoned the request.
func (r *Request) complete(err error) bool {
	r.err = err
	if !r.owner.CompareAndSwap(ownerPending, ownerCompleted) {
		return false
	}
	r.done <- struct{}{}
	return true
}

func (r *Request) reset() {
	r.Params = nil
	r.err = nil
	r.enqueued = time.Time{}
	select {
	case <-r.done:
	default:
	}
	r.owner.Store(ownerPending)
}
