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

// Package worker runs the single goroutine that owns the SD card. Callers
// allocate a request from the fixed pool, post it to the bounded mailbox
// and wait on the request's own completion signal. The worker is the only
// code that touches the volume, the driver state and the statistics.
package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	errWriteProtected = errors.New("write requests purged after write protection")
	errStateReadOnly  = errors.New("driver state does not allow writes")
	errStopped        = errors.New("sd worker stopped")
)

// TransitionFunc observes changes of the stable driver state. The Busy
// marker is never reported. It runs on the worker goroutine and must not
// block.
type TransitionFunc func(from, to status.State, cause status.Code)

// Config wires a worker.
type Config struct {
	Volume       *sdfs.Volume
	Clock        clockwork.Clock
	OnTransition TransitionFunc
}

// Worker executes requests one at a time in FIFO order.
type Worker struct {
	vol          *sdfs.Volume
	store        *project.Store
	pool         *Pool
	mb           *Mailbox
	clock        clockwork.Clock
	onTransition TransitionFunc
	cancel       context.CancelFunc
	done         chan struct{}
	rejected     rejections
	stats        Stats
	state        atomic.Uint32
	lastErr      atomic.Uint32
	mu           syncutil.Mutex
	published    status.State
	running      bool
}

// New returns a stopped worker in the Initializing state.
func New(cfg Config) *Worker {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		vol:          cfg.Volume,
		store:        project.NewStore(cfg.Volume),
		pool:         NewPool(),
		mb:           NewMailbox(),
		clock:        clock,
		onTransition: cfg.OnTransition,
		published:    status.StateInitializing,
	}
}

// Pool returns the request pool.
func (w *Worker) Pool() *Pool {
	return w.pool
}

// Start launches the worker goroutine. Further calls do nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	if w.State() == status.StateInitializing {
		w.setState(status.StateUnmounted, status.Ok)
	}
	go w.run(ctx)
	log.Debug().Msg("sd worker started")
}

// Running reports whether the worker goroutine is up.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stop ends the worker goroutine and fails whatever is still queued with
// Fault.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	<-w.done
	w.running = false

	for r := w.mb.TryFetch(); r != nil; r = w.mb.TryFetch() {
		w.settle(r, status.Wrap(status.Fault, r.Kind().String(), "", errStopped))
	}
	log.Debug().Msg("sd worker stopped")
}

// Post stamps r and queues it. It reports false when the mailbox is full.
func (w *Worker) Post(r *Request) bool {
	r.enqueued = w.clock.Now()
	return w.mb.Post(r)
}

// State returns a snapshot of the driver state.
func (w *Worker) State() status.State {
	return status.State(w.state.Load()) //nolint:gosec // only State values are stored
}

// LastError returns the code of the most recent result.
func (w *Worker) LastError() status.Code {
	return status.Code(w.lastErr.Load()) //nolint:gosec // only Code values are stored
}

// RecordRejection accounts a request the façade refused before posting.
func (w *Worker) RecordRejection(code status.Code) {
	w.lastErr.Store(uint32(code))
	w.rejected.add(code)
}

// RecordAbandon notes that a caller stopped waiting. The worker moves to
// Fault once it completes the abandoned request.
func (w *Worker) RecordAbandon() {
	w.lastErr.Store(uint32(status.Fault))
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		r, err := w.mb.Fetch(ctx)
		if err != nil {
			return
		}
		w.process(r)
	}
}

func (w *Worker) setState(s status.State, cause status.Code) {
	w.state.Store(uint32(s))
	if s == status.StateBusy || s == w.published {
		return
	}
	from := w.published
	w.published = s
	log.Info().
		Stringer("from", from).
		Stringer("to", s).
		Stringer("cause", cause).
		Msg("sd state changed")
	if w.onTransition != nil {
		w.onTransition(from, s, cause)
	}
}

// process runs one request through dispatch, state mapping, write-protect
// handling, statistics and completion.
func (w *Worker) process(r *Request) {
	kind := r.Kind()
	prev := w.State()
	if kind.IO() {
		w.setState(status.StateBusy, status.Ok)
	}

	err := w.dispatch(r, prev)
	code := status.CodeOf(err)
	if err != nil {
		log.Debug().Err(err).Stringer("kind", kind).Msg("sd request failed")
	}

	w.lastErr.Store(uint32(code))
	w.applyErrorState(code)
	if w.vol.ConsumeWriteProtectEvent() {
		w.setState(status.StateMountedRO, status.FsError)
		w.purgeWrites()
	}
	w.settle(r, err)
}

// settle completes r and counts it once. An abandoned request counts as
// Fault, the result its caller saw, instead of its own outcome.
func (w *Worker) settle(r *Request, err error) {
	latency := w.clock.Since(r.enqueued)
	code := status.CodeOf(err)
	if !w.finish(r, err) {
		code = status.Fault
	}
	w.stats.record(code, latency)
}

// finish completes r, or releases it when the caller already gave up. It
// reports whether the result reached the caller.
func (w *Worker) finish(r *Request, err error) bool {
	if r.complete(err) {
		return true
	}
	log.Warn().Stringer("kind", r.Kind()).Msg("sd request completed after caller timeout")
	w.lastErr.Store(uint32(status.Fault))
	w.setState(status.StateFault, status.Fault)
	w.pool.Release(r)
	return false
}

func (w *Worker) dispatch(r *Request, prev status.State) error {
	switch p := r.Params.(type) {
	case *InitParams:
		w.vol.Unmount()
		w.vol.Device().Init()
		w.setState(status.StateUnmounted, status.Ok)
		return nil

	case *MountParams:
		return w.mount(p.ReadOnly)

	case *UnmountParams:
		w.vol.Unmount()
		w.setState(status.StateUnmounted, status.Ok)
		return nil

	case *LoadPatternParams:
		n, gen, err := w.store.LoadPattern(p.Project, p.Pattern, p.Buf)
		p.Loaded, p.Generation = n, gen
		w.setState(prev, status.Ok)
		return err

	case *SavePatternParams:
		var err error
		if prev == status.StateMountedRO || prev == status.StateDegraded {
			err = status.Wrap(status.FsError, "save pattern", p.Project+"/"+p.Pattern, errStateReadOnly)
		} else {
			err = w.store.SavePattern(p.Project, p.Pattern, p.Data, p.Generation)
		}
		w.setState(prev, status.Ok)
		return err

	case *LoadSampleParams:
		n, err := w.store.LoadSample(p.Name, p.Buf)
		p.Loaded = n
		w.setState(prev, status.Ok)
		return err

	case *ListProjectsParams:
		n, err := w.store.ListProjects(p.Out)
		p.Listed = n
		w.setState(prev, status.Ok)
		return err

	case *GetStatsParams:
		w.rejected.foldInto(&w.stats)
		p.Stats = w.stats
		return nil

	case *ClearStatsParams:
		w.rejected.reset()
		w.stats = Stats{}
		return nil

	default:
		w.setState(prev, status.Ok)
		return status.New(status.InvalidParam, "dispatch")
	}
}

func (w *Worker) mount(readOnly bool) error {
	if !w.vol.Device().IsCardPresent() {
		w.setState(status.StateUnmounted, status.NoCard)
		return status.New(status.NoCard, "mount")
	}
	mode := sdfs.ModeRW
	if readOnly {
		mode = sdfs.ModeRO
	}
	if err := w.vol.Mount(mode); err != nil {
		w.setState(status.StateUnmounted, status.CodeOf(err))
		return err
	}
	if readOnly || w.vol.IsReadOnly() {
		w.setState(status.StateMountedRO, status.Ok)
	} else {
		w.setState(status.StateMountedRW, status.Ok)
	}
	return nil
}

// applyErrorState moves the state machine on a failed request. The code
// itself is returned to the caller unchanged.
func (w *Worker) applyErrorState(code status.Code) {
	switch code {
	case status.Crc:
		w.setState(status.StateDegraded, code)
	case status.Io, status.FsError, status.Full:
		if w.State() == status.StateMountedRW {
			w.setState(status.StateDegraded, code)
		}
	case status.NoCard:
		w.vol.Unmount()
		w.setState(status.StateUnmounted, code)
	case status.Fault:
		w.setState(status.StateFault, code)
	default:
	}
}

// purgeWrites fails every queued save with FsError. Other requests stay
// queued in their original order.
func (w *Worker) purgeWrites() {
	var doomed [Depth]*Request
	n := w.mb.Purge(func(r *Request) bool {
		return r.Kind() == KindSavePattern
	}, &doomed)
	if n == 0 {
		return
	}
	log.Warn().Int("count", n).Msg("media write protected, failing queued saves")
	for _, r := range doomed[:n] {
		w.lastErr.Store(uint32(status.FsError))
		w.settle(r, status.Wrap(status.FsError, "save pattern", "", errWriteProtected))
	}
}
