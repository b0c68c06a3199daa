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

// Package sd is the public entry point of the SD card storage stack.
//
// Every Driver call is a blocking request to the single storage worker.
// Calls are refused with status.Context when made from interrupt context
// or from the real-time audio thread, since neither may block. Invalid
// arguments are refused before touching the queue, and a saturated queue
// yields status.Busy immediately.
//
// A call waits at most Options.Timeout for its result. On timeout the call
// returns status.Fault while the worker keeps running the request, so the
// caller cannot know whether the operation eventually took effect. Buffers
// passed to such a call may still be written by the worker afterwards.
package sd

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/events"
	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/brick-instruments/brick-core/pkg/sd/worker"
	"github.com/brick-instruments/brick-core/pkg/validation"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds how long a call waits for the worker.
	DefaultTimeout = 2000 * time.Millisecond
	// AudioThread is the real-time audio thread name, always forbidden.
	AudioThread = "audioProcess"
	// MaxListProjects bounds a single ListProjects call.
	MaxListProjects = 128
)

var (
	ErrNoController = errors.New("sd: controller is required")
	ErrNoMounter    = errors.New("sd: mounter is required")

	errTimeout = errors.New("timed out waiting for sd worker")
	errClosed  = errors.New("driver closed")
)

// Options configures a Driver. Controller and Mounter are required.
type Options struct {
	Controller blockdev.Controller
	Mounter    sdfs.Mounter
	Clock      clockwork.Clock
	// Events receives state transitions when set. Sends never block.
	Events chan<- events.Event
	// ForbiddenThreads lists thread names that may not call the driver, in
	// addition to AudioThread.
	ForbiddenThreads []string
	Timeout          time.Duration
}

// Driver is safe for concurrent use.
type Driver struct {
	w         *worker.Worker
	vol       *sdfs.Volume
	clock     clockwork.Clock
	valid     *validation.Validator
	forbidden map[string]struct{}
	timeout   time.Duration
	mu        syncutil.RWMutex
	// lifecycle orders submissions against Close: calls hold it shared
	// from the closed check through Post, Close holds it exclusively.
	lifecycle syncutil.RWMutex
	closed    atomic.Bool
}

func New(opts Options) (*Driver, error) {
	if opts.Controller == nil {
		return nil, ErrNoController
	}
	if opts.Mounter == nil {
		return nil, ErrNoMounter
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	forbidden := map[string]struct{}{AudioThread: {}}
	for _, name := range opts.ForbiddenThreads {
		forbidden[name] = struct{}{}
	}

	var onTransition worker.TransitionFunc
	if opts.Events != nil {
		onTransition = events.Sink(opts.Events, clock.Now)
	}

	dev := blockdev.New(opts.Controller)
	vol := sdfs.NewVolume(dev, opts.Mounter)
	return &Driver{
		w: worker.New(worker.Config{
			Volume:       vol,
			Clock:        clock,
			OnTransition: onTransition,
		}),
		vol:       vol,
		clock:     clock,
		valid:     validation.DefaultValidator,
		forbidden: forbidden,
		timeout:   timeout,
	}, nil
}

// ForbidThread adds a thread name to the forbidden set, typically the
// audio callback thread registered at startup.
func (d *Driver) ForbidThread(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forbidden[name] = struct{}{}
}

func (d *Driver) allowed(ctx context.Context) bool {
	c := callerFrom(ctx)
	if c.isr {
		return false
	}
	if c.thread == "" {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, bad := d.forbidden[c.thread]
	return !bad
}

func (d *Driver) reject(code status.Code, op string, err error) error {
	d.w.RecordRejection(code)
	return status.Wrap(code, op, "", err)
}

// call runs the guard, validation, allocation, post and wait sequence
// shared by every blocking operation.
func (d *Driver) call(ctx context.Context, p worker.Params) error {
	op := p.Kind().String()
	if !d.allowed(ctx) {
		log.Debug().Str("op", op).Msg("sd call from forbidden context")
		return d.reject(status.Context, op, nil)
	}
	r, err := d.submit(op, p)
	if err != nil {
		return err
	}
	return d.wait(ctx, op, r)
}

// submit validates p and queues it on a running worker. A Close that has
// started makes it fail with Fault instead of restarting the worker.
func (d *Driver) submit(op string, p worker.Params) (*worker.Request, error) {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.closed.Load() {
		return nil, status.Wrap(status.Fault, op, "", errClosed)
	}

	d.w.Start()

	if err := d.valid.Validate(p); err != nil {
		return nil, d.reject(status.InvalidParam, op, err)
	}

	pool := d.w.Pool()
	r := pool.Alloc()
	if r == nil {
		return nil, d.reject(status.Busy, op, nil)
	}
	r.Params = p
	if !d.w.Post(r) {
		pool.Release(r)
		return nil, d.reject(status.Busy, op, nil)
	}
	return r, nil
}

func (d *Driver) wait(ctx context.Context, op string, r *worker.Request) error {
	timer := d.clock.NewTimer(d.timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-r.Done():
		return d.release(r)
	case <-timer.Chan():
		cause = errTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	}

	if !r.Abandon() {
		// The worker won the race; the result is ready.
		<-r.Done()
		return d.release(r)
	}
	d.w.RecordAbandon()
	log.Warn().
		Err(cause).
		Str("op", op).
		Dur("timeout", d.timeout).
		Msg("sd call detached from pending request")
	return status.Wrap(status.Fault, op, "", cause)
}

func (d *Driver) release(r *worker.Request) error {
	err := r.Err()
	d.w.Pool().Release(r)
	return err
}

// Init reinitializes the card controller and leaves the driver unmounted.
func (d *Driver) Init(ctx context.Context) error {
	return d.call(ctx, &worker.InitParams{})
}

// Mount mounts the card. Write-protected media is mounted read-only even
// when readOnly is false.
func (d *Driver) Mount(ctx context.Context, readOnly bool) error {
	return d.call(ctx, &worker.MountParams{ReadOnly: readOnly})
}

func (d *Driver) Unmount(ctx context.Context) error {
	return d.call(ctx, &worker.UnmountParams{})
}

// IsPresent reports card presence without going through the worker.
func (d *Driver) IsPresent() bool {
	return d.vol.Device().IsCardPresent()
}

// State returns a snapshot of the driver state.
func (d *Driver) State() status.State {
	return d.w.State()
}

// LastError returns the code of the most recent result.
func (d *Driver) LastError() status.Code {
	return d.w.LastError()
}

// LoadPattern reads a pattern record into buf and returns the payload size
// and stored generation.
func (d *Driver) LoadPattern(ctx context.Context, projectName, pattern string, buf []byte) (int, uint32, error) {
	p := &worker.LoadPatternParams{Project: projectName, Pattern: pattern, Buf: buf}
	if err := d.call(ctx, p); err != nil {
		return 0, 0, err
	}
	return p.Loaded, p.Generation, nil
}

// SavePattern atomically replaces a pattern record.
func (d *Driver) SavePattern(ctx context.Context, projectName, pattern string, data []byte, generation uint32) error {
	return d.call(ctx, &worker.SavePatternParams{
		Project:    projectName,
		Pattern:    pattern,
		Data:       data,
		Generation: generation,
	})
}

// LoadSample streams a sample record into buf.
func (d *Driver) LoadSample(ctx context.Context, name string, buf []byte) (int, error) {
	p := &worker.LoadSampleParams{Name: name, Buf: buf}
	if err := d.call(ctx, p); err != nil {
		return 0, err
	}
	return p.Loaded, nil
}

// ListProjects returns up to maxCount project directories. Reaching the
// limit is not an error.
func (d *Driver) ListProjects(ctx context.Context, maxCount int) ([]project.Info, error) {
	// One slot past the limit lets validation report the oversize request.
	n := min(max(maxCount, 0), MaxListProjects+1)
	p := &worker.ListProjectsParams{Out: make([]project.Info, n)}
	if err := d.call(ctx, p); err != nil {
		return nil, err
	}
	return p.Out[:p.Listed], nil
}

// Stats returns a copy of the driver statistics.
func (d *Driver) Stats(ctx context.Context) (worker.Stats, error) {
	p := &worker.GetStatsParams{}
	if err := d.call(ctx, p); err != nil {
		return worker.Stats{}, err
	}
	return p.Stats, nil
}

func (d *Driver) ClearStats(ctx context.Context) error {
	return d.call(ctx, &worker.ClearStatsParams{})
}

// Close stops the worker, unmounts the volume and releases the controller.
// Later calls fail with Fault.
func (d *Driver) Close() {
	d.lifecycle.Lock()
	first := d.closed.CompareAndSwap(false, true)
	d.lifecycle.Unlock()
	if !first {
		return
	}
	d.w.Stop()
	d.vol.Unmount()
	d.vol.Device().Deinit()
}
