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

package sd

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/events"
	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/brick-instruments/brick-core/pkg/sd/worker"
	"github.com/brick-instruments/brick-core/pkg/testing/helpers"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	d     *Driver
	ctrl  *blockdev.MemController
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, card afero.Fs, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		ctrl:  blockdev.NewMemController(64),
		clock: clockwork.NewFakeClock(),
	}
	opts.Controller = f.ctrl
	opts.Mounter = helpers.Mounter{Fs: card}
	opts.Clock = f.clock
	d, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	f.d = d
	return f
}

// gateFs holds every pattern open until the gate is closed.
type gateFs struct {
	afero.Fs
	entered chan struct{}
	gate    chan struct{}
}

func newGateFs(base afero.Fs) *gateFs {
	return &gateFs{
		Fs:      base,
		entered: make(chan struct{}, worker.PoolSize+1),
		gate:    make(chan struct{}),
	}
}

func (g *gateFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if strings.HasSuffix(name, ".pat") {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.gate
	}
	return g.Fs.OpenFile(name, flag, perm) //nolint:wrapcheck // passthrough
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Mounter: helpers.Mounter{Fs: afero.NewMemMapFs()}})
	require.ErrorIs(t, err, ErrNoController)

	_, err = New(Options{Controller: blockdev.NewMemController(8)})
	require.ErrorIs(t, err, ErrNoMounter)
}

func TestDriver_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, afero.NewMemMapFs(), Options{})
	assert.True(t, f.d.IsPresent())
	assert.Equal(t, status.StateInitializing, f.d.State())

	require.NoError(t, f.d.Mount(ctx, false))
	assert.Equal(t, status.StateMountedRW, f.d.State())

	require.NoError(t, f.d.SavePattern(ctx, "demo", "verse", []byte{1, 2, 3, 4}, 41))

	buf := make([]byte, 16)
	n, gen, err := f.d.LoadPattern(ctx, "demo", "verse", buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint32(41), gen)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	list, err := f.d.ListProjects(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []project.Info{{Name: "demo"}}, list)

	_, err = f.d.LoadSample(ctx, "missing", make([]byte, 8))
	require.ErrorIs(t, err, status.ErrCorrupted)
	assert.Equal(t, status.Corrupted, f.d.LastError())

	stats, err := f.d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stats.OpsTotal)
	assert.Equal(t, uint32(4), stats.OpsSuccess)
	assert.Equal(t, uint32(1), stats.Count(status.Corrupted))

	require.NoError(t, f.d.ClearStats(ctx))
	stats, err = f.d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.OpsTotal)

	require.NoError(t, f.d.Unmount(ctx))
	assert.Equal(t, status.StateUnmounted, f.d.State())

	f.ctrl.SetInserted(false)
	assert.False(t, f.d.IsPresent())
}

func TestDriver_ForbiddenContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs(), Options{ForbiddenThreads: []string{"midiIn"}})
	f.d.ForbidThread("ledRefresh")

	base := context.Background()
	contexts := map[string]context.Context{
		"isr":        WithISR(base),
		"audio":      WithThread(base, AudioThread),
		"configured": WithThread(base, "midiIn"),
		"registered": WithThread(base, "ledRefresh"),
		"isr thread": WithISR(WithThread(base, "ui")),
	}

	for name, ctx := range contexts {
		require.ErrorIs(t, f.d.Mount(ctx, false), status.ErrContext, name)
		require.ErrorIs(t, f.d.SavePattern(ctx, "p", "a", []byte{1}, 0), status.ErrContext, name)
		_, err := f.d.ListProjects(ctx, 0)
		require.ErrorIs(t, err, status.ErrContext, name)
	}

	assert.False(t, f.d.w.Running(), "rejected calls must not start the worker")
	assert.Zero(t, f.d.w.Pool().InUse())
	assert.Equal(t, status.Context, f.d.LastError())
	assert.Equal(t, status.StateInitializing, f.d.State())

	ui := WithThread(base, "ui")
	stats, err := f.d.Stats(ui)
	require.NoError(t, err)
	assert.Equal(t, uint32(3*len(contexts)), stats.Count(status.Context))
}

func TestDriver_InvalidArguments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, afero.NewMemMapFs(), Options{})
	long := strings.Repeat("x", project.MaxNameLen)

	calls := map[string]func() error{
		"empty project": func() error {
			_, _, err := f.d.LoadPattern(ctx, "", "a", make([]byte, 1))
			return err
		},
		"long pattern": func() error {
			return f.d.SavePattern(ctx, "p", long, []byte{1}, 0)
		},
		"nested name": func() error {
			return f.d.SavePattern(ctx, "p/q", "a", []byte{1}, 0)
		},
		"nil buffer": func() error {
			_, _, err := f.d.LoadPattern(ctx, "p", "a", nil)
			return err
		},
		"empty data": func() error {
			return f.d.SavePattern(ctx, "p", "a", []byte{}, 0)
		},
		"oversize data": func() error {
			return f.d.SavePattern(ctx, "p", "a", make([]byte, project.MaxPatternSize+1), 0)
		},
		"sample dotdot": func() error {
			_, err := f.d.LoadSample(ctx, "..", make([]byte, 1))
			return err
		},
		"no projects": func() error {
			_, err := f.d.ListProjects(ctx, 0)
			return err
		},
		"too many projects": func() error {
			_, err := f.d.ListProjects(ctx, MaxListProjects+1)
			return err
		},
	}

	for name, call := range calls {
		err := call()
		require.ErrorIs(t, err, status.ErrInvalidParam, name)
	}
	assert.Zero(t, f.d.w.Pool().InUse())

	stats, err := f.d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(calls)), stats.Count(status.InvalidParam))
	assert.Zero(t, stats.OpsSuccess)
}

func TestDriver_QueueSaturationIsBusy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := newGateFs(helpers.SetupCard().Fs)
	f := newFixture(t, gate, Options{})
	require.NoError(t, f.d.Mount(ctx, false))

	var wg sync.WaitGroup
	errs := make(chan error, worker.PoolSize)
	for range worker.PoolSize {
		wg.Go(func() {
			_, _, err := f.d.LoadPattern(ctx, "demo", "missing", make([]byte, 8))
			errs <- err
		})
	}

	recv(t, gate.entered)
	require.Eventually(t, func() bool {
		return f.d.w.Pool().InUse() == worker.PoolSize
	}, 5*time.Second, time.Millisecond)

	_, _, err := f.d.LoadPattern(ctx, "demo", "missing", make([]byte, 8))
	require.ErrorIs(t, err, status.ErrBusy)
	assert.Equal(t, status.Busy, f.d.LastError())

	close(gate.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, status.ErrCorrupted)
	}

	stats, err := f.d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.Count(status.Busy))
	assert.Equal(t, uint32(worker.PoolSize), stats.Count(status.Corrupted))
}

func TestDriver_WriteProtectedMediaMountsReadOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	card := helpers.SetupCard()
	f := newFixture(t, card.Fs, Options{})
	f.ctrl.SetWriteProtected(true)

	require.NoError(t, f.d.Mount(ctx, false))
	assert.Equal(t, status.StateMountedRO, f.d.State())

	err := f.d.SavePattern(ctx, "demo", "verse", []byte{9}, 1)
	require.ErrorIs(t, err, status.ErrFsError)
	assert.False(t, card.FileExists("/projects/demo/patterns/verse.pat"))
	assert.False(t, card.FileExists("/projects/demo/patterns/verse.pat.tmp"))
	assert.Equal(t, status.StateMountedRO, f.d.State())
}

func TestDriver_TimeoutDetachesCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := newGateFs(helpers.SetupCard().Fs)
	f := newFixture(t, gate, Options{})
	require.NoError(t, f.d.Mount(ctx, false))

	errc := make(chan error, 1)
	go func() {
		_, _, err := f.d.LoadPattern(ctx, "demo", "slow", make([]byte, 8))
		errc <- err
	}()

	recv(t, gate.entered)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(DefaultTimeout)

	err := recv(t, errc)
	require.ErrorIs(t, err, status.ErrFault)
	require.ErrorIs(t, err, errTimeout)
	assert.Equal(t, status.Fault, f.d.LastError())
	assert.Equal(t, 1, f.d.w.Pool().InUse(), "slot stays owned by the worker")

	close(gate.gate)
	require.Eventually(t, func() bool {
		return f.d.w.Pool().InUse() == 0
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, status.StateFault, f.d.State())

	stats, err := f.d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.Count(status.Fault))
	assert.Zero(t, stats.Count(status.Corrupted), "abandoned load counts once, as Fault")
	assert.Equal(t, stats.OpsError, stats.Count(status.Fault))
	assert.Equal(t, uint32(2), stats.OpsTotal)

	require.NoError(t, f.d.Mount(ctx, false))
	assert.Equal(t, status.StateMountedRW, f.d.State())
}

func TestDriver_CancelDetachesCaller(t *testing.T) {
	t.Parallel()

	gate := newGateFs(helpers.SetupCard().Fs)
	f := newFixture(t, gate, Options{Timeout: time.Minute})
	require.NoError(t, f.d.Mount(context.Background(), true))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := f.d.LoadPattern(ctx, "demo", "slow", make([]byte, 8))
		errc <- err
	}()

	recv(t, gate.entered)
	cancel()

	err := recv(t, errc)
	require.ErrorIs(t, err, status.ErrFault)
	assert.True(t, errors.Is(err, context.Canceled))

	close(gate.gate)
	require.Eventually(t, func() bool {
		return f.d.w.Pool().InUse() == 0
	}, 5*time.Second, time.Millisecond)
}

func TestDriver_PublishesTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ch := make(chan events.Event, 8)
	f := newFixture(t, afero.NewMemMapFs(), Options{Events: ch})

	require.NoError(t, f.d.Mount(ctx, false))
	require.NoError(t, f.d.Unmount(ctx))

	now := f.clock.Now()
	want := []events.Event{
		{From: status.StateInitializing, To: status.StateUnmounted, Cause: status.Ok, At: now},
		{From: status.StateUnmounted, To: status.StateMountedRW, Cause: status.Ok, At: now},
		{From: status.StateMountedRW, To: status.StateUnmounted, Cause: status.Ok, At: now},
	}
	for _, ev := range want {
		assert.Equal(t, ev, recv(t, ch))
	}
	assert.Empty(t, ch)
}

func TestDriver_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, afero.NewMemMapFs(), Options{})
	require.NoError(t, f.d.Mount(ctx, false))

	f.d.Close()
	f.d.Close()
	assert.False(t, f.d.w.Running())

	err := f.d.Mount(ctx, false)
	require.ErrorIs(t, err, status.ErrFault)
	require.ErrorIs(t, err, errClosed)
}

func TestDriver_CloseRacingCallsNeverRestartsWorker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for range 50 {
		f := newFixture(t, afero.NewMemMapFs(), Options{})

		var wg sync.WaitGroup
		for range 4 {
			wg.Go(func() {
				for {
					if _, err := f.d.Stats(ctx); errors.Is(err, errClosed) {
						return
					}
				}
			})
		}
		f.d.Close()
		wg.Wait()

		assert.False(t, f.d.w.Running())
	}
}
