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
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/brick-instruments/brick-core/pkg/testing/helpers"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	from, to status.State
	cause    status.Code
}

type fixture struct {
	w           *Worker
	ctrl        *blockdev.MemController
	clock       *clockwork.FakeClock
	card        afero.Fs
	transitions []transition
}

func newFixture(t *testing.T, card afero.Fs) *fixture {
	t.Helper()
	f := &fixture{
		ctrl:  blockdev.NewMemController(64),
		clock: clockwork.NewFakeClock(),
		card:  card,
	}
	vol := sdfs.NewVolume(blockdev.New(f.ctrl), helpers.Mounter{Fs: card})
	f.w = New(Config{
		Volume: vol,
		Clock:  f.clock,
		OnTransition: func(from, to status.State, cause status.Code) {
			f.transitions = append(f.transitions, transition{from: from, to: to, cause: cause})
		},
	})
	return f
}

func (f *fixture) post(t *testing.T, p Params) *Request {
	t.Helper()
	r := f.w.Pool().Alloc()
	require.NotNil(t, r)
	r.Params = p
	require.True(t, f.w.Post(r))
	return r
}

// step processes the next queued request on the test goroutine.
func (f *fixture) step(t *testing.T) *Request {
	t.Helper()
	r := f.w.mb.TryFetch()
	require.NotNil(t, r)
	f.w.process(r)
	return r
}

func (f *fixture) exec(t *testing.T, p Params) error {
	t.Helper()
	r := f.post(t, p)
	require.Same(t, r, f.step(t))
	<-r.Done()
	err := r.Err()
	f.w.Pool().Release(r)
	return err
}

// assertBalanced checks that every request was counted exactly once.
func assertBalanced(t *testing.T, s *Stats) {
	t.Helper()
	var byCode uint32
	for _, n := range s.ByCode {
		byCode += n
	}
	assert.Equal(t, s.OpsTotal, s.OpsSuccess+s.OpsError)
	assert.Equal(t, s.OpsError, byCode)
}

func completed(t *testing.T, r *Request) error {
	t.Helper()
	select {
	case <-r.Done():
		return r.Err()
	default:
		t.Fatalf("%s request not completed", r.Kind())
		return nil
	}
}

func TestWorker_MountUnmount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	assert.Equal(t, status.StateInitializing, f.w.State())

	require.NoError(t, f.exec(t, &MountParams{}))
	assert.Equal(t, status.StateMountedRW, f.w.State())

	require.NoError(t, f.exec(t, &UnmountParams{}))
	assert.Equal(t, status.StateUnmounted, f.w.State())

	require.NoError(t, f.exec(t, &MountParams{ReadOnly: true}))
	assert.Equal(t, status.StateMountedRO, f.w.State())

	assert.Equal(t, []transition{
		{from: status.StateInitializing, to: status.StateMountedRW, cause: status.Ok},
		{from: status.StateMountedRW, to: status.StateUnmounted, cause: status.Ok},
		{from: status.StateUnmounted, to: status.StateMountedRO, cause: status.Ok},
	}, f.transitions)
}

func TestWorker_MountNoCard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	f.ctrl.SetInserted(false)

	err := f.exec(t, &MountParams{})
	require.ErrorIs(t, err, status.ErrNoCard)
	assert.Equal(t, status.StateUnmounted, f.w.State())
	assert.Equal(t, status.NoCard, f.w.LastError())
}

func TestWorker_WriteProtectedMediaMountsReadOnly(t *testing.T) {
	t.Parallel()

	card := helpers.SetupCard()
	f := newFixture(t, card.Fs)
	f.ctrl.SetWriteProtected(true)

	require.NoError(t, f.exec(t, &MountParams{ReadOnly: false}))
	assert.Equal(t, status.StateMountedRO, f.w.State())

	err := f.exec(t, &SavePatternParams{Project: "fresh", Pattern: "p", Data: []byte{1}})
	require.ErrorIs(t, err, status.ErrFsError)
	require.ErrorIs(t, err, errStateReadOnly)
	assert.False(t, card.FileExists("/projects/fresh"))
	assert.Equal(t, status.StateMountedRO, f.w.State())
}

func TestWorker_SaveThenLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	require.NoError(t, f.exec(t, &MountParams{}))

	require.NoError(t, f.exec(t, &SavePatternParams{
		Project: "demo", Pattern: "intro", Data: []byte("notes"), Generation: 9,
	}))

	load := &LoadPatternParams{Project: "demo", Pattern: "intro", Buf: make([]byte, 64)}
	require.NoError(t, f.exec(t, load))
	assert.Equal(t, 5, load.Loaded)
	assert.Equal(t, uint32(9), load.Generation)
	assert.Equal(t, []byte("notes"), load.Buf[:load.Loaded])

	list := &ListProjectsParams{Out: make([]project.Info, 4)}
	require.NoError(t, f.exec(t, list))
	require.Equal(t, 1, list.Listed)
	assert.Equal(t, "demo", list.Out[0].Name)
	assert.Equal(t, status.StateMountedRW, f.w.State())
}

func TestWorker_CrcDegradesUntilRemount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	require.NoError(t, f.exec(t, &MountParams{}))
	require.NoError(t, f.exec(t, &SavePatternParams{Project: "d", Pattern: "p", Data: []byte{1, 2, 3}}))

	raw, err := afero.ReadFile(f.card, "/projects/d/patterns/p.pat")
	require.NoError(t, err)
	raw[project.HeaderSize] ^= 0xFF
	require.NoError(t, afero.WriteFile(f.card, "/projects/d/patterns/p.pat", raw, 0o644))

	err = f.exec(t, &LoadPatternParams{Project: "d", Pattern: "p", Buf: make([]byte, 8)})
	require.ErrorIs(t, err, status.ErrCrc)
	assert.Equal(t, status.StateDegraded, f.w.State())

	// Saves are refused while degraded.
	err = f.exec(t, &SavePatternParams{Project: "d", Pattern: "p", Data: []byte{4}})
	require.ErrorIs(t, err, errStateReadOnly)
	assert.Equal(t, status.StateDegraded, f.w.State())

	// Loads are still attempted.
	err = f.exec(t, &ListProjectsParams{Out: make([]project.Info, 1)})
	require.NoError(t, err)
	assert.Equal(t, status.StateDegraded, f.w.State())

	require.NoError(t, f.exec(t, &MountParams{}))
	assert.Equal(t, status.StateMountedRW, f.w.State())
}

func TestWorker_IoDegradesOnlyFromReadWrite(t *testing.T) {
	t.Parallel()

	faults := helpers.NewFaultFs(helpers.SetupCard().Fs)
	f := newFixture(t, faults)
	require.NoError(t, f.exec(t, &MountParams{}))

	faults.FailOn(helpers.OpOpen, syscall.EIO)
	err := f.exec(t, &LoadSampleParams{Name: "kick", Buf: make([]byte, 8)})
	require.ErrorIs(t, err, status.ErrIo)
	assert.Equal(t, status.StateDegraded, f.w.State())

	faults.FailOn(helpers.OpOpen, nil)
	require.NoError(t, f.exec(t, &MountParams{ReadOnly: true}))
	faults.FailOn(helpers.OpOpen, syscall.EIO)
	err = f.exec(t, &LoadSampleParams{Name: "kick", Buf: make([]byte, 8)})
	require.ErrorIs(t, err, status.ErrIo)
	assert.Equal(t, status.StateMountedRO, f.w.State())
}

func TestWorker_CardRemovalUnmounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, helpers.SetupCard().Fs)
	require.NoError(t, f.exec(t, &MountParams{}))

	f.ctrl.SetInserted(false)
	err := f.exec(t, &ListProjectsParams{Out: make([]project.Info, 2)})
	require.ErrorIs(t, err, status.ErrNoCard)
	assert.Equal(t, status.StateUnmounted, f.w.State())

	err = f.exec(t, &ListProjectsParams{Out: make([]project.Info, 2)})
	require.ErrorIs(t, err, status.ErrNotMounted)
}

func TestWorker_InitResets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	require.NoError(t, f.exec(t, &MountParams{}))

	require.NoError(t, f.exec(t, &InitParams{}))
	assert.Equal(t, status.StateUnmounted, f.w.State())

	err := f.exec(t, &LoadSampleParams{Name: "x", Buf: make([]byte, 1)})
	require.ErrorIs(t, err, status.ErrNotMounted)
}

func TestWorker_WriteProtectPurgeKeepsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, helpers.SetupCard().Fs)
	require.NoError(t, f.exec(t, &MountParams{}))
	require.NoError(t, f.exec(t, &SavePatternParams{Project: "demo", Pattern: "b", Data: []byte("B")}))
	require.NoError(t, f.exec(t, &SavePatternParams{Project: "demo", Pattern: "d", Data: []byte("D")}))

	f.ctrl.SetWriteProtected(true)

	trigger := f.post(t, &SavePatternParams{Project: "demo", Pattern: "x", Data: []byte("X")})
	a := f.post(t, &SavePatternParams{Project: "demo", Pattern: "a", Data: []byte("A")})
	loadB := &LoadPatternParams{Project: "demo", Pattern: "b", Buf: make([]byte, 8)}
	b := f.post(t, loadB)
	c := f.post(t, &SavePatternParams{Project: "demo", Pattern: "c", Data: []byte("C")})
	loadD := &LoadPatternParams{Project: "demo", Pattern: "d", Buf: make([]byte, 8)}
	d := f.post(t, loadD)

	require.Same(t, trigger, f.step(t))
	require.ErrorIs(t, completed(t, trigger), status.ErrFsError)
	assert.Equal(t, status.StateMountedRO, f.w.State())

	for _, r := range []*Request{a, c} {
		err := completed(t, r)
		require.ErrorIs(t, err, status.ErrFsError)
		require.ErrorIs(t, err, errWriteProtected)
	}

	require.Equal(t, 2, f.w.mb.Len())
	require.Same(t, b, f.step(t))
	require.Same(t, d, f.step(t))
	require.NoError(t, completed(t, b))
	require.NoError(t, completed(t, d))
	assert.Equal(t, []byte("B"), loadB.Buf[:loadB.Loaded])
	assert.Equal(t, []byte("D"), loadD.Buf[:loadD.Loaded])
	assert.Equal(t, status.StateMountedRO, f.w.State())

	for _, r := range []*Request{trigger, a, b, c, d} {
		f.w.Pool().Release(r)
	}
	assert.Zero(t, f.w.Pool().InUse())

	stats := &GetStatsParams{}
	require.NoError(t, f.exec(t, stats))
	assert.Equal(t, uint32(8), stats.Stats.OpsTotal)
	assert.Equal(t, uint32(3), stats.Stats.Count(status.FsError), "trigger plus both purged saves")
	assertBalanced(t, &stats.Stats)
}

func TestWorker_AbandonedRequestFaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	require.NoError(t, f.exec(t, &MountParams{}))

	r := f.post(t, &ListProjectsParams{Out: make([]project.Info, 1)})
	require.True(t, r.Abandon())
	f.w.RecordAbandon()
	assert.Equal(t, status.Fault, f.w.LastError())

	f.step(t)
	assert.Zero(t, f.w.Pool().InUse(), "worker must release abandoned slots")
	assert.Equal(t, status.StateFault, f.w.State())
	assert.Equal(t, status.Fault, f.w.LastError())

	stats := &GetStatsParams{}
	require.NoError(t, f.exec(t, stats))
	assert.Equal(t, uint32(2), stats.Stats.OpsTotal)
	assert.Equal(t, uint32(1), stats.Stats.OpsSuccess)
	assert.Equal(t, uint32(1), stats.Stats.Count(status.Fault), "counted as the caller saw it")
	assertBalanced(t, &stats.Stats)

	require.NoError(t, f.exec(t, &MountParams{}))
	assert.Equal(t, status.StateMountedRW, f.w.State())
}

func TestWorker_StatsLatencyAndRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())

	r := f.post(t, &MountParams{})
	f.clock.Advance(1500 * time.Microsecond)
	f.step(t)
	f.w.Pool().Release(r)

	r = f.post(t, &UnmountParams{})
	f.clock.Advance(500 * time.Microsecond)
	f.step(t)
	f.w.Pool().Release(r)

	r = f.post(t, &LoadSampleParams{Name: "x", Buf: make([]byte, 1)})
	f.step(t)
	f.w.Pool().Release(r)

	f.w.RecordRejection(status.Busy)
	f.w.RecordRejection(status.Busy)
	f.w.RecordRejection(status.Context)
	assert.Equal(t, status.Context, f.w.LastError())

	stats := &GetStatsParams{}
	require.NoError(t, f.exec(t, stats))
	s := stats.Stats
	assert.Equal(t, uint32(6), s.OpsTotal)
	assert.Equal(t, uint32(2), s.OpsSuccess)
	assert.Equal(t, uint32(4), s.OpsError)
	assert.Equal(t, uint32(2), s.Count(status.Busy))
	assert.Equal(t, uint32(1), s.Count(status.Context))
	assert.Equal(t, uint32(1), s.Count(status.NotMounted))
	assert.Equal(t, uint32(3), s.Samples)
	assert.Equal(t, uint32(0), s.LatencyMinUs)
	assert.Equal(t, uint32(1500), s.LatencyMaxUs)
	// (1500*1 + 500)/2 = 1000, then (1000*2 + 0)/3 = 666.
	assert.Equal(t, uint32(666), s.LatencyAvgUs)
	assertBalanced(t, &s)

	require.NoError(t, f.exec(t, &ClearStatsParams{}))
	f.w.RecordRejection(status.Busy)
	require.NoError(t, f.exec(t, &ClearStatsParams{}))
	require.NoError(t, f.exec(t, stats))
	assert.Equal(t, uint32(1), stats.Stats.OpsTotal, "only the clear itself")
	assert.Zero(t, stats.Stats.Count(status.Busy))
}

// gateFs blocks pattern opens until the gate is closed.
type gateFs struct {
	afero.Fs
	entered chan struct{}
	gate    chan struct{}
}

func (g *gateFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if strings.HasSuffix(name, ".pat") {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.Fs.OpenFile(name, flag, perm) //nolint:wrapcheck // passthrough
}

func wait(t *testing.T, r *Request) error {
	t.Helper()
	select {
	case <-r.Done():
		return r.Err()
	case <-time.After(5 * time.Second):
		t.Fatalf("%s request timed out", r.Kind())
		return nil
	}
}

func TestWorker_GoroutineBusyMarker(t *testing.T) {
	t.Parallel()

	gate := &gateFs{
		Fs:      helpers.SetupCard().Fs,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	f := newFixture(t, gate)
	f.w.Start()
	f.w.Start()
	defer f.w.Stop()
	assert.Equal(t, status.StateUnmounted, f.w.State())

	mount := f.post(t, &MountParams{})
	require.NoError(t, wait(t, mount))
	f.w.Pool().Release(mount)

	load := f.post(t, &LoadPatternParams{Project: "demo", Pattern: "p", Buf: make([]byte, 8)})
	<-gate.entered
	assert.Equal(t, status.StateBusy, f.w.State())

	stats := f.post(t, &GetStatsParams{})
	close(gate.gate)

	require.ErrorIs(t, wait(t, load), status.ErrCorrupted)
	require.NoError(t, wait(t, stats))
	f.w.Pool().Release(load)
	f.w.Pool().Release(stats)
	assert.Equal(t, status.StateMountedRW, f.w.State())
}

func TestWorker_StopFailsQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, afero.NewMemMapFs())
	f.w.Start()
	f.w.Stop()
	assert.False(t, f.w.Running())

	r := f.post(t, &UnmountParams{})
	f.w.Start()
	f.w.Stop()

	// The restarted worker either ran the request or Stop failed it.
	err := wait(t, r)
	if err != nil {
		require.ErrorIs(t, err, status.ErrFault)
		assert.True(t, errors.Is(err, errStopped))
	}
}
