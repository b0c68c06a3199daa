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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_Exhaustion(t *testing.T) {
	t.Parallel()

	p := NewPool()
	seen := make(map[*Request]bool)
	for range PoolSize {
		r := p.Alloc()
		require.NotNil(t, r)
		assert.False(t, seen[r], "slot handed out twice")
		seen[r] = true
	}
	assert.Equal(t, PoolSize, p.InUse())
	assert.Nil(t, p.Alloc())

	var one *Request
	for r := range seen {
		one = r
		break
	}
	p.Release(one)
	assert.Equal(t, PoolSize-1, p.InUse())
	assert.Same(t, one, p.Alloc())
}

func TestPool_DoubleReleaseIgnored(t *testing.T) {
	t.Parallel()

	p := NewPool()
	a := p.Alloc()
	b := p.Alloc()
	p.Release(a)
	p.Release(a)
	assert.Equal(t, 1, p.InUse())

	p.Release(&Request{})
	assert.Equal(t, 1, p.InUse())
	p.Release(b)
	assert.Zero(t, p.InUse())
}

func TestPool_AllocResetsRequest(t *testing.T) {
	t.Parallel()

	p := NewPool()
	r := p.Alloc()
	r.Params = &MountParams{ReadOnly: true}
	require.True(t, r.complete(assert.AnError))
	p.Release(r)

	again := p.Alloc()
	require.Same(t, r, again)
	assert.Nil(t, again.Params)
	assert.NoError(t, again.Err())
	select {
	case <-again.Done():
		t.Fatal("stale completion signal survived reset")
	default:
	}
	assert.True(t, again.Abandon())
}

func TestRequest_CompleteAbandonRace(t *testing.T) {
	t.Parallel()

	p := NewPool()

	r := p.Alloc()
	require.True(t, r.Abandon())
	assert.False(t, r.complete(nil))

	r2 := p.Alloc()
	require.True(t, r2.complete(nil))
	assert.False(t, r2.Abandon())
	<-r2.Done()
}

func TestMailbox_FIFOAndCapacity(t *testing.T) {
	t.Parallel()

	mb := NewMailbox()
	p := NewPool()
	var reqs []*Request
	for range Depth {
		r := p.Alloc()
		reqs = append(reqs, r)
		require.True(t, mb.Post(r))
	}
	assert.False(t, mb.Post(&Request{}))
	assert.Equal(t, Depth, mb.Len())

	for _, want := range reqs {
		assert.Same(t, want, mb.TryFetch())
	}
	assert.Nil(t, mb.TryFetch())
}

func TestMailbox_FetchWaits(t *testing.T) {
	t.Parallel()

	mb := NewMailbox()
	r := NewPool().Alloc()

	got := make(chan *Request)
	go func() {
		fetched, err := mb.Fetch(context.Background())
		assert.NoError(t, err)
		got <- fetched
	}()

	require.True(t, mb.Post(r))
	select {
	case fetched := <-got:
		assert.Same(t, r, fetched)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not wake")
	}
}

func TestMailbox_FetchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMailbox().Fetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMailbox_PurgeKeepsOrder(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		// A rotated head exercises wrap-around.
		rotate := rapid.IntRange(0, Depth-1).Draw(rt, "rotate")
		marks := rapid.SliceOfN(rapid.Bool(), 0, Depth).Draw(rt, "doomed")

		mb := NewMailbox()
		filler := &Request{}
		for range rotate {
			require.True(rt, mb.Post(filler))
			require.Same(rt, filler, mb.TryFetch())
		}

		reqs := make([]*Request, len(marks))
		doomedSet := make(map[*Request]bool)
		for i, m := range marks {
			reqs[i] = &Request{slot: uint8(i)}
			if m {
				doomedSet[reqs[i]] = true
			}
			require.True(rt, mb.Post(reqs[i]))
		}

		var out [Depth]*Request
		n := mb.Purge(func(r *Request) bool { return doomedSet[r] }, &out)

		var wantDoomed, wantKept []*Request
		for _, r := range reqs {
			if doomedSet[r] {
				wantDoomed = append(wantDoomed, r)
			} else {
				wantKept = append(wantKept, r)
			}
		}
		require.Equal(rt, len(wantDoomed), n)
		for i, r := range wantDoomed {
			require.Same(rt, r, out[i])
		}
		require.Equal(rt, len(wantKept), mb.Len())
		for _, r := range wantKept {
			require.Same(rt, r, mb.TryFetch())
		}
		require.Nil(rt, mb.TryFetch())
	})
}
