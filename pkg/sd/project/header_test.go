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

package project

import (
	"hash/crc32"
	"strings"
	"testing"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCRC32_KnownVector(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0xCBF43926), CRC32(0, []byte("123456789")))
	assert.Equal(t, uint32(0), CRC32(0, nil))
}

func TestCRC32_MatchesIEEE(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		if got, want := CRC32(0, data), crc32.ChecksumIEEE(data); got != want {
			t.Fatalf("crc %08x, want %08x", got, want)
		}
	})
}

func TestCRC32_Incremental(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "data")
		split := rapid.IntRange(0, len(data)).Draw(t, "split")
		whole := CRC32(0, data)
		parts := CRC32(CRC32(0, data[:split]), data[split:])
		if whole != parts {
			t.Fatalf("split at %d: %08x != %08x", split, parts, whole)
		}
	})
}

func TestHeader_Layout(t *testing.T) {
	t.Parallel()

	h := Header{
		Magic:      PatternMagic,
		Version:    PatternVersion,
		Size:       0x0102,
		Generation: 7,
		CRC:        0xAABBCCDD,
	}
	b := h.Bytes()

	require.Len(t, b, HeaderSize)
	assert.Equal(t, []byte{0x50, 0x54, 0x52, 0x42}, b[0:4])
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x00}, b[4:8])
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00}, b[8:12])
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00}, b[12:16])
	assert.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, b[16:20])
	assert.Equal(t, h, ParseHeader(b))
}

func TestPaths(t *testing.T) {
	t.Parallel()

	p, err := PatternPath("demo", "intro")
	require.NoError(t, err)
	assert.Equal(t, "/projects/demo/patterns/intro.pat", p)

	tmp, err := TempPath(p)
	require.NoError(t, err)
	assert.Equal(t, "/projects/demo/patterns/intro.pat.tmp", tmp)

	s, err := SamplePath("kick.wav")
	require.NoError(t, err)
	assert.Equal(t, "/samples/kick.wav", s)

	d, err := PatternsDir("demo")
	require.NoError(t, err)
	assert.Equal(t, "/projects/demo/patterns", d)
}

func TestPaths_Invalid(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", MaxNameLen)

	tests := []struct {
		name    string
		project string
		pattern string
	}{
		{name: "empty project", project: "", pattern: "p"},
		{name: "empty pattern", project: "p", pattern: ""},
		{name: "separator", project: "a/b", pattern: "p"},
		{name: "dot dot", project: "..", pattern: "p"},
		{name: "name too long", project: long, pattern: "p"},
		{name: "pattern too long", project: "p", pattern: long},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := PatternPath(tt.project, tt.pattern)
			require.ErrorIs(t, err, status.ErrInvalidParam)
		})
	}
}

func TestTruncateName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateName("short"))
	assert.Len(t, truncateName(strings.Repeat("x", 100)), MaxNameLen-1)

	// A two byte rune straddling the limit is dropped whole.
	name := strings.Repeat("x", MaxNameLen-2) + "é"
	got := truncateName(name)
	assert.Equal(t, strings.Repeat("x", MaxNameLen-2), got)
}
