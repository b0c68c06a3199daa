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

// Package project stores pattern and sample records on the card. Records
// carry a fixed header with a CRC32 of the payload, and pattern saves go
// through a temporary file and a rename so the previous version survives
// any failure.
//
// A Store reuses one scratch buffer across calls and belongs to the SD
// worker goroutine.
package project

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/rs/zerolog/log"
)

const (
	MaxPatternSize = 8 << 10
	MaxSampleSize  = 64 << 20
	// ChunkSize is the scratch buffer size and the largest single read.
	ChunkSize  = 64 << 10
	MaxNameLen = 64
	MaxPathLen = 160
)

var (
	errBadName     = errors.New("invalid name")
	errPathTooLong = errors.New("path too long")
	errBadMagic    = errors.New("unexpected magic or version")
	errTooLarge    = errors.New("record exceeds buffer")
	errNotDir      = errors.New("not a directory")
	errListFull    = errors.New("listing full")
)

// Info is one entry of a project listing. Generation is reserved and
// always zero.
type Info struct {
	Name       string
	Generation uint32
}

// Store reads and writes records on a mounted volume.
type Store struct {
	vol     *sdfs.Volume
	scratch []byte
}

// NewStore returns a store over vol.
func NewStore(vol *sdfs.Volume) *Store {
	return &Store{
		vol:     vol,
		scratch: make([]byte, ChunkSize),
	}
}

func (s *Store) mounted(op string) error {
	if !s.vol.IsMounted() {
		return status.New(status.NotMounted, op)
	}
	return nil
}

func closeQuiet(f *sdfs.File, path string) {
	if err := f.Close(); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("closing record")
	}
}

func isShort(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// readHeader reads and checks a record header. A truncated header is
// Corrupted, a driver failure keeps its own code.
func (s *Store) readHeader(
	f *sdfs.File,
	op, path string,
	magic, version uint32,
	limit int,
) (Header, error) {
	hb := s.scratch[:HeaderSize]
	if _, err := io.ReadFull(f, hb); err != nil {
		if isShort(err) {
			return Header{}, status.Wrap(status.Corrupted, op, path, err)
		}
		return Header{}, err
	}
	h := ParseHeader(hb)
	if h.Magic != magic || h.Version != version {
		return Header{}, status.Wrap(status.Corrupted, op, path,
			fmt.Errorf("%w: %#08x/%#08x", errBadMagic, h.Magic, h.Version))
	}
	if uint64(h.Size) > uint64(limit) {
		return Header{}, status.Wrap(status.Corrupted, op, path,
			fmt.Errorf("%w: %d > %d", errTooLarge, h.Size, limit))
	}
	return h, nil
}

func readPayload(f *sdfs.File, op, path string, p []byte) error {
	if _, err := io.ReadFull(f, p); err != nil {
		if isShort(err) {
			return status.Wrap(status.Io, op, path, err)
		}
		return err
	}
	return nil
}

// LoadPattern reads a pattern into buf and returns its size and
// generation. buf holds the payload even when the checksum fails.
func (s *Store) LoadPattern(projectName, pattern string, buf []byte) (int, uint32, error) {
	const op = "load pattern"
	if len(buf) == 0 {
		return 0, 0, status.New(status.InvalidParam, op)
	}
	if err := s.mounted(op); err != nil {
		return 0, 0, err
	}
	path, err := PatternPath(projectName, pattern)
	if err != nil {
		return 0, 0, err
	}

	f, err := s.vol.Open(path, os.O_RDONLY)
	if err != nil {
		return 0, 0, err
	}
	defer closeQuiet(f, path)

	h, err := s.readHeader(f, op, path, PatternMagic, PatternVersion, min(len(buf), ChunkSize))
	if err != nil {
		return 0, 0, err
	}
	payload := s.scratch[:h.Size]
	if err := readPayload(f, op, path, payload); err != nil {
		return 0, 0, err
	}
	n := copy(buf, payload)
	if CRC32(0, payload) != h.CRC {
		return 0, 0, status.Wrap(status.Crc, op, path, nil)
	}
	return n, h.Generation, nil
}

// ensureDir creates path unless it already exists.
func (s *Store) ensureDir(path string) error {
	fi, err := s.vol.Stat(path)
	if err == nil {
		if !fi.IsDir() {
			return status.Wrap(status.FsError, "mkdir", path, errNotDir)
		}
		return nil
	}
	if status.CodeOf(err) != status.Corrupted {
		return err
	}
	err = s.vol.Mkdir(path)
	if status.CodeOf(err) == status.InvalidParam {
		return nil
	}
	return err
}

// SavePattern writes data as the new version of a pattern. The record is
// staged in a temporary file that is synced and renamed over the previous
// version; on failure the temporary file is removed and the previous
// version is untouched.
func (s *Store) SavePattern(projectName, pattern string, data []byte, generation uint32) error {
	const op = "save pattern"
	if len(data) == 0 || len(data) > MaxPatternSize {
		return status.Wrap(status.InvalidParam, op, "",
			fmt.Errorf("size %d out of range 1..%d", len(data), MaxPatternSize))
	}
	if err := s.mounted(op); err != nil {
		return err
	}
	final, err := PatternPath(projectName, pattern)
	if err != nil {
		return err
	}
	tmp, err := TempPath(final)
	if err != nil {
		return err
	}
	dir, err := ProjectDir(projectName)
	if err != nil {
		return err
	}
	patterns, err := PatternsDir(projectName)
	if err != nil {
		return err
	}
	if err := s.ensureDir(ProjectsDir); err != nil {
		return err
	}
	if err := s.ensureDir(dir); err != nil {
		return err
	}
	if err := s.ensureDir(patterns); err != nil {
		return err
	}

	f, err := s.vol.Open(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	err = s.writeRecord(f, Header{
		Magic:      PatternMagic,
		Version:    PatternVersion,
		Size:       uint32(len(data)), //nolint:gosec // bounded by MaxPatternSize
		Generation: generation,
		CRC:        CRC32(0, data),
	}, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.vol.Rename(tmp, final)
	}
	if err != nil {
		s.discard(tmp)
		return err
	}

	log.Debug().
		Str("path", final).
		Int("size", len(data)).
		Uint32("generation", generation).
		Msg("pattern saved")
	return nil
}

// writeRecord writes the header then the payload and syncs.
func (s *Store) writeRecord(f *sdfs.File, h Header, data []byte) error {
	h.Put(s.scratch[:HeaderSize])
	if _, err := f.Write(s.scratch[:HeaderSize]); err != nil {
		return err //nolint:wrapcheck // already coded by the volume
	}
	n := copy(s.scratch, data)
	if _, err := f.Write(s.scratch[:n]); err != nil {
		return err //nolint:wrapcheck // already coded by the volume
	}
	return f.Sync() //nolint:wrapcheck // already coded by the volume
}

func (s *Store) discard(tmp string) {
	if err := s.vol.Delete(tmp); err != nil && status.CodeOf(err) != status.Corrupted {
		log.Warn().Err(err).Str("path", tmp).Msg("removing temporary record")
	}
}

// LoadSample streams a sample into buf in ChunkSize pieces, checking the
// CRC across all of them.
func (s *Store) LoadSample(name string, buf []byte) (int, error) {
	const op = "load sample"
	if len(buf) == 0 {
		return 0, status.New(status.InvalidParam, op)
	}
	if err := s.mounted(op); err != nil {
		return 0, err
	}
	path, err := SamplePath(name)
	if err != nil {
		return 0, err
	}

	f, err := s.vol.Open(path, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer closeQuiet(f, path)

	h, err := s.readHeader(f, op, path, SampleMagic, SampleVersion, min(len(buf), MaxSampleSize))
	if err != nil {
		return 0, err
	}

	size := int(h.Size)
	var crc uint32
	for off := 0; off < size; {
		part := s.scratch[:min(ChunkSize, size-off)]
		if err := readPayload(f, op, path, part); err != nil {
			return 0, err
		}
		crc = CRC32(crc, part)
		off += copy(buf[off:], part)
	}
	if crc != h.CRC {
		return 0, status.Wrap(status.Crc, op, path, nil)
	}
	return size, nil
}

// truncateName cuts name to fit MaxNameLen-1 bytes without splitting a
// UTF-8 sequence.
func truncateName(name string) string {
	limit := MaxNameLen - 1
	if len(name) <= limit {
		return name
	}
	for limit > 0 && !utf8.RuneStart(name[limit]) {
		limit--
	}
	return name[:limit]
}

// ListProjects fills out with project directories and returns how many
// were listed. Listing stops without error once out is full.
func (s *Store) ListProjects(out []Info) (int, error) {
	const op = "list projects"
	if len(out) == 0 {
		return 0, status.New(status.InvalidParam, op)
	}
	if err := s.mounted(op); err != nil {
		return 0, err
	}
	if s.vol.IsReadOnly() {
		if _, err := s.vol.Stat(ProjectsDir); status.CodeOf(err) == status.Corrupted {
			return 0, nil
		}
	} else if err := s.ensureDir(ProjectsDir); err != nil {
		return 0, err
	}

	n := 0
	err := s.vol.ListDir(ProjectsDir, func(fi fs.FileInfo) error {
		if !fi.IsDir() || strings.HasPrefix(fi.Name(), ".") {
			return nil
		}
		if n == len(out) {
			return errListFull
		}
		out[n] = Info{Name: truncateName(fi.Name())}
		n++
		return nil
	})
	if errors.Is(err, errListFull) {
		err = nil
	}
	return n, err
}
