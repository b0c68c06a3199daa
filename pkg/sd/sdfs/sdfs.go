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

// Package sdfs mounts a FAT volume on top of the block adapter, enforces
// read-only mode and maps filesystem failures onto the driver taxonomy.
//
// A Volume belongs to the SD worker goroutine and is not safe for
// concurrent use.
package sdfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// SamplesDir must exist on every mounted volume.
const SamplesDir = "/samples"

const listBatch = 16

var errReadOnly = errors.New("volume mounted read-only")

// Mode selects read-write or read-only mounting.
type Mode uint8

const (
	ModeRW Mode = iota
	ModeRO
)

func (m Mode) String() string {
	if m == ModeRO {
		return "ro"
	}
	return "rw"
}

// Volume is the mounted card filesystem.
type Volume struct {
	dev     *blockdev.Adapter
	mounter Mounter
	fs      afero.Fs
	session uuid.UUID
	mounted bool
	// readOnly is the mode the volume was mounted with.
	readOnly bool
	// fsReadOnly latches once the media reported write protection.
	fsReadOnly bool
	wpEvent    bool
}

// NewVolume returns an unmounted volume over dev.
func NewVolume(dev *blockdev.Adapter, mounter Mounter) *Volume {
	return &Volume{dev: dev, mounter: mounter}
}

// Device returns the block adapter under the volume.
func (v *Volume) Device() *blockdev.Adapter {
	return v.dev
}

// Mount mounts the volume. Write-protected media is mounted read-only
// whatever mode was asked for. Mounting an already mounted volume
// remounts it.
func (v *Volume) Mount(mode Mode) error {
	if v.mounted {
		v.Unmount()
	}
	if !v.dev.IsCardPresent() {
		return status.New(status.NoCard, "mount")
	}
	if err := v.dev.Connect().Err("mount"); err != nil {
		return err
	}
	if v.dev.IsWriteProtected() {
		mode = ModeRO
	}

	fsys, err := v.mounter.Mount(v.dev, mode)
	if err != nil {
		v.dev.Disconnect()
		return v.mapErr("mount", "", err)
	}
	v.fs = newMediaFs(v.dev, fsys, false)
	v.mounted = true
	v.readOnly = mode == ModeRO

	_, err = v.fs.Stat(SamplesDir)
	if err != nil && mode == ModeRW && errors.Is(err, fs.ErrNotExist) {
		err = v.fs.Mkdir(SamplesDir, 0o755)
	}
	if err != nil {
		mapped := v.mapErr("mount", SamplesDir, err)
		v.unwind()
		return mapped
	}

	v.fsReadOnly = false
	v.wpEvent = false
	v.session = uuid.New()
	log.Info().
		Str("session", v.session.String()).
		Stringer("mode", mode).
		Msg("sd volume mounted")
	return nil
}

func (v *Volume) unwind() {
	if err := v.mounter.Unmount(v.fs); err != nil {
		log.Debug().Err(err).Msg("unmount during failed mount")
	}
	v.reset()
	v.dev.Disconnect()
}

func (v *Volume) reset() {
	v.fs = nil
	v.mounted = false
	v.readOnly = false
	v.fsReadOnly = false
	v.wpEvent = false
	v.session = uuid.Nil
}

// Unmount drops the volume. It never fails.
func (v *Volume) Unmount() {
	if !v.mounted {
		v.reset()
		return
	}
	if err := v.mounter.Unmount(v.fs); err != nil {
		log.Warn().Err(err).Msg("sd volume unmount")
	}
	log.Info().Str("session", v.session.String()).Msg("sd volume unmounted")
	v.reset()
}

func (v *Volume) IsMounted() bool {
	return v.mounted
}

// IsReadOnly reports whether the volume was mounted read-only or the media
// has since reported write protection.
func (v *Volume) IsReadOnly() bool {
	return v.readOnly || v.fsReadOnly
}

// Session identifies the current mount, uuid.Nil when unmounted.
func (v *Volume) Session() uuid.UUID {
	return v.session
}

// ConsumeWriteProtectEvent reports whether write protection was detected
// since the last call, and clears the event.
func (v *Volume) ConsumeWriteProtectEvent() bool {
	ev := v.wpEvent
	v.wpEvent = false
	return ev
}

func (v *Volume) guard(op, path string, write bool) error {
	if !v.mounted {
		return status.New(status.NotMounted, op)
	}
	if write && v.IsReadOnly() {
		return status.Wrap(status.FsError, op, path, errReadOnly)
	}
	return nil
}

func codeFor(err error) status.Code {
	var se *status.Error
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, ErrNoMedia):
		return status.NoCard
	case errors.Is(err, syscall.EROFS):
		return status.FsError
	case errors.Is(err, fs.ErrNotExist):
		return status.Corrupted
	case errors.Is(err, fs.ErrExist):
		return status.InvalidParam
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, fs.ErrPermission):
		return status.Full
	case errors.Is(err, syscall.EIO), errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.ENODEV):
		return status.Io
	default:
		return status.FsError
	}
}

// mapErr converts err into a coded error. A write-protect failure latches
// the read-only flag and raises the one-shot event in the same step.
func (v *Volume) mapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *status.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, syscall.EROFS) {
		if !v.fsReadOnly {
			log.Warn().Str("op", op).Str("path", path).Msg("sd media write protected")
		}
		v.fsReadOnly = true
		v.wpEvent = true
	}
	return status.Wrap(codeFor(err), op, path, err)
}

// File is an open file on the volume.
type File struct {
	v        *Volume
	f        afero.File
	path     string
	writable bool
}

// Open opens path with os.O_* flags. Write flags are refused on a
// read-only volume.
func (v *Volume) Open(path string, flag int) (*File, error) {
	writable := isWriteFlag(flag)
	if err := v.guard("open", path, writable); err != nil {
		return nil, err
	}
	f, err := v.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, v.mapErr("open", path, err)
	}
	return &File{v: v, f: f, path: path, writable: writable}, nil
}

// Read returns io.EOF unmapped so callers can detect short reads.
func (f *File) Read(p []byte) (int, error) {
	if err := f.v.guard("read", f.path, false); err != nil {
		return 0, err
	}
	n, err := f.f.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, f.v.mapErr("read", f.path, err)
	}
	return n, err //nolint:wrapcheck // io.EOF passes through
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.writeGuard("write"); err != nil {
		return 0, err
	}
	n, err := f.f.Write(p)
	if err != nil {
		return n, f.v.mapErr("write", f.path, err)
	}
	if n < len(p) {
		return n, status.Wrap(status.Io, "write", f.path, io.ErrShortWrite)
	}
	return n, nil
}

func (f *File) writeGuard(op string) error {
	if err := f.v.guard(op, f.path, true); err != nil {
		return err
	}
	if !f.writable {
		return status.Wrap(status.FsError, op, f.path, os.ErrPermission)
	}
	return nil
}

func (f *File) Sync() error {
	if err := f.writeGuard("sync"); err != nil {
		return err
	}
	return f.v.mapErr("sync", f.path, f.f.Sync())
}

// Close always releases the handle, even after the volume went away.
func (f *File) Close() error {
	return f.v.mapErr("close", f.path, f.f.Close())
}

func (v *Volume) Stat(path string) (fs.FileInfo, error) {
	if err := v.guard("stat", path, false); err != nil {
		return nil, err
	}
	fi, err := v.fs.Stat(path)
	if err != nil {
		return nil, v.mapErr("stat", path, err)
	}
	return fi, nil
}

// Rename moves oldPath to newPath, replacing newPath if it exists.
func (v *Volume) Rename(oldPath, newPath string) error {
	if err := v.guard("rename", oldPath, true); err != nil {
		return err
	}
	return v.mapErr("rename", oldPath, v.fs.Rename(oldPath, newPath))
}

func (v *Volume) Delete(path string) error {
	if err := v.guard("delete", path, true); err != nil {
		return err
	}
	return v.mapErr("delete", path, v.fs.Remove(path))
}

func (v *Volume) Mkdir(path string) error {
	if err := v.guard("mkdir", path, true); err != nil {
		return err
	}
	return v.mapErr("mkdir", path, v.fs.Mkdir(path, 0o755))
}

// ListDir calls visit for each entry of path in a single pass. An error
// from visit stops the iteration and is returned as is.
func (v *Volume) ListDir(path string, visit func(fs.FileInfo) error) error {
	if err := v.guard("listdir", path, false); err != nil {
		return err
	}
	d, err := v.fs.Open(path)
	if err != nil {
		return v.mapErr("listdir", path, err)
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("path", path).Msg("closing directory")
		}
	}()

	for {
		batch, err := d.Readdir(listBatch)
		for _, fi := range batch {
			if verr := visit(fi); verr != nil {
				return verr
			}
		}
		if errors.Is(err, io.EOF) || (err == nil && len(batch) == 0) {
			return nil
		}
		if err != nil {
			return v.mapErr("listdir", path, err)
		}
	}
}
