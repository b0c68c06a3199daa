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

package sdfs

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/spf13/afero"
)

// ErrNoMedia is returned by the media layer when the card is absent.
var ErrNoMedia = errors.New("no media present")

func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
}

// mediaFs gates a mounted volume on the card itself. Mutations fail with
// EROFS while the card reports write protection, and every call fails with
// ErrNoMedia once the card is pulled. When mirror is set each operation
// also touches the card's reserved block 0, so controller faults surface
// through the filesystem the way they do on a real FAT volume.
type mediaFs struct {
	afero.Fs
	dev    *blockdev.Adapter
	probe  []byte
	mirror bool
}

func newMediaFs(dev *blockdev.Adapter, inner afero.Fs, mirror bool) *mediaFs {
	return &mediaFs{
		Fs:     inner,
		dev:    dev,
		probe:  make([]byte, blockdev.BlockSize),
		mirror: mirror,
	}
}

func (m *mediaFs) Name() string {
	return "sdcard"
}

func (m *mediaFs) present(op, name string) error {
	if !m.dev.IsCardPresent() {
		return &fs.PathError{Op: op, Path: name, Err: ErrNoMedia}
	}
	return nil
}

func (m *mediaFs) touch(op string, write bool) error {
	if !m.mirror {
		return nil
	}
	var st blockdev.Status
	if write {
		clear(m.probe)
		st = m.dev.WriteBlocks(m.probe, 0, 1)
	} else {
		st = m.dev.ReadBlocks(m.probe, 0, 1)
	}
	return st.Err(op)
}

func (m *mediaFs) mutate(op, name string) error {
	if err := m.present(op, name); err != nil {
		return err
	}
	if m.dev.IsWriteProtected() {
		return &fs.PathError{Op: op, Path: name, Err: syscall.EROFS}
	}
	return m.touch(op, true)
}

func (m *mediaFs) access(op, name string) error {
	if err := m.present(op, name); err != nil {
		return err
	}
	return m.touch(op, false)
}

func (m *mediaFs) Create(name string) (afero.File, error) {
	return m.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (m *mediaFs) Open(name string) (afero.File, error) {
	return m.OpenFile(name, os.O_RDONLY, 0)
}

func (m *mediaFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	var err error
	if isWriteFlag(flag) {
		err = m.mutate("open", name)
	} else {
		err = m.access("open", name)
	}
	if err != nil {
		return nil, err
	}
	f, err := m.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err //nolint:wrapcheck // mapped by the volume
	}
	return &mediaFile{File: f, fs: m}, nil
}

func (m *mediaFs) Mkdir(name string, perm os.FileMode) error {
	if err := m.mutate("mkdir", name); err != nil {
		return err
	}
	return m.Fs.Mkdir(name, perm) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) MkdirAll(path string, perm os.FileMode) error {
	if err := m.mutate("mkdir", path); err != nil {
		return err
	}
	return m.Fs.MkdirAll(path, perm) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) Remove(name string) error {
	if err := m.mutate("remove", name); err != nil {
		return err
	}
	return m.Fs.Remove(name) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) RemoveAll(path string) error {
	if err := m.mutate("remove", path); err != nil {
		return err
	}
	return m.Fs.RemoveAll(path) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) Rename(oldname, newname string) error {
	if err := m.mutate("rename", oldname); err != nil {
		return err
	}
	return m.Fs.Rename(oldname, newname) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) Stat(name string) (os.FileInfo, error) {
	if err := m.access("stat", name); err != nil {
		return nil, err
	}
	return m.Fs.Stat(name) //nolint:wrapcheck // mapped by the volume
}

func (m *mediaFs) Chtimes(name string, atime, mtime time.Time) error {
	if err := m.mutate("chtimes", name); err != nil {
		return err
	}
	return m.Fs.Chtimes(name, atime, mtime) //nolint:wrapcheck // mapped by the volume
}

type mediaFile struct {
	afero.File
	fs *mediaFs
}

func (f *mediaFile) Read(p []byte) (int, error) {
	if err := f.fs.access("read", f.Name()); err != nil {
		return 0, err
	}
	return f.File.Read(p) //nolint:wrapcheck // mapped by the volume
}

func (f *mediaFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.fs.access("read", f.Name()); err != nil {
		return 0, err
	}
	return f.File.ReadAt(p, off) //nolint:wrapcheck // mapped by the volume
}

func (f *mediaFile) Write(p []byte) (int, error) {
	if err := f.fs.mutate("write", f.Name()); err != nil {
		return 0, err
	}
	return f.File.Write(p) //nolint:wrapcheck // mapped by the volume
}

func (f *mediaFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.mutate("write", f.Name()); err != nil {
		return 0, err
	}
	return f.File.WriteAt(p, off) //nolint:wrapcheck // mapped by the volume
}

func (f *mediaFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *mediaFile) Truncate(size int64) error {
	if err := f.fs.mutate("truncate", f.Name()); err != nil {
		return err
	}
	return f.File.Truncate(size) //nolint:wrapcheck // mapped by the volume
}

func (f *mediaFile) Sync() error {
	if err := f.fs.present("sync", f.Name()); err != nil {
		return err
	}
	if f.fs.mirror {
		if err := f.fs.dev.Sync().Err("sync"); err != nil {
			return err
		}
	}
	return f.File.Sync() //nolint:wrapcheck // mapped by the volume
}
