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

package helpers

import (
	"errors"
	"os"
	"time"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/spf13/afero"
)

// ErrPowerLost is returned by every FaultFs call after a simulated crash.
var ErrPowerLost = errors.New("power lost")

// Operation names understood by FaultFs.
const (
	OpOpen   = "open"
	OpWrite  = "write"
	OpSync   = "sync"
	OpClose  = "close"
	OpRename = "rename"
	OpRemove = "remove"
	OpMkdir  = "mkdir"
	OpStat   = "stat"
)

// FaultFs wraps an afero.Fs and fails chosen operations. A crash stops the
// filesystem dead at a chosen point: that call and every later one fail,
// and nothing is cleaned up, which is what pulling power looks like to the
// card.
type FaultFs struct {
	afero.Fs
	fail       map[string]error
	crashAt    string
	writeLimit int64
	written    int64
	mu         syncutil.Mutex
	crashed    bool
}

// NewFaultFs wraps base with no faults armed.
func NewFaultFs(base afero.Fs) *FaultFs {
	return &FaultFs{
		Fs:         base,
		fail:       make(map[string]error),
		writeLimit: -1,
	}
}

// FailOn makes every op call return err until cleared with nil.
func (f *FaultFs) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// CrashAt loses power when op is next reached.
func (f *FaultFs) CrashAt(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashAt = op
}

// CrashAfterBytes loses power once n more bytes have been written. The
// write that crosses the limit is applied partially.
func (f *FaultFs) CrashAfterBytes(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeLimit = n
	f.written = 0
}

// Crashed reports whether a crash was triggered.
func (f *FaultFs) Crashed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crashed
}

// Restore brings power back and disarms every fault.
func (f *FaultFs) Restore() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashed = false
	f.crashAt = ""
	f.writeLimit = -1
	f.written = 0
	clear(f.fail)
}

func (f *FaultFs) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crashed {
		return ErrPowerLost
	}
	if f.crashAt == op {
		f.crashed = true
		return ErrPowerLost
	}
	if err, ok := f.fail[op]; ok {
		return err
	}
	return nil
}

// allowWrite returns how many of n bytes may still be written.
func (f *FaultFs) allowWrite(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeLimit < 0 {
		return n
	}
	left := f.writeLimit - f.written
	if int64(n) >= left {
		f.crashed = true
		f.written = f.writeLimit
		return int(max(left, 0))
	}
	f.written += int64(n)
	return n
}

func pathErr(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: err}
}

func (f *FaultFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (f *FaultFs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *FaultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if err := f.check(OpOpen); err != nil {
		return nil, pathErr(OpOpen, name, err)
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err //nolint:wrapcheck // passthrough
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *FaultFs) Mkdir(name string, perm os.FileMode) error {
	if err := f.check(OpMkdir); err != nil {
		return pathErr(OpMkdir, name, err)
	}
	return f.Fs.Mkdir(name, perm) //nolint:wrapcheck // passthrough
}

func (f *FaultFs) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdir); err != nil {
		return pathErr(OpMkdir, path, err)
	}
	return f.Fs.MkdirAll(path, perm) //nolint:wrapcheck // passthrough
}

func (f *FaultFs) Remove(name string) error {
	if err := f.check(OpRemove); err != nil {
		return pathErr(OpRemove, name, err)
	}
	return f.Fs.Remove(name) //nolint:wrapcheck // passthrough
}

func (f *FaultFs) Rename(oldname, newname string) error {
	if err := f.check(OpRename); err != nil {
		return pathErr(OpRename, oldname, err)
	}
	return f.Fs.Rename(oldname, newname) //nolint:wrapcheck // passthrough
}

func (f *FaultFs) Stat(name string) (os.FileInfo, error) {
	if err := f.check(OpStat); err != nil {
		return nil, pathErr(OpStat, name, err)
	}
	return f.Fs.Stat(name) //nolint:wrapcheck // passthrough
}

func (f *FaultFs) Chtimes(name string, atime, mtime time.Time) error {
	if err := f.check(OpWrite); err != nil {
		return pathErr("chtimes", name, err)
	}
	return f.Fs.Chtimes(name, atime, mtime) //nolint:wrapcheck // passthrough
}

type faultFile struct {
	afero.File
	fs *FaultFs
}

func (f *faultFile) Write(p []byte) (int, error) {
	if err := f.fs.check(OpWrite); err != nil {
		return 0, pathErr(OpWrite, f.Name(), err)
	}
	allowed := f.fs.allowWrite(len(p))
	n, err := f.File.Write(p[:allowed])
	if err != nil {
		return n, err //nolint:wrapcheck // passthrough
	}
	if allowed < len(p) {
		return n, pathErr(OpWrite, f.Name(), ErrPowerLost)
	}
	return n, nil
}

func (f *faultFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *faultFile) Sync() error {
	if err := f.fs.check(OpSync); err != nil {
		return pathErr(OpSync, f.Name(), err)
	}
	return f.File.Sync() //nolint:wrapcheck // passthrough
}

// Close releases the handle even after a crash so tests do not leak it.
func (f *faultFile) Close() error {
	cerr := f.fs.check(OpClose)
	if err := f.File.Close(); err != nil {
		return err //nolint:wrapcheck // passthrough
	}
	if cerr != nil {
		return pathErr(OpClose, f.Name(), cerr)
	}
	return nil
}

// Mounter mounts a fixed filesystem, typically a FaultFs or a tree built
// with FSHelper. Contents persist across mounts.
type Mounter struct {
	Fs afero.Fs
}

func (m Mounter) Mount(_ *blockdev.Adapter, mode sdfs.Mode) (afero.Fs, error) {
	if mode == sdfs.ModeRO {
		return afero.NewReadOnlyFs(m.Fs), nil
	}
	return m.Fs, nil
}

func (Mounter) Unmount(afero.Fs) error {
	return nil
}
