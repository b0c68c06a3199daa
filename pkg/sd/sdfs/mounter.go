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
	"fmt"
	"syscall"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/spf13/afero"
)

// Mounter is the FAT volume collaborator. Mount returns the volume's root
// filesystem; FAT semantics below that interface are assumed correct.
type Mounter interface {
	Mount(dev *blockdev.Adapter, mode Mode) (afero.Fs, error)
	Unmount(fsys afero.Fs) error
}

// MemMounter is a volume kept in memory that survives unmount and remount,
// the way a card keeps its contents between mounts. Reads and writes touch
// the card's reserved block 0 so block faults reach the filesystem.
type MemMounter struct {
	fs        afero.Fs
	failMount error
	mounts    int
	mu        syncutil.Mutex
}

// NewMemMounter returns an empty in-memory volume.
func NewMemMounter() *MemMounter {
	return &MemMounter{fs: afero.NewMemMapFs()}
}

// Fs exposes the raw volume for seeding and inspection. It bypasses the
// media layer.
func (m *MemMounter) Fs() afero.Fs {
	return m.fs
}

// FailMount makes mount attempts fail with err until cleared with nil.
func (m *MemMounter) FailMount(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMount = err
}

// Mounts returns the number of successful mounts.
func (m *MemMounter) Mounts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounts
}

func (m *MemMounter) Mount(dev *blockdev.Adapter, mode Mode) (afero.Fs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMount != nil {
		return nil, m.failMount
	}
	// The boot sector read.
	boot := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlocks(boot, 0, 1).Err("mount"); err != nil {
		return nil, err
	}
	m.mounts++
	var fsys afero.Fs = newMediaFs(dev, m.fs, true)
	if mode == ModeRO {
		fsys = afero.NewReadOnlyFs(fsys)
	}
	return fsys, nil
}

func (m *MemMounter) Unmount(afero.Fs) error {
	return nil
}

// DirMounter serves a FAT volume the host has already mounted at Root,
// for example the card reader's mount point.
type DirMounter struct {
	Root string
}

func (d DirMounter) Mount(_ *blockdev.Adapter, mode Mode) (afero.Fs, error) {
	osFs := afero.NewOsFs()
	st, err := osFs.Stat(d.Root)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return nil, fmt.Errorf("volume root %s: %w", d.Root, syscall.ENODEV)
		}
		return nil, fmt.Errorf("volume root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("volume root %s: %w", d.Root, syscall.ENOTDIR)
	}
	var fsys afero.Fs = afero.NewBasePathFs(osFs, d.Root)
	if mode == ModeRO {
		fsys = afero.NewReadOnlyFs(fsys)
	}
	return fsys, nil
}

func (DirMounter) Unmount(afero.Fs) error {
	return nil
}
