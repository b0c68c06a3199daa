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

package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// FileController serves blocks from a card image or a host block device
// node such as /dev/mmcblk0. The card counts as inserted while the path
// exists.
type FileController struct {
	file      *os.File
	path      string
	latched   ErrorFlags
	mu        syncutil.Mutex
	readOnly  bool
	protected bool
}

// NewFileController returns a controller for path. When readOnly is set the
// image is opened read-only and reported as write-protected.
func NewFileController(path string, readOnly bool) *FileController {
	return &FileController{
		path:     path,
		readOnly: readOnly,
	}
}

// Path returns the image or device path.
func (f *FileController) Path() string {
	return f.path
}

func (f *FileController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *FileController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *FileController) closeLocked() {
	if f.file == nil {
		return
	}
	if err := f.file.Close(); err != nil {
		log.Debug().Err(err).Str("path", f.path).Msg("closing card image")
	}
	f.file = nil
}

func (f *FileController) Inserted() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *FileController) WriteProtected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readOnly || f.protected
}

func (f *FileController) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return nil
	}
	flags := os.O_RDWR
	if f.readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(f.path, flags, 0)
	if err != nil && !f.readOnly && errors.Is(err, os.ErrPermission) {
		// Fall back to read-only access, which is how a locked card presents.
		file, err = os.OpenFile(f.path, os.O_RDONLY, 0)
		if err == nil {
			f.protected = true
		}
	}
	if err != nil {
		f.latchLocked(err)
		return fmt.Errorf("open card image: %w", err)
	}
	f.file = file
	return nil
}

func (f *FileController) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *FileController) latchLocked(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		f.latched |= FlagCardRemoved
	case errors.Is(err, os.ErrDeadlineExceeded):
		f.latched |= FlagTimeout
	default:
		f.latched |= FlagCommand
	}
}

func (f *FileController) transfer(sector uint32, buf []byte, count uint32, write bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		f.latched |= FlagCommand
		return errNotConnected
	}
	n := int(count) * BlockSize
	off := int64(sector) * BlockSize
	var err error
	var done int
	if write {
		if f.readOnly || f.protected {
			f.latched |= FlagCommand
			return errProtected
		}
		done, err = f.file.WriteAt(buf[:n], off)
	} else {
		done, err = f.file.ReadAt(buf[:n], off)
		if errors.Is(err, io.EOF) {
			f.latched |= FlagCommand
			return errOutOfRange
		}
	}
	if err != nil {
		f.latchLocked(err)
		return fmt.Errorf("card transfer at sector %d: %w", sector, err)
	}
	if done != n {
		f.latched |= FlagRxOverrun
		return io.ErrShortWrite
	}
	return nil
}

func (f *FileController) Read(sector uint32, buf []byte, count uint32) error {
	return f.transfer(sector, buf, count, false)
}

func (f *FileController) Write(sector uint32, buf []byte, count uint32) error {
	return f.transfer(sector, buf, count, true)
}

func (f *FileController) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		f.latchLocked(err)
		return fmt.Errorf("sync card image: %w", err)
	}
	return nil
}

func (f *FileController) Info() (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var size int64
	if f.file != nil {
		// Device nodes stat as zero length, seeking reports the real size.
		end, err := f.file.Seek(0, io.SeekEnd)
		if err != nil {
			f.latchLocked(err)
			return Info{}, fmt.Errorf("size card image: %w", err)
		}
		size = end
	} else {
		st, err := os.Stat(f.path)
		if err != nil {
			f.latchLocked(err)
			return Info{}, fmt.Errorf("stat card image: %w", err)
		}
		size = st.Size()
	}
	return Info{
		BlockCount: uint64(size) / BlockSize,
		BlockSize:  BlockSize,
	}, nil
}

func (f *FileController) FetchErrors() ErrorFlags {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags := f.latched
	f.latched = 0
	return flags
}
