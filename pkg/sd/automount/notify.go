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

package automount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// NotifySource watches the directory holding a card image or device node
// and reports presence whenever the path appears or disappears.
type NotifySource struct {
	watcher *fsnotify.Watcher
	changes chan bool
	stop    chan struct{}
	done    chan struct{}
	path    string
}

func NewNotifySource(path string) *NotifySource {
	return &NotifySource{
		path:    filepath.Clean(path),
		changes: make(chan bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *NotifySource) Changes() <-chan bool {
	return s.changes
}

func (s *NotifySource) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.loop()

	log.Debug().Str("path", s.path).Msg("watching sd card path")
	return nil
}

func (s *NotifySource) Stop() {
	close(s.stop)
	<-s.done
}

func (s *NotifySource) exists() bool {
	_, err := os.Stat(s.path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

func (s *NotifySource) emit(present bool) bool {
	select {
	case s.changes <- present:
		return true
	case <-s.stop:
		return false
	}
}

func (s *NotifySource) loop() {
	defer close(s.done)
	defer func() {
		_ = s.watcher.Close()
	}()

	last := s.exists()
	if !s.emit(last) {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			cur := s.exists()
			if cur == last {
				continue
			}
			last = cur
			if !s.emit(cur) {
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

var _ Source = (*NotifySource)(nil)
