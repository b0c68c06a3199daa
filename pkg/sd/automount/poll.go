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
	"time"

	"github.com/jonboulle/clockwork"
)

// PollSource samples a presence function on a ticker.
type PollSource struct {
	present  func() bool
	clock    clockwork.Clock
	changes  chan bool
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
}

func NewPollSource(present func() bool, interval time.Duration, clock clockwork.Clock) *PollSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{
		present:  present,
		clock:    clock,
		interval: interval,
		changes:  make(chan bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *PollSource) Changes() <-chan bool {
	return s.changes
}

func (s *PollSource) Start() error {
	go s.loop()
	return nil
}

func (s *PollSource) Stop() {
	close(s.stop)
	<-s.done
}

func (s *PollSource) emit(present bool) bool {
	select {
	case s.changes <- present:
		return true
	case <-s.stop:
		return false
	}
}

func (s *PollSource) loop() {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.present()
	if !s.emit(last) {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			cur := s.present()
			if cur == last {
				continue
			}
			last = cur
			if !s.emit(cur) {
				return
			}
		}
	}
}

var _ Source = (*PollSource)(nil)
