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

// Package automount mounts the card when it is inserted and unmounts it on
// removal. The driver itself never retries; this policy is the only place
// a failed mount is attempted again, and only on a later insertion edge.
package automount

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMinInterval  = 2 * time.Second
	DefaultBurst        = 1
)

// ErrThrottled is returned when an insertion arrives too soon after the
// previous mount attempt.
var ErrThrottled = errors.New("mount attempt throttled")

// Driver is the part of the SD driver the policy drives.
type Driver interface {
	Init(ctx context.Context) error
	Mount(ctx context.Context, readOnly bool) error
	Unmount(ctx context.Context) error
}

// Source reports card presence. The first value is the presence at start,
// later values are changes.
type Source interface {
	Start() error
	Changes() <-chan bool
	Stop()
}

type Config struct {
	Clock       clockwork.Clock
	MinInterval time.Duration
	Burst       int
	ReadOnly    bool
}

// Policy is not safe for concurrent use; Run owns it.
type Policy struct {
	drv      Driver
	clock    clockwork.Clock
	limiter  *rate.Limiter
	readOnly bool
	mounted  bool
}

func NewPolicy(drv Driver, cfg Config) *Policy {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Policy{
		drv:      drv,
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		readOnly: cfg.ReadOnly,
	}
}

// Handle applies one presence observation.
func (p *Policy) Handle(ctx context.Context, present bool) error {
	if !present {
		if !p.mounted {
			return nil
		}
		p.mounted = false
		log.Info().Msg("sd card removed, unmounting")
		return p.drv.Unmount(ctx)
	}
	if p.mounted {
		return nil
	}
	if !p.limiter.AllowN(p.clock.Now(), 1) {
		log.Warn().Msg("sd card inserted too soon after last mount attempt")
		return ErrThrottled
	}

	log.Info().Bool("read_only", p.readOnly).Msg("sd card inserted, mounting")
	if err := p.drv.Init(ctx); err != nil {
		return err
	}
	if err := p.drv.Mount(ctx, p.readOnly); err != nil {
		return err
	}
	p.mounted = true
	return nil
}

// Run starts src and feeds its observations to Handle until ctx is done or
// the source closes.
func (p *Policy) Run(ctx context.Context, src Source) error {
	if err := src.Start(); err != nil {
		return err
	}
	defer src.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case present, ok := <-src.Changes():
			if !ok {
				return nil
			}
			if err := p.Handle(ctx, present); err != nil {
				log.Warn().Err(err).Bool("present", present).Msg("automount action failed")
			}
		}
	}
}
