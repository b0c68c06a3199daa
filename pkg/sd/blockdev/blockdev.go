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

// Package blockdev adapts an SD host controller to block-level reads and
// writes with presence checks and error classification.
//
// The Adapter is not safe for concurrent use. It is owned by the SD worker,
// which is the only caller of the storage stack.
package blockdev

import (
	"errors"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/rs/zerolog/log"
)

// BlockSize is the SD transfer unit in bytes.
const BlockSize = 512

// Status is the outcome of a block operation.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoCard
	StatusError
	StatusCRC
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoCard:
		return "no card"
	case StatusCRC:
		return "crc"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Code maps a block status onto the driver taxonomy. CRC and timeout stay
// distinct because they drive different policy upstream.
func (s Status) Code() status.Code {
	switch s {
	case StatusOK:
		return status.Ok
	case StatusNoCard:
		return status.NoCard
	case StatusCRC:
		return status.Crc
	case StatusTimeout:
		return status.Timeout
	default:
		return status.Io
	}
}

// Err returns nil for StatusOK and a coded error otherwise.
func (s Status) Err(op string) error {
	if s == StatusOK {
		return nil
	}
	return status.Wrap(s.Code(), op, "", errors.New("block device: "+s.String()))
}

// ErrorFlags is the controller's latched error register.
type ErrorFlags uint32

const (
	FlagCardRemoved ErrorFlags = 1 << iota
	FlagCRCFail
	FlagRxOverrun
	FlagTxUnderrun
	FlagTimeout
	FlagCommand
)

// Classify turns latched controller flags into a Status. Removal wins over
// data errors, data errors win over timeouts.
func Classify(flags ErrorFlags) Status {
	switch {
	case flags&FlagCardRemoved != 0:
		return StatusNoCard
	case flags&(FlagCRCFail|FlagRxOverrun|FlagTxUnderrun) != 0:
		return StatusCRC
	case flags&FlagTimeout != 0:
		return StatusTimeout
	default:
		return StatusError
	}
}

// Info describes the inserted card.
type Info struct {
	BlockCount uint64
	BlockSize  uint32
}

// Controller is the SD host controller collaborator.
type Controller interface {
	// Start (re)initializes the controller. Calling it twice is allowed.
	Start() error
	// Stop releases the controller.
	Stop()
	// Inserted reports card presence. Must be cheap.
	Inserted() bool
	// WriteProtected reports the card's write-protect state.
	WriteProtected() bool
	Connect() error
	Disconnect() error
	Read(sector uint32, buf []byte, count uint32) error
	Write(sector uint32, buf []byte, count uint32) error
	Sync() error
	Info() (Info, error)
	// FetchErrors returns and clears the latched error flags.
	FetchErrors() ErrorFlags
}

// Adapter wraps a Controller with presence and connection bookkeeping.
type Adapter struct {
	ctrl      Controller
	connected bool
}

// New returns an adapter over ctrl.
func New(ctrl Controller) *Adapter {
	return &Adapter{ctrl: ctrl}
}

// Init (re)starts the controller and drops any connection state.
func (a *Adapter) Init() {
	if a.connected {
		a.Disconnect()
	}
	if err := a.ctrl.Start(); err != nil {
		log.Warn().Err(err).Msg("sd controller start failed")
	}
	_ = a.ctrl.FetchErrors()
}

// Deinit stops the controller.
func (a *Adapter) Deinit() {
	a.Disconnect()
	a.ctrl.Stop()
}

// IsCardPresent is always callable.
func (a *Adapter) IsCardPresent() bool {
	return a.ctrl.Inserted()
}

// IsWriteProtected reports the media protection switch.
func (a *Adapter) IsWriteProtected() bool {
	return a.ctrl.Inserted() && a.ctrl.WriteProtected()
}

// IsConnected reports whether the card is connected.
func (a *Adapter) IsConnected() bool {
	return a.connected
}

// Connect brings up the card. Connecting twice is a no-op.
func (a *Adapter) Connect() Status {
	if !a.ctrl.Inserted() {
		a.connected = false
		return StatusNoCard
	}
	if a.connected {
		return StatusOK
	}
	if err := a.ctrl.Connect(); err != nil {
		st := Classify(a.ctrl.FetchErrors())
		log.Debug().Err(err).Stringer("status", st).Msg("sd connect failed")
		return st
	}
	_ = a.ctrl.FetchErrors()
	a.connected = true
	return StatusOK
}

// Disconnect drops the card connection.
func (a *Adapter) Disconnect() {
	if !a.connected {
		return
	}
	if err := a.ctrl.Disconnect(); err != nil {
		log.Debug().Err(err).Msg("sd disconnect failed")
	}
	a.connected = false
}

func (a *Adapter) ready(buf []byte, count uint32) Status {
	if !a.ctrl.Inserted() {
		a.connected = false
		return StatusNoCard
	}
	if count == 0 || uint64(len(buf)) < uint64(count)*BlockSize {
		return StatusError
	}
	return a.Connect()
}

// ReadBlocks reads count blocks starting at sector into buf.
func (a *Adapter) ReadBlocks(buf []byte, sector, count uint32) Status {
	if st := a.ready(buf, count); st != StatusOK {
		return st
	}
	err := a.ctrl.Read(sector, buf, count)
	return a.finish(err)
}

// WriteBlocks writes count blocks from buf starting at sector.
func (a *Adapter) WriteBlocks(buf []byte, sector, count uint32) Status {
	if st := a.ready(buf, count); st != StatusOK {
		return st
	}
	err := a.ctrl.Write(sector, buf, count)
	return a.finish(err)
}

// finish fetches and clears the controller flags after every transfer.
func (a *Adapter) finish(err error) Status {
	flags := a.ctrl.FetchErrors()
	if err == nil && flags == 0 {
		return StatusOK
	}
	st := Classify(flags)
	if st == StatusNoCard {
		a.connected = false
	}
	return st
}

// Sync flushes controller caches.
func (a *Adapter) Sync() Status {
	if !a.ctrl.Inserted() {
		a.connected = false
		return StatusNoCard
	}
	return a.finish(a.ctrl.Sync())
}

// GetInfo returns the card geometry.
func (a *Adapter) GetInfo() (Info, Status) {
	if !a.ctrl.Inserted() {
		return Info{}, StatusNoCard
	}
	info, err := a.ctrl.Info()
	if err != nil {
		return Info{}, a.finish(err)
	}
	return info, StatusOK
}
