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

// Package status holds the flat result taxonomy and driver state shared by
// every layer of the SD storage stack.
//
// Layers return plain errors. A domain failure is an *Error carrying a Code,
// and errors.Is matches on the code alone, so callers can write
// errors.Is(err, status.ErrCrc) regardless of which layer produced it.
package status

import (
	"errors"
	"strings"
)

// Code is the flat result taxonomy returned by every driver operation.
type Code uint8

const (
	Ok Code = iota
	NoCard
	NotMounted
	Busy
	Io
	Crc
	FsError
	InvalidParam
	Full
	Corrupted
	Fault
	Timeout
	Context
)

// NumCodes is the number of defined codes, used to size per-code counters.
const NumCodes = int(Context) + 1

var codeNames = [NumCodes]string{
	Ok:           "ok",
	NoCard:       "no card",
	NotMounted:   "not mounted",
	Busy:         "busy",
	Io:           "i/o error",
	Crc:          "crc mismatch",
	FsError:      "filesystem error",
	InvalidParam: "invalid parameter",
	Full:         "volume full or access denied",
	Corrupted:    "corrupted",
	Fault:        "fault",
	Timeout:      "timeout",
	Context:      "forbidden calling context",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

// State is the driver state machine value.
type State uint8

const (
	StateInitializing State = iota
	StateUnmounted
	StateMountedRW
	StateMountedRO
	StateDegraded
	StateFault
	// StateBusy is a transient marker set while an I/O request executes.
	StateBusy
)

var stateNames = [...]string{
	StateInitializing: "initializing",
	StateUnmounted:    "unmounted",
	StateMountedRW:    "mounted-rw",
	StateMountedRO:    "mounted-ro",
	StateDegraded:     "degraded",
	StateFault:        "fault",
	StateBusy:         "busy",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Mounted reports whether the state describes a usable mounted volume.
func (s State) Mounted() bool {
	return s == StateMountedRW || s == StateMountedRO || s == StateDegraded
}

// Error is a coded driver failure.
type Error struct {
	Err  error
	Op   string
	Path string
	Code Code
}

// New returns an *Error with no underlying cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap returns an *Error carrying err as its cause. A nil err is allowed.
func Wrap(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrNoCard       = New(NoCard, "")
	ErrNotMounted   = New(NotMounted, "")
	ErrBusy         = New(Busy, "")
	ErrIo           = New(Io, "")
	ErrCrc          = New(Crc, "")
	ErrFsError      = New(FsError, "")
	ErrInvalidParam = New(InvalidParam, "")
	ErrFull         = New(Full, "")
	ErrCorrupted    = New(Corrupted, "")
	ErrFault        = New(Fault, "")
	ErrTimeout      = New(Timeout, "")
	ErrContext      = New(Context, "")
)

// CodeOf extracts the code carried by err. A nil error is Ok and any error
// that is not an *Error is treated as a filesystem error.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return FsError
}

// FromCode converts a code back into an error, nil for Ok.
func FromCode(code Code, op string) error {
	if code == Ok {
		return nil
	}
	return New(code, op)
}
