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

package project

import (
	"encoding/binary"
)

const (
	PatternMagic   uint32 = 0x42525450
	PatternVersion uint32 = 0x00010001
	SampleMagic    uint32 = 0x42525350
	SampleVersion  uint32 = 0x00010001
)

// HeaderSize is the encoded header length. The payload follows directly.
const HeaderSize = 20

// Header precedes every pattern and sample record on the card. All fields
// are little-endian with no padding.
type Header struct {
	Magic      uint32
	Version    uint32
	Size       uint32
	Generation uint32
	CRC        uint32
}

// Put encodes h into b, which must hold HeaderSize bytes.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.Size)
	binary.LittleEndian.PutUint32(b[12:], h.Generation)
	binary.LittleEndian.PutUint32(b[16:], h.CRC)
}

// Bytes returns the encoded header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		Version:    binary.LittleEndian.Uint32(b[4:]),
		Size:       binary.LittleEndian.Uint32(b[8:]),
		Generation: binary.LittleEndian.Uint32(b[12:]),
		CRC:        binary.LittleEndian.Uint32(b[16:]),
	}
}

// crcPoly is the reflected IEEE polynomial.
const crcPoly = 0xEDB88320

// CRC32 continues crc over p bit by bit, with the input and output
// complemented. Passing 0 starts a new checksum and chunks may be fed in
// sequence. The result equals hash/crc32.ChecksumIEEE over the whole input.
func CRC32(crc uint32, p []byte) uint32 {
	crc = ^crc
	for _, b := range p {
		crc ^= uint32(b)
		for range 8 {
			mask := -(crc & 1)
			crc = (crc >> 1) ^ (crcPoly & mask)
		}
	}
	return ^crc
}
