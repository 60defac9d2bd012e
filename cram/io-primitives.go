// elCRAM: a high-performance library for reading and writing CRAM files.
// Copyright (c) 2019-2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elcram/blob/master/LICENSE.txt>.

package cram

import (
	"encoding/binary"
	"log"
)

// byteReader is a cursor over a fully materialized byte buffer. All
// read methods panic with ErrTruncated when the buffer runs out; the
// exported entry points of this package recover such panics into
// error returns.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) len() int {
	return len(r.data) - r.pos
}

func (r *byteReader) readByte() byte {
	if r.pos >= len(r.data) {
		panic(ErrTruncated)
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *byteReader) peekByte() byte {
	if r.pos >= len(r.data) {
		panic(ErrTruncated)
	}
	return r.data[r.pos]
}

func (r *byteReader) readBytes(n int) []byte {
	if n < 0 || r.pos+n > len(r.data) {
		panic(ErrTruncated)
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

func (r *byteReader) readUint32() uint32 {
	return binary.LittleEndian.Uint32(r.readBytes(4))
}

// readITF8 reads an integer in the ITF8 variable-length encoding. The
// number of leading 1 bits in the first byte determines how many of
// up to 4 additional bytes follow. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 2.3.
func (r *byteReader) readITF8() int32 {
	b0 := uint32(r.readByte())
	switch {
	case b0 < 0x80:
		return int32(b0)
	case b0 < 0xC0:
		return int32((b0<<8 | uint32(r.readByte())) & 0x3FFF)
	case b0 < 0xE0:
		b := r.readBytes(2)
		return int32((b0<<16 | uint32(b[0])<<8 | uint32(b[1])) & 0x1FFFFF)
	case b0 < 0xF0:
		b := r.readBytes(3)
		return int32((b0<<24 | uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])) & 0x0FFFFFFF)
	default:
		b := r.readBytes(4)
		return int32((b0&0x0F)<<28 | uint32(b[0])<<20 | uint32(b[1])<<12 | uint32(b[2])<<4 | uint32(b[3])&0x0F)
	}
}

// readLTF8 reads an integer in the LTF8 variable-length encoding, the
// 64-bit sibling of ITF8. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 2.3.
func (r *byteReader) readLTF8() int64 {
	b0 := uint64(r.readByte())
	switch {
	case b0 < 0x80:
		return int64(b0)
	case b0 < 0xC0:
		return int64((b0<<8 | uint64(r.readByte())) & 0x3FFF)
	case b0 < 0xE0:
		b := r.readBytes(2)
		return int64((b0<<16 | uint64(b[0])<<8 | uint64(b[1])) & 0x1FFFFF)
	case b0 < 0xF0:
		b := r.readBytes(3)
		return int64((b0<<24 | uint64(b[0])<<16 | uint64(b[1])<<8 | uint64(b[2])) & 0x0FFFFFFF)
	case b0 < 0xF8:
		b := r.readBytes(4)
		return int64((b0&0x07)<<32 | uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]))
	case b0 < 0xFC:
		b := r.readBytes(5)
		return int64((b0&0x03)<<40 | uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4]))
	case b0 < 0xFE:
		b := r.readBytes(6)
		return int64((b0&0x01)<<48 | uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 | uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5]))
	case b0 < 0xFF:
		b := r.readBytes(7)
		return int64(uint64(b[0])<<48 | uint64(b[1])<<40 | uint64(b[2])<<32 | uint64(b[3])<<24 | uint64(b[4])<<16 | uint64(b[5])<<8 | uint64(b[6]))
	default:
		b := r.readBytes(8)
		return int64(binary.BigEndian.Uint64(b))
	}
}

// readITF8Array reads an ITF8 count followed by that many ITF8 values.
func (r *byteReader) readITF8Array() []int32 {
	n := r.readITF8()
	if n < 0 {
		panic(ErrTruncated)
	}
	values := make([]int32, n)
	for i := range values {
		values[i] = r.readITF8()
	}
	return values
}

func appendUint32(out []byte, v uint32) []byte {
	return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// appendITF8 appends the ITF8 encoding of v.
func appendITF8(out []byte, v int32) []byte {
	u := uint32(v)
	switch {
	case u < 1<<7:
		return append(out, byte(u))
	case u < 1<<14:
		return append(out, byte(u>>8)|0x80, byte(u))
	case u < 1<<21:
		return append(out, byte(u>>16)|0xC0, byte(u>>8), byte(u))
	case u < 1<<28:
		return append(out, byte(u>>24)|0xE0, byte(u>>16), byte(u>>8), byte(u))
	default:
		return append(out, byte(u>>28)|0xF0, byte(u>>20), byte(u>>12), byte(u>>4), byte(u)&0x0F)
	}
}

// appendLTF8 appends the LTF8 encoding of v.
func appendLTF8(out []byte, v int64) []byte {
	u := uint64(v)
	switch {
	case u < 1<<7:
		return append(out, byte(u))
	case u < 1<<14:
		return append(out, byte(u>>8)|0x80, byte(u))
	case u < 1<<21:
		return append(out, byte(u>>16)|0xC0, byte(u>>8), byte(u))
	case u < 1<<28:
		return append(out, byte(u>>24)|0xE0, byte(u>>16), byte(u>>8), byte(u))
	case u < 1<<35:
		return append(out, byte(u>>32)|0xF0, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case u < 1<<42:
		return append(out, byte(u>>40)|0xF8, byte(u>>32), byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case u < 1<<49:
		return append(out, byte(u>>48)|0xFC, byte(u>>40), byte(u>>32), byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case u < 1<<56:
		return append(out, 0xFE, byte(u>>48), byte(u>>40), byte(u>>32), byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	default:
		out = append(out, 0xFF)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		return append(out, b[:]...)
	}
}

func appendITF8Array(out []byte, values []int32) []byte {
	out = appendITF8(out, int32(len(values)))
	for _, v := range values {
		out = appendITF8(out, v)
	}
	return out
}

// bitReader reads MSB-first bits from the core block of a slice.
type bitReader struct {
	data []byte
	pos  int
	cur  uint32
	n    uint
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) readBit() uint32 {
	if r.n == 0 {
		if r.pos >= len(r.data) {
			panic(ErrTruncated)
		}
		r.cur = uint32(r.data[r.pos])
		r.pos++
		r.n = 8
	}
	r.n--
	return (r.cur >> r.n) & 1
}

func (r *bitReader) readBits(n uint) int32 {
	if n > 32 {
		log.Panicf("invalid bit count %v in readBits", n)
	}
	var v uint32
	for ; n > 0; n-- {
		v = v<<1 | r.readBit()
	}
	return int32(v)
}

// bitWriter writes MSB-first bits for the core block of a slice.
type bitWriter struct {
	buf []byte
	cur byte
	n   uint
}

func (w *bitWriter) writeBit(bit uint32) {
	w.cur = w.cur<<1 | byte(bit&1)
	w.n++
	if w.n == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.n = 0
	}
}

func (w *bitWriter) writeBits(v int32, n uint) {
	if n > 32 {
		log.Panicf("invalid bit count %v in writeBits", n)
	}
	for ; n > 0; n-- {
		w.writeBit(uint32(v) >> (n - 1))
	}
}

// flush pads the last byte with zero bits and returns the buffer.
func (w *bitWriter) flush() []byte {
	if w.n > 0 {
		w.buf = append(w.buf, w.cur<<(8-w.n))
		w.cur = 0
		w.n = 0
	}
	return w.buf
}
