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
	"fmt"
	"math/bits"
)

// Encoding identifiers. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 13.
const (
	EncodingNull           = 0
	EncodingExternal       = 1
	EncodingGolomb         = 2
	EncodingHuffman        = 3
	EncodingByteArrayLen   = 4
	EncodingByteArrayStop  = 5
	EncodingBeta           = 6
	EncodingSubexponential = 7
	EncodingGolombRice     = 8
	EncodingGamma          = 9
)

// An Encoding describes how the values of one data series or tag are
// coded, and which block supplies the coded bytes: the shared core
// block for the bit codecs, or a numbered external block. Encodings
// form a closed set of variants; codec-specific parameters live in a
// shared struct rather than behind an interface so that decode and
// encode can dispatch with exhaustive switches.
type Encoding struct {
	ID int32

	// ContentID is the external block the series draws its bytes
	// from, for the external and byte-array-stop encodings.
	ContentID int32

	// Alphabet and BitLengths describe a canonical huffman code.
	Alphabet   []int32
	BitLengths []int32

	// Lengths and Values are the sub-encodings of byte-array-len.
	Lengths *Encoding
	Values  *Encoding

	// StopByte terminates byte-array-stop items.
	StopByte byte

	// Offset is subtracted from coded values by beta, gamma,
	// subexponential and Golomb codes.
	Offset int32
	// Length is the bit width of the beta encoding.
	Length int32
	// K is the threshold parameter of the subexponential encoding.
	K int32
	// M is the Golomb modulus; a power of two for Golomb-Rice.
	M int32

	huff *huffmanCodec
}

// parseEncoding reads an encoding descriptor: codec id, parameter
// byte count, and codec-specific parameters. Unknown codec ids are
// tolerated because the parameter byte count tells us how much to
// skip; they only become an error when a record actually needs their
// values.
func parseEncoding(r *byteReader) *Encoding {
	e := &Encoding{ID: r.readITF8()}
	params := newByteReader(r.readBytes(int(r.readITF8())))
	switch e.ID {
	case EncodingNull:
	case EncodingExternal:
		e.ContentID = params.readITF8()
	case EncodingGolomb, EncodingGolombRice:
		e.Offset = params.readITF8()
		e.M = params.readITF8()
		if e.ID == EncodingGolombRice {
			e.M = 1 << uint(e.M)
		}
	case EncodingHuffman:
		e.Alphabet = params.readITF8Array()
		e.BitLengths = params.readITF8Array()
	case EncodingByteArrayLen:
		e.Lengths = parseEncoding(params)
		e.Values = parseEncoding(params)
	case EncodingByteArrayStop:
		e.StopByte = params.readByte()
		e.ContentID = params.readITF8()
	case EncodingBeta:
		e.Offset = params.readITF8()
		e.Length = params.readITF8()
	case EncodingSubexponential:
		e.Offset = params.readITF8()
		e.K = params.readITF8()
	case EncodingGamma:
		e.Offset = params.readITF8()
	}
	return e
}

// appendEncoding appends the serialized descriptor of e.
func appendEncoding(out []byte, e *Encoding) []byte {
	var params []byte
	switch e.ID {
	case EncodingNull:
	case EncodingExternal:
		params = appendITF8(params, e.ContentID)
	case EncodingGolomb:
		params = appendITF8(params, e.Offset)
		params = appendITF8(params, e.M)
	case EncodingGolombRice:
		params = appendITF8(params, e.Offset)
		params = appendITF8(params, int32(bits.TrailingZeros32(uint32(e.M))))
	case EncodingHuffman:
		params = appendITF8Array(params, e.Alphabet)
		params = appendITF8Array(params, e.BitLengths)
	case EncodingByteArrayLen:
		params = appendEncoding(params, e.Lengths)
		params = appendEncoding(params, e.Values)
	case EncodingByteArrayStop:
		params = append(params, e.StopByte)
		params = appendITF8(params, e.ContentID)
	case EncodingBeta:
		params = appendITF8(params, e.Offset)
		params = appendITF8(params, e.Length)
	case EncodingSubexponential:
		params = appendITF8(params, e.Offset)
		params = appendITF8(params, e.K)
	case EncodingGamma:
		params = appendITF8(params, e.Offset)
	default:
		panic(&UnsupportedError{What: "encoding", Value: e.ID})
	}
	out = appendITF8(out, e.ID)
	out = appendITF8(out, int32(len(params)))
	return append(out, params...)
}

// seriesReader demultiplexes the decoded core and external block
// payloads of one slice into per-series value streams.
type seriesReader struct {
	container int32
	slice     int32
	core      *bitReader
	external  map[int32]*byteReader
}

func (s *seriesReader) ext(id int32) *byteReader {
	r, ok := s.external[id]
	if !ok {
		panic(&MalformedHeaderError{
			Container: s.container,
			Slice:     s.slice,
			Reason:    fmt.Sprintf("encoding refers to missing external block %v", id),
		})
	}
	return r
}

// seriesWriter accumulates the core and external block payloads of
// one slice under construction.
type seriesWriter struct {
	core     bitWriter
	external map[int32]*extBuffer
	order    []int32
}

type extBuffer struct {
	data []byte
}

func newSeriesWriter() *seriesWriter {
	return &seriesWriter{external: make(map[int32]*extBuffer)}
}

func (s *seriesWriter) ext(id int32) *extBuffer {
	buf, ok := s.external[id]
	if !ok {
		buf = new(extBuffer)
		s.external[id] = buf
		s.order = append(s.order, id)
	}
	return buf
}

func (e *Encoding) huffman() *huffmanCodec {
	if e.huff == nil {
		e.huff = newHuffmanCodec(e.Alphabet, e.BitLengths)
	}
	return e.huff
}

// decodeInt reads the next integer value of this series.
func (e *Encoding) decodeInt(s *seriesReader) int32 {
	switch e.ID {
	case EncodingExternal:
		return s.ext(e.ContentID).readITF8()
	case EncodingHuffman:
		return e.huffman().decode(s.core)
	case EncodingBeta:
		return s.core.readBits(uint(e.Length)) - e.Offset
	case EncodingGamma:
		z := uint(0)
		for s.core.readBit() == 0 {
			z++
		}
		return (1<<z | s.core.readBits(z)) - e.Offset
	case EncodingSubexponential:
		u := int32(0)
		for s.core.readBit() == 1 {
			u++
		}
		if u == 0 {
			return s.core.readBits(uint(e.K)) - e.Offset
		}
		b := uint(u + e.K - 1)
		return (1<<b | s.core.readBits(b)) - e.Offset
	case EncodingGolomb, EncodingGolombRice:
		q := int32(0)
		for s.core.readBit() == 1 {
			q++
		}
		return q*e.M + e.decodeGolombRemainder(s.core) - e.Offset
	case EncodingNull:
		return 0
	default:
		panic(&UnsupportedError{What: "integer encoding", Value: e.ID})
	}
}

func (e *Encoding) decodeGolombRemainder(core *bitReader) int32 {
	if e.M <= 1 {
		return 0
	}
	b := uint(bits.Len32(uint32(e.M - 1)))
	cutoff := int32(1)<<b - e.M
	r := core.readBits(b - 1)
	if r >= cutoff {
		r = r<<1 | int32(core.readBit())
		r -= cutoff
	}
	return r
}

// encodeInt writes the next integer value of this series.
func (e *Encoding) encodeInt(s *seriesWriter, v int32) {
	switch e.ID {
	case EncodingExternal:
		buf := s.ext(e.ContentID)
		buf.data = appendITF8(buf.data, v)
	case EncodingHuffman:
		e.huffman().encode(&s.core, v)
	case EncodingBeta:
		s.core.writeBits(v+e.Offset, uint(e.Length))
	case EncodingGamma:
		n := v + e.Offset
		if n <= 0 {
			panic(fmt.Errorf("value %v out of range for gamma encoding with offset %v", v, e.Offset))
		}
		z := uint(bits.Len32(uint32(n))) - 1
		s.core.writeBits(0, z)
		s.core.writeBits(n, z+1)
	case EncodingSubexponential:
		n := v + e.Offset
		if n < 0 {
			panic(fmt.Errorf("value %v out of range for subexponential encoding with offset %v", v, e.Offset))
		}
		var b uint
		var u int32
		if n < 1<<uint(e.K) {
			b = uint(e.K)
		} else {
			b = uint(bits.Len32(uint32(n))) - 1
			u = int32(b) - e.K + 1
		}
		for ; u > 0; u-- {
			s.core.writeBit(1)
		}
		s.core.writeBit(0)
		s.core.writeBits(n&(1<<b-1), b)
	case EncodingGolomb, EncodingGolombRice:
		n := v + e.Offset
		if n < 0 {
			panic(fmt.Errorf("value %v out of range for Golomb encoding with offset %v", v, e.Offset))
		}
		for q := n / e.M; q > 0; q-- {
			s.core.writeBit(1)
		}
		s.core.writeBit(0)
		e.encodeGolombRemainder(&s.core, n%e.M)
	case EncodingNull:
	default:
		panic(&UnsupportedError{What: "integer encoding", Value: e.ID})
	}
}

func (e *Encoding) encodeGolombRemainder(core *bitWriter, r int32) {
	if e.M <= 1 {
		return
	}
	b := uint(bits.Len32(uint32(e.M - 1)))
	cutoff := int32(1)<<b - e.M
	if r < cutoff {
		core.writeBits(r, b-1)
	} else {
		core.writeBits(r+cutoff, b)
	}
}

// decodeByte reads the next single-byte value of this series.
func (e *Encoding) decodeByte(s *seriesReader) byte {
	switch e.ID {
	case EncodingExternal:
		return s.ext(e.ContentID).readByte()
	case EncodingHuffman:
		return byte(e.huffman().decode(s.core))
	case EncodingBeta:
		return byte(s.core.readBits(uint(e.Length)) - e.Offset)
	default:
		panic(&UnsupportedError{What: "byte encoding", Value: e.ID})
	}
}

// encodeByte writes the next single-byte value of this series.
func (e *Encoding) encodeByte(s *seriesWriter, b byte) {
	switch e.ID {
	case EncodingExternal:
		buf := s.ext(e.ContentID)
		buf.data = append(buf.data, b)
	case EncodingHuffman:
		e.huffman().encode(&s.core, int32(b))
	case EncodingBeta:
		s.core.writeBits(int32(b)+e.Offset, uint(e.Length))
	default:
		panic(&UnsupportedError{What: "byte encoding", Value: e.ID})
	}
}

// decodeBytes reads the next byte-array value of this series.
func (e *Encoding) decodeBytes(s *seriesReader) []byte {
	switch e.ID {
	case EncodingByteArrayLen:
		return e.Values.decodeRaw(s, int(e.Lengths.decodeInt(s)))
	case EncodingByteArrayStop:
		r := s.ext(e.ContentID)
		start := r.pos
		for r.readByte() != e.StopByte {
		}
		return r.data[start : r.pos-1]
	default:
		panic(&UnsupportedError{What: "byte array encoding", Value: e.ID})
	}
}

// decodeRaw reads exactly n bytes of this series.
func (e *Encoding) decodeRaw(s *seriesReader, n int) []byte {
	if e.ID == EncodingExternal {
		return s.ext(e.ContentID).readBytes(n)
	}
	p := make([]byte, n)
	for i := range p {
		p[i] = e.decodeByte(s)
	}
	return p
}

// encodeBytes writes the next byte-array value of this series.
func (e *Encoding) encodeBytes(s *seriesWriter, p []byte) {
	switch e.ID {
	case EncodingByteArrayLen:
		e.Lengths.encodeInt(s, int32(len(p)))
		e.Values.encodeRaw(s, p)
	case EncodingByteArrayStop:
		buf := s.ext(e.ContentID)
		buf.data = append(buf.data, p...)
		buf.data = append(buf.data, e.StopByte)
	default:
		panic(&UnsupportedError{What: "byte array encoding", Value: e.ID})
	}
}

// encodeRaw writes all bytes of p to this series.
func (e *Encoding) encodeRaw(s *seriesWriter, p []byte) {
	if e.ID == EncodingExternal {
		buf := s.ext(e.ContentID)
		buf.data = append(buf.data, p...)
		return
	}
	for _, b := range p {
		e.encodeByte(s, b)
	}
}

// externalEncoding returns an external encoding bound to the given
// block content id.
func externalEncoding(contentID int32) *Encoding {
	return &Encoding{ID: EncodingExternal, ContentID: contentID}
}

// huffmanEncoding returns a huffman encoding for the given canonical
// code description. An alphabet of size one codes its sole symbol in
// zero bits.
func huffmanEncoding(alphabet, bitLengths []int32) *Encoding {
	return &Encoding{ID: EncodingHuffman, Alphabet: alphabet, BitLengths: bitLengths}
}

// byteArrayStopEncoding returns a byte-array-stop encoding reading
// from the given external block until the stop byte.
func byteArrayStopEncoding(stop byte, contentID int32) *Encoding {
	return &Encoding{ID: EncodingByteArrayStop, StopByte: stop, ContentID: contentID}
}

// byteArrayLenEncoding returns a byte-array-len encoding with the
// given length and value sub-encodings.
func byteArrayLenEncoding(lengths, values *Encoding) *Encoding {
	return &Encoding{ID: EncodingByteArrayLen, Lengths: lengths, Values: values}
}
