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

// The adaptive arithmetic coder is the second whole-block entropy
// coder. Unlike the rANS coder it transmits no frequency tables:
// encoder and decoder maintain identical adaptive symbol models,
// context-free (order-0) or conditioned on the previous byte
// (order-1), updated after every coded symbol. The stream layout is:
// order byte, uncompressed size (ITF8), range-coded bytes.

const (
	// renormalize when the range drops below 2^24
	rangeCoderTop = 1 << 24

	// adaptive model parameters: per-symbol increment and the total
	// at which all counts are halved
	arithModelStep    = 16
	arithModelRescale = 1 << 14
)

// rangeEncoder is a carry-aware byte-oriented range coder, the
// encoding half.
type rangeEncoder struct {
	low     uint64
	rng     uint32
	cache   byte
	carries int
	out     []byte
}

func newRangeEncoder() *rangeEncoder {
	return &rangeEncoder{rng: 0xFFFFFFFF}
}

func (e *rangeEncoder) encode(cum, freq, total uint32) {
	r := e.rng / total
	e.low += uint64(cum) * uint64(r)
	e.rng = r * freq
	for e.rng < rangeCoderTop {
		e.shiftLow()
		e.rng <<= 8
	}
}

// shiftLow emits the oldest byte of low, delaying emission while a
// carry may still propagate into it. The first emitted byte is the
// initial empty cache; nested coding intervals guarantee no carry can
// reach it, so it is always zero and the decoder skips it.
func (e *rangeEncoder) shiftLow() {
	if uint32(e.low) < 0xFF000000 || e.low>>32 != 0 {
		carry := byte(e.low >> 32)
		e.out = append(e.out, e.cache+carry)
		for ; e.carries > 0; e.carries-- {
			e.out = append(e.out, 0xFF+carry)
		}
		e.cache = byte(e.low >> 24)
	} else {
		e.carries++
	}
	e.low = (e.low << 8) & 0xFFFFFFFF
}

// finish flushes the remaining state of low.
func (e *rangeEncoder) finish() []byte {
	for i := 0; i < 5; i++ {
		e.shiftLow()
	}
	return e.out
}

// rangeDecoder is the decoding half of the range coder.
type rangeDecoder struct {
	code uint32
	rng  uint32
	in   *byteReader
	r    uint32
}

func newRangeDecoder(in *byteReader) *rangeDecoder {
	d := &rangeDecoder{rng: 0xFFFFFFFF, in: in}
	// the first emitted byte is always the empty cache; skip it
	d.in.readByte()
	for i := 0; i < 4; i++ {
		d.code = d.code<<8 | uint32(d.in.readByte())
	}
	return d
}

// freq returns the slot of the current code under the given total.
func (d *rangeDecoder) freq(total uint32) uint32 {
	d.r = d.rng / total
	f := d.code / d.r
	if f >= total {
		f = total - 1
	}
	return f
}

// update consumes the symbol occupying [cum, cum+freq).
func (d *rangeDecoder) update(cum, freq uint32) {
	d.code -= cum * d.r
	d.rng = d.r * freq
	for d.rng < rangeCoderTop {
		d.code = d.code<<8 | uint32(d.in.readByte())
		d.rng <<= 8
	}
}

// arithModel is an adaptive frequency model over the byte alphabet.
// Counts start uniform and grow with every coded symbol; halving at
// the rescale threshold keeps the model adaptive to local statistics.
type arithModel struct {
	counts [256]uint32
	total  uint32
}

func newArithModel() *arithModel {
	m := new(arithModel)
	for i := range m.counts {
		m.counts[i] = 1
	}
	m.total = 256
	return m
}

func (m *arithModel) bump(sym byte) {
	m.counts[sym] += arithModelStep
	m.total += arithModelStep
	if m.total >= arithModelRescale {
		m.total = 0
		for i := range m.counts {
			m.counts[i] = m.counts[i]/2 + 1
			m.total += m.counts[i]
		}
	}
}

func (m *arithModel) encodeSymbol(e *rangeEncoder, sym byte) {
	var cum uint32
	for i := 0; i < int(sym); i++ {
		cum += m.counts[i]
	}
	e.encode(cum, m.counts[sym], m.total)
	m.bump(sym)
}

func (m *arithModel) decodeSymbol(d *rangeDecoder) byte {
	f := d.freq(m.total)
	var cum uint32
	sym := 0
	for cum+m.counts[sym] <= f {
		cum += m.counts[sym]
		sym++
	}
	d.update(cum, m.counts[sym])
	m.bump(byte(sym))
	return byte(sym)
}

// arithCompress compresses in with the adaptive arithmetic coder of
// the given order (0 or 1).
func arithCompress(order byte, in []byte) []byte {
	out := []byte{order}
	out = appendITF8(out, int32(len(in)))
	if len(in) == 0 {
		return out
	}
	e := newRangeEncoder()
	if order == ransOrder0 {
		m := newArithModel()
		for _, b := range in {
			m.encodeSymbol(e, b)
		}
	} else {
		var models [256]*arithModel
		last := byte(0)
		for _, b := range in {
			if models[last] == nil {
				models[last] = newArithModel()
			}
			models[last].encodeSymbol(e, b)
			last = b
		}
	}
	return append(out, e.finish()...)
}

// arithUncompress reverses arithCompress.
func arithUncompress(in []byte) []byte {
	r := newByteReader(in)
	order := r.readByte()
	rawSize := int(r.readITF8())
	if rawSize == 0 {
		return []byte{}
	}
	if order != ransOrder0 && order != ransOrder1 {
		panic(&UnsupportedError{What: "arithmetic coder order", Value: int32(order)})
	}
	d := newRangeDecoder(r)
	out := make([]byte, rawSize)
	if order == ransOrder0 {
		m := newArithModel()
		for i := range out {
			out[i] = m.decodeSymbol(d)
		}
	} else {
		var models [256]*arithModel
		last := byte(0)
		for i := range out {
			if models[last] == nil {
				models[last] = newArithModel()
			}
			b := models[last].decodeSymbol(d)
			out[i] = b
			last = b
		}
	}
	return out
}
