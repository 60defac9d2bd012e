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

// The rANS 4x8 coder compresses a whole block payload at a time with
// four interleaved rANS states and static frequency tables
// transmitted ahead of the coded bytes, either context-free (order-0)
// or conditioned on the previous byte (order-1). The stream layout
// is: order byte, compressed size, uncompressed size (both u32,
// little-endian), frequency tables, coded bytes. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 14.
//
// State updates are bit-exact: a single dropped renormalization
// desynchronizes the remainder of the stream, so decode and encode
// must mirror each other operation for operation.

const (
	ransOrder0 = 0
	ransOrder1 = 1

	// states renormalize one byte at a time against this lower bound
	ransLowBound = 1 << 23

	// frequencies are normalized to a 12-bit total
	ransFreqShift = 12
	ransFreqTotal = 1 << ransFreqShift
)

// normalizeFreqs scales raw symbol counts to sum to ransFreqTotal,
// keeping every observed symbol at a frequency of at least 1.
func normalizeFreqs(counts *[256]int64) (freqs [256]int32) {
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return
	}
	var sum int32
	for i, c := range counts {
		if c == 0 {
			continue
		}
		f := int32(c * ransFreqTotal / total)
		if f == 0 {
			f = 1
		}
		freqs[i] = f
		sum += f
	}
	// assign rounding drift to the most frequent symbol
	for sum != ransFreqTotal {
		best := -1
		for i, f := range freqs {
			if f > 1 && (best < 0 || f > freqs[best]) {
				best = i
			}
		}
		if sum < ransFreqTotal {
			freqs[best]++
			sum++
		} else {
			freqs[best]--
			sum--
		}
	}
	return
}

func cumulativeFreqs(freqs *[256]int32) (cums [256]int32) {
	var c int32
	for i, f := range freqs {
		cums[i] = c
		c += f
	}
	return
}

// appendFreqs serializes one frequency row: observed symbols in
// ascending order with runs of consecutive symbols collapsed,
// followed by their ITF8 frequencies, terminated by a zero symbol.
func appendFreqs(out []byte, freqs *[256]int32) []byte {
	rle := 0
	for j := 0; j < 256; j++ {
		if freqs[j] == 0 {
			continue
		}
		if rle > 0 {
			rle--
		} else {
			out = append(out, byte(j))
			if j > 0 && freqs[j-1] > 0 {
				for rle = j + 1; rle < 256 && freqs[rle] > 0; rle++ {
				}
				rle -= j + 1
				out = append(out, byte(rle))
			}
		}
		out = appendITF8(out, freqs[j])
	}
	return append(out, 0)
}

// parseFreqs reads a frequency row written by appendFreqs.
func parseFreqs(r *byteReader, freqs *[256]int32) {
	// symbol lists are strictly ascending, so a zero byte can only
	// be the very first symbol; later zeros terminate the row
	rle := 0
	j := int(r.readByte())
	for {
		freqs[j] = r.readITF8()
		if rle > 0 {
			rle--
			j++
			continue
		}
		prev := j
		j = int(r.readByte())
		if j == 0 {
			return
		}
		if j == prev+1 {
			rle = int(r.readByte())
		}
	}
}

type ransEncState struct {
	x uint32
}

// put encodes one symbol, emitting renormalization bytes to tmp in
// reverse stream order.
func (s *ransEncState) put(tmp []byte, freq, cum int32) []byte {
	xMax := uint32((ransLowBound >> ransFreqShift) << 8 * uint32(freq))
	for s.x >= xMax {
		tmp = append(tmp, byte(s.x))
		s.x >>= 8
	}
	s.x = (s.x/uint32(freq))<<ransFreqShift + uint32(cum) + s.x%uint32(freq)
	return tmp
}

type ransDecState struct {
	x uint32
}

// get returns the 12-bit slot of the current state.
func (s *ransDecState) get() int32 {
	return int32(s.x & (ransFreqTotal - 1))
}

// advance consumes the decoded symbol and renormalizes from the byte
// stream.
func (s *ransDecState) advance(r *byteReader, freq, cum int32) {
	s.x = uint32(freq)*(s.x>>ransFreqShift) + s.x&(ransFreqTotal-1) - uint32(cum)
	for s.x < ransLowBound {
		s.x = s.x<<8 | uint32(r.readByte())
	}
}

// ransCompress compresses in with the rANS 4x8 coder of the given
// order (0 or 1).
func ransCompress(order byte, in []byte) []byte {
	out := []byte{order}
	out = appendUint32(out, 0) // compressed size, patched below
	out = appendUint32(out, uint32(len(in)))
	if len(in) == 0 {
		return out
	}
	var body []byte
	if order == ransOrder0 {
		body = ransCompress0(in)
	} else {
		body = ransCompress1(in)
	}
	out = append(out, body...)
	out[1] = byte(len(body))
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body) >> 16)
	out[4] = byte(len(body) >> 24)
	return out
}

// ransUncompress reverses ransCompress.
func ransUncompress(in []byte) []byte {
	r := newByteReader(in)
	order := r.readByte()
	compressedSize := int(r.readUint32())
	rawSize := int(r.readUint32())
	if compressedSize != r.len() {
		panic(ErrTruncated)
	}
	if rawSize == 0 {
		return []byte{}
	}
	switch order {
	case ransOrder0:
		return ransUncompress0(r, rawSize)
	case ransOrder1:
		return ransUncompress1(r, rawSize)
	default:
		panic(&UnsupportedError{What: "rANS order", Value: int32(order)})
	}
}

func ransCompress0(in []byte) []byte {
	var counts [256]int64
	for _, b := range in {
		counts[b]++
	}
	freqs := normalizeFreqs(&counts)
	cums := cumulativeFreqs(&freqs)

	out := appendFreqs(nil, &freqs)

	// encode back to front; renormalization bytes and final states
	// are written reversed and flipped at the end
	var states [4]ransEncState
	for k := range states {
		states[k].x = ransLowBound
	}
	var tmp []byte
	for i := len(in) - 1; i >= 0; i-- {
		b := in[i]
		tmp = states[i&3].put(tmp, freqs[b], cums[b])
	}
	for k := 3; k >= 0; k-- {
		x := states[k].x
		tmp = append(tmp, byte(x>>24), byte(x>>16), byte(x>>8), byte(x))
	}
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return append(out, tmp...)
}

func ransUncompress0(r *byteReader, rawSize int) []byte {
	var freqs [256]int32
	parseFreqs(r, &freqs)
	cums := cumulativeFreqs(&freqs)
	var slots [ransFreqTotal]byte
	for j := 0; j < 256; j++ {
		for c := cums[j]; c < cums[j]+freqs[j]; c++ {
			slots[c] = byte(j)
		}
	}

	var states [4]ransDecState
	for k := range states {
		states[k].x = r.readUint32()
	}
	out := make([]byte, rawSize)
	for i := range out {
		s := &states[i&3]
		b := slots[s.get()]
		out[i] = b
		s.advance(r, freqs[b], cums[b])
	}
	return out
}

// order-1 segment bounds: four quarters, the last one taking the
// remainder; each state owns one quarter and conditions on the
// previous byte within it.
func ransSegment(k, n int) (start, end int) {
	n4 := n / 4
	start = k * n4
	if k == 3 {
		end = n
	} else {
		end = start + n4
	}
	return
}

func ransCompress1(in []byte) []byte {
	var counts [256][256]int64
	for k := 0; k < 4; k++ {
		start, end := ransSegment(k, len(in))
		last := byte(0)
		for _, b := range in[start:end] {
			counts[last][b]++
			last = b
		}
	}
	var freqs [256][256]int32
	var cums [256][256]int32
	var used [256]bool
	for ctx := range counts {
		rowUsed := false
		for _, c := range counts[ctx] {
			if c > 0 {
				rowUsed = true
				break
			}
		}
		if rowUsed {
			used[ctx] = true
			freqs[ctx] = normalizeFreqs(&counts[ctx])
			cums[ctx] = cumulativeFreqs(&freqs[ctx])
		}
	}

	// outer context list uses the same run-collapsed symbol layout
	// as a frequency row, with an inner row per context
	var out []byte
	rle := 0
	for ctx := 0; ctx < 256; ctx++ {
		if !used[ctx] {
			continue
		}
		if rle > 0 {
			rle--
		} else {
			out = append(out, byte(ctx))
			if ctx > 0 && used[ctx-1] {
				for rle = ctx + 1; rle < 256 && used[rle]; rle++ {
				}
				rle -= ctx + 1
				out = append(out, byte(rle))
			}
		}
		out = appendFreqs(out, &freqs[ctx])
	}
	out = append(out, 0)

	var states [4]ransEncState
	for k := range states {
		states[k].x = ransLowBound
	}
	var tmp []byte
	encode := func(k, pos, segStart int) {
		b := in[pos]
		ctx := byte(0)
		if pos > segStart {
			ctx = in[pos-1]
		}
		tmp = states[k].put(tmp, freqs[ctx][b], cums[ctx][b])
	}
	n4 := len(in) / 4
	start3, end3 := ransSegment(3, len(in))
	for pos := end3 - 1; pos >= start3+n4; pos-- {
		encode(3, pos, start3)
	}
	for i := n4 - 1; i >= 0; i-- {
		for k := 3; k >= 0; k-- {
			segStart, _ := ransSegment(k, len(in))
			encode(k, segStart+i, segStart)
		}
	}
	for k := 3; k >= 0; k-- {
		x := states[k].x
		tmp = append(tmp, byte(x>>24), byte(x>>16), byte(x>>8), byte(x))
	}
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return append(out, tmp...)
}

func ransUncompress1(r *byteReader, rawSize int) []byte {
	var freqs [256][256]int32
	var cums [256][256]int32
	slots := make(map[int][]byte)

	rle := 0
	ctx := int(r.readByte())
	for {
		parseFreqs(r, &freqs[ctx])
		cums[ctx] = cumulativeFreqs(&freqs[ctx])
		row := make([]byte, ransFreqTotal)
		for j := 0; j < 256; j++ {
			for c := cums[ctx][j]; c < cums[ctx][j]+freqs[ctx][j]; c++ {
				row[c] = byte(j)
			}
		}
		slots[ctx] = row
		if rle > 0 {
			rle--
			ctx++
			continue
		}
		prev := ctx
		ctx = int(r.readByte())
		if ctx == 0 {
			break
		}
		if ctx == prev+1 {
			rle = int(r.readByte())
		}
	}

	var states [4]ransDecState
	for k := range states {
		states[k].x = r.readUint32()
	}
	out := make([]byte, rawSize)
	var last [4]byte
	decode := func(k, pos int) {
		s := &states[k]
		ctx := last[k]
		row := slots[int(ctx)]
		if row == nil {
			panic(ErrTruncated)
		}
		b := row[s.get()]
		out[pos] = b
		s.advance(r, freqs[ctx][b], cums[ctx][b])
		last[k] = b
	}
	n4 := rawSize / 4
	for i := 0; i < n4; i++ {
		for k := 0; k < 4; k++ {
			segStart, _ := ransSegment(k, rawSize)
			decode(k, segStart+i)
		}
	}
	start3, _ := ransSegment(3, rawSize)
	for pos := start3 + n4; pos < rawSize; pos++ {
		decode(3, pos)
	}
	return out
}
