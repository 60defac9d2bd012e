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
	"log"
	"sort"
)

// huffmanCodec is a canonical huffman code over a small alphabet,
// built from stored (symbol, code length) pairs. Only the code
// lengths are transmitted; codes are assigned canonically, in order
// of increasing length and, within one length, increasing symbol
// value. See https://samtools.github.io/hts-specs/CRAMv3.pdf -
// Section 13.4.
type huffmanCodec struct {
	single      bool
	singleValue int32

	// symbols sorted by (length, symbol); lengths describes the
	// canonical code ranges per bit length.
	symbols []int32
	lengths []huffmanLength
	codes   map[int32]huffmanCode
}

type huffmanLength struct {
	bits      uint
	firstCode uint32
	offset    int32
	count     int32
}

type huffmanCode struct {
	code uint32
	bits uint
}

func newHuffmanCodec(alphabet, bitLengths []int32) *huffmanCodec {
	if len(alphabet) != len(bitLengths) || len(alphabet) == 0 {
		log.Panicf("invalid huffman code description: %v symbols, %v code lengths", len(alphabet), len(bitLengths))
	}
	h := new(huffmanCodec)
	if len(alphabet) == 1 {
		// a sole symbol is coded in zero bits; the value count
		// alone determines how often it occurs
		h.single = true
		h.singleValue = alphabet[0]
		return h
	}

	type pair struct {
		symbol int32
		bits   uint
	}
	pairs := make([]pair, len(alphabet))
	for i, symbol := range alphabet {
		if bitLengths[i] <= 0 || bitLengths[i] > 32 {
			log.Panicf("invalid huffman code length %v for symbol %v", bitLengths[i], symbol)
		}
		pairs[i] = pair{symbol: symbol, bits: uint(bitLengths[i])}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].bits != pairs[j].bits {
			return pairs[i].bits < pairs[j].bits
		}
		return pairs[i].symbol < pairs[j].symbol
	})

	h.symbols = make([]int32, len(pairs))
	h.codes = make(map[int32]huffmanCode, len(pairs))
	var code uint32
	prevBits := pairs[0].bits
	for i, p := range pairs {
		code <<= p.bits - prevBits
		prevBits = p.bits
		h.symbols[i] = p.symbol
		h.codes[p.symbol] = huffmanCode{code: code, bits: p.bits}
		if n := len(h.lengths); n > 0 && h.lengths[n-1].bits == p.bits {
			h.lengths[n-1].count++
		} else {
			h.lengths = append(h.lengths, huffmanLength{
				bits:      p.bits,
				firstCode: code,
				offset:    int32(i),
				count:     1,
			})
		}
		code++
	}
	return h
}

// decode walks the canonical code ranges bit by bit.
func (h *huffmanCodec) decode(core *bitReader) int32 {
	if h.single {
		return h.singleValue
	}
	var code uint32
	var bits uint
	for _, l := range h.lengths {
		for ; bits < l.bits; bits++ {
			code = code<<1 | core.readBit()
		}
		if index := int32(code - l.firstCode); index >= 0 && index < l.count {
			return h.symbols[l.offset+index]
		}
	}
	panic(&MalformedHeaderError{Container: -1, Slice: -1, Reason: "invalid huffman code in core block"})
}

// encode emits the canonical code of the given symbol.
func (h *huffmanCodec) encode(core *bitWriter, symbol int32) {
	if h.single {
		if symbol != h.singleValue {
			log.Panicf("symbol %v not in single-symbol huffman alphabet", symbol)
		}
		return
	}
	c, ok := h.codes[symbol]
	if !ok {
		log.Panicf("symbol %v not in huffman alphabet", symbol)
	}
	for n := c.bits; n > 0; n-- {
		core.writeBit(c.code >> (n - 1))
	}
}
