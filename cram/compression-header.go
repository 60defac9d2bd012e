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
	"sort"

	"github.com/willf/bitset"
)

// The compression header is the first block of every container with
// alignment data. It fixes, for the whole container, how each data
// series and each tag is encoded and which external block feeds it.
// See https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 8.4.

// the fixed data series, in the order records consume them
var dataSeriesKeys = []string{
	"BF", "CF", "RI", "RL", "AP", "RG", "RN", "MF", "NS", "NP",
	"TS", "NF", "TL", "FN", "FC", "FP", "DL", "BB", "QQ", "BS",
	"BA", "QS", "IN", "RS", "PD", "HC", "SC", "MQ",
}

var dataSeriesIndex = func() map[string]uint {
	m := make(map[string]uint, len(dataSeriesKeys))
	for i, key := range dataSeriesKeys {
		m[key] = uint(i)
	}
	return m
}()

// seriesUsage tracks which data series the records of a container
// actually exercise, so the compression header only declares
// encodings for those.
type seriesUsage struct {
	set *bitset.BitSet
}

func newSeriesUsage() seriesUsage {
	return seriesUsage{set: bitset.New(uint(len(dataSeriesKeys)))}
}

func (u seriesUsage) mark(key string) {
	u.set.Set(dataSeriesIndex[key])
}

func (u seriesUsage) used(key string) bool {
	return u.set.Test(dataSeriesIndex[key])
}

// substitutionMatrix ranks, for every reference base, the four
// possible substituted bases by observed frequency; substitution
// features then only store the 2-bit rank. Bases are ordered A, C, G,
// T, N; each byte packs the ranks of the four non-reference bases in
// that order, most significant bits first.
type substitutionMatrix [5]byte

var substitutionBases = [5]byte{'A', 'C', 'G', 'T', 'N'}

// defaultSubstitutionMatrix ranks substituted bases in alphabet order.
var defaultSubstitutionMatrix = substitutionMatrix{0x1B, 0x1B, 0x1B, 0x1B, 0x1B}

func substitutionBaseIndex(base byte) int {
	switch base {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	default:
		return 4
	}
}

// base returns the substituted base for the given reference base and
// 2-bit rank code.
func (m substitutionMatrix) base(refBase byte, code byte) byte {
	r := substitutionBaseIndex(refBase)
	slot := 0
	for i := 0; i < 5; i++ {
		if i == r {
			continue
		}
		if (m[r]>>uint(6-2*slot))&3 == uint8(code) {
			return substitutionBases[i]
		}
		slot++
	}
	panic(&MalformedHeaderError{Container: -1, Slice: -1, Reason: fmt.Sprintf("invalid substitution code %v", code)})
}

// code returns the 2-bit rank code for substituting readBase for
// refBase.
func (m substitutionMatrix) code(refBase, readBase byte) byte {
	r := substitutionBaseIndex(refBase)
	slot := 0
	for i := 0; i < 5; i++ {
		if i == r {
			continue
		}
		if int(substitutionBaseIndex(readBase)) == i {
			return (m[r] >> uint(6-2*slot)) & 3
		}
		slot++
	}
	panic(fmt.Sprintf("substitution of %c for %c is not representable", readBase, refBase))
}

// tagKey packs a two-character tag name and its type byte into the
// integer key used by the tag encoding map.
func tagKey(name string, typeByte byte) int32 {
	return int32(name[0])<<16 | int32(name[1])<<8 | int32(typeByte)
}

// compressionHeader describes how one container codes its records.
type compressionHeader struct {
	// preservation map
	readNamesIncluded  bool
	apDelta            bool
	referenceRequired  bool
	substitutionMatrix substitutionMatrix

	// tagDictionary lists, per TL value, the tag keys present on a
	// record, in the order their values are stored.
	tagDictionary [][]int32

	series map[string]*Encoding
	tags   map[int32]*Encoding
}

func newCompressionHeader() *compressionHeader {
	return &compressionHeader{
		readNamesIncluded:  true,
		apDelta:            true,
		referenceRequired:  true,
		substitutionMatrix: defaultSubstitutionMatrix,
		series:             make(map[string]*Encoding),
		tags:               make(map[int32]*Encoding),
	}
}

// parseCompressionHeader parses the payload of a compression header
// block. Unknown data series keys are skipped over; the declared
// parameter sizes of their encodings keep the parse synchronized.
func parseCompressionHeader(r *byteReader, container int32) *compressionHeader {
	h := newCompressionHeader()

	// preservation map
	parseHeaderMap(r, func(r *byteReader) {
		key := string(r.readBytes(2))
		switch key {
		case "RN":
			h.readNamesIncluded = r.readByte() != 0
		case "AP":
			h.apDelta = r.readByte() != 0
		case "RR":
			h.referenceRequired = r.readByte() != 0
		case "SM":
			copy(h.substitutionMatrix[:], r.readBytes(5))
		case "TD":
			h.tagDictionary = parseTagDictionary(r, container)
		default:
			panic(&MalformedHeaderError{Container: container, Slice: -1, Reason: fmt.Sprintf("unknown preservation map key %v", key)})
		}
	})

	// data series encoding map
	parseHeaderMap(r, func(r *byteReader) {
		key := string(r.readBytes(2))
		h.series[key] = parseEncoding(r)
	})

	// tag encoding map
	parseHeaderMap(r, func(r *byteReader) {
		h.tags[r.readITF8()] = parseEncoding(r)
	})

	return h
}

// parseHeaderMap reads the size/count preamble shared by the three
// compression header maps and invokes entry for each element. The
// byte size, not the entry count, determines where the map ends, so
// trailing bytes after the declared entries do not desynchronize the
// following map.
func parseHeaderMap(r *byteReader, entry func(r *byteReader)) {
	size := r.readITF8()
	if size < 0 {
		panic(ErrTruncated)
	}
	m := newByteReader(r.readBytes(int(size)))
	for n := m.readITF8(); n > 0; n-- {
		entry(m)
	}
}

func appendHeaderMap(out []byte, n int32, entries []byte) []byte {
	inner := appendITF8(nil, n)
	inner = append(inner, entries...)
	out = appendITF8(out, int32(len(inner)))
	return append(out, inner...)
}

// parseTagDictionary parses the TD value: a length-prefixed byte
// array of \0-terminated lines, each line a run of 3-byte tag keys.
func parseTagDictionary(r *byteReader, container int32) [][]int32 {
	raw := r.readBytes(int(r.readITF8()))
	dictionary := [][]int32{}
	line := []int32{}
	for i := 0; i < len(raw); {
		if raw[i] == 0 {
			dictionary = append(dictionary, line)
			line = []int32{}
			i++
			continue
		}
		if i+3 > len(raw) {
			panic(&MalformedHeaderError{Container: container, Slice: -1, Reason: "truncated tag dictionary entry"})
		}
		line = append(line, int32(raw[i])<<16|int32(raw[i+1])<<8|int32(raw[i+2]))
		i += 3
	}
	if len(line) > 0 {
		panic(&MalformedHeaderError{Container: container, Slice: -1, Reason: "unterminated tag dictionary line"})
	}
	return dictionary
}

func appendTagDictionary(out []byte, dictionary [][]int32) []byte {
	var raw []byte
	for _, line := range dictionary {
		for _, key := range line {
			raw = append(raw, byte(key>>16), byte(key>>8), byte(key))
		}
		raw = append(raw, 0)
	}
	out = appendITF8(out, int32(len(raw)))
	return append(out, raw...)
}

// appendCompressionHeader appends the serialized compression header
// payload. Only series marked in usage are declared; tag encodings
// are emitted in sorted key order so output is deterministic.
func (h *compressionHeader) appendCompressionHeader(out []byte, usage seriesUsage) []byte {
	// preservation map
	var entries []byte
	n := int32(0)
	appendBool := func(key string, value bool) {
		entries = append(entries, key...)
		if value {
			entries = append(entries, 1)
		} else {
			entries = append(entries, 0)
		}
		n++
	}
	appendBool("RN", h.readNamesIncluded)
	appendBool("AP", h.apDelta)
	appendBool("RR", h.referenceRequired)
	entries = append(entries, "SM"...)
	entries = append(entries, h.substitutionMatrix[:]...)
	n++
	if h.tagDictionary != nil {
		entries = append(entries, "TD"...)
		entries = appendTagDictionary(entries, h.tagDictionary)
		n++
	}
	out = appendHeaderMap(out, n, entries)

	// data series encoding map
	entries, n = nil, 0
	for _, key := range dataSeriesKeys {
		if e, ok := h.series[key]; ok && usage.used(key) {
			entries = append(entries, key...)
			entries = appendEncoding(entries, e)
			n++
		}
	}
	out = appendHeaderMap(out, n, entries)

	// tag encoding map
	entries, n = nil, 0
	keys := make([]int32, 0, len(h.tags))
	for key := range h.tags {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		entries = appendITF8(entries, key)
		entries = appendEncoding(entries, h.tags[key])
		n++
	}
	return appendHeaderMap(out, n, entries)
}

// seriesEncoding returns the declared encoding of a data series, or
// panics when the container never declared it.
func (h *compressionHeader) seriesEncoding(key string, sr *seriesReader) *Encoding {
	e, ok := h.series[key]
	if !ok {
		panic(&MalformedHeaderError{
			Container: sr.container,
			Slice:     sr.slice,
			Reason:    fmt.Sprintf("no encoding declared for data series %v", key),
		})
	}
	return e
}
