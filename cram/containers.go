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
	"hash/crc32"
	"io"

	"github.com/exascience/elcram/internal"
)

// A Container is one independently decodable unit of a CRAM stream:
// a checksummed header followed by a compression header block and one
// or more slices. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 7.
type Container struct {
	RefID         int32
	Start         int32
	Span          int32
	NRecords      int32
	RecordCounter int64
	Bases         int64
	Landmarks     []int32

	// Index is the sequence number of the container in its stream,
	// for error reports.
	Index int32

	payload []byte
}

// the alignment start of the end-of-file sentinel container, "EOF"
// read as an integer
const eofAlignmentStart = 4542278

// eofMarker is the fixed serialization of the end-of-file container:
// an otherwise empty container at the sentinel position, carrying an
// empty compression header block.
var eofMarker = []byte{
	0x0f, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff,
	0x0f, 0xe0, 0x45, 0x4f, 0x46, 0x00, 0x00, 0x00,
	0x00, 0x01, 0x00, 0x05, 0xbd, 0xd9, 0x4f, 0x00,
	0x01, 0x00, 0x06, 0x06, 0x01, 0x00, 0x01, 0x00,
	0x01, 0x00, 0xee, 0x63, 0x01, 0x4b,
}

// IsEOF reports whether the container is the end-of-file sentinel.
func (c *Container) IsEOF() bool {
	return c.RefID == UnmappedRefID && c.Start == eofAlignmentStart &&
		c.NRecords == 0 && c.Bases == 0
}

// headerScanner reads container header fields from a byte stream,
// retaining the consumed bytes for checksum verification.
type headerScanner struct {
	r   io.Reader
	one [1]byte
	raw []byte
}

func (s *headerScanner) readByte() byte {
	internal.ReadFull(s.r, s.one[:])
	s.raw = append(s.raw, s.one[0])
	return s.one[0]
}

func (s *headerScanner) readBytes(n int) []byte {
	start := len(s.raw)
	for i := 0; i < n; i++ {
		s.readByte()
	}
	return s.raw[start:]
}

func itf8Width(b0 byte) int {
	switch {
	case b0 < 0x80:
		return 1
	case b0 < 0xC0:
		return 2
	case b0 < 0xE0:
		return 3
	case b0 < 0xF0:
		return 4
	default:
		return 5
	}
}

func ltf8Width(b0 byte) int {
	switch {
	case b0 < 0x80:
		return 1
	case b0 < 0xC0:
		return 2
	case b0 < 0xE0:
		return 3
	case b0 < 0xF0:
		return 4
	case b0 < 0xF8:
		return 5
	case b0 < 0xFC:
		return 6
	case b0 < 0xFE:
		return 7
	case b0 < 0xFF:
		return 8
	default:
		return 9
	}
}

func (s *headerScanner) itf8() int32 {
	start := len(s.raw)
	b0 := s.readByte()
	s.readBytes(itf8Width(b0) - 1)
	return newByteReader(s.raw[start:]).readITF8()
}

func (s *headerScanner) ltf8() int64 {
	start := len(s.raw)
	b0 := s.readByte()
	s.readBytes(ltf8Width(b0) - 1)
	return newByteReader(s.raw[start:]).readLTF8()
}

// readContainer reads one container, header and payload, from the
// stream. It returns nil at a clean end of stream, before any header
// byte; a partial header is a truncation error.
func readContainer(r io.Reader, index int32) *Container {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err == io.EOF {
		return nil
	} else if err != nil {
		panic(ErrTruncated)
	}
	s := &headerScanner{r: r, raw: lengthBytes[:4]}
	length := int32(uint32(lengthBytes[0]) | uint32(lengthBytes[1])<<8 | uint32(lengthBytes[2])<<16 | uint32(lengthBytes[3])<<24)
	if length < 0 {
		panic(&MalformedHeaderError{Container: index, Slice: -1, Reason: "negative container length"})
	}

	c := &Container{Index: index}
	c.RefID = s.itf8()
	c.Start = s.itf8()
	c.Span = s.itf8()
	c.NRecords = s.itf8()
	c.RecordCounter = s.ltf8()
	c.Bases = s.ltf8()
	nBlocks := s.itf8()
	nLandmarks := s.itf8()
	if nLandmarks < 0 {
		panic(&MalformedHeaderError{Container: index, Slice: -1, Reason: "negative landmark count"})
	}
	c.Landmarks = make([]int32, nLandmarks)
	for i := range c.Landmarks {
		c.Landmarks[i] = s.itf8()
	}
	_ = nBlocks

	computed := crc32.ChecksumIEEE(s.raw)
	var crcBytes [4]byte
	internal.ReadFull(r, crcBytes[:])
	stored := uint32(crcBytes[0]) | uint32(crcBytes[1])<<8 | uint32(crcBytes[2])<<16 | uint32(crcBytes[3])<<24
	if computed != stored {
		panic(&ChecksumError{Container: index, Slice: -1, ContentID: -1, Stored: stored, Computed: computed})
	}

	c.payload = make([]byte, length)
	internal.ReadFull(r, c.payload)
	return c
}

// appendContainer appends the serialized container: checksummed
// header, then the payload.
func appendContainer(out []byte, c *Container) []byte {
	start := len(out)
	out = appendUint32(out, uint32(len(c.payload)))
	out = appendITF8(out, c.RefID)
	out = appendITF8(out, c.Start)
	out = appendITF8(out, c.Span)
	out = appendITF8(out, c.NRecords)
	out = appendLTF8(out, c.RecordCounter)
	out = appendLTF8(out, c.Bases)
	out = appendITF8(out, c.blockCount())
	out = appendITF8Array(out, c.Landmarks)
	out = appendUint32(out, crc32.ChecksumIEEE(out[start:]))
	return append(out, c.payload...)
}

// blockCount counts the blocks in the container payload.
func (c *Container) blockCount() int32 {
	r := newByteReader(c.payload)
	n := int32(0)
	for r.len() > 0 {
		r.readByte() // method
		r.readByte() // content type
		r.readITF8() // content id
		compressedSize := r.readITF8()
		r.readITF8() // raw size
		r.readBytes(int(compressedSize) + 4)
		n++
	}
	return n
}

// Records decodes all records of the container: the compression
// header block first, then every slice in order.
func (c *Container) Records(refs ReferenceMap) (records []*Record, err error) {
	defer catchErrors(&err)
	if c.IsEOF() {
		return nil, nil
	}
	r := newByteReader(c.payload)
	first := readBlock(r, c.Index, -1)
	if first.contentType != compressionHeaderBlock {
		panic(&MalformedHeaderError{
			Container: c.Index,
			Slice:     -1,
			Reason:    fmt.Sprintf("expected a compression header block, got content type %v", first.contentType),
		})
	}
	h := parseCompressionHeader(newByteReader(first.data), c.Index)
	for index := int32(0); r.len() > 0; index++ {
		s := readSlice(r, c.Index, index)
		records = append(records, s.decodeRecords(h, refs)...)
	}
	return records, nil
}

// encodeContainer builds a container from the given records, chunked
// into slices of at most recordsPerSlice records.
func encodeContainer(records []*Record, refs ReferenceMap, profile *encodingProfile,
	recordsPerSlice int, embedReference bool, index int32, recordCounter int64) *Container {

	plan := planContainer(records, refs, profile)

	c := &Container{
		Index:         index,
		NRecords:      int32(len(records)),
		RecordCounter: recordCounter,
	}
	c.RefID = UnmappedRefID
	if len(records) > 0 {
		c.RefID = records[0].RefID
	}
	for _, rec := range records {
		if rec.RefID != c.RefID {
			c.RefID = MultiRefID
			break
		}
	}
	for _, rec := range records {
		c.Bases += int64(rec.ReadLength)
	}

	var payload []byte
	payload = plan.header.appendCompressionHeader(payload, plan.usage)
	headerBlock := &block{contentType: compressionHeaderBlock, data: payload}
	payload = appendBlock(nil, headerBlock, methodGzip)

	counter := recordCounter
	for offset := 0; offset < len(records); offset += recordsPerSlice {
		end := offset + recordsPerSlice
		if end > len(records) {
			end = len(records)
		}
		chunk := records[offset:end]
		c.Landmarks = append(c.Landmarks, int32(len(payload)))
		payload = encodeSlice(payload, chunk, plan, refs, profile, embedReference, counter)
		counter += int64(len(chunk))
	}
	c.payload = payload

	if c.RefID >= 0 {
		start, end := int32(0), int32(0)
		for _, rec := range records {
			if rec.IsUnmapped() {
				continue
			}
			recEnd := rec.Start + referenceSpan(rec, encodeFeatures(rec, refs)) - 1
			if start == 0 || rec.Start < start {
				start = rec.Start
			}
			if recEnd > end {
				end = recEnd
			}
		}
		c.Start = start
		if start > 0 {
			c.Span = end - start + 1
		}
	}
	return c
}
