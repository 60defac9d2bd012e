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
	"crypto/md5"
	"fmt"

	"github.com/exascience/elcram/utils"
)

// special reference ids in container and slice headers
const (
	// UnmappedRefID marks unmapped or unplaced content.
	UnmappedRefID = -1
	// MultiRefID marks a slice whose records carry their own
	// reference ids in the RI data series.
	MultiRefID = -2
)

// noEmbeddedReference in a slice header means the slice relies on an
// external reference provider.
const noEmbeddedReference = -1

// A slice groups a run of records with their coded data blocks: one
// slice header block, one core block of bit codes, and the external
// blocks the container's encodings refer to.
type slice struct {
	refID         int32
	start         int32
	span          int32
	nRecords      int32
	recordCounter int64
	contentIDs    []int32
	embeddedRefID int32
	refMD5        [16]byte

	// container and index locate the slice in its stream, for error
	// reports.
	container int32
	index     int32

	core     *block
	external map[int32]*block
}

// readSlice parses a slice header block and the data blocks it
// announces. The index is the ordinal of the slice within its
// container.
func readSlice(r *byteReader, container, index int32) *slice {
	header := readBlock(r, container, index)
	if header.contentType != sliceHeaderBlock {
		panic(&MalformedHeaderError{
			Container: container,
			Slice:     index,
			Reason:    fmt.Sprintf("expected a slice header block, got content type %v", header.contentType),
		})
	}
	hr := newByteReader(header.data)
	s := &slice{
		refID:     hr.readITF8(),
		start:     hr.readITF8(),
		span:      hr.readITF8(),
		nRecords:  hr.readITF8(),
		container: container,
		index:     index,
	}
	s.recordCounter = hr.readLTF8()
	nBlocks := hr.readITF8()
	s.contentIDs = hr.readITF8Array()
	s.embeddedRefID = hr.readITF8()
	copy(s.refMD5[:], hr.readBytes(16))

	s.external = make(map[int32]*block)
	for i := int32(0); i < nBlocks; i++ {
		b := readBlock(r, container, index)
		switch b.contentType {
		case coreBlock:
			s.core = b
		case externalBlock:
			s.external[b.contentID] = b
		default:
			panic(&MalformedHeaderError{
				Container: container,
				Slice:     index,
				Reason:    fmt.Sprintf("unexpected content type %v in a slice", b.contentType),
			})
		}
	}
	if s.core == nil {
		panic(&MalformedHeaderError{Container: container, Slice: index, Reason: "slice without a core block"})
	}
	return s
}

// emptyReference stands in when no reference is available; replay
// against it yields N bases. Used for unmapped content and for
// containers written without reference compression.
type emptyReference struct{}

func (emptyReference) SeqLen() int32          { return 0 }
func (emptyReference) BaseAt(pos int32) byte  { return 'N' }
func (emptyReference) Range(_, _ int32) []byte { return nil }

// reference resolves the reference sequence for the given record
// reference id, preferring the slice's embedded reference block.
func (s *slice) reference(refID int32, refs ReferenceMap, h *compressionHeader) Reference {
	if s.embeddedRefID != noEmbeddedReference {
		if b, ok := s.external[s.embeddedRefID]; ok {
			return &embeddedReference{bases: b.data, start: s.start}
		}
	}
	if refID >= 0 && refs != nil {
		if ref := refs.Reference(refID); ref != nil {
			return ref
		}
	}
	if refID >= 0 && h.referenceRequired {
		panic(&MalformedHeaderError{
			Container: s.container,
			Slice:     s.index,
			Reason:    fmt.Sprintf("no reference sequence for reference id %v", refID),
		})
	}
	return emptyReference{}
}

// verifyReferenceMD5 checks the slice's reference checksum over its
// alignment span, when the slice declares one.
func (s *slice) verifyReferenceMD5(ref Reference) {
	if s.refMD5 == ([16]byte{}) || s.refID < 0 || s.span <= 0 {
		return
	}
	end := s.start - 1 + s.span
	if end > ref.SeqLen() {
		end = ref.SeqLen()
	}
	if s.start-1 >= end {
		return
	}
	if computed := md5.Sum(ref.Range(s.start-1, end)); computed != s.refMD5 {
		panic(&MalformedHeaderError{
			Container: s.container,
			Slice:     s.index,
			Reason:    fmt.Sprintf("reference checksum mismatch for span %v-%v", s.start, end),
		})
	}
}

// decodeRecords runs every declared data series over the slice's
// blocks and assembles the records row by row, reconstructing
// sequences by reference replay.
func (s *slice) decodeRecords(h *compressionHeader, refs ReferenceMap) []*Record {
	sr := &seriesReader{
		container: s.container,
		slice:     s.index,
		core:      newBitReader(s.core.data),
		external:  make(map[int32]*byteReader),
	}
	for id, b := range s.external {
		sr.external[id] = newByteReader(b.data)
	}

	var sliceRef Reference
	if s.refID != MultiRefID {
		sliceRef = s.reference(s.refID, refs, h)
		s.verifyReferenceMD5(sliceRef)
	}

	records := make([]*Record, 0, s.nRecords)
	prevStart := int32(0)
	for i := int32(0); i < s.nRecords; i++ {
		rec := &Record{}
		rec.Flag = uint16(h.seriesEncoding("BF", sr).decodeInt(sr))
		rec.CRAMFlags = byte(h.seriesEncoding("CF", sr).decodeInt(sr))

		rec.RefID = s.refID
		if s.refID == MultiRefID {
			rec.RefID = h.seriesEncoding("RI", sr).decodeInt(sr)
		}
		rec.ReadLength = h.seriesEncoding("RL", sr).decodeInt(sr)
		rec.Start = h.seriesEncoding("AP", sr).decodeInt(sr)
		if h.apDelta {
			rec.Start += prevStart
			prevStart = rec.Start
		}
		rec.ReadGroup = h.seriesEncoding("RG", sr).decodeInt(sr)

		if h.readNamesIncluded {
			rec.Name = string(h.seriesEncoding("RN", sr).decodeBytes(sr))
		}
		switch {
		case rec.CRAMFlags&Detached != 0:
			mf := h.seriesEncoding("MF", sr).decodeInt(sr)
			if mf&MateReversed != 0 {
				rec.Flag |= NextReversed
			}
			if mf&MateUnmapped != 0 {
				rec.Flag |= NextUnmapped
			}
			if !h.readNamesIncluded {
				rec.Name = string(h.seriesEncoding("RN", sr).decodeBytes(sr))
			}
			rec.MateRefID = h.seriesEncoding("NS", sr).decodeInt(sr)
			rec.MateStart = h.seriesEncoding("NP", sr).decodeInt(sr)
			rec.TemplateSize = h.seriesEncoding("TS", sr).decodeInt(sr)
		case rec.CRAMFlags&MateDownstream != 0:
			rec.DistanceToMate = h.seriesEncoding("NF", sr).decodeInt(sr)
		}

		tagLine := h.seriesEncoding("TL", sr).decodeInt(sr)
		if int(tagLine) >= len(h.tagDictionary) {
			panic(&MalformedHeaderError{Container: s.container, Slice: s.index, Reason: fmt.Sprintf("tag dictionary line %v out of range", tagLine)})
		}
		for _, key := range h.tagDictionary[tagLine] {
			e, ok := h.tags[key]
			if !ok {
				panic(&MalformedHeaderError{Container: s.container, Slice: s.index, Reason: fmt.Sprintf("no encoding declared for tag %v", tagKeyString(key))})
			}
			value := parseTagValue(byte(key), newByteReader(e.decodeBytes(sr)))
			rec.Tags.Set(utils.Intern(tagKeyString(key)), value)
		}

		if !rec.IsUnmapped() {
			s.decodeMappedTail(h, sr, rec, refs)
		} else {
			if rec.CRAMFlags&NoSequence == 0 {
				rec.Sequence = append([]byte(nil), h.seriesEncoding("BA", sr).decodeRaw(sr, int(rec.ReadLength))...)
			}
			if rec.CRAMFlags&QualitiesStored != 0 {
				rec.Qualities = append([]byte(nil), h.seriesEncoding("QS", sr).decodeRaw(sr, int(rec.ReadLength))...)
			}
		}
		records = append(records, rec)
	}
	return records
}

// decodeMappedTail decodes the feature list, mapping quality, and
// quality scores of a mapped record, then replays the features into
// the read sequence.
func (s *slice) decodeMappedTail(h *compressionHeader, sr *seriesReader, rec *Record, refs ReferenceMap) {
	ref := s.reference(rec.RefID, refs, h)

	nFeatures := h.seriesEncoding("FN", sr).decodeInt(sr)
	rec.Features = make([]Feature, 0, nFeatures)
	walk := newFeatureWalk(rec)
	prevPos := int32(0)
	for j := int32(0); j < nFeatures; j++ {
		f := Feature{Code: h.seriesEncoding("FC", sr).decodeByte(sr)}
		f.Position = prevPos + h.seriesEncoding("FP", sr).decodeInt(sr)
		prevPos = f.Position
		switch f.Code {
		case FeatureReadBase:
			f.Base = h.seriesEncoding("BA", sr).decodeByte(sr)
			f.Quality = h.seriesEncoding("QS", sr).decodeByte(sr)
		case FeatureSubstitution:
			code := byte(h.seriesEncoding("BS", sr).decodeInt(sr))
			refPos := walk.peek(&f)
			refBase := byte('N')
			if refPos >= 1 && refPos <= ref.SeqLen() {
				refBase = ref.BaseAt(refPos - 1)
			}
			f.Base = h.substitutionMatrix.base(refBase, code)
		case FeatureInsertion:
			f.Bytes = append([]byte(nil), h.seriesEncoding("IN", sr).decodeBytes(sr)...)
		case FeatureSoftClip:
			f.Bytes = append([]byte(nil), h.seriesEncoding("SC", sr).decodeBytes(sr)...)
		case FeatureBases:
			f.Bytes = append([]byte(nil), h.seriesEncoding("BB", sr).decodeBytes(sr)...)
		case FeatureQualities:
			f.Bytes = append([]byte(nil), h.seriesEncoding("QQ", sr).decodeBytes(sr)...)
		case FeatureDeletion:
			f.Length = h.seriesEncoding("DL", sr).decodeInt(sr)
		case FeatureRefSkip:
			f.Length = h.seriesEncoding("RS", sr).decodeInt(sr)
		case FeaturePadding:
			f.Length = h.seriesEncoding("PD", sr).decodeInt(sr)
		case FeatureHardClip:
			f.Length = h.seriesEncoding("HC", sr).decodeInt(sr)
		case FeatureInsertBase:
			f.Base = h.seriesEncoding("BA", sr).decodeByte(sr)
		case FeatureQuality:
			f.Quality = h.seriesEncoding("QS", sr).decodeByte(sr)
		default:
			panic(&UnsupportedError{What: "feature code", Value: int32(f.Code)})
		}
		walk.step(&f)
		rec.Features = append(rec.Features, f)
	}

	rec.MappingQuality = byte(h.seriesEncoding("MQ", sr).decodeInt(sr))
	if rec.CRAMFlags&QualitiesStored != 0 {
		rec.Qualities = append([]byte(nil), h.seriesEncoding("QS", sr).decodeRaw(sr, int(rec.ReadLength))...)
	}
	rec.replayFeatures(ref)
}

// tagKeyString renders a 3-byte tag key as name plus type character.
func tagKeyString(key int32) string {
	return string([]byte{byte(key >> 16), byte(key >> 8), byte(key)})
}
