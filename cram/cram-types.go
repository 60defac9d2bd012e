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
	"github.com/exascience/elcram/utils"
)

// BAM flag values, shared with the SAM/BAM formats.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

// CRAM record flags (the CF data series).
const (
	// QualitiesStored indicates quality scores are stored as a full
	// array rather than as quality features.
	QualitiesStored = 0x1
	// Detached indicates the mate is not in this slice; its position
	// fields are stored verbatim.
	Detached = 0x2
	// MateDownstream indicates the mate follows within this slice, at
	// the record distance stored in the NF series.
	MateDownstream = 0x4
	// NoSequence indicates the record stores no read bases.
	NoSequence = 0x8
)

// CRAM mate flags (the MF data series, for detached mates).
const (
	MateReversed = 0x1
	MateUnmapped = 0x2
)

// A Record is one alignment. Positions are 1-based; RefID indexes the
// reference sequence dictionary, -1 meaning unmapped/unplaced.
//
// Features describe how the read differs from the reference, ordered
// by ascending read position; Sequence and Qualities hold the
// materialized bases and scores. Decoding fills in all three; for
// encoding, Features is authoritative for mapped records wherever it
// overlaps with Sequence.
type Record struct {
	Name           string
	Flag           uint16
	CRAMFlags      byte
	RefID          int32
	Start          int32
	ReadLength     int32
	ReadGroup      int32
	MappingQuality byte

	MateRefID    int32
	MateStart    int32
	TemplateSize int32
	// DistanceToMate is the number of records between this record and
	// its mate in the same slice, when MateDownstream is set.
	DistanceToMate int32

	// Tags holds the optional fields, keyed by interned 3-character
	// symbols: the two-character tag name followed by its type byte.
	Tags utils.SmallMap

	Sequence  []byte
	Qualities []byte
	Features  []Feature
}

func (rec *Record) IsMultiple() bool      { return (rec.Flag & Multiple) != 0 }
func (rec *Record) IsProper() bool        { return (rec.Flag & Proper) != 0 }
func (rec *Record) IsUnmapped() bool      { return (rec.Flag & Unmapped) != 0 }
func (rec *Record) IsNextUnmapped() bool  { return (rec.Flag & NextUnmapped) != 0 }
func (rec *Record) IsReversed() bool      { return (rec.Flag & Reversed) != 0 }
func (rec *Record) IsNextReversed() bool  { return (rec.Flag & NextReversed) != 0 }
func (rec *Record) IsFirst() bool         { return (rec.Flag & First) != 0 }
func (rec *Record) IsLast() bool          { return (rec.Flag & Last) != 0 }
func (rec *Record) IsSecondary() bool     { return (rec.Flag & Secondary) != 0 }
func (rec *Record) IsQCFailed() bool      { return (rec.Flag & QCFailed) != 0 }
func (rec *Record) IsDuplicate() bool     { return (rec.Flag & Duplicate) != 0 }
func (rec *Record) IsSupplementary() bool { return (rec.Flag & Supplementary) != 0 }

// feature codes (the FC data series)
const (
	FeatureReadBase     = 'B' // base and quality score
	FeatureSubstitution = 'X' // base substituted for the reference base
	FeatureInsertion    = 'I' // inserted bases
	FeatureDeletion     = 'D' // deleted reference bases
	FeatureInsertBase   = 'i' // a single inserted base
	FeatureQuality      = 'Q' // a single quality score
	FeatureRefSkip      = 'N' // skipped reference bases
	FeatureSoftClip     = 'S' // soft-clipped bases
	FeaturePadding      = 'P' // silent deletion from padded reference
	FeatureHardClip     = 'H' // hard-clipped bases
	FeatureBases        = 'b' // a stretch of read bases
	FeatureQualities    = 'q' // a stretch of quality scores
)

// A Feature records one difference between a read and the reference
// it is aligned to. Position is the 1-based read position the feature
// applies at. Which of the remaining fields is meaningful depends on
// Code: Base for B, X, and i; Quality for B and Q; Bytes for I, S, b,
// and q; Length for D, N, P, and H.
type Feature struct {
	Code     byte
	Position int32
	Base     byte
	Quality  byte
	Bytes    []byte
	Length   int32
}

// readLength returns how many read bases the feature accounts for.
func (f *Feature) readLength() int32 {
	switch f.Code {
	case FeatureReadBase, FeatureSubstitution, FeatureInsertBase:
		return 1
	case FeatureInsertion, FeatureSoftClip, FeatureBases:
		return int32(len(f.Bytes))
	default:
		return 0
	}
}

// A Reference provides read-only access to one reference sequence, so
// records can be reconstructed from their features. Implementations
// must be safe for concurrent use.
type Reference interface {
	// SeqLen returns the number of bases in the sequence.
	SeqLen() int32
	// BaseAt returns the base at a 0-based offset.
	BaseAt(pos int32) byte
	// Range returns the bases in the 0-based half-open interval
	// [start, end).
	Range(start, end int32) []byte
}

// ReferenceMap resolves reference ids to sequences. A nil map is
// valid while decoding records whose slices embed their reference.
type ReferenceMap interface {
	// Reference returns the sequence for a reference id, or nil when
	// the id is unknown.
	Reference(refID int32) Reference
}

// embeddedReference serves a slice's embedded reference block, offset
// to the slice's alignment start.
type embeddedReference struct {
	bases []byte
	start int32 // 1-based position of bases[0]
}

func (ref *embeddedReference) SeqLen() int32 {
	return ref.start - 1 + int32(len(ref.bases))
}

func (ref *embeddedReference) BaseAt(pos int32) byte {
	pos -= ref.start - 1
	if pos < 0 || pos >= int32(len(ref.bases)) {
		return 'N'
	}
	return ref.bases[pos]
}

func (ref *embeddedReference) Range(start, end int32) []byte {
	result := make([]byte, 0, end-start)
	for pos := start; pos < end; pos++ {
		result = append(result, ref.BaseAt(pos))
	}
	return result
}
