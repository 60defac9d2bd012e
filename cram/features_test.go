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
	"bytes"
	"testing"
)

type testReference []byte

func (ref testReference) SeqLen() int32 { return int32(len(ref)) }

func (ref testReference) BaseAt(pos int32) byte {
	if pos < 0 || pos >= int32(len(ref)) {
		return 'N'
	}
	return ref[pos]
}

func (ref testReference) Range(start, end int32) []byte {
	if end > int32(len(ref)) {
		end = int32(len(ref))
	}
	if start >= end {
		return nil
	}
	return ref[start:end]
}

type testReferences []testReference

func (refs testReferences) Reference(refID int32) Reference {
	if refID < 0 || int(refID) >= len(refs) {
		return nil
	}
	return refs[refID]
}

func replay(t *testing.T, rec *Record, ref Reference, sequence string) {
	t.Helper()
	rec.replayFeatures(ref)
	if string(rec.Sequence) != sequence {
		t.Errorf("feature replay yields %q instead of %q", rec.Sequence, sequence)
	}
}

func TestReplaySubstitution(t *testing.T) {
	ref := testReference("ACGTACGTAC")
	rec := &Record{
		Start:      1,
		ReadLength: 10,
		Features:   []Feature{{Code: FeatureSubstitution, Position: 6, Base: 'G'}},
	}
	replay(t, rec, ref, "ACGTAGGTAC")
}

func TestReplayInsertionAndDeletion(t *testing.T) {
	ref := testReference("ACGTACGTACGT")
	rec := &Record{
		Start:      1,
		ReadLength: 10,
		Features: []Feature{
			{Code: FeatureInsertion, Position: 3, Bytes: []byte("TT")},
			{Code: FeatureDeletion, Position: 7, Length: 2},
		},
	}
	// read: AC TT GT [skip AC] GTAC
	replay(t, rec, ref, "ACTTGTGTAC")
}

func TestReplaySoftClip(t *testing.T) {
	ref := testReference("ACGTACGT")
	rec := &Record{
		Start:      3,
		ReadLength: 8,
		Features:   []Feature{{Code: FeatureSoftClip, Position: 1, Bytes: []byte("NNN")}},
	}
	replay(t, rec, ref, "NNNGTACG")
}

// hard clips and padding consume neither read nor reference bases
func TestReplayHardClipAndPadding(t *testing.T) {
	ref := testReference("ACGTACGT")
	rec := &Record{
		Start:      1,
		ReadLength: 4,
		Features: []Feature{
			{Code: FeatureHardClip, Position: 1, Length: 5},
			{Code: FeaturePadding, Position: 3, Length: 2},
		},
	}
	replay(t, rec, ref, "ACGT")
}

func TestReplayRefSkip(t *testing.T) {
	ref := testReference("ACGTACGTAC")
	rec := &Record{
		Start:      1,
		ReadLength: 6,
		Features:   []Feature{{Code: FeatureRefSkip, Position: 4, Length: 3}},
	}
	replay(t, rec, ref, "ACGGTA")
}

func TestReplayQualityFeatures(t *testing.T) {
	ref := testReference("ACGT")
	rec := &Record{
		Start:      1,
		ReadLength: 4,
		Features: []Feature{
			{Code: FeatureQuality, Position: 2, Quality: 30},
			{Code: FeatureQualities, Position: 3, Bytes: []byte{40, 41}},
		},
	}
	replay(t, rec, ref, "ACGT")
	if !bytes.Equal(rec.Qualities, []byte{noQuality, 30, 40, 41}) {
		t.Errorf("quality replay yields %v", rec.Qualities)
	}
}

func TestReplayReadBase(t *testing.T) {
	ref := testReference("ACGT")
	rec := &Record{
		Start:      1,
		ReadLength: 4,
		Features:   []Feature{{Code: FeatureReadBase, Position: 2, Base: 'T', Quality: 25}},
	}
	replay(t, rec, ref, "ATGT")
	if rec.Qualities[1] != 25 {
		t.Errorf("read base quality replay yields %v", rec.Qualities)
	}
}

func TestReplayBeyondReference(t *testing.T) {
	ref := testReference("AC")
	rec := &Record{Start: 1, ReadLength: 5}
	replay(t, rec, ref, "ACNNN")
}

func TestReplayOutOfBounds(t *testing.T) {
	ref := testReference("ACGTACGT")
	rec := &Record{
		Name:       "bad",
		Start:      1,
		ReadLength: 4,
		Features:   []Feature{{Code: FeatureInsertion, Position: 4, Bytes: []byte("GGG")}},
	}
	defer func() {
		if _, ok := recover().(*FeatureOutOfBoundsError); !ok {
			t.Error("a feature beyond the read end does not report a FeatureOutOfBoundsError")
		}
	}()
	rec.replayFeatures(ref)
}

func TestSubstitutionFeatures(t *testing.T) {
	ref := testReference("ACGTACGTAC")
	rec := &Record{
		Start:      2,
		ReadLength: 6,
		Sequence:   []byte("CGAACG"),
	}
	features := rec.substitutionFeatures(ref)
	if len(features) != 1 {
		t.Fatalf("deriving substitutions yields %v features", len(features))
	}
	f := features[0]
	if f.Code != FeatureSubstitution || f.Position != 3 || f.Base != 'A' {
		t.Errorf("deriving substitutions yields %+v", f)
	}
}

// soft-masked references carry lowercase bases; a case difference
// alone is not a substitution
func TestSubstitutionFeaturesSoftMaskedReference(t *testing.T) {
	ref := testReference("acgtacgtac")
	rec := &Record{
		Start:      1,
		ReadLength: 10,
		Sequence:   []byte("ACGTAGGTAC"),
	}
	features := rec.substitutionFeatures(ref)
	if len(features) != 1 {
		t.Fatalf("deriving substitutions against a soft-masked reference yields %v features", len(features))
	}
	f := features[0]
	if f.Code != FeatureSubstitution || f.Position != 6 || f.Base != 'G' {
		t.Errorf("deriving substitutions yields %+v", f)
	}
	if code := defaultSubstitutionMatrix.code(ref.BaseAt(5), f.Base); code > 3 {
		t.Errorf("substituting %c for %c yields code %v", f.Base, ref.BaseAt(5), code)
	}
}

func TestSubstitutionMatrix(t *testing.T) {
	m := defaultSubstitutionMatrix
	for _, refBase := range []byte{'A', 'C', 'G', 'T', 'N'} {
		for _, readBase := range []byte{'A', 'C', 'G', 'T', 'N'} {
			if readBase == refBase {
				continue
			}
			code := m.code(refBase, readBase)
			if code > 3 {
				t.Errorf("substituting %c for %c yields code %v", readBase, refBase, code)
			}
			if base := m.base(refBase, code); base != readBase {
				t.Errorf("substitution of %c for %c round trips as %c", readBase, refBase, base)
			}
		}
	}
}

func TestReferenceSpan(t *testing.T) {
	rec := &Record{Start: 10, ReadLength: 10}
	features := []Feature{
		{Code: FeatureSoftClip, Position: 1, Bytes: []byte("AA")},
		{Code: FeatureDeletion, Position: 3, Length: 4},
	}
	// 2 soft-clipped bases consume no reference, 8 matched bases and a
	// 4-base deletion do
	if span := referenceSpan(rec, features); span != 12 {
		t.Errorf("reference span is %v instead of 12", span)
	}
}
