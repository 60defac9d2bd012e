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

// Mapped records do not store their read bases; they store a feature
// list describing where the read deviates from the reference. Replay
// walks the reference from the alignment start, copying reference
// bases into the read except where a feature overrides them. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 10.4.

// noQuality marks a read position without a stored quality score.
const noQuality = 0xFF

// refAdvance returns how many reference bases the feature consumes.
func refAdvance(f *Feature) int32 {
	switch f.Code {
	case FeatureReadBase, FeatureSubstitution:
		return 1
	case FeatureBases:
		return int32(len(f.Bytes))
	case FeatureDeletion, FeatureRefSkip:
		return f.Length
	default:
		// insertions, soft and hard clips, padding, and quality
		// features consume no reference bases
		return 0
	}
}

func (rec *Record) featureOutOfBounds(f *Feature) {
	panic(&FeatureOutOfBoundsError{
		Name:       rec.Name,
		Code:       f.Code,
		Position:   f.Position,
		ReadLength: rec.ReadLength,
	})
}

// replayFeatures materializes rec.Sequence, and rec.Qualities unless
// the record stores a full quality array, by replaying the feature
// list against the reference. Features must be ordered by ascending
// read position; any feature reaching outside the read is a
// FeatureOutOfBoundsError.
func (rec *Record) replayFeatures(ref Reference) {
	sequence := make([]byte, 0, rec.ReadLength)
	var qualities []byte
	qualityFromFeatures := rec.CRAMFlags&QualitiesStored == 0
	if qualityFromFeatures {
		qualities = make([]byte, rec.ReadLength)
		for i := range qualities {
			qualities[i] = noQuality
		}
	}

	refPos := rec.Start // 1-based
	copyReference := func(upto int32) {
		for int32(len(sequence)) < upto {
			if refPos < 1 || refPos > ref.SeqLen() {
				sequence = append(sequence, 'N')
			} else {
				sequence = append(sequence, ref.BaseAt(refPos-1))
			}
			refPos++
		}
	}

	for i := range rec.Features {
		f := &rec.Features[i]
		if f.Position < 1 || f.Position > rec.ReadLength {
			rec.featureOutOfBounds(f)
		}
		if f.Position-1 < int32(len(sequence)) &&
			f.Code != FeatureQuality && f.Code != FeatureQualities {
			rec.featureOutOfBounds(f)
		}
		copyReference(f.Position - 1)

		switch f.Code {
		case FeatureReadBase:
			sequence = append(sequence, f.Base)
			refPos++
			if qualityFromFeatures {
				qualities[f.Position-1] = f.Quality
			}
		case FeatureSubstitution:
			sequence = append(sequence, f.Base)
			refPos++
		case FeatureInsertion, FeatureSoftClip:
			if f.Position-1+int32(len(f.Bytes)) > rec.ReadLength {
				rec.featureOutOfBounds(f)
			}
			sequence = append(sequence, f.Bytes...)
		case FeatureInsertBase:
			sequence = append(sequence, f.Base)
		case FeatureBases:
			if f.Position-1+int32(len(f.Bytes)) > rec.ReadLength {
				rec.featureOutOfBounds(f)
			}
			sequence = append(sequence, f.Bytes...)
			refPos += int32(len(f.Bytes))
		case FeatureDeletion, FeatureRefSkip:
			if f.Length < 0 {
				rec.featureOutOfBounds(f)
			}
			refPos += f.Length
		case FeatureHardClip, FeaturePadding:
			// consume neither read nor reference bases
		case FeatureQuality:
			if qualityFromFeatures {
				qualities[f.Position-1] = f.Quality
			}
		case FeatureQualities:
			if f.Position-1+int32(len(f.Bytes)) > rec.ReadLength {
				rec.featureOutOfBounds(f)
			}
			if qualityFromFeatures {
				copy(qualities[f.Position-1:], f.Bytes)
			}
		default:
			panic(&UnsupportedError{What: "feature code", Value: int32(f.Code)})
		}
	}
	copyReference(rec.ReadLength)
	rec.Sequence = sequence
	if qualityFromFeatures {
		rec.Qualities = qualities
	}
}

// foldBase upper-cases a base letter. Reference files carry
// soft-masked regions as lowercase bases; case never counts as a
// mismatch.
func foldBase(base byte) byte {
	if base >= 'a' && base <= 'z' {
		return base - 'a' + 'A'
	}
	return base
}

// substitutionFeatures derives a feature list for a mapped record
// whose read differs from the reference only by substitutions. Reads
// with indels or clipping must provide their feature lists explicitly.
func (rec *Record) substitutionFeatures(ref Reference) []Feature {
	var features []Feature
	for i := int32(0); i < rec.ReadLength; i++ {
		refPos := rec.Start + i
		refBase := byte('N')
		if refPos >= 1 && refPos <= ref.SeqLen() {
			refBase = ref.BaseAt(refPos - 1)
		}
		if foldBase(rec.Sequence[i]) != foldBase(refBase) {
			features = append(features, Feature{
				Code:     FeatureSubstitution,
				Position: i + 1,
				Base:     rec.Sequence[i],
			})
		}
	}
	return features
}

// referenceBaseBefore returns the reference base a feature applies
// to, given the read/reference walk state maintained by the slice
// codec while it streams features in read order.
type featureWalk struct {
	rec     *Record
	readPos int32 // 1-based position of the next read base
	refPos  int32 // 1-based position of the next reference base
}

func newFeatureWalk(rec *Record) featureWalk {
	return featureWalk{rec: rec, readPos: 1, refPos: rec.Start}
}

// peek returns the reference position the feature applies at without
// advancing the walk.
func (w *featureWalk) peek(f *Feature) int32 {
	if gap := f.Position - w.readPos; gap > 0 {
		return w.refPos + gap
	}
	return w.refPos
}

// step advances the walk to the given feature and returns the
// reference position the feature applies at. The gap between the
// previous position and the feature is reference-matched read bases.
func (w *featureWalk) step(f *Feature) int32 {
	if gap := f.Position - w.readPos; gap > 0 {
		w.readPos += gap
		w.refPos += gap
	}
	at := w.refPos
	w.readPos += f.readLength()
	w.refPos += refAdvance(f)
	return at
}
