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
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"testing"

	"github.com/exascience/elcram/utils"
)

const testHeaderText = "@HD\tVN:1.6\n@SQ\tSN:chr1\tLN:1000\n@SQ\tSN:chr2\tLN:800\n@RG\tID:rg0\n"

func makeTestReferences() testReferences {
	refs := make(testReferences, 2)
	for i, n := range []int{1000, 800} {
		refs[i] = testReference(sequenceLike(n))
	}
	return refs
}

// makeTestRecords generates a mix of mapped, unmapped, detached, and
// mate-downstream records against the given references.
func makeTestRecords(refs testReferences, n int) []*Record {
	records := make([]*Record, 0, n)
	for i := 0; i < n; i++ {
		rec := &Record{
			Name:      fmt.Sprintf("sim:1:%04d:%d", i, 100+i*3),
			ReadGroup: 0,
		}
		switch i % 5 {
		case 4: // unmapped
			rec.Flag = Multiple | First | Unmapped
			rec.RefID = UnmappedRefID
			rec.Sequence = sequenceLike(50)
			rec.Qualities = qualityLike(50)
		default:
			ref := refs[i%2]
			readLength := 40 + rand.Intn(40)
			start := 1 + rand.Int31n(ref.SeqLen()-int32(readLength))
			rec.Flag = Multiple | Proper | First
			if i%3 == 0 {
				rec.Flag |= Reversed | NextReversed
			}
			rec.RefID = int32(i % 2)
			rec.Start = start
			rec.MappingQuality = byte(10 + i%50)
			rec.Sequence = append([]byte(nil), ref.Range(start-1, start-1+int32(readLength))...)
			// sprinkle in some substitutions
			for s := 0; s < 3; s++ {
				pos := rand.Intn(readLength)
				switch rec.Sequence[pos] {
				case 'A':
					rec.Sequence[pos] = 'G'
				case 'N':
				default:
					rec.Sequence[pos] = 'A'
				}
			}
			rec.Qualities = qualityLike(readLength)
			rec.MateRefID = UnmappedRefID
			rec.MateStart = 0
			if i%7 == 0 {
				rec.CRAMFlags |= MateDownstream
				rec.DistanceToMate = int32(1 + i%3)
			} else {
				rec.MateRefID = int32(i % 2)
				rec.MateStart = start + 100
				rec.TemplateSize = 150
			}
		}
		if i%2 == 0 {
			rec.Tags.Set(utils.Intern("NMc"), int64(i%100))
		}
		if i%10 == 0 {
			rec.Tags.Set(utils.Intern("MDZ"), fmt.Sprintf("%dA%d", i%40, 40-i%40))
		}
		records = append(records, rec)
	}
	return records
}

func writeReadRecords(t *testing.T, records []*Record, refs ReferenceMap,
	writeRefs ReferenceMap, options *WriterOptions) []*Record {
	t.Helper()

	var buf bytes.Buffer
	writer, err := NewWriter(&buf, testHeaderText, writeRefs, options)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if err := writer.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()), refs)
	if err != nil {
		t.Fatal(err)
	}
	if reader.Text != testHeaderText {
		t.Errorf("header text round trips as %q", reader.Text)
	}
	var result []*Record
	for {
		rec, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		result = append(result, rec)
	}
	if err := reader.Close(); err != nil {
		t.Fatal(err)
	}
	return result
}

func compareRecords(t *testing.T, in, out []*Record) {
	t.Helper()
	if len(out) != len(in) {
		t.Fatalf("%v records round trip as %v records", len(in), len(out))
	}
	for i, rec := range in {
		got := out[i]
		if got.Name != rec.Name {
			t.Fatalf("record %v name %q round trips as %q", i, rec.Name, got.Name)
		}
		if got.Flag != rec.Flag {
			t.Errorf("record %v flag %x round trips as %x", i, rec.Flag, got.Flag)
		}
		if got.RefID != rec.RefID || got.Start != rec.Start {
			t.Errorf("record %v position %v:%v round trips as %v:%v",
				i, rec.RefID, rec.Start, got.RefID, got.Start)
		}
		if got.ReadLength != rec.ReadLength {
			t.Errorf("record %v read length %v round trips as %v", i, rec.ReadLength, got.ReadLength)
		}
		if got.MappingQuality != rec.MappingQuality {
			t.Errorf("record %v mapping quality %v round trips as %v",
				i, rec.MappingQuality, got.MappingQuality)
		}
		if got.ReadGroup != rec.ReadGroup {
			t.Errorf("record %v read group round trips as %v", i, got.ReadGroup)
		}
		if !bytes.Equal(got.Sequence, rec.Sequence) {
			t.Errorf("record %v sequence %q round trips as %q", i, rec.Sequence, got.Sequence)
		}
		if !bytes.Equal(got.Qualities, rec.Qualities) {
			t.Errorf("record %v qualities round trip as %v", i, got.Qualities)
		}
		if rec.CRAMFlags&Detached != 0 {
			if got.MateRefID != rec.MateRefID || got.MateStart != rec.MateStart ||
				got.TemplateSize != rec.TemplateSize {
				t.Errorf("record %v mate %v:%v/%v round trips as %v:%v/%v",
					i, rec.MateRefID, rec.MateStart, rec.TemplateSize,
					got.MateRefID, got.MateStart, got.TemplateSize)
			}
		} else if got.DistanceToMate != rec.DistanceToMate {
			t.Errorf("record %v mate distance %v round trips as %v",
				i, rec.DistanceToMate, got.DistanceToMate)
		}
		if !reflect.DeepEqual(got.Tags, rec.Tags) {
			t.Errorf("record %v tags %v round trip as %v", i, rec.Tags, got.Tags)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	refs := makeTestReferences()
	records := makeTestRecords(refs, 1000)
	result := writeReadRecords(t, records, refs, refs, &WriterOptions{
		RecordsPerSlice:    70,
		SlicesPerContainer: 3,
	})
	compareRecords(t, records, result)
}

// makeMappedRecords generates records aligned to a single reference,
// the shape embedded references and reference checksums require.
func makeMappedRecords(refs testReferences, n int) []*Record {
	ref := refs[0]
	records := make([]*Record, 0, n)
	start := int32(1)
	for i := 0; i < n; i++ {
		readLength := 60
		if start+int32(readLength) > ref.SeqLen() {
			start = 1
		}
		rec := &Record{
			Name:           fmt.Sprintf("map:%05d", i),
			Flag:           Multiple | Proper | First,
			RefID:          0,
			Start:          start,
			MappingQuality: 60,
			Sequence:       append([]byte(nil), ref.Range(start-1, start-1+int32(readLength))...),
			Qualities:      qualityLike(readLength),
			MateRefID:      UnmappedRefID,
		}
		if rec.Sequence[10] != 'N' {
			if rec.Sequence[10] == 'T' {
				rec.Sequence[10] = 'C'
			} else {
				rec.Sequence[10] = 'T'
			}
		}
		records = append(records, rec)
		start += 7
	}
	return records
}

// embedded references let a reader decode without a reference provider
func TestRoundTripEmbeddedReference(t *testing.T) {
	refs := makeTestReferences()
	records := makeMappedRecords(refs, 300)
	result := writeReadRecords(t, records, nil, refs, &WriterOptions{
		RecordsPerSlice: 50,
		EmbedReference:  true,
	})
	compareRecords(t, records, result)
}

// a single-reference slice stores the MD5 of the reference span it
// covers, verified against the reference provider on decode
func TestRoundTripReferenceChecksum(t *testing.T) {
	refs := makeTestReferences()
	records := makeMappedRecords(refs, 200)
	result := writeReadRecords(t, records, refs, refs, &WriterOptions{
		RecordsPerSlice: 100,
	})
	compareRecords(t, records, result)
}

// without any reference, mapped reads are stored verbatim
func TestRoundTripNoReference(t *testing.T) {
	refs := makeTestReferences()
	records := makeTestRecords(refs, 200)
	result := writeReadRecords(t, records, nil, nil, &WriterOptions{
		RecordsPerSlice: 64,
	})
	compareRecords(t, records, result)
}

func TestRoundTripDefaults(t *testing.T) {
	refs := makeTestReferences()
	records := makeTestRecords(refs, 100)
	result := writeReadRecords(t, records, refs, refs, nil)
	compareRecords(t, records, result)
}

func TestEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewWriter(&buf, testHeaderText, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.ReadRecord(); err != io.EOF {
		t.Errorf("reading an empty stream yields %v instead of io.EOF", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatal(err)
	}
}

// a stream cut off before the EOF sentinel container must not read as
// a complete file
func TestTruncatedStream(t *testing.T) {
	refs := makeTestReferences()
	records := makeTestRecords(refs, 50)

	var buf bytes.Buffer
	writer, err := NewWriter(&buf, testHeaderText, refs, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if err := writer.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	truncated := buf.Bytes()[:buf.Len()-len(eofMarker)]
	reader, err := NewReader(bytes.NewReader(truncated), refs)
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err = reader.ReadRecord(); err != nil {
			break
		}
	}
	if err != ErrTruncated {
		t.Errorf("a truncated stream yields %v instead of ErrTruncated", err)
	}
	_ = reader.Close()
}

func TestEOFMarker(t *testing.T) {
	c := readContainer(bytes.NewReader(eofMarker), 0)
	if c == nil {
		t.Fatal("the EOF sentinel container does not parse")
	}
	if !c.IsEOF() {
		t.Error("the EOF sentinel container is not detected")
	}
	if records, err := c.Records(nil); err != nil || len(records) != 0 {
		t.Errorf("the EOF sentinel container decodes to %v records, error %v", len(records), err)
	}
}
