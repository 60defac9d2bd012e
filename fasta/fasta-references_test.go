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

package fasta

import (
	"os"
	"path/filepath"
	"testing"
)

const testFastaText = ">chr1 assembled\nACGTacgt\nNNRYacgt\n>chr2\nTTTT\nGG\n"

func writeTestFasta(t *testing.T) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.fasta")
	if err := os.WriteFile(name, []byte(testFastaText), 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestParseReferences(t *testing.T) {
	refs := ParseReferences(writeTestFasta(t))

	names := refs.Names()
	if len(names) != 2 || names[0] != "chr1" || names[1] != "chr2" {
		t.Fatalf("contig names parse as %v", names)
	}
	chr1 := refs.Reference(0)
	if chr1 == nil {
		t.Fatal("chr1 is missing")
	}
	if got := string(chr1.Range(0, chr1.SeqLen())); got != "ACGTACGTNNNNACGT" {
		t.Errorf("chr1 parses as %q", got)
	}
	chr2 := refs.Reference(1)
	if got := string(chr2.Range(0, chr2.SeqLen())); got != "TTTTGG" {
		t.Errorf("chr2 parses as %q", got)
	}
	if refs.Reference(2) != nil || refs.Reference(-1) != nil {
		t.Error("out-of-range reference ids do not resolve to nil")
	}
	if refs.ID("chr2") != 1 || refs.ID("chr3") != -1 {
		t.Error("contig name lookup failed")
	}
	if refs.ByName("chr1") == nil || refs.ByName("chr3") != nil {
		t.Error("contig lookup by name failed")
	}
}

func TestSequenceBounds(t *testing.T) {
	seq := Sequence("ACGT")
	if seq.BaseAt(-1) != 'N' || seq.BaseAt(4) != 'N' || seq.BaseAt(2) != 'G' {
		t.Error("BaseAt bounds handling failed")
	}
	if string(seq.Range(2, 10)) != "GT" {
		t.Error("Range bounds handling failed")
	}
	if seq.Range(3, 3) != nil {
		t.Error("an empty Range is not nil")
	}
}

func TestParseFasta(t *testing.T) {
	fasta := ParseFasta(writeTestFasta(t), nil, true, true)
	if len(fasta) != 2 {
		t.Fatalf("fasta parses to %v contigs", len(fasta))
	}
	if got := string(fasta["chr1"]); got != "ACGTACGTNNNNACGT" {
		t.Errorf("chr1 parses as %q", got)
	}
}
