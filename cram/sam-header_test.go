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

import "testing"

func TestParseHeader(t *testing.T) {
	hdr, err := ParseHeader(testHeaderText + "@PG\tID:elcram\tVN:1.0\n@CO\tfree text comment\n")
	if err != nil {
		t.Fatal(err)
	}
	if hdr.HD["VN"] != "1.6" {
		t.Errorf("HD line parses as %v", hdr.HD)
	}
	if len(hdr.SQ) != 2 || hdr.SQ[0]["SN"] != "chr1" || hdr.SQ[1]["LN"] != "800" {
		t.Errorf("SQ lines parse as %v", hdr.SQ)
	}
	if len(hdr.RG) != 1 || hdr.RG[0]["ID"] != "rg0" {
		t.Errorf("RG lines parse as %v", hdr.RG)
	}
	if len(hdr.PG) != 1 || hdr.PG[0]["VN"] != "1.0" {
		t.Errorf("PG lines parse as %v", hdr.PG)
	}
	if len(hdr.CO) != 1 || hdr.CO[0] != "free text comment" {
		t.Errorf("CO lines parse as %v", hdr.CO)
	}

	names := hdr.ReferenceNames()
	if len(names) != 2 || names[0] != "chr1" || names[1] != "chr2" {
		t.Errorf("reference names parse as %v", names)
	}
	if hdr.ReadGroupID("rg0") != 0 || hdr.ReadGroupID("missing") != -1 {
		t.Error("read group lookup failed")
	}
}

func TestFormatHeader(t *testing.T) {
	hdr, err := ParseHeader(testHeaderText)
	if err != nil {
		t.Fatal(err)
	}
	formatted := hdr.Format()
	reparsed, err := ParseHeader(formatted)
	if err != nil {
		t.Fatal(err)
	}
	if formatted != reparsed.Format() {
		t.Errorf("header formatting is not stable:\n%v", formatted)
	}
	if len(reparsed.SQ) != 2 || reparsed.SQ[0]["SN"] != "chr1" {
		t.Errorf("reformatted header parses as %v", reparsed.SQ)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	for _, text := range []string{
		"no at sign\n",
		"@SQ\tbroken\n",
		"@XY\tID:x\n",
	} {
		if _, err := ParseHeader(text); err == nil {
			t.Errorf("header %q parses without error", text)
		}
	}
}
