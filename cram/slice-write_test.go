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

// a slice holding no records is still a valid slice
func TestEmptySliceRoundTrip(t *testing.T) {
	profile := defaultEncodingProfile()
	plan := planContainer(nil, nil, &profile)
	buf := encodeSlice(nil, nil, plan, nil, &profile, false, 0)

	r := newByteReader(buf)
	s := readSlice(r, 0, 0)
	if r.len() != 0 {
		t.Errorf("an empty slice round trip leaves %v bytes", r.len())
	}
	if s.refID != UnmappedRefID || s.nRecords != 0 {
		t.Errorf("an empty slice round trips with reference id %v, %v records", s.refID, s.nRecords)
	}
	if records := s.decodeRecords(plan.header, nil); len(records) != 0 {
		t.Errorf("an empty slice decodes to %v records", len(records))
	}
}

// slice decode errors carry the container index and the slice ordinal
func TestSliceErrorContext(t *testing.T) {
	b := &block{contentType: coreBlock}
	buf := appendBlock(nil, b, methodRaw)

	defer func() {
		e, ok := recover().(*MalformedHeaderError)
		if !ok {
			t.Fatal("a misplaced block does not report a MalformedHeaderError")
		}
		if e.Container != 7 || e.Slice != 2 {
			t.Errorf("slice error reports container %v, slice %v", e.Container, e.Slice)
		}
	}()
	readSlice(newByteReader(buf), 7, 2)
}
