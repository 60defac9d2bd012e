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
	"math/rand"
	"testing"
)

func TestITF8RoundTrip(t *testing.T) {
	values := []int32{
		0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000,
		0x0FFFFFFF, 0x10000000, 0x7FFFFFFF, -1, -2, -4542278, -0x80000000,
	}
	for i := 0; i < 10000; i++ {
		values = append(values, rand.Int31()-rand.Int31())
	}
	for _, v := range values {
		buf := appendITF8(nil, v)
		if len(buf) > 5 {
			t.Errorf("ITF8 encoding of %v takes %v bytes", v, len(buf))
		}
		r := newByteReader(buf)
		if w := r.readITF8(); w != v {
			t.Errorf("ITF8 round trip of %v yields %v", v, w)
		}
		if r.len() != 0 {
			t.Errorf("ITF8 round trip of %v leaves %v bytes", v, r.len())
		}
	}
}

func TestITF8Widths(t *testing.T) {
	widths := []struct {
		value int32
		bytes int
	}{
		{0, 1}, {127, 1}, {128, 2}, {16383, 2}, {16384, 3},
		{1<<21 - 1, 3}, {1 << 21, 4}, {1<<28 - 1, 4}, {1 << 28, 5}, {-1, 5},
	}
	for _, w := range widths {
		if buf := appendITF8(nil, w.value); len(buf) != w.bytes {
			t.Errorf("ITF8 encoding of %v takes %v bytes instead of %v", w.value, len(buf), w.bytes)
		}
	}
}

func TestLTF8RoundTrip(t *testing.T) {
	values := []int64{
		0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x0FFFFFFF,
		1 << 28, 1<<35 - 1, 1 << 35, 1<<42 - 1, 1 << 42, 1<<49 - 1,
		1 << 49, 1<<56 - 1, 1 << 56, 0x7FFFFFFFFFFFFFFF, -1, -4542278,
	}
	for i := 0; i < 10000; i++ {
		values = append(values, rand.Int63()-rand.Int63())
	}
	for _, v := range values {
		buf := appendLTF8(nil, v)
		if len(buf) > 9 {
			t.Errorf("LTF8 encoding of %v takes %v bytes", v, len(buf))
		}
		r := newByteReader(buf)
		if w := r.readLTF8(); w != v {
			t.Errorf("LTF8 round trip of %v yields %v", v, w)
		}
		if r.len() != 0 {
			t.Errorf("LTF8 round trip of %v leaves %v bytes", v, r.len())
		}
	}
}

func TestITF8Array(t *testing.T) {
	values := []int32{1, -1, 0, 4542278, 1 << 20}
	buf := appendITF8Array(nil, values)
	result := newByteReader(buf).readITF8Array()
	if len(result) != len(values) {
		t.Fatalf("ITF8 array round trip yields %v values instead of %v", len(result), len(values))
	}
	for i, v := range values {
		if result[i] != v {
			t.Errorf("ITF8 array round trip yields %v at index %v instead of %v", result[i], i, v)
		}
	}
}

func TestBitReaderWriter(t *testing.T) {
	type chunk struct {
		value int32
		bits  uint
	}
	var chunks []chunk
	var w bitWriter
	for i := 0; i < 10000; i++ {
		bits := uint(rand.Intn(32) + 1)
		value := rand.Int31() & int32(1<<bits-1)
		chunks = append(chunks, chunk{value, bits})
		w.writeBits(value, bits)
	}
	r := newBitReader(w.flush())
	for i, c := range chunks {
		if v := r.readBits(c.bits); v != c.value {
			t.Fatalf("bit round trip yields %v at index %v instead of %v", v, i, c.value)
		}
	}
}

func TestByteReaderTruncation(t *testing.T) {
	defer func() {
		if x := recover(); x != ErrTruncated {
			t.Errorf("reading past the end panics with %v instead of ErrTruncated", x)
		}
	}()
	r := newByteReader([]byte{0x80})
	r.readITF8()
}
