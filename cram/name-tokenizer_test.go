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
	"testing"
)

func nameTokRoundTrip(t *testing.T, payload []byte) {
	t.Helper()
	compressed := nameTokCompress(payload)
	if result := nameTokUncompress(compressed); !bytes.Equal(result, payload) {
		t.Errorf("name round trip yields %q instead of %q", result, payload)
	}
}

func TestNameTokenizerRoundTrip(t *testing.T) {
	var payload []byte
	for lane := 1; lane <= 2; lane++ {
		for tile := 1101; tile <= 1103; tile++ {
			for i := 0; i < 50; i++ {
				name := fmt.Sprintf("M01234:55:000000000-A1B2C:%v:%v:%v:%v", lane, tile, 10000+i*7, 9000+i*13)
				payload = append(payload, name...)
				payload = append(payload, 0)
			}
		}
	}
	nameTokRoundTrip(t, payload)

	compressed := nameTokCompress(payload)
	if len(compressed) >= len(payload) {
		t.Errorf("tokenizer does not compress machine names: %v bytes for %v", len(compressed), len(payload))
	}
}

func TestNameTokenizerLeadingZeros(t *testing.T) {
	names := []string{
		"read007",
		"read07",
		"read7",
		"read0",
		"read00",
		"r0075xyz0001",
	}
	var payload []byte
	for _, name := range names {
		payload = append(payload, name...)
		payload = append(payload, 0)
	}
	nameTokRoundTrip(t, payload)
}

func TestNameTokenizerDuplicates(t *testing.T) {
	nameTokRoundTrip(t, []byte("same\x00same\x00same\x00other\x00same\x00"))
}

func TestNameTokenizerLongDigits(t *testing.T) {
	// digit runs too long for an int32 fall back to verbatim tokens
	nameTokRoundTrip(t, []byte("x12345678901234567890y\x00x12345678901234567891y\x00"))
}

func TestNameTokenizerUnterminated(t *testing.T) {
	nameTokRoundTrip(t, []byte("first\x00last"))
	nameTokRoundTrip(t, []byte("only"))
}

func TestNameTokenizerEmpty(t *testing.T) {
	nameTokRoundTrip(t, []byte{})
	nameTokRoundTrip(t, []byte{0})
	nameTokRoundTrip(t, []byte{0, 0})
}

func TestTokenizeName(t *testing.T) {
	tokens := tokenizeName([]byte("abc:12:007x"))
	kinds := []byte{nameTokAlpha, nameTokChar, nameTokDigits, nameTokChar, nameTokDigits0, nameTokAlpha}
	if len(tokens) != len(kinds) {
		t.Fatalf("tokenizing yields %v tokens instead of %v", len(tokens), len(kinds))
	}
	for i, kind := range kinds {
		if tokens[i].kind != kind {
			t.Errorf("token %v has kind %v instead of %v", i, tokens[i].kind, kind)
		}
	}
	if tokens[2].value != 12 {
		t.Errorf("digits token has value %v", tokens[2].value)
	}
	if tokens[4].value != 7 || tokens[4].width != 3 {
		t.Errorf("zero-padded digits token has value %v, width %v", tokens[4].value, tokens[4].width)
	}
}
