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

	"github.com/stretchr/testify/assert"
)

// skewed byte data in the shape of quality strings, where entropy
// coding actually pays off
func qualityLike(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('!' + rand.Intn(8))
		if rand.Intn(20) == 0 {
			data[i] = byte('!' + rand.Intn(40))
		}
	}
	return data
}

func sequenceLike(n int) []byte {
	const bases = "ACGTN"
	data := make([]byte, n)
	for i := range data {
		data[i] = bases[rand.Intn(4)]
		if rand.Intn(100) == 0 {
			data[i] = 'N'
		}
	}
	return data
}

func TestRansOrder0RoundTrip(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{42},
		{1, 2},
		{0, 0, 0},
		sequenceLike(5),
		qualityLike(1000),
		sequenceLike(100003),
	} {
		compressed := ransCompress(ransOrder0, data)
		assert.Equal(t, data, ransUncompress(compressed), "order-0 round trip of %v bytes", len(data))
	}
}

func TestRansOrder1RoundTrip(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{42},
		{1, 2, 3},
		{7, 7, 7, 7},
		sequenceLike(6),
		qualityLike(1000),
		sequenceLike(100003),
	} {
		compressed := ransCompress(ransOrder1, data)
		assert.Equal(t, data, ransUncompress(compressed), "order-1 round trip of %v bytes", len(data))
	}
}

func TestRansCompresses(t *testing.T) {
	data := qualityLike(100000)
	compressed := ransCompress(ransOrder1, data)
	assert.Less(t, len(compressed), len(data))
}

func TestRansFreqTableRoundTrip(t *testing.T) {
	var counts [256]int64
	counts[0] = 1000
	counts[1] = 1
	counts[2] = 1
	counts['A'] = 500
	counts['C'] = 400
	counts[255] = 77
	freqs := normalizeFreqs(&counts)
	var total int32
	for _, f := range freqs {
		total += f
	}
	assert.EqualValues(t, ransFreqTotal, total)

	buf := appendFreqs(nil, &freqs)
	var parsed [256]int32
	parseFreqs(newByteReader(buf), &parsed)
	assert.Equal(t, freqs, parsed)
}
