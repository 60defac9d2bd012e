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
	"hash/crc32"
	"testing"
)

func blockRoundTrip(t *testing.T, method byte, data []byte) {
	t.Helper()
	in := &block{contentType: externalBlock, contentID: 11, data: data}
	buf := appendBlock(nil, in, method)
	r := newByteReader(buf)
	out := readBlock(r, 0, 0)
	if r.len() != 0 {
		t.Errorf("method %v round trip leaves %v bytes", method, r.len())
	}
	if out.contentType != externalBlock || out.contentID != 11 {
		t.Errorf("method %v round trip yields content type %v, id %v", method, out.contentType, out.contentID)
	}
	if !bytes.Equal(out.data, data) {
		t.Errorf("method %v round trip corrupts the payload", method)
	}
}

func TestBlockMethods(t *testing.T) {
	data := append(qualityLike(20000), sequenceLike(20000)...)
	for _, method := range []byte{
		methodRaw, methodGzip, methodBzip2, methodLzma, methodRans, methodArith,
	} {
		blockRoundTrip(t, method, data)
		blockRoundTrip(t, method, nil)
	}
	var names []byte
	for i := 0; i < 200; i++ {
		names = append(names, []byte("HWI-ST1234:42:7:1:")...)
		names = append(names, byte('0'+i%10), ':', byte('1'+i%9), 0)
	}
	blockRoundTrip(t, methodNameToken, names)
}

// incompressible payloads must be stored raw rather than grow
func TestBlockRawFallback(t *testing.T) {
	data := []byte{3, 141, 59, 26}
	in := &block{contentType: externalBlock, contentID: 2, data: data}
	buf := appendBlock(nil, in, methodGzip)
	if buf[0] != methodRaw {
		t.Errorf("tiny block stored with method %v instead of raw", buf[0])
	}
	out := readBlock(newByteReader(buf), 0, 0)
	if !bytes.Equal(out.data, data) {
		t.Error("raw fallback corrupts the payload")
	}
}

func TestBlockChecksumMismatch(t *testing.T) {
	in := &block{contentType: externalBlock, contentID: 5, data: qualityLike(1000)}
	buf := appendBlock(nil, in, methodGzip)
	buf[len(buf)/2]++

	defer func() {
		e, ok := recover().(*ChecksumError)
		if !ok {
			t.Error("a corrupted block does not report a ChecksumError")
		} else if e.Container != 3 || e.Slice != 1 || e.ContentID != 5 {
			t.Errorf("checksum error reports container %v, slice %v, content id %v",
				e.Container, e.Slice, e.ContentID)
		}
	}()
	readBlock(newByteReader(buf), 3, 1)
}

func TestUnsupportedBlockMethod(t *testing.T) {
	in := &block{contentType: externalBlock, data: []byte("x")}
	buf := appendBlock(nil, in, methodRaw)
	// flip the method and repair the checksum, so only the method is
	// unsupported
	header := buf[:len(buf)-4]
	header[0] = methodFqzComp
	fixed := appendUint32(append([]byte(nil), header...), crc32.ChecksumIEEE(header))

	defer func() {
		if e, ok := recover().(*UnsupportedError); !ok || e.Value != methodFqzComp {
			t.Error("an unsupported method does not report an UnsupportedError")
		}
	}()
	readBlock(newByteReader(fixed), 0, 0)
}
