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
	"hash/crc32"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/exascience/elcram/internal"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"
)

// block compression methods. See
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 8.
const (
	methodRaw       = 0
	methodGzip      = 1
	methodBzip2     = 2
	methodLzma      = 3
	methodRans      = 4
	methodRansNx16  = 5 // recognized, not implemented
	methodArith     = 6
	methodFqzComp   = 7 // recognized, not implemented
	methodNameToken = 8
)

// block content types
const (
	fileHeaderBlock        = 0
	compressionHeaderBlock = 1
	sliceHeaderBlock       = 2
	externalBlock          = 4
	coreBlock              = 5
)

// block is a fully decompressed CRAM block. External blocks carry a
// content id that data series encodings refer to; all other content
// types use content id 0.
type block struct {
	method      byte
	contentType byte
	contentID   int32
	data        []byte
}

// readBlock parses one block, verifies its checksum, and decompresses
// the payload. The checksum covers the block header and the
// compressed payload; verification happens before decompression, a
// mismatch aborts the container. The slice ordinal is -1 for blocks
// outside a slice.
func readBlock(r *byteReader, container, slice int32) *block {
	start := r.pos
	b := &block{
		method:      r.readByte(),
		contentType: r.readByte(),
		contentID:   r.readITF8(),
	}
	compressedSize := r.readITF8()
	rawSize := r.readITF8()
	if compressedSize < 0 || rawSize < 0 {
		panic(&MalformedHeaderError{Container: container, Slice: slice, Reason: "negative block size"})
	}
	payload := r.readBytes(int(compressedSize))
	stored := r.readUint32()
	if computed := crc32.ChecksumIEEE(r.data[start : r.pos-4]); computed != stored {
		panic(&ChecksumError{Container: container, Slice: slice, ContentID: b.contentID, Stored: stored, Computed: computed})
	}

	switch b.method {
	case methodRaw:
		b.data = payload
	case methodGzip:
		b.data = gzipUncompress(payload, int(rawSize))
	case methodBzip2:
		b.data = bzip2Uncompress(payload, int(rawSize))
	case methodLzma:
		b.data = lzmaUncompress(payload, int(rawSize))
	case methodRans:
		b.data = ransUncompress(payload)
	case methodArith:
		b.data = arithUncompress(payload)
	case methodNameToken:
		b.data = nameTokUncompress(payload)
	default:
		panic(&UnsupportedError{What: "block compression method", Value: int32(b.method)})
	}
	if len(b.data) != int(rawSize) {
		panic(&MalformedHeaderError{
			Container: container,
			Slice:     slice,
			Reason:    fmt.Sprintf("block %v decompresses to %v bytes, %v declared", b.contentID, len(b.data), rawSize),
		})
	}
	return b
}

// appendBlock compresses the block payload with the requested method
// and appends the serialized block. When compression does not pay
// off, the payload is stored raw instead.
func appendBlock(out []byte, b *block, method byte) []byte {
	payload := b.data
	if method != methodRaw {
		tmp := internal.ReserveByteBuffer()
		defer func() { internal.ReleaseByteBuffer(tmp) }()
		switch method {
		case methodGzip:
			tmp = gzipCompress(tmp, b.data)
		case methodBzip2:
			tmp = bzip2Compress(tmp, b.data)
		case methodLzma:
			tmp = lzmaCompress(tmp, b.data)
		case methodRans:
			tmp = append(tmp, ransCompress(ransOrder1, b.data)...)
		case methodArith:
			tmp = append(tmp, arithCompress(ransOrder1, b.data)...)
		case methodNameToken:
			tmp = append(tmp, nameTokCompress(b.data)...)
		default:
			panic(&UnsupportedError{What: "block compression method", Value: int32(method)})
		}
		if len(tmp) < len(b.data) {
			payload = tmp
		} else {
			method = methodRaw
		}
	}

	start := len(out)
	out = append(out, method, b.contentType)
	out = appendITF8(out, b.contentID)
	out = appendITF8(out, int32(len(payload)))
	out = appendITF8(out, int32(len(b.data)))
	out = append(out, payload...)
	return appendUint32(out, crc32.ChecksumIEEE(out[start:]))
}

var (
	gzipReaderPool sync.Pool
	gzipWriterPool sync.Pool
)

func gzipUncompress(in []byte, rawSize int) []byte {
	br := bytes.NewReader(in)
	var gz *gzip.Reader
	if pooled := gzipReaderPool.Get(); pooled != nil {
		gz = pooled.(*gzip.Reader)
		if err := gz.Reset(br); err != nil {
			panic(err)
		}
	} else {
		var err error
		if gz, err = gzip.NewReader(br); err != nil {
			panic(err)
		}
	}
	defer gzipReaderPool.Put(gz)
	out := make([]byte, rawSize)
	internal.ReadFull(gz, out)
	return out
}

func gzipCompress(out, in []byte) []byte {
	buf := bytes.NewBuffer(out)
	var gz *gzip.Writer
	if pooled := gzipWriterPool.Get(); pooled != nil {
		gz = pooled.(*gzip.Writer)
		gz.Reset(buf)
	} else {
		gz = gzip.NewWriter(buf)
	}
	defer gzipWriterPool.Put(gz)
	internal.Write(gz, in)
	internal.Close(gz)
	return buf.Bytes()
}

func bzip2Uncompress(in []byte, rawSize int) []byte {
	bz, err := bzip2.NewReader(bytes.NewReader(in), nil)
	if err != nil {
		panic(err)
	}
	out := make([]byte, rawSize)
	internal.ReadFull(bz, out)
	internal.Close(bz)
	return out
}

func bzip2Compress(out, in []byte) []byte {
	buf := bytes.NewBuffer(out)
	bz, err := bzip2.NewWriter(buf, nil)
	if err != nil {
		panic(err)
	}
	internal.Write(bz, in)
	internal.Close(bz)
	return buf.Bytes()
}

func lzmaUncompress(in []byte, rawSize int) []byte {
	lz, err := lzma.NewReader(bytes.NewReader(in))
	if err != nil {
		panic(err)
	}
	out := make([]byte, rawSize)
	internal.ReadFull(lz, out)
	return out
}

func lzmaCompress(out, in []byte) []byte {
	buf := bytes.NewBuffer(out)
	lz, err := lzma.NewWriter(buf)
	if err != nil {
		panic(err)
	}
	internal.Write(lz, in)
	internal.Close(lz)
	return buf.Bytes()
}
