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
	"encoding/binary"
	"log"
	"math"

	"github.com/exascience/elcram/internal"
)

// Tag values are stored in the BAM binary value layout, minus the tag
// name and type byte, which the tag dictionary supplies. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.4, and
// https://samtools.github.io/hts-specs/CRAMv3.pdf - Section 10.6.
// Integer values of every width parse to int64; the type byte in the
// tag key preserves the stored width for re-encoding.

// parseTagValue decodes one tag value of the given type.
func parseTagValue(typeByte byte, r *byteReader) interface{} {
	switch typeByte {
	case 'A':
		return r.readByte()
	case 'c':
		return int64(int8(r.readByte()))
	case 'C':
		return int64(r.readByte())
	case 's':
		return int64(int16(binary.LittleEndian.Uint16(r.readBytes(2))))
	case 'S':
		return int64(binary.LittleEndian.Uint16(r.readBytes(2)))
	case 'i':
		return int64(int32(r.readUint32()))
	case 'I':
		return int64(r.readUint32())
	case 'f':
		return math.Float32frombits(r.readUint32())
	case 'Z':
		return string(readNulTerminated(r))
	case 'H':
		hex := readNulTerminated(r)
		value := make([]byte, 0, len(hex)>>1)
		for i := 0; i+1 < len(hex); i += 2 {
			value = append(value, byte(internal.ParseUint(string(hex[i:i+2]), 16, 8)))
		}
		return value
	case 'B':
		return parseTagNumericArray(r)
	default:
		panic(&UnsupportedError{What: "tag value type", Value: int32(typeByte)})
	}
}

func readNulTerminated(r *byteReader) []byte {
	start := r.pos
	for r.readByte() != 0 {
	}
	return r.data[start : r.pos-1]
}

func parseTagNumericArray(r *byteReader) interface{} {
	subtype := r.readByte()
	count := int(int32(r.readUint32()))
	switch subtype {
	case 'c':
		result := make([]int8, count)
		for i := range result {
			result[i] = int8(r.readByte())
		}
		return result
	case 'C':
		result := make([]uint8, count)
		copy(result, r.readBytes(count))
		return result
	case 's':
		result := make([]int16, count)
		for i := range result {
			result[i] = int16(binary.LittleEndian.Uint16(r.readBytes(2)))
		}
		return result
	case 'S':
		result := make([]uint16, count)
		for i := range result {
			result[i] = binary.LittleEndian.Uint16(r.readBytes(2))
		}
		return result
	case 'i':
		result := make([]int32, count)
		for i := range result {
			result[i] = int32(r.readUint32())
		}
		return result
	case 'I':
		result := make([]uint32, count)
		for i := range result {
			result[i] = r.readUint32()
		}
		return result
	case 'f':
		result := make([]float32, count)
		for i := range result {
			result[i] = math.Float32frombits(r.readUint32())
		}
		return result
	default:
		panic(&UnsupportedError{What: "tag numeric array subtype", Value: int32(subtype)})
	}
}

const hexDigits = "0123456789ABCDEF"

// appendTagValue appends the binary form of one tag value.
func appendTagValue(out []byte, typeByte byte, value interface{}) []byte {
	switch typeByte {
	case 'A':
		return append(out, value.(byte))
	case 'c', 'C':
		return append(out, byte(value.(int64)))
	case 's', 'S':
		v := uint16(value.(int64))
		return append(out, byte(v), byte(v>>8))
	case 'i', 'I':
		return appendUint32(out, uint32(value.(int64)))
	case 'f':
		return appendUint32(out, math.Float32bits(value.(float32)))
	case 'Z':
		out = append(out, value.(string)...)
		return append(out, 0)
	case 'H':
		for _, b := range value.([]byte) {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
		return append(out, 0)
	case 'B':
		return appendTagNumericArray(out, value)
	default:
		panic(&UnsupportedError{What: "tag value type", Value: int32(typeByte)})
	}
}

func appendTagNumericArray(out []byte, value interface{}) []byte {
	switch v := value.(type) {
	case []int8:
		out = append(out, 'c')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = append(out, byte(e))
		}
	case []uint8:
		out = append(out, 'C')
		out = appendUint32(out, uint32(len(v)))
		out = append(out, v...)
	case []int16:
		out = append(out, 's')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = append(out, byte(e), byte(e>>8))
		}
	case []uint16:
		out = append(out, 'S')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = append(out, byte(e), byte(e>>8))
		}
	case []int32:
		out = append(out, 'i')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = appendUint32(out, uint32(e))
		}
	case []uint32:
		out = append(out, 'I')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = appendUint32(out, e)
		}
	case []float32:
		out = append(out, 'f')
		out = appendUint32(out, uint32(len(v)))
		for _, e := range v {
			out = appendUint32(out, math.Float32bits(e))
		}
	default:
		log.Panicf("invalid tag numeric array value of type %T", value)
	}
	return out
}
