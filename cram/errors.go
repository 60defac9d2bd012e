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
	"errors"
	"fmt"
)

// ErrTruncated is reported when a CRAM stream ends before a length
// field said it would.
var ErrTruncated = errors.New("truncated CRAM stream")

// A ChecksumError is reported when the stored CRC32 of a block or
// container header does not match the checksum of the bytes actually
// read. The containing structure cannot be trusted beyond this point,
// so decoding of the whole container is aborted. Slice is the ordinal
// of the slice within its container, or -1 for container-level
// structures.
type ChecksumError struct {
	Container int32
	Slice     int32
	ContentID int32
	Stored    uint32
	Computed  uint32
}

func (e *ChecksumError) Error() string {
	if e.Slice >= 0 {
		return fmt.Sprintf("CRC32 mismatch in container %v, slice %v, block content id %v: stored %08x, computed %08x",
			e.Container, e.Slice, e.ContentID, e.Stored, e.Computed)
	}
	return fmt.Sprintf("CRC32 mismatch in container %v, block content id %v: stored %08x, computed %08x",
		e.Container, e.ContentID, e.Stored, e.Computed)
}

// A MalformedHeaderError is reported when a compression header or
// slice header is structurally invalid. Slice is the ordinal of the
// slice within its container, or -1 for container-level structures.
type MalformedHeaderError struct {
	Container int32
	Slice     int32
	Reason    string
}

func (e *MalformedHeaderError) Error() string {
	if e.Slice >= 0 {
		return fmt.Sprintf("malformed header in container %v, slice %v: %v", e.Container, e.Slice, e.Reason)
	}
	return fmt.Sprintf("malformed header in container %v: %v", e.Container, e.Reason)
}

// An UnsupportedError is reported when a recognized but unimplemented
// codec or block compression method is encountered. It is distinct
// from malformed data so that callers can decide to skip rather than
// abort.
type UnsupportedError struct {
	What  string
	Value int32
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %v %v in CRAM stream", e.What, e.Value)
}

// A FeatureOutOfBoundsError is reported when a read feature falls
// outside the read it belongs to. The slice is abandoned rather than
// silently truncating the record.
type FeatureOutOfBoundsError struct {
	Name       string
	Code       byte
	Position   int32
	ReadLength int32
}

func (e *FeatureOutOfBoundsError) Error() string {
	return fmt.Sprintf("feature %c at read position %v out of bounds in record %v of length %v",
		e.Code, e.Position, e.Name, e.ReadLength)
}

// catchErrors recovers panic values that carry errors, storing them
// in *err. Exported entry points defer it so that the panic-based
// internal decode paths surface as ordinary error returns. The log
// package panics with plain strings; those are wrapped. Other panic
// values are re-raised.
func catchErrors(err *error) {
	if x := recover(); x != nil {
		switch e := x.(type) {
		case error:
			*err = e
		case string:
			*err = errors.New(e)
		default:
			panic(x)
		}
	}
}
