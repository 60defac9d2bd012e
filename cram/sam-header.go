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
	"fmt"
	"strings"

	"github.com/exascience/elcram/utils"
)

// A Header is the parsed form of the SAM text header stored in the
// first container of a CRAM stream. Reference ids index the SQ lines
// in order; read group ids (the RG data series) index the RG lines.
// See http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.3.
type Header struct {
	HD utils.StringMap
	SQ []utils.StringMap
	RG []utils.StringMap
	PG []utils.StringMap
	CO []string
}

// ParseHeader parses SAM header text.
func ParseHeader(text string) (hdr *Header, err error) {
	defer catchErrors(&err)
	hdr = &Header{}
	for lineno, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if len(line) < 3 || line[0] != '@' {
			panic(fmt.Errorf("malformed SAM header line %v: %v", lineno+1, line))
		}
		if code := line[:3]; code == "@CO" {
			hdr.CO = append(hdr.CO, strings.TrimPrefix(line[3:], "\t"))
			continue
		}
		record := utils.StringMap{}
		for _, field := range strings.Split(line, "\t")[1:] {
			if len(field) < 3 || field[2] != ':' {
				panic(fmt.Errorf("malformed SAM header field on line %v: %v", lineno+1, field))
			}
			record[field[:2]] = field[3:]
		}
		switch line[:3] {
		case "@HD":
			hdr.HD = record
		case "@SQ":
			hdr.SQ = append(hdr.SQ, record)
		case "@RG":
			hdr.RG = append(hdr.RG, record)
		case "@PG":
			hdr.PG = append(hdr.PG, record)
		default:
			panic(fmt.Errorf("unknown SAM header record type on line %v: %v", lineno+1, line[:3]))
		}
	}
	return hdr, nil
}

func formatHeaderLine(sb *strings.Builder, code string, record utils.StringMap, order ...string) {
	sb.WriteString(code)
	seen := make(map[string]bool, len(record))
	for _, key := range order {
		if value, ok := record[key]; ok {
			fmt.Fprintf(sb, "\t%v:%v", key, value)
			seen[key] = true
		}
	}
	for _, key := range utils.SortedStringMapKeys(record) {
		if !seen[key] {
			fmt.Fprintf(sb, "\t%v:%v", key, record[key])
		}
	}
	sb.WriteByte('\n')
}

// Format renders the header back to SAM text.
func (hdr *Header) Format() string {
	var sb strings.Builder
	if hdr.HD != nil {
		formatHeaderLine(&sb, "@HD", hdr.HD, "VN")
	}
	for _, record := range hdr.SQ {
		formatHeaderLine(&sb, "@SQ", record, "SN", "LN")
	}
	for _, record := range hdr.RG {
		formatHeaderLine(&sb, "@RG", record, "ID")
	}
	for _, record := range hdr.PG {
		formatHeaderLine(&sb, "@PG", record, "ID")
	}
	for _, comment := range hdr.CO {
		sb.WriteString("@CO\t")
		sb.WriteString(comment)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ReferenceNames returns the contig names of the SQ lines, in
// reference id order.
func (hdr *Header) ReferenceNames() []string {
	names := make([]string, 0, len(hdr.SQ))
	for _, record := range hdr.SQ {
		names = append(names, record["SN"])
	}
	return names
}

// ReadGroupID returns the index of the read group with the given ID,
// or -1 when the header does not list it.
func (hdr *Header) ReadGroupID(id string) int32 {
	for i, record := range hdr.RG {
		if record["ID"] == id {
			return int32(i)
		}
	}
	return -1
}

// Header parses the SAM header text of the stream.
func (reader *Reader) Header() (*Header, error) {
	return ParseHeader(reader.Text)
}
