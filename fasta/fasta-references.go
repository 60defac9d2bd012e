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

package fasta

import (
	"bufio"
	"log"

	"github.com/exascience/elcram/cram"
	"github.com/exascience/elcram/internal"
)

// A Sequence is the byte string of one reference contig.
type Sequence []byte

// SeqLen implements the corresponding method of cram.Reference
func (seq Sequence) SeqLen() int32 {
	return int32(len(seq))
}

// BaseAt implements the corresponding method of cram.Reference
func (seq Sequence) BaseAt(pos int32) byte {
	if pos < 0 || pos >= int32(len(seq)) {
		return 'N'
	}
	return seq[pos]
}

// Range implements the corresponding method of cram.Reference
func (seq Sequence) Range(start, end int32) []byte {
	if start < 0 {
		start = 0
	}
	if end > int32(len(seq)) {
		end = int32(len(seq))
	}
	if start >= end {
		return nil
	}
	return seq[start:end]
}

// References holds reference sequences in the order of the sequence
// dictionary, so that reference ids in a CRAM stream resolve by
// index. It implements cram.ReferenceMap.
type References struct {
	names     []string
	sequences []Sequence
	index     map[string]int32
}

// NewReferences builds a References from contig names and sequences
// in matching order.
func NewReferences(names []string, sequences [][]byte) *References {
	if len(names) != len(sequences) {
		log.Panicf("%v contig names for %v sequences", len(names), len(sequences))
	}
	refs := &References{
		names: names,
		index: make(map[string]int32, len(names)),
	}
	for i, seq := range sequences {
		refs.sequences = append(refs.sequences, Sequence(seq))
		refs.index[names[i]] = int32(i)
	}
	return refs
}

// Reference implements the corresponding method of cram.ReferenceMap
func (refs *References) Reference(refID int32) cram.Reference {
	if refID < 0 || int(refID) >= len(refs.sequences) {
		return nil
	}
	return refs.sequences[refID]
}

// Names returns the contig names in dictionary order.
func (refs *References) Names() []string {
	return refs.names
}

// ByName returns the sequence for a contig name, or nil.
func (refs *References) ByName(name string) cram.Reference {
	if id, ok := refs.index[name]; ok {
		return refs.sequences[id]
	}
	return nil
}

// ID returns the reference id of a contig name, or -1.
func (refs *References) ID(name string) int32 {
	if id, ok := refs.index[name]; ok {
		return id
	}
	return -1
}

// ParseReferences parses a FASTA file into a References, preserving
// the order in which the contigs appear. Bases are normalized to
// upper case with ambiguity codes mapped to N, the form CRAM
// reference checksums are defined over.
func ParseReferences(filename string) *References {
	f := internal.FileOpen(filename)
	defer internal.Close(f)

	scanner := bufio.NewScanner(maybeGzip(bufio.NewReader(f)))

	var names []string
	var sequences [][]byte
	var seq []byte
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		if b[0] == '>' {
			if len(names) > 0 {
				sequences = append(sequences, seq)
			}
			names = append(names, contigFromHeader(b))
			seq = nil
			continue
		}
		if len(names) == 0 {
			log.Panicf("invalid fasta file %v - missing first header", filename)
		}
		for _, c := range b {
			seq = append(seq, ToUpperAndN(c))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Panic(err)
	}
	if len(names) == 0 {
		log.Panicf("empty fasta file %v", filename)
	}
	sequences = append(sequences, seq)
	return NewReferences(names, sequences)
}

// References converts the contents of an .elfasta file into a
// References with the given contig order.
func (fasta *MappedFasta) References(names []string) *References {
	sequences := make([][]byte, len(names))
	for i, name := range names {
		sequences[i] = fasta.Seq(name)
	}
	return NewReferences(names, sequences)
}
