// Package cram is a library for reading and writing CRAM files, the
// reference-compressed columnar container format for genomic
// alignments. See https://samtools.github.io/hts-specs/CRAMv3.pdf for
// the format specification.
//
// The package implements the full container/slice/block structure,
// the per-series encodings (external, huffman, byte array, beta,
// gamma, subexponential, and Golomb codes), the rANS and adaptive
// arithmetic entropy coders, and the reference-based reconstruction
// of read bases from substitution/insertion/deletion features.
//
// Reading and writing operate on alignment records represented by the
// Record struct. Reference sequences are injected through the
// Reference interface; the fasta package provides an implementation
// backed by FASTA or mmapped .elfasta files. Containers are
// independent compression units, and the Reader can decode them on
// multiple cores using the pargo library, while preserving container
// order. See https://godoc.org/github.com/ExaScience/pargo/pipeline
// for details of pargo pipelines if necessary.
package cram
