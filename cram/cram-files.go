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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/exascience/elcram/internal"
	"github.com/exascience/pargo/pipeline"
	"github.com/google/uuid"
)

// the file definition preamble: magic, format version, file id
const (
	cramMajor = 3
	cramMinor = 0
)

var cramMagic = [4]byte{'C', 'R', 'A', 'M'}

type (
	// A Reader decodes a CRAM stream. Containers are decoded by
	// parallel workers; records are delivered in container order.
	Reader struct {
		err     error
		r       io.Reader
		closer  io.Closer
		refs    ReferenceMap
		sawEOF  bool
		nextIdx int32

		// Version is the format version of the stream.
		Version [2]byte
		// FileID identifies the file; writers derive it from a UUID.
		FileID [20]byte
		// Text is the SAM header text stored in the first container.
		Text string

		p       pipeline.Pipeline
		w       sync.WaitGroup
		channel chan []*Record
		ctx     context.Context
		cancel  func()
		data    interface{}
		batch   []*Record
		index   int
	}

	internalReader Reader
)

// readFileDefinition reads the fixed 26-byte preamble.
func (reader *Reader) readFileDefinition() {
	var preamble [26]byte
	internal.ReadFull(reader.r, preamble[:])
	if [4]byte{preamble[0], preamble[1], preamble[2], preamble[3]} != cramMagic {
		panic(errors.New("not a CRAM file: bad magic number"))
	}
	reader.Version = [2]byte{preamble[4], preamble[5]}
	if reader.Version[0] != cramMajor {
		panic(&UnsupportedError{What: "CRAM major version", Value: int32(reader.Version[0])})
	}
	copy(reader.FileID[:], preamble[6:])
}

// readHeaderContainer reads the container holding the SAM header
// text.
func (reader *Reader) readHeaderContainer() {
	c := readContainer(reader.r, reader.nextIdx)
	if c == nil {
		panic(ErrTruncated)
	}
	reader.nextIdx++
	r := newByteReader(c.payload)
	b := readBlock(r, c.Index, -1)
	if b.contentType != fileHeaderBlock {
		panic(&MalformedHeaderError{
			Container: c.Index,
			Slice:     -1,
			Reason:    fmt.Sprintf("expected a file header block, got content type %v", b.contentType),
		})
	}
	br := newByteReader(b.data)
	textLength := int32(br.readUint32())
	reader.Text = string(br.readBytes(int(textLength)))
}

// Err implements the corresponding method of pipeline.Source
func (reader *internalReader) Err() error {
	if reader.err != io.EOF {
		return reader.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (reader *internalReader) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (reader *internalReader) Fetch(size int) (fetched int) {
	if reader.err != nil || reader.sawEOF {
		return 0
	}
	c, err := func() (c *Container, err error) {
		defer catchErrors(&err)
		return readContainer(reader.r, reader.nextIdx), nil
	}()
	if err != nil {
		reader.err = err
		reader.data = nil
		return 0
	}
	if c == nil {
		// a CRAM stream must end in the EOF sentinel container
		reader.err = ErrTruncated
		reader.data = nil
		return 0
	}
	reader.nextIdx++
	if c.IsEOF() {
		reader.sawEOF = true
		reader.err = io.EOF
		reader.data = nil
		return 0
	}
	reader.data = c
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (reader *internalReader) Data() interface{} {
	return reader.data
}

// NewReader returns a Reader for the given stream. The reference map
// may be nil when the stream was written without reference
// compression or with embedded references.
func NewReader(r io.Reader, refs ReferenceMap) (reader *Reader, err error) {
	defer catchErrors(&err)
	reader = &Reader{
		r:       bufio.NewReader(r),
		refs:    refs,
		channel: make(chan []*Record, 1),
	}
	reader.readFileDefinition()
	reader.readHeaderContainer()
	ctx, cancel := context.WithCancel(context.Background())
	reader.ctx = ctx
	reader.cancel = cancel
	reader.p.Source((*internalReader)(reader))
	reader.p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		c := data.(*Container)
		records, err := c.Records(reader.refs)
		if err != nil {
			reader.p.SetErr(err)
			return []*Record(nil)
		}
		return records
	})), pipeline.StrictOrd(pipeline.ReceiveAndFinalize(func(_ int, data interface{}) interface{} {
		select {
		case <-reader.ctx.Done():
		case reader.channel <- data.([]*Record):
		}
		return nil
	}, func() {
		close(reader.channel)
	})))
	reader.w.Add(1)
	go func() {
		defer reader.w.Done()
		reader.p.Run()
	}()
	return reader, nil
}

// Open opens a CRAM file for reading.
func Open(name string, refs ReferenceMap) (*Reader, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(file, refs)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// Close implements the corresponding method of io.Closer
func (reader *Reader) Close() error {
	reader.cancel()
	reader.w.Wait()
	if reader.closer != nil {
		if err := reader.closer.Close(); err != nil {
			return err
		}
	}
	return reader.p.Err()
}

func (reader *Reader) fetchBatch() error {
	select {
	case <-reader.ctx.Done():
		if reader.err != nil && reader.err != io.EOF {
			return reader.err
		}
		return reader.ctx.Err()
	case batch, ok := <-reader.channel:
		if !ok {
			if err := reader.p.Err(); err != nil {
				return err
			}
			return reader.err
		}
		reader.index = 0
		reader.batch = batch
		return nil
	}
}

// ReadRecord returns the next record, or io.EOF after the last one.
func (reader *Reader) ReadRecord() (*Record, error) {
	for reader.batch == nil || reader.index == len(reader.batch) {
		reader.batch = nil
		if err := reader.fetchBatch(); err != nil {
			return nil, err
		}
	}
	rec := reader.batch[reader.index]
	reader.index++
	return rec, nil
}

// WriterOptions control how a Writer packs records into containers.
type WriterOptions struct {
	// RecordsPerSlice is the maximum number of records per slice.
	RecordsPerSlice int
	// SlicesPerContainer is the number of slices per container.
	SlicesPerContainer int
	// EmbedReference stores the reference bases each slice covers in
	// the slice itself, so readers need no reference provider.
	EmbedReference bool
}

const (
	defaultRecordsPerSlice    = 10000
	defaultSlicesPerContainer = 1
)

type (
	// A Writer encodes records into a CRAM stream. Containers are
	// compressed by parallel workers and written in order.
	Writer struct {
		w      io.Writer
		closer io.Closer
		refs   ReferenceMap

		options WriterOptions
		profile encodingProfile

		batch   []*Record
		index   int32
		counter int64

		p       pipeline.Pipeline
		wait    sync.WaitGroup
		channel chan *writeBatch
		data    interface{}
	}

	internalWriter Writer

	writeBatch struct {
		records []*Record
		index   int32
		counter int64
	}
)

// Err implements the corresponding method of pipeline.Source
func (*internalWriter) Err() error {
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (writer *internalWriter) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (writer *internalWriter) Fetch(size int) (fetched int) {
	if batch, ok := <-writer.channel; ok {
		writer.data = batch
		return 1
	}
	writer.data = nil
	return 0
}

// Data implements the corresponding method of pipeline.Source
func (writer *internalWriter) Data() interface{} {
	return writer.data
}

// appendFileDefinition appends the 26-byte preamble with a fresh
// UUID-based file id.
func appendFileDefinition(out []byte) []byte {
	out = append(out, cramMagic[:]...)
	out = append(out, cramMajor, cramMinor)
	id := uuid.New()
	out = append(out, id[:]...)
	return append(out, 0, 0, 0, 0)
}

// headerContainer builds the container holding the SAM header text.
func headerContainer(text string, index int32) *Container {
	data := appendUint32(nil, uint32(len(text)))
	data = append(data, text...)
	b := &block{contentType: fileHeaderBlock, data: data}
	c := &Container{Index: index, RefID: 0}
	c.payload = appendBlock(nil, b, methodRaw)
	return c
}

// NewWriter returns a Writer for the given stream. The SAM header
// text is stored in the first container. A nil options pointer
// selects the defaults.
func NewWriter(w io.Writer, text string, refs ReferenceMap, options *WriterOptions) (writer *Writer, err error) {
	defer catchErrors(&err)
	writer = &Writer{
		w:       w,
		refs:    refs,
		profile: defaultEncodingProfile(),
		channel: make(chan *writeBatch, 1),
	}
	if options != nil {
		writer.options = *options
	}
	if writer.options.RecordsPerSlice <= 0 {
		writer.options.RecordsPerSlice = defaultRecordsPerSlice
	}
	if writer.options.SlicesPerContainer <= 0 {
		writer.options.SlicesPerContainer = defaultSlicesPerContainer
	}

	out := appendFileDefinition(nil)
	out = appendContainer(out, headerContainer(text, 0))
	internal.Write(w, out)
	writer.index = 1

	writer.p.Source((*internalWriter)(writer))
	writer.p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		batch := data.(*writeBatch)
		out, err := func() (out []byte, err error) {
			defer catchErrors(&err)
			c := encodeContainer(batch.records, writer.refs, &writer.profile,
				writer.options.RecordsPerSlice, writer.options.EmbedReference,
				batch.index, batch.counter)
			return appendContainer(nil, c), nil
		}()
		if err != nil {
			writer.p.SetErr(err)
		}
		return out
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		out := data.([]byte)
		if _, err := w.Write(out); err != nil {
			writer.p.SetErr(err)
		}
		return nil
	})))
	writer.wait.Add(1)
	go func() {
		defer writer.wait.Done()
		writer.p.Run()
	}()
	return writer, nil
}

// Create creates a CRAM file for writing.
func Create(name, text string, refs ReferenceMap, options *WriterOptions) (*Writer, error) {
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(file, text, refs, options)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	writer.closer = file
	return writer, nil
}

// normalizeRecord fills in the derivable parts of a record before it
// is queued for encoding.
func normalizeRecord(rec *Record) {
	if rec.ReadLength == 0 && rec.Sequence != nil {
		rec.ReadLength = int32(len(rec.Sequence))
	}
	if rec.Qualities != nil {
		rec.CRAMFlags |= QualitiesStored
	}
	if rec.CRAMFlags&MateDownstream == 0 {
		rec.CRAMFlags |= Detached
	}
	if rec.IsUnmapped() && rec.Sequence == nil {
		rec.CRAMFlags |= NoSequence
	}
	if rec.CRAMFlags&QualitiesStored != 0 && int32(len(rec.Qualities)) != rec.ReadLength {
		log.Panicf("record %v has %v quality scores for read length %v", rec.Name, len(rec.Qualities), rec.ReadLength)
	}
}

func (writer *Writer) sendBatch() (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = errors.New(fmt.Sprint(x))
		}
	}()
	writer.channel <- &writeBatch{records: writer.batch, index: writer.index, counter: writer.counter}
	writer.counter += int64(len(writer.batch))
	writer.index++
	writer.batch = nil
	return nil
}

// Write queues one record for encoding.
func (writer *Writer) Write(rec *Record) (err error) {
	defer catchErrors(&err)
	normalizeRecord(rec)
	writer.batch = append(writer.batch, rec)
	if len(writer.batch) >= writer.options.RecordsPerSlice*writer.options.SlicesPerContainer {
		return writer.sendBatch()
	}
	return nil
}

// Close flushes pending records, terminates the stream with the EOF
// sentinel container, and closes the underlying file if the Writer
// owns one.
func (writer *Writer) Close() error {
	if len(writer.batch) > 0 {
		if err := writer.sendBatch(); err != nil {
			return err
		}
	}
	close(writer.channel)
	writer.wait.Wait()
	if err := writer.p.Err(); err != nil {
		return err
	}
	if _, err := writer.w.Write(eofMarker); err != nil {
		return err
	}
	if writer.closer != nil {
		return writer.closer.Close()
	}
	return nil
}
