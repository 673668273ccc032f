// elRad: a tool for converting SAM/BAM files to RAD files.
// Copyright (c) 2021 imec vzw.

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
// <https://github.com/ExaScience/elrad/blob/master/LICENSE.txt>.

package rad

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/exascience/elrad/internal"
	"github.com/exascience/elrad/utils"
)

// Default SAM tags for cell barcodes and UMIs.
const (
	DefaultBarcodeTag = "CB"
	DefaultUMITag     = "UR"
)

const outputBufferSize = 1024 * 1024

// Options configure a conversion. The zero value is usable.
type Options struct {
	// BarcodeTag and UMITag name the SAM tags holding the cell
	// barcode and the UMI. They default to CB and UR.
	BarcodeTag, UMITag string

	// ChunkCapacity defaults to DefaultChunkCapacity.
	ChunkCapacity int

	// Progress is called each time a full chunk has been written.
	Progress func(chunks uint64)

	// Threads is the number of goroutines used for decompressing
	// the input. Zero means one per available processor.
	Threads int

	// Atomic makes ConvertFile write to a temporary file that is
	// only renamed to the output name on success.
	Atomic bool
}

func (opts *Options) setDefaults() {
	if opts.BarcodeTag == "" {
		opts.BarcodeTag = DefaultBarcodeTag
	}
	if opts.UMITag == "" {
		opts.UMITag = DefaultUMITag
	}
	if opts.ChunkCapacity <= 0 {
		opts.ChunkCapacity = DefaultChunkCapacity
	}
}

// A Summary reports what a conversion has done.
type Summary struct {
	Alignments uint64
	Unmapped   uint64
	Reads      uint64
	Skipped    uint64
	Chunks     uint64
	Targets    int
	TargetsHit uint
}

/*
An Encoder converts a stream of alignments to a RAD file.

NewEncoder writes the header, Run writes the chunks, and Finish
writes the last chunk and patches the chunk count in the header.
Encode does all three.
*/
type Encoder struct {
	out        io.WriteSeeker
	start      int64
	buf        *bufio.Writer
	header     FileHeader
	schema     *Schema
	aggregator *Aggregator
	chunks     *ChunkWriter
	reads      uint64
	finished   bool
}

/*
NewEncoder reads the first alignment from source to determine the
barcode and UMI types, and writes the RAD header to out.

The header is formatted in memory first, so nothing is written to out
if the first alignment is unusable.
*/
func NewEncoder(source AlignmentSource, targetNames []string, out io.WriteSeeker, opts Options) (*Encoder, error) {
	opts.setDefaults()

	start, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &IOError{Op: "output is not seekable", Err: err}
	}

	first, err := source.Read()
	if err == io.EOF {
		return nil, &ConfigError{Op: "cannot determine barcode and UMI types", Err: ErrNoRecords}
	} else if err != nil {
		return nil, &DecodeError{Op: "reading first alignment", Err: err}
	}

	barcodeTag, umiTag := utils.Intern(opts.BarcodeTag), utils.Intern(opts.UMITag)
	barcode, ok := first.StringTag(barcodeTag)
	if !ok {
		return nil, &ConfigError{Op: fmt.Sprintf("first alignment %v lacks a %v tag of type Z", first.QNAME, opts.BarcodeTag)}
	}
	umi, ok := first.StringTag(umiTag)
	if !ok {
		return nil, &ConfigError{Op: fmt.Sprintf("first alignment %v lacks a %v tag of type Z", first.QNAME, opts.UMITag)}
	}
	schema, err := NewSchema(len(barcode), len(umi))
	if err != nil {
		return nil, err
	}

	enc := &Encoder{
		out:    out,
		start:  start,
		header: FileHeader{TargetNames: targetNames},
		schema: schema,
	}
	hdr := internal.ReserveByteBuffer(4096)
	defer func() { internal.ReleaseByteBuffer(hdr) }()
	if hdr, err = FormatHeader(hdr, &enc.header, schema); err != nil {
		return nil, err
	}
	enc.buf = bufio.NewWriterSize(out, outputBufferSize)
	if _, err = enc.buf.Write(hdr); err != nil {
		return nil, &IOError{Op: "writing header", Err: err}
	}
	enc.aggregator = NewAggregator(source, first, schema, len(targetNames), opts.BarcodeTag, opts.UMITag)
	enc.chunks = NewChunkWriter(enc.buf, opts.ChunkCapacity, opts.Progress)
	return enc, nil
}

// Schema returns the tag schema of the file being written.
func (enc *Encoder) Schema() *Schema {
	return enc.schema
}

// Run converts all remaining alignments of the source.
func (enc *Encoder) Run() error {
	for {
		record, err := enc.aggregator.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		enc.reads++
		if err = enc.chunks.Add(record); err != nil {
			return err
		}
	}
}

// Finish writes the last chunk, which may be empty, and then patches
// the chunk count in the header. The Encoder cannot be used
// afterwards.
func (enc *Encoder) Finish() error {
	if enc.finished {
		return nil
	}
	enc.finished = true
	defer enc.chunks.Release()

	if err := enc.chunks.Flush(); err != nil {
		return err
	}
	if err := enc.buf.Flush(); err != nil {
		return &IOError{Op: "flushing output", Err: err}
	}
	enc.header.ChunkCount = enc.chunks.Chunks()
	if _, err := enc.out.Seek(enc.start+enc.header.ChunkCountOffset, io.SeekStart); err != nil {
		return &IOError{Op: "seeking chunk count", Err: err}
	}
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], enc.header.ChunkCount)
	if _, err := enc.out.Write(count[:]); err != nil {
		return &IOError{Op: "writing chunk count", Err: err}
	}
	if _, err := enc.out.Seek(0, io.SeekEnd); err != nil {
		return &IOError{Op: "seeking end of output", Err: err}
	}
	return nil
}

// Summary returns the statistics of the conversion so far.
func (enc *Encoder) Summary() *Summary {
	return &Summary{
		Alignments: enc.aggregator.alignments,
		Unmapped:   enc.aggregator.unmapped,
		Reads:      enc.reads,
		Skipped:    enc.aggregator.skipped,
		Chunks:     enc.chunks.Chunks(),
		Targets:    enc.aggregator.targetCount,
		TargetsHit: enc.aggregator.targets.Count(),
	}
}

// Encode writes a complete RAD file for the alignments of source to
// out. The alignments of each read must be adjacent.
func Encode(source AlignmentSource, targetNames []string, out io.WriteSeeker, opts Options) (*Summary, error) {
	enc, err := NewEncoder(source, targetNames, out, opts)
	if err != nil {
		return nil, err
	}
	if err = enc.Run(); err != nil {
		enc.chunks.Release()
		return nil, err
	}
	if err = enc.Finish(); err != nil {
		return nil, err
	}
	return enc.Summary(), nil
}
