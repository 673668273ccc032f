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

// Package bgzf reads and writes BGZF files, the blocked gzip format
// underlying BAM files. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.1.
//
// Blocks are inflated and deflated in parallel with a pargo pipeline,
// and always delivered in their original order.
//
// RAD output is never compressed, so conversions only use Reader.
// Writer produces BGZF input, such as the BAM and compressed SAM
// fixtures of the conversion tests.
package bgzf

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
)

// IsGzip determines if the the given byte scanner produces a gzip
// file. It uses ReadByte and UnreadByte to check only the initial
// byte from the input.
func IsGzip(scanner io.ByteScanner) (bool, error) {
	b, err := scanner.ReadByte()
	if err != nil {
		return false, err
	}
	if err := scanner.UnreadByte(); err != nil {
		return false, err
	}
	return b == 0x1f, nil
}

// maxBlockSize is the maximum size of a BGZF block, compressed or not.
const maxBlockSize = 65536

// eofMarker is the empty block that terminates every BGZF file.
var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// blockHeader is the gzip member header of a BGZF block, with a zero
// placeholder for the block size at offset 16.
var blockHeader = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
}

type (
	// block is one block of data in a BGZF file. Before inflation,
	// Crc32 and Size describe the uncompressed contents.
	block struct {
		Data  []byte
		Crc32 uint32
		Size  uint32
	}

	// Reader reads from a BGZF file, inflating blocks in parallel.
	Reader struct {
		err     error
		r       io.Reader
		gz      *gzip.Reader
		p       pipeline.Pipeline
		w       sync.WaitGroup
		channel chan *block
		done    chan struct{}
		ctx     context.Context
		cancel  func()
		data    interface{}
		index   int
		current *block
	}

	// blockSource is the pipeline.Source view of a Reader.
	blockSource Reader
)

var blockPool = sync.Pool{New: func() interface{} {
	return &block{Data: make([]byte, 0, maxBlockSize)}
}}

func (src *blockSource) readBlock() (b *block, err error) {
	extra := src.gz.Extra
	var slen int
	for i := 0; i+4 <= len(extra); i += 4 + slen {
		slen = int(binary.LittleEndian.Uint16(extra[i+2 : i+4]))
		if extra[i] != 'B' || extra[i+1] != 'C' || slen != 2 {
			continue
		}
		if i+6 > len(extra) {
			return nil, errors.New("truncated BC extra subfield in BGZF header")
		}
		bsize := int(binary.LittleEndian.Uint16(extra[i+4 : i+6]))
		// A block is a 12-byte gzip header, the extra field, the
		// compressed data and an 8-byte trailer. BSIZE is its size
		// minus 1.
		size := bsize - len(extra) - 19
		if size < 0 || size > maxBlockSize {
			return nil, fmt.Errorf("invalid BGZF block size %v", bsize+1)
		}
		b = blockPool.Get().(*block)
		b.Data = b.Data[:size]
		if _, err = io.ReadFull(src.r, b.Data); err != nil {
			return
		}
		var tail [8]byte
		if _, err = io.ReadFull(src.r, tail[:]); err != nil {
			return
		}
		b.Crc32 = binary.LittleEndian.Uint32(tail[0:4])
		b.Size = binary.LittleEndian.Uint32(tail[4:8])
		if b.Size > maxBlockSize {
			blockPool.Put(b)
			return nil, fmt.Errorf("invalid BGZF uncompressed block size %v", b.Size)
		}
		err = src.gz.Reset(src.r)
		if err == io.EOF {
			if len(b.Data) != 2 || b.Data[0] != 3 || b.Data[1] != 0 || b.Crc32 != 0 || b.Size != 0 {
				err = errors.New("invalid BGZF file: does not end in proper EOF marker")
			}
		} else if err != nil {
			err = fmt.Errorf("%v while reading a BGZF block", err)
		}
		return
	}
	return nil, errors.New("missing BC extra subfield in BGZF header")
}

// Err implements the corresponding method of pipeline.Source
func (src *blockSource) Err() error {
	if src.err != io.EOF {
		return src.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (src *blockSource) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (src *blockSource) Fetch(_ int) (fetched int) {
	if src.err != nil {
		return 0
	}
	b, err := src.readBlock()
	src.err = err
	if b == nil || (err != nil && err != io.EOF) {
		src.data = nil
		return 0
	}
	src.data = b
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (src *blockSource) Data() interface{} {
	return src.data
}

var flateReaderPool sync.Pool

func (bgzf *Reader) inflate(compressed *block) *block {
	blockReader := bytes.NewReader(compressed.Data)
	var flateReader io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		flateReader = flate.NewReader(blockReader)
	} else {
		flateReader = pooled.(io.ReadCloser)
		if err := flateReader.(flate.Resetter).Reset(blockReader, nil); err != nil {
			flateReader = flate.NewReader(blockReader)
		}
	}
	uncompressed := blockPool.Get().(*block)
	uncompressed.Data = uncompressed.Data[:int(compressed.Size)]
	if _, err := io.ReadFull(flateReader, uncompressed.Data); err == io.EOF {
		bgzf.p.SetErr(io.ErrUnexpectedEOF)
	} else if err != nil {
		bgzf.p.SetErr(err)
	} else if crc32.ChecksumIEEE(uncompressed.Data) != compressed.Crc32 {
		bgzf.p.SetErr(errors.New("invalid CRC-32 value for a data block in a BGZF file"))
	}
	if err := flateReader.Close(); err != nil {
		bgzf.p.SetErr(err)
	}
	flateReaderPool.Put(flateReader)
	blockPool.Put(compressed)
	return uncompressed
}

// NewReader returns a Reader for the given flate.Reader. At most
// threads blocks are inflated concurrently; threads <= 0 means one
// per available processor.
func NewReader(r flate.Reader, threads int) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%v in bgzf.NewReader", err)
	}
	if threads < 0 {
		threads = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	bgzf := &Reader{
		r:       r,
		gz:      gz,
		channel: make(chan *block, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	bgzf.p.Source((*blockSource)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(threads, pipeline.Receive(func(_ int, data interface{}) interface{} {
		return bgzf.inflate(data.(*block))
	})), pipeline.StrictOrd(pipeline.ReceiveAndFinalize(func(_ int, data interface{}) interface{} {
		select {
		case <-bgzf.ctx.Done():
		case bgzf.channel <- data.(*block):
		}
		return nil
	}, func() {
		close(bgzf.channel)
	})))
	bgzf.w.Add(1)
	go func() {
		defer bgzf.w.Done()
		defer close(bgzf.done)
		bgzf.p.Run()
	}()
	return bgzf, nil
}

// Close implements the corresponding method of io.Closer
func (bgzf *Reader) Close() error {
	bgzf.cancel()
	bgzf.w.Wait()
	if err := bgzf.gz.Close(); err != nil {
		return err
	}
	return bgzf.p.Err()
}

// fetchBlock waits for the next inflated block. A failing pipeline
// stops without running its finalizers, so the end of Run is observed
// through done as well.
func (bgzf *Reader) fetchBlock() error {
	var b *block
	var ok bool
	select {
	case b, ok = <-bgzf.channel:
	case <-bgzf.done:
		if err := bgzf.p.Err(); err != nil {
			return err
		}
		if err := (*blockSource)(bgzf).Err(); err != nil {
			return err
		}
		b, ok = <-bgzf.channel
	}
	if !ok {
		if err := bgzf.p.Err(); err != nil {
			return err
		}
		if err := (*blockSource)(bgzf).Err(); err != nil {
			return err
		}
		return io.EOF
	}
	bgzf.index = 0
	bgzf.current = b
	return nil
}

// Read implements the corresponding method of io.Reader
func (bgzf *Reader) Read(p []byte) (n int, err error) {
	for bgzf.current == nil || bgzf.index == len(bgzf.current.Data) {
		if bgzf.current != nil {
			blockPool.Put(bgzf.current)
			bgzf.current = nil
		}
		if err = bgzf.fetchBlock(); err != nil {
			return
		}
	}
	n = copy(p, bgzf.current.Data[bgzf.index:])
	bgzf.index += n
	return
}

type (
	// Writer writes to a BGZF file, deflating blocks in parallel.
	Writer struct {
		w       io.Writer
		level   int
		p       pipeline.Pipeline
		wait    sync.WaitGroup
		current *block
		channel chan *block
		data    interface{}
	}

	// blockSink is the pipeline.Source view of a Writer.
	blockSink Writer
)

func (*blockSink) Err() error {
	return nil
}

func (sink *blockSink) Prepare(_ context.Context) (size int) {
	return -1
}

func (sink *blockSink) Fetch(_ int) (fetched int) {
	if b, ok := <-sink.channel; ok {
		sink.data = b
		return 1
	}
	sink.data = nil
	return 0
}

func (sink *blockSink) Data() interface{} {
	return sink.data
}

var flateWriterPool sync.Pool

func (bgzf *Writer) deflate(uncompressed *block) *block {
	compressed := blockPool.Get().(*block)
	buf := bytes.NewBuffer(compressed.Data[:0])
	buf.Write(blockHeader)
	var flateWriter *flate.Writer
	if pooled := flateWriterPool.Get(); pooled != nil {
		flateWriter = pooled.(*flate.Writer)
		flateWriter.Reset(buf)
	} else {
		var err error
		if flateWriter, err = flate.NewWriter(buf, bgzf.level); err != nil {
			bgzf.p.SetErr(err)
			return compressed
		}
	}
	if _, err := flateWriter.Write(uncompressed.Data); err != nil {
		bgzf.p.SetErr(err)
	} else if err := flateWriter.Close(); err != nil {
		bgzf.p.SetErr(err)
	}
	flateWriterPool.Put(flateWriter)
	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:4], crc32.ChecksumIEEE(uncompressed.Data))
	binary.LittleEndian.PutUint32(tail[4:8], uint32(len(uncompressed.Data)))
	buf.Write(tail[:])
	compressed.Data = buf.Bytes()
	binary.LittleEndian.PutUint16(compressed.Data[16:18], uint16(len(compressed.Data)-1))
	uncompressed.Data = uncompressed.Data[:0]
	blockPool.Put(uncompressed)
	return compressed
}

// NewWriter returns a Writer for the given io.Writer.
//
// Following zlib, levels range from 1 (BestSpeed) to 9
// (BestCompression). Level -1 (DefaultCompression) uses the default
// compression level.
func NewWriter(w io.Writer, level int) *Writer {
	bgzf := &Writer{
		w:       w,
		level:   level,
		current: blockPool.Get().(*block),
		channel: make(chan *block, 1),
	}
	bgzf.current.Data = bgzf.current.Data[:0]
	bgzf.p.Source((*blockSink)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		return bgzf.deflate(data.(*block))
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		compressed := data.(*block)
		if _, err := w.Write(compressed.Data); err != nil {
			bgzf.p.SetErr(err)
		}
		compressed.Data = compressed.Data[:0]
		blockPool.Put(compressed)
		return nil
	})))
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		bgzf.p.Run()
	}()
	return bgzf
}

// Close implements the corresponding method of io.Closer. It does
// not close the underlying io.Writer.
func (bgzf *Writer) Close() error {
	if len(bgzf.current.Data) > 0 {
		bgzf.channel <- bgzf.current
		bgzf.current = nil
	}
	close(bgzf.channel)
	bgzf.wait.Wait()
	if err := bgzf.p.Err(); err != nil {
		return err
	}
	_, err := bgzf.w.Write(eofMarker)
	return err
}

// Write implements the corresponding method of io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	n = len(p)
	for len(p) > 0 {
		// Deflated data may grow slightly, so stay below the block limit.
		room := maxBlockSize - 1024 - len(bgzf.current.Data)
		if room > len(p) {
			room = len(p)
		}
		bgzf.current.Data = append(bgzf.current.Data, p[:room]...)
		p = p[room:]
		if len(bgzf.current.Data) >= maxBlockSize-1024 {
			bgzf.channel <- bgzf.current
			bgzf.current = blockPool.Get().(*block)
			bgzf.current.Data = bgzf.current.Data[:0]
		}
	}
	return n, nil
}
