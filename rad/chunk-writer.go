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
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/exascience/elrad/internal"
)

// DefaultChunkCapacity is the default number of records per chunk.
const DefaultChunkCapacity = 10000

/*
A ChunkWriter groups ReadRecords into chunks. Each chunk starts with
its size in bytes, including the 8-byte prefix, followed by its record
count.

A chunk is flushed as soon as it holds more than capacity records, so
full chunks have capacity+1 records.
*/
type ChunkWriter struct {
	w        io.Writer
	capacity int
	progress func(chunks uint64)
	buf      []byte
	records  int
	chunks   uint64
}

// NewChunkWriter returns a ChunkWriter that writes to w. If progress
// is not nil, it is called after each chunk flushed because it was
// full, with the number of chunks written so far.
func NewChunkWriter(w io.Writer, capacity int, progress func(chunks uint64)) *ChunkWriter {
	if capacity <= 0 {
		capacity = DefaultChunkCapacity
	}
	cw := &ChunkWriter{
		w:        w,
		capacity: capacity,
		progress: progress,
		buf:      internal.ReserveByteBuffer(64 * 1024),
	}
	cw.reset()
	return cw
}

func (cw *ChunkWriter) reset() {
	cw.buf = appendUint32(appendUint32(cw.buf[:0], 0), 0)
	cw.records = 0
}

// Add appends a record to the current chunk, and flushes the chunk
// when it is over capacity.
func (cw *ChunkWriter) Add(rec *ReadRecord) error {
	cw.buf = rec.Format(cw.buf)
	cw.records++
	if cw.records > cw.capacity {
		if err := cw.Flush(); err != nil {
			return err
		}
		if cw.progress != nil {
			cw.progress(cw.chunks)
		}
	}
	return nil
}

// Flush writes the current chunk, even if it is empty.
func (cw *ChunkWriter) Flush() error {
	if len(cw.buf) > math.MaxUint32 {
		return &IOError{Op: fmt.Sprintf("chunk of %v bytes exceeds u32 range", len(cw.buf))}
	}
	binary.LittleEndian.PutUint32(cw.buf[0:], uint32(len(cw.buf)))
	binary.LittleEndian.PutUint32(cw.buf[4:], uint32(cw.records))
	if _, err := cw.w.Write(cw.buf); err != nil {
		return &IOError{Op: "writing chunk", Err: err}
	}
	cw.chunks++
	cw.reset()
	return nil
}

// Chunks returns the number of chunks written so far.
func (cw *ChunkWriter) Chunks() uint64 {
	return cw.chunks
}

// Release returns the chunk buffer to the buffer pool. The ChunkWriter
// must not be used afterwards.
func (cw *ChunkWriter) Release() {
	internal.ReleaseByteBuffer(cw.buf)
	cw.buf = nil
}
