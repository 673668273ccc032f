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
	"errors"
	"fmt"
	"io"

	"github.com/exascience/elrad/sam"
	"github.com/exascience/elrad/utils"
)

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	}
	if pos < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(pos)
	return pos, nil
}

// streamOnly fails every seek, like a pipe.
type streamOnly struct {
	seekBuffer
}

func (*streamOnly) Seek(int64, int) (int64, error) {
	return 0, errors.New("illegal seek")
}

// sliceSource delivers a fixed list of alignments.
type sliceSource struct {
	alns []*sam.Alignment
	err  error
}

func (s *sliceSource) Read() (*sam.Alignment, error) {
	if len(s.alns) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	aln := s.alns[0]
	s.alns = s.alns[1:]
	return aln, nil
}

func newSource(alns ...*sam.Alignment) *sliceSource {
	return &sliceSource{alns: alns}
}

// alignment returns a mapped alignment with CB and UR tags. A
// negative refid makes it unmapped.
func alignment(qname string, refid int32, reversed bool, barcode, umi string) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = qname
	aln.REFID = refid
	aln.RNAME = "*"
	if refid < 0 {
		aln.FLAG |= sam.Unmapped
	}
	if reversed {
		aln.FLAG |= sam.Reversed
	}
	if barcode != "" {
		aln.TAGS.Set(utils.Intern(DefaultBarcodeTag), barcode)
	}
	if umi != "" {
		aln.TAGS.Set(utils.Intern(DefaultUMITag), umi)
	}
	return aln
}

type decodedRecord struct {
	barcode, umi uint32
	targets      []uint32
}

type decodedChunk struct {
	nbytes  uint32
	records []decodedRecord
}

type decodedFile struct {
	paired        byte
	targetNames   []string
	chunkCount    uint64
	fileTags      TagCatalog
	readTags      TagCatalog
	alignmentTags TagCatalog
	barcodeLength uint16
	umiLength     uint16
	chunks        []decodedChunk
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) take(n int) []byte {
	if d.pos+n > len(d.data) {
		panic(fmt.Sprintf("truncated RAD data: need %v bytes at %v, have %v", n, d.pos, len(d.data)))
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) u8() byte    { return d.take(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }
func (d *decoder) str() string { return string(d.take(int(d.u16()))) }

func (d *decoder) catalog() TagCatalog {
	n := int(d.u16())
	c := make(TagCatalog, n)
	for i := range c {
		c[i].Name = d.str()
		c[i].Type = RADType(d.u8())
	}
	return c
}

// decodeRAD parses a complete RAD file, or returns an error if it is
// malformed.
func decodeRAD(data []byte) (f *decodedFile, err error) {
	defer func() {
		if x := recover(); x != nil {
			f, err = nil, fmt.Errorf("%v", x)
		}
	}()
	d := &decoder{data: data}
	f = &decodedFile{paired: d.u8()}
	f.targetNames = make([]string, d.u64())
	for i := range f.targetNames {
		f.targetNames[i] = d.str()
	}
	f.chunkCount = d.u64()
	f.fileTags = d.catalog()
	f.readTags = d.catalog()
	f.alignmentTags = d.catalog()
	f.barcodeLength = d.u16()
	f.umiLength = d.u16()
	for d.pos < len(d.data) {
		start := d.pos
		chunk := decodedChunk{nbytes: d.u32()}
		nrec := d.u32()
		for i := uint32(0); i < nrec; i++ {
			n := d.u32()
			rec := decodedRecord{barcode: d.u32(), umi: d.u32()}
			rec.targets = make([]uint32, n)
			for j := range rec.targets {
				rec.targets[j] = d.u32()
			}
			chunk.records = append(chunk.records, rec)
		}
		if got := uint32(d.pos - start); got != chunk.nbytes {
			return nil, fmt.Errorf("chunk at %v declares %v bytes, but has %v", start, chunk.nbytes, got)
		}
		f.chunks = append(f.chunks, chunk)
	}
	if uint64(len(f.chunks)) != f.chunkCount {
		return nil, fmt.Errorf("header declares %v chunks, but file has %v", f.chunkCount, len(f.chunks))
	}
	return f, nil
}

func (f *decodedFile) records() (result []decodedRecord) {
	for _, chunk := range f.chunks {
		result = append(result, chunk.records...)
	}
	return result
}

func recordsEqual(r1, r2 []decodedRecord) bool {
	if len(r1) != len(r2) {
		return false
	}
	for i, rec := range r1 {
		if rec.barcode != r2[i].barcode || rec.umi != r2[i].umi || len(rec.targets) != len(r2[i].targets) {
			return false
		}
		for j, tid := range rec.targets {
			if tid != r2[i].targets[j] {
				return false
			}
		}
	}
	return true
}
