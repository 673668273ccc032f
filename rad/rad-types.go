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
	"math"

	"github.com/exascience/elrad/internal"
)

// RADType is the one-byte type code of a tag in a RAD file.
type RADType uint8

// RAD type codes.
const (
	BoolType RADType = iota
	U8Type
	U16Type
	U32Type
	U64Type
	F32Type
	F64Type
	ArrayType
	StringType
)

var radTypeNames = [...]string{"bool", "u8", "u16", "u32", "u64", "f32", "f64", "array", "string"}

func (t RADType) String() string {
	if int(t) < len(radTypeNames) {
		return radTypeNames[t]
	}
	return fmt.Sprintf("RADType(%d)", uint8(t))
}

// Bits returns the width of an unsigned integer type, or 0 for all
// other types.
func (t RADType) Bits() int {
	switch t {
	case U8Type:
		return 8
	case U16Type:
		return 16
	case U32Type:
		return 32
	case U64Type:
		return 64
	default:
		return 0
	}
}

// MaxPackedLength is the length of the longest nucleotide sequence
// that fits in a u64 at two bits per base.
const MaxPackedLength = 32

// IntTypeForLength returns the narrowest unsigned integer type that
// holds a nucleotide sequence of the given length at two bits per
// base.
func IntTypeForLength(length int) (RADType, error) {
	return intTypeFor("sequence", length)
}

func intTypeFor(what string, length int) (RADType, error) {
	switch {
	case length >= 1 && length <= 4:
		return U8Type, nil
	case length >= 5 && length <= 8:
		return U16Type, nil
	case length >= 9 && length <= 16:
		return U32Type, nil
	case length >= 17 && length <= MaxPackedLength:
		return U64Type, nil
	case length > MaxPackedLength:
		return 0, &ConfigError{Op: fmt.Sprintf("cannot encode %v of length %v > %v", what, length, MaxPackedLength)}
	default:
		return 0, &ConfigError{Op: fmt.Sprintf("cannot encode empty %v", what)}
	}
}

// A TagDescriptor names a tag and its type.
type TagDescriptor struct {
	Name string
	Type RADType
}

// A TagCatalog is an ordered list of tag descriptors.
type TagCatalog []TagDescriptor

// Format appends the count-prefixed catalog to out.
func (c TagCatalog) Format(out []byte) ([]byte, error) {
	if len(c) > math.MaxUint16 {
		return out, &ConfigError{Op: fmt.Sprintf("too many tags (%v) in a tag catalog", len(c))}
	}
	out = appendUint16(out, uint16(len(c)))
	for _, tag := range c {
		var err error
		if out, err = appendString(out, tag.Name); err != nil {
			return out, err
		}
		out = append(out, byte(tag.Type))
	}
	return out, nil
}

// Tag names used in RAD files.
const (
	BarcodeLengthTag   = "cblen"
	UMILengthTag       = "ulen"
	BarcodeTag         = "b"
	UMITag             = "u"
	CompressedRefIDTag = "compressed_ori_refid"
)

const (
	forwardStrandBit = 0x80000000
	chunkPrefixSize  = 8
	recordFixedSize  = 12
)

// A Schema describes the tags of a RAD file. The read-level types
// follow from the barcode and UMI lengths of the first alignment,
// and bind every read in the file.
type Schema struct {
	FileTags      TagCatalog
	ReadTags      TagCatalog
	AlignmentTags TagCatalog
	BarcodeLength int
	UMILength     int
	BarcodeType   RADType
	UMIType       RADType
}

// NewSchema returns the schema for the given barcode and UMI lengths.
func NewSchema(barcodeLength, umiLength int) (*Schema, error) {
	barcodeType, err := intTypeFor("barcode", barcodeLength)
	if err != nil {
		return nil, err
	}
	umiType, err := intTypeFor("UMI", umiLength)
	if err != nil {
		return nil, err
	}
	return &Schema{
		FileTags: TagCatalog{
			{BarcodeLengthTag, U16Type},
			{UMILengthTag, U16Type},
		},
		ReadTags: TagCatalog{
			{BarcodeTag, barcodeType},
			{UMITag, umiType},
		},
		AlignmentTags: TagCatalog{
			{CompressedRefIDTag, U32Type},
		},
		BarcodeLength: barcodeLength,
		UMILength:     umiLength,
		BarcodeType:   barcodeType,
		UMIType:       umiType,
	}, nil
}

// FileHeader is the part of a RAD file that precedes the tags.
type FileHeader struct {
	TargetNames []string
	// ChunkCount is only accurate after all chunks have been written.
	ChunkCount uint64
	// ChunkCountOffset is the position of the chunk count field,
	// relative to the start of the header.
	ChunkCountOffset int64
}

// A ReadRecord aggregates all alignments of one read.
type ReadRecord struct {
	Barcode   uint64
	UMI       uint64
	TargetIDs []uint32
}

// CompressTargetID folds the strand into the top bit of a target id:
// set for the forward strand, clear for the reverse strand.
func CompressTargetID(tid uint32, reversed bool) uint32 {
	if reversed {
		return tid
	}
	return tid | forwardStrandBit
}

// Size returns the number of bytes of the formatted record.
func (rec *ReadRecord) Size() int {
	return recordFixedSize + 4*len(rec.TargetIDs)
}

// Format appends the record to out. Barcode and UMI are truncated to
// 32 bits, whatever their declared type.
func (rec *ReadRecord) Format(out []byte) []byte {
	index, out := internal.EnlargeByteBuffer(out, rec.Size())
	binary.LittleEndian.PutUint32(out[index:], uint32(len(rec.TargetIDs)))
	binary.LittleEndian.PutUint32(out[index+4:], uint32(rec.Barcode))
	binary.LittleEndian.PutUint32(out[index+8:], uint32(rec.UMI))
	index += recordFixedSize
	for _, tid := range rec.TargetIDs {
		binary.LittleEndian.PutUint32(out[index:], tid)
		index += 4
	}
	return out
}

func appendUint16(out []byte, v uint16) []byte {
	index, out := internal.EnlargeByteBuffer(out, 2)
	binary.LittleEndian.PutUint16(out[index:], v)
	return out
}

func appendUint32(out []byte, v uint32) []byte {
	index, out := internal.EnlargeByteBuffer(out, 4)
	binary.LittleEndian.PutUint32(out[index:], v)
	return out
}

func appendUint64(out []byte, v uint64) []byte {
	index, out := internal.EnlargeByteBuffer(out, 8)
	binary.LittleEndian.PutUint64(out[index:], v)
	return out
}

// appendString appends s with a u16 length prefix.
func appendString(out []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return out, &ConfigError{Op: fmt.Sprintf("name of length %v exceeds %v bytes", len(s), math.MaxUint16)}
	}
	out = appendUint16(out, uint16(len(s)))
	return append(out, s...), nil
}
