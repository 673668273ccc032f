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

package sam

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/exascience/elrad/utils"
)

// BAMReference is a an entry in a slice of BAM-encoded sequence dictionary entries.
// See http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
type BAMReference struct {
	Name   string
	Length int32
}

func parseBamHeaderReferences(reader io.Reader, text []byte) (references []BAMReference, err error) {
	var nRef int32
	if err = binary.Read(reader, binary.LittleEndian, &nRef); err != nil {
		return nil, err
	}
	for i := int32(0); i < nRef; i++ {
		var lName int32
		if err = binary.Read(reader, binary.LittleEndian, &lName); err != nil {
			return nil, err
		}
		if lName < 1 {
			return nil, fmt.Errorf("invalid reference name length %v in BAM header", lName)
		}
		for cap(text) < int(lName) {
			text = append(text[:cap(text)], 0)
		}
		text = text[:int(lName)]
		if _, err = io.ReadFull(reader, text); err != nil {
			return nil, err
		}
		var lRef int32
		if err = binary.Read(reader, binary.LittleEndian, &lRef); err != nil {
			return nil, err
		}
		references = append(references, BAMReference{
			Name:   *utils.Intern(string(text[:len(text)-1])),
			Length: lRef,
		})
	}
	return references, nil
}

// bamMagic is the magic string for the BAM format. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
const bamMagic = "BAM\x01"

// ParseBamHeader parses a complete header in a BAM file. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
//
// Returns a freshly allocated header and the BAM-encoded sequence
// dictionary. The binary dictionary is authoritative for reference
// ids; if the header text has no @SQ lines, they are reconstructed
// from it.
func ParseBamHeader(reader io.Reader) (*Header, []BAMReference, error) {
	text := make([]byte, 4)
	if _, err := io.ReadFull(reader, text); err != nil {
		return nil, nil, err
	}
	if string(text) != bamMagic {
		return nil, nil, errors.New("invalid BAM file header")
	}
	var lText int32
	if err := binary.Read(reader, binary.LittleEndian, &lText); err != nil {
		return nil, nil, err
	}
	if lText < 0 {
		return nil, nil, fmt.Errorf("invalid header text length %v in BAM file", lText)
	}
	for cap(text) < int(lText) {
		text = append(text[:cap(text)], 0)
	}
	text = text[:int(lText)]
	if _, err := io.ReadFull(reader, text); err != nil {
		return nil, nil, err
	}
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	hdr, err := ParseSamHeader(bufio.NewReader(bytes.NewReader(text)))
	if err != nil {
		return nil, nil, err
	}
	references, err := parseBamHeaderReferences(reader, text)
	if err != nil {
		return nil, nil, err
	}
	if len(hdr.SQ) == 0 {
		for _, ref := range references {
			hdr.SQ = append(hdr.SQ, utils.StringMap{
				"SN": ref.Name,
				"LN": fmt.Sprint(ref.Length),
			})
		}
	} else if len(hdr.SQ) != len(references) {
		return nil, nil, fmt.Errorf("BAM header text declares %v reference sequences, but its dictionary has %v", len(hdr.SQ), len(references))
	}
	return hdr, references, nil
}

// bamFieldParser is the signature for all parsers for optional fields in
// read alignment records in BAM files.
type bamFieldParser func(record []byte, index int) (value interface{}, newIndex int)

func parseBamChar(record []byte, index int) (value interface{}, newIndex int) {
	return record[index], index + 1
}

func parseBamI8(record []byte, index int) (value interface{}, newIndex int) {
	return int64(int8(record[index])), index + 1
}

func parseBamU8(record []byte, index int) (value interface{}, newIndex int) {
	return int64(record[index]), index + 1
}

func parseBamI16(record []byte, index int) (value interface{}, newIndex int) {
	return int64(int16(binary.LittleEndian.Uint16(record[index : index+2]))), index + 2
}

func parseBamU16(record []byte, index int) (value interface{}, newIndex int) {
	return int64(binary.LittleEndian.Uint16(record[index : index+2])), index + 2
}

func parseBamI32(record []byte, index int) (value interface{}, newIndex int) {
	return int64(int32(binary.LittleEndian.Uint32(record[index : index+4]))), index + 4
}

func parseBamU32(record []byte, index int) (value interface{}, newIndex int) {
	return int64(binary.LittleEndian.Uint32(record[index : index+4])), index + 4
}

func parseBamFloat(record []byte, index int) (value interface{}, newIndex int) {
	return math.Float32frombits(binary.LittleEndian.Uint32(record[index : index+4])), index + 4
}

// parseBamString parses a Z or H optional field in a BAM alignment
// record and returns it as a string. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.4.
func parseBamString(record []byte, index int) (value interface{}, newIndex int) {
	end := bytes.IndexByte(record[index:], 0)
	if end < 0 {
		panic("missing NUL byte in an optional string field in a BAM alignment record")
	}
	return string(record[index : index+end]), index + end + 1
}

var bamArrayElementSize = map[byte]int{
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
}

// parseBamNumericArray skips over a B optional field in a BAM
// alignment record and returns its raw little-endian payload.
func parseBamNumericArray(record []byte, index int) (value interface{}, newIndex int) {
	size, ok := bamArrayElementSize[record[index]]
	if !ok {
		panic("invalid subtype in a numeric array in a BAM alignment record")
	}
	count := int(int32(binary.LittleEndian.Uint32(record[index+1 : index+5])))
	start := index + 5
	end := start + count*size
	return append([]byte(nil), record[start:end]...), end
}

var optionalBAMFieldParseTable = map[byte]bamFieldParser{
	'A': parseBamChar,
	'c': parseBamI8,
	'C': parseBamU8,
	's': parseBamI16,
	'S': parseBamU16,
	'i': parseBamI32,
	'I': parseBamU32,
	'f': parseBamFloat,
	'Z': parseBamString,
	'H': parseBamString,
	'B': parseBamNumericArray,
}

const (
	refIDIndex     = 0
	posIndex       = 4
	lReadNameIndex = posIndex + 4
	mapqIndex      = lReadNameIndex + 1
	binIndex       = mapqIndex + 1
	nCigarOpIndex  = binIndex + 2
	flagIndex      = nCigarOpIndex + 2
	lSeqIndex      = flagIndex + 2
	nextRefIDIndex = lSeqIndex + 4
	nextPosIndex   = nextRefIDIndex + 4
	tlenIndex      = nextPosIndex + 4
	readNameIndex  = tlenIndex + 4
)

var star = *utils.Intern("*")

// parseBamAlignment parses a read alignment record in a BAM file and
// returns a freshly allocated alignment. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Sections 4.2.
//
// Malformed records cause out-of-range accesses, which are turned
// into errors.
func parseBamAlignment(record []byte, references []BAMReference) (aln *Alignment, err error) {
	defer func() {
		if x := recover(); x != nil {
			aln = nil
			err = fmt.Errorf("malformed BAM alignment record: %v", x)
		}
	}()

	aln = NewAlignment()

	aln.REFID = int32(binary.LittleEndian.Uint32(record[refIDIndex : refIDIndex+4]))
	switch {
	case aln.REFID < 0:
		aln.REFID = -1
		aln.RNAME = star
	case int(aln.REFID) < len(references):
		aln.RNAME = references[aln.REFID].Name
	default:
		return nil, fmt.Errorf("reference id %v out of range in BAM alignment record", aln.REFID)
	}

	aln.POS = int32(binary.LittleEndian.Uint32(record[posIndex:posIndex+4])) + 1
	lReadName := int(record[lReadNameIndex])
	aln.MAPQ = record[mapqIndex]
	nCigarOp := int(binary.LittleEndian.Uint16(record[nCigarOpIndex : nCigarOpIndex+2]))
	aln.FLAG = binary.LittleEndian.Uint16(record[flagIndex : flagIndex+2])
	lSeq := int(int32(binary.LittleEndian.Uint32(record[lSeqIndex : lSeqIndex+4])))
	aln.QNAME = string(record[readNameIndex : readNameIndex+lReadName-1])

	// CIGAR operations, packed SEQ, and QUAL are not needed.
	index := readNameIndex + lReadName + 4*nCigarOp + ((lSeq + 1) >> 1) + lSeq

	for index < len(record) {
		tag := utils.Intern(string(record[index : index+2]))
		parser, ok := optionalBAMFieldParseTable[record[index+2]]
		if !ok {
			return nil, fmt.Errorf("unknown field type %q in BAM alignment record %v", record[index+2], aln.QNAME)
		}
		var value interface{}
		value, index = parser(record, index+3)
		aln.TAGS = append(aln.TAGS, utils.SmallMapEntry{Key: tag, Value: value})
	}
	if index > len(record) {
		return nil, fmt.Errorf("truncated BAM alignment record %v", aln.QNAME)
	}

	return aln, nil
}

// bamReader is an alignmentReader for a BAM InputFile.
type bamReader struct {
	rc         io.Closer
	bgzf       io.ReadCloser
	references []BAMReference
	buf        []byte
}

func (reader *bamReader) ParseHeader() (hdr *Header, err error) {
	hdr, reader.references, err = ParseBamHeader(reader.bgzf)
	reader.buf = make([]byte, 4)
	return
}

func (reader *bamReader) Read() (*Alignment, error) {
	reader.buf = reader.buf[:4]
	if _, err := io.ReadFull(reader.bgzf, reader.buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.New("truncated block size in BAM file")
		}
		return nil, err
	}
	size := int(int32(binary.LittleEndian.Uint32(reader.buf)))
	if size < readNameIndex {
		return nil, fmt.Errorf("invalid block size %v in BAM file", size)
	}
	for cap(reader.buf) < size {
		reader.buf = append(reader.buf[:cap(reader.buf)], 0)
	}
	reader.buf = reader.buf[:size]
	if _, err := io.ReadFull(reader.bgzf, reader.buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return parseBamAlignment(reader.buf, reader.references)
}

func (reader *bamReader) Close() error {
	err := reader.bgzf.Close()
	if nerr := reader.rc.Close(); err == nil {
		err = nerr
	}
	return err
}
