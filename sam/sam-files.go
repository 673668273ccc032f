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
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/exascience/elrad/utils"
)

// ParseHeaderLine parses the tab-separated TAG:VALUE fields of a
// header line, after the record type code.
func (sc *StringScanner) ParseHeaderLine() utils.StringMap {
	if sc.err != nil {
		return nil
	}
	record := make(utils.StringMap)
	for sc.Len() > 0 {
		tag, ok := sc.readUntil(':')
		if !ok || (len(tag) != 2) {
			sc.setErr(fmt.Errorf("invalid field tag %v in SAM header line", tag))
			return nil
		}
		value, _ := sc.readUntil('\t')
		if !record.SetUniqueEntry(tag, value) {
			sc.setErr(fmt.Errorf("duplicate field tag %v in SAM header line", tag))
			return nil
		}
	}
	return record
}

// ParseSamHeader parses the header section of a SAM file. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.3.
//
// It stops at the first line that does not start with '@', which is
// left unread.
func ParseSamHeader(reader *bufio.Reader) (*Header, error) {
	hdr := NewHeader()
	var sc StringScanner
	for first := true; ; first = false {
		switch data, err := reader.Peek(1); {
		case err == io.EOF:
			return hdr, nil
		case err != nil:
			return nil, err
		case data[0] != '@':
			return hdr, nil
		}
		bytes, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			bytes = bytes[:len(bytes)-1]
		case err != io.EOF:
			return nil, err
		}
		if len(bytes) > 0 && bytes[len(bytes)-1] == '\r' {
			bytes = bytes[:len(bytes)-1]
		}
		if len(bytes) < 3 {
			return nil, fmt.Errorf("invalid SAM header line %q", bytes)
		}
		code := string(bytes[0:3])
		if code == "@CO" {
			if len(bytes) > 4 {
				hdr.CO = append(hdr.CO, string(bytes[4:]))
			} else {
				hdr.CO = append(hdr.CO, "")
			}
			continue
		}
		if len(bytes) < 4 || bytes[3] != '\t' {
			return nil, fmt.Errorf("header code %v not followed by a tab when parsing a SAM header", code)
		}
		sc.Reset(string(bytes[4:]))
		record := sc.ParseHeaderLine()
		if err := sc.Err(); err != nil {
			return nil, err
		}
		switch code {
		case "@HD":
			if !first {
				return nil, errors.New("@HD line not in first line when parsing a SAM header")
			}
			hdr.HD = record
		case "@SQ":
			hdr.SQ = append(hdr.SQ, record)
		case "@RG":
			hdr.RG = append(hdr.RG, record)
		case "@PG":
			hdr.PG = append(hdr.PG, record)
		default:
			if !IsHeaderUserTag(code) {
				return nil, fmt.Errorf("unknown SAM record type code %v", code)
			}
			hdr.AddUserRecord(code, record)
		}
	}
}

var optionalFieldParseTable = map[byte]FieldParser{
	'A': (*StringScanner).ParseChar,
	'i': (*StringScanner).ParseInteger,
	'f': (*StringScanner).ParseFloat,
	'Z': (*StringScanner).ParseString,
	'H': (*StringScanner).ParseString,
	'B': (*StringScanner).ParseString,
}

// ParseOptionalField parses one TAG:TYPE:VALUE optional field.
func (sc *StringScanner) ParseOptionalField() (tag utils.Symbol, value interface{}) {
	if sc.err != nil {
		return nil, nil
	}
	tagname, ok := sc.readUntil(':')
	if !ok || (len(tagname) != 2) {
		sc.setErr(fmt.Errorf("invalid field tag %v in SAM alignment line", tagname))
		return nil, nil
	}
	tag = utils.Intern(tagname)
	typebyte, ok := sc.readByteUntil(':')
	if !ok {
		sc.setErr(fmt.Errorf("invalid field type %q in SAM alignment line", typebyte))
		return nil, nil
	}
	parser, ok := optionalFieldParseTable[typebyte]
	if !ok {
		sc.setErr(fmt.Errorf("unknown field type %q in SAM alignment line", typebyte))
		return nil, nil
	}
	return tag, parser(sc)
}

func (sc *StringScanner) doString() string {
	if sc.err != nil {
		return ""
	}
	value, ok := sc.readUntil('\t')
	if !ok {
		sc.setErr(errors.New("missing tabulator in SAM alignment line"))
		return ""
	}
	return value
}

func (sc *StringScanner) doInt32() int32 {
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseInt(sc.doString(), 10, 32)
	if err != nil {
		sc.setErr(err)
	}
	return int32(value)
}

func (sc *StringScanner) doUint(bitSize int) uint64 {
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseUint(sc.doString(), 10, bitSize)
	if err != nil {
		sc.setErr(err)
	}
	return value
}

// ParseAlignment parses one alignment line of a SAM file. The REFID
// field is resolved through dict, which maps reference sequence names
// to their index in the @SQ lines.
func (sc *StringScanner) ParseAlignment(dict map[string]int32) (*Alignment, error) {
	aln := NewAlignment()

	aln.QNAME = sc.doString()
	aln.FLAG = uint16(sc.doUint(16))
	aln.RNAME = sc.doString()
	aln.POS = sc.doInt32()
	aln.MAPQ = byte(sc.doUint(8))
	// CIGAR, RNEXT, PNEXT, TLEN, SEQ, and QUAL play no role in RAD files.
	for i := 0; i < 5; i++ {
		sc.doString()
	}
	sc.readUntil('\t')

	for sc.Len() > 0 {
		tag, value := sc.ParseOptionalField()
		if sc.err == nil {
			aln.TAGS.Set(tag, value)
		}
	}
	if sc.err != nil {
		return nil, fmt.Errorf("%v, while parsing SAM alignment %v", sc.err, aln.QNAME)
	}

	if aln.RNAME != "*" {
		refid, ok := dict[aln.RNAME]
		if !ok {
			return nil, fmt.Errorf("reference sequence %v of SAM alignment %v not declared in the header", aln.RNAME, aln.QNAME)
		}
		aln.REFID = refid
	}
	return aln, nil
}

// samReader is an alignmentReader for a SAM InputFile.
type samReader struct {
	rc   io.Closer
	gz   io.Closer
	buf  *bufio.Reader
	dict map[string]int32
	sc   StringScanner
}

func (reader *samReader) ParseHeader() (*Header, error) {
	hdr, err := ParseSamHeader(reader.buf)
	if err != nil {
		return nil, err
	}
	reader.dict = make(map[string]int32, len(hdr.SQ))
	for index, sq := range hdr.SQ {
		sn, ok := sq["SN"]
		if !ok {
			return nil, errors.New("SN entry in a SQ header line missing")
		}
		if _, dup := reader.dict[sn]; dup {
			return nil, fmt.Errorf("duplicate reference sequence %v in SAM header", sn)
		}
		reader.dict[sn] = int32(index)
	}
	return hdr, nil
}

func (reader *samReader) Read() (*Alignment, error) {
	for {
		line, err := reader.buf.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, err
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if line == "" {
			continue
		}
		reader.sc.Reset(line)
		return reader.sc.ParseAlignment(reader.dict)
	}
}

func (reader *samReader) Close() (err error) {
	if reader.gz != nil {
		err = reader.gz.Close()
	}
	if reader.rc != nil {
		if nerr := reader.rc.Close(); err == nil {
			err = nerr
		}
	}
	return
}
