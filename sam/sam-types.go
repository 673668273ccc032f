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
	"github.com/exascience/elrad/utils"
)

// IsHeaderUserTag checks if a header code is a user-defined tag,
// which contains at least one lowercase letter.
func IsHeaderUserTag(code string) bool {
	for _, c := range code {
		if ('a' <= c) && (c <= 'z') {
			return true
		}
	}
	return false
}

// Header represents the header section of a SAM or BAM file. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.3.
type Header struct {
	HD          utils.StringMap
	SQ, RG, PG  []utils.StringMap
	CO          []string
	UserRecords map[string][]utils.StringMap
}

// NewHeader allocates and initializes an empty header.
func NewHeader() *Header { return &Header{} }

// AddUserRecord adds a header line with a user-defined record code.
func (hdr *Header) AddUserRecord(code string, record utils.StringMap) {
	if hdr.UserRecords == nil {
		hdr.UserRecords = make(map[string][]utils.StringMap)
	}
	hdr.UserRecords[code] = append(hdr.UserRecords[code], record)
}

// HD_SO returns the sorting order (SO) stored in the @HD line, or
// "unknown" if it is not set.
func (hdr *Header) HD_SO() string {
	if sortingOrder, found := hdr.HD["SO"]; found {
		return sortingOrder
	}
	return "unknown"
}

// HD_GO returns the grouping order (GO) stored in the @HD line, or
// "none" if it is not set.
func (hdr *Header) HD_GO() string {
	if groupingOrder, found := hdr.HD["GO"]; found {
		return groupingOrder
	}
	return "none"
}

// IsGroupedByQueryName reports whether the header declares that all
// alignments of a read are adjacent.
func (hdr *Header) IsGroupedByQueryName() bool {
	return hdr.HD_GO() == "query" || hdr.HD_SO() == "queryname"
}

// TargetNames returns the reference sequence names of the @SQ lines,
// in order. The position of a name is its target id.
func (hdr *Header) TargetNames() []string {
	names := make([]string, len(hdr.SQ))
	for i, sq := range hdr.SQ {
		names[i] = sq["SN"]
	}
	return names
}

// Alignment represents the fields of a SAM/BAM alignment line that
// are relevant for RAD conversion. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.4.
type Alignment struct {
	QNAME string
	FLAG  uint16
	RNAME string
	// REFID is the index of RNAME in the @SQ lines, or -1 for "*".
	REFID int32
	POS   int32
	MAPQ  byte
	TAGS  utils.SmallMap
}

// NewAlignment allocates and initializes an empty alignment.
func NewAlignment() *Alignment {
	return &Alignment{
		REFID: -1,
		TAGS:  make(utils.SmallMap, 0, 16),
	}
}

// Bit values for the FLAG field of an alignment.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

func (aln *Alignment) IsUnmapped() bool  { return (aln.FLAG & Unmapped) != 0 }
func (aln *Alignment) IsReversed() bool  { return (aln.FLAG & Reversed) != 0 }
func (aln *Alignment) IsSecondary() bool { return (aln.FLAG & Secondary) != 0 }

// StringTag returns the value of an optional field of type Z.
func (aln *Alignment) StringTag(tag utils.Symbol) (string, bool) {
	return aln.TAGS.GetString(tag)
}
