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
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/willf/bitset"

	"github.com/exascience/elrad/sam"
	"github.com/exascience/elrad/utils"
)

// An AlignmentSource delivers alignments in file order. Read returns
// io.EOF after the last alignment. *sam.InputFile implements it.
type AlignmentSource interface {
	Read() (*sam.Alignment, error)
}

type aggregatorState int

const (
	awaitingFirst aggregatorState = iota
	accumulating
	skipping
	exhausted
)

/*
An Aggregator collapses consecutive alignments with the same read name
into ReadRecords.

The alignments of a read must be adjacent in the input. This is not
checked: if they are not, one read yields several records.

Only the alignment that starts a read determines its barcode and UMI.
Unmapped alignments contribute no target. Reads whose barcode or UMI
has more than one N are skipped entirely.
*/
type Aggregator struct {
	source      AlignmentSource
	pending     *sam.Alignment
	barcodeTag  utils.Symbol
	umiTag      utils.Symbol
	schema      *Schema
	targetCount int
	targets     *bitset.BitSet

	state   aggregatorState
	qname   string
	current *ReadRecord

	alignments uint64
	unmapped   uint64
	skipped    uint64
}

// NewAggregator returns an Aggregator over source. If first is not
// nil, it is processed before any alignment from source.
func NewAggregator(source AlignmentSource, first *sam.Alignment, schema *Schema, targetCount int, barcodeTag, umiTag string) *Aggregator {
	return &Aggregator{
		source:      source,
		pending:     first,
		barcodeTag:  utils.Intern(barcodeTag),
		umiTag:      utils.Intern(umiTag),
		schema:      schema,
		targetCount: targetCount,
		targets:     bitset.New(uint(targetCount)),
	}
}

func (agg *Aggregator) read() (*sam.Alignment, error) {
	if aln := agg.pending; aln != nil {
		agg.pending = nil
		return aln, nil
	}
	return agg.source.Read()
}

// Next returns the next ReadRecord, or io.EOF once the input is
// exhausted and the last read has been returned.
func (agg *Aggregator) Next() (*ReadRecord, error) {
	if agg.state == exhausted {
		return nil, io.EOF
	}
	for {
		aln, err := agg.read()
		if err == io.EOF {
			previous := agg.state
			agg.state = exhausted
			if previous == accumulating && len(agg.current.TargetIDs) > 0 {
				return agg.emit(), nil
			}
			return nil, io.EOF
		} else if err != nil {
			return nil, &DecodeError{Op: "reading alignment", Err: err}
		}
		agg.alignments++

		if agg.state != awaitingFirst && aln.QNAME == agg.qname {
			if agg.state == accumulating {
				if err := agg.addTarget(aln); err != nil {
					return nil, err
				}
			}
			continue
		}

		var record *ReadRecord
		if agg.state == accumulating && len(agg.current.TargetIDs) > 0 {
			record = agg.emit()
		}
		if err := agg.seed(aln); err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}
	}
}

func (agg *Aggregator) emit() *ReadRecord {
	record := agg.current
	if len(record.TargetIDs) == 0 {
		log.Panic("attempt to emit read ", agg.qname, " without targets")
	}
	agg.current = nil
	return record
}

func (agg *Aggregator) packTag(aln *sam.Alignment, tag utils.Symbol, length int, width RADType) (uint64, error) {
	seq, ok := aln.StringTag(tag)
	if !ok {
		return 0, &DecodeError{Op: fmt.Sprintf("alignment %v lacks a %v tag of type Z", aln.QNAME, *tag)}
	}
	if len(seq) != length {
		return 0, &DecodeError{Op: fmt.Sprintf("%v tag %v of alignment %v has length %v, but the file was started with length %v", *tag, seq, aln.QNAME, len(seq), length)}
	}
	return PackBarcode(seq, width)
}

// seed starts a new read with aln.
func (agg *Aggregator) seed(aln *sam.Alignment) error {
	agg.qname = aln.QNAME
	barcode, err := agg.packTag(aln, agg.barcodeTag, agg.schema.BarcodeLength, agg.schema.BarcodeType)
	if err == nil {
		var umi uint64
		if umi, err = agg.packTag(aln, agg.umiTag, agg.schema.UMILength, agg.schema.UMIType); err == nil {
			agg.state = accumulating
			agg.current = &ReadRecord{
				Barcode:   barcode,
				UMI:       umi,
				TargetIDs: make([]uint32, 0, 4),
			}
			return agg.addTarget(aln)
		}
	}
	if errors.Is(err, ErrAmbiguousBases) {
		agg.state = skipping
		agg.current = nil
		agg.skipped++
		return nil
	}
	return err
}

func (agg *Aggregator) addTarget(aln *sam.Alignment) error {
	if aln.IsUnmapped() || aln.REFID < 0 {
		agg.unmapped++
		return nil
	}
	if int(aln.REFID) >= agg.targetCount {
		return &DecodeError{Op: fmt.Sprintf("target id %v of alignment %v exceeds target count %v", aln.REFID, aln.QNAME, agg.targetCount)}
	}
	agg.targets.Set(uint(aln.REFID))
	agg.current.TargetIDs = append(agg.current.TargetIDs, CompressTargetID(uint32(aln.REFID), aln.IsReversed()))
	return nil
}
