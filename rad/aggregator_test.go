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
	"io"
	"testing"

	"github.com/exascience/elrad/sam"
)

func collect(t *testing.T, agg *Aggregator) (records []*ReadRecord) {
	for {
		rec, err := agg.Next()
		if err == io.EOF {
			return records
		} else if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}
}

func newTestAggregator(t *testing.T, targetCount int, alns ...*sam.Alignment) *Aggregator {
	schema, err := NewSchema(4, 4)
	if err != nil {
		t.Fatal(err)
	}
	return NewAggregator(newSource(alns...), nil, schema, targetCount, DefaultBarcodeTag, DefaultUMITag)
}

func TestAggregatorGrouping(t *testing.T) {
	agg := newTestAggregator(t, 4,
		alignment("r1", 0, false, "ACGT", "TTTT"),
		alignment("r1", 3, true, "GGGG", "GGGG"),
		alignment("r2", 1, false, "CCCC", "AAAA"),
	)
	records := collect(t, agg)
	if len(records) != 2 {
		t.Fatalf("got %v records, expected 2", len(records))
	}
	r1, r2 := records[0], records[1]
	if r1.Barcode != 27 || r1.UMI != 255 || len(r1.TargetIDs) != 2 || r1.TargetIDs[0] != 0x80000000 || r1.TargetIDs[1] != 3 {
		t.Errorf("wrong first record %+v", r1)
	}
	if r2.Barcode != 85 || r2.UMI != 0 || len(r2.TargetIDs) != 1 || r2.TargetIDs[0] != 0x80000001 {
		t.Errorf("wrong second record %+v", r2)
	}
	if _, err := agg.Next(); err != io.EOF {
		t.Error("Next after exhaustion did not return io.EOF")
	}
	if agg.alignments != 3 || agg.targets.Count() != 3 {
		t.Errorf("wrong statistics: %v alignments, %v targets", agg.alignments, agg.targets.Count())
	}
}

func TestAggregatorLookahead(t *testing.T) {
	schema, _ := NewSchema(4, 4)
	first := alignment("r1", 0, false, "AAAA", "AAAA")
	agg := NewAggregator(newSource(alignment("r1", 1, false, "AAAA", "AAAA")), first, schema, 2, DefaultBarcodeTag, DefaultUMITag)
	records := collect(t, agg)
	if len(records) != 1 || len(records[0].TargetIDs) != 2 {
		t.Errorf("lookahead alignment lost: %+v", records)
	}
}

func TestAggregatorSkipsAmbiguousReads(t *testing.T) {
	agg := newTestAggregator(t, 4,
		alignment("r1", 0, false, "ANNT", "AAAA"),
		alignment("r1", 1, false, "ACGT", "AAAA"),
		alignment("r1", 2, false, "ACGT", "AAAA"),
		alignment("r2", 0, false, "ACGT", "NANA"),
		alignment("r3", 2, true, "ANGT", "AAAA"),
	)
	records := collect(t, agg)
	if len(records) != 1 {
		t.Fatalf("got %v records, expected 1", len(records))
	}
	if records[0].Barcode != 11 || records[0].TargetIDs[0] != 2 {
		t.Errorf("wrong record %+v", records[0])
	}
	if agg.skipped != 2 {
		t.Errorf("skipped %v reads, expected 2", agg.skipped)
	}
}

func TestAggregatorUnmapped(t *testing.T) {
	agg := newTestAggregator(t, 4,
		alignment("r1", -1, false, "AAAA", "AAAA"),
		alignment("r2", 1, false, "AAAA", "AAAA"),
		alignment("r2", -1, false, "AAAA", "AAAA"),
		alignment("r3", -1, false, "AAAA", "AAAA"),
	)
	records := collect(t, agg)
	if len(records) != 1 || len(records[0].TargetIDs) != 1 || records[0].TargetIDs[0] != 0x80000001 {
		t.Errorf("wrong records %+v", records)
	}
	if agg.unmapped != 3 {
		t.Errorf("counted %v unmapped alignments, expected 3", agg.unmapped)
	}
}

func TestAggregatorErrors(t *testing.T) {
	for name, alns := range map[string][]*sam.Alignment{
		"target out of range": {alignment("r1", 4, false, "AAAA", "AAAA")},
		"barcode length":      {alignment("r1", 0, false, "AAAAA", "AAAA")},
		"missing UMI":         {alignment("r1", 0, false, "AAAA", "")},
		"invalid base":        {alignment("r1", 0, false, "AXAA", "AAAA")},
	} {
		agg := newTestAggregator(t, 4, alns...)
		var decodeErr *DecodeError
		if _, err := agg.Next(); !errors.As(err, &decodeErr) {
			t.Errorf("%v: got %v, expected a DecodeError", name, err)
		}
	}
}

func TestAggregatorSourceError(t *testing.T) {
	schema, _ := NewSchema(4, 4)
	source := &sliceSource{err: errors.New("broken input")}
	agg := NewAggregator(source, nil, schema, 1, DefaultBarcodeTag, DefaultUMITag)
	var decodeErr *DecodeError
	if _, err := agg.Next(); !errors.As(err, &decodeErr) {
		t.Errorf("got %v, expected a DecodeError", err)
	}
}
