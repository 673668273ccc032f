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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exascience/elrad/utils/bgzf"
)

type testRead struct {
	qname   string
	flag    uint16
	ref     int32
	pos     int32
	barcode string
	umi     string
}

var testReads = []testRead{
	{"r1", 0, 0, 10, "ACGTACGT", "TTAC"},
	{"r1", 272, 2, 20, "ACGTACGT", "TTAC"},
	{"r2", 4, -1, 0, "GGGGACGT", "AAAC"},
	{"r3", 16, 1, 30, "GGGGACGT", "AAAC"},
	{"r4", 0, 3, 40, "NNGGACGT", "AAAC"},
	{"r4", 0, 1, 40, "NNGGACGT", "AAAC"},
}

func testSamHeader() string {
	var hdr strings.Builder
	hdr.WriteString("@HD\tVN:1.6\tSO:unsorted\tGO:query\n")
	for _, name := range testTargets {
		fmt.Fprintf(&hdr, "@SQ\tSN:%v\tLN:1000\n", name)
	}
	hdr.WriteString("@PG\tID:test\tPN:test\n")
	return hdr.String()
}

func testSamText() string {
	var sam strings.Builder
	sam.WriteString(testSamHeader())
	for _, r := range testReads {
		rname := "*"
		if r.ref >= 0 {
			rname = testTargets[r.ref]
		}
		fmt.Fprintf(&sam, "%v\t%v\t%v\t%v\t255\t*\t*\t0\t0\t*\t*\tNH:i:1\tCB:Z:%v\tUR:Z:%v\tZB:B:c,1,2\n", r.qname, r.flag, rname, r.pos, r.barcode, r.umi)
	}
	return sam.String()
}

func testBamData() []byte {
	var raw bytes.Buffer
	put := func(v interface{}) { _ = binary.Write(&raw, binary.LittleEndian, v) }
	text := testSamHeader()
	raw.WriteString("BAM\x01")
	put(int32(len(text)))
	raw.WriteString(text)
	put(int32(len(testTargets)))
	for _, name := range testTargets {
		put(int32(len(name) + 1))
		raw.WriteString(name)
		raw.WriteByte(0)
		put(int32(1000))
	}
	for _, r := range testReads {
		var rec bytes.Buffer
		p := func(v interface{}) { _ = binary.Write(&rec, binary.LittleEndian, v) }
		p(r.ref)
		p(r.pos - 1)
		p(uint8(len(r.qname) + 1))
		p(uint8(255))
		p(uint16(4680))
		p(uint16(0))
		p(r.flag)
		p(int32(0))
		p(int32(-1))
		p(int32(-1))
		p(int32(0))
		rec.WriteString(r.qname)
		rec.WriteByte(0)
		rec.WriteString("NHC\x01")
		rec.WriteString("CBZ" + r.barcode + "\x00")
		rec.WriteString("URZ" + r.umi + "\x00")
		rec.WriteString("ZBBc")
		p(int32(2))
		rec.Write([]byte{1, 2})
		put(int32(rec.Len()))
		raw.Write(rec.Bytes())
	}
	return raw.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) {
	if err := ioutil.WriteFile(name, data, 0600); err != nil {
		t.Fatal(err)
	}
}

func writeBGZF(t *testing.T, name string, data []byte) {
	file, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	w := bgzf.NewWriter(file, -1)
	if _, err = w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	if err = file.Close(); err != nil {
		t.Fatal(err)
	}
}

func readRAD(t *testing.T, name string) ([]byte, *decodedFile) {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	f, err := decodeRAD(data)
	if err != nil {
		t.Fatal(err)
	}
	return data, f
}

func TestConvertSAM(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "reads.sam")
	writeFile(t, input, []byte(testSamText()))
	output := filepath.Join(dir, "out", "map.rad")
	summary, err := ConvertFile(input, output, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, f := readRAD(t, output)
	if len(f.targetNames) != len(testTargets) || f.targetNames[2] != testTargets[2] {
		t.Errorf("wrong target names %v", f.targetNames)
	}
	bc1, _ := PackSequence("ACGTACGT")
	umi1, _ := PackSequence("TTAC")
	bc3, _ := PackSequence("GGGGACGT")
	umi3, _ := PackSequence("AAAC")
	expected := []decodedRecord{
		{uint32(bc1), uint32(umi1), []uint32{0x80000000, 2}},
		{uint32(bc3), uint32(umi3), []uint32{1}},
	}
	if !recordsEqual(f.records(), expected) {
		t.Errorf("got records %+v, expected %+v", f.records(), expected)
	}
	if summary.Alignments != 6 || summary.Unmapped != 1 || summary.Reads != 2 || summary.Skipped != 1 || summary.TargetsHit != 3 {
		t.Errorf("wrong summary %+v", summary)
	}
}

func TestConvertFormatsAgree(t *testing.T) {
	dir := t.TempDir()
	samInput := filepath.Join(dir, "reads.sam")
	writeFile(t, samInput, []byte(testSamText()))
	bamInput := filepath.Join(dir, "reads.bam")
	writeBGZF(t, bamInput, testBamData())
	gzInput := filepath.Join(dir, "reads.sam.gz")
	writeBGZF(t, gzInput, []byte(testSamText()))

	var outputs [][]byte
	for _, input := range []string{samInput, bamInput, gzInput} {
		output := input + ".rad"
		if _, err := ConvertFile(input, output, Options{Threads: 2}); err != nil {
			t.Fatalf("%v: %v", input, err)
		}
		data, _ := readRAD(t, output)
		outputs = append(outputs, data)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("SAM and BAM inputs produce different RAD files")
	}
	if !bytes.Equal(outputs[0], outputs[2]) {
		t.Error("plain and compressed SAM inputs produce different RAD files")
	}
}

func TestConvertAtomic(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "map.rad")
	_, err := ConvertFile(filepath.Join(dir, "missing.sam"), output, Options{Atomic: true})
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("got %v, expected a ConfigError", err)
	}
	if entries, _ := ioutil.ReadDir(dir); len(entries) != 0 {
		t.Errorf("failed atomic conversion left %v files behind", len(entries))
	}

	input := filepath.Join(dir, "reads.sam")
	writeFile(t, input, []byte(testSamText()))
	if _, err = ConvertFile(input, output, Options{Atomic: true}); err != nil {
		t.Fatal(err)
	}
	if entries, _ := ioutil.ReadDir(dir); len(entries) != 2 {
		t.Errorf("atomic conversion left %v files, expected 2", len(entries))
	}
	readRAD(t, output)
}

func TestConvertEmptyInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.sam")
	writeFile(t, input, []byte(testSamHeader()))
	output := filepath.Join(dir, "map.rad")
	if _, err := ConvertFile(input, output, Options{}); !errors.Is(err, ErrNoRecords) {
		t.Errorf("got %v, expected ErrNoRecords", err)
	}
	// Without Atomic, the output is created before the input is read.
	info, err := os.Stat(output)
	if err != nil || info.Size() != 0 {
		t.Errorf("expected an empty output file, got %v, %v", info, err)
	}
}

func TestConvertCRAM(t *testing.T) {
	dir := t.TempDir()
	var configErr *ConfigError
	if _, err := ConvertFile(filepath.Join(dir, "reads.cram"), filepath.Join(dir, "map.rad"), Options{}); !errors.As(err, &configErr) {
		t.Errorf("got %v, expected a ConfigError", err)
	}
}

func TestTemporaryName(t *testing.T) {
	name := TemporaryName(filepath.Join("out", "map.rad"))
	if filepath.Dir(name) != "out" || !strings.HasPrefix(filepath.Base(name), ".map.rad.") || !strings.HasSuffix(name, ".tmp") {
		t.Errorf("unexpected temporary name %v", name)
	}
	if name == TemporaryName(filepath.Join("out", "map.rad")) {
		t.Error("temporary names are not unique")
	}
}
