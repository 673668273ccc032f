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

package bgzf

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io/ioutil"
	"math/rand"
	"testing"
	"time"
)

func compress(t *testing.T, data []byte) []byte {
	var out bytes.Buffer
	w := NewWriter(&out, -1)
	for len(data) > 0 {
		n := rand.Intn(100000) + 1
		if n > len(data) {
			n = len(data)
		}
		if _, err := w.Write(data[:n]); err != nil {
			t.Fatal(err)
		}
		data = data[n:]
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestRoundTrip(t *testing.T) {
	data := make([]byte, 3*maxBlockSize+12345)
	for i := range data {
		data[i] = "ACGT\t\n"[rand.Intn(6)]
	}
	compressed := compress(t, data)
	if !bytes.HasSuffix(compressed, eofMarker) {
		t.Error("missing EOF marker")
	}
	for _, threads := range []int{0, 1, 3} {
		r, err := NewReader(bufio.NewReader(bytes.NewReader(compressed)), threads)
		if err != nil {
			t.Fatal(err)
		}
		result, err := ioutil.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if err = r.Close(); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, result) {
			t.Errorf("round trip with %v threads failed", threads)
		}
	}
}

func TestGzipCompatible(t *testing.T) {
	data := []byte("@HD\tVN:1.6\n")
	gz, err := gzip.NewReader(bytes.NewReader(compress(t, data)))
	if err != nil {
		t.Fatal(err)
	}
	result, err := ioutil.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, result) {
		t.Error("BGZF output not readable as gzip")
	}
}

func TestEmpty(t *testing.T) {
	r, err := NewReader(bufio.NewReader(bytes.NewReader(eofMarker)), 0)
	if err != nil {
		t.Fatal(err)
	}
	result, err := ioutil.ReadAll(r)
	if err != nil || len(result) != 0 {
		t.Errorf("reading an empty BGZF file returned %v bytes, %v", len(result), err)
	}
	_ = r.Close()
}

func TestMissingEOFMarker(t *testing.T) {
	compressed := compress(t, []byte("ACGT"))
	truncated := compressed[:len(compressed)-len(eofMarker)]
	r, err := NewReader(bufio.NewReader(bytes.NewReader(truncated)), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ioutil.ReadAll(r); err == nil {
		t.Error("missing EOF marker not detected")
	}
	_ = r.Close()
}

// readAllWithin reads all of compressed and fails the test if that
// takes longer than a minute.
func readAllWithin(t *testing.T, compressed []byte, threads int) error {
	r, err := NewReader(bufio.NewReader(bytes.NewReader(compressed)), threads)
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	go func() {
		_, err := ioutil.ReadAll(r)
		result <- err
	}()
	select {
	case err = <-result:
	case <-time.After(time.Minute):
		t.Fatal("reading a damaged BGZF file does not terminate")
	}
	_ = r.Close()
	return err
}

func TestDamagedBlocks(t *testing.T) {
	data := make([]byte, 40*maxBlockSize)
	for i := range data {
		data[i] = "ACGT"[rand.Intn(4)]
	}
	compressed := compress(t, data)
	blockLen := int(binary.LittleEndian.Uint16(compressed[16:18])) + 1
	for _, test := range []struct {
		name   string
		damage func(b []byte)
	}{
		{"CRC-32 of first block", func(b []byte) { b[blockLen-8] ^= 0xff }},
		{"CRC-32 of last block", func(b []byte) { b[len(b)-len(eofMarker)-8] ^= 0xff }},
		{"block size below header size", func(b []byte) { binary.LittleEndian.PutUint16(b[16:18], 5) }},
		{"uncompressed size above maximum", func(b []byte) { binary.LittleEndian.PutUint32(b[blockLen-4:], 0xffffffff) }},
	} {
		for _, threads := range []int{1, 2, 0} {
			damaged := append([]byte(nil), compressed...)
			test.damage(damaged)
			if err := readAllWithin(t, damaged, threads); err == nil {
				t.Errorf("damaged %v not detected with %v threads", test.name, threads)
			}
		}
	}
}

func TestIsGzip(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader(eofMarker))
	if ok, err := IsGzip(br); !ok || err != nil {
		t.Error("IsGzip failed on a BGZF file")
	}
	if b, _ := br.ReadByte(); b != 0x1f {
		t.Error("IsGzip consumed input")
	}
	if ok, _ := IsGzip(bufio.NewReader(bytes.NewReader([]byte("@HD")))); ok {
		t.Error("IsGzip accepted a SAM file")
	}
}
