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
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/exascience/elrad/utils"
	"github.com/exascience/elrad/utils/bgzf"
)

type (
	// alignmentReader is a common interface for reading both SAM and BAM files.
	alignmentReader interface {
		ParseHeader() (*Header, error)
		Read() (*Alignment, error)
		io.Closer
	}

	// InputFile represents a SAM or BAM file for input.
	InputFile struct {
		reader alignmentReader
	}
)

// Close closes the SAM/BAM input file.
func (f *InputFile) Close() error {
	return f.reader.Close()
}

// ParseHeader fetches the header from a SAM or BAM file. It must be
// called exactly once, before the first call to Read.
func (f *InputFile) ParseHeader() (*Header, error) {
	return f.reader.ParseHeader()
}

// Read returns the next alignment in file order, or io.EOF when all
// alignments have been read.
func (f *InputFile) Read() (*Alignment, error) {
	return f.reader.Read()
}

// SAM file extensions.
const (
	SamExt  = ".sam"
	BamExt  = ".bam"
	CramExt = ".cram"
)

// Open a SAM or BAM file for input.
//
// If the filename extension is not .bam, then .sam is always assumed.
// SAM input may be gzip/BGZF compressed. Compressed blocks are
// inflated using up to threads goroutines; threads <= 0 means one per
// available processor.
//
// If the name is "/dev/stdin", then the input is read from os.Stdin.
func Open(name string, threads int) (*InputFile, error) {
	switch filepath.Ext(name) {
	case BamExt:
		file, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		r, err := bgzf.NewReader(bufio.NewReader(file), threads)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return &InputFile{reader: &bamReader{rc: file, bgzf: r}}, nil
	case CramExt:
		return nil, fmt.Errorf("CRAM format not supported when opening %v", name)
	default:
		var rc io.ReadCloser
		if name == "/dev/stdin" {
			rc = ioutil.NopCloser(os.Stdin)
		} else {
			file, err := os.Open(name)
			if err != nil {
				return nil, err
			}
			rc = file
		}
		buf, gz, err := utils.HandleBGZF(bufio.NewReader(rc), threads)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		return &InputFile{reader: &samReader{
			rc:  rc,
			gz:  gz,
			buf: buf,
		}}, nil
	}
}
