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
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/exascience/elrad/sam"
)

// TemporaryName returns a unique name for a hidden file next to
// output.
func TemporaryName(output string) string {
	dir, base := filepath.Split(output)
	return filepath.Join(dir, "."+base+"."+uuid.New().String()+".tmp")
}

/*
ConvertFile converts the SAM or BAM file named input to a RAD file
named output.

Without opts.Atomic, the output file is created before the input is
checked, so a failed conversion may leave a truncated or partial
output file behind. With opts.Atomic, the RAD file is written to a
temporary file that is renamed to output on success, and removed on
failure.
*/
func ConvertFile(input, output string, opts Options) (summary *Summary, err error) {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, &IOError{Op: "creating directory " + dir, Err: err}
		}
	}
	target := output
	if opts.Atomic {
		target = TemporaryName(output)
	}
	file, err := os.Create(target)
	if err != nil {
		return nil, &IOError{Op: "creating " + target, Err: err}
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = &IOError{Op: "closing " + target, Err: cerr}
		}
		if opts.Atomic {
			if err == nil {
				if rerr := os.Rename(target, output); rerr != nil {
					err = &IOError{Op: "renaming " + target + " to " + output, Err: rerr}
				}
			}
			if err != nil {
				_ = os.Remove(target)
			}
		}
		if err != nil {
			summary = nil
		}
	}()

	in, err := sam.Open(input, opts.Threads)
	if err != nil {
		return nil, &ConfigError{Op: "opening " + input, Err: err}
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = &DecodeError{Op: "closing " + input, Err: cerr}
		}
	}()

	hdr, err := in.ParseHeader()
	if err != nil {
		return nil, &DecodeError{Op: "parsing header of " + input, Err: err}
	}
	if !hdr.IsGroupedByQueryName() {
		log.Printf("Warning: %v is not declared as grouped by read name (SO:%v GO:%v); alignments of the same read must be adjacent.", input, hdr.HD_SO(), hdr.HD_GO())
	}
	return Encode(in, hdr.TargetNames(), file, opts)
}
