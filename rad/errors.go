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
)

var (
	// ErrNoRecords is reported when the input has no alignments, so
	// that the barcode and UMI widths cannot be determined.
	ErrNoRecords = errors.New("input has no alignment records")

	// ErrAmbiguousBases is reported when a barcode or UMI still has an
	// N after the first one has been replaced. Reads with such
	// barcodes or UMIs are skipped, not converted.
	ErrAmbiguousBases = errors.New("more than one ambiguous base")
)

// A ConfigError reports unusable input or settings: a bad input path,
// an input without alignments, or a barcode or UMI that no supported
// integer type can hold.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Op
	}
	return fmt.Sprintf("configuration error: %v: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// A DecodeError reports malformed input: an invalid nucleotide, an
// ambiguous barcode or UMI, or an alignment that cannot be parsed.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode error: " + e.Op
	}
	return fmt.Sprintf("decode error: %v: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// An IOError reports a failure to create, write, or seek the output.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return "I/O error: " + e.Op
	}
	return fmt.Sprintf("I/O error: %v: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
