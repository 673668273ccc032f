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
	"fmt"
	"strings"
)

// AmbiguousBase is the nucleotide symbol for an unknown base.
const AmbiguousBase = 'N'

/*
SubstituteAmbiguous replaces the first N in seq with an A. The
replacement is deterministic, so that repeated conversions of the same
input produce identical files.

It also reports whether the result is free of Ns.
*/
func SubstituteAmbiguous(seq string) (string, bool) {
	i := strings.IndexByte(seq, AmbiguousBase)
	if i < 0 {
		return seq, true
	}
	seq = seq[:i] + "A" + seq[i+1:]
	return seq, strings.IndexByte(seq[i+1:], AmbiguousBase) < 0
}

/*
PackSequence packs a nucleotide sequence into an integer, two bits per
base: A=00, C=01, G=10, T=11. The last base ends up in the lowest two
bits. N is packed like A.

Any other symbol, including lowercase bases, is a DecodeError.
*/
func PackSequence(seq string) (uint64, error) {
	if len(seq) > MaxPackedLength {
		return 0, &DecodeError{Op: fmt.Sprintf("cannot pack sequence %v of length %v > %v", seq, len(seq), MaxPackedLength)}
	}
	var code uint64
	for i, offset := len(seq)-1, uint(0); i >= 0; i, offset = i-1, offset+2 {
		switch seq[i] {
		case 'A', AmbiguousBase:
		case 'C':
			code |= 1 << offset
		case 'G':
			code |= 2 << offset
		case 'T':
			code |= 3 << offset
		default:
			return 0, &DecodeError{Op: fmt.Sprintf("unknown nucleotide %q in sequence %v", seq[i], seq)}
		}
	}
	return code, nil
}

/*
PackBarcode packs a cell barcode or UMI for a tag of the given type.

The first N is replaced by an A. If another N remains, the result is a
DecodeError wrapping ErrAmbiguousBases, and the read should be skipped.
*/
func PackBarcode(seq string, width RADType) (uint64, error) {
	if 2*len(seq) > width.Bits() {
		return 0, &DecodeError{Op: fmt.Sprintf("sequence %v does not fit in type %v", seq, width)}
	}
	substituted, ok := SubstituteAmbiguous(seq)
	if !ok {
		return 0, &DecodeError{Op: "packing " + seq, Err: ErrAmbiguousBases}
	}
	return PackSequence(substituted)
}
