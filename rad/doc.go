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

/*
Package rad encodes alignments, grouped by read name, into RAD files
for single-cell quantification.

A RAD file has the following layout. All integers are little-endian.

	is_paired        u8, always 0
	ref_count        u64
	ref_count times  name_len u16, name bytes
	num_chunks       u64, patched when all chunks are written
	file-level tags  count u16, count times {name_len u16, name, type u8}
	read-level tags  same shape
	alignment tags   same shape
	barcode_len u16, umi_len u16
	chunks until EOF:
	    nbytes u32, nrec u32,
	    nrec times {n_targets u32, barcode u32, umi u32, n_targets times target u32}

The read-level tags declare the narrowest unsigned integer type that
holds the 2-bit packed barcode and UMI. In the records themselves,
barcodes and UMIs always occupy 32 bits.

Encoding is a single sequential pass. The number of chunks is only
known at the end, so the output must be seekable.
*/
package rad
