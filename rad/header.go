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
	"math"
)

// FormatHeader appends the file header and the tag sections to out.
// It records the position of the chunk count placeholder, relative to
// the start of out, in hdr.ChunkCountOffset.
func FormatHeader(out []byte, hdr *FileHeader, schema *Schema) ([]byte, error) {
	start := len(out)

	// RAD files for single-cell data are never paired.
	out = append(out, 0)
	out = appendUint64(out, uint64(len(hdr.TargetNames)))
	for _, name := range hdr.TargetNames {
		var err error
		if out, err = appendString(out, name); err != nil {
			return out, err
		}
	}
	hdr.ChunkCountOffset = int64(len(out) - start)
	out = appendUint64(out, hdr.ChunkCount)

	for _, catalog := range []TagCatalog{schema.FileTags, schema.ReadTags, schema.AlignmentTags} {
		var err error
		if out, err = catalog.Format(out); err != nil {
			return out, err
		}
	}

	// Values of the file-level tags.
	if schema.BarcodeLength > math.MaxUint16 || schema.UMILength > math.MaxUint16 {
		return out, &ConfigError{Op: "barcode or UMI length exceeds u16 range"}
	}
	out = appendUint16(out, uint16(schema.BarcodeLength))
	out = appendUint16(out, uint16(schema.UMILength))
	return out, nil
}
