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

package utils

import (
	"bufio"
	"io"

	"github.com/exascience/elrad/utils/bgzf"
)

// HandleBGZF checks if the given reader produces a gzip file by
// looking at the initial byte. It then either returns a bgzf.Reader
// (wrapped in a bufio.Reader) that inflates with the given number of
// threads, or returns the given reader unchanged. The returned closer
// is nil in the latter case.
func HandleBGZF(buf *bufio.Reader, threads int) (*bufio.Reader, io.Closer, error) {
	ok, err := bgzf.IsGzip(buf)
	if err == io.EOF {
		return buf, nil, nil
	} else if err != nil {
		return nil, nil, err
	}
	if !ok {
		return buf, nil, nil
	}
	r, err := bgzf.NewReader(buf, threads)
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewReader(r), r, nil
}
