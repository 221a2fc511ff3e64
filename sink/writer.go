// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package sink reconstructs a record's bytes from the staged buffers a
// reassembler emits as one SpanningBuffers and writes it downstream.
package sink

import (
	"io"

	"github.com/flowlake/spantuple/reassemble"
)

// Writer formats emitted spans onto an underlying io.Writer, one
// reconstructed record per line.
type Writer struct {
	W io.Writer
}

// New returns a Writer that writes to w.
func New(w io.Writer) *Writer {
	return &Writer{W: w}
}

// WriteSpan concatenates span's buffers, trimmed to the leading and
// trailing delimiter boundaries the first and last buffer carry, and
// writes the result followed by a newline. Every handle in span is
// released once its bytes have been copied out, regardless of error.
func (w *Writer) WriteSpan(span reassemble.SpanningBuffers) error {
	var err error
	for i, buf := range span {
		data := buf.Handle.Bytes()
		start, end := trimRange(buf, i == 0, i == len(span)-1, len(data))
		if err == nil && start < end {
			_, err = w.W.Write(data[start:end])
		}
		buf.Handle.Release()
	}
	if err == nil {
		_, err = w.W.Write([]byte{'\n'})
	}
	return err
}

// trimRange computes the payload slice of one buffer within a span:
// the first buffer's payload begins just after the delimiter that
// closed the prior span (invariant 3), and the last buffer's payload
// ends just before the delimiter that closes this one. A single-buffer
// span applies both trims.
func trimRange(buf reassemble.StagedBuffer, isFirst, isLast bool, size int) (start, end int) {
	start, end = 0, size

	if isFirst {
		if offset, ok := buf.Trailing(); ok {
			start = offset + 1
		} else if buf.HasDelimiter() {
			start = buf.OffsetOfFirstDelimiter + 1
		}
	}
	if isLast && buf.HasDelimiter() {
		end = buf.OffsetOfLastDelimiter
	}
	if start > end {
		start = end
	}
	return start, end
}
