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

package reassemble

// BufferHandle is an opaque, reference-counted handle to the raw bytes
// of a source buffer. The reassembler never allocates or copies
// payload bytes; it only moves handles between slots and callers.
type BufferHandle interface {
	Bytes() []byte
	Release()
}

// noOffset marks an absent byte offset.
const noOffset = -1

// StagedBuffer is an immutable descriptor pairing a buffer handle with
// the delimiter geometry a parser found inside it. It is created by the
// parser before ingest and consumed exactly once by a span emission.
type StagedBuffer struct {
	Handle BufferHandle

	OffsetOfFirstDelimiter int
	OffsetOfLastDelimiter  int
	SizeInBytes            int

	// trailingOffset is set only on the copy returned as the first
	// buffer of a span whose head slot carried a trailing-offset
	// annotation (see AcceptWithDelimiterTrailingAnnotation); it is not
	// part of the descriptor as the parser originally built it.
	trailingOffset int32
}

// NewStagedBuffer describes a buffer the parser found no delimiter in.
func NewStagedBuffer(handle BufferHandle, size int) StagedBuffer {
	return StagedBuffer{
		Handle:                 handle,
		OffsetOfFirstDelimiter: noOffset,
		OffsetOfLastDelimiter:  noOffset,
		SizeInBytes:            size,
		trailingOffset:         noOffset,
	}
}

// NewStagedBufferWithDelimiters describes a buffer containing at least
// one complete delimiter.
func NewStagedBufferWithDelimiters(handle BufferHandle, size, firstDelim, lastDelim int) StagedBuffer {
	return StagedBuffer{
		Handle:                 handle,
		OffsetOfFirstDelimiter: firstDelim,
		OffsetOfLastDelimiter:  lastDelim,
		SizeInBytes:            size,
		trailingOffset:         noOffset,
	}
}

// HasDelimiter reports whether the parser found at least one delimiter
// inside this buffer.
func (s StagedBuffer) HasDelimiter() bool {
	return s.OffsetOfFirstDelimiter != noOffset
}

// Trailing reports the trailing-offset annotation this buffer was
// claimed with, when it is the first buffer of a span that starts at
// an annotation set through AcceptWithDelimiterTrailingAnnotation
// rather than at a scanned delimiter. ok is false for every other
// buffer.
func (s StagedBuffer) Trailing() (offset int, ok bool) {
	if s.trailingOffset == noOffset {
		return 0, false
	}
	return int(s.trailingOffset), true
}

func withTrailing(buf *StagedBuffer, offset int32, has bool) StagedBuffer {
	out := *buf
	if has {
		out.trailingOffset = offset
	}
	return out
}
