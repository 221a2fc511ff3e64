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

// Package source supplies the reassembler's upstream collaborators:
// adaptors that chop a byte stream into sequence-numbered buffers, a
// dispatcher that fans those buffers out to worker goroutines, and a
// router that shards streams across a fixed table of reassemblers.
package source

import (
	"context"

	"github.com/flowlake/spantuple/bufpool"
	"github.com/flowlake/spantuple/delim"
	"github.com/flowlake/spantuple/reassemble"
)

// Buffer is one physical chunk an adaptor delivers, already scanned
// for delimiters.
type Buffer struct {
	Seq    reassemble.SequenceNumber
	Handle *bufpool.Handle
	Delim  delim.Result
}

// Staged builds the reassemble.StagedBuffer this Buffer describes.
func (b Buffer) Staged() reassemble.StagedBuffer {
	if !b.Delim.Found {
		return reassemble.NewStagedBuffer(b.Handle, len(b.Handle.Bytes()))
	}
	return reassemble.NewStagedBufferWithDelimiters(b.Handle, len(b.Handle.Bytes()), b.Delim.FirstOffset, b.Delim.LastOffset)
}

// Adaptor delivers a stream's buffers in whatever order it can
// produce them; sequence numbers need not arrive monotonically at the
// consumer when a Dispatcher fans them out across workers.
type Adaptor interface {
	// Next blocks until a buffer is ready, the stream is exhausted
	// (io.EOF), or ctx is done.
	Next(ctx context.Context) (Buffer, error)
}
