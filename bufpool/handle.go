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

package bufpool

import "sync/atomic"

// Handle is a github.com/flowlake/spantuple/reassemble.BufferHandle
// backed by a run of one or more pages of a Pool. A Handle may be shared between a
// source's read path and the reassembler's staged copy: Retain bumps
// the count and Release decrements it, only returning the page to the
// pool when the count reaches zero.
type Handle struct {
	pool  *Pool
	index int
	pages int
	buf   []byte
	refs  atomic.Int32
}

// Bytes returns the portion of the page run that has been filled so
// far. SetLen must be called by the reader before the handle is
// published to anything that calls Bytes.
func (h *Handle) Bytes() []byte { return h.buf }

// Cap reports the total addressable size of the handle's page run.
func (h *Handle) Cap() int { return h.pages * PageSize }

// SetLen records how many bytes of the underlying page run are valid.
func (h *Handle) SetLen(n int) {
	h.buf = h.buf[:n:h.Cap()]
}

// Retain adds one reference, for callers that need the bytes to
// outlive the reassembler's own claim on the handle (e.g. a source
// that re-publishes the same physical read across two logical spans).
func (h *Handle) Retain() {
	h.refs.Add(1)
}

// Release drops one reference; the backing page returns to the pool
// once the last reference is gone. Releasing an already-released
// handle panics rather than silently double-freeing its page.
func (h *Handle) Release() {
	switch n := h.refs.Add(-1); {
	case n == 0:
		h.pool.free(h.index, h.pages)
	case n < 0:
		panic("bufpool: double release of handle")
	}
}
