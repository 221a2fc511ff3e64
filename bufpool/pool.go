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

// Package bufpool hands out fixed-size, page-aligned buffers for
// sources to read physical stream buffers into, and hands them back
// once a reassembled span has been written out. It is the concrete
// github.com/flowlake/spantuple/reassemble.BufferHandle implementation
// used outside of tests.
package bufpool

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/flowlake/spantuple/ints"
)

const (
	pageBits = 16
	// PageSize is the size in bytes of every buffer Acquire returns.
	PageSize = 1 << pageBits
)

// Pool is a fixed-capacity arena of PageSize buffers backed by a
// single large anonymous mapping. Acquire and a Handle's Release are
// safe for concurrent use by multiple goroutines; no operation in
// either path blocks on anything but a bounded CAS retry loop.
type Pool struct {
	mem    []byte
	npages int
	bits   []uint64

	// mu guards the multi-page path: AcquireSize's contiguous-run scan
	// and mark, and free of a multi-page run. The single-page Acquire
	// and single-page free never take it.
	mu sync.Mutex

	acquired atomic.Int64
	released atomic.Int64
}

// Stats is a point-in-time snapshot of a Pool's page accounting, fed
// to telemetry so a window rollover's buffer loss is observable
// without inspecting raw bitmap state.
type Stats struct {
	PagesInUse int64
	PagesFreed int64 // cumulative pages returned via Release, ever
	PagesCap   int
}

// Stats reports the pool's current accounting.
func (p *Pool) Stats() Stats {
	released := p.released.Load()
	return Stats{
		PagesInUse: p.acquired.Load() - released,
		PagesFreed: released,
		PagesCap:   p.npages,
	}
}

// New reserves a pool of n pages of PageSize bytes each.
func New(n int) *Pool {
	if n <= 0 {
		panic("bufpool: pool size must be positive")
	}
	words := int(ints.ChunkCount(uint(n), uint(64)))
	mem, err := mapRegion(n * PageSize)
	if err != nil {
		panic("bufpool: " + err.Error())
	}
	return &Pool{
		mem:    mem,
		npages: n,
		bits:   make([]uint64, words),
	}
}

// Cap reports the pool's total page count.
func (p *Pool) Cap() int { return p.npages }

// Acquire returns a fresh, single-page Handle, or ok=false if every
// page is currently checked out. This is the lock-free fast path: one
// CAS on one bitmap word, same as vm.Malloc.
func (p *Pool) Acquire() (h *Handle, ok bool) {
	for w := range p.bits {
		addr := &p.bits[w]
		for {
			mask := atomic.LoadUint64(addr)
			avail := p.availableBits(w, mask)
			if avail == 0 {
				break
			}
			bit := bits.TrailingZeros64(avail)
			if !atomic.CompareAndSwapUint64(addr, mask, mask|(uint64(1)<<bit)) {
				continue
			}
			idx := w*64 + bit
			return p.newHandle(idx, 1), true
		}
	}
	return nil, false
}

// AcquireSize returns a Handle spanning enough whole pages to hold n
// bytes. Requests that fit in a single page take the lock-free fast
// path above; larger requests need a contiguous run of pages, which
// this pool finds and marks under mu, mirroring vm.Malloc's choice to
// trade a wider fast path for a simpler allocator (the spec's sources
// only ever request a handful of distinct buffer sizes, so contention
// on mu here is rare in practice).
func (p *Pool) AcquireSize(n int) (h *Handle, ok bool) {
	if n <= PageSize {
		return p.Acquire()
	}
	pages := int(ints.ChunkCount(uint(n), uint(PageSize)))
	if pages > p.npages {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	run := 0
	start := -1
	for idx := 0; idx < p.npages; idx++ {
		if ints.TestBit(p.bits, idx) {
			run, start = 0, -1
			continue
		}
		if run == 0 {
			start = idx
		}
		run++
		if run == pages {
			ints.SetBits(p.bits, start, start+pages)
			return p.newHandle(start, pages), true
		}
	}
	return nil, false
}

func (p *Pool) newHandle(idx, pages int) *Handle {
	buf := p.mem[idx*PageSize : (idx+pages)*PageSize]
	h := &Handle{pool: p, index: idx, pages: pages, buf: buf[:0:len(buf)]}
	h.refs.Store(1)
	p.acquired.Add(int64(pages))
	return h
}

// availableBits reports which bits of word w are free, masking off the
// tail bits of the final word that describe pages beyond npages.
func (p *Pool) availableBits(w int, mask uint64) uint64 {
	avail := ^mask
	if w == len(p.bits)-1 {
		if tail := p.npages % 64; tail != 0 {
			avail &= (uint64(1) << tail) - 1
		}
	}
	return avail
}

func (p *Pool) free(idx, pages int) {
	if pages == 1 {
		w, bit := idx/64, uint(idx%64)
		addr := &p.bits[w]
		mask := uint64(1) << bit
		for {
			cur := atomic.LoadUint64(addr)
			if cur&mask == 0 {
				panic(fmt.Sprintf("bufpool: double free of page %d", idx))
			}
			if atomic.CompareAndSwapUint64(addr, cur, cur&^mask) {
				break
			}
		}
	} else {
		p.mu.Lock()
		for i := idx; i < idx+pages; i++ {
			if !ints.TestBit(p.bits, i) {
				p.mu.Unlock()
				panic(fmt.Sprintf("bufpool: double free of page %d", i))
			}
		}
		ints.ClearBits(p.bits, idx, idx+pages)
		p.mu.Unlock()
	}
	p.released.Add(int64(pages))
	adviseUnused(p.mem[idx*PageSize : (idx+pages)*PageSize])
}
