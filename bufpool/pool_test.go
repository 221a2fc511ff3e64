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

import (
	"sync"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	p := New(8)
	var handles []*Handle
	for i := 0; i < 8; i++ {
		h, ok := p.Acquire()
		if !ok {
			t.Fatalf("page %d: pool exhausted early", i)
		}
		h.SetLen(10)
		h.Bytes()[0] = byte(i)
		handles = append(handles, h)
	}
	if _, ok := p.Acquire(); ok {
		t.Fatalf("pool should be exhausted after taking every page")
	}
	for i, h := range handles {
		if h.Bytes()[0] != byte(i) {
			t.Fatalf("page %d: contents clobbered by another handle", i)
		}
		h.Release()
	}
	if _, ok := p.Acquire(); !ok {
		t.Fatalf("pool should have pages available after release")
	}
}

func TestRetainDefersRelease(t *testing.T) {
	p := New(1)
	h, ok := p.Acquire()
	if !ok {
		t.Fatalf("pool exhausted")
	}
	h.Retain()
	h.Release()
	if _, ok := p.Acquire(); ok {
		t.Fatalf("page should still be held by the outstanding retain")
	}
	h.Release()
	if _, ok := p.Acquire(); !ok {
		t.Fatalf("page should be free after the final release")
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := New(32)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h, ok := p.Acquire()
				if !ok {
					continue
				}
				h.SetLen(1)
				h.Release()
			}
		}()
	}
	wg.Wait()
}

func TestDoubleFreePanics(t *testing.T) {
	p := New(1)
	h, _ := p.Acquire()
	h.Release()
	defer func() {
		if recover() == nil {
			t.Fatalf("want panic on double release")
		}
	}()
	h.Release()
}

func TestAcquireSizeMultiPage(t *testing.T) {
	p := New(8)
	h, ok := p.AcquireSize(3 * PageSize)
	if !ok {
		t.Fatalf("pool exhausted")
	}
	if h.Cap() != 3*PageSize {
		t.Fatalf("want a 3-page handle, got cap %d", h.Cap())
	}
	h.SetLen(h.Cap())
	for i := range h.Bytes() {
		h.Bytes()[i] = byte(i)
	}

	small, ok := p.Acquire()
	if !ok {
		t.Fatalf("single page should still be available alongside the 3-page run")
	}

	if st := p.Stats(); st.PagesInUse != 4 {
		t.Fatalf("want 4 pages in use, got %+v", st)
	}

	h.Release()
	small.Release()
	if st := p.Stats(); st.PagesInUse != 0 || st.PagesFreed != 4 {
		t.Fatalf("want fully reclaimed accounting, got %+v", st)
	}

	if _, ok := p.AcquireSize(9 * PageSize); ok {
		t.Fatalf("want failure requesting more pages than the pool holds")
	}
}
