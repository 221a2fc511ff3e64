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

package sink

import (
	"bytes"
	"testing"

	"github.com/flowlake/spantuple/reassemble"
)

type memHandle struct {
	data []byte
}

func (m *memHandle) Bytes() []byte { return m.data }
func (m *memHandle) Release()      {}

func staged(s string) reassemble.StagedBuffer {
	return reassemble.NewStagedBuffer(&memHandle{data: []byte(s)}, len(s))
}

func stagedDelim(s string, first, last int) reassemble.StagedBuffer {
	return reassemble.NewStagedBufferWithDelimiters(&memHandle{data: []byte(s)}, len(s), first, last)
}

func TestWriteSpanSingleBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	span := reassemble.SpanningBuffers{stagedDelim("a=1\n", 3, 3)}
	if err := w.WriteSpan(span); err != nil {
		t.Fatalf("WriteSpan: %v", err)
	}
	if got, want := buf.String(), "\n"; got != want {
		t.Fatalf("got %q, want %q (span head carries no leading-delimiter annotation, so the whole prefix up to the delimiter is trimmed as belonging to the prior span)", got, want)
	}
}

func TestWriteSpanMultiBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	span := reassemble.SpanningBuffers{
		stagedDelim("x\nc=3", 1, 1),
		staged(",d=4"),
		stagedDelim(",e=5\n", 4, 4),
	}
	if err := w.WriteSpan(span); err != nil {
		t.Fatalf("WriteSpan: %v", err)
	}
	if got, want := buf.String(), "c=3,d=4,e=5\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteSpanReleasesEveryHandle(t *testing.T) {
	var released int
	h1 := &releaseCountingHandle{memHandle: memHandle{data: []byte("a\n")}}
	var buf bytes.Buffer
	w := New(&buf)
	span := reassemble.SpanningBuffers{reassemble.NewStagedBufferWithDelimiters(h1, 2, 1, 1)}
	h1.onRelease = func() { released++ }
	if err := w.WriteSpan(span); err != nil {
		t.Fatalf("WriteSpan: %v", err)
	}
	if released != 1 {
		t.Fatalf("want handle released exactly once, got %d", released)
	}
}

type releaseCountingHandle struct {
	memHandle
	onRelease func()
}

func (h *releaseCountingHandle) Release() {
	if h.onRelease != nil {
		h.onRelease()
	}
}
