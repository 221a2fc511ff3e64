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

package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/flowlake/spantuple/bufpool"
	"github.com/flowlake/spantuple/delim"
	"github.com/flowlake/spantuple/reassemble"
)

func TestFileSourceYieldsBuffersThenEOF(t *testing.T) {
	pool := bufpool.New(4)
	r := bytes.NewReader([]byte("abcdefghij"))
	fs, err := NewFileSource(r, pool, delim.NewlineTerminated{Sep: '\n'}, 4, false)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}

	ctx := context.Background()
	var seqs []reassemble.SequenceNumber
	for {
		buf, err := fs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seqs = append(seqs, buf.Seq)
		buf.Handle.Release()
	}
	if len(seqs) != 3 {
		t.Fatalf("want 3 buffers (4+4+2 bytes), got %d", len(seqs))
	}
	for i, s := range seqs {
		if s != reassemble.SequenceNumber(i+1) {
			t.Fatalf("sequence numbers must be 1,2,3,...; got %v", seqs)
		}
	}
}

func TestFileSourcePoolExhausted(t *testing.T) {
	pool := bufpool.New(1)
	h, _ := pool.Acquire()
	defer h.Release()

	fs, err := NewFileSource(bytes.NewReader([]byte("x")), pool, delim.NewlineTerminated{Sep: '\n'}, bufpool.PageSize, false)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	if _, err := fs.Next(context.Background()); !errors.Is(err, errPoolExhausted) {
		t.Fatalf("want errPoolExhausted, got %v", err)
	}
}

func TestRouterAssignIsDeterministic(t *testing.T) {
	shards := make([]*reassemble.Reassembler, 4)
	for i := range shards {
		shards[i] = reassemble.NewReassembler(8, nil)
	}
	rt := NewRouter(shards)

	first := rt.Assign("stream-a")
	for i := 0; i < 10; i++ {
		if rt.Assign("stream-a") != first {
			t.Fatalf("Assign must be deterministic for the same stream id")
		}
	}
}

func TestRouterSpreadsAcrossShards(t *testing.T) {
	shards := make([]*reassemble.Reassembler, 4)
	for i := range shards {
		shards[i] = reassemble.NewReassembler(8, nil)
	}
	rt := NewRouter(shards)

	seen := map[*reassemble.Reassembler]bool{}
	for i := 0; i < 100; i++ {
		seen[rt.Assign(streamName(i))] = true
	}
	if len(seen) < 2 {
		t.Fatalf("want stream ids to spread across more than one shard, got %d", len(seen))
	}
}

func streamName(i int) string {
	return "stream-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
}

func TestDispatcherEmitsSpans(t *testing.T) {
	pool := bufpool.New(8)
	payload := "tuple-one\ntuple-two\ntuple-three\n"
	fs, err := NewFileSource(bytes.NewReader([]byte(payload)), pool, delim.NewlineTerminated{Sep: '\n'}, 8, false)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}

	shard := reassemble.NewReassembler(8, nil)
	rt := NewRouter([]*reassemble.Reassembler{shard})

	var mu sync.Mutex
	var got []string
	handler := func(stream string, span reassemble.SpanningBuffers) {
		mu.Lock()
		defer mu.Unlock()
		var buf bytes.Buffer
		for _, sb := range span {
			buf.Write(sb.Handle.Bytes())
			sb.Handle.Release()
		}
		got = append(got, buf.String())
	}

	d := NewDispatcher(rt, handler, 2)
	if err := d.Run(context.Background(), "s", fs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n == 0 {
		t.Fatalf("want at least one emitted span")
	}
}
