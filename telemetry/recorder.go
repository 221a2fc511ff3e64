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

// Package telemetry records the ambient signals a Reassembler emits:
// spans completed, buffers dropped on window rollover, claim races
// lost, and out-of-range ingests.
package telemetry

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flowlake/spantuple/internal/atomicext"
	"github.com/flowlake/spantuple/reassemble"
)

// event kind bits, OR'd into Recorder.kinds so a caller can cheaply
// ask "has this stream ever seen a drop" without scanning counters.
const (
	KindSpanEmitted uint64 = 1 << iota
	KindBufferDropped
	KindClaimRaceLost
	KindOutOfRange
)

// Recorder is a reassemble.Telemetry implementation that keeps
// lock-free running counters and, optionally, logs each event through
// Logf. A zero Recorder is ready to use.
type Recorder struct {
	// StreamID tags every log line so a dispatcher fanning out across
	// many reassemblers can correlate telemetry back to a specific
	// shard.
	StreamID uuid.UUID

	// Logf, if non-nil, is called for every recorded event.
	Logf func(f string, args ...interface{})

	spansEmitted   atomic.Int64
	buffersDropped atomic.Int64
	claimRaceLost  atomic.Int64
	outOfRange     atomic.Int64

	// kinds is a plain uint64 rather than atomic.Uint64 so it can be
	// updated through atomicext.OrUint64, which takes a *uint64.
	kinds uint64
}

var _ reassemble.Telemetry = (*Recorder)(nil)

// New returns a Recorder tagged with a fresh stream ID.
func New(logf func(f string, args ...interface{})) *Recorder {
	return &Recorder{StreamID: uuid.New(), Logf: logf}
}

func (r *Recorder) logf(f string, args ...interface{}) {
	if false {
		_ = fmt.Sprintf(f, args...)
	}
	if r.Logf != nil {
		r.Logf(f, args...)
	}
}

func (r *Recorder) mark(kind uint64) {
	atomicext.OrUint64(&r.kinds, kind)
}

// SpanEmitted implements reassemble.Telemetry.
func (r *Recorder) SpanEmitted(length int) {
	r.spansEmitted.Add(1)
	r.mark(KindSpanEmitted)
	r.logf("stream %s: span emitted, %d buffers", r.StreamID, length)
}

// BufferDropped implements reassemble.Telemetry.
func (r *Recorder) BufferDropped(seq reassemble.SequenceNumber) {
	r.buffersDropped.Add(1)
	r.mark(KindBufferDropped)
	r.logf("stream %s: buffer at sequence %d dropped on window rollover", r.StreamID, seq)
}

// ClaimRaceLost implements reassemble.Telemetry.
func (r *Recorder) ClaimRaceLost() {
	r.claimRaceLost.Add(1)
	r.mark(KindClaimRaceLost)
	r.logf("stream %s: claim race lost", r.StreamID)
}

// OutOfRange implements reassemble.Telemetry.
func (r *Recorder) OutOfRange(seq reassemble.SequenceNumber) {
	r.outOfRange.Add(1)
	r.mark(KindOutOfRange)
	r.logf("stream %s: sequence %d rejected, out of window", r.StreamID, seq)
}

// Snapshot is a point-in-time read of a Recorder's counters.
type Snapshot struct {
	SpansEmitted   int64
	BuffersDropped int64
	ClaimRacesLost int64
	OutOfRange     int64
	Kinds          uint64
}

// Snapshot reads every counter. The read is not atomic as a whole, but
// each field is internally consistent.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		SpansEmitted:   r.spansEmitted.Load(),
		BuffersDropped: r.buffersDropped.Load(),
		ClaimRacesLost: r.claimRaceLost.Load(),
		OutOfRange:     r.outOfRange.Load(),
		Kinds:          atomic.LoadUint64(&r.kinds),
	}
}

// Saw reports whether an event of the given kind has ever been
// recorded.
func (r *Recorder) Saw(kind uint64) bool {
	return atomic.LoadUint64(&r.kinds)&kind != 0
}
