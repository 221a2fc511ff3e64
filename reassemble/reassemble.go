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

import "github.com/google/uuid"

// SpanningBuffers is an ordered list of staged buffers forming one
// logical span, in increasing sequence-number order.
type SpanningBuffers []StagedBuffer

// AcceptResult is the outcome of one ingest call. Spans holds zero,
// one, or two completed spans, depending on which sides of the newly
// staged buffer turned out to be bounded.
type AcceptResult struct {
	InRange bool
	Spans   []SpanningBuffers
}

// Telemetry receives the reassembler's ambient signals. Implementations
// must not block: the core never suspends on any operation.
type Telemetry interface {
	SpanEmitted(length int)
	BufferDropped(seq SequenceNumber)
	ClaimRaceLost()
	OutOfRange(seq SequenceNumber)
}

type noopTelemetry struct{}

func (noopTelemetry) SpanEmitted(int)              {}
func (noopTelemetry) BufferDropped(SequenceNumber) {}
func (noopTelemetry) ClaimRaceLost()                {}
func (noopTelemetry) OutOfRange(SequenceNumber)     {}

// Reassembler owns a fixed-capacity ring of slots and is the public
// entry point of the package. It is safe for concurrent use by
// multiple goroutines: no operation blocks, parks, or retries beyond a
// bounded CAS loop.
type Reassembler struct {
	slots []slot
	n     uint32

	// ID tags this instance for telemetry correlation when a
	// dispatcher fans buffers out across many reassemblers.
	ID uuid.UUID

	tel Telemetry
}

// NewReassembler constructs a ring of capacity n (n must be at least
// 1) with a dummy sentinel installed at slot 0, flagged with
// flagSentinel, so that the very first accepted sequence number's
// leftward search always terminates. The sentinel only ever terminates
// a search and is never itself claimable as span content, and it
// yields unconditionally to the first real buffer that lands on its
// slot (see trySet). A nil tel discards all telemetry.
func NewReassembler(n uint32, tel Telemetry) *Reassembler {
	if n == 0 {
		panic("reassemble: ring capacity must be greater than zero")
	}
	if tel == nil {
		tel = noopTelemetry{}
	}
	r := &Reassembler{
		slots: make([]slot, n),
		n:     n,
		ID:    uuid.New(),
		tel:   tel,
	}
	dummy := StagedBuffer{
		OffsetOfFirstDelimiter: 0,
		OffsetOfLastDelimiter:  0,
		trailingOffset:         noOffset,
	}
	r.slots[0].staged.Store(&dummy)
	r.slots[0].trailingOffset.Store(noOffset)
	r.slots[0].word.Store(packWord(1, flagOccupied|flagHasDelimiter|flagSentinel))
	return r
}

// N reports the ring's capacity.
func (r *Reassembler) N() uint32 { return r.n }

func (r *Reassembler) searchLeading(fromIdx slotIndex, fromABA abaIteration) (k uint64, found, isSentinel bool) {
	k = 1
	idx, aba := leftNeighbor(fromIdx, fromABA, k, r.n)
	st := r.slots[idx].readEntryState(aba)
	for st.hasCorrectABA && !st.hasValidTrailingDelimOffset && !st.hasDelimiter {
		k++
		idx, aba = leftNeighbor(fromIdx, fromABA, k, r.n)
		st = r.slots[idx].readEntryState(aba)
	}
	return k, st.hasCorrectABA, st.isSentinel
}

func (r *Reassembler) searchTrailing(fromIdx slotIndex, fromABA abaIteration) (uint64, bool) {
	k := uint64(1)
	idx, aba := rightNeighbor(fromIdx, fromABA, k, r.n)
	st := r.slots[idx].readEntryState(aba)
	for st.hasCorrectABA && !st.hasDelimiter {
		k++
		idx, aba = rightNeighbor(fromIdx, fromABA, k, r.n)
		st = r.slots[idx].readEntryState(aba)
	}
	return k, st.hasCorrectABA
}

// isSentinelSlot reports whether (idx, aba) addresses the
// construction-time placeholder NewReassembler installs at slot 0, ABA
// 1. It exists only to give a leftward search something to terminate
// on at the very start of a stream and was never a real accepted
// buffer, so it must never be claimed as span content — mirrors the
// i == 0 && aba == 1 special case ValidateFinalState already carries.
func isSentinelSlot(idx slotIndex, aba abaIteration) bool {
	return idx == 0 && aba == 1
}

// claimingLeadingDelimiterSearch walks left from stEndSN looking for
// the slot that starts the span ending at stEndSN, and claims it.
// foundBoundary reports whether the walk terminated on a real boundary
// at all (sentinel or delimited slot), independent of ok: a caller that
// gets ok == false but foundBoundary == true knows stEndSN has nothing
// real pending to its left and may fall back to treating stEndSN as a
// standalone span of one, once it also confirms nothing claimed it
// from the other side.
func (r *Reassembler) claimingLeadingDelimiterSearch(stEndSN SequenceNumber) (buf *StagedBuffer, trailing int32, hasTrailing bool, stStartSN SequenceNumber, ok, foundBoundary bool) {
	endIdx, endABA := sequenceIndex(stEndSN, r.n)
	k, found, sentinel := r.searchLeading(endIdx, endABA)
	if !found {
		return nil, 0, false, 0, false, false
	}
	stStartSN = SequenceNumber(uint64(stEndSN) - k)
	if sentinel {
		// The sentinel only marks "nothing real precedes the stream
		// here"; the span, if any, actually starts one slot later. When
		// that lands back on stEndSN itself there is no real left
		// neighbor at all, so leave the claim to the caller's own
		// fallback rather than racing it here.
		stStartSN++
		if stStartSN == stEndSN {
			return nil, 0, false, 0, false, true
		}
	}
	startIdx, startABA := sequenceIndex(stStartSN, r.n)
	buf, trailing, hasTrailing = r.slots[startIdx].tryClaimSpanStart(startABA)
	if buf == nil {
		r.tel.ClaimRaceLost()
		return nil, 0, false, 0, false, true
	}
	return buf, trailing, hasTrailing, stStartSN, true, true
}

// claimingTrailingDelimiterSearch claims the slot at stStartSN (which
// the caller already knows, or has just installed) and walks right
// from searchStartSN looking for the slot that closes the span.
func (r *Reassembler) claimingTrailingDelimiterSearch(stStartSN, searchStartSN SequenceNumber) (buf *StagedBuffer, trailing int32, hasTrailing bool, lastSN SequenceNumber, ok bool) {
	searchIdx, searchABA := sequenceIndex(searchStartSN, r.n)
	k, found := r.searchTrailing(searchIdx, searchABA)
	if !found {
		return nil, 0, false, 0, false
	}
	lastSN = SequenceNumber(uint64(searchStartSN) + k)
	startIdx, startABA := sequenceIndex(stStartSN, r.n)
	if isSentinelSlot(startIdx, startABA) {
		return nil, 0, false, 0, false
	}
	buf, trailing, hasTrailing = r.slots[startIdx].tryClaimSpanStart(startABA)
	if buf == nil {
		r.tel.ClaimRaceLost()
		return nil, 0, false, 0, false
	}
	return buf, trailing, hasTrailing, lastSN, true
}

// claimSpanningTupleBuffers fills list[1:] by claiming every slot from
// stStartSN+1 through stStartSN+len(list)-1. list[0] must already hold
// the claimed head buffer.
func (r *Reassembler) claimSpanningTupleBuffers(stStartSN SequenceNumber, list SpanningBuffers) {
	last := len(list) - 1
	for offset := 1; offset < last; offset++ {
		idx, _ := sequenceIndex(SequenceNumber(uint64(stStartSN)+uint64(offset)), r.n)
		buf, _, _ := r.slots[idx].claimNoDelimiterBuffer()
		list[offset] = *buf
	}
	if last >= 1 {
		idx, _ := sequenceIndex(SequenceNumber(uint64(stStartSN)+uint64(last)), r.n)
		buf, trailing, hasTrailing := r.slots[idx].claimLeadingBuffer()
		list[last] = withTrailing(buf, trailing, hasTrailing)
	}
}

// searchAndTryClaimWithoutDelimiter is the two-sided search used by
// AcceptWithoutDelimiter: find a delimited start to the left, then
// claim that start and search right from s for the close.
func (r *Reassembler) searchAndTryClaimWithoutDelimiter(s SequenceNumber) (buf *StagedBuffer, stStartSN, lastSN SequenceNumber, ok bool) {
	idx, aba := sequenceIndex(s, r.n)
	k, found, _ := r.searchLeading(idx, aba)
	if !found {
		return nil, 0, 0, false
	}
	stStartSN = SequenceNumber(uint64(s) - k)
	b, _, _, last, ok2 := r.claimingTrailingDelimiterSearch(stStartSN, s)
	if !ok2 {
		return nil, 0, 0, false
	}
	return b, stStartSN, last, true
}

// AcceptWithDelimiter stages a buffer the parser found at least one
// delimiter in, then searches both directions: left for the span this
// buffer's first delimiter closes, right for the span this buffer's
// last delimiter opens. Either, both, or neither may complete.
func (r *Reassembler) AcceptWithDelimiter(s SequenceNumber, staged StagedBuffer) AcceptResult {
	idx, aba := sequenceIndex(s, r.n)
	if !r.slots[idx].trySetWithDelimiter(aba, &staged) {
		r.tel.OutOfRange(s)
		return AcceptResult{InRange: false}
	}
	result := AcceptResult{InRange: true}
	closedLeft, closedRight := false, false
	var leftBoundaryFound bool

	if startBuf, trailing, hasTrailing, stStartSN, ok, foundBoundary := r.claimingLeadingDelimiterSearch(s); ok {
		closedLeft = true
		size := int(uint64(s)-uint64(stStartSN)) + 1
		list := make(SpanningBuffers, size)
		list[0] = withTrailing(startBuf, trailing, hasTrailing)
		r.claimSpanningTupleBuffers(stStartSN, list)
		r.tel.SpanEmitted(len(list))
		result.Spans = append(result.Spans, list)
	} else {
		leftBoundaryFound = foundBoundary
	}

	if headBuf, _, _, lastSN, ok := r.claimingTrailingDelimiterSearch(s, s); ok {
		closedRight = true
		size := int(uint64(lastSN)-uint64(s)) + 1
		list := make(SpanningBuffers, size)
		list[0] = *headBuf
		r.claimSpanningTupleBuffers(s, list)
		r.tel.SpanEmitted(len(list))
		result.Spans = append(result.Spans, list)
	}

	// A buffer that carries its own delimiter is a complete span on its
	// own once it's clear nothing real precedes it (the leading search
	// ran off the start of the stream) and nothing claimed it as the
	// tail of a larger span from the other side. It is not emitted alone
	// while either immediate neighbor holds a staged buffer with no
	// delimiter: that neighbor makes it part of a larger span on that
	// side, which the accept that completes the span claims. If a
	// concurrent call already claimed this slot as part of such a span,
	// the claim below simply loses and contributes nothing.
	lIdx, lABA := leftNeighbor(idx, aba, 1, r.n)
	rIdx, rABA := rightNeighbor(idx, aba, 1, r.n)
	left := r.slots[lIdx].readEntryState(lABA)
	right := r.slots[rIdx].readEntryState(rABA)
	leftFragment := left.hasCorrectABA && !left.hasDelimiter && !left.hasValidTrailingDelimOffset
	rightFragment := right.hasCorrectABA && !right.hasDelimiter
	if !closedLeft && !closedRight && leftBoundaryFound && !leftFragment && !rightFragment {
		if headBuf, trailing, hasTrailing := r.slots[idx].tryClaimSpanStart(aba); headBuf != nil {
			list := SpanningBuffers{withTrailing(headBuf, trailing, hasTrailing)}
			r.tel.SpanEmitted(len(list))
			result.Spans = append(result.Spans, list)
		}
	}

	return result
}

// AcceptWithoutDelimiter stages a buffer the parser found no delimiter
// in. A span is emitted only when both a delimited start and a
// delimited close are found around it.
func (r *Reassembler) AcceptWithoutDelimiter(s SequenceNumber, staged StagedBuffer) AcceptResult {
	idx, aba := sequenceIndex(s, r.n)
	if !r.slots[idx].trySetWithoutDelimiter(aba, &staged) {
		r.tel.OutOfRange(s)
		return AcceptResult{InRange: false}
	}
	result := AcceptResult{InRange: true}

	if headBuf, stStartSN, lastSN, ok := r.searchAndTryClaimWithoutDelimiter(s); ok {
		size := int(uint64(lastSN)-uint64(stStartSN)) + 1
		list := make(SpanningBuffers, size)
		list[0] = *headBuf
		r.claimSpanningTupleBuffers(stStartSN, list)
		r.tel.SpanEmitted(len(list))
		result.Spans = append(result.Spans, list)
	}

	return result
}

// AcceptWithDelimiterTrailingAnnotation stages a buffer without a
// delimiter of its own, but whose trailing fragment the parser knows
// completes a tuple at offsetOfLastTuple. The annotation lets a later
// buffer's leftward search stop here instead of searching past it
// (its content from offsetOfLastTuple onward belongs to a new span
// that starts in this buffer), but that new span still needs a real
// delimiter to close it, so this call itself searches rightward from
// s for that close, with s as the span's start rather than its end.
func (r *Reassembler) AcceptWithDelimiterTrailingAnnotation(s SequenceNumber, staged StagedBuffer, offsetOfLastTuple int) AcceptResult {
	idx, aba := sequenceIndex(s, r.n)
	if !r.slots[idx].trySetWithoutDelimiter(aba, &staged) {
		r.tel.OutOfRange(s)
		return AcceptResult{InRange: false}
	}
	r.slots[idx].setTrailingOffset(aba, int32(offsetOfLastTuple))
	result := AcceptResult{InRange: true}

	if headBuf, trailing, hasTrailing, lastSN, ok := r.claimingTrailingDelimiterSearch(s, s); ok {
		size := int(uint64(lastSN)-uint64(s)) + 1
		list := make(SpanningBuffers, size)
		list[0] = withTrailing(headBuf, trailing, hasTrailing)
		r.claimSpanningTupleBuffers(s, list)
		r.tel.SpanEmitted(len(list))
		result.Spans = append(result.Spans, list)
	}

	return result
}

// ValidateFinalState reports whether every slot is either empty,
// claimed, or still holding the construction-time sentinel. Intended
// for tests that drive the reassembler to quiescence.
func (r *Reassembler) ValidateFinalState() bool {
	for i := range r.slots {
		aba, occupied, claimed := r.slots[i].rawState()
		if !occupied {
			continue
		}
		if i == 0 && aba == 1 {
			continue
		}
		if !claimed {
			return false
		}
	}
	return true
}
