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

import (
	"sync/atomic"

	"github.com/flowlake/spantuple/internal/atomicext"
)

// Per-slot flags packed into the low bits of the word below. The ABA
// iteration occupies the remaining high bits.
const (
	flagOccupied uint64 = 1 << iota
	flagHasDelimiter
	flagHasTrailingOffset
	flagClaimed
	// flagSentinel marks the construction-time placeholder NewReassembler
	// installs at slot 0: it terminates a leftward search exactly like a
	// real delimiter, but is never real span content, and a real buffer
	// landing on the same slot must always be allowed to evict it
	// regardless of ABA direction (see trySet).
	flagSentinel

	flagBits = 5
	flagMask = uint64(1)<<flagBits - 1
)

func packWord(aba abaIteration, flags uint64) uint64 {
	return uint64(aba)<<flagBits | (flags & flagMask)
}

func unpackWord(w uint64) (abaIteration, uint64) {
	return abaIteration(w >> flagBits), w & flagMask
}

// entryState is the non-destructive snapshot read_entry_state returns.
type entryState struct {
	hasCorrectABA               bool
	hasDelimiter                bool
	hasValidTrailingDelimOffset bool
	isSentinel                  bool
}

// slot is one entry of the reassembler's ring. Its mutable fields
// (flags, ABA iteration, claimed bit) are packed into a single atomic
// word so they transition as a group; the staged buffer itself lives
// in a separate atomic pointer, per the ordering guarantees in the
// concurrency model: a slot's word only reports the correct ABA once
// its staged buffer has been published.
type slot struct {
	word           atomic.Uint64
	staged         atomic.Pointer[StagedBuffer]
	trailingOffset atomic.Int32
}

func (s *slot) readEntryState(expected abaIteration) entryState {
	aba, flags := unpackWord(s.word.Load())
	if aba != expected {
		return entryState{}
	}
	return entryState{
		hasCorrectABA:               true,
		hasDelimiter:                flags&flagHasDelimiter != 0,
		hasValidTrailingDelimOffset: flags&flagHasTrailingOffset != 0,
		isSentinel:                  flags&flagSentinel != 0,
	}
}

// trySet installs staged at the given ABA iteration. It fails if the
// slot is already occupied at the same or a newer iteration (invariant
// 2: at most one buffer per (slot, ABA) pair is ever staged).
func (s *slot) trySet(aba abaIteration, staged *StagedBuffer, withDelimiter bool) bool {
	for {
		w := s.word.Load()
		curABA, flags := unpackWord(w)
		occupied := flags&flagOccupied != 0
		claimed := flags&flagClaimed != 0
		sentinel := flags&flagSentinel != 0
		// A live, unclaimed occupant blocks any install regardless of
		// iteration direction (invariant 6, window exhaustion); a
		// same-or-newer iteration blocks even a claimed occupant
		// (invariant 2, no re-staging within the same pair). The
		// construction-time sentinel is neither: it always yields to
		// the first real buffer that ever lands on its slot.
		if occupied && !sentinel && (!claimed || curABA >= aba) {
			return false
		}
		newFlags := flagOccupied
		if withDelimiter {
			newFlags |= flagHasDelimiter
		}
		// Publish the buffer before the word CAS so that any reader
		// observing the new ABA through the word has already-visible
		// access to the staged pointer.
		s.staged.Store(staged)
		s.trailingOffset.Store(-1)
		if s.word.CompareAndSwap(w, packWord(aba, newFlags)) {
			return true
		}
		atomicext.Pause()
	}
}

func (s *slot) trySetWithDelimiter(aba abaIteration, staged *StagedBuffer) bool {
	return s.trySet(aba, staged, true)
}

func (s *slot) trySetWithoutDelimiter(aba abaIteration, staged *StagedBuffer) bool {
	return s.trySet(aba, staged, false)
}

// setTrailingOffset records that the buffer staged at aba (which must
// already be occupied-without-delimiter) has its last complete tuple
// ending at offset. Idempotent.
func (s *slot) setTrailingOffset(aba abaIteration, offset int32) bool {
	for {
		w := s.word.Load()
		curABA, flags := unpackWord(w)
		if curABA != aba || flags&flagOccupied == 0 || flags&flagHasDelimiter != 0 {
			return false
		}
		s.trailingOffset.Store(offset)
		if flags&flagHasTrailingOffset != 0 {
			return true
		}
		if s.word.CompareAndSwap(w, packWord(aba, flags|flagHasTrailingOffset)) {
			return true
		}
		atomicext.Pause()
	}
}

// tryClaimSpanStart is the single linearisation point of the claim
// protocol: the compare-and-swap succeeds for exactly one caller, which
// then owns the whole discovered span.
func (s *slot) tryClaimSpanStart(expected abaIteration) (*StagedBuffer, int32, bool) {
	for {
		w := s.word.Load()
		curABA, flags := unpackWord(w)
		if curABA != expected || flags&flagOccupied == 0 || flags&flagClaimed != 0 {
			return nil, 0, false
		}
		if s.word.CompareAndSwap(w, packWord(curABA, flags|flagClaimed)) {
			trailing := s.trailingOffset.Load()
			hasTrailing := flags&flagHasTrailingOffset != 0
			return s.staged.Swap(nil), trailing, hasTrailing
		}
		atomicext.Pause()
	}
}

// claimUnconditional moves a buffer out of a slot that the caller
// already knows it is entitled to (because it won try_claim_span_start
// for the span's head in this same call). No CAS contention is
// possible here per the protocol in §4.6, but the claimed flag is
// still recorded so a concurrent search treats the slot as boundary-
// claimed rather than boundary-absent.
func (s *slot) claimUnconditional() (*StagedBuffer, int32, bool) {
	for {
		w := s.word.Load()
		aba, flags := unpackWord(w)
		if flags&flagClaimed != 0 {
			return nil, 0, false
		}
		if s.word.CompareAndSwap(w, packWord(aba, flags|flagClaimed)) {
			trailing := s.trailingOffset.Load()
			hasTrailing := flags&flagHasTrailingOffset != 0
			return s.staged.Swap(nil), trailing, hasTrailing
		}
	}
}

// claimNoDelimiterBuffer takes ownership of a middle buffer of a span.
func (s *slot) claimNoDelimiterBuffer() (*StagedBuffer, int32, bool) {
	return s.claimUnconditional()
}

// claimLeadingBuffer takes ownership of the last buffer of a span.
func (s *slot) claimLeadingBuffer() (*StagedBuffer, int32, bool) {
	return s.claimUnconditional()
}

// rawState exposes the slot's occupied/claimed bits and current ABA
// iteration for diagnostics and final-state validation.
func (s *slot) rawState() (aba abaIteration, occupied, claimed bool) {
	a, flags := unpackWord(s.word.Load())
	return a, flags&flagOccupied != 0, flags&flagClaimed != 0
}
