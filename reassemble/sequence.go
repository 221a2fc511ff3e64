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

// Package reassemble implements the spanning-tuple reassembler: a
// bounded ring of ABA-protected slots that reconstructs logical tuples
// whose bytes straddle several out-of-order physical buffers on a
// single input stream.
package reassemble

// SequenceNumber is the monotone, 1-based tag a source assigns to each
// buffer it emits on a stream.
type SequenceNumber uint64

// slotIndex addresses one entry of the ring.
type slotIndex uint32

// abaIteration distinguishes successive uses of the same slot index by
// different sequence numbers. Iterations are strictly positive; zero is
// never a valid iteration for an occupied slot.
type abaIteration uint64

// sequenceIndex maps a sequence number to the slot it occupies and the
// ABA iteration it is expected to carry there.
func sequenceIndex(s SequenceNumber, n uint32) (slotIndex, abaIteration) {
	return slotIndex(uint64(s) % uint64(n)), abaIteration(uint64(s)/uint64(n) + 1)
}

// leftNeighbor returns the slot index k steps counter-clockwise from
// idx (wrapping through the ring) and the ABA iteration a reader should
// expect to find there, given the ring started its walk at (idx, aba).
func leftNeighbor(idx slotIndex, aba abaIteration, k uint64, n uint32) (slotIndex, abaIteration) {
	wrapped := uint64(idx) < k
	next := (uint64(idx) + uint64(n) - (k % uint64(n))) % uint64(n)
	expect := aba
	if wrapped {
		expect--
	}
	return slotIndex(next), expect
}

// rightNeighbor is the mirror of leftNeighbor, stepping clockwise.
func rightNeighbor(idx slotIndex, aba abaIteration, k uint64, n uint32) (slotIndex, abaIteration) {
	wrapped := uint64(idx)+k >= uint64(n)
	next := (uint64(idx) + k) % uint64(n)
	expect := aba
	if wrapped {
		expect++
	}
	return slotIndex(next), expect
}
