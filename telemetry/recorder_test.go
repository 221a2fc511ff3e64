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

package telemetry

import "testing"

func TestRecorderCounters(t *testing.T) {
	var lines []string
	r := New(func(f string, args ...interface{}) {
		lines = append(lines, f)
	})

	r.SpanEmitted(3)
	r.BufferDropped(7)
	r.ClaimRaceLost()
	r.OutOfRange(9)

	snap := r.Snapshot()
	if snap.SpansEmitted != 1 || snap.BuffersDropped != 1 || snap.ClaimRacesLost != 1 || snap.OutOfRange != 1 {
		t.Fatalf("got %+v", snap)
	}
	if len(lines) != 4 {
		t.Fatalf("want 4 log lines, got %d", len(lines))
	}
	for _, kind := range []uint64{KindSpanEmitted, KindBufferDropped, KindClaimRaceLost, KindOutOfRange} {
		if !r.Saw(kind) {
			t.Fatalf("kind %d not recorded in bitmask", kind)
		}
	}
}

func TestRecorderNilLogfDoesNotPanic(t *testing.T) {
	r := New(nil)
	r.SpanEmitted(1)
	r.BufferDropped(1)
	r.ClaimRaceLost()
	r.OutOfRange(1)
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("hello"))
	c := Fingerprint([]byte("world"))
	if a != b {
		t.Fatalf("fingerprint not stable: %q != %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct inputs produced the same fingerprint")
	}
	if len(a) != 16 {
		t.Fatalf("want 16 hex chars (8 bytes), got %d", len(a))
	}
}
