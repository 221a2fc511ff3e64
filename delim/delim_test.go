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

package delim

import "testing"

func TestNewlineTerminated(t *testing.T) {
	p := NewlineTerminated{Sep: '\n'}

	if r := p.Scan([]byte("no newline here")); r.Found {
		t.Fatalf("want not found, got %+v", r)
	}

	r := p.Scan([]byte("a=1,b=2\nc=3,d=4\n"))
	if !r.Found || r.FirstOffset != 7 || r.LastOffset != 15 {
		t.Fatalf("got %+v", r)
	}
}

func TestEscaped(t *testing.T) {
	p := Escaped{Sep: '\n'}

	// "a=1\<real newline>b=2<real newline>c=3" — the first newline is
	// escaped and must not count; the second is a real delimiter.
	buf := []byte("a=1\\\nb=2\nc=3")
	r := p.Scan(buf)
	if !r.Found {
		t.Fatalf("want found")
	}
	if r.FirstOffset != r.LastOffset {
		t.Fatalf("want exactly one unescaped newline, got first=%d last=%d", r.FirstOffset, r.LastOffset)
	}
	if buf[r.FirstOffset] != '\n' {
		t.Fatalf("offset %d does not point at the real delimiter", r.FirstOffset)
	}

	if r := p.Scan([]byte("all\\\nescaped\\\n")); r.Found {
		t.Fatalf("want not found, every newline is escaped, got %+v", r)
	}

	// a trailing lone backslash must not consume the byte after it,
	// since there is no byte after it.
	r = p.Scan([]byte("tail\n\\"))
	if !r.Found || r.FirstOffset != 4 {
		t.Fatalf("got %+v", r)
	}
}
