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

// Package delim implements the parser side of the reassembly pipeline:
// a single-pass scan that locates the first and last complete
// tuple-delimiter offsets inside a raw buffer, without ever looking at
// a second buffer. The reassembler trusts these offsets outright and
// never re-derives them.
package delim

// Result is what one call to a Policy's Scan returns: the offsets the
// reassembler needs to build a staged buffer, in one pass over buf.
type Result struct {
	FirstOffset int
	LastOffset  int
	Found       bool
}

// Policy recognises tuple boundaries inside a single buffer.
type Policy interface {
	// Scan locates every unescaped delimiter in buf and reports the
	// first and last offset found. Found is false if buf contains no
	// complete delimiter.
	Scan(buf []byte) Result
}
