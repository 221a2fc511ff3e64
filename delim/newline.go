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

import "bytes"

// NewlineTerminated is the CSV/NDJSON-style policy: every occurrence
// of sep is a delimiter, no escaping.
type NewlineTerminated struct {
	Sep byte
}

func (p NewlineTerminated) Scan(buf []byte) Result {
	first := bytes.IndexByte(buf, p.Sep)
	if first == -1 {
		return Result{}
	}
	last := bytes.LastIndexByte(buf, p.Sep)
	return Result{FirstOffset: first, LastOffset: last, Found: true}
}
