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
	"github.com/dchest/siphash"

	"github.com/flowlake/spantuple/reassemble"
)

// router siphash keys, fixed at arbitrary random values the way the
// teacher's own splitter picks two constants rather than deriving them
// per process.
const (
	routerKey0 = 0x5d1ec810
	routerKey1 = 0xfebed702
)

// Router shards streams across a fixed table of reassemblers, keyed by
// stream name rather than blob ETag.
type Router struct {
	table []*reassemble.Reassembler
}

// NewRouter builds a Router over shards reassemblers, each already
// constructed with NewReassembler.
func NewRouter(shards []*reassemble.Reassembler) *Router {
	table := make([]*reassemble.Reassembler, len(shards))
	copy(table, shards)
	return &Router{table: table}
}

// Assign returns the reassembler responsible for streamID.
func (rt *Router) Assign(streamID string) *reassemble.Reassembler {
	idx := partition(streamID, len(rt.table))
	return rt.table[idx]
}

// Len reports the number of shards in the table.
func (rt *Router) Len() int { return len(rt.table) }

func partition(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	hash := siphash.Hash(routerKey0, routerKey1, []byte(key))
	maxUint64 := ^uint64(0)
	idx := hash / (maxUint64 / uint64(numShards))
	if int(idx) >= numShards {
		return numShards - 1
	}
	return int(idx)
}
