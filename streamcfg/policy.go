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

package streamcfg

import "github.com/flowlake/spantuple/delim"

// Policy builds the delim.Policy a Stream's sources are scanned with.
func (s Stream) Policy() delim.Policy {
	switch s.Delimiter.Kind {
	case DelimiterEscaped:
		return delim.Escaped{Sep: s.Delimiter.Sep}
	default:
		return delim.NewlineTerminated{Sep: s.Delimiter.Sep}
	}
}
