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

import "flag"

// FlagOverrides holds process-wide settings that, once registered with
// flag.StringVar/IntVar the way cmd/sneller/main.go registers its own
// flags, take precedence over whatever a config file set.
type FlagOverrides struct {
	Workers   int
	PoolPages int
}

// Register wires f's fields to command line flags. Pass flag.CommandLine
// to share the program's default flag set.
func (f *FlagOverrides) Register(fs *flag.FlagSet) {
	fs.IntVar(&f.Workers, "workers", 0, "override dispatcher worker count from the config file")
	fs.IntVar(&f.PoolPages, "pool-pages", 0, "override shared buffer pool size, in pages")
}

// Apply overwrites c's fields with any FlagOverrides the caller set to
// a nonzero value, leaving the config file's value otherwise.
func (f *FlagOverrides) Apply(c *Config) {
	if f.Workers != 0 {
		c.Workers = f.Workers
	}
	if f.PoolPages != 0 {
		c.PoolPages = f.PoolPages
	}
}
