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

package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creachadair/atomicfile"

	"github.com/flowlake/spantuple/bufpool"
	"github.com/flowlake/spantuple/telemetry"
)

// statusEntry is one stream's telemetry snapshot in the status file.
type statusEntry struct {
	Stream string `json:"stream"`
	telemetry.Snapshot
}

type statusDoc struct {
	Pool    bufpool.Stats `json:"pool"`
	Streams []statusEntry `json:"streams"`
}

// runStatusWriter periodically overwrites path with a JSON snapshot of
// pool and every recorder in recs, using atomicfile.WriteData so a
// concurrent reader (a health check, a monitoring sidecar) never
// observes a half-written file the way a plain os.WriteFile could
// leave one after a crash mid-write.
func runStatusWriter(ctx context.Context, path string, pool *bufpool.Pool, recs map[string]*telemetry.Recorder, interval time.Duration) {
	if path == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeStatusOnce(path, pool, recs)
		}
	}
}

func writeStatusOnce(path string, pool *bufpool.Pool, recs map[string]*telemetry.Recorder) {
	doc := statusDoc{Pool: pool.Stats()}
	for name, rec := range recs {
		doc.Streams = append(doc.Streams, statusEntry{Stream: name, Snapshot: rec.Snapshot()})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		logf("spantupled: status: marshal: %v", err)
		return
	}
	if err := atomicfile.WriteData(path, data, 0o644); err != nil {
		logf("spantupled: status: write %s: %v", path, err)
	}
}
