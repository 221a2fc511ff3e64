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

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowlake/spantuple/delim"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "cfg.yaml", `
streams:
  - name: orders
    sources:
      - kind: file
        path: /tmp/orders.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != defaultWorkers {
		t.Fatalf("want default workers %d, got %d", defaultWorkers, cfg.Workers)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].RingSize != defaultRingSize {
		t.Fatalf("want default ring size applied, got %+v", cfg.Streams)
	}
	if _, ok := cfg.Streams[0].Policy().(delim.NewlineTerminated); !ok {
		t.Fatalf("want default delimiter policy to be newline-terminated")
	}
}

func TestLoadJSONWithExplicitDelimiter(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"streams": [{
			"name": "tsv",
			"bufferSize": 4096,
			"delimiter": {"kind": "escaped", "sep": "\t"},
			"sources": [{"kind": "tcp", "addr": "127.0.0.1:9000"}]
		}]
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := cfg.Streams[0].Policy().(delim.Escaped)
	if !ok {
		t.Fatalf("want escaped policy, got %T", cfg.Streams[0].Policy())
	}
	if p.Sep != '\t' {
		t.Fatalf("want tab separator, got %q", p.Sep)
	}
}

func TestLoadRejectsUnknownDelimiterKind(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"streams": [{
			"name": "bad",
			"delimiter": {"kind": "bogus"},
			"sources": [{"kind": "file", "path": "/tmp/x"}]
		}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("want an error for an unknown delimiter kind")
	}
}

func TestLoadRejectsMissingSourceField(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"streams": [{"name": "missing-path", "sources": [{"kind": "file"}]}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("want an error for a file source missing 'path'")
	}
}

func TestLoadRejectsDuplicateStreamNames(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"streams": [
			{"name": "dup", "sources": [{"kind": "file", "path": "/tmp/a"}]},
			{"name": "dup", "sources": [{"kind": "file", "path": "/tmp/b"}]}
		]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("want an error for duplicate stream names")
	}
}

func TestFlagOverridesApply(t *testing.T) {
	cfg := &Config{Workers: 4, PoolPages: 256}
	f := &FlagOverrides{Workers: 8}
	f.Apply(cfg)
	if cfg.Workers != 8 {
		t.Fatalf("want override to take effect, got %d", cfg.Workers)
	}
	if cfg.PoolPages != 256 {
		t.Fatalf("want unset override to leave config value alone, got %d", cfg.PoolPages)
	}
}
