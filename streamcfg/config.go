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

// Package streamcfg loads the configuration a spantupled process runs
// with: ring capacity, buffer size, delimiter policy, source list, and
// dispatcher worker count.
package streamcfg

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// DelimiterKind names one of the delim.Policy implementations a
// stream's sources are scanned with.
type DelimiterKind string

const (
	DelimiterNewline DelimiterKind = "newline"
	DelimiterEscaped DelimiterKind = "escaped"
)

// SourceKind names one of the source.Adaptor implementations a Source
// entry describes.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceTCP  SourceKind = "tcp"
)

// Source describes one adaptor to start: a file path (opened as given,
// with no glob expansion) or a TCP dial address, depending on Kind.
type Source struct {
	Kind SourceKind `json:"kind"`
	Path string     `json:"path,omitempty"`
	Addr string     `json:"addr,omitempty"`
}

// Stream describes one logical stream: its own ring, buffer size, and
// delimiter policy, fed by one or more sources and sharded across a
// router that may be shared with other streams.
type Stream struct {
	Name       string        `json:"name"`
	RingSize   uint32        `json:"ringSize"`
	BufferSize int           `json:"bufferSize"`
	Delimiter  delimiterSpec `json:"delimiter"`
	Sources    []Source      `json:"sources"`
}

// Config is the top-level configuration document, decoded from either
// YAML or JSON via sigs.k8s.io/yaml, which round-trips YAML through
// encoding/json so the same struct tags serve both formats.
type Config struct {
	Streams []Stream `json:"streams"`

	// Workers bounds the number of goroutines a Dispatcher runs
	// concurrently per stream.
	Workers int `json:"workers,omitempty"`

	// PoolPages sizes the shared bufpool.Pool in pages.
	PoolPages int `json:"poolPages,omitempty"`
}

const (
	defaultWorkers   = 4
	defaultPoolPages = 256
	defaultRingSize  = 1024
	defaultBufSize   = 64 * 1024
)

// Load reads and parses a configuration document from path, applying
// defaults for fields the document left at their zero value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("streamcfg: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("streamcfg: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("streamcfg: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.PoolPages == 0 {
		c.PoolPages = defaultPoolPages
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.RingSize == 0 {
			s.RingSize = defaultRingSize
		}
		if s.BufferSize == 0 {
			s.BufferSize = defaultBufSize
		}
		if s.Delimiter.Kind == "" {
			s.Delimiter = delimiterSpec{Kind: DelimiterNewline, Sep: '\n'}
		}
	}
}

func (c *Config) validate() error {
	if len(c.Streams) == 0 {
		return fmt.Errorf("no streams configured")
	}
	seen := map[string]bool{}
	for _, s := range c.Streams {
		if s.Name == "" {
			return fmt.Errorf("stream missing 'name'")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
		if len(s.Sources) == 0 {
			return fmt.Errorf("stream %q: no sources configured", s.Name)
		}
		for _, src := range s.Sources {
			switch src.Kind {
			case SourceFile:
				if src.Path == "" {
					return fmt.Errorf("stream %q: file source missing 'path'", s.Name)
				}
			case SourceTCP:
				if src.Addr == "" {
					return fmt.Errorf("stream %q: tcp source missing 'addr'", s.Name)
				}
			default:
				return fmt.Errorf("stream %q: unknown source kind %q", s.Name, src.Kind)
			}
		}
	}
	return nil
}

// delimiterSpec wraps DelimiterKind with an UnmarshalJSON validator,
// the way the teacher's configSneller validates its own fields rather
// than leaving an invalid zero value to surface downstream.
type delimiterSpec struct {
	Kind DelimiterKind
	Sep  byte
}

func (d *delimiterSpec) UnmarshalJSON(data []byte) error {
	type raw struct {
		Kind DelimiterKind `json:"kind"`
		Sep  string        `json:"sep,omitempty"`
	}
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	switch r.Kind {
	case "", DelimiterNewline:
		d.Kind = DelimiterNewline
	case DelimiterEscaped:
		d.Kind = DelimiterEscaped
	default:
		return fmt.Errorf("field 'kind': unknown delimiter kind %q", r.Kind)
	}

	switch {
	case r.Sep == "":
		d.Sep = '\n'
	case len(r.Sep) == 1:
		d.Sep = r.Sep[0]
	default:
		return fmt.Errorf("field 'sep': must be exactly one byte, got %q", r.Sep)
	}
	return nil
}
