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
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flowlake/spantuple/bufpool"
	"github.com/flowlake/spantuple/reassemble"
	"github.com/flowlake/spantuple/sink"
	"github.com/flowlake/spantuple/source"
	"github.com/flowlake/spantuple/streamcfg"
	"github.com/flowlake/spantuple/telemetry"
)

var (
	dashc        string
	dasho        string
	dashstatus   string
	printVersion bool
	overrides    streamcfg.FlagOverrides
)

func init() {
	flag.StringVar(&dashc, "c", "", "path to the stream configuration file (YAML or JSON)")
	flag.StringVar(&dasho, "o", "", "file for reassembled output (default is stdout)")
	flag.StringVar(&dashstatus, "status-file", "", "periodically write a JSON telemetry snapshot to this path")
	flag.BoolVar(&printVersion, "version", false, "print the version of executable")
	overrides.Register(flag.CommandLine)
}

func main() {
	flag.Parse()

	if printVersion {
		fmt.Println("spantupled (development build)")
		return
	}
	if dashc == "" {
		fmt.Fprintln(os.Stderr, "spantupled: -c is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(dashc, dasho, dashstatus); err != nil {
		log.Fatalf("spantupled: %v", err)
	}
}

func run(configPath, outPath, statusPath string) error {
	cfg, err := streamcfg.Load(configPath)
	if err != nil {
		return err
	}
	overrides.Apply(cfg)

	dst := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("opening output: %w", err)
		}
		defer f.Close()
		dst = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trap(cancel)

	pool := bufpool.New(cfg.PoolPages)

	var wg sync.WaitGroup
	var mu sync.Mutex
	w := sink.New(dst)
	recs := make(map[string]*telemetry.Recorder, len(cfg.Streams))

	var runErr error
	for _, stream := range cfg.Streams {
		stream := stream
		rec := telemetry.New(logf)
		recs[stream.Name] = rec
		assembler := reassemble.NewReassembler(stream.RingSize, rec)
		rt := source.NewRouter([]*reassemble.Reassembler{assembler})

		handler := func(name string, span reassemble.SpanningBuffers) {
			mu.Lock()
			defer mu.Unlock()
			if err := w.WriteSpan(span); err != nil {
				logf("spantupled: stream %s: write error: %v", name, err)
			}
		}
		dispatcher := source.NewDispatcher(rt, handler, cfg.Workers)

		adaptors, err := buildAdaptors(ctx, stream, pool)
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream.Name, err)
		}

		for _, ad := range adaptors {
			ad := ad
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := dispatcher.Run(ctx, stream.Name, ad); err != nil && !errors.Is(err, context.Canceled) {
					mu.Lock()
					if runErr == nil {
						runErr = err
					}
					mu.Unlock()
					logf("spantupled: stream %s: %v", stream.Name, err)
				}
			}()
		}
	}

	go runStatusWriter(ctx, statusPath, pool, recs, 10*time.Second)

	wg.Wait()
	return runErr
}

func buildAdaptors(ctx context.Context, stream streamcfg.Stream, pool *bufpool.Pool) ([]source.Adaptor, error) {
	var out []source.Adaptor
	policy := stream.Policy()
	for _, src := range stream.Sources {
		switch src.Kind {
		case streamcfg.SourceFile:
			f, err := os.Open(src.Path)
			if err != nil {
				return nil, err
			}
			fs, err := source.NewFileSource(f, pool, policy, stream.BufferSize, false)
			if err != nil {
				return nil, err
			}
			out = append(out, fs)
		case streamcfg.SourceTCP:
			ts, err := source.NewTCPSource(ctx, src.Addr, pool, policy, stream.BufferSize)
			if err != nil {
				return nil, err
			}
			out = append(out, ts)
		}
	}
	return out, nil
}

// logf is the Logf callback every component ultimately logs through,
// mirroring the teacher's own preference for a plain callback over a
// logging library.
func logf(f string, args ...interface{}) {
	log.Printf(f, args...)
}

func trap(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
}
