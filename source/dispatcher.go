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
	"context"
	"errors"
	"io"

	"github.com/creachadair/taskgroup"

	"github.com/flowlake/spantuple/reassemble"
)

// SpanHandler receives a completed span of buffers forming one logical
// tuple, in order. It owns the handles inside and must call
// Handle.Release on every StagedBuffer in the span once done with the
// payload.
type SpanHandler func(stream string, span reassemble.SpanningBuffers)

// Dispatcher pulls buffers from one Adaptor per stream and fans
// ingestion out across a bounded pool of workers, the way copyFile
// bounds concurrent blob copies with a taskgroup.
type Dispatcher struct {
	Router  *Router
	Handler SpanHandler
	Workers int
}

// NewDispatcher returns a Dispatcher that routes accepted buffers
// through rt and emits spans to handler using at most workers
// concurrent goroutines.
func NewDispatcher(rt *Router, handler SpanHandler, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{Router: rt, Handler: handler, Workers: workers}
}

// Run reads stream until ctx is done or the adaptor reports io.EOF,
// dispatching each buffer to a worker that stages it into the stream's
// assigned reassembler and forwards any spans the ingest completes.
func (d *Dispatcher) Run(ctx context.Context, stream string, adaptor Adaptor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, run := taskgroup.New(taskgroup.Trigger(cancel)).Limit(d.Workers)

	assembler := d.Router.Assign(stream)

	var runErr error
	for {
		buf, err := adaptor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = err
			break
		}
		buf := buf
		run(func() error {
			return d.accept(stream, assembler, buf)
		})
	}

	if werr := g.Wait(); werr != nil && runErr == nil {
		runErr = werr
	}
	return runErr
}

func (d *Dispatcher) accept(stream string, r *reassemble.Reassembler, buf Buffer) error {
	staged := buf.Staged()
	var result reassemble.AcceptResult
	if staged.HasDelimiter() {
		result = r.AcceptWithDelimiter(buf.Seq, staged)
	} else {
		result = r.AcceptWithoutDelimiter(buf.Seq, staged)
	}
	for _, span := range result.Spans {
		d.Handler(stream, span)
	}
	return nil
}
