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
	"net"
	"time"

	"github.com/flowlake/spantuple/bufpool"
	"github.com/flowlake/spantuple/delim"
	"github.com/flowlake/spantuple/reassemble"
)

// TCPSource reads raw bytes off a long-lived connection into buffers
// of at most BufSize bytes, each holding whatever a single read
// returned, and leaves delimiter discovery to Policy rather
// than negotiating a message-size-from-socket framing protocol.
// Supplements TCPSource.cpp's three framing modes (tuple separator,
// user-specified size, size-from-socket) with the single delim.Policy
// abstraction the rest of this module already uses.
type TCPSource struct {
	Conn    net.Conn
	Pool    *bufpool.Pool
	Policy  delim.Policy
	BufSize int

	// ReadTimeout, when nonzero, bounds each individual socket read so
	// Next can still observe ctx cancellation on an idle connection.
	ReadTimeout time.Duration

	next reassemble.SequenceNumber
}

// NewTCPSource dials addr and returns a TCPSource reading from it.
func NewTCPSource(ctx context.Context, addr string, pool *bufpool.Pool, policy delim.Policy, bufSize int) (*TCPSource, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPSource{Conn: conn, Pool: pool, Policy: policy, BufSize: bufSize}, nil
}

func (s *TCPSource) Next(ctx context.Context) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	h, ok := s.Pool.AcquireSize(s.BufSize)
	if !ok {
		return Buffer{}, errPoolExhausted
	}
	h.SetLen(s.BufSize)

	if s.ReadTimeout > 0 {
		s.Conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}

	n, err := readSome(s.Conn, h.Bytes())
	if err != nil {
		h.Release()
		return Buffer{}, err
	}
	if n == 0 {
		h.Release()
		return Buffer{}, errNoData
	}

	h.SetLen(n)
	s.next++
	return Buffer{
		Seq:    s.next,
		Handle: h,
		Delim:  s.Policy.Scan(h.Bytes()),
	}, nil
}

// Close releases the underlying connection.
func (s *TCPSource) Close() error {
	return s.Conn.Close()
}

// readSome reads at least one byte, unless the connection is at EOF,
// returning whatever arrived in a single Read rather than blocking for
// a full buffer the way FileSource's io.ReadFull does: a socket is not
// obligated to deliver BufSize bytes in one pass.
func readSome(conn net.Conn, buf []byte) (int, error) {
	n, err := conn.Read(buf)
	if n > 0 {
		return n, nil
	}
	return n, err
}
