// Package faketransport provides hand-written fake implementations of
// transport.Stream/transport.Connection for tests, in the same spirit as
// the teacher's fake package (fake.Transport, fake.FakeReactor): no
// mocking framework, just small predictable types.
package faketransport

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/quicrun/quicrun/transport"
)

// Stream is an in-memory transport.Stream backed by an io.Pipe, so a test
// can write bytes on one end and have a BTRequestStream read them on the
// other, including at arbitrary chunk boundaries.
type Stream struct {
	id int64

	mu     sync.Mutex
	closed bool

	pr *io.PipeReader
	pw *io.PipeWriter
}

// NewStreamPair returns two Streams wired to each other: bytes written to
// one are read from the other, and vice versa — a fake QUIC stream pair
// without any networking.
func NewStreamPair(idA, idB int64) (*Stream, *Stream) {
	aToB_r, aToB_w := io.Pipe()
	bToA_r, bToA_w := io.Pipe()

	a := &Stream{id: idA, pr: bToA_r, pw: aToB_w}
	b := &Stream{id: idB, pr: aToB_r, pw: bToA_w}
	return a, b
}

func (s *Stream) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.pw.Write(p) }
func (s *Stream) StreamID() int64             { return s.id }

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.pw.Close()
	return nil
}

var _ transport.Stream = (*Stream)(nil)

// Connection is a minimal fake transport.Connection wrapping a single
// pre-built Stream, enough for tests that don't exercise multi-stream
// connection behavior.
type Connection struct {
	stream     *Stream
	remoteAddr net.Addr
	id         uuid.UUID
	opened     bool
	mu         sync.Mutex
}

// NewConnection wraps stream as the sole stream a fake Connection will
// hand out via OpenStreamSync/AcceptStream.
func NewConnection(stream *Stream, remoteAddr net.Addr) *Connection {
	return &Connection{stream: stream, remoteAddr: remoteAddr, id: uuid.New()}
}

func (c *Connection) OpenStreamSync(_ context.Context) (transport.Stream, error) {
	return c.takeStream()
}

func (c *Connection) AcceptStream(_ context.Context) (transport.Stream, error) {
	return c.takeStream()
}

func (c *Connection) takeStream() (transport.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil, io.EOF
	}
	c.opened = true
	return c.stream, nil
}

func (c *Connection) CloseWithError(code uint64, reason string) error {
	return c.stream.Close()
}

func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }
func (c *Connection) ID() uuid.UUID        { return c.id }

var _ transport.Connection = (*Connection)(nil)
