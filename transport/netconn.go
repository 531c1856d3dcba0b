// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport adapts github.com/quic-go/quic-go's concrete types to
// the narrow Connection/Stream interfaces the rest of this module consumes,
// the same boundary QYUbit-Axium's quic-transport.connectionWrapper draws
// around its own AxiumConnection.
package transport

import (
	"context"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// Stream is the minimal surface BTRequestStream rides on: a single
// bidirectional QUIC stream.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	StreamID() int64
}

// Connection is the minimal surface Network needs from an accepted or
// dialed QUIC connection.
type Connection interface {
	OpenStreamSync(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	CloseWithError(code uint64, reason string) error
	RemoteAddr() net.Addr

	// ID is a diagnostic identifier stamped when the connection is
	// accepted or dialed, independent of any wire-level connection id,
	// matching QYUbit's accept(uuid.New()...) pattern for log correlation.
	ID() uuid.UUID
}

// quicStream adapts *quic.Stream to Stream.
type quicStream struct {
	s *quic.Stream
}

func (w quicStream) Read(p []byte) (int, error)  { return w.s.Read(p) }
func (w quicStream) Write(p []byte) (int, error) { return w.s.Write(p) }
func (w quicStream) Close() error                { return w.s.Close() }
func (w quicStream) StreamID() int64             { return int64(w.s.StreamID()) }

// quicConnection adapts *quic.Conn to Connection.
type quicConnection struct {
	c  *quic.Conn
	id uuid.UUID
}

func wrapConnection(c *quic.Conn) *quicConnection {
	return &quicConnection{c: c, id: uuid.New()}
}

func (w *quicConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := w.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s: s}, nil
}

func (w *quicConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := w.c.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s: s}, nil
}

func (w *quicConnection) CloseWithError(code uint64, reason string) error {
	return w.c.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (w *quicConnection) RemoteAddr() net.Addr { return w.c.RemoteAddr() }

func (w *quicConnection) ID() uuid.UUID { return w.id }
