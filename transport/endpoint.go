package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
)

// Endpoint is a bound UDP address hosting QUIC connections, the external
// collaborator spec.md's GLOSSARY describes Network.Endpoint as producing.
// It owns the quic-go listener and nothing else — handshake, congestion
// control, and loss recovery live entirely inside quic-go.
type Endpoint struct {
	ln *quic.Listener
}

// Listen binds addr and starts accepting QUIC connections on it.
func Listen(addr string, tlsConf *tls.Config, quicConf *quic.Config) (*Endpoint, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return &Endpoint{ln: ln}, nil
}

// Accept blocks until a peer establishes a connection or ctx is done.
func (e *Endpoint) Accept(ctx context.Context) (Connection, error) {
	c, err := e.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return wrapConnection(c), nil
}

// Dial establishes an outbound QUIC connection to addr.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) (Connection, error) {
	c, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return wrapConnection(c), nil
}

// LocalAddr reports the UDP address this Endpoint is bound to.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.ln.Addr()
}

// Close stops accepting new connections on this Endpoint. It does not
// close connections already handed out by Accept.
func (e *Endpoint) Close() error {
	return e.ln.Close()
}
