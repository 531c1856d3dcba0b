package network

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/quicrun/quicrun/loop"
	"github.com/quicrun/quicrun/transport"
)

// EndpointConfig collects the variadic options the original's
// Network::endpoint(local_addr, opts...) accepts (TLS credentials, ALPN,
// datagram support, connection callbacks in the original; here, the two
// that matter for a narrow QUIC transport boundary).
type EndpointConfig struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// EndpointOption configures an Endpoint at creation time, the same
// functional-option shape as loop.TickerOption and the teacher's
// server.ServerOption.
type EndpointOption func(*EndpointConfig)

// WithTLSConfig sets the TLS configuration quic-go requires to listen.
func WithTLSConfig(c *tls.Config) EndpointOption {
	return func(cfg *EndpointConfig) { cfg.TLSConfig = c }
}

// WithQUICConfig sets transport-level QUIC options (idle timeouts,
// datagram support, and so on).
func WithQUICConfig(c *quic.Config) EndpointOption {
	return func(cfg *EndpointConfig) { cfg.QUICConfig = c }
}

// EndpointHandle is a shared handle to a bound Endpoint. Its Close method
// dispatches the actual teardown onto the owning Network's Loop, the Go
// analogue of a destructor that posts a job rather than running teardown
// on whatever thread drops the last reference — see spec's design notes
// on deferred destruction.
type EndpointHandle struct {
	network *Network
	ep      *transport.Endpoint
	closed  atomic.Bool
}

// Endpoint installs a new bound QUIC Endpoint on this Network's Loop and
// returns a shared handle to it.
func (n *Network) Endpoint(addr string, opts ...EndpointOption) (*EndpointHandle, error) {
	var cfg EndpointConfig
	for _, o := range opts {
		o(&cfg)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNetworkClosed
	}
	n.mu.Unlock()

	var ep *transport.Endpoint
	listenErr, err := loop.CallGet(n.group.loop, func() error {
		var lerr error
		ep, lerr = transport.Listen(addr, cfg.TLSConfig, cfg.QUICConfig)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	if listenErr != nil {
		return nil, listenErr
	}

	h := &EndpointHandle{network: n, ep: ep}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = ep.Close()
		return nil, ErrNetworkClosed
	}
	n.endpoints[h] = struct{}{}
	n.mu.Unlock()

	return h, nil
}

// Accept blocks until a peer establishes a connection on this Endpoint or
// ctx is done.
func (h *EndpointHandle) Accept(ctx context.Context) (transport.Connection, error) {
	return h.ep.Accept(ctx)
}

// Connect dials addr and returns the resulting outbound Connection, the
// client-side counterpart to Endpoint/Accept: BTRequestStream rides on a
// Stream opened from either side, so a Network needs both ways onto a
// transport.Connection, not just the accept path.
func (n *Network) Connect(ctx context.Context, addr string, opts ...EndpointOption) (transport.Connection, error) {
	var cfg EndpointConfig
	for _, o := range opts {
		o(&cfg)
	}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, ErrNetworkClosed
	}

	return transport.Dial(ctx, addr, cfg.TLSConfig, cfg.QUICConfig)
}

// LocalAddr reports the UDP address this Endpoint is bound to.
func (h *EndpointHandle) LocalAddr() net.Addr {
	return h.ep.LocalAddr()
}

// Close tears the Endpoint down on the owning Network's Loop thread and
// removes it from the Network's owned set. Calling Close more than once
// is a no-op.
func (h *EndpointHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.network.removeEndpoint(h)
	closeErr, err := loop.CallGet(h.network.group.loop, func() error {
		return h.ep.Close()
	})
	if err != nil {
		return err
	}
	return closeErr
}
