// Package network provides Network, an ownership and scoping façade over
// a loop.Loop: it groups Endpoints under a Loop and tags every Ticker it
// creates with its own caller-id, so tearing a Network down cancels
// exactly its own timers without disturbing siblings sharing the Loop.
// Grounded on the teacher's facade.HioloadWS, which aggregates transport,
// pool, poller, executor and scheduler behind one Config-driven facade.
package network

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quicrun/quicrun/loop"
)

// loopGroup is shared by every Network created from the same root, either
// directly (New) or via CreateLinkedNetwork. owns records whether the
// group is responsible for eventually shutting the Loop down; refCount
// tracks how many Networks still reference it so the last one out can
// decide whether it's "the last owner" per spec §4.3.
type loopGroup struct {
	loop     *loop.Loop
	owns     bool
	refCount atomic.Int64
}

// Network is an ownership/scoping layer over a Loop.
type Network struct {
	group    *loopGroup
	callerID loop.CallerID

	mu        sync.Mutex
	endpoints map[*EndpointHandle]struct{}
	closed    bool
}

// New starts a private Loop and returns a Network that owns it: closing
// this Network (or its last linked sibling) shuts the Loop down too.
func New() *Network {
	g := &loopGroup{loop: loop.New(), owns: true}
	g.refCount.Store(1)
	return newNetwork(g)
}

// NewWithLoop adopts an existing, externally-owned Loop. The Loop outlives
// this Network regardless of how many linked siblings it spawns or when
// they close.
func NewWithLoop(l *loop.Loop) *Network {
	g := &loopGroup{loop: l, owns: false}
	g.refCount.Store(1)
	return newNetwork(g)
}

func newNetwork(g *loopGroup) *Network {
	return &Network{
		group:     g,
		callerID:  allocateCallerID(),
		endpoints: make(map[*EndpointHandle]struct{}),
	}
}

// CreateLinkedNetwork returns a fresh Network bound to the same Loop with
// a distinct caller-id, sharing this Network's ownership group.
func (n *Network) CreateLinkedNetwork() *Network {
	n.group.refCount.Add(1)
	return newNetwork(n.group)
}

// Loop returns the Loop this Network is scoped to.
func (n *Network) Loop() *loop.Loop { return n.group.loop }

// CallerID returns this Network's caller-id tag.
func (n *Network) CallerID() loop.CallerID { return n.callerID }

// CallSoon forwards to the underlying Loop.
func (n *Network) CallSoon(f func()) error { return n.group.loop.CallSoon(f) }

// Call forwards to the underlying Loop.
func (n *Network) Call(f func()) error { return n.group.loop.Call(f) }

// CallLater forwards to the underlying Loop.
func (n *Network) CallLater(delay time.Duration, f func()) error {
	return n.group.loop.CallLater(delay, f)
}

// CallEvery creates a periodic Ticker tagged with this Network's
// caller-id, so Close cancels it without affecting linked siblings.
func (n *Network) CallEvery(interval time.Duration, f func(), opts ...loop.TickerOption) (*loop.Ticker, error) {
	return n.group.loop.CallEveryForCaller(n.callerID, interval, f, opts...)
}

// CallEveryWeak is CallEvery for a weak-bound Ticker.
func (n *Network) CallEveryWeak(interval time.Duration, alive func() bool, f func(), opts ...loop.TickerOption) (*loop.Ticker, error) {
	return n.group.loop.CallEveryWeakForCaller(n.callerID, interval, alive, f, opts...)
}

// Close tears this Network down: endpoints are closed (gracefully unless
// immediate is set), then — if this was the last Network referencing a
// Loop this group owns — the Loop itself is shut down; otherwise only
// this Network's own tickers are cancelled, leaving siblings untouched.
func (n *Network) Close(immediate bool) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	handles := make([]*EndpointHandle, 0, len(n.endpoints))
	for h := range n.endpoints {
		handles = append(handles, h)
	}
	n.mu.Unlock()

	// Endpoints are drained concurrently, not one at a time — a graceful
	// Close on one Endpoint waits for its in-flight accepts to unwind, and
	// a Network holding several shouldn't serialize those waits.
	var eg errgroup.Group
	for _, h := range handles {
		h := h
		eg.Go(func() error {
			if immediate {
				return h.ep.Close()
			}
			return h.Close()
		})
	}
	firstErr := eg.Wait()

	remaining := n.group.refCount.Add(-1)
	if n.group.owns && remaining <= 0 {
		if err := n.group.loop.Shutdown(immediate); err != nil && firstErr == nil {
			firstErr = err
		}
	} else {
		n.group.loop.StopTickers(n.callerID)
	}
	return firstErr
}

// Stats reports live, read-only counters for this Network: its own
// caller-id, how many Endpoints it still owns, and how many Tickers are
// still registered under its caller-id. Adapted from control.ConfigStore's
// GetSnapshot introspection pattern.
type Stats struct {
	CallerID      loop.CallerID
	LiveEndpoints int
	LiveTickers   int
}

func (n *Network) Stats() Stats {
	n.mu.Lock()
	endpoints := len(n.endpoints)
	n.mu.Unlock()
	return Stats{
		CallerID:      n.callerID,
		LiveEndpoints: endpoints,
		LiveTickers:   n.group.loop.TickerCount(n.callerID),
	}
}

func (n *Network) removeEndpoint(h *EndpointHandle) {
	n.mu.Lock()
	delete(n.endpoints, h)
	n.mu.Unlock()
}
