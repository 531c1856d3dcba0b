package network

import (
	"sync/atomic"

	"github.com/quicrun/quicrun/loop"
)

// nextCallerID backs the process-wide monotonic caller-id counter spec's
// design notes call for ("a global mutable state ... an atomic counter
// initialized at process start").
var nextCallerID atomic.Uint32

// allocateCallerID hands out the next caller-id. It wraps modulo 2^16
// rather than saturating at 0xffff: spec leaves the choice open ("must
// wrap or saturate safely"; overflow "is not expected for this use
// case") — wrapping means a long-running process that does exhaust the
// range keeps assigning distinct-looking ids instead of pinning every
// Network created afterward to the same one. See DESIGN.md.
func allocateCallerID() loop.CallerID {
	id := nextCallerID.Add(1)
	return loop.CallerID(uint16(id))
}
