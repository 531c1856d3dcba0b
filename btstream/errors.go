package btstream

import "github.com/quicrun/quicrun/api"

// Sentinel errors, following the same convention as loop.ErrShutdown and
// network.ErrNetworkClosed (grounded on the teacher's api/errors.go
// Error/ErrorCode shape).
var (
	// ErrProtocol wraps every malformed-input condition the incremental
	// parser can detect: a size prefix that never terminates, an invalid
	// or zero length, a length over MaxReqLen, or an undecodable list.
	ErrProtocol = api.NewError(api.ErrCodeInvalidArgument, "btstream: protocol error")

	// ErrStreamClosed is returned by Command/Respond once the stream has
	// closed.
	ErrStreamClosed = api.NewError(api.ErrCodeClosed, "btstream: stream closed")

	// ErrNoReturnSender is returned by Message.Respond on a Message that
	// is not a received Command: one synthesized locally (a timeout), or a
	// Response/Error delivered to a command's callback, so there is
	// nothing to respond to.
	ErrNoReturnSender = api.NewError(api.ErrCodeInvalidArgument, "btstream: message has no return sender")
)
