package btstream

import "time"

const (
	// MaxReqLen is the largest decoded message size accepted, mirroring
	// the original's 10_M (10,000,000 byte) ceiling.
	MaxReqLen = 10_000_000

	// MaxReqLenEncoded is the longest a decimal length prefix (including
	// its trailing ':') may run before the stream is considered broken.
	// "10000000:" is nine characters, matching MaxReqLen's digit count.
	MaxReqLenEncoded = 9

	// DefaultTimeout is applied to a command when the caller doesn't
	// supply one via WithTimeout.
	DefaultTimeout = 10 * time.Second

	defaultTimeoutSweepInterval = 200 * time.Millisecond
)

// ProtocolErrorCode is the application error code a BTRequestStream closes
// with when it detects malformed input on the wire.
const ProtocolErrorCode uint64 = 0xB7
