package network

import "github.com/quicrun/quicrun/api"

// ErrNetworkClosed is returned by Endpoint and Connect once Close has been
// called. The Loop-forwarding methods do not check it; they report
// loop.ErrShutdown once the Loop itself has shut down. Grounded on the
// teacher's api/errors.go Error/ErrorCode shape, same as loop.ErrShutdown.
var ErrNetworkClosed = api.NewError(api.ErrCodeClosed, "network: closed")
