package loop

import "github.com/quicrun/quicrun/api"

// ErrShutdown is returned by CallSoon/CallGet/CallEvery when the Loop has
// already begun or completed shutdown. Grounded on the teacher's
// api/errors.go Error/ErrorCode shape.
var ErrShutdown = api.NewError(api.ErrCodeClosed, "loop: shut down")
