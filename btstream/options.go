package btstream

import "time"

// config collects BTRequestStream construction options, the same
// functional-option shape used by loop.TickerOption and
// network.EndpointOption.
type config struct {
	closeCallback        func(*BTRequestStream, uint64)
	timeoutSweepInterval time.Duration
}

// Option configures a BTRequestStream at construction time.
type Option func(*config)

// WithCloseCallback installs a hook invoked once, on the Loop thread,
// when the stream closes (either because the transport closed or because
// a protocol error was detected).
func WithCloseCallback(f func(*BTRequestStream, uint64)) Option {
	return func(c *config) { c.closeCallback = f }
}

// WithTimeoutSweepInterval overrides how often the in-flight request list
// is swept for expired deadlines. Defaults to 200ms.
func WithTimeoutSweepInterval(d time.Duration) Option {
	return func(c *config) { c.timeoutSweepInterval = d }
}

// commandConfig collects Command's per-call options.
type commandConfig struct {
	cb      func(Message)
	timeout time.Duration
}

// CommandOption configures a single Command call.
type CommandOption func(*commandConfig)

// WithCallback makes the Command a request: cb is invoked exactly once,
// on the Loop thread, with either the matching Response/Error or a
// synthesized timeout.
func WithCallback(cb func(Message)) CommandOption {
	return func(c *commandConfig) { c.cb = cb }
}

// WithTimeout overrides the request's deadline; ignored on a Command with
// no callback, since there is nothing to time out.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *commandConfig) { c.timeout = d }
}
