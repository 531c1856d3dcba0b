package btstream

// MessageType distinguishes the three bencoded list shapes BTRequestStream
// frames on the wire.
type MessageType string

const (
	TypeCommand  MessageType = "C"
	TypeResponse MessageType = "R"
	TypeError    MessageType = "E"
)

// Message is one decoded BTRequestStream frame, handed to a registered
// endpoint handler (for a Command) or to a command's own callback (for a
// Response/Error/timeout).
//
// Endpoint and Body are produced while decoding the frame and do not point
// into the raw frame bytes. Go strings and slices keep their backing
// memory alive for as long as anything references it, and copying a
// Message copies string and slice headers rather than bytes, so — unlike
// the original's std::string_view-into-std::string
// representation — no view-rebasing step is needed when a Message is
// copied or moved; see DESIGN.md.
type Message struct {
	reqID    int64
	msgType  MessageType
	endpoint string
	body     []byte
	timedOut bool
	isError  bool
	streamID int64

	stream *BTRequestStream
}

// RequestID returns the message's req_id.
func (m Message) RequestID() int64 { return m.reqID }

// Type reports which of the three wire shapes this message was decoded
// from ("" for a locally synthesized timeout).
func (m Message) Type() MessageType { return m.msgType }

// Endpoint is the endpoint name a Command targeted. Empty for
// responses/errors/timeouts.
func (m Message) Endpoint() string { return m.endpoint }

// Body is the message's opaque payload.
func (m Message) Body() []byte { return m.body }

// TimedOut reports whether this Message was synthesized locally because
// the request it answers never got a reply before its deadline.
func (m Message) TimedOut() bool { return m.timedOut }

// IsError reports whether this Message carries an application-level error
// (either a received "E" list or a synthesized timeout).
func (m Message) IsError() bool { return m.isError || m.timedOut }

// OK reports whether this Message represents a successful response —
// neither a timeout nor an application error.
func (m Message) OK() bool { return !m.timedOut && !m.isError }

// StreamID identifies the underlying QUIC stream this message arrived on,
// carried purely for logging/tracing, the same role the original's
// ConnectionID back-reference on message plays.
func (m Message) StreamID() int64 { return m.streamID }

// Respond answers the Command this Message carries. It may be called at
// any later time from any goroutine. If the owning stream has since
// closed, or this Message was not a received Command, Respond returns an
// error instead of silently doing nothing — the Go equivalent of the
// original's weak_ptr-guarded return_sender, made visible at the call
// site rather than swallowed.
func (m Message) Respond(body []byte, isError bool) error {
	if m.stream == nil || m.msgType != TypeCommand {
		return ErrNoReturnSender
	}
	return m.stream.respond(m.reqID, body, isError)
}

func timeoutMessage(streamID int64) Message {
	return Message{timedOut: true, isError: true, streamID: streamID}
}
