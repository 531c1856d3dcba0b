// Package btstream implements the length-prefixed, bencoded
// request/response protocol that rides on a single QUIC stream: frames
// are `<decimal-length> ":" <bencoded-list>`, correlated by a
// monotonically increasing request id, with per-request timeouts swept by
// a Ticker on the owning Loop. Grounded on the original oxen-libquic
// implementation (original_source/src/btstream.cpp) for exact framing and
// timeout semantics, and on the teacher's facade/server option-struct
// conventions for construction.
package btstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quicrun/quicrun/loop"
	"github.com/quicrun/quicrun/transport"
)

var readBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

// BTRequestStream is a request/response protocol layered on a single QUIC
// stream. Wire writes, parsing, and handler dispatch happen on its Loop's
// worker goroutine (reads happen on the StartReading pump goroutine, which
// hands the bytes to the Loop); Command, RegisterCommand and Close are safe to call
// from any goroutine and forward onto the Loop themselves.
type BTRequestStream struct {
	loopRef  *loop.Loop
	callerID loop.CallerID
	stream   transport.Stream

	mu       sync.Mutex
	sentReqs []*sentRequest
	funcMap  map[string]func(Message)

	recvBuf    []byte
	sizeBuf    []byte
	currentLen int

	nextReqID atomic.Int64
	closing   atomic.Bool

	closeCallback func(*BTRequestStream, uint64)
	timeoutTicker *loop.Ticker
}

// New constructs a BTRequestStream atop stream, driven by l. The periodic
// timeout sweep is tagged with caller-id 0 (no owning Network); use
// NewForCaller to tag it with a Network's caller-id instead.
func New(l *loop.Loop, stream transport.Stream, opts ...Option) *BTRequestStream {
	return newStream(l, 0, stream, opts...)
}

// NewForCaller is New with an explicit caller-id, so the timeout-sweep
// Ticker is cancelled along with everything else tagged with that id.
func NewForCaller(l *loop.Loop, id loop.CallerID, stream transport.Stream, opts ...Option) *BTRequestStream {
	return newStream(l, id, stream, opts...)
}

func newStream(l *loop.Loop, id loop.CallerID, stream transport.Stream, opts ...Option) *BTRequestStream {
	cfg := config{timeoutSweepInterval: defaultTimeoutSweepInterval}
	for _, o := range opts {
		o(&cfg)
	}

	b := &BTRequestStream{
		loopRef:       l,
		callerID:      id,
		stream:        stream,
		funcMap:       make(map[string]func(Message)),
		closeCallback: cfg.closeCallback,
	}

	ticker, err := l.CallEveryForCaller(id, cfg.timeoutSweepInterval, b.checkTimeouts, loop.StartImmediately(true))
	if err == nil {
		b.timeoutTicker = ticker
	}
	return b
}

// StreamID identifies the underlying QUIC stream, for logging/tracing.
func (b *BTRequestStream) StreamID() int64 { return b.stream.StreamID() }

// Command invokes a remote endpoint. With WithCallback, this becomes a
// request: a fresh strictly-increasing req_id is assigned, the entry is
// appended to the sorted in-flight list, and cb fires exactly once with
// either the matching response or a synthesized timeout. Without a
// callback, the command is fire-and-forget.
func (b *BTRequestStream) Command(endpoint string, body []byte, opts ...CommandOption) error {
	if b.closing.Load() {
		return ErrStreamClosed
	}

	ccfg := commandConfig{timeout: DefaultTimeout}
	for _, o := range opts {
		o(&ccfg)
	}

	// The id is assigned and the in-flight entry appended under one lock,
	// so concurrent callers cannot leave the list out of req_id order.
	b.mu.Lock()
	reqID := b.nextReqID.Add(1) - 1
	payload, err := encodeCommand(reqID, endpoint, body)
	if err == nil && ccfg.cb != nil {
		b.sentReqs = append(b.sentReqs, &sentRequest{
			reqID:    reqID,
			deadline: time.Now().Add(ccfg.timeout),
			cb:       ccfg.cb,
		})
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	framed := frame(payload)

	return b.loopRef.Call(func() {
		_, _ = b.stream.Write(framed)
	})
}

// RegisterCommand installs (or replaces) the handler for endpoint,
// invoked on the Loop thread for every inbound Command addressed to it.
func (b *BTRequestStream) RegisterCommand(endpoint string, handler func(Message)) error {
	return b.loopRef.Call(func() {
		b.mu.Lock()
		b.funcMap[endpoint] = handler
		b.mu.Unlock()
	})
}

// respond answers a previously received Command. Called by Message.Respond.
func (b *BTRequestStream) respond(reqID int64, body []byte, isError bool) error {
	if b.closing.Load() {
		return ErrStreamClosed
	}
	payload, err := encodeResponse(reqID, body, isError)
	if err != nil {
		return err
	}
	framed := frame(payload)
	return b.loopRef.Call(func() {
		_, _ = b.stream.Write(framed)
	})
}

// checkTimeouts walks the in-flight list from oldest to newest, failing
// every entry whose deadline has passed, and stops at the first one that
// hasn't. The list is sorted by req_id, not by deadline: a later request
// given a shorter WithTimeout is not failed until every entry ahead of it
// has expired or been answered.
func (b *BTRequestStream) checkTimeouts() {
	now := time.Now()

	var expired []*sentRequest
	b.mu.Lock()
	for len(b.sentReqs) > 0 && b.sentReqs[0].expired(now) {
		expired = append(expired, b.sentReqs[0])
		b.sentReqs = b.sentReqs[1:]
	}
	b.mu.Unlock()

	sid := b.stream.StreamID()
	for _, r := range expired {
		r.cb(timeoutMessage(sid))
	}
}

// Receive feeds raw bytes read off the wire into the parser. It is safe to
// call from any goroutine (the transport's own read pump, typically);
// actual parsing always runs on the Loop thread.
func (b *BTRequestStream) Receive(data []byte) {
	if b.closing.Load() || len(data) == 0 {
		return
	}
	chunk := append([]byte(nil), data...)
	_ = b.loopRef.CallSoon(func() { b.processIncoming(chunk) })
}

// StartReading launches a goroutine pumping Read off the underlying
// stream into Receive until ctx is done or the stream reports an error,
// the same read-pump shape QYUbit-Axium's client.readPump uses.
func (b *BTRequestStream) StartReading(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			bufp := readBufPool.Get().(*[]byte)
			n, err := b.stream.Read(*bufp)
			if n > 0 {
				b.Receive((*bufp)[:n])
			}
			readBufPool.Put(bufp)
			if err != nil {
				code := uint64(0)
				if err != io.EOF {
					code = 1
				}
				b.Closed(code)
				return
			}
		}
	}()
}

// processIncoming is the two-state incremental parser: accumulate a
// decimal length prefix until ':', then accumulate exactly that many body
// bytes, decode, dispatch, and repeat for whatever is left in req.
func (b *BTRequestStream) processIncoming(req []byte) {
	for len(req) > 0 {
		if b.currentLen == 0 {
			usingSizeBuf := len(b.sizeBuf) > 0
			var probe []byte
			if usingSizeBuf {
				room := MaxReqLenEncoded - len(b.sizeBuf)
				take := req
				if len(take) > room {
					take = take[:room]
				}
				probe = append(append([]byte(nil), b.sizeBuf...), take...)
			} else {
				probe = req
			}

			length, consumed, err := parseLength(probe)
			if err != nil {
				b.closeProtocolError(err)
				return
			}
			if consumed == 0 {
				if usingSizeBuf {
					room := MaxReqLenEncoded - len(b.sizeBuf)
					take := req
					if len(take) > room {
						take = take[:room]
					}
					b.sizeBuf = append(b.sizeBuf, take...)
				} else {
					b.sizeBuf = append(b.sizeBuf, req...)
				}
				return
			}

			b.currentLen = length
			if usingSizeBuf {
				already := len(b.sizeBuf)
				b.sizeBuf = b.sizeBuf[:0]
				req = req[consumed-already:]
			} else {
				req = req[consumed:]
			}
		}

		need := b.currentLen - len(b.recvBuf)
		if need > len(req) {
			b.recvBuf = append(b.recvBuf, req...)
			return
		}
		if need > 0 {
			b.recvBuf = append(b.recvBuf, req[:need]...)
			req = req[need:]
		}

		frameBytes := b.recvBuf
		b.recvBuf = nil
		b.currentLen = 0
		b.handleFrame(frameBytes)
	}
}

// parseLength returns (0: incomplete, >0: bytes consumed including the
// ':') or an error for an invalid or oversized length.
func parseLength(buf []byte) (length, consumed int, err error) {
	idx := bytes.IndexByte(buf, ':')
	if idx < 0 {
		if len(buf) >= MaxReqLenEncoded {
			return 0, 0, fmt.Errorf("%w: invalid encoding or request too large", ErrProtocol)
		}
		return 0, 0, nil
	}
	n, convErr := strconv.Atoi(string(buf[:idx]))
	if convErr != nil {
		return 0, 0, fmt.Errorf("%w: invalid length encoding: %v", ErrProtocol, convErr)
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: empty request", ErrProtocol)
	}
	if n > MaxReqLen {
		return 0, 0, fmt.Errorf("%w: request exceeds maximum size", ErrProtocol)
	}
	return n, idx + 1, nil
}

func (b *BTRequestStream) handleFrame(raw []byte) {
	dl, err := decodeList(raw)
	if err != nil {
		b.closeProtocolError(err)
		return
	}

	switch MessageType(dl.msgType) {
	case TypeResponse, TypeError:
		b.mu.Lock()
		idx, found := findSentRequest(b.sentReqs, dl.reqID)
		var sr *sentRequest
		if found {
			sr = b.sentReqs[idx]
			b.sentReqs = append(b.sentReqs[:idx], b.sentReqs[idx+1:]...)
		}
		b.mu.Unlock()

		if !found {
			// Source leans toward drop+log for an unmatched
			// Response/Error; see DESIGN.md Open Question decision.
			log.Printf("btstream: dropping unmatched %s for req_id=%d", dl.msgType, dl.reqID)
			return
		}
		sr.cb(Message{
			reqID:    dl.reqID,
			msgType:  MessageType(dl.msgType),
			body:     dl.body,
			isError:  dl.msgType == string(TypeError),
			streamID: b.stream.StreamID(),
			stream:   b,
		})

	default: // TypeCommand
		b.mu.Lock()
		handler, ok := b.funcMap[dl.endpoint]
		b.mu.Unlock()
		if !ok {
			log.Printf("btstream: no handler registered for endpoint %q", dl.endpoint)
			return
		}
		handler(Message{
			reqID:    dl.reqID,
			msgType:  TypeCommand,
			endpoint: dl.endpoint,
			body:     dl.body,
			streamID: b.stream.StreamID(),
			stream:   b,
		})
	}
}

func findSentRequest(reqs []*sentRequest, reqID int64) (int, bool) {
	i := sort.Search(len(reqs), func(i int) bool { return reqs[i].reqID >= reqID })
	if i < len(reqs) && reqs[i].reqID == reqID {
		return i, true
	}
	return 0, false
}

func (b *BTRequestStream) closeProtocolError(err error) {
	log.Printf("btstream: %v", err)
	b.closeInternal(ProtocolErrorCode)
}

// Closed is invoked once the transport layer observes the stream close
// (an EOF on Read, or a transport-level error), the Go analogue of the
// original Stream::closed override.
func (b *BTRequestStream) Closed(appCode uint64) {
	_ = b.loopRef.Call(func() { b.closeInternal(appCode) })
}

// Close closes the stream from the application side.
func (b *BTRequestStream) Close() error {
	return b.loopRef.Call(func() { b.closeInternal(0) })
}

func (b *BTRequestStream) closeInternal(code uint64) {
	if !b.closing.CompareAndSwap(false, true) {
		return
	}

	if b.timeoutTicker != nil {
		b.timeoutTicker.Release()
	}

	b.mu.Lock()
	pending := b.sentReqs
	b.sentReqs = nil
	b.mu.Unlock()

	sid := b.stream.StreamID()
	for _, r := range pending {
		r.cb(timeoutMessage(sid))
	}

	_ = b.stream.Close()

	if b.closeCallback != nil {
		b.closeCallback(b, code)
	}
}

func frame(payload []byte) []byte {
	prefix := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(prefix)+1+len(payload))
	out = append(out, prefix...)
	out = append(out, ':')
	out = append(out, payload...)
	return out
}
