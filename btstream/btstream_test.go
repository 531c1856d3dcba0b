package btstream_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quicrun/quicrun/btstream"
	"github.com/quicrun/quicrun/faketransport"
	"github.com/quicrun/quicrun/loop"
)

func newPair(t *testing.T) (*loop.Loop, *faketransport.Stream, *faketransport.Stream) {
	t.Helper()
	l := loop.New()
	t.Cleanup(func() { _ = l.Shutdown(false) })
	a, b := faketransport.NewStreamPair(1, 2)
	return l, a, b
}

// drain continuously reads and discards from s on its own goroutine, so a
// peer's Write (the fake Stream's io.Pipe is unbuffered) never blocks
// waiting for a reader that the test itself has no use for.
func drain(s *faketransport.Stream) {
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := s.Read(buf); err != nil {
				return
			}
		}
	}()
}

// frameWireBytes produces one real on-wire frame for a Command to endpoint
// with body, by round-tripping it through an actual BTRequestStream rather
// than hand-assembling the bencoded list — the same frame a real client
// would emit.
func frameWireBytes(t *testing.T, l *loop.Loop, endpoint string, body []byte) []byte {
	t.Helper()
	src, sink := faketransport.NewStreamPair(100, 101)
	bts := btstream.New(l, src)
	defer bts.Close()

	if err := bts.Command(endpoint, body); err != nil {
		t.Fatalf("Command: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := sink.Read(buf)
	if err != nil {
		t.Fatalf("reading framed command: %v", err)
	}
	return buf[:n]
}

// TestRoundTripDelivery covers the universal invariant that a Command sent
// on one stream is delivered intact to the registered handler on the other,
// and a Respond on that Message reaches the original caller's callback.
func TestRoundTripDelivery(t *testing.T) {
	l, a, b := newPair(t)

	client := btstream.New(l, a)
	server := btstream.New(l, b)
	client.StartReading(context.Background())
	server.StartReading(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	err := server.RegisterCommand("echo", func(m btstream.Message) {
		if err := m.Respond(append([]byte("echo:"), m.Body()...), false); err != nil {
			t.Errorf("Respond: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("RegisterCommand: %v", err)
	}

	var got btstream.Message
	err = client.Command("echo", []byte("hello"), btstream.WithCallback(func(m btstream.Message) {
		got = m
		wg.Done()
	}))
	if err != nil {
		t.Fatalf("Command: %v", err)
	}

	waitOrTimeout(t, &wg, time.Second)
	if got.IsError() {
		t.Fatalf("got error response, want success: body=%q", got.Body())
	}
	if !bytes.Equal(got.Body(), []byte("echo:hello")) {
		t.Fatalf("body = %q, want %q", got.Body(), "echo:hello")
	}
}

// TestChunkedLengthPrefixParsing feeds a single framed Command through
// Receive split at several different chunk boundaries, confirming the
// incremental parser reassembles it regardless of where the cuts land —
// including inside the decimal length prefix itself.
func TestChunkedLengthPrefixParsing(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 5, 1000} {
		chunkSize := chunkSize
		t.Run(sizeLabel(chunkSize), func(t *testing.T) {
			l := loop.New()
			t.Cleanup(func() { _ = l.Shutdown(false) })
			_, b := faketransport.NewStreamPair(1, 2)

			server := btstream.New(l, b)

			framed := frameWireBytes(t, l, "probe", []byte("payload-data"))

			received := make(chan btstream.Message, 1)
			if err := server.RegisterCommand("probe", func(m btstream.Message) {
				received <- m
			}); err != nil {
				t.Fatalf("RegisterCommand: %v", err)
			}

			for off := 0; off < len(framed); off += chunkSize {
				end := off + chunkSize
				if end > len(framed) {
					end = len(framed)
				}
				server.Receive(framed[off:end])
			}

			select {
			case m := <-received:
				if !bytes.Equal(m.Body(), []byte("payload-data")) {
					t.Fatalf("body = %q", m.Body())
				}
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for chunked command to parse")
			}
		})
	}
}

// TestOversizedMessageRejected confirms a length prefix claiming a body
// larger than MaxReqLen is treated as a protocol error and closes the
// stream, rather than being buffered.
func TestOversizedMessageRejected(t *testing.T) {
	l, _, b := newPair(t)

	closed := make(chan uint64, 1)
	server := btstream.New(l, b, btstream.WithCloseCallback(func(_ *btstream.BTRequestStream, code uint64) {
		closed <- code
	}))

	oversized := []byte("99999999999:garbage")
	server.Receive(oversized)

	select {
	case code := <-closed:
		if code != btstream.ProtocolErrorCode {
			t.Fatalf("close code = %d, want %d", code, btstream.ProtocolErrorCode)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for oversized message to close the stream")
	}
}

// TestRequestTimeoutFires confirms a Command with no matching Response
// within its deadline gets a synthesized timeout Message instead of
// hanging forever.
func TestRequestTimeoutFires(t *testing.T) {
	l, a, b := newPair(t) // b is drained but never responds, so no response ever arrives.
	drain(b)

	client := btstream.New(l, a, btstream.WithTimeoutSweepInterval(10*time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	var got btstream.Message
	err := client.Command("nobody-home", nil,
		btstream.WithCallback(func(m btstream.Message) {
			got = m
			wg.Done()
		}),
		btstream.WithTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}

	waitOrTimeout(t, &wg, 500*time.Millisecond)
	if !got.TimedOut() {
		t.Fatal("expected a timed-out Message")
	}
	if !got.IsError() {
		t.Fatal("a timed-out Message must report IsError")
	}
}

// TestTimeoutMonotonicity confirms that among two requests issued with the
// same timeout, the one issued first times out no later than the one
// issued second — the sorted-by-req-id sweep must not reorder them.
func TestTimeoutMonotonicity(t *testing.T) {
	l, a, b := newPair(t)
	drain(b)

	client := btstream.New(l, a, btstream.WithTimeoutSweepInterval(5*time.Millisecond))

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(2)

	const timeout = 30 * time.Millisecond
	if err := client.Command("first", nil, btstream.WithCallback(func(m btstream.Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		wg.Done()
	}), btstream.WithTimeout(timeout)); err != nil {
		t.Fatalf("Command(first): %v", err)
	}

	if err := client.Command("second", nil, btstream.WithCallback(func(m btstream.Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		wg.Done()
	}), btstream.WithTimeout(timeout)); err != nil {
		t.Fatalf("Command(second): %v", err)
	}

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("timeout order = %v, want [first second]", order)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for callback")
	}
}

func sizeLabel(n int) string {
	switch n {
	case 1000:
		return "remainder"
	default:
		return string(rune('0' + n))
	}
}
