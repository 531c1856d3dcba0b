// Package benchmarks holds throughput benchmarks for the event-loop and
// protocol layers, in the same spirit as the teacher's own benchmarks
// package (parallel b.RunParallel over the hot path of each component).
package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/quicrun/quicrun/btstream"
	"github.com/quicrun/quicrun/faketransport"
	"github.com/quicrun/quicrun/loop"
)

// BenchmarkCallSoonThroughput measures how many cross-thread job
// submissions the Loop can absorb per second under concurrent producers.
func BenchmarkCallSoonThroughput(b *testing.B) {
	l := loop.New()
	defer l.Shutdown(false)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			done := make(chan struct{})
			_ = l.CallSoon(func() { close(done) })
			<-done
		}
	})
}

// BenchmarkCallGetRoundTrip measures the latency of a synchronous
// cross-thread RPC into the Loop.
func BenchmarkCallGetRoundTrip(b *testing.B) {
	l := loop.New()
	defer l.Shutdown(false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = loop.CallGet(l, func() int { return i })
	}
}

// BenchmarkTickerFireRate measures how many times a fixed-interval Ticker
// can fire and re-arm per second.
func BenchmarkTickerFireRate(b *testing.B) {
	l := loop.New()
	defer l.Shutdown(false)

	fired := make(chan struct{}, 1)
	ticker, err := l.CallEvery(time.Microsecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, loop.StartImmediately(true))
	if err != nil {
		b.Fatal(err)
	}
	defer ticker.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		<-fired
	}
}

// BenchmarkBTStreamRoundTrip measures end-to-end Command/Response
// throughput over an in-memory stream pair.
func BenchmarkBTStreamRoundTrip(b *testing.B) {
	l := loop.New()
	defer l.Shutdown(false)

	a, bStream := faketransport.NewStreamPair(1, 2)
	client := btstream.New(l, a)
	server := btstream.New(l, bStream)
	client.StartReading(context.Background())
	server.StartReading(context.Background())

	done := make(chan struct{})
	if err := server.RegisterCommand("echo", func(m btstream.Message) {
		_ = m.Respond(m.Body(), false)
	}); err != nil {
		b.Fatal(err)
	}

	body := make([]byte, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := client.Command("echo", body, btstream.WithCallback(func(m btstream.Message) {
			done <- struct{}{}
		})); err != nil {
			b.Fatal(err)
		}
		<-done
	}
}
