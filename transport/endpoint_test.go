package transport_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/quicrun/quicrun/transport"
)

// generateLoopbackCert builds a throwaway self-signed cert valid for
// "localhost"/127.0.0.1, the same shape phuhao00-QUIC's integration test
// uses to stand up a real QUIC listener without external PKI.
func generateLoopbackCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"quicrun test"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func serverTLSConfig(t *testing.T) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{generateLoopbackCert(t)},
		NextProtos:   []string{"quicrun-test"},
	}
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"quicrun-test"},
	}
}

func TestListenDialStreamRoundTrip(t *testing.T) {
	ep, err := transport.Listen("localhost:0", serverTLSConfig(t), nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	accepted := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := ep.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		defer conn.CloseWithError(0, "done")

		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			accepted <- err
			return
		}
		defer stream.Close()

		buf := make([]byte, 64)
		n, err := stream.Read(buf)
		if err != nil {
			accepted <- err
			return
		}
		if _, err := stream.Write(buf[:n]); err != nil {
			accepted <- err
			return
		}
		// Keep the connection open until the client has read the echo and
		// closed its side of the stream.
		_, _ = io.Copy(io.Discard, stream)
		accepted <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, ep.LocalAddr().String(), clientTLSConfig(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseWithError(0, "bye")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("OpenStreamSync: %v", err)
	}

	want := []byte("hello over quic")
	if _, err := stream.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := io.ReadFull(stream, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("echo = %q, want %q", got, want)
	}
	stream.Close()

	if err := <-accepted; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestConnectionAndStreamIDs(t *testing.T) {
	ep, err := transport.Listen("localhost:0", serverTLSConfig(t), nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	serverConn := make(chan transport.Connection, 1)
	serverErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := ep.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		if _, err := conn.AcceptStream(ctx); err != nil {
			serverErr <- err
			return
		}
		serverConn <- conn
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientConn, err := transport.Dial(ctx, ep.LocalAddr().String(), clientTLSConfig(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.CloseWithError(0, "bye")

	clientStream, err := clientConn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("OpenStreamSync: %v", err)
	}
	defer clientStream.Close()
	// The peer only learns of a stream once data is sent on it.
	if _, err := clientStream.Write([]byte{0}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-serverErr:
		t.Fatalf("server side: %v", err)
	case conn := <-serverConn:
		defer conn.CloseWithError(0, "done")
		if clientConn.ID() == conn.ID() {
			t.Fatal("client and server Connection.ID() must not collide")
		}
		if clientStream.StreamID() < 0 {
			t.Fatalf("StreamID() = %d, want non-negative", clientStream.StreamID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
}
