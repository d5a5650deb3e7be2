package handshake

import (
	"net"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	versionCh := make(chan uint32, 1)
	go func() {
		v, err := ServerHandshake(serverConn)
		versionCh <- v
		errCh <- err
	}()

	if err := ClientHandshake(clientConn); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if v := <-versionCh; v != Version1 {
		t.Fatalf("negotiated version = %d, want %d", v, Version1)
	}
}

func TestServerHandshakeRejectsBadMagic(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		buf := make([]byte, 20)
		clientConn.Write(buf) // all zero, wrong magic
	}()

	if _, err := ServerHandshake(serverConn); err == nil {
		t.Fatal("expected handshake error for bad magic")
	}
}
