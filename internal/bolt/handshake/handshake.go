// Package handshake implements the Bolt v1 connection handshake: a 4-byte
// magic followed by four preferred protocol versions from the client, and a
// single negotiated version reply from the server (spec.md §4.4/§6).
package handshake

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	rerrors "github.com/alxayo/go-bolt/internal/errors"
	"github.com/alxayo/go-bolt/internal/logger"
)

// Magic is the 4-byte preamble both sides must agree on before any version
// negotiation happens.
var Magic = [4]byte{0x60, 0x60, 0xB0, 0x17}

// Version1 is the only protocol version this module negotiates (spec.md
// Non-goals: "protocol version negotiation beyond version 1").
const Version1 uint32 = 1

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// ClientHandshake performs the client side of the handshake: write magic
// plus four preferred versions (only the first populated, per spec.md §9's
// resolution of the source's version-slot ambiguity), then read and
// validate the server's 4-byte reply. Mirrors
// internal/rtmp/handshake/client.go's deadline/error-wrapping shape.
func ClientHandshake(conn net.Conn) error {
	if conn == nil {
		return rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "client")

	out := make([]byte, 4+4*4)
	copy(out[:4], Magic[:])
	binary.BigEndian.PutUint32(out[4:8], Version1)
	// Remaining three preferred-version slots stay zero (unused).

	if err := setWriteDeadline(conn, writeTimeout); err != nil {
		return err
	}
	if err := writeFull(conn, out); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("write handshake", writeTimeout, err)
		}
		return rerrors.NewHandshakeError("write handshake", err)
	}

	if err := setReadDeadline(conn, readTimeout); err != nil {
		return err
	}
	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		if isTimeoutErr(err) {
			return rerrors.NewTimeoutError("read version reply", readTimeout, err)
		}
		return rerrors.NewHandshakeError("read version reply", err)
	}
	version := binary.BigEndian.Uint32(reply)
	if version != Version1 {
		return rerrors.NewHandshakeError("negotiate version", fmt.Errorf("server replied with unsupported version %d", version))
	}

	clearDeadlines(conn, log)
	log.Info("handshake completed", "version", version)
	return nil
}

// ServerHandshake performs the server side: read and validate the magic,
// read four preferred versions, select the first mutually supported one
// (only version 1 is ever supported), and write the 4-byte reply. On
// mismatch, per spec.md §4.4, no further bytes are sent — the caller is
// expected to close the connection immediately on error return.
func ServerHandshake(conn net.Conn) (uint32, error) {
	if conn == nil {
		return 0, rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "server")

	if err := setReadDeadline(conn, readTimeout); err != nil {
		return 0, err
	}
	in := make([]byte, 4+4*4)
	if _, err := io.ReadFull(conn, in); err != nil {
		if isTimeoutErr(err) {
			return 0, rerrors.NewTimeoutError("read handshake", readTimeout, err)
		}
		return 0, rerrors.NewHandshakeError("read handshake", err)
	}
	if !magicMatches(in[:4]) {
		return 0, rerrors.NewHandshakeError("validate magic", fmt.Errorf("bad magic % x", in[:4]))
	}

	var selected uint32
	for i := 0; i < 4; i++ {
		v := binary.BigEndian.Uint32(in[4+4*i : 8+4*i])
		if v == Version1 {
			selected = Version1
			break
		}
	}
	if selected == 0 {
		return 0, rerrors.NewHandshakeError("negotiate version", fmt.Errorf("no mutually supported version"))
	}

	reply := make([]byte, 4)
	binary.BigEndian.PutUint32(reply, selected)
	if err := setWriteDeadline(conn, writeTimeout); err != nil {
		return 0, err
	}
	if err := writeFull(conn, reply); err != nil {
		if isTimeoutErr(err) {
			return 0, rerrors.NewTimeoutError("write version reply", writeTimeout, err)
		}
		return 0, rerrors.NewHandshakeError("write version reply", err)
	}

	clearDeadlines(conn, log)
	log.Info("handshake completed", "version", selected)
	return selected, nil
}

func magicMatches(b []byte) bool {
	return len(b) == 4 && b[0] == Magic[0] && b[1] == Magic[1] && b[2] == Magic[2] && b[3] == Magic[3]
}

func setReadDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set read deadline", err)
	}
	return nil
}

func setWriteDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set write deadline", err)
	}
	return nil
}

func clearDeadlines(c net.Conn, log interface{ Warn(string, ...any) }) {
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear read deadline", "error", err)
	}
	if err := c.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn("failed to clear write deadline", "error", err)
	}
}

func writeFull(w io.Writer, b []byte) error {
	off := 0
	for off < len(b) {
		n, err := w.Write(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type to interface{ Timeout() bool }
	if ne, ok := err.(to); ok && ne.Timeout() {
		return true
	}
	return false
}
