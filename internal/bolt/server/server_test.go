package server

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/go-bolt/internal/bolt/framing"
	"github.com/alxayo/go-bolt/internal/bolt/handshake"
	"github.com/alxayo/go-bolt/internal/bolt/message"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
	"github.com/alxayo/go-bolt/internal/bolt/session"
)

func TestServerStartStopAndConnectionCount(t *testing.T) {
	srv := New(Config{
		ListenAddr: "127.0.0.1:0",
		NewHooks:   func(connID string) session.Hooks { return session.Hooks{} },
	}, NewMetricsWithRegistry(prometheus.NewRegistry()))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, handshake.ClientHandshake(conn))

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, srv.Stop())
}

func TestServerPublishesLifecycleEvents(t *testing.T) {
	var gotAccept, gotHandshake bool
	srv := New(Config{
		ListenAddr: "127.0.0.1:0",
		NewHooks:   func(connID string) session.Hooks { return session.Hooks{} },
	}, NewMetricsWithRegistry(prometheus.NewRegistry()))
	srv.Events().Subscribe(func(e Event) {
		switch e.Type {
		case EventConnectionAccept:
			gotAccept = true
		case EventHandshakeComplete:
			gotHandshake = true
		}
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, handshake.ClientHandshake(conn))

	require.Eventually(t, func() bool { return gotAccept && gotHandshake }, time.Second, time.Millisecond)
}

func TestServerRoundTripsInitOverWire(t *testing.T) {
	srv := New(Config{
		ListenAddr: "127.0.0.1:0",
		NewHooks:   func(connID string) session.Hooks { return session.Hooks{} },
	}, NewMetricsWithRegistry(prometheus.NewRegistry()))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, handshake.ClientHandshake(conn))

	payload, err := message.Init("test/1.0", packstream.Map{})
	require.NoError(t, err)
	out, err := framing.EncodeMessage(framing.DefaultCapacity, payload)
	require.NoError(t, err)
	_, err = conn.Write(out)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	sess := session.NewServer(session.Hooks{}, 8192)
	defer sess.Close()
	reg.Register("conn-1", sess)
	require.Equal(t, 1, reg.Len())
	got, ok := reg.Get("conn-1")
	require.True(t, ok)
	require.Same(t, sess, got)
	reg.Unregister("conn-1")
	require.Equal(t, 0, reg.Len())
}
