package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/go-bolt/internal/logger"
	"github.com/alxayo/go-bolt/internal/bolt/framing"
	"github.com/alxayo/go-bolt/internal/bolt/handshake"
	"github.com/alxayo/go-bolt/internal/bolt/message"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
	"github.com/alxayo/go-bolt/internal/bolt/session"
)

// Config holds server listener configuration, adapted from
// internal/rtmp/server/server.go's Config (ListenAddr/ChunkSize default
// handling kept; RTMP-specific recording/relay/hook-script knobs dropped
// since Bolt has no media plane, replaced with chunk capacity and the
// per-session hook factory).
type Config struct {
	ListenAddr    string
	ChunkCapacity int

	// NewHooks builds the session.Hooks for a freshly accepted connection.
	// Required: a server with no application logic behind RUN is not
	// useful. Each connection gets its own Hooks value so stateful
	// embedders (e.g. a per-connection transaction) don't need to track
	// connection identity themselves.
	NewHooks func(connID string) session.Hooks
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":7687"
	}
	if c.ChunkCapacity == 0 {
		c.ChunkCapacity = framing.DefaultCapacity
	}
}

// Server is the Bolt TCP listener and connection manager.
type Server struct {
	cfg     Config
	log     *slog.Logger
	reg     *Registry
	events  *EventBus
	metrics *Metrics

	mu          sync.RWMutex
	l           net.Listener
	closing     bool
	acceptingWg sync.WaitGroup
	connWg      sync.WaitGroup
	conns       map[string]net.Conn
}

// New creates an unstarted Server.
func New(cfg Config, metrics *Metrics) *Server {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:     cfg,
		log:     logger.Logger().With("component", "bolt_server"),
		reg:     NewRegistry(),
		events:  NewEventBus(),
		metrics: metrics,
		conns:   make(map[string]net.Conn),
	}
}

// Events returns the server's event bus for subscribing lifecycle hooks.
func (s *Server) Events() *EventBus { return s.events }

// Registry returns the live-session registry.
func (s *Server) Registry() *Registry { return s.reg }

// Start begins listening and launches the accept loop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.l != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.l = ln
	s.mu.Unlock()

	s.log.Info("bolt server listening", "addr", ln.Addr().String())
	s.acceptingWg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.acceptingWg.Done()
	for {
		s.mu.RLock()
		l := s.l
		s.mu.RUnlock()
		if l == nil {
			return
		}
		conn, err := l.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			return
		}
		connID := newConnID()
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ActiveConnections.Inc()
		s.events.Publish(*NewEvent(EventConnectionAccept).WithConnID(connID).
			WithData("remote_addr", conn.RemoteAddr().String()))
		s.trackConn(connID, conn)
		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConn(connID, conn)
		}()
	}
}

func (s *Server) trackConn(connID string, conn net.Conn) {
	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()
}

func (s *Server) untrackConn(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

func (s *Server) handleConn(connID string, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.untrackConn(connID)
		s.reg.Unregister(connID)
		s.metrics.ActiveConnections.Dec()
		s.events.Publish(*NewEvent(EventConnectionClose).WithConnID(connID))
	}()

	log := logger.WithConn(s.log, connID, conn.RemoteAddr().String())

	if _, err := handshake.ServerHandshake(conn); err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	s.events.Publish(*NewEvent(EventHandshakeComplete).WithConnID(connID))

	hooks := s.cfg.NewHooks(connID)
	wrapped := s.instrumentHooks(connID, hooks)
	sess := session.NewServer(wrapped, s.cfg.ChunkCapacity)
	s.reg.Register(connID, sess)

	writerDone := make(chan struct{})
	go s.writeLoop(conn, sess, log, writerDone)
	// Close unblocks a Drain-blocked writer; wait for it to drain the last
	// sealed output before the deferred conn.Close() tears down the socket.
	defer func() {
		sess.Close()
		<-writerDone
	}()

	readBuf := framing.NewReadBuffer()
	parser := framing.NewParser(readBuf.FeedData, readBuf.FeedEOF)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			parser.FeedData(buf[:n])
			for {
				raw, ok := readBuf.NextMessage()
				if !ok {
					break
				}
				structure, decErr := message.Decode(raw)
				if decErr != nil {
					log.Warn("decode error", "error", decErr)
					return
				}
				if handleErr := sess.HandleMessage(structure); handleErr != nil {
					log.Warn("handle message error", "error", handleErr)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains a session's sealed chunks onto the wire. One goroutine
// per connection, matching the teacher's one-writer-per-connection idiom
// (internal/rtmp/chunk/writer.go's single-write-per-chunk emission), woken
// by the session rather than polling: the session's emit path signals its
// flush channel and Close closes its closed channel, and Drain wakes on
// either.
func (s *Server) writeLoop(conn net.Conn, sess *session.Server, log *slog.Logger, done chan struct{}) {
	defer close(done)
	for {
		chunks, closed := sess.Drain()
		for _, c := range chunks {
			if _, err := conn.Write(c); err != nil {
				log.Warn("write error", "error", err)
				return
			}
		}
		if closed {
			return
		}
	}
}

// Stop gracefully shuts down the server: it stops accepting new connections,
// closes every live connection so each blocked conn.Read in handleConn
// unblocks and drains its session (spec.md §5's "process-wide server object
// holds ... a queue of sessions pending orderly shutdown"), then waits for
// every connection goroutine to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.l == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	l := s.l
	s.l = nil
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	_ = l.Close()
	s.acceptingWg.Wait()

	for _, c := range conns {
		_ = c.Close()
	}
	s.connWg.Wait()

	s.log.Info("bolt server stopped")
	return nil
}

// Addr returns the bound listener address, or nil if not started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// ConnectionCount returns the number of live sessions.
func (s *Server) ConnectionCount() int {
	return s.reg.Len()
}

// instrumentHooks wraps OnRun/OnReset to record metrics and publish
// lifecycle events, without changing the embedder-supplied behavior.
func (s *Server) instrumentHooks(connID string, h session.Hooks) session.Hooks {
	userRun := h.OnRun
	h.OnRun = func(statement string, params packstream.Map) (session.Records, error) {
		start := time.Now()
		s.events.Publish(*NewEvent(EventSessionRun).WithConnID(connID).WithData("statement", statement))
		var records session.Records
		var err error
		if userRun != nil {
			records, err = userRun(statement, params)
		}
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.RunsTotal.WithLabelValues("error").Inc()
			s.metrics.SessionFailures.Inc()
			s.events.Publish(*NewEvent(EventSessionFailure).WithConnID(connID).WithData("error", err.Error()))
		} else {
			s.metrics.RunsTotal.WithLabelValues("success").Inc()
		}
		return records, err
	}

	userReset := h.OnReset
	h.OnReset = func() error {
		s.metrics.SessionResets.Inc()
		s.events.Publish(*NewEvent(EventSessionReset).WithConnID(connID))
		if userReset != nil {
			return userReset()
		}
		return nil
	}

	userInit := h.OnInit
	h.OnInit = func(authToken packstream.Map) error {
		s.events.Publish(*NewEvent(EventSessionInit).WithConnID(connID))
		if userInit != nil {
			return userInit(authToken)
		}
		return nil
	}

	return h
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
