// Package client implements the Bolt v1 client session (spec.md §4.6):
// pipelined RUN+PULL_ALL submission, ordered response iteration, and
// automatic FAILURE/IGNORED recovery via ACK_FAILURE or RESET. Grounded on
// internal/rtmp/client/client.go for the dial+handshake+synchronous-write
// shape, generalized with a dedicated reader goroutine and response queue
// since Bolt (unlike the teacher's request/response RTMP commands) allows
// many requests in flight before their responses arrive.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
	"github.com/alxayo/go-bolt/internal/logger"
	"github.com/alxayo/go-bolt/internal/bolt/framing"
	"github.com/alxayo/go-bolt/internal/bolt/handshake"
	"github.com/alxayo/go-bolt/internal/bolt/message"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

// RunOption configures one Run call, e.g. requesting the terminal
// consume-metadata record via WithEOF.
type RunOption func(*runConfig)

type runConfig struct {
	getEOF bool
}

// WithEOF requests that the returned ResultStream yield one additional
// terminal Record (EOF set, carrying EOFMeta) once the ordinary records are
// exhausted, per spec.md §4.6's "If get_eof is set, yields a terminal
// record carrying the consume-metadata."
func WithEOF() RunOption {
	return func(c *runConfig) { c.getEOF = true }
}

// DialTimeout bounds the initial TCP connect, mirroring the teacher's
// client.DialTimeout.
const DialTimeout = 5 * time.Second

// DefaultMaxInflight matches spec.md §4.6's stated default admission limit.
const DefaultMaxInflight = 1024

// RecoveryMode selects how the client clears a FAILED server session once
// it observes a FAILURE response, per spec.md §4.6.
type RecoveryMode int

const (
	// RecoverWithReset sends RESET, which also discards any already-queued
	// but not-yet-executed work. This is the spec's default.
	RecoverWithReset RecoveryMode = iota
	// RecoverWithAckFailure sends ACK_FAILURE, which clears FAILED back to
	// READY without discarding queued work.
	RecoverWithAckFailure
)

// Option configures a ClientSession at construction time.
type Option func(*ClientSession)

// WithMaxInflight overrides DefaultMaxInflight.
func WithMaxInflight(n int) Option {
	return func(c *ClientSession) { c.maxInflight = n }
}

// WithRecoveryMode overrides the default RESET-based recovery.
func WithRecoveryMode(m RecoveryMode) Option {
	return func(c *ClientSession) { c.recoveryMode = m }
}

// WithChunkCapacity overrides framing.DefaultCapacity for outgoing chunks.
func WithChunkCapacity(n int) Option {
	return func(c *ClientSession) { c.capacity = n }
}

// pendingRun tracks one submitted request awaiting its response(s). A
// control request (INIT/RESET/ACK_FAILURE) is single-ack: its one terminal
// message completes it. A RUN+PULL_ALL pair is two-ack: a SUCCESS/FAILURE
// for the RUN, then zero-or-more RECORDs and a terminal SUCCESS/IGNORED for
// the PULL_ALL (spec.md §4.6).
type pendingRun struct {
	records     chan Record
	result      chan error
	meta        packstream.Map // SUCCESS metadata, set before result is signaled (single-ack mode)
	runMeta     packstream.Map // metadata from the RUN's own SUCCESS ack (two-stage mode)
	single      bool
	getEOF      bool
	stage       int // 0 = awaiting first ack, 1 = awaiting records/second ack
	ack1Failed  bool
	failureMeta packstream.Map
}

// ClientSession is a single connection's client-side session.
type ClientSession struct {
	conn     net.Conn
	capacity int

	writeMu     sync.Mutex
	pipelineBuf []byte // framed bytes submitted via Pipeline, not yet sent

	mu          sync.Mutex
	queue       []*pendingRun
	inflight    int // un-acked message units; a RUN+PULL_ALL pair counts as 2
	maxInflight int
	failed      bool

	recoveryMode RecoveryMode

	readErr error
	closed  chan struct{}
	log     *slog.Logger
}

// Dial connects to addr, performs the Bolt handshake, and starts the
// session's reader goroutine. The caller must still call Init before
// submitting RUN requests (spec.md §4.5: UNINITIALIZED accepts only INIT).
func Dial(addr string, opts ...Option) (*ClientSession, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, protoerr.NewClientError("client.dial", fmt.Errorf("dial %s: %w", addr, err))
	}
	c := &ClientSession{
		conn:         conn,
		capacity:     framing.DefaultCapacity,
		maxInflight:  DefaultMaxInflight,
		recoveryMode: RecoverWithReset,
		closed:       make(chan struct{}),
		log:          logger.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := dialHandshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func dialHandshake(conn net.Conn) (uint32, error) {
	if err := handshake.ClientHandshake(conn); err != nil {
		return 0, protoerr.NewHandshakeError("client.handshake", err)
	}
	return handshake.Version1, nil
}

// Init sends INIT and blocks for the server's SUCCESS/FAILURE.
func (c *ClientSession) Init(clientName string, authToken packstream.Map) (packstream.Map, error) {
	payload, err := message.Init(clientName, authToken)
	if err != nil {
		return nil, err
	}
	if err := c.writeFramed(payload); err != nil {
		return nil, err
	}

	pr := &pendingRun{records: make(chan Record, 1), result: make(chan error, 1), single: true}
	c.mu.Lock()
	c.queue = append(c.queue, pr)
	c.mu.Unlock()

	select {
	case err := <-pr.result:
		if err != nil {
			return nil, err
		}
		return pr.meta, nil
	case <-c.closed:
		return nil, c.terminalErr()
	}
}

// Record is one row pulled from a RUN, carrying the run-metadata reported
// by the RUN's own SUCCESS ack alongside the fields (spec.md §4.6 "yields
// each one with its run-metadata"). When EOF is set instead, Fields and
// RunMeta are unset and EOFMeta carries the consume-metadata from the
// terminal SUCCESS; this variant is only produced when the stream was
// started with WithEOF.
type Record struct {
	Fields  packstream.List
	RunMeta packstream.Map
	EOF     bool
	EOFMeta packstream.Map
}

// ResultStream iterates Records produced by a RUN, ending with either a nil
// error (SUCCESS consumed the stream) or a protocol error
// (errors.IsServerFailed / errors.IsServerIgnored).
type ResultStream struct {
	records <-chan Record
	result  <-chan error
	done    bool
	err     error
}

// Next returns the next record, or ok=false once the stream ends. Callers
// should check Err after ok is false.
func (r *ResultStream) Next() (Record, bool) {
	if r.done {
		return Record{}, false
	}
	rec, ok := <-r.records
	if ok {
		return rec, true
	}
	r.err = <-r.result
	r.done = true
	return Record{}, false
}

// Err returns the terminal error once Next has returned ok=false, or nil on
// a clean SUCCESS-terminated stream.
func (r *ResultStream) Err() error { return r.err }

// Pipeline encodes a RUN immediately followed by a PULL_ALL into the
// client's outgoing write buffer without transmitting them (spec.md §4.6
// "Pipeline contract": "not transmitted until a flush triggered by run()"),
// incrementing inflight by 2. Admission control rejects pipelining more
// than max_inflight un-drained message units. Returns a lazy ResultStream
// whose Next calls block until the request has actually been flushed and
// acknowledged.
func (c *ClientSession) Pipeline(statement string, parameters packstream.Map) (*ResultStream, error) {
	return c.submit(statement, parameters, false)
}

// Flush transmits every request buffered by Pipeline since the last Flush
// (or the implicit flush inside Run).
func (c *ClientSession) Flush() error {
	c.writeMu.Lock()
	buf := c.pipelineBuf
	c.pipelineBuf = nil
	c.writeMu.Unlock()
	if len(buf) == 0 {
		return nil
	}
	if _, err := c.conn.Write(buf); err != nil {
		return protoerr.NewClientError("client.write", err)
	}
	return nil
}

// Run pipelines a RUN followed immediately by a PULL_ALL, then flushes
// (spec.md §4.6 "Run contract": "optionally pipelines a final request, then
// flushes"), returning a lazy ResultStream. Pass WithEOF to additionally
// yield a terminal Record carrying the consume-metadata once the stream is
// exhausted.
func (c *ClientSession) Run(statement string, parameters packstream.Map, opts ...RunOption) (*ResultStream, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	stream, err := c.submit(statement, parameters, cfg.getEOF)
	if err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *ClientSession) submit(statement string, parameters packstream.Map, getEOF bool) (*ResultStream, error) {
	runPayload, err := message.Run(statement, parameters)
	if err != nil {
		return nil, err
	}
	pullPayload, err := message.PullAll()
	if err != nil {
		return nil, err
	}
	runFramed, err := framing.EncodeMessage(c.capacity, runPayload)
	if err != nil {
		return nil, err
	}
	pullFramed, err := framing.EncodeMessage(c.capacity, pullPayload)
	if err != nil {
		return nil, err
	}

	pr := &pendingRun{records: make(chan Record, 16), result: make(chan error, 1), getEOF: getEOF}

	c.mu.Lock()
	if c.inflight >= c.maxInflight {
		c.mu.Unlock()
		return nil, protoerr.NewClientError("client.pipeline", fmt.Errorf("max inflight (%d) exceeded", c.maxInflight))
	}
	c.inflight += 2
	c.queue = append(c.queue, pr)
	c.mu.Unlock()

	c.writeMu.Lock()
	c.pipelineBuf = append(c.pipelineBuf, runFramed...)
	c.pipelineBuf = append(c.pipelineBuf, pullFramed...)
	c.writeMu.Unlock()

	return &ResultStream{records: pr.records, result: pr.result}, nil
}

// Reset sends RESET immediately (not through the Pipeline buffer) and waits
// for the server's response. The server answers RESET with SUCCESS in the
// READY and FAILED states and with FAILURE in UNINITIALIZED and RUNNING.
func (c *ClientSession) Reset() error {
	payload, err := message.Reset()
	if err != nil {
		return err
	}
	return c.controlRoundTrip(payload)
}

// AckFailure sends ACK_FAILURE and waits for the server's SUCCESS.
func (c *ClientSession) AckFailure() error {
	payload, err := message.AckFailure()
	if err != nil {
		return err
	}
	return c.controlRoundTrip(payload)
}

func (c *ClientSession) controlRoundTrip(payload []byte) error {
	pr := &pendingRun{records: make(chan Record, 1), result: make(chan error, 1), single: true}
	c.mu.Lock()
	c.queue = append(c.queue, pr)
	c.mu.Unlock()
	if err := c.writeFramed(payload); err != nil {
		return err
	}
	select {
	case err := <-pr.result:
		return err
	case <-c.closed:
		return c.terminalErr()
	}
}

// Close closes the underlying connection and stops the reader goroutine.
func (c *ClientSession) Close() error {
	err := c.conn.Close()
	<-c.closed
	return err
}

func (c *ClientSession) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return protoerr.NewClientError("client", fmt.Errorf("session closed"))
}

func (c *ClientSession) writeFramed(payload []byte) error {
	out, err := framing.EncodeMessage(c.capacity, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(out); err != nil {
		return protoerr.NewClientError("client.write", err)
	}
	return nil
}

// readLoop decodes framed messages off the wire and dispatches each to the
// front of the pending-run queue, recovering automatically from
// FAILURE/IGNORED per spec.md §4.6.
func (c *ClientSession) readLoop() {
	defer close(c.closed)

	readBuf := framing.NewReadBuffer()
	parser := framing.NewParser(readBuf.FeedData, readBuf.FeedEOF)

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			parser.FeedData(buf[:n])
			for {
				raw, ok := readBuf.NextMessage()
				if !ok {
					break
				}
				s, decodeErr := message.Decode(raw)
				if decodeErr != nil {
					c.failAll(decodeErr)
					return
				}
				c.onMessage(s)
			}
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = protoerr.NewClientError("client.read", err)
			c.mu.Unlock()
			c.failAll(c.readErr)
			return
		}
	}
}

func (c *ClientSession) onMessage(s packstream.Structure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		// Response to a recovery frame sent outside the run queue.
		if s.Signature == message.SigSuccess {
			c.failed = false
		}
		return
	}

	front := c.queue[0]

	if front.single {
		switch s.Signature {
		case message.SigSuccess:
			front.meta, _ = message.MetadataField(s)
			front.result <- nil
		case message.SigFailure:
			md, _ := message.MetadataField(s)
			c.failed = true
			front.result <- protoerr.NewServerFailedError("client", md.ToGoMap())
		case message.SigIgnored:
			md, _ := message.MetadataField(s)
			front.result <- protoerr.NewServerIgnoredError("client", md.ToGoMap())
		default:
			return
		}
		close(front.records)
		c.popFrontLocked()
		return
	}

	switch s.Signature {
	case message.SigRecord:
		fields, _ := message.RecordFields(s)
		front.records <- Record{Fields: fields, RunMeta: front.runMeta}
	case message.SigSuccess:
		if front.stage == 0 {
			// Ack for the RUN itself; keep waiting for records + the
			// PULL_ALL's terminal ack. Captured so every yielded record
			// carries this run's metadata, per spec.md §4.6.
			front.runMeta, _ = message.MetadataField(s)
			front.stage = 1
			c.inflight--
			return
		}
		if front.getEOF {
			eofMeta, _ := message.MetadataField(s)
			front.records <- Record{EOF: true, EOFMeta: eofMeta}
		}
		close(front.records)
		front.result <- nil
		c.inflight--
		c.popFrontLocked()
	case message.SigFailure:
		// Only legal as the ack for RUN (stage 0); the PULL_ALL that
		// follows it will always come back IGNORED, never FAILURE again.
		md, _ := message.MetadataField(s)
		front.ack1Failed = true
		front.failureMeta = md
		front.stage = 1
		c.failed = true
		c.inflight--
	case message.SigIgnored:
		close(front.records)
		if front.ack1Failed {
			front.result <- protoerr.NewServerFailedError("client", front.failureMeta.ToGoMap())
		} else {
			md, _ := message.MetadataField(s)
			front.result <- protoerr.NewServerIgnoredError("client", md.ToGoMap())
		}
		c.failed = true
		c.inflight--
		c.popFrontLocked()
	}
}

// popFrontLocked removes the queue head and, if the session is in a failed
// state and has just drained to empty, sends the configured recovery frame.
// c.mu must be held.
func (c *ClientSession) popFrontLocked() {
	c.queue = c.queue[1:]
	if c.failed && len(c.queue) == 0 {
		go c.sendRecovery()
	}
}

func (c *ClientSession) sendRecovery() {
	var payload []byte
	var err error
	if c.recoveryMode == RecoverWithAckFailure {
		payload, err = message.AckFailure()
	} else {
		payload, err = message.Reset()
	}
	if err != nil {
		c.log.Warn("client: failed to encode recovery frame", "error", err)
		return
	}
	if err := c.writeFramed(payload); err != nil {
		c.log.Warn("client: failed to send recovery frame", "error", err)
	}
}

func (c *ClientSession) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pr := range c.queue {
		close(pr.records)
		select {
		case pr.result <- err:
		default:
		}
	}
	c.queue = nil
}
