package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
	"github.com/alxayo/go-bolt/internal/logger"
	"github.com/alxayo/go-bolt/internal/bolt/framing"
	"github.com/alxayo/go-bolt/internal/bolt/message"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

// maxQueueDepth bounds the server's internal task channel. The protocol's
// own RUNNING-state gating means at most one task is ever "open" awaiting
// its PULL_ALL/DISCARD_ALL at a time, so this is generous headroom rather
// than a hard admission-control limit (that lives client-side, spec.md
// §4.6 max_inflight).
const maxQueueDepth = 4096

// signalKind distinguishes the three ways a run-task can be released:
// pulled (stream records), discarded (drop records, still SUCCESS), or
// aborted (an unexpected message already forced FAILED and emitted the
// single required FAILURE — the task's own result, success or not, must
// not produce any further emission).
type signalKind int

const (
	signalPull signalKind = iota
	signalDiscard
	signalAbort
)

// readySignal is the one-shot completion primitive coordinating a run-task
// with the PULL_ALL/DISCARD_ALL that releases it (spec.md GLOSSARY
// "Readiness signal"), modeled per spec.md §9 as a buffered channel of
// capacity 1 rather than a coroutine future.
type readySignal struct {
	kind signalKind
}

type pendingTask struct {
	statement string
	params    packstream.Map
	ready     chan readySignal

	// failed latches true the moment this task's outcome is known to be a
	// failure, whichever side discovers it first: the worker (callRun
	// returned an error) or the reader (an unexpected message arrived
	// while the task was still outstanding). Guards against the FAILED
	// state being reported, and FAILURE emitted, more than once for the
	// same task.
	failed atomic.Bool
}

// Server is a single connection's server-side session: state machine, task
// queue, and outgoing write buffer. Grounded on internal/rtmp/conn/session.go
// for the single-owner mutable-state shape, generalized with an explicit
// mutex since (unlike the teacher's RTMP session, mutated only by one
// connection goroutine) Bolt's worker goroutine and the message-handling
// caller both touch state and the write buffer.
type Server struct {
	mu    sync.Mutex
	state State
	hooks Hooks
	wb    *framing.WriteBuffer

	queue   chan *pendingTask
	current *pendingTask

	log interface {
		Warn(string, ...any)
		Info(string, ...any)
	}

	closeOnce sync.Once
	closed    chan struct{}

	// flushSignal wakes a blocked Drain call whenever emit seals new
	// output, so the connection's writer goroutine never busy-polls.
	flushSignal chan struct{}
}

// NewServer creates a server session in UNINITIALIZED state.
func NewServer(hooks Hooks, chunkCapacity int) *Server {
	s := &Server{
		state:  Uninitialized,
		hooks:  hooks,
		wb:     framing.NewWriteBuffer(chunkCapacity),
		queue:       make(chan *pendingTask, maxQueueDepth),
		closed:      make(chan struct{}),
		flushSignal: make(chan struct{}, 1),
		log:         logger.Logger().With("component", "session"),
	}
	go s.runTaskQueue()
	return s
}

// State returns the current session state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Flush drains sealed outgoing chunks ready for transport without blocking.
func (s *Server) Flush() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wb.Flush()
}

// Drain blocks until either new output has been sealed or the session is
// closed, then returns whatever is currently sealed (possibly empty, if
// woken by Close with nothing pending). The second return reports whether
// the session is closed, letting the caller's write loop exit cleanly.
func (s *Server) Drain() ([][]byte, bool) {
	for {
		out := s.Flush()
		if len(out) > 0 {
			return out, false
		}
		select {
		case <-s.flushSignal:
			continue
		case <-s.closed:
			return s.Flush(), true
		}
	}
}

// HandleMessage dispatches one decoded incoming structure per the state
// table in spec.md §4.5. It never blocks on the worker: RUN enqueues and
// returns immediately, PULL_ALL/DISCARD_ALL release the readiness signal
// and return immediately. This lets the reader race ahead through a
// pipelined byte stream while the worker, processing tasks strictly FIFO,
// catches up and preserves response ordering on its own.
func (s *Server) HandleMessage(sig packstream.Structure) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case Uninitialized:
		return s.handleUninitialized(sig)
	case Ready:
		return s.handleReady(sig)
	case Running:
		return s.handleRunning(sig)
	case Failed:
		return s.handleFailed(sig)
	default:
		return protoerr.NewProtocolError("session.handle", fmt.Errorf("message received in terminal state %s", state))
	}
}

func (s *Server) handleUninitialized(sig packstream.Structure) error {
	if sig.Signature != message.SigInit {
		s.setState(Failed)
		return s.emit(message.SigFailure, packstream.Map{})
	}
	authToken, _ := sig.Fields[1].(packstream.Map)
	if err := s.hooks.init(authToken); err != nil {
		s.setState(Failed)
		return s.emit(message.SigFailure, packstream.Map{{Key: "message", Value: err.Error()}})
	}
	s.setState(Ready)
	return s.emit(message.SigSuccess, s.hooks.serverMetadata())
}

func (s *Server) handleReady(sig packstream.Structure) error {
	switch sig.Signature {
	case message.SigRun:
		statement, _ := sig.Fields[0].(string)
		params, _ := sig.Fields[1].(packstream.Map)
		task := &pendingTask{statement: statement, params: params, ready: make(chan readySignal, 1)}
		s.mu.Lock()
		s.current = task
		s.state = Running
		s.mu.Unlock()
		select {
		case s.queue <- task:
		default:
			s.setState(Failed)
			return s.emit(message.SigFailure, packstream.Map{{Key: "message", Value: "task queue full"}})
		}
		return nil
	case message.SigReset:
		if err := s.hooks.reset(); err != nil {
			s.log.Warn("reset hook failed", "error", err)
		}
		s.setState(Ready)
		return s.emit(message.SigSuccess, packstream.Map{})
	default:
		s.setState(Failed)
		return s.emit(message.SigFailure, packstream.Map{})
	}
}

func (s *Server) handleRunning(sig packstream.Structure) error {
	s.mu.Lock()
	task := s.current
	s.current = nil
	s.mu.Unlock()

	switch sig.Signature {
	case message.SigPullAll, message.SigDiscardAll:
		if task != nil && task.failed.Load() {
			// The worker already discovered this run failed and emitted
			// FAILURE itself (executeTask's error path); this pipelined
			// message is the post-FAILURE response and gets IGNORED, not
			// folded into the run's own success/discard completion.
			s.setState(Failed)
			return s.emit(message.SigIgnored, packstream.Map{})
		}
		s.setState(Ready)
		if task != nil {
			kind := signalPull
			if sig.Signature == message.SigDiscardAll {
				kind = signalDiscard
			}
			task.ready <- readySignal{kind: kind}
		}
		return nil
	default:
		s.setState(Failed)
		if task != nil && task.failed.CompareAndSwap(false, true) {
			// The run is still outstanding; release it so the worker does
			// not wait on a signal nobody else will send, and emit the
			// single FAILURE this transition requires.
			task.ready <- readySignal{kind: signalAbort}
			return s.emit(message.SigFailure, packstream.Map{})
		}
		if task != nil {
			// The worker already failed the run and emitted FAILURE on
			// its own; avoid a second FAILURE for the same task.
			return nil
		}
		return s.emit(message.SigFailure, packstream.Map{})
	}
}

func (s *Server) handleFailed(sig packstream.Structure) error {
	switch sig.Signature {
	case message.SigAckFailure:
		if err := s.hooks.ackFailure(); err != nil {
			s.log.Warn("ack_failure hook failed", "error", err)
		}
		s.setState(Ready)
		return s.emit(message.SigSuccess, packstream.Map{})
	case message.SigReset:
		s.drainQueue()
		if err := s.hooks.reset(); err != nil {
			s.log.Warn("reset hook failed", "error", err)
		}
		s.setState(Ready)
		return s.emit(message.SigSuccess, packstream.Map{})
	default:
		return s.emit(message.SigIgnored, packstream.Map{})
	}
}

// drainQueue releases every task still sitting in the channel (not yet
// picked up by the worker) as a discard, and emits one IGNORED per queued
// run per spec.md §4.5 RESET-from-FAILED semantics. A task the worker has
// already dequeued is not covered here, and the worker emits no IGNORED
// for it.
func (s *Server) drainQueue() {
	for {
		select {
		case task := <-s.queue:
			task.ready <- readySignal{kind: signalDiscard}
			if err := s.emit(message.SigIgnored, packstream.Map{}); err != nil {
				s.log.Warn("emit ignored during drain failed", "error", err)
			}
		default:
			return
		}
	}
}

// Close transitions the session to CLOSING then CLOSED, invoking the
// connection-close hook exactly once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.setState(Closing)
		close(s.closed)
		s.setState(Closed)
		s.hooks.connectionClosed()
	})
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Server) emit(sig byte, fields ...interface{}) error {
	payload, err := message.Encode(sig, fields...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	writeErr := s.wb.Write(payload)
	if writeErr == nil {
		writeErr = s.wb.WriteEOF()
	}
	s.mu.Unlock()
	if writeErr != nil {
		return writeErr
	}
	select {
	case s.flushSignal <- struct{}{}:
	default:
	}
	return nil
}

// runTaskQueue is the dedicated cooperative worker: it dequeues tasks
// strictly FIFO, executes the run-task, and on success awaits its readiness
// signal to decide RECORD/SUCCESS (pull), SUCCESS alone (discard), or
// nothing further (abort — FAILURE already emitted by the handler that
// aborted it). On a run-task error it emits FAILURE itself and returns
// without waiting on any signal, per spec.md §4.5 "Task execution" and
// grounded on original_source/asyncbolt/server.py's run_task_queue
// coroutine.
func (s *Server) runTaskQueue() {
	for {
		select {
		case <-s.closed:
			return
		case task := <-s.queue:
			s.executeTask(task)
		}
	}
}

func (s *Server) executeTask(task *pendingTask) {
	records, err := s.callRun(task)
	if err != nil {
		// The run itself failed: this task's outcome is decided without
		// needing the PULL_ALL/DISCARD_ALL that would otherwise release
		// it, so never block on task.ready here — by the time the client's
		// next message arrives, HandleMessage routes it by current state
		// (handleRunning if it wins the race, handleFailed otherwise) and
		// each emits IGNORED on its own. Waiting on task.ready would
		// deadlock the worker whenever handleFailed is the one that fires,
		// since that path never sends on the channel.
		if task.failed.CompareAndSwap(false, true) {
			s.setState(Failed)
			if emitErr := s.emit(message.SigFailure, packstream.Map{{Key: "message", Value: err.Error()}}); emitErr != nil {
				s.log.Warn("emit failure failed", "error", emitErr)
			}
		} else {
			// handleRunning already observed the failure and emitted
			// FAILURE itself; just make sure state reflects it.
			s.setState(Failed)
		}
		return
	}

	signal := <-task.ready
	switch signal.kind {
	case signalAbort:
		// An unexpected message during RUNNING already forced FAILED and
		// emitted the one required FAILURE; this successful run's result
		// is discarded silently, not turned into a second, spurious
		// SUCCESS.
		return
	case signalDiscard:
		if err := s.hooks.discardAll(); err != nil {
			s.log.Warn("discard_all hook failed", "error", err)
		}
		if emitErr := s.emit(message.SigSuccess, packstream.Map{}); emitErr != nil {
			s.log.Warn("emit success failed", "error", emitErr)
		}
		return
	}

	if err := s.emit(message.SigSuccess, packstream.Map{}); err != nil {
		s.log.Warn("emit run-success failed", "error", err)
	}
	for {
		fields, ok, err := records.Next()
		if err != nil {
			s.setState(Failed)
			if emitErr := s.emit(message.SigFailure, packstream.Map{{Key: "message", Value: err.Error()}}); emitErr != nil {
				s.log.Warn("emit failure failed", "error", emitErr)
			}
			return
		}
		if !ok {
			break
		}
		if emitErr := s.emit(message.SigRecord, fields); emitErr != nil {
			s.log.Warn("emit record failed", "error", emitErr)
		}
	}
	if err := s.emit(message.SigSuccess, packstream.Map{}); err != nil {
		s.log.Warn("emit consume-success failed", "error", err)
	}
}

func (s *Server) callRun(task *pendingTask) (records Records, err error) {
	if s.hooks.OnRun == nil {
		return NewSliceRecords(nil), nil
	}
	records, err = s.hooks.OnRun(task.statement, task.params)
	if records == nil && err == nil {
		records = NewSliceRecords(nil)
	}
	return records, err
}
