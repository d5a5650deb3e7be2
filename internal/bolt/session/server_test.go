package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/go-bolt/internal/bolt/message"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

// decodeMessages splits a flat stream of sealed chunks (as returned by
// Server.Flush) into one or more whole messages, each terminated by a
// 0x0000 sentinel chunk, and decodes each into a structure.
func decodeMessages(t *testing.T, chunks [][]byte) []packstream.Structure {
	t.Helper()
	var payload []byte
	for _, c := range chunks {
		payload = append(payload, c...)
	}
	var structures []packstream.Structure
	var body []byte
	for i := 0; i < len(payload); {
		n := int(payload[i])<<8 | int(payload[i+1])
		i += 2
		if n == 0 {
			s, err := message.Decode(body)
			require.NoError(t, err)
			structures = append(structures, s)
			body = nil
			continue
		}
		body = append(body, payload[i:i+n]...)
		i += n
	}
	require.NotEmpty(t, structures)
	return structures
}

func decodeOne(t *testing.T, chunks [][]byte) packstream.Structure {
	t.Helper()
	structures := decodeMessages(t, chunks)
	require.Len(t, structures, 1)
	return structures[0]
}

func waitFlush(t *testing.T, s *Server) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if out := s.Flush(); len(out) > 0 {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for flushed output")
	return nil
}

// waitMessages polls Flush until at least n whole messages have been sealed,
// accumulating chunks across polls since the worker goroutine may emit them
// one response at a time.
func waitMessages(t *testing.T, s *Server, n int) []packstream.Structure {
	t.Helper()
	var all [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all = append(all, s.Flush()...)
		if len(all) > 0 {
			if structures := tryDecodeMessages(all); len(structures) >= n {
				return structures
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func tryDecodeMessages(chunks [][]byte) []packstream.Structure {
	var payload []byte
	for _, c := range chunks {
		payload = append(payload, c...)
	}
	var structures []packstream.Structure
	var body []byte
	for i := 0; i < len(payload); {
		if i+2 > len(payload) {
			break
		}
		n := int(payload[i])<<8 | int(payload[i+1])
		i += 2
		if n == 0 {
			if s, err := message.Decode(body); err == nil {
				structures = append(structures, s)
			}
			body = nil
			continue
		}
		if i+n > len(payload) {
			break
		}
		body = append(body, payload[i:i+n]...)
		i += n
	}
	return structures
}

func TestInitTransitionsToReady(t *testing.T) {
	s := NewServer(Hooks{}, 8192)
	defer s.Close()

	initPayload, err := message.Init("tester/1.0", packstream.Map{})
	require.NoError(t, err)
	structure, err := message.Decode(initPayload)
	require.NoError(t, err)

	require.NoError(t, s.HandleMessage(structure))
	require.Equal(t, Ready, s.State())

	resp := decodeOne(t, s.Flush())
	require.Equal(t, message.SigSuccess, resp.Signature)
}

func TestRunPullAllHappyPath(t *testing.T) {
	hooks := Hooks{
		OnRun: func(statement string, params packstream.Map) (Records, error) {
			return NewSliceRecords([]packstream.List{{int64(1)}, {int64(2)}}), nil
		},
	}
	s := NewServer(hooks, 8192)
	defer s.Close()

	mustInit(t, s)

	runPayload, err := message.Run("RETURN 1", packstream.Map{})
	require.NoError(t, err)
	runStruct, err := message.Decode(runPayload)
	require.NoError(t, err)
	require.NoError(t, s.HandleMessage(runStruct))
	require.Equal(t, Running, s.State())

	// RUN alone produces no response; the worker waits for PULL_ALL.
	require.Empty(t, s.Flush())

	pullPayload, err := message.PullAll()
	require.NoError(t, err)
	pullStruct, err := message.Decode(pullPayload)
	require.NoError(t, err)
	require.NoError(t, s.HandleMessage(pullStruct))

	messages := waitMessages(t, s, 4)
	require.Len(t, messages, 4)
	require.Equal(t, message.SigSuccess, messages[0].Signature)
	require.Equal(t, message.SigRecord, messages[1].Signature)
	require.Equal(t, message.SigRecord, messages[2].Signature)
	require.Equal(t, message.SigSuccess, messages[3].Signature)
	require.Equal(t, Ready, s.State())
}

// TestFailureThenAckFailure matches spec.md §8 scenario S5.
func TestFailureThenAckFailure(t *testing.T) {
	hooks := Hooks{
		OnRun: func(statement string, params packstream.Map) (Records, error) {
			return nil, errors.New("boom")
		},
	}
	s := NewServer(hooks, 8192)
	defer s.Close()

	mustInit(t, s)

	runPayload, _ := message.Run("BAD", packstream.Map{})
	runStruct, _ := message.Decode(runPayload)
	require.NoError(t, s.HandleMessage(runStruct))

	resp := decodeOne(t, waitFlush(t, s))
	require.Equal(t, message.SigFailure, resp.Signature)
	require.Eventually(t, func() bool { return s.State() == Failed }, time.Second, time.Millisecond)

	pullPayload, _ := message.PullAll()
	pullStruct, _ := message.Decode(pullPayload)
	require.NoError(t, s.HandleMessage(pullStruct))
	ignored := decodeOne(t, s.Flush())
	require.Equal(t, message.SigIgnored, ignored.Signature)

	ackPayload, _ := message.AckFailure()
	ackStruct, _ := message.Decode(ackPayload)
	require.NoError(t, s.HandleMessage(ackStruct))
	require.Equal(t, Ready, s.State())

	ackResp := decodeOne(t, s.Flush())
	require.Equal(t, message.SigSuccess, ackResp.Signature)
}

// TestUnexpectedMessageDuringRunningEmitsOnlyFailure guards against a run
// that is still executing when an out-of-turn message (anything but
// PULL_ALL/DISCARD_ALL) arrives: spec.md §4.5 requires RUNNING | * -> FAILED
// to emit exactly one FAILURE. Before the fix, the worker would finish the
// (successful) run, see the abort release treated as a discard, and emit a
// spurious SUCCESS right after FAILURE.
func TestUnexpectedMessageDuringRunningEmitsOnlyFailure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	hooks := Hooks{
		OnRun: func(statement string, params packstream.Map) (Records, error) {
			close(started)
			<-release
			return NewSliceRecords([]packstream.List{{int64(1)}}), nil
		},
	}
	s := NewServer(hooks, 8192)
	defer s.Close()
	mustInit(t, s)

	runPayload, _ := message.Run("RETURN 1", packstream.Map{})
	runStruct, _ := message.Decode(runPayload)
	require.NoError(t, s.HandleMessage(runStruct))
	<-started // run is executing, state is still Running

	// An unexpected message while RUNNING (here, a second INIT) forces FAILED.
	initPayload, _ := message.Init("tester/1.0", packstream.Map{})
	initStruct, _ := message.Decode(initPayload)
	require.NoError(t, s.HandleMessage(initStruct))
	require.Equal(t, Failed, s.State())

	close(release) // let the run-task finish successfully after the abort

	// Only the single FAILURE should ever be sealed; give the worker time to
	// (incorrectly, if the bug were present) emit a trailing SUCCESS too.
	time.Sleep(20 * time.Millisecond)
	messages := decodeMessages(t, waitFlush(t, s))
	require.Len(t, messages, 1)
	require.Equal(t, message.SigFailure, messages[0].Signature)
}

// TestUnexpectedMessageAfterWorkerAlreadyFailedDoesNotDeadlock exercises the
// same S5-style race as TestFailureThenAckFailure for the case where the
// client's PULL_ALL arrives only after the worker has already moved the
// session to FAILED: it is routed to handleFailed's default branch, which
// must return promptly and respond with IGNORED. The worker's error path
// does not wait on the task's readiness signal, which that branch never
// sends.
func TestUnexpectedMessageAfterWorkerAlreadyFailedDoesNotDeadlock(t *testing.T) {
	hooks := Hooks{
		OnRun: func(statement string, params packstream.Map) (Records, error) {
			return nil, errors.New("boom")
		},
	}
	s := NewServer(hooks, 8192)
	defer s.Close()
	mustInit(t, s)

	runPayload, _ := message.Run("BAD", packstream.Map{})
	runStruct, _ := message.Decode(runPayload)
	require.NoError(t, s.HandleMessage(runStruct))

	resp := decodeOne(t, waitFlush(t, s))
	require.Equal(t, message.SigFailure, resp.Signature)
	require.Eventually(t, func() bool { return s.State() == Failed }, time.Second, time.Millisecond)

	pullPayload, _ := message.PullAll()
	pullStruct, _ := message.Decode(pullPayload)
	done := make(chan error, 1)
	go func() { done <- s.HandleMessage(pullStruct) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("HandleMessage blocked — worker likely deadlocked awaiting task.ready")
	}
	ignored := decodeOne(t, s.Flush())
	require.Equal(t, message.SigIgnored, ignored.Signature)
}

func TestResetFromReadyClearsState(t *testing.T) {
	s := NewServer(Hooks{}, 8192)
	defer s.Close()
	mustInit(t, s)

	resetPayload, _ := message.Reset()
	resetStruct, _ := message.Decode(resetPayload)
	require.NoError(t, s.HandleMessage(resetStruct))
	require.Equal(t, Ready, s.State())

	resp := decodeOne(t, s.Flush())
	require.Equal(t, message.SigSuccess, resp.Signature)
}

func TestUnexpectedMessageInUninitializedFails(t *testing.T) {
	s := NewServer(Hooks{}, 8192)
	defer s.Close()

	pullPayload, _ := message.PullAll()
	pullStruct, _ := message.Decode(pullPayload)
	require.NoError(t, s.HandleMessage(pullStruct))
	require.Equal(t, Failed, s.State())

	resp := decodeOne(t, s.Flush())
	require.Equal(t, message.SigFailure, resp.Signature)
}

func mustInit(t *testing.T, s *Server) {
	t.Helper()
	initPayload, err := message.Init("tester/1.0", packstream.Map{})
	require.NoError(t, err)
	structure, err := message.Decode(initPayload)
	require.NoError(t, err)
	require.NoError(t, s.HandleMessage(structure))
	s.Flush()
}
