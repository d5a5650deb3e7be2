package framing

import (
	"fmt"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
)

// ReadBuffer accumulates chunk payloads fed by a Parser and reassembles
// them into whole messages (spec.md §4.2). Invariant: the assembled queue
// is never interrupted mid-message; callers read one entire message at a
// time via NextMessage or Read.
type ReadBuffer struct {
	inProgress []byte
	queue      [][]byte
	cursor     int
}

// NewReadBuffer creates an empty read buffer.
func NewReadBuffer() *ReadBuffer { return &ReadBuffer{} }

// FeedData accumulates bytes into the in-progress payload. Intended to be
// wired as a Parser's onChunk callback.
func (rb *ReadBuffer) FeedData(b []byte) {
	rb.inProgress = append(rb.inProgress, b...)
}

// FeedEOF seals the in-progress payload into a whole-message blob and
// enqueues it. Intended to be wired as a Parser's onMessageComplete
// callback.
func (rb *ReadBuffer) FeedEOF() {
	rb.queue = append(rb.queue, rb.inProgress)
	rb.inProgress = nil
}

// Ready reports whether at least one whole message is queued.
func (rb *ReadBuffer) Ready() bool { return len(rb.queue) > 0 }

// NextMessage dequeues and returns the next whole message, or ok=false if
// none is ready.
func (rb *ReadBuffer) NextMessage() (msg []byte, ok bool) {
	if len(rb.queue) == 0 {
		return nil, false
	}
	msg = rb.queue[0]
	rb.queue = rb.queue[1:]
	rb.cursor = 0
	return msg, true
}

// Read returns up to n bytes from the head message, advancing a cursor
// (fewer than n when the head message has fewer left; it never spans two
// messages); on reaching the tail it dequeues the message and resets the
// cursor.
// Reading past end with no queued message is a fatal buffer error
// (spec.md §4.2).
func (rb *ReadBuffer) Read(n int) ([]byte, error) {
	for {
		if len(rb.queue) == 0 {
			return nil, protoerr.NewBufferError("read_buffer.read", fmt.Errorf("read past end: no queued message"))
		}
		head := rb.queue[0]
		avail := len(head) - rb.cursor
		if avail == 0 {
			rb.queue = rb.queue[1:]
			rb.cursor = 0
			continue
		}
		if n > avail {
			n = avail
		}
		out := head[rb.cursor : rb.cursor+n]
		rb.cursor += n
		if rb.cursor == len(head) {
			rb.queue = rb.queue[1:]
			rb.cursor = 0
		}
		return out, nil
	}
}
