// Package framing implements the Bolt chunked message framing layer:
// encoding an arbitrary-sized payload into length-prefixed chunks terminated
// by a 0x0000 end-of-message sentinel (spec.md §4.1), and reassembling
// incoming chunks back into whole messages (spec.md §4.2).
package framing

import (
	"encoding/binary"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
	"github.com/alxayo/go-bolt/internal/bufpool"
)

// DefaultCapacity is the default maximum chunk size (spec.md §3 Write
// buffer: "bounded current chunk (default capacity 8192 bytes)").
const DefaultCapacity = 8192

// minCapacity is the smallest capacity NewWriteBuffer accepts: a 2-byte
// length header plus up to 2 body bytes per chunk (the sentinel is sealed
// as its own chunk); spec.md §8 exercises capacities down to 4.
const minCapacity = 4

// WriteBuffer accumulates one logical message's payload and seals it into a
// sequence of wire-ready chunks on WriteEOF. Mirrors the single-write-per-
// chunk emission idiom of internal/rtmp/chunk/writer.go's writeChunk: each
// sealed chunk is one contiguous byte slice (header+body) so transport
// writes never need to assemble header and body separately.
type WriteBuffer struct {
	capacity int
	pending  []byte
	sealed   [][]byte
}

// NewWriteBuffer creates a write buffer with the given chunk capacity. A
// capacity below minCapacity (4) falls back to DefaultCapacity.
func NewWriteBuffer(capacity int) *WriteBuffer {
	if capacity < minCapacity {
		capacity = DefaultCapacity
	}
	return &WriteBuffer{capacity: capacity}
}

// Write appends bytes to the in-progress payload. It never itself seals a
// chunk; chunking happens once the payload is known to be complete, in
// WriteEOF, per spec.md §4.1's chunking rule.
func (wb *WriteBuffer) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	wb.pending = append(wb.pending, p...)
	return nil
}

// WriteEOF seals the accumulated payload into one or more chunks of at most
// capacity-2 body bytes each (so that header+body never exceeds capacity,
// per the write buffer invariant in spec.md §3), followed by the 0x0000
// end-of-message sentinel. This is the direct realization of §4.1's
// recursive chunking rule: for a payload that fits in one chunk alongside
// the sentinel (the common case exercised by spec.md §8's S1-S3 vectors) it
// produces exactly one body chunk; larger payloads recurse into as many
// max-capacity chunks as needed. It takes no argument, matching the
// canonical behavior spec.md §9 adopts for the source's divergent
// write_eof(marker) variants.
func (wb *WriteBuffer) WriteEOF() error {
	maxBody := wb.capacity - 2
	payload := wb.pending
	for len(payload) > 0 {
		n := len(payload)
		if n > maxBody {
			n = maxBody
		}
		wb.sealed = append(wb.sealed, sealChunk(payload[:n]))
		payload = payload[n:]
	}
	wb.sealed = append(wb.sealed, sealChunk(nil))
	wb.pending = wb.pending[:0]
	return nil
}

// Flush drains and returns the queue of sealed chunk blobs ready for
// transport, in order.
func (wb *WriteBuffer) Flush() [][]byte {
	out := wb.sealed
	wb.sealed = nil
	return out
}

// Pending reports whether there is data queued for transport.
func (wb *WriteBuffer) Pending() bool { return len(wb.sealed) > 0 }

// Mark records the current sealed-chunk count so a later caller can discard
// everything sealed since via DiscardSince. internal/bolt/session does not
// call it: its DISCARD_ALL path emits no RECORDs for the discarded run, so
// there is nothing to rewind.
func (wb *WriteBuffer) Mark() int { return len(wb.sealed) }

// DiscardSince truncates sealed chunks back to the given mark, dropping any
// chunk sealed after it. Chunks already drained via Flush are unaffected.
func (wb *WriteBuffer) DiscardSince(mark int) {
	if mark < len(wb.sealed) {
		wb.sealed = wb.sealed[:mark]
	}
}

func sealChunk(body []byte) []byte {
	out := bufpool.Get(2 + len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(len(body)))
	copy(out[2:], body)
	return out
}

// EncodeMessage is a convenience wrapper: write p as the entire payload of
// one message and seal it, returning the concatenated wire bytes.
func EncodeMessage(capacity int, p []byte) ([]byte, error) {
	wb := NewWriteBuffer(capacity)
	if err := wb.Write(p); err != nil {
		return nil, protoerr.NewBufferError("framing.encode", err)
	}
	if err := wb.WriteEOF(); err != nil {
		return nil, protoerr.NewBufferError("framing.encode", err)
	}
	var out []byte
	for _, c := range wb.Flush() {
		out = append(out, c...)
	}
	return out, nil
}
