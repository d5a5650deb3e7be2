package framing

import "encoding/binary"

// Parser drives a chunked read buffer from raw byte arrivals (spec.md §4.2).
// It is solely responsible for chunk-boundary detection — splitting a raw
// byte stream into (length, payload) chunk records and recognizing the
// 0x0000 sentinel — and never accumulates message payloads itself; that is
// ReadBuffer's job. This split is the canonical behavior spec.md §9 adopts
// to resolve the source's two divergent copies of framing code.
//
// Mirrors internal/rtmp/chunk/reader.go's Reader in spirit (a stateful
// object fed raw bytes that invokes a callback per decoded unit), simplified
// because Bolt chunk framing has no FMT/basic-header variants to track.
type Parser struct {
	buf               []byte
	onChunk           func(payload []byte)
	onMessageComplete func()
}

// NewParser creates a parser that invokes onChunk for each non-sentinel
// chunk body and onMessageComplete when the 0x0000 sentinel is seen.
func NewParser(onChunk func([]byte), onMessageComplete func()) *Parser {
	return &Parser{onChunk: onChunk, onMessageComplete: onMessageComplete}
}

// FeedData consumes a raw byte stream, possibly containing many chunks, a
// partial chunk, or the tail of a partial chunk from a previous call. A
// conforming implementation must handle cross-call splits at any byte
// boundary (spec.md §4.2); buffering leftover bytes in p.buf is what makes
// that true here.
func (p *Parser) FeedData(data []byte) {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}
	for {
		if len(p.buf) < 2 {
			return
		}
		length := binary.BigEndian.Uint16(p.buf[:2])
		if length == 0 {
			p.buf = p.buf[2:]
			if p.onMessageComplete != nil {
				p.onMessageComplete()
			}
			continue
		}
		total := 2 + int(length)
		if len(p.buf) < total {
			return // wait for more bytes; leftover preserved in p.buf
		}
		payload := make([]byte, length)
		copy(payload, p.buf[2:total])
		p.buf = p.buf[total:]
		if p.onChunk != nil {
			p.onChunk(payload)
		}
	}
}
