// Package message defines the fixed Bolt v1 message set (spec.md §3): each
// message is a PackStream structure whose signature and field arity are
// fixed. This package is the closed signature table that replaces the
// teacher's open-ended AMF0 RPC command dispatch
// (internal/rtmp/rpc/dispatcher.go) — Bolt has ten known message kinds, not
// an extensible command namespace.
package message

import (
	"fmt"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

// Signature bytes, per spec.md §3.
const (
	SigInit       byte = 0x01
	SigRun        byte = 0x10
	SigDiscardAll byte = 0x2F
	SigPullAll    byte = 0x3F
	SigAckFailure byte = 0x0E
	SigReset      byte = 0x0F
	SigRecord     byte = 0x71
	SigSuccess    byte = 0x70
	SigFailure    byte = 0x7F
	SigIgnored    byte = 0x7E
)

// arity gives the fixed field count for each known signature, grounded on
// original_source/asyncbolt/messaging.py's STRUCTURE_SIGNATURE_MAP.
var arity = map[byte]int{
	SigInit:       2,
	SigRun:        2,
	SigDiscardAll: 0,
	SigPullAll:    0,
	SigAckFailure: 0,
	SigReset:      0,
	SigRecord:     1,
	SigSuccess:    1,
	SigFailure:    1,
	SigIgnored:    1,
}

func names() map[byte]string {
	return map[byte]string{
		SigInit: "INIT", SigRun: "RUN", SigDiscardAll: "DISCARD_ALL",
		SigPullAll: "PULL_ALL", SigAckFailure: "ACK_FAILURE", SigReset: "RESET",
		SigRecord: "RECORD", SigSuccess: "SUCCESS", SigFailure: "FAILURE", SigIgnored: "IGNORED",
	}
}

// Name returns the message name for a known signature, or a hex fallback.
func Name(sig byte) string {
	if n, ok := names()[sig]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", sig)
}

// Encode serializes a structure with the given signature and fields,
// validating field count against the fixed arity table. It returns the
// PackStream bytes only (framing into chunks is the caller's job, typically
// via framing.WriteBuffer).
func Encode(sig byte, fields ...interface{}) ([]byte, error) {
	want, ok := arity[sig]
	if !ok {
		return nil, protoerr.NewProtocolError("message.encode", fmt.Errorf("unknown signature 0x%02x", sig))
	}
	if len(fields) != want {
		return nil, protoerr.NewProtocolError("message.encode", fmt.Errorf("%s expects %d fields, got %d", Name(sig), want, len(fields)))
	}
	return packstream.Marshal(packstream.Structure{Signature: sig, Fields: fields})
}

// Decode parses a whole message payload into its structure, validating the
// signature is known and its field count matches the fixed arity
// (spec.md §4.3: "unknown signatures fail with a protocol error").
func Decode(payload []byte) (packstream.Structure, error) {
	v, err := packstream.Unmarshal(payload)
	if err != nil {
		return packstream.Structure{}, err
	}
	s, ok := v.(packstream.Structure)
	if !ok {
		return packstream.Structure{}, protoerr.NewProtocolError("message.decode", fmt.Errorf("payload is not a structure: %T", v))
	}
	want, ok := arity[s.Signature]
	if !ok {
		return packstream.Structure{}, protoerr.NewProtocolError("message.decode", fmt.Errorf("unknown signature 0x%02x", s.Signature))
	}
	if len(s.Fields) != want {
		return packstream.Structure{}, protoerr.NewProtocolError("message.decode", fmt.Errorf("%s expects %d fields, got %d", Name(s.Signature), want, len(s.Fields)))
	}
	return s, nil
}

// Convenience constructors for the ten message kinds.

func Init(clientName string, authToken packstream.Map) ([]byte, error) {
	return Encode(SigInit, clientName, authToken)
}

func Run(statement string, parameters packstream.Map) ([]byte, error) {
	return Encode(SigRun, statement, parameters)
}

func DiscardAll() ([]byte, error) { return Encode(SigDiscardAll) }
func PullAll() ([]byte, error)    { return Encode(SigPullAll) }
func AckFailure() ([]byte, error) { return Encode(SigAckFailure) }
func Reset() ([]byte, error)      { return Encode(SigReset) }

func Record(fields packstream.List) ([]byte, error) { return Encode(SigRecord, fields) }
func Success(metadata packstream.Map) ([]byte, error) {
	return Encode(SigSuccess, metadata)
}
func Failure(metadata packstream.Map) ([]byte, error) {
	return Encode(SigFailure, metadata)
}
func Ignored(metadata packstream.Map) ([]byte, error) {
	return Encode(SigIgnored, metadata)
}

// MetadataField extracts field 0 of SUCCESS/FAILURE/IGNORED as a Map.
func MetadataField(s packstream.Structure) (packstream.Map, error) {
	if len(s.Fields) != 1 {
		return nil, protoerr.NewProtocolError("message.metadata", fmt.Errorf("expected 1 field, got %d", len(s.Fields)))
	}
	switch m := s.Fields[0].(type) {
	case packstream.Map:
		return m, nil
	case nil:
		return nil, nil
	default:
		return nil, protoerr.NewProtocolError("message.metadata", fmt.Errorf("field is not a map: %T", s.Fields[0]))
	}
}

// RecordFields extracts field 0 of a RECORD as a List.
func RecordFields(s packstream.Structure) (packstream.List, error) {
	if s.Signature != SigRecord || len(s.Fields) != 1 {
		return nil, protoerr.NewProtocolError("message.record", fmt.Errorf("not a RECORD structure"))
	}
	l, ok := s.Fields[0].(packstream.List)
	if !ok {
		return nil, protoerr.NewProtocolError("message.record", fmt.Errorf("field is not a list: %T", s.Fields[0]))
	}
	return l, nil
}

// DecodeFromReader is a convenience for decoding directly from a byte
// buffer obtained from a framing.ReadBuffer message.
func DecodeFromReader(payload []byte) (packstream.Structure, error) {
	return Decode(payload)
}
