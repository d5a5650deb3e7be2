package packstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
)

// Encode writes the PackStream encoding of v to w. v must be one of: nil,
// bool, a signed integer type, float32/float64, string, List, Map,
// map[string]interface{}, Structure, or []interface{} (treated as a List).
func Encode(w io.Writer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		return encodeNull(w)
	case bool:
		return encodeBool(w, val)
	case int:
		return encodeInt(w, int64(val))
	case int8:
		return encodeInt(w, int64(val))
	case int16:
		return encodeInt(w, int64(val))
	case int32:
		return encodeInt(w, int64(val))
	case int64:
		return encodeInt(w, val)
	case float32:
		return encodeFloat(w, float64(val))
	case float64:
		return encodeFloat(w, val)
	case string:
		return encodeString(w, val)
	case List:
		return encodeList(w, []interface{}(val))
	case []interface{}:
		return encodeList(w, val)
	case Map:
		return encodeMap(w, val)
	case map[string]interface{}:
		return encodeMap(w, NewMap(val))
	case Structure:
		return encodeStructure(w, val)
	case *Structure:
		return encodeStructure(w, *val)
	default:
		return protoerr.NewBufferError("encode", fmt.Errorf("unsupported value type %T", v))
	}
}

// Marshal returns the PackStream encoding of v as a byte slice.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNull(w io.Writer) error {
	_, err := w.Write([]byte{markerNull})
	return err
}

func encodeBool(w io.Writer, v bool) error {
	if v {
		_, err := w.Write([]byte{markerTrue})
		return err
	}
	_, err := w.Write([]byte{markerFalse})
	return err
}

// encodeInt picks the tightest representation per spec.md §4.3: tiny
// positive 0x00-0x7F, tiny negative as the plain two's-complement byte for
// -16..-1, then INT_8/16/32/64 headers by width.
func encodeInt(w io.Writer, v int64) error {
	switch {
	case v >= 0 && v <= int64(tinyIntPositiveMax):
		_, err := w.Write([]byte{byte(v)})
		return err
	case v >= -16 && v < 0:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v >= -128 && v <= 127:
		_, err := w.Write([]byte{markerInt8, byte(v)})
		return err
	case v >= -32768 && v <= 32767:
		buf := make([]byte, 3)
		buf[0] = markerInt16
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		_, err := w.Write(buf)
		return err
	case v >= -(1<<31) && v <= (1<<31)-1:
		buf := make([]byte, 5)
		buf[0] = markerInt32
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = markerInt64
		binary.BigEndian.PutUint64(buf[1:], uint64(v))
		_, err := w.Write(buf)
		return err
	}
}

func encodeFloat(w io.Writer, v float64) error {
	buf := make([]byte, 9)
	buf[0] = markerFloat64
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, err := w.Write(buf)
	return err
}

func encodeString(w io.Writer, s string) error {
	b := []byte(s)
	header, err := sizedHeader(len(b), markerTinyStringMin, markerString8, markerString16, markerString32, true)
	if err != nil {
		return protoerr.NewBufferError("encode.string", err)
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func encodeList(w io.Writer, items []interface{}) error {
	header, err := sizedHeader(len(items), markerTinyListMin, markerList8, markerList16, markerList32, true)
	if err != nil {
		return protoerr.NewBufferError("encode.list", err)
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, item := range items {
		if err := Encode(w, item); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(w io.Writer, m Map) error {
	header, err := sizedHeader(len(m), markerTinyMapMin, markerMap8, markerMap16, markerMap32, true)
	if err != nil {
		return protoerr.NewBufferError("encode.map", err)
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, entry := range m {
		if err := encodeString(w, entry.Key); err != nil {
			return err
		}
		if err := Encode(w, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// encodeStructure writes a structure header (size + signature) followed by
// each field. Structures have no 32-bit form per spec.md §4.3.
func encodeStructure(w io.Writer, s Structure) error {
	n := len(s.Fields)
	if n > max16BitSize {
		return protoerr.NewBufferError("encode.structure", fmt.Errorf("too many fields: %d", n))
	}
	var header []byte
	switch {
	case n <= maxTinySize:
		header = []byte{markerTinyStructMin | byte(n)}
	case n <= max8BitSize:
		header = []byte{markerStruct8, byte(n)}
	default:
		b := make([]byte, 3)
		b[0] = markerStruct16
		binary.BigEndian.PutUint16(b[1:], uint16(n))
		header = b
	}
	header = append(header, s.Signature)
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if err := Encode(w, f); err != nil {
			return err
		}
	}
	return nil
}

// sizedHeader builds a tiny/8/16/32-bit size header. allow32 controls
// whether a 32-bit form exists (true for string/list/map, false for struct,
// though struct never reaches this helper).
func sizedHeader(n int, tinyBase, m8, m16, m32 byte, allow32 bool) ([]byte, error) {
	switch {
	case n <= maxTinySize:
		return []byte{tinyBase | byte(n)}, nil
	case n <= max8BitSize:
		return []byte{m8, byte(n)}, nil
	case n <= max16BitSize:
		b := make([]byte, 3)
		b[0] = m16
		binary.BigEndian.PutUint16(b[1:], uint16(n))
		return b, nil
	case allow32 && n <= maxContainerSize:
		b := make([]byte, 5)
		b[0] = m32
		binary.BigEndian.PutUint32(b[1:], uint32(n))
		return b, nil
	default:
		return nil, fmt.Errorf("size %d exceeds codec limit", n)
	}
}
