package packstream

import (
	"bytes"
	stdErrors "errors"
	"testing"

	protoerr "github.com/alxayo/go-bolt/internal/errors"
)

func TestEncodeIntBoundaries(t *testing.T) {
	cases := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{-1, []byte{0xFF}},
		{-16, []byte{0xF0}},
		{-17, []byte{markerInt8, 0xEF}},
		{-128, []byte{markerInt8, 0x80}},
		{128, []byte{markerInt16, 0x00, 0x80}},
		{32767, []byte{markerInt16, 0x7F, 0xFF}},
		{32768, []byte{markerInt32, 0x00, 0x00, 0x80, 0x00}},
		{-2147483648, []byte{markerInt32, 0x80, 0x00, 0x00, 0x00}},
		{2147483648, []byte{markerInt64, 0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00}},
	}
	for _, c := range cases {
		got, err := Marshal(c.v)
		if err != nil {
			t.Fatalf("Marshal(%d): %v", c.v, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Errorf("Marshal(%d) = % x, want % x", c.v, got, c.want)
		}
		back, err := Unmarshal(got)
		if err != nil {
			t.Fatalf("Unmarshal(%d): %v", c.v, err)
		}
		if back.(int64) != c.v {
			t.Errorf("round-trip %d got %v", c.v, back)
		}
	}
}

func TestEncodeStringTiers(t *testing.T) {
	mkstr := func(n int) string { return string(make([]byte, n)) }
	cases := []struct {
		n           int
		wantHeaders []byte
	}{
		{0, []byte{0x80}},
		{15, []byte{0x8F}},
		{16, []byte{markerString8, 16}},
		{255, []byte{markerString8, 255}},
		{256, []byte{markerString16, 0x01, 0x00}},
	}
	for _, c := range cases {
		s := mkstr(c.n)
		got, err := Marshal(s)
		if err != nil {
			t.Fatalf("n=%d: %v", c.n, err)
		}
		if !bytes.HasPrefix(got, c.wantHeaders) {
			t.Errorf("n=%d header = % x, want prefix % x", c.n, got, c.wantHeaders)
		}
		back, err := Unmarshal(got)
		if err != nil {
			t.Fatalf("n=%d unmarshal: %v", c.n, err)
		}
		if back.(string) != s {
			t.Errorf("n=%d round-trip mismatch", c.n)
		}
	}
}

func TestRoundTripContainers(t *testing.T) {
	list := List{int64(1), "two", true, nil, 3.5}
	got, err := Marshal(list)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Unmarshal(got)
	if err != nil {
		t.Fatal(err)
	}
	bl, ok := back.(List)
	if !ok || len(bl) != len(list) {
		t.Fatalf("list round-trip shape mismatch: %#v", back)
	}

	m := Map{{Key: "scheme", Value: "basic"}, {Key: "principal", Value: "neo4j"}}
	got, err = Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	back, err = Unmarshal(got)
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := back.(Map)
	if !ok || len(bm) != 2 {
		t.Fatalf("map round-trip shape mismatch: %#v", back)
	}
}

// TestRecordOfOne matches spec.md §8 scenario S3's structure encoding (the
// chunk framing bytes themselves are covered in package framing).
func TestRecordOfOne(t *testing.T) {
	s := Structure{Signature: 0x71, Fields: []interface{}{List{int64(1)}}}
	got, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xB1, 0x71, 0x91, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("RECORD([1]) = % x, want % x", got, want)
	}
}

func TestUnknownMarkerIsProtocolError(t *testing.T) {
	_, err := Unmarshal([]byte{0xC4})
	if err == nil {
		t.Fatal("expected error for unused marker")
	}
	var pe *protoerr.ProtocolError
	if !stdErrors.As(err, &pe) {
		t.Fatalf("error for unused marker = %T, want *ProtocolError", err)
	}
}
