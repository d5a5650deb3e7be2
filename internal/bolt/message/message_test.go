package message

import (
	"bytes"
	"testing"

	"github.com/alxayo/go-bolt/internal/bolt/framing"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

// TestInitRoundTrip matches spec.md §8 scenario S1.
func TestInitRoundTrip(t *testing.T) {
	auth := packstream.Map{
		{Key: "scheme", Value: "basic"},
		{Key: "principal", Value: "neo4j"},
		{Key: "credentials", Value: "secret"},
	}
	payload, err := Init("MyClient/1.0", auth)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) != 64 {
		t.Fatalf("payload length = %d, want 64", len(payload))
	}
	if payload[0] != 0xB2 || payload[1] != SigInit {
		t.Fatalf("structure header = % x, want B2 01", payload[:2])
	}

	out, err := framing.EncodeMessage(framing.DefaultCapacity, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[:2], []byte{0x00, 0x40}) {
		t.Errorf("chunk length = % x, want 00 40", out[:2])
	}
	if !bytes.Equal(out[len(out)-2:], []byte{0x00, 0x00}) {
		t.Errorf("missing end-of-message sentinel")
	}

	decoded, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Signature != SigInit {
		t.Errorf("signature = 0x%02x", decoded.Signature)
	}
	if decoded.Fields[0] != "MyClient/1.0" {
		t.Errorf("client_name = %v", decoded.Fields[0])
	}
}

func TestPullAllExact(t *testing.T) {
	payload, err := PullAll()
	if err != nil {
		t.Fatal(err)
	}
	out, err := framing.EncodeMessage(framing.DefaultCapacity, payload)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x02, 0xB0, 0x3F, 0x00, 0x00}
	if !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

func TestRecordExact(t *testing.T) {
	payload, err := Record(packstream.List{int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	out, err := framing.EncodeMessage(framing.DefaultCapacity, payload)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x04, 0xB1, 0x71, 0x91, 0x01, 0x00, 0x00}
	if !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

func TestDecodeUnknownSignature(t *testing.T) {
	payload, _ := packstream.Marshal(packstream.Structure{Signature: 0x99, Fields: nil})
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected protocol error for unknown signature")
	}
}

func TestEncodeWrongArity(t *testing.T) {
	if _, err := Encode(SigPullAll, "unexpected"); err == nil {
		t.Fatal("expected arity mismatch error")
	}
}
