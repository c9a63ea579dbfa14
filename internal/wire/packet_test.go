package wire

import (
	"testing"

	"github.com/google/uuid"
)

func TestPacketRoundTripNoAuth(t *testing.T) {
	p := Packet{
		MessageType:   MsgWriteEvents,
		CorrelationID: uuid.New(),
		Payload:       []byte("payload"),
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageType != p.MessageType || got.CorrelationID != p.CorrelationID || string(got.Payload) != string(p.Payload) {
		t.Fatalf("got %+v", got)
	}
	if got.HasAuth() {
		t.Fatal("expected no auth")
	}
}

func TestPacketRoundTripWithAuth(t *testing.T) {
	p := Packet{
		MessageType:   MsgReadEvent,
		CorrelationID: uuid.New(),
		Login:         "alice",
		Password:      "secret",
		Payload:       []byte("x"),
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasAuth() || got.Login != "alice" || got.Password != "secret" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeRejectsOversizedAuthField(t *testing.T) {
	p := Packet{Login: string(make([]byte, 256))}
	if _, err := Encode(p); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	if _, err := Decode([]byte{0, 0}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeRejectsTruncatedAuth(t *testing.T) {
	b := make([]byte, envelopeMinSize+1)
	b[0] = flagAuthPresent
	b[envelopeMinSize] = 10 // claims a 10-byte login that isn't there
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error")
	}
}
