package adapter

import (
	"bytes"
	"testing"
	"time"

	"github.com/justapithecus/tproto/packet"
	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/types"
)

func testDelivery(t *testing.T) session.Delivery {
	t.Helper()
	p, err := packet.Encode([]byte("hello\rworld"), "utf-8", 7)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return session.Delivery{
		Packet:     p,
		Verified:   true,
		ReceivedAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		Conn:       types.ConnMeta{ConnID: "c-9", Transport: types.TransportQUIC, Peer: "127.0.0.1:9000"},
	}
}

func TestNewPacketEvent(t *testing.T) {
	ev := NewPacketEvent(testDelivery(t))

	if ev.EventType != EventTypePacketReceived {
		t.Errorf("EventType = %q, want %q", ev.EventType, EventTypePacketReceived)
	}
	if ev.ContractVersion != types.ContractVersion {
		t.Errorf("ContractVersion = %q, want %q", ev.ContractVersion, types.ContractVersion)
	}
	if ev.ConnID != "c-9" || ev.Transport != "quic" || ev.Peer != "127.0.0.1:9000" {
		t.Errorf("conn fields = %q/%q/%q", ev.ConnID, ev.Transport, ev.Peer)
	}
	if ev.SequenceIndex != 7 || ev.PayloadLength != 11 {
		t.Errorf("SequenceIndex = %d, PayloadLength = %d", ev.SequenceIndex, ev.PayloadLength)
	}
	if ev.Timestamp != "2026-10-14T12:00:00Z" {
		t.Errorf("Timestamp = %q", ev.Timestamp)
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			ev := NewPacketEvent(testDelivery(t))

			data, err := EncodeEvent(ev, enc)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}
			got, err := DecodeEvent(data, enc)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if !bytes.Equal(got.Payload, ev.Payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, ev.Payload)
			}
			if got.Checksum != ev.Checksum || got.SequenceIndex != ev.SequenceIndex {
				t.Errorf("decoded %+v, want %+v", got, ev)
			}
		})
	}
}

func TestEncodeEvent_JSONBase64Payload(t *testing.T) {
	ev := &PacketEvent{Payload: []byte("hi")}
	data, err := EncodeEvent(ev, EncodingJSON)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if !bytes.Contains(data, []byte(`"payload":"aGk="`)) {
		t.Errorf("json body %s missing base64 payload", data)
	}
}

func TestEncodeEvent_UnknownEncoding(t *testing.T) {
	if _, err := EncodeEvent(&PacketEvent{}, "xml"); err == nil {
		t.Error("expected error for unknown encoding")
	}
	if _, err := DecodeEvent([]byte("{}"), "xml"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingJSON, false},
		{"json", EncodingJSON, false},
		{"msgpack", EncodingMsgpack, false},
		{"protobuf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEncoding(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if EncodingMsgpack.ContentType() != "application/msgpack" {
		t.Errorf("msgpack ContentType = %q", EncodingMsgpack.ContentType())
	}
	if EncodingJSON.ContentType() != "application/json" {
		t.Errorf("json ContentType = %q", EncodingJSON.ContentType())
	}
}
