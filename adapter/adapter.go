// Package adapter defines the downstream publishing boundary.
//
// Adapters forward received packets to other systems. The server owns
// adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/types"
)

// EventTypePacketReceived is the only event type published today.
const EventTypePacketReceived = "packet_received"

// PacketEvent is the payload published for each delivered packet.
type PacketEvent struct {
	ContractVersion string `json:"contract_version" msgpack:"contract_version"`
	EventType       string `json:"event_type" msgpack:"event_type"` // always "packet_received"
	ConnID          string `json:"conn_id" msgpack:"conn_id"`
	Peer            string `json:"peer,omitempty" msgpack:"peer,omitempty"`
	Transport       string `json:"transport" msgpack:"transport"`
	SequenceIndex   uint64 `json:"sequence_index" msgpack:"sequence_index"`
	Charset         string `json:"charset" msgpack:"charset"`
	PayloadLength   int    `json:"payload_length" msgpack:"payload_length"`
	Checksum        string `json:"checksum" msgpack:"checksum"`
	Verified        bool   `json:"verified" msgpack:"verified"`
	Payload         []byte `json:"payload" msgpack:"payload"`
	Timestamp       string `json:"timestamp" msgpack:"timestamp"` // RFC 3339, UTC
}

// NewPacketEvent builds the event for a delivery.
func NewPacketEvent(d session.Delivery) *PacketEvent {
	p := d.Packet
	return &PacketEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypePacketReceived,
		ConnID:          d.Conn.ConnID,
		Peer:            d.Conn.Peer,
		Transport:       d.Conn.Transport,
		SequenceIndex:   p.SequenceIndex,
		Charset:         p.Charset,
		PayloadLength:   p.PayloadLength,
		Checksum:        p.Checksum,
		Verified:        d.Verified,
		Payload:         p.Payload,
		Timestamp:       d.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Encoding selects the event body format.
type Encoding string

const (
	// EncodingJSON encodes events as JSON. Payload is base64.
	EncodingJSON Encoding = "json"
	// EncodingMsgpack encodes events as MessagePack. Payload is raw bin.
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding parses an encoding name. Empty means EncodingJSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("invalid encoding %q (must be json or msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// EncodeEvent serializes an event.
func EncodeEvent(ev *PacketEvent, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingJSON:
		return json.Marshal(ev)
	case EncodingMsgpack:
		return msgpack.Marshal(ev)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// DecodeEvent parses an event produced by EncodeEvent.
func DecodeEvent(data []byte, enc Encoding) (*PacketEvent, error) {
	var ev PacketEvent
	var err error
	switch enc {
	case "", EncodingJSON:
		err = json.Unmarshal(data, &ev)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &ev)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", enc, err)
	}
	return &ev, nil
}

// Adapter publishes packet events to a downstream system.
type Adapter interface {
	// Publish sends one event downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *PacketEvent) error

	// Close releases adapter resources.
	Close() error
}
