// Package packet implements the T-Protocol message model.
//
// A Packet carries four header fields (sequence index, charset, payload
// length, checksum) and a payload. Packets built with Encode are consistent
// by construction; packets produced by the frame assembler carry declared
// header values that only Verify can confirm.
package packet

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wire constants.
const (
	// Marker opens every frame.
	Marker = "T-Protocol:\r"
	// MarkerSize is the length of Marker in bytes.
	MarkerSize = len(Marker)
	// Delimiter terminates each header field and the payload.
	Delimiter byte = '\r'
	// HeaderFieldCount is the number of delimiter-terminated header fields.
	HeaderFieldCount = 4
	// DefaultCharset is assumed when a packet carries no charset.
	DefaultCharset = "utf-8"
)

// Packet is one protocol message.
type Packet struct {
	// SequenceIndex is a caller-assigned ordinal echoed on the wire.
	SequenceIndex uint64
	// Charset names the text encoding of the payload. Metadata only;
	// the checksum is computed over raw payload bytes.
	Charset string
	// Payload is the owned message body.
	Payload []byte
	// PayloadLength is the declared payload size.
	PayloadLength int
	// Checksum is the lowercase hex MD5 digest of Payload.
	Checksum string
}

// Encode builds a packet for payload. The payload is copied.
// Returns *InvalidCharsetError if charset contains the delimiter byte.
func Encode(payload []byte, charset string, seq uint64) (*Packet, error) {
	if strings.IndexByte(charset, Delimiter) >= 0 {
		return nil, &InvalidCharsetError{Charset: charset}
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)

	return &Packet{
		SequenceIndex: seq,
		Charset:       charset,
		Payload:       owned,
		PayloadLength: len(owned),
		Checksum:      Checksum(owned),
	}, nil
}

// Checksum returns the lowercase hex MD5 digest of b.
func Checksum(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// WireBytes serializes the packet into a single frame. It trusts the
// fields as set by Encode; a hand-built packet whose charset contains CR
// yields a misaligned frame. WriteTo checks for that.
func (p *Packet) WireBytes() []byte {
	var buf bytes.Buffer
	buf.Grow(p.wireSize())
	p.writeFrame(&buf)
	return buf.Bytes()
}

// WriteTo writes the serialized frame to w.
// Returns *InvalidCharsetError, writing nothing, if the charset contains CR.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	if strings.IndexByte(p.Charset, Delimiter) >= 0 {
		return 0, &InvalidCharsetError{Charset: p.Charset}
	}
	n, err := w.Write(p.WireBytes())
	return int64(n), err
}

func (p *Packet) writeFrame(buf *bytes.Buffer) {
	buf.WriteString(Marker)
	buf.WriteString(strconv.FormatUint(p.SequenceIndex, 10))
	buf.WriteByte(Delimiter)
	buf.WriteString(p.Charset)
	buf.WriteByte(Delimiter)
	buf.WriteString(strconv.Itoa(p.PayloadLength))
	buf.WriteByte(Delimiter)
	buf.WriteString(p.Checksum)
	buf.WriteByte(Delimiter)
	buf.Write(p.Payload)
	buf.WriteByte(Delimiter)
}

// wireSize is a sizing hint; the decimal fields are bounded at 20 digits.
func (p *Packet) wireSize() int {
	return MarkerSize + 20 + len(p.Charset) + 20 + len(p.Checksum) + len(p.Payload) + HeaderFieldCount + 1
}

// Verify reports whether the payload matches the declared length and
// checksum. The checksum comparison is case-insensitive.
func (p *Packet) Verify() bool {
	if p.PayloadLength != len(p.Payload) {
		return false
	}
	return strings.EqualFold(Checksum(p.Payload), p.Checksum)
}

// Clear resets every field so the packet can be reused.
func (p *Packet) Clear() {
	p.SequenceIndex = 0
	p.Charset = ""
	p.Payload = nil
	p.PayloadLength = 0
	p.Checksum = ""
}

// String returns a short summary suitable for logs.
func (p *Packet) String() string {
	return fmt.Sprintf("packet(seq=%d charset=%q len=%d)", p.SequenceIndex, p.Charset, p.PayloadLength)
}
