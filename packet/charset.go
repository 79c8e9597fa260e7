package packet

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// EncodeText encodes text with the named charset and builds a packet
// from the resulting bytes.
func EncodeText(text, charset string, seq uint64) (*Packet, error) {
	if strings.IndexByte(charset, Delimiter) >= 0 {
		return nil, &InvalidCharsetError{Charset: charset}
	}
	if isUTF8(charset) {
		return Encode([]byte(text), charset, seq)
	}

	enc, err := lookup(charset)
	if err != nil {
		return nil, err
	}
	raw, err := enc.NewEncoder().String(text)
	if err != nil {
		return nil, fmt.Errorf("packet: encode text as %s: %w", charset, err)
	}
	return Encode([]byte(raw), charset, seq)
}

// Text decodes the payload using the packet charset.
// An empty charset is treated as utf-8.
func (p *Packet) Text() (string, error) {
	if isUTF8(p.Charset) {
		return string(p.Payload), nil
	}

	enc, err := lookup(p.Charset)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(p.Payload)
	if err != nil {
		return "", fmt.Errorf("packet: decode payload as %s: %w", p.Charset, err)
	}
	return string(out), nil
}

func isUTF8(charset string) bool {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return true
	default:
		return false
	}
}

func lookup(charset string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	return enc, nil
}
