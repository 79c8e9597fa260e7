// Package frame reassembles T-Protocol packets from an inbound byte stream.
//
// The Assembler accepts chunks of any size, including chunks that split a
// header field or carry several pipelined frames, and emits completed
// packets in arrival order. It performs no I/O and never blocks.
//
// Framing faults are fatal: once the assembler enters StateError every
// Feed returns the stored error until Reset.
package frame

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/justapithecus/tproto/packet"
)

// Default limits.
const (
	// DefaultMaxPayloadSize bounds a declared payload length (16 MiB).
	DefaultMaxPayloadSize = 16 * 1024 * 1024
	// DefaultMaxFieldSize bounds a single header field, delimiter excluded.
	DefaultMaxFieldSize = 256
)

// shrinkThreshold is the buffer capacity above which compact reallocates.
const shrinkThreshold = 64 * 1024

// Limits constrains assembler memory use.
type Limits struct {
	MaxPayloadSize int
	MaxFieldSize   int
}

// DefaultLimits returns the limits used by NewAssembler.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadSize: DefaultMaxPayloadSize,
		MaxFieldSize:   DefaultMaxFieldSize,
	}
}

// State is the assembler parse state.
type State int

const (
	// StateAwaitingHeader scans the marker and header fields.
	StateAwaitingHeader State = iota
	// StateReadingPayload waits for the declared payload and its terminator.
	StateReadingPayload
	// StateError is terminal until Reset.
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateReadingPayload:
		return "reading_payload"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Assembler is the per-connection frame parser.
//
// Feed must be called from a single goroutine. Drain may be called from
// any goroutine; queue pushes and pops are serialized by an internal mutex.
type Assembler struct {
	limits Limits

	buf        []byte
	frameStart int   // offset in buf of the frame being parsed
	cursor     int   // parse position in buf
	consumed   int64 // stream bytes before buf[0]

	markerSeen bool
	fieldIndex int
	inProgress packet.Packet

	state State
	err   error

	mu    sync.Mutex
	queue []*packet.Packet
}

// NewAssembler creates an assembler with DefaultLimits.
func NewAssembler() *Assembler {
	return NewAssemblerWithLimits(DefaultLimits())
}

// NewAssemblerWithLimits creates an assembler with custom limits.
// Zero or negative limit fields fall back to the defaults.
func NewAssemblerWithLimits(limits Limits) *Assembler {
	def := DefaultLimits()
	if limits.MaxPayloadSize <= 0 {
		limits.MaxPayloadSize = def.MaxPayloadSize
	}
	if limits.MaxFieldSize <= 0 {
		limits.MaxFieldSize = def.MaxFieldSize
	}
	return &Assembler{limits: limits}
}

// Feed appends chunk to the receive buffer and parses as far as the
// buffered bytes allow. Completed packets are queued for Drain.
//
// Errors:
//   - *FrameError with Kind=FrameErrorMarker: frame does not open with the marker
//   - *FrameError with Kind=FrameErrorHeader: numeric field unparsable or field too long
//   - *FrameError with Kind=FrameErrorTerminator: payload not followed by CR
//   - *FrameError with Kind=FrameErrorTooLarge: declared payload above the limit
//
// After an error the chunk is discarded and the same error is returned
// by every call until Reset.
func (a *Assembler) Feed(chunk []byte) error {
	if a.state == StateError {
		return a.err
	}

	a.buf = append(a.buf, chunk...)

	for {
		progressed, err := a.step()
		if err != nil {
			a.fail(err)
			return a.err
		}
		if !progressed {
			break
		}
	}

	a.compact()
	return nil
}

// step advances the state machine by one unit: the marker, one header
// field, or one payload. It reports false when more input is needed.
func (a *Assembler) step() (bool, error) {
	switch a.state {
	case StateAwaitingHeader:
		if !a.markerSeen {
			return a.readMarker()
		}
		return a.readField()
	case StateReadingPayload:
		return a.readPayload()
	default:
		return false, nil
	}
}

func (a *Assembler) readMarker() (bool, error) {
	if len(a.buf)-a.frameStart < packet.MarkerSize {
		return false, nil
	}
	marker := a.buf[a.frameStart : a.frameStart+packet.MarkerSize]
	if string(marker) != packet.Marker {
		return false, a.errorf(FrameErrorMarker, nil, "expected marker %q, got %q", packet.Marker, marker)
	}
	a.cursor = a.frameStart + packet.MarkerSize
	a.markerSeen = true
	return true, nil
}

func (a *Assembler) readField() (bool, error) {
	idx := bytes.IndexByte(a.buf[a.cursor:], packet.Delimiter)
	if idx < 0 {
		if len(a.buf)-a.cursor > a.limits.MaxFieldSize {
			return false, a.errorf(FrameErrorHeader, nil, "header field %d exceeds %d bytes", a.fieldIndex, a.limits.MaxFieldSize)
		}
		return false, nil
	}
	if idx > a.limits.MaxFieldSize {
		return false, a.errorf(FrameErrorHeader, nil, "header field %d exceeds %d bytes", a.fieldIndex, a.limits.MaxFieldSize)
	}

	field := a.buf[a.cursor : a.cursor+idx]
	if err := a.setField(field); err != nil {
		return false, err
	}

	a.cursor += idx + 1
	a.fieldIndex++
	if a.fieldIndex == packet.HeaderFieldCount {
		a.state = StateReadingPayload
	}
	return true, nil
}

func (a *Assembler) setField(field []byte) error {
	switch a.fieldIndex {
	case 0:
		seq, err := strconv.ParseUint(string(field), 10, 64)
		if err != nil {
			return a.errorf(FrameErrorHeader, err, "invalid sequence index %q", field)
		}
		a.inProgress.SequenceIndex = seq
	case 1:
		a.inProgress.Charset = string(field)
	case 2:
		n, err := strconv.ParseUint(string(field), 10, 63)
		if err != nil {
			return a.errorf(FrameErrorHeader, err, "invalid payload length %q", field)
		}
		if n > uint64(a.limits.MaxPayloadSize) {
			return a.errorf(FrameErrorTooLarge, nil, "payload length %d exceeds maximum %d", n, a.limits.MaxPayloadSize)
		}
		a.inProgress.PayloadLength = int(n)
	case 3:
		a.inProgress.Checksum = string(field)
	}
	return nil
}

func (a *Assembler) readPayload() (bool, error) {
	n := a.inProgress.PayloadLength
	// Payload plus terminator; n may be as large as MaxPayloadSize, so
	// compare without adding.
	if len(a.buf)-a.cursor <= n {
		return false, nil
	}

	end := a.cursor + n
	if a.buf[end] != packet.Delimiter {
		a.cursor = end
		return false, a.errorf(FrameErrorTerminator, nil, "expected CR after %d-byte payload, got 0x%02x", n, a.buf[end])
	}

	payload := make([]byte, n)
	copy(payload, a.buf[a.cursor:end])
	a.inProgress.Payload = payload

	completed := a.inProgress
	a.push(&completed)

	a.frameStart = end + 1
	a.cursor = a.frameStart
	a.startFrame()
	return true, nil
}

func (a *Assembler) startFrame() {
	a.inProgress = packet.Packet{}
	a.fieldIndex = 0
	a.markerSeen = false
	a.state = StateAwaitingHeader
}

// compact drops the bytes of completed frames from the front of buf.
// A backing array far larger than what remains is released, so one large
// frame does not pin its buffer for the life of the connection.
func (a *Assembler) compact() {
	if a.frameStart == 0 {
		return
	}
	rest := a.buf[a.frameStart:]
	if cap(a.buf) > shrinkThreshold && cap(a.buf) > 4*len(rest) {
		a.buf = append([]byte(nil), rest...)
	} else {
		n := copy(a.buf, rest)
		a.buf = a.buf[:n]
	}
	a.consumed += int64(a.frameStart)
	a.cursor -= a.frameStart
	a.frameStart = 0
}

func (a *Assembler) push(p *packet.Packet) {
	a.mu.Lock()
	a.queue = append(a.queue, p)
	a.mu.Unlock()
}

func (a *Assembler) errorf(kind FrameErrorKind, cause error, format string, args ...any) error {
	return &FrameError{
		Kind:   kind,
		Msg:    fmt.Sprintf(format, args...),
		Offset: a.consumed + int64(a.cursor),
		Err:    cause,
	}
}

func (a *Assembler) fail(err error) {
	a.state = StateError
	a.err = err
	a.buf = nil
	a.frameStart = 0
	a.cursor = 0
}

// Drain removes and returns all completed packets in arrival order.
// Returns nil when none are ready.
func (a *Assembler) Drain() []*packet.Packet {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.queue
	a.queue = nil
	return out
}

// Reset clears the error state, the receive buffer and the completed
// queue. Call it after the underlying stream has been resynchronized.
func (a *Assembler) Reset() {
	a.buf = nil
	a.frameStart = 0
	a.cursor = 0
	a.consumed = 0
	a.err = nil
	a.startFrame()

	a.mu.Lock()
	a.queue = nil
	a.mu.Unlock()
}

// State returns the current parse state.
func (a *Assembler) State() State {
	return a.state
}

// Err returns the stored fatal error, or nil.
func (a *Assembler) Err() error {
	return a.err
}

// Buffered returns the number of received bytes not yet part of a
// completed packet. Non-zero at end of stream means a truncated frame.
func (a *Assembler) Buffered() int {
	return len(a.buf) - a.frameStart
}
