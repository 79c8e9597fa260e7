package frame

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by *FrameError via errors.Is.
var (
	// ErrMalformedMarker is returned when a frame does not open with packet.Marker.
	ErrMalformedMarker = errors.New("frame: malformed marker")
	// ErrMalformedHeader is returned when a header field cannot be decoded
	// or the payload terminator is missing.
	ErrMalformedHeader = errors.New("frame: malformed header")
	// ErrPayloadTooLarge is returned when a declared payload exceeds Limits.MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// FrameErrorKind classifies frame parsing errors.
type FrameErrorKind int

const (
	// FrameErrorMarker indicates the 12-byte marker did not match.
	FrameErrorMarker FrameErrorKind = iota
	// FrameErrorHeader indicates an unparsable or oversized header field.
	FrameErrorHeader
	// FrameErrorTerminator indicates the byte after the payload was not CR.
	FrameErrorTerminator
	// FrameErrorTooLarge indicates a declared payload above the limit.
	FrameErrorTooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorMarker:
		return "marker"
	case FrameErrorHeader:
		return "header"
	case FrameErrorTerminator:
		return "terminator"
	case FrameErrorTooLarge:
		return "too_large"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a frame parsing error.
// Offset is the absolute stream offset at which parsing stopped.
type FrameError struct {
	Kind   FrameErrorKind
	Msg    string
	Offset int64
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame: %s at offset %d: %v", e.Msg, e.Offset, e.Err)
	}
	return fmt.Sprintf("frame: %s at offset %d", e.Msg, e.Offset)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Is maps each kind onto its sentinel.
func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrMalformedMarker:
		return e.Kind == FrameErrorMarker
	case ErrMalformedHeader:
		return e.Kind == FrameErrorHeader || e.Kind == FrameErrorTerminator
	case ErrPayloadTooLarge:
		return e.Kind == FrameErrorTooLarge
	}
	return false
}
