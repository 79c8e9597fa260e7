package session

import (
	"errors"
	"fmt"
)

// ErrChecksumMismatch is wrapped by integrity errors under ChecksumClose.
var ErrChecksumMismatch = errors.New("session: checksum mismatch")

// ErrorKind classifies session errors so callers can pick an outcome.
type ErrorKind int

const (
	// ErrorKindFrame indicates a fatal framing error from the assembler.
	ErrorKindFrame ErrorKind = iota
	// ErrorKindTruncated indicates EOF in the middle of a frame.
	ErrorKindTruncated
	// ErrorKindTransport indicates a read or write failure on the stream.
	ErrorKindTransport
	// ErrorKindIntegrity indicates a checksum failure under ChecksumClose.
	ErrorKindIntegrity
	// ErrorKindHandler indicates the handler rejected a delivery.
	ErrorKindHandler
	// ErrorKindCanceled indicates context cancellation.
	ErrorKindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindFrame:
		return "frame"
	case ErrorKindTruncated:
		return "truncated"
	case ErrorKindTransport:
		return "transport"
	case ErrorKindIntegrity:
		return "integrity"
	case ErrorKindHandler:
		return "handler"
	case ErrorKindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Conn.Run.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a session error and whether err is one.
func KindOf(err error) (ErrorKind, bool) {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.Kind, true
	}
	return 0, false
}

// IsFrameError returns true if the session ended on a framing error.
func IsFrameError(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ErrorKindFrame
}

// IsCanceledError returns true if the session ended on context cancellation.
func IsCanceledError(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ErrorKindCanceled
}
