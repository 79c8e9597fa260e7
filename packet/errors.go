package packet

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCharset matches any *InvalidCharsetError.
	ErrInvalidCharset = errors.New("packet: invalid charset")
	// ErrUnknownCharset is returned when a charset name has no text encoding.
	ErrUnknownCharset = errors.New("packet: unknown charset")
)

// InvalidCharsetError is returned by Encode when the charset contains the
// delimiter byte and would corrupt the header on the wire.
type InvalidCharsetError struct {
	Charset string
}

func (e *InvalidCharsetError) Error() string {
	return fmt.Sprintf("packet: charset %q contains the frame delimiter", e.Charset)
}

// Is makes errors.Is(err, ErrInvalidCharset) hold.
func (e *InvalidCharsetError) Is(target error) bool {
	return target == ErrInvalidCharset
}
