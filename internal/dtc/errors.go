package dtc

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated means a frame is shorter than its type's minimum length.
	ErrTruncated = errors.New("dtc: truncated message")

	// ErrUnsupportedEncoding means no codec exists for the requested encoding.
	ErrUnsupportedEncoding = errors.New("dtc: unsupported encoding")

	// ErrUnencodable means the message type cannot be encoded.
	ErrUnencodable = errors.New("dtc: message cannot be encoded")

	// ErrFraming is matched by every *FramingError.
	ErrFraming = errors.New("dtc: framing error")
)

// FramingError reports a size prefix that cannot describe a valid frame.
type FramingError struct {
	Size   int
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("dtc: framing error: %s (size %d)", e.Reason, e.Size)
}

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// DecodeError reports a frame whose fields cannot be read as declared.
type DecodeError struct {
	Type MessageType
	Len  int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dtc: decode %s (%d bytes): %v", e.Type, e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
