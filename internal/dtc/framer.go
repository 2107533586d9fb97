package dtc

import (
	"bytes"
	"encoding/binary"
)

const (
	// DefaultMaxFrameSize bounds accepted frames unless configured otherwise.
	DefaultMaxFrameSize = 16 * 1024

	// MaxFrameSizeLimit is the largest cap a framer accepts (64 KiB).
	MaxFrameSizeLimit = 64 * 1024

	// MinFrameSize is the smallest cap a framer accepts: the 256-byte
	// LogonResponse, the largest fixed-size message a server sends.
	MinFrameSize = 256
)

// Framer turns a byte stream into complete frames.
//
// Feed appends bytes; Next returns the next complete frame, or nil when more
// data is needed. A returned frame is only valid until the next Feed or Next.
// Reset empties the framer and returns any bytes that were not consumed.
type Framer interface {
	Feed(p []byte)
	Next() ([]byte, error)
	Reset() []byte
}

func clampFrameSize(n int) int {
	if n <= 0 {
		return DefaultMaxFrameSize
	}
	if n < MinFrameSize {
		return MinFrameSize
	}
	if n > MaxFrameSizeLimit {
		return MaxFrameSizeLimit
	}
	return n
}

// streamBuffer is an append buffer with a read offset. Consumed bytes are
// reclaimed by moving the tail to the front once the offset passes half of
// the buffer, so a long stream never reallocates per read.
type streamBuffer struct {
	buf []byte
	off int
}

func (s *streamBuffer) feed(p []byte) {
	if s.off > 0 && s.off >= len(s.buf)/2 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, p...)
}

func (s *streamBuffer) pending() []byte { return s.buf[s.off:] }

func (s *streamBuffer) consume(n int) { s.off += n }

func (s *streamBuffer) reset() []byte {
	rest := append([]byte(nil), s.pending()...)
	s.buf = s.buf[:0]
	s.off = 0
	return rest
}

// BinaryFramer splits frames on the little-endian u16 size prefix, which
// counts the whole message including the 4-byte header.
type BinaryFramer struct {
	max  int
	in   streamBuffer
	skip int // bytes of an oversized frame still to discard
}

// NewBinaryFramer creates a framer rejecting frames larger than maxFrameSize.
func NewBinaryFramer(maxFrameSize int) *BinaryFramer {
	return &BinaryFramer{max: clampFrameSize(maxFrameSize)}
}

// Feed implements Framer.
func (f *BinaryFramer) Feed(p []byte) {
	if f.skip > 0 {
		n := min(f.skip, len(p))
		f.skip -= n
		p = p[n:]
	}
	f.in.feed(p)
}

// Next implements Framer.
//
// A size below the header length leaves the stream unrecoverable: the
// buffered bytes are dropped with the error. An oversized frame is skipped
// in full, across later feeds if needed, and reported once.
func (f *BinaryFramer) Next() ([]byte, error) {
	data := f.in.pending()
	if len(data) < HeaderSize {
		return nil, nil
	}

	size := int(binary.LittleEndian.Uint16(data))
	switch {
	case size < HeaderSize:
		f.in.reset()
		return nil, &FramingError{Size: size, Reason: "size smaller than header"}
	case size > f.max:
		if size <= len(data) {
			f.in.consume(size)
		} else {
			f.skip = size - len(data)
			f.in.consume(len(data))
		}
		return nil, &FramingError{Size: size, Reason: "size exceeds limit"}
	case len(data) < size:
		return nil, nil
	}

	f.in.consume(size)
	return data[:size:size], nil
}

// Reset implements Framer.
func (f *BinaryFramer) Reset() []byte {
	f.skip = 0
	return f.in.reset()
}

// NULFramer splits frames on a NUL terminator, as used by the JSON encoding.
// Returned frames exclude the terminator.
type NULFramer struct {
	max int
	in  streamBuffer
}

// NewNULFramer creates a framer rejecting frames larger than maxFrameSize.
func NewNULFramer(maxFrameSize int) *NULFramer {
	return &NULFramer{max: clampFrameSize(maxFrameSize)}
}

// Feed implements Framer.
func (f *NULFramer) Feed(p []byte) { f.in.feed(p) }

// Next implements Framer. Empty frames between terminators are skipped.
func (f *NULFramer) Next() ([]byte, error) {
	for {
		data := f.in.pending()
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			if len(data) > f.max {
				n := len(data)
				f.in.reset()
				return nil, &FramingError{Size: n, Reason: "unterminated frame exceeds limit"}
			}
			return nil, nil
		}
		f.in.consume(i + 1)
		if i == 0 {
			continue
		}
		if i > f.max {
			return nil, &FramingError{Size: i, Reason: "size exceeds limit"}
		}
		return data[:i:i], nil
	}
}

// Reset implements Framer.
func (f *NULFramer) Reset() []byte { return f.in.reset() }
