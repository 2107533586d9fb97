package dtc

import "fmt"

// Codec converts between messages and framed payloads.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(frame []byte) (Message, error)
	Encoding() Encoding
}

// NewCodec returns the codec for an encoding.
func NewCodec(enc Encoding) (Codec, error) {
	switch enc {
	case EncodingBinary:
		return BinaryCodec{}, nil
	case EncodingJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}

// NewFramer returns the framer matching an encoding.
func NewFramer(enc Encoding, maxFrameSize int) (Framer, error) {
	switch enc {
	case EncodingBinary:
		return NewBinaryFramer(maxFrameSize), nil
	case EncodingJSON:
		return NewNULFramer(maxFrameSize), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}
