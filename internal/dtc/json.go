package dtc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONCodec implements the JSON encoding. Each payload is one JSON object
// with a "Type" member; framing adds the NUL terminator.
type JSONCodec struct{}

// Encoding implements Codec.
func (JSONCodec) Encoding() Encoding { return EncodingJSON }

// Encode implements Codec. The returned payload ends with a NUL byte.
func (JSONCodec) Encode(msg Message) ([]byte, error) {
	if _, ok := msg.(*Unknown); ok {
		return nil, fmt.Errorf("%w: %s", ErrUnencodable, msg.Type())
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Type(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 16)
	buf.WriteString(`{"Type":`)
	buf.WriteString(strconv.Itoa(int(msg.Type())))
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// Decode implements Codec. A trailing NUL is tolerated.
func (JSONCodec) Decode(frame []byte) (Message, error) {
	frame = bytes.TrimRight(frame, "\x00")

	var env struct {
		Type json.RawMessage `json:"Type"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Len: len(frame), Err: err}
	}

	t, err := parseJSONType(env.Type)
	if err != nil {
		return nil, &DecodeError{Len: len(frame), Err: err}
	}

	msg := newMessage(t)
	if msg == nil {
		raw := make([]byte, len(frame))
		copy(raw, frame)
		return &Unknown{MsgType: t, Raw: raw}, nil
	}
	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, &DecodeError{Type: t, Len: len(frame), Err: err}
	}
	return msg, nil
}

// parseJSONType accepts either the numeric code or the message name.
func parseJSONType(raw json.RawMessage) (MessageType, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing Type")
	}
	var n uint16
	if err := json.Unmarshal(raw, &n); err == nil {
		return MessageType(n), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("invalid Type %s", raw)
	}
	if t, ok := typeByName(name); ok {
		return t, nil
	}
	if n, err := strconv.ParseUint(name, 10, 16); err == nil {
		return MessageType(n), nil
	}
	return 0, fmt.Errorf("unknown Type %q", name)
}
