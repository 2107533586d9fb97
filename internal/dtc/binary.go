package dtc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// HeaderSize is the size/type prefix shared by every binary message.
const HeaderSize = 4

// maxLogText bounds the text of an encoded GeneralLogMessage.
const maxLogText = 4096

// layout is the encoded size and the minimum decodable length of a message type.
type layout struct {
	size int
	min  int
}

var layouts = map[MessageType]layout{
	TypeLogonRequest:                       {size: 188, min: 8},
	TypeLogonResponse:                      {size: 256, min: 12},
	TypeHeartbeat:                          {size: 16, min: 4},
	TypeLogoff:                             {size: 102, min: 4},
	TypeEncodingRequest:                    {size: 44, min: 12},
	TypeEncodingResponse:                   {size: 44, min: 12},
	TypeMarketDataRequest:                  {size: 92, min: 10},
	TypeMarketDataReject:                   {size: 104, min: 6},
	TypeMarketDataSnapshot:                 {size: 100, min: 68},
	TypeMarketDataUpdateTrade:              {size: 40, min: 32},
	TypeMarketDataUpdateBidAsk:             {size: 48, min: 40},
	TypeSecurityDefinitionForSymbolRequest: {size: 88, min: 8},
	TypeSecurityDefinitionResponse:         {size: 216, min: 88},
	TypeGeneralLogMessage:                  {size: 0, min: 8},
}

// EncodedSize returns the fixed binary size of a message type, or 0 when it
// is variable or unknown.
func EncodedSize(t MessageType) int {
	return layouts[t].size
}

// BinaryCodec encodes messages as fixed-width little-endian structs.
type BinaryCodec struct{}

// Encoding implements Codec.
func (BinaryCodec) Encoding() Encoding { return EncodingBinary }

// Encode implements Codec.
func (BinaryCodec) Encode(msg Message) ([]byte, error) {
	t := msg.Type()
	size := layouts[t].size

	if m, ok := msg.(*GeneralLogMessage); ok {
		text := m.MessageText
		if len(text) > maxLogText {
			text = text[:maxLogText]
		}
		size = 8 + len(text) + 1
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnencodable, t)
	}

	w := wbuf(make([]byte, size))
	w.u16(0, uint16(size))
	w.u16(2, uint16(t))

	switch m := msg.(type) {
	case *EncodingRequest:
		w.i32(4, m.ProtocolVersion)
		w.i32(8, int32(m.Encoding))
		w.str(12, 32, m.ProtocolType)
	case *EncodingResponse:
		w.i32(4, m.ProtocolVersion)
		w.i32(8, int32(m.Encoding))
		w.str(12, 32, m.ProtocolType)
	case *LogonRequest:
		w.i32(4, m.ProtocolVersion)
		w.str(8, 32, m.Username)
		w.str(40, 32, m.Password)
		w.str(72, 64, m.GeneralTextData)
		w.i32(136, m.Integer1)
		w.i32(140, m.Integer2)
		w.i32(144, m.HeartbeatIntervalInSeconds)
		w.i32(148, m.Unused1)
		w[152] = m.TradeMode
		w.str(153, 32, m.TradePlatform)
	case *LogonResponse:
		w.i32(4, m.ProtocolVersion)
		w.i32(8, m.Result)
		w.str(12, 96, m.ResultText)
		w.str(108, 64, m.ReconnectAddress)
		w.i32(172, m.Integer1)
		w.str(176, 60, m.ServerName)
		w[244] = m.SecurityDefinitionsSupported
		w[252] = m.MarketDataSupported
	case *Heartbeat:
		w.u32(4, m.NumDroppedMessages)
		w.i64(8, m.CurrentDateTime)
	case *Logoff:
		w.str(4, 96, m.Reason)
		w[100] = m.DoNotReconnect
	case *MarketDataRequest:
		w.i32(4, m.RequestAction)
		w.u16(8, m.SymbolID)
		w.str(10, 64, m.Symbol)
		w.str(74, 16, m.Exchange)
	case *MarketDataReject:
		w.u16(4, m.SymbolID)
		w.str(8, 96, m.RejectText)
	case *MarketDataSnapshot:
		w.u16(4, m.SymbolID)
		w.f64(36, m.LastTradePrice)
		w.f64(44, m.LastTradeVolume)
		w.f64(52, m.BidPrice)
		w.f64(60, m.AskPrice)
	case *MarketDataUpdateTrade:
		w.u16(4, m.SymbolID)
		w.f64(16, m.Price)
		w.f64(24, m.Volume)
	case *MarketDataUpdateBidAsk:
		w.u16(4, m.SymbolID)
		w.f64(16, m.BidPrice)
		w.f64(32, m.AskPrice)
	case *SecurityDefinitionForSymbolRequest:
		w.i32(4, m.RequestID)
		w.str(8, 64, m.Symbol)
		w.str(72, 16, m.Exchange)
	case *SecurityDefinitionResponse:
		w.i32(4, m.RequestID)
		w.str(8, 64, m.Symbol)
		w.str(72, 16, m.Exchange)
		w.str(152, 64, m.Description)
	case *GeneralLogMessage:
		w.str(8, size-8, m.MessageText)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnencodable, t)
	}
	return w, nil
}

// Decode implements Codec. The frame must be exactly one message as produced
// by BinaryFramer.
func (BinaryCodec) Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return nil, &DecodeError{Len: len(frame), Err: ErrTruncated}
	}
	r := rbuf(frame)
	t := MessageType(r.u16(2))

	l, known := layouts[t]
	if !known {
		raw := make([]byte, len(frame))
		copy(raw, frame)
		return &Unknown{MsgType: t, Raw: raw}, nil
	}
	if len(frame) < l.min {
		return nil, &DecodeError{Type: t, Len: len(frame), Err: ErrTruncated}
	}

	switch t {
	case TypeEncodingRequest:
		return &EncodingRequest{
			ProtocolVersion: r.i32(4),
			Encoding:        Encoding(r.i32(8)),
			ProtocolType:    r.str(12, 32),
		}, nil
	case TypeEncodingResponse:
		return &EncodingResponse{
			ProtocolVersion: r.i32(4),
			Encoding:        Encoding(r.i32(8)),
			ProtocolType:    r.str(12, 32),
		}, nil
	case TypeLogonRequest:
		return &LogonRequest{
			ProtocolVersion:            r.i32(4),
			Username:                   r.str(8, 32),
			Password:                   r.str(40, 32),
			GeneralTextData:            r.str(72, 64),
			Integer1:                   r.i32(136),
			Integer2:                   r.i32(140),
			HeartbeatIntervalInSeconds: r.i32(144),
			Unused1:                    r.i32(148),
			TradeMode:                  r.u8(152),
			TradePlatform:              r.str(153, 32),
		}, nil
	case TypeLogonResponse:
		return &LogonResponse{
			ProtocolVersion:              r.i32(4),
			Result:                       r.i32(8),
			ResultText:                   r.str(12, 96),
			ReconnectAddress:             r.str(108, 64),
			Integer1:                     r.i32(172),
			ServerName:                   r.str(176, 60),
			SecurityDefinitionsSupported: r.u8(244),
			MarketDataSupported:          r.u8(252),
		}, nil
	case TypeHeartbeat:
		return &Heartbeat{
			NumDroppedMessages: r.u32(4),
			CurrentDateTime:    r.i64(8),
		}, nil
	case TypeLogoff:
		return &Logoff{
			Reason:         r.str(4, 96),
			DoNotReconnect: r.u8(100),
		}, nil
	case TypeMarketDataRequest:
		return &MarketDataRequest{
			RequestAction: r.i32(4),
			SymbolID:      r.u16(8),
			Symbol:        r.str(10, 64),
			Exchange:      r.str(74, 16),
		}, nil
	case TypeMarketDataReject:
		return &MarketDataReject{
			SymbolID:   r.u16(4),
			RejectText: r.str(8, 96),
		}, nil
	case TypeMarketDataSnapshot:
		return &MarketDataSnapshot{
			SymbolID:        r.u16(4),
			LastTradePrice:  r.f64(36),
			LastTradeVolume: r.f64(44),
			BidPrice:        r.f64(52),
			AskPrice:        r.f64(60),
		}, nil
	case TypeMarketDataUpdateTrade:
		return &MarketDataUpdateTrade{
			SymbolID: r.u16(4),
			Price:    r.f64(16),
			Volume:   r.f64(24),
		}, nil
	case TypeMarketDataUpdateBidAsk:
		return &MarketDataUpdateBidAsk{
			SymbolID: r.u16(4),
			BidPrice: r.f64(16),
			AskPrice: r.f64(32),
		}, nil
	case TypeSecurityDefinitionForSymbolRequest:
		return &SecurityDefinitionForSymbolRequest{
			RequestID: r.i32(4),
			Symbol:    r.str(8, 64),
			Exchange:  r.str(72, 16),
		}, nil
	case TypeSecurityDefinitionResponse:
		return &SecurityDefinitionResponse{
			RequestID:   r.i32(4),
			Symbol:      r.str(8, 64),
			Exchange:    r.str(72, 16),
			Description: r.str(152, 64),
		}, nil
	case TypeGeneralLogMessage:
		return &GeneralLogMessage{MessageText: r.str(8, len(frame)-8)}, nil
	}
	return nil, &DecodeError{Type: t, Len: len(frame), Err: ErrUnencodable}
}

// rbuf reads little-endian fields. Fields past the end of the frame read as zero.
type rbuf []byte

func (r rbuf) has(off, n int) bool { return off >= 0 && off+n <= len(r) }

func (r rbuf) u8(off int) uint8 {
	if !r.has(off, 1) {
		return 0
	}
	return r[off]
}

func (r rbuf) u16(off int) uint16 {
	if !r.has(off, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(r[off:])
}

func (r rbuf) u32(off int) uint32 {
	if !r.has(off, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(r[off:])
}

func (r rbuf) i32(off int) int32 { return int32(r.u32(off)) }

func (r rbuf) i64(off int) int64 {
	if !r.has(off, 8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(r[off:]))
}

func (r rbuf) f64(off int) float64 {
	if !r.has(off, 8) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r[off:]))
}

// str reads a NUL-padded text field, stopping at the first NUL or the field
// boundary. Bytes outside 7-bit ASCII are replaced with '?'.
func (r rbuf) str(off, width int) string {
	end := off + width
	if end > len(r) {
		end = len(r)
	}
	if off < 0 || off >= end {
		return ""
	}
	field := r[off:end]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	out := make([]byte, len(field))
	for i, c := range field {
		if c >= 0x80 {
			c = '?'
		}
		out[i] = c
	}
	return string(out)
}

// wbuf writes little-endian fields into a zeroed buffer.
type wbuf []byte

func (w wbuf) u16(off int, v uint16) { binary.LittleEndian.PutUint16(w[off:], v) }
func (w wbuf) u32(off int, v uint32) { binary.LittleEndian.PutUint32(w[off:], v) }
func (w wbuf) i32(off int, v int32)  { w.u32(off, uint32(v)) }
func (w wbuf) i64(off int, v int64)  { binary.LittleEndian.PutUint64(w[off:], uint64(v)) }
func (w wbuf) f64(off int, v float64) {
	binary.LittleEndian.PutUint64(w[off:], math.Float64bits(v))
}

// str writes at most width-1 bytes so the field stays NUL terminated.
func (w wbuf) str(off, width int, s string) {
	copy(w[off:off+width-1], s)
}
