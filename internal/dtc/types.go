package dtc

import "fmt"

// ProtocolVersion is the DTC protocol version sent in encoding and logon requests.
const ProtocolVersion = 8

// MessageType is the 16-bit type discriminator at offset 2 of every binary message.
type MessageType uint16

const (
	TypeLogonRequest                       MessageType = 1
	TypeLogonResponse                      MessageType = 2
	TypeHeartbeat                          MessageType = 3
	TypeLogoff                             MessageType = 5
	TypeEncodingRequest                    MessageType = 6
	TypeEncodingResponse                   MessageType = 7
	TypeMarketDataRequest                  MessageType = 101
	TypeMarketDataReject                   MessageType = 103
	TypeMarketDataSnapshot                 MessageType = 104
	TypeMarketDataUpdateTrade              MessageType = 107
	TypeMarketDataUpdateBidAsk             MessageType = 108
	TypeSecurityDefinitionForSymbolRequest MessageType = 506
	TypeSecurityDefinitionResponse         MessageType = 507
	TypeGeneralLogMessage                  MessageType = 701
)

var typeNames = map[MessageType]string{
	TypeLogonRequest:                       "LogonRequest",
	TypeLogonResponse:                      "LogonResponse",
	TypeHeartbeat:                          "Heartbeat",
	TypeLogoff:                             "Logoff",
	TypeEncodingRequest:                    "EncodingRequest",
	TypeEncodingResponse:                   "EncodingResponse",
	TypeMarketDataRequest:                  "MarketDataRequest",
	TypeMarketDataReject:                   "MarketDataReject",
	TypeMarketDataSnapshot:                 "MarketDataSnapshot",
	TypeMarketDataUpdateTrade:              "MarketDataUpdateTrade",
	TypeMarketDataUpdateBidAsk:             "MarketDataUpdateBidAsk",
	TypeSecurityDefinitionForSymbolRequest: "SecurityDefinitionForSymbolRequest",
	TypeSecurityDefinitionResponse:         "SecurityDefinitionResponse",
	TypeGeneralLogMessage:                  "GeneralLogMessage",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// typeByName resolves a message name as used in the JSON encoding.
func typeByName(name string) (MessageType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Encoding is the wire encoding negotiated with EncodingRequest/EncodingResponse.
type Encoding int32

const (
	EncodingBinary          Encoding = 0
	EncodingBinaryVarString Encoding = 1
	EncodingJSON            Encoding = 2
	EncodingJSONCompact     Encoding = 3
	EncodingProtocolBuffers Encoding = 4
)

func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingBinaryVarString:
		return "binary_var_string"
	case EncodingJSON:
		return "json"
	case EncodingJSONCompact:
		return "json_compact"
	case EncodingProtocolBuffers:
		return "protocol_buffers"
	default:
		return fmt.Sprintf("encoding(%d)", int32(e))
	}
}

// ParseEncoding maps a config string to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "binary":
		return EncodingBinary, nil
	case "json":
		return EncodingJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
	}
}

// Logon result codes. Success and SuccessWithReconnect both authenticate.
const (
	LogonSuccess          int32 = 1
	LogonError            int32 = 2
	LogonErrorNoReconnect int32 = 3
	LogonReconnectAddress int32 = 4
)

// Market data request actions.
const (
	RequestSubscribe   int32 = 1
	RequestUnsubscribe int32 = 2
	RequestSnapshot    int32 = 3
)

// Message is any decoded or encodable DTC message.
type Message interface {
	Type() MessageType
}

// EncodingRequest opens every connection and is always sent in binary.
type EncodingRequest struct {
	ProtocolVersion int32    `json:"ProtocolVersion"`
	Encoding        Encoding `json:"Encoding"`
	ProtocolType    string   `json:"ProtocolType"`
}

// EncodingResponse carries the encoding the server accepted.
type EncodingResponse struct {
	ProtocolVersion int32    `json:"ProtocolVersion"`
	Encoding        Encoding `json:"Encoding"`
	ProtocolType    string   `json:"ProtocolType,omitempty"`
}

// LogonRequest authenticates the client and announces the heartbeat interval.
type LogonRequest struct {
	ProtocolVersion            int32  `json:"ProtocolVersion"`
	Username                   string `json:"Username"`
	Password                   string `json:"Password"`
	GeneralTextData            string `json:"GeneralTextData,omitempty"`
	Integer1                   int32  `json:"Integer_1,omitempty"`
	Integer2                   int32  `json:"Integer_2,omitempty"`
	HeartbeatIntervalInSeconds int32  `json:"HeartbeatIntervalInSeconds"`
	Unused1                    int32  `json:"-"`
	TradeMode                  uint8  `json:"TradeMode,omitempty"`
	TradePlatform              string `json:"TradePlatform,omitempty"`
}

// LogonResponse reports the logon result and server capabilities.
type LogonResponse struct {
	ProtocolVersion              int32  `json:"ProtocolVersion"`
	Result                       int32  `json:"Result"`
	ResultText                   string `json:"ResultText"`
	ReconnectAddress             string `json:"ReconnectAddress,omitempty"`
	Integer1                     int32  `json:"Integer_1,omitempty"`
	ServerName                   string `json:"ServerName"`
	SecurityDefinitionsSupported uint8  `json:"SecurityDefinitionsSupported,omitempty"`
	MarketDataSupported          uint8  `json:"MarketDataSupported,omitempty"`
}

// Succeeded reports whether the result code authenticates the connection.
func (r *LogonResponse) Succeeded() bool {
	return r.Result == 0 || r.Result == LogonSuccess
}

// Heartbeat is exchanged in both directions once authenticated.
type Heartbeat struct {
	NumDroppedMessages uint32 `json:"NumDroppedMessages"`
	CurrentDateTime    int64  `json:"CurrentDateTime"`
}

// Logoff ends a session gracefully.
type Logoff struct {
	Reason         string `json:"Reason,omitempty"`
	DoNotReconnect uint8  `json:"DoNotReconnect,omitempty"`
}

// MarketDataRequest subscribes to or unsubscribes from a symbol.
type MarketDataRequest struct {
	RequestAction int32  `json:"RequestAction"`
	SymbolID      uint16 `json:"SymbolID"`
	Symbol        string `json:"Symbol"`
	Exchange      string `json:"Exchange"`
}

// MarketDataReject reports that a subscription could not be served.
type MarketDataReject struct {
	SymbolID   uint16 `json:"SymbolID"`
	RejectText string `json:"RejectText"`
}

// MarketDataSnapshot carries the full current quote for a symbol.
type MarketDataSnapshot struct {
	SymbolID        uint16  `json:"SymbolID"`
	LastTradePrice  float64 `json:"LastTradePrice"`
	LastTradeVolume float64 `json:"LastTradeVolume"`
	BidPrice        float64 `json:"BidPrice"`
	AskPrice        float64 `json:"AskPrice"`
}

// MarketDataUpdateTrade carries a single trade print.
type MarketDataUpdateTrade struct {
	SymbolID uint16  `json:"SymbolID"`
	Price    float64 `json:"Price"`
	Volume   float64 `json:"Volume"`
}

// MarketDataUpdateBidAsk carries a best bid/ask change.
type MarketDataUpdateBidAsk struct {
	SymbolID uint16  `json:"SymbolID"`
	BidPrice float64 `json:"BidPrice"`
	AskPrice float64 `json:"AskPrice"`
}

// SecurityDefinitionForSymbolRequest asks for the definition of one symbol.
type SecurityDefinitionForSymbolRequest struct {
	RequestID int32  `json:"RequestID"`
	Symbol    string `json:"Symbol"`
	Exchange  string `json:"Exchange"`
}

// SecurityDefinitionResponse answers a SecurityDefinitionForSymbolRequest.
type SecurityDefinitionResponse struct {
	RequestID   int32  `json:"RequestID"`
	Symbol      string `json:"Symbol"`
	Exchange    string `json:"Exchange"`
	Description string `json:"Description"`
}

// GeneralLogMessage is free text from the server.
type GeneralLogMessage struct {
	MessageText string `json:"MessageText"`
}

// Unknown holds a message whose type code is not implemented.
type Unknown struct {
	MsgType MessageType
	Raw     []byte
}

func (*EncodingRequest) Type() MessageType        { return TypeEncodingRequest }
func (*EncodingResponse) Type() MessageType       { return TypeEncodingResponse }
func (*LogonRequest) Type() MessageType           { return TypeLogonRequest }
func (*LogonResponse) Type() MessageType          { return TypeLogonResponse }
func (*Heartbeat) Type() MessageType              { return TypeHeartbeat }
func (*Logoff) Type() MessageType                 { return TypeLogoff }
func (*MarketDataRequest) Type() MessageType      { return TypeMarketDataRequest }
func (*MarketDataReject) Type() MessageType       { return TypeMarketDataReject }
func (*MarketDataSnapshot) Type() MessageType     { return TypeMarketDataSnapshot }
func (*MarketDataUpdateTrade) Type() MessageType  { return TypeMarketDataUpdateTrade }
func (*MarketDataUpdateBidAsk) Type() MessageType { return TypeMarketDataUpdateBidAsk }
func (*SecurityDefinitionForSymbolRequest) Type() MessageType {
	return TypeSecurityDefinitionForSymbolRequest
}
func (*SecurityDefinitionResponse) Type() MessageType { return TypeSecurityDefinitionResponse }
func (*GeneralLogMessage) Type() MessageType          { return TypeGeneralLogMessage }
func (u *Unknown) Type() MessageType                  { return u.MsgType }

// newMessage returns an empty message for a known type.
func newMessage(t MessageType) Message {
	switch t {
	case TypeEncodingRequest:
		return &EncodingRequest{}
	case TypeEncodingResponse:
		return &EncodingResponse{}
	case TypeLogonRequest:
		return &LogonRequest{}
	case TypeLogonResponse:
		return &LogonResponse{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypeLogoff:
		return &Logoff{}
	case TypeMarketDataRequest:
		return &MarketDataRequest{}
	case TypeMarketDataReject:
		return &MarketDataReject{}
	case TypeMarketDataSnapshot:
		return &MarketDataSnapshot{}
	case TypeMarketDataUpdateTrade:
		return &MarketDataUpdateTrade{}
	case TypeMarketDataUpdateBidAsk:
		return &MarketDataUpdateBidAsk{}
	case TypeSecurityDefinitionForSymbolRequest:
		return &SecurityDefinitionForSymbolRequest{}
	case TypeSecurityDefinitionResponse:
		return &SecurityDefinitionResponse{}
	case TypeGeneralLogMessage:
		return &GeneralLogMessage{}
	default:
		return nil
	}
}
