package session

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a session event.
type EventKind int

const (
	EventAuthenticated EventKind = iota + 1
	EventAuthFailed
	EventQuote
	EventReject
	EventSecurityDefinition
	EventServerLog
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventAuthenticated:
		return "authenticated"
	case EventAuthFailed:
		return "auth_failed"
	case EventQuote:
		return "quote"
	case EventReject:
		return "reject"
	case EventSecurityDefinition:
		return "security_definition"
	case EventServerLog:
		return "server_log"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QuoteKind tells which message produced a quote event.
type QuoteKind string

const (
	QuoteSnapshot QuoteKind = "snapshot"
	QuoteTrade    QuoteKind = "trade"
	QuoteBidAsk   QuoteKind = "bidask"
)

// Quote is the merged market state of one subscription.
type Quote struct {
	Kind   QuoteKind // message that produced this update
	Last   float64
	Bid    float64
	Ask    float64
	Volume float64
}

// SecurityDefinition answers RequestSecurityDefinition.
type SecurityDefinition struct {
	RequestID   int32
	Symbol      string
	Exchange    string
	Description string
}

// Event is delivered on Session.Events.
//
// EventClosed is always the last event of a session. Its Err is nil after
// Disconnect, a *HandshakeError when the session never authenticated, and
// the cause otherwise.
type Event struct {
	Kind      EventKind
	SessionID uuid.UUID
	At        time.Time

	SubscriptionID uint16 // quote, reject
	Symbol         string // quote, reject, security definition
	Exchange       string

	Quote      Quote              // quote
	Definition SecurityDefinition // security definition
	Text       string             // auth failure text, reject text, server log, server name
	Err        error
}
