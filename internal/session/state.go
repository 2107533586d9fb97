package session

import "github.com/rickgao/dtc-feed/internal/dtc"

// State is the connection state of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingEncoding
	EncodingNegotiated
	AwaitingLogon
	Authenticated
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingEncoding:
		return "awaiting_encoding"
	case EncodingNegotiated:
		return "encoding_negotiated"
	case AwaitingLogon:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// action is what the session loop must do with a message after a transition.
type action int

const (
	actIgnore        action = iota // log and drop (unsupported server extension)
	actViolation                   // valid on the wire, illegal in this state
	actSendLogon                   // encoding negotiated: switch codec, send LogonRequest
	actAuthenticated               // logon accepted
	actAuthFailed                  // logon rejected
	actDeliver                     // market data path
	actRemoteLogoff                // server ended the session
)

type step struct {
	next   State
	action action
}

// transition decides the next state for an inbound message. It has no side
// effects so it can be exercised without a socket.
func transition(cur State, msg dtc.Message) step {
	stay := func(a action) step { return step{next: cur, action: a} }

	switch m := msg.(type) {
	case *dtc.Unknown:
		return stay(actIgnore)

	case *dtc.EncodingResponse:
		if cur != AwaitingEncoding {
			return stay(actViolation)
		}
		return step{next: EncodingNegotiated, action: actSendLogon}

	case *dtc.LogonResponse:
		if cur != AwaitingLogon {
			return stay(actViolation)
		}
		if m.Succeeded() {
			return step{next: Authenticated, action: actAuthenticated}
		}
		return step{next: Failed, action: actAuthFailed}

	case *dtc.Logoff:
		switch cur {
		case AwaitingEncoding, AwaitingLogon, Authenticated:
			return step{next: Disconnected, action: actRemoteLogoff}
		}
		return stay(actViolation)

	case *dtc.Heartbeat,
		*dtc.MarketDataSnapshot,
		*dtc.MarketDataUpdateTrade,
		*dtc.MarketDataUpdateBidAsk,
		*dtc.MarketDataReject,
		*dtc.SecurityDefinitionResponse,
		*dtc.GeneralLogMessage:
		if cur != Authenticated {
			return stay(actViolation)
		}
		return stay(actDeliver)
	}

	// Client-to-server types arriving from the server.
	return stay(actViolation)
}
