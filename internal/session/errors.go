package session

import (
	"errors"
	"fmt"

	"github.com/rickgao/dtc-feed/internal/dtc"
)

var (
	// ErrHandshake is matched by every *HandshakeError.
	ErrHandshake = errors.New("handshake failed")

	ErrHandshakeTimeout         = errors.New("handshake timeout")
	ErrHeartbeatTimeout         = errors.New("heartbeat timeout")
	ErrNotAuthenticated         = errors.New("session not authenticated")
	ErrSessionClosed            = errors.New("session closed")
	ErrAlreadyStarted           = errors.New("session already started")
	ErrSubscriptionIDsExhausted = errors.New("subscription ids exhausted")
	ErrUnknownSubscription      = errors.New("unknown subscription")
	ErrRemoteLogoff             = errors.New("server logged off")
)

// HandshakeError reports a session that closed before it authenticated.
type HandshakeError struct {
	State State // state the handshake reached
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed while %s: %v", e.State, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// LogonRejectedError carries a non-success LogonResponse.
type LogonRejectedError struct {
	Code int32
	Text string
}

func (e *LogonRejectedError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("logon rejected: result %d", e.Code)
	}
	return fmt.Sprintf("logon rejected: %s (result %d)", e.Text, e.Code)
}

// MarketDataRejectedError carries a MarketDataReject for one subscription.
type MarketDataRejectedError struct {
	SubscriptionID uint16
	Symbol         string
	Exchange       string
	Text           string
}

func (e *MarketDataRejectedError) Error() string {
	return fmt.Sprintf("market data rejected for %s/%s (id %d): %s", e.Symbol, e.Exchange, e.SubscriptionID, e.Text)
}

// ProtocolViolationError reports a message that is illegal in the current state.
type ProtocolViolationError struct {
	State State
	Type  dtc.MessageType
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s while %s", e.Type, e.State)
}

// RemoteLogoffError carries a Logoff sent by the server.
type RemoteLogoffError struct {
	Reason         string
	DoNotReconnect bool
}

func (e *RemoteLogoffError) Error() string {
	return fmt.Sprintf("server logged off: %s", e.Reason)
}

func (e *RemoteLogoffError) Is(target error) bool { return target == ErrRemoteLogoff }
