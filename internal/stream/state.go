// Package stream implements the streaming channel that carries progress
// events between the engine and its caller: a duplex websocket with its own
// connection state machine and reconnection policy, plus a synchronous HTTP
// fallback transport.
package stream

// ConnState is the connection lifecycle state, owned exclusively by the
// channel.
type ConnState int

const (
	// StateDisconnected - no connection and none being attempted.
	StateDisconnected ConnState = iota
	// StateConnecting - dial in progress.
	StateConnecting
	// StateConnected - socket established and healthy.
	StateConnected
	// StateReconnecting - connection lost, waiting out backoff before redial.
	StateReconnecting
	// StateFailed - reconnection attempts exhausted; only the fallback
	// transport can deliver messages now.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
