package session

import "errors"

// Session error taxonomy. Only capture, connect, and transport faults affect
// session state; tool and decode faults are contained where they occur.
var (
	// ErrCaptureUnavailable indicates the audio input device could not be
	// opened. Start fails and the session never reaches Connected.
	ErrCaptureUnavailable = errors.New("session: capture unavailable")

	// ErrConnect indicates the transport open handshake failed.
	ErrConnect = errors.New("session: connect failed")

	// ErrTransport indicates a network fault after the session connected.
	// It forces teardown and the Error state.
	ErrTransport = errors.New("session: transport failure")

	// ErrInvalidState is returned by Start when the session is not
	// Disconnected.
	ErrInvalidState = errors.New("session: invalid state")
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
