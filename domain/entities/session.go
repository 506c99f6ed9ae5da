package entities

import "fmt"

// LinkStatus is the user-visible health of a cloud link. It deliberately
// hides raw error text from the UI layer.
type LinkStatus int

const (
	LinkDisconnected LinkStatus = iota
	LinkConnecting
	LinkConnected
	LinkDegraded
)

func (s LinkStatus) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("LinkStatus(%d)", int(s))
	}
}

// SessionState is the lifecycle of a conversational streaming session.
//
//	Idle -> Connecting -> Active -> Ending -> Closed
//
// Active -> Closed is also reachable directly on fatal error.
// Closed is terminal.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionConnecting
	SessionActive
	SessionEnding
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionEnding:
		return "ending"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}
