// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

// ConnectionStatus represents the state of the VPN connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

// String returns a human-readable status string.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Event is a connection lifecycle event reported to a Notifier.
type Event int

const (
	EventConnecting Event = iota
	EventEstablished
	EventDisconnected
	EventLost
	EventAuthFailed
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventConnecting:
		return "connecting"
	case EventEstablished:
		return "established"
	case EventDisconnected:
		return "disconnected"
	case EventLost:
		return "lost"
	case EventAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Notifier receives connection lifecycle events.
// Implementations must not block for long; they are called from the
// log reader goroutine.
type Notifier interface {
	Notify(event Event, profileName, detail string)
}

// SessionRecorder persists a record of each connection session.
type SessionRecorder interface {
	// Begin opens a session and returns its identifier.
	Begin(profileName string) (string, error)
	// SetTunnelIP records the tunnel address discovered for a session.
	SetTunnelIP(sessionID, ip string) error
	// End closes a session with the given outcome.
	End(sessionID, outcome string) error
}

// Session outcomes recorded by a SessionRecorder.
const (
	OutcomeDisconnected = "disconnected"
	OutcomeForced       = "forced"
	OutcomeExited       = "exited"
)

// Logger defines the interface for leveled logging.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}
