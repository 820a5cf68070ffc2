// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "OpenVPN Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "openvpn-manager"
)

// File names used by the application.
const (
	ProfilesFileName = "profiles.json"
	ConfigFileName   = "config.yaml"
	HistoryFileName  = "history.db"
	LogFileName      = "openvpn-manager.log"
)

// Default timeouts and limits.
const (
	// PromptTimeout bounds the wait for a privilege-escalation password prompt.
	PromptTimeout = 10 * time.Second
	// AuthGrace is how long the process must survive after the password is sent.
	AuthGrace = 2 * time.Second
	// SettleDelay is the wait after spawn before checking for an early exit.
	SettleDelay = 500 * time.Millisecond
	// TerminateTimeout is the graceful termination window before SIGKILL.
	TerminateTimeout = 5 * time.Second
	// SweepTimeout bounds the kill-by-name cleanup command.
	SweepTimeout = 5 * time.Second
	// InterfaceScanTimeout bounds the interface listing command.
	InterfaceScanTimeout = 2 * time.Second
	// PublicIPTimeout bounds the public IP lookup.
	PublicIPTimeout = 5 * time.Second
	// ResolveTimeout bounds hostname resolution in the config inspector.
	ResolveTimeout = 3 * time.Second
	// LogPollInterval is the read timeout used by the log stream reader.
	LogPollInterval = 100 * time.Millisecond
	// MonitorInterval is how often the connection monitor re-checks liveness.
	MonitorInterval = 2 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// LogCapacity is the number of OpenVPN output lines kept in memory.
const LogCapacity = 1000

// DefaultPublicIPEndpoint returns the caller's IPv4 address as plain text.
const DefaultPublicIPEndpoint = "https://icanhazip.com"

// OpenVPN log markers.
const (
	MarkerInitCompleted = "Initialization Sequence Completed"
	MarkerTunDevice     = "TUN/TAP device"
	MarkerPeerInitiated = "Peer Connection Initiated"
	MarkerAuthFailed    = "AUTH_FAILED"
)
