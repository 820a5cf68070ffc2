// Package vpn provides OpenVPN connection management for OpenVPN Manager.
//
// This package implements the core functionality:
//
//   - Profile management: named configurations persisted as one JSON file
//   - Config inspection: deriving a profile's server address from its config
//   - Process supervision: launching, watching and stopping the openvpn child
//   - Log streaming: capturing the child's output into a bounded buffer
//   - IP discovery: tunnel address from the interface list, public address
//     from an external endpoint
//
// # Architecture
//
// The package is organized around a few main types:
//
//   - Manager: owns the single current connection and its log buffer
//   - ProfileStore: loads and saves profiles
//   - Inspector: finds the remote directive in a config file
//   - Process: a running child with a pipe or pseudo-terminal for output
//   - Monitor: notices a dead process and optionally reconnects
//
// # Connection Flow
//
//  1. Caller invokes Manager.Connect with a profile name and optional password
//  2. With a password the child starts on a pseudo-terminal and the
//     escalation prompt is answered; otherwise it starts on a pipe
//  3. A reader goroutine drains output into the log buffer line by line
//  4. "Initialization Sequence Completed" marks the tunnel established and
//     triggers a scan for the tun/tap address
//  5. Manager.Disconnect signals the process group and clears state
//
// # Thread Safety
//
// Manager is safe for concurrent use. One mutex guards the log buffer and
// connection state; Connect and Disconnect are additionally serialised.
package vpn
