// Package common provides shared constants, types, utilities, and interfaces
// used throughout the OpenVPN Manager application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: timeouts, file names, OpenVPN log markers
//   - Errors: sentinel errors checked with errors.Is
//   - Interfaces: Notifier and SessionRecorder hooks used by the vpn package
//   - Logger: leveled logging with size-based file rotation
//   - Utils: configuration directory lookup and atomic file writes
//
// # Usage
//
//	common.LogInfo("Starting connection to %s", profileName)
//
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
