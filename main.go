// Package main provides the entry point for OpenVPN Manager, a command-line
// client that keeps named OpenVPN profiles and supervises one connection at
// a time.
//
// Usage:
//
//	openvpn-manager [--verbose] [--config FILE] COMMAND
//
// Environment:
//
//	The openvpn binary must be installed. Connecting normally requires sudo.
package main

import (
	"os"

	"github.com/yllada/openvpn-manager/cli"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{
		Version: appVersion,
		Commit:  commitSHA,
		Built:   buildTime,
	}))
}
