package vpn

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/yllada/openvpn-manager/common"
)

// lineEvent is what a log line means for connection tracking.
type lineEvent int

const (
	lineOther lineEvent = iota
	lineEstablished
	lineTunDevice
	linePeerInitiated
	lineAuthFailed
)

// classifyLine recognises the OpenVPN log markers the manager reacts to.
func classifyLine(line string) lineEvent {
	switch {
	case strings.Contains(line, common.MarkerInitCompleted):
		return lineEstablished
	case strings.Contains(line, common.MarkerTunDevice):
		return lineTunDevice
	case strings.Contains(line, common.MarkerAuthFailed):
		return lineAuthFailed
	case strings.Contains(line, common.MarkerPeerInitiated):
		return linePeerInitiated
	default:
		return lineOther
	}
}

// InterfaceLister returns the host's interface listing in `ip addr` format.
type InterfaceLister interface {
	ListInterfaces(ctx context.Context) (string, error)
}

// InterfaceListerFunc adapts a function to InterfaceLister.
type InterfaceListerFunc func(ctx context.Context) (string, error)

// ListInterfaces calls f.
func (f InterfaceListerFunc) ListInterfaces(ctx context.Context) (string, error) {
	return f(ctx)
}

// CommandInterfaceLister runs `ip addr show`.
type CommandInterfaceLister struct{}

// ListInterfaces implements InterfaceLister.
func (CommandInterfaceLister) ListInterfaces(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "addr", "show").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var (
	// "3: tun0: <POINTOPOINT,...>" or "4: veth1@if5: <...>"
	interfaceHeader = regexp.MustCompile(`^\d+:\s+([\w.-]+)(?:@\S+)?:`)
	inetAddress     = regexp.MustCompile(`^\s*inet\s+(\d{1,3}(?:\.\d{1,3}){3})`)
)

// ParseTunnelIP returns the first IPv4 address listed under a tun or tap
// interface, or "" when there is none.
func ParseTunnelIP(listing string) string {
	current := ""
	for _, line := range strings.Split(listing, "\n") {
		if m := interfaceHeader.FindStringSubmatch(line); m != nil {
			current = m[1]
			continue
		}
		if !isTunnelInterface(current) {
			continue
		}
		if m := inetAddress.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

func isTunnelInterface(name string) bool {
	return strings.Contains(name, "tun") || strings.Contains(name, "tap")
}
