package vpn

import (
	"context"
	"os"
	"regexp"

	"github.com/yllada/openvpn-manager/common"
)

var (
	// remoteDirective matches a line whose first token is "remote".
	remoteDirective = regexp.MustCompile(`(?m)^\s*remote\s+(\S+)`)
	// remoteLoose finds "remote <host>" anywhere, for configs where the
	// directive is not at the start of a line.
	remoteLoose = regexp.MustCompile(`(?i)remote\s+([a-zA-Z0-9.-]+)`)
	dottedQuad  = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
)

// Inspector extracts the server address from an OpenVPN configuration file.
type Inspector struct {
	resolver Resolver
}

// NewInspector creates an inspector. A nil resolver leaves hostnames unresolved.
func NewInspector(resolver Resolver) *Inspector {
	return &Inspector{resolver: resolver}
}

// ServerAddress returns the address named by the first remote directive in
// the file at path. Hostnames are resolved to IPv4 when possible and returned
// as-is otherwise. An empty string means no address could be found; read
// errors are not reported.
func (i *Inspector) ServerAddress(ctx context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		common.LogDebug("Could not read config %s: %v", path, err)
		return ""
	}
	content := string(data)

	if m := remoteDirective.FindStringSubmatch(content); m != nil {
		return i.hostToAddress(ctx, m[1])
	}
	if m := remoteLoose.FindStringSubmatch(content); m != nil {
		return i.hostToAddress(ctx, m[1])
	}
	return ""
}

func (i *Inspector) hostToAddress(ctx context.Context, host string) string {
	if dottedQuad.MatchString(host) {
		return host
	}
	if i.resolver == nil {
		return host
	}

	ctx, cancel := context.WithTimeout(ctx, common.ResolveTimeout)
	defer cancel()

	ip, err := i.resolver.LookupIPv4(ctx, host)
	if err != nil || ip == "" {
		common.LogDebug("Could not resolve %s: %v", host, err)
		return host
	}
	return ip
}
