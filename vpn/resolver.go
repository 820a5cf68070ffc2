package vpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"github.com/yllada/openvpn-manager/common"
)

// Resolver maps a hostname to a single IPv4 address.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// ErrNoIPv4 is returned when a hostname has no A record.
var ErrNoIPv4 = errors.New("no IPv4 address")

// SystemResolver resolves through the host's configured resolver (nsswitch, /etc/hosts).
type SystemResolver struct {
	resolver *net.Resolver
}

// NewSystemResolver returns a resolver backed by net.DefaultResolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

// LookupIPv4 returns the first IPv4 address for host.
func (r *SystemResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	addrs, err := r.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap().String(), nil
		}
	}
	return "", ErrNoIPv4
}

// DNSResolver sends A queries directly to a list of name servers.
// It is used when the system resolver cannot answer, e.g. when the
// host's resolv.conf points at a tunnel that is not up yet.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver creates a resolver for the given servers. With no servers
// it reads the name servers from /etc/resolv.conf.
func NewDNSResolver(servers []string) *DNSResolver {
	if len(servers) == 0 {
		if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
			for _, s := range cfg.Servers {
				servers = append(servers, net.JoinHostPort(s, cfg.Port))
			}
		}
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	return &DNSResolver{
		servers: normalized,
		client:  &dns.Client{Timeout: common.ResolveTimeout},
	}
}

// LookupIPv4 queries each server in turn and returns the first A record.
func (r *DNSResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	if len(r.servers) == 0 {
		return "", errors.New("no DNS servers configured")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("DNS error: %s", dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, ans := range resp.Answer {
			if rr, ok := ans.(*dns.A); ok {
				if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					return addr.String(), nil
				}
			}
		}
		lastErr = ErrNoIPv4
	}
	return "", lastErr
}

// ChainResolver tries each resolver in order and returns the first answer.
type ChainResolver []Resolver

// LookupIPv4 implements Resolver.
func (c ChainResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	errs := make([]string, 0, len(c))
	for _, r := range c {
		ip, err := r.LookupIPv4(ctx, host)
		if err == nil {
			return ip, nil
		}
		errs = append(errs, err.Error())
	}
	return "", fmt.Errorf("resolve %s: %s", host, strings.Join(errs, "; "))
}

// DefaultResolver returns the system resolver with a direct DNS fallback.
func DefaultResolver(servers []string) Resolver {
	return ChainResolver{NewSystemResolver(), NewDNSResolver(servers)}
}
