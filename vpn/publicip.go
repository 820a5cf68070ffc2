package vpn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/yllada/openvpn-manager/common"
)

// PublicIPLookup asks an external endpoint for the host's public IPv4
// address and remembers the last good answer. The cache is shared by all
// connections for the life of the process.
type PublicIPLookup struct {
	endpoint string
	client   *http.Client
	observer func(ok bool)

	mu     sync.Mutex
	cached string
}

// NewPublicIPLookup creates a lookup against endpoint with the given timeout.
func NewPublicIPLookup(endpoint string, timeout time.Duration) *PublicIPLookup {
	if endpoint == "" {
		endpoint = common.DefaultPublicIPEndpoint
	}
	if timeout <= 0 {
		timeout = common.PublicIPTimeout
	}
	return &PublicIPLookup{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// SetObserver registers a callback told whether each lookup succeeded.
func (p *PublicIPLookup) SetObserver(observer func(ok bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = observer
}

// Get returns the current public IP, or the last cached value if the lookup
// fails for any reason. It returns "" if no lookup has ever succeeded.
func (p *PublicIPLookup) Get(ctx context.Context) string {
	ip, err := p.fetch(ctx)

	p.mu.Lock()
	if err == nil {
		p.cached = ip
	}
	result := p.cached
	observer := p.observer
	p.mu.Unlock()

	if observer != nil {
		observer(err == nil)
	}
	if err != nil {
		common.LogDebug("Public IP lookup failed: %v", err)
	}
	return result
}

// Cached returns the last successful result without a network request.
func (p *PublicIPLookup) Cached() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

func (p *PublicIPLookup) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	if !dottedQuad.MatchString(ip) {
		return "", fmt.Errorf("malformed address %q", ip)
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return "", fmt.Errorf("malformed address %q", ip)
	}
	return ip, nil
}
