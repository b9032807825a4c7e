package routes

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// LookupFunc resolves a hostname to addresses. Swappable in tests.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// SSRFGuard refuses backend URLs that resolve to private or reserved
// address space, keeping a compromised admin credential from pointing a
// route at the gateway's own network.
type SSRFGuard struct {
	Lookup  LookupFunc
	Timeout time.Duration
}

// NewSSRFGuard builds a guard with the default resolver.
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{Lookup: defaultLookup, Timeout: 3 * time.Second}
}

// CheckBackendURL resolves the URL's host and returns an error when any
// resolved address is non-public. Applied at route compile time unless
// the rule carries skip_ssrf_check.
func (g *SSRFGuard) CheckBackendURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("routes: parse backend url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("routes: backend url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("routes: backend url %q: missing host", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := classifyIP(ip); reason != "" {
			return fmt.Errorf("routes: backend host %s is %s", host, reason)
		}
		return nil
	}

	lookupCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	lookup := g.Lookup
	if lookup == nil {
		lookup = defaultLookup
	}
	ips, err := lookup(lookupCtx, host)
	if err != nil {
		return fmt.Errorf("routes: resolve backend host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("routes: backend host %q resolved to no addresses", host)
	}
	for _, ip := range ips {
		if reason := classifyIP(ip); reason != "" {
			return fmt.Errorf("routes: backend host %s resolves to %s (%s)", host, ip, reason)
		}
	}
	return nil
}

var (
	cgnatNet    = mustCIDR("100.64.0.0/10")
	reservedNet = mustCIDR("240.0.0.0/4")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// classifyIP names the blocked range an address falls in, or returns ""
// for public addresses. Covers IPv4 and IPv6.
func classifyIP(ip net.IP) string {
	switch {
	case ip.IsUnspecified():
		return "unspecified"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsMulticast():
		return "multicast"
	case ip.IsPrivate():
		return "private (RFC1918 / ULA)"
	case cgnatNet.Contains(ip):
		return "carrier-grade NAT"
	case ip.To4() != nil && reservedNet.Contains(ip):
		return "reserved"
	}
	return ""
}
