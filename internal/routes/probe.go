package routes

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
)

// ErrX402Upstream marks an upstream that already charges via x402 itself.
// Registering such a route would let the gateway collect a middleman
// markup on top of an already-paid API, so registration is refused.
type ErrX402Upstream struct {
	URL    string
	Status int
}

func (e *ErrX402Upstream) Error() string {
	return fmt.Sprintf("routes: upstream %s already requires x402 payment (status %d)", e.URL, e.Status)
}

// Prober checks a candidate route's upstream at register time. When a
// breaker manager is set, probe requests run behind the upstream_probe
// breaker.
type Prober struct {
	Client   *http.Client
	Timeout  time.Duration
	Breakers *circuitbreaker.Manager
}

// NewProber builds a prober with a short default timeout.
func NewProber(client *http.Client) *Prober {
	return &Prober{Client: client, Timeout: 3 * time.Second}
}

// probePlaceholder substitutes :name path parameters for the probe URL.
const probePlaceholder = "probe"

// CheckUpstream issues a GET against the upstream probe path. A 402
// response carrying a Payment-Required header means the upstream is
// itself x402-gated and the route is refused. Transport errors are
// treated as unknown and allow the route.
func (p *Prober) CheckUpstream(ctx context.Context, backendURL, path string) error {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = probePlaceholder
		}
	}
	probeURL := strings.TrimSuffix(backendURL, "/") + "/" + strings.Join(segments, "/")

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil
	}

	resp, err := p.do(req)
	if err != nil {
		// Unknown upstream state allows the route; the proxy will surface
		// real failures at request time. An open breaker lands here too.
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired && resp.Header.Get("Payment-Required") != "" {
		return &ErrX402Upstream{URL: probeURL, Status: resp.StatusCode}
	}
	return nil
}

func (p *Prober) do(req *http.Request) (*http.Response, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	if p.Breakers == nil {
		return client.Do(req)
	}
	out, err := p.Breakers.Execute(circuitbreaker.ServiceProbe, func() (any, error) {
		return client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}
