// Package proxy forwards admitted requests to the route's upstream with
// strict header hygiene: payment and mandate material never leaves the
// gateway, and provider credentials are injected only here.
package proxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
)

// hopByHop headers are connection-scoped and must not be forwarded.
var hopByHop = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"transfer-encoding":   {},
	"content-length":      {},
	"keep-alive":          {},
	"upgrade":             {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
}

// internalHeaders are gateway-defined and carry payment, mandate, or
// auth material that upstreams must never see.
var internalHeaders = map[string]struct{}{
	"x-request-idempotency-key": {},
	"x-mandate":                 {},
	"x-mandate-confirm":         {},
	"x-payment":                 {},
	"x-receipt":                 {},
	"x-agent-address":           {},
	"x-api-key":                 {},
	"authorization":             {},
}

// ErrUpstream marks a transport-level failure reaching the upstream.
// These requests are never charged.
type ErrUpstream struct {
	URL string
	Err error
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("proxy: upstream %s: %v", e.URL, e.Err)
}

func (e *ErrUpstream) Unwrap() error { return e.Err }

// Result is the upstream response with its body fully read and hashed.
type Result struct {
	Status       int
	Header       http.Header
	Body         []byte
	ResponseHash string
}

// Forwarder issues upstream requests for matched routes.
type Forwarder struct {
	Client *http.Client
}

// NewForwarder builds a forwarder over the shared pooled client.
func NewForwarder(client *http.Client) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Forwarder{Client: client}
}

// Forward sends the request to the rule's backend. The upstream URL is
// backend_url + path + query. Upstream non-2xx statuses are returned as
// results, not errors; only transport failures error.
func (f *Forwarder) Forward(ctx context.Context, rule *routes.Rule, method, path, rawQuery string, header http.Header, body []byte) (*Result, error) {
	upstreamURL := strings.TrimSuffix(rule.Provider.BackendURL, "/") + path
	if rawQuery != "" {
		upstreamURL += "?" + rawQuery
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, upstreamURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("proxy: build upstream request: %w", err)
	}

	req.Header = filterHeaders(header)
	if auth := rule.Provider.Auth; auth != nil {
		req.Header.Set(auth.Header, auth.Value)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &ErrUpstream{URL: upstreamURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrUpstream{URL: upstreamURL, Err: err}
	}

	sum := sha256.Sum256(respBody)
	return &Result{
		Status:       resp.StatusCode,
		Header:       resp.Header.Clone(),
		Body:         respBody,
		ResponseHash: hex.EncodeToString(sum[:]),
	}, nil
}

// filterHeaders copies the inbound headers minus the hop-by-hop and
// internal sets. Multi-valued headers are joined with ", " so upstreams
// see one canonical value line.
func filterHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		lower := strings.ToLower(name)
		if _, drop := hopByHop[lower]; drop {
			continue
		}
		if _, drop := internalHeaders[lower]; drop {
			continue
		}
		out.Set(name, strings.Join(values, ", "))
	}
	return out
}
