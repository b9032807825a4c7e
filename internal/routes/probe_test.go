package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
)

func TestCheckUpstreamPaymentGated(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Payment-Required", "x402")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	prober := NewProber(srv.Client())
	err := prober.CheckUpstream(context.Background(), srv.URL, "/v1/items/:id")
	if err == nil {
		t.Fatal("expected x402 upstream refusal")
	}
	var x402 *ErrX402Upstream
	if !errors.As(err, &x402) {
		t.Fatalf("expected ErrX402Upstream, got %T", err)
	}
	if gotPath != "/v1/items/probe" {
		t.Errorf("probe path %q, want param placeholder substituted", gotPath)
	}
}

func TestCheckUpstreamPlain402Allowed(t *testing.T) {
	// A bare 402 without the x402 signalling header is not treated as a
	// payment-gated upstream.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	prober := NewProber(srv.Client())
	if err := prober.CheckUpstream(context.Background(), srv.URL, "/v1/quote"); err != nil {
		t.Errorf("unexpected refusal: %v", err)
	}
}

func TestCheckUpstreamHealthyAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober := NewProber(srv.Client())
	if err := prober.CheckUpstream(context.Background(), srv.URL, "/v1/quote"); err != nil {
		t.Errorf("unexpected refusal: %v", err)
	}
}

func TestCheckUpstreamUnreachableAllowed(t *testing.T) {
	prober := NewProber(http.DefaultClient)
	// Closed port: transport error means unknown state, route allowed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if err := prober.CheckUpstream(context.Background(), url, "/v1/quote"); err != nil {
		t.Errorf("transport failure should allow the route: %v", err)
	}
}

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, errors.New("connection refused")
}

func TestCheckUpstreamBreakerStopsProbing(t *testing.T) {
	transport := &countingTransport{}
	prober := NewProber(&http.Client{Transport: transport})
	prober.Breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig())

	// Five consecutive transport failures open the upstream_probe breaker.
	for i := 0; i < 5; i++ {
		if err := prober.CheckUpstream(context.Background(), "http://dead.example.com", "/v1/quote"); err != nil {
			t.Fatalf("probe %d: transport failure should allow the route: %v", i, err)
		}
	}
	if transport.calls != 5 {
		t.Fatalf("transport calls = %d, want 5", transport.calls)
	}

	// Open breaker: the route is still allowed but the wire is not touched.
	if err := prober.CheckUpstream(context.Background(), "http://dead.example.com", "/v1/quote"); err != nil {
		t.Errorf("open breaker should allow the route: %v", err)
	}
	if transport.calls != 5 {
		t.Errorf("transport calls = %d after breaker opened, want 5", transport.calls)
	}
}
