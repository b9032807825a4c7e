package ratelimit

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/metrics"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
)

func buildHandler(cfg Config, receipts *receipt.Store) http.Handler {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	chain := Middleware(cfg, receipts, metrics.New(prometheus.NewRegistry()))
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

func TestPerAgentLimit(t *testing.T) {
	cfg := Config{
		PerAgentEnabled: true,
		PerAgentLimit:   3,
		PerAgentWindow:  time.Minute,
	}
	handler := buildHandler(cfg, receipt.NewStore(100))

	do := func(agent string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
		r.Header.Set("X-Agent-Address", agent)
		r.RemoteAddr = "10.1.2.3:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		if code := do("0xAAA"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("0xAAA"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit request: status %d, want 429", code)
	}

	// Case variations of the same address share a bucket.
	if code := do("0xaaa"); code != http.StatusTooManyRequests {
		t.Errorf("case-variant address escaped the bucket: status %d", code)
	}

	// A different agent has its own budget.
	if code := do("0xBBB"); code != http.StatusOK {
		t.Errorf("other agent limited: status %d", code)
	}
}

func TestGlobalLimit(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   2,
		GlobalWindow:  time.Minute,
	}
	handler := buildHandler(cfg, receipt.NewStore(100))

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
		r.RemoteAddr = "10.0.0.1:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}

	// Third request trips the global ceiling even from a new client.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
	r.RemoteAddr = "10.9.9.9:2000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("global ceiling not enforced: status %d", w.Code)
	}
}

func TestThrottledRequestEmitsReceipt(t *testing.T) {
	receipts := receipt.NewStore(100)
	handler := buildHandler(Config{
		PerIPEnabled: true,
		PerIPLimit:   1,
		PerIPWindow:  time.Minute,
	}, receipts)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
	r.RemoteAddr = "10.4.4.4:4000"
	handler.ServeHTTP(httptest.NewRecorder(), r)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
	r.RemoteAddr = "10.4.4.4:4000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want %q", got, "60")
	}

	encoded := w.Header().Get(receipt.Header)
	if encoded == "" {
		t.Fatal("throttled response has no receipt header")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode receipt header: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("parse receipt: %v", err)
	}
	if rec["reason_code"] != "RATE_LIMITED" || rec["outcome"] != "DENIED" {
		t.Errorf("receipt = %v, want RATE_LIMITED denial", rec)
	}
	if rec["endpoint"] != "/v1/quote" {
		t.Errorf("endpoint = %v, want /v1/quote", rec["endpoint"])
	}
	if receipts.Len() != 1 {
		t.Errorf("stored receipts = %d, want 1", receipts.Len())
	}
}

func TestDisabledTiersPassThrough(t *testing.T) {
	handler := buildHandler(Config{}, receipt.NewStore(100))
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}
