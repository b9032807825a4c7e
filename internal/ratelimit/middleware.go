// Package ratelimit layers three limiter tiers over the gated surface:
// a global ceiling, a per-agent-address limit, and a per-IP fallback for
// requests that carry no agent identity.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/metrics"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/responders"
)

// Config holds the limits for each tier.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerAgentEnabled bool
	PerAgentLimit   int
	PerAgentWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration
}

// DefaultConfig keeps obvious spam out without restricting paying
// agents.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerAgentEnabled: true,
		PerAgentLimit:   60,
		PerAgentWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// limitHandler answers a throttled request. It emits the denial receipt
// itself because the pipeline never sees a throttled request.
func limitHandler(tier string, windowSeconds int, receipts *receipt.Store, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := receipt.New(r.Method, strings.TrimPrefix(r.URL.Path, "/api"))
		rec.Deny(reason.CodeRateLimited, "too many requests, slow down")
		if receipts != nil {
			receipts.Append(rec)
		}
		if m != nil {
			m.RateLimitHitsTotal.WithLabelValues(tier).Inc()
			m.DenialsTotal.WithLabelValues(string(reason.CodeRateLimited)).Inc()
			if receipts != nil {
				m.ReceiptsStored.Set(float64(receipts.Len()))
			}
		}
		if encoded, err := rec.EncodeHeader(); err == nil {
			w.Header().Set(receipt.Header, encoded)
		}
		w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
		responders.JSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               string(reason.CodeRateLimited),
			"message":             "too many requests, slow down",
			"request_id":          rec.RequestID,
			"retry_after_seconds": windowSeconds,
		})
	}
}

// agentKey keys the per-agent tier on the lowercased agent address,
// falling back to the remote IP when the header is absent.
func agentKey(r *http.Request) (string, error) {
	if addr := r.Header.Get("X-Agent-Address"); addr != "" {
		return "agent:" + strings.ToLower(addr), nil
	}
	return httprate.KeyByIP(r)
}

// Middleware returns the limiter chain in outermost-first order.
func Middleware(cfg Config, receipts *receipt.Store, m *metrics.Metrics) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler

	if cfg.GlobalEnabled {
		chain = append(chain, httprate.Limit(
			cfg.GlobalLimit,
			cfg.GlobalWindow,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return "global", nil }),
			httprate.WithLimitHandler(limitHandler("global", int(cfg.GlobalWindow.Seconds()), receipts, m)),
		))
	}

	if cfg.PerAgentEnabled {
		chain = append(chain, httprate.Limit(
			cfg.PerAgentLimit,
			cfg.PerAgentWindow,
			httprate.WithKeyFuncs(agentKey),
			httprate.WithLimitHandler(limitHandler("per_agent", int(cfg.PerAgentWindow.Seconds()), receipts, m)),
		))
	}

	if cfg.PerIPEnabled {
		chain = append(chain, httprate.Limit(
			cfg.PerIPLimit,
			cfg.PerIPWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(limitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), receipts, m)),
		))
	}

	return chain
}
