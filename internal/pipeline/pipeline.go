// Package pipeline runs every gated request through the fixed admission
// order: API key, agent blocklist, route match, replay check, mandate
// check, payment verify, upstream proxy, payment settle, receipt emit.
// Each stage can short-circuit with a denial; every admitted request
// produces exactly one receipt.
package pipeline

import (
	"crypto/sha256"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/agentblock"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/anchor"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/apikey"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/logger"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/mandate"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/metrics"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/money"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/payment"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/proxy"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/replay"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/spend"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/responders"
)

// Gateway request headers.
const (
	HeaderIdempotencyKey = "X-Request-Idempotency-Key"
	HeaderMandate        = "X-Mandate"
	HeaderMandateConfirm = "X-Mandate-Confirm"
	HeaderPayment        = "X-Payment"
	HeaderAgentAddress   = "X-Agent-Address"
	HeaderReceipt        = receipt.Header
)

// maxBodyBytes bounds inbound bodies; they are buffered for hashing.
const maxBodyBytes = 10 << 20

// AnchorSink accepts settled-receipt digests for off-path on-chain
// anchoring. Enqueue must never block the request path.
type AnchorSink interface {
	Enqueue(digest []byte) (chan anchor.Result, error)
}

// Pipeline holds every stage's collaborator.
type Pipeline struct {
	APIKey    string
	Blocklist *agentblock.Blocklist
	Routes    *routes.Table
	Replay    *replay.Store
	Mandates  *mandate.Verifier
	Payments  *payment.Coordinator
	Proxy     *proxy.Forwarder
	Spend     *spend.Tracker
	Receipts  *receipt.Store
	Anchors   AnchorSink
	Metrics   *metrics.Metrics
}

// Handle runs one request through the full pipeline. The path must
// already have the gated prefix stripped (e.g. "/v1/quote").
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, path string) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		responders.Error(w, http.StatusBadRequest, string(reason.CodeInternalError), "failed to read request body")
		return
	}

	rec := receipt.New(r.Method, path)
	rec.RequestHash = replay.HashRequest(r.Method, path, body)
	emitted := false
	emit := func() {
		if emitted {
			return
		}
		emitted = true
		rec.SetLatency(time.Since(start))
		p.Receipts.Append(rec)
		if p.Metrics != nil {
			p.Metrics.RequestsTotal.WithLabelValues(orDash(rec.ToolID), string(rec.Outcome)).Inc()
			p.Metrics.RequestDuration.WithLabelValues(orDash(rec.ToolID)).Observe(time.Since(start).Seconds())
			if rec.ReasonCode != reason.CodeOK {
				p.Metrics.DenialsTotal.WithLabelValues(string(rec.ReasonCode)).Inc()
			}
			p.Metrics.ReceiptsStored.Set(float64(p.Receipts.Len()))
		}
	}

	deny := func(code reason.Code, explanation string, payload any) {
		rec.Deny(code, explanation)
		emit()
		log.Info().
			Str("reason", string(code)).
			Str("tool_id", rec.ToolID).
			Msg("pipeline.denied")
		p.writeReceiptHeader(w, rec)
		if payload != nil {
			responders.JSON(w, code.HTTPStatus(), payload)
			return
		}
		responders.JSON(w, code.HTTPStatus(), map[string]any{
			"error":      string(code),
			"message":    explanation,
			"request_id": rec.RequestID,
		})
	}

	// Stage 1: gateway API key.
	if !apikey.Match(apikey.FromRequest(r), p.APIKey) {
		deny(reason.CodeUnauthorized, "missing or invalid API key", nil)
		return
	}

	// Stage 2: agent blocklist.
	agentAddr := strings.ToLower(r.Header.Get(HeaderAgentAddress))
	if p.Blocklist.Blocked(agentAddr) {
		deny(reason.CodeAgentBlocked, "agent address is blocked", nil)
		return
	}

	// Stage 3: route match against the current snapshot, held for the
	// rest of the request.
	snap := p.Routes.Snapshot()
	matched, _, ok := snap.Match(r.Method, path)
	if !ok {
		deny(reason.CodeRouteNotFound, "no route registered for "+r.Method+" "+path, nil)
		return
	}
	rec.ToolID = matched.ToolID
	rec.ProviderID = matched.Provider.ID
	price, err := money.ParseUSD(matched.Price)
	if err != nil {
		deny(reason.CodeInternalError, "route price is unreadable", nil)
		return
	}
	rec.PriceUSDC = price
	rec.Chain = p.Payments.Network().CAIP2

	// Stage 4: replay suppression, only when the client opted in with an
	// idempotency key.
	if key := r.Header.Get(HeaderIdempotencyKey); key != "" {
		fp := replay.Fingerprint{IdempotencyKey: key, RequestHash: rec.RequestHash}
		if p.Replay.CheckAndStore(fp) {
			if p.Metrics != nil {
				p.Metrics.ReplayHitsTotal.Inc()
			}
			deny(reason.CodeReplayDetected, "duplicate request within replay window", nil)
			return
		}
	}

	// Stage 5: mandate verification.
	var m *mandate.Mandate
	if header := r.Header.Get(HeaderMandate); header != "" {
		m, err = mandate.Decode(header)
		if err != nil {
			rec.MandateVerdict = string(mandate.VerdictDenied)
			deny(reason.CodeInvalidSignature, "mandate header is unreadable", nil)
			return
		}
		rec.MandateID = m.MandateID
		if hash, err := m.Hash(); err == nil {
			rec.MandateHash = hash
		}
	}
	confirmed := r.Header.Get(HeaderMandateConfirm) != ""
	verdict, code := p.Mandates.Check(m, matched.ToolID, price, confirmed)
	rec.MandateVerdict = string(verdict)
	if p.Metrics != nil {
		p.Metrics.MandateChecksTotal.WithLabelValues(string(verdict)).Inc()
	}
	if verdict == mandate.VerdictDenied {
		deny(code, "mandate check failed: "+string(code), nil)
		return
	}

	// Stage 6: payment quote or verify.
	outcome, err := p.Payments.Require(r.Context(), matched.ToolID, r.Header.Get(HeaderPayment))
	if err != nil {
		deny(reason.CodeInternalError, "payment requirements unavailable", nil)
		return
	}
	switch outcome.State {
	case payment.StateQuoted:
		if p.Metrics != nil {
			p.Metrics.PaymentVerifyTotal.WithLabelValues("challenged").Inc()
		}
		deny(reason.CodeInvalidPayment, "payment required", outcome.Challenge)
		return
	case payment.StateDenied:
		if p.Metrics != nil {
			p.Metrics.PaymentVerifyTotal.WithLabelValues("invalid").Inc()
		}
		deny(reason.CodeInvalidPayment, "payment rejected: "+outcome.InvalidReason, nil)
		return
	}
	if p.Metrics != nil {
		p.Metrics.PaymentVerifyTotal.WithLabelValues("valid").Inc()
	}

	// Stage 7: upstream proxy. Transport failure is never charged.
	upstreamStart := time.Now()
	result, err := p.Proxy.Forward(r.Context(), &matched.Rule, r.Method, path, r.URL.RawQuery, r.Header, body)
	if err != nil {
		rec.Fail(reason.CodeUpstreamErrorNoCharge, "upstream unreachable")
		emit()
		log.Error().Err(err).Str("tool_id", rec.ToolID).Msg("pipeline.upstream_failed")
		p.writeReceiptHeader(w, rec)
		responders.JSON(w, reason.CodeUpstreamErrorNoCharge.HTTPStatus(), map[string]any{
			"error":      string(reason.CodeUpstreamErrorNoCharge),
			"message":    "upstream request failed; no payment was charged",
			"request_id": rec.RequestID,
		})
		return
	}
	if p.Metrics != nil {
		p.Metrics.UpstreamDuration.WithLabelValues(orDash(rec.ProviderID)).Observe(time.Since(upstreamStart).Seconds())
	}
	rec.ResponseHash = result.ResponseHash

	// Stage 8: settle. Failure is soft; the upstream response is still
	// returned with a null tx hash on the receipt.
	settled := p.Payments.Settle(r.Context(), outcome.Payload, outcome.Requirements)
	if settled.TxHash != "" {
		rec.SetTxHash(settled.TxHash)
		if !p.recordSpend(m, outcome.Payer, price) {
			log.Warn().Str("mandate_id", rec.MandateID).Msg("pipeline.spend_over_cap_after_settle")
		}
		if p.Metrics != nil {
			p.Metrics.SettlementsTotal.WithLabelValues("success").Inc()
			amount, _ := price.Float64()
			p.Metrics.SettledUSDC.Add(amount)
		}
		if p.Anchors != nil {
			digest := sha256.Sum256([]byte(rec.RequestID + "\n" + settled.TxHash + "\n" + rec.ResponseHash))
			if _, err := p.Anchors.Enqueue(digest[:]); err != nil {
				log.Debug().Err(err).Msg("pipeline.anchor_enqueue_skipped")
			}
		}
	} else if p.Metrics != nil {
		p.Metrics.SettlementsTotal.WithLabelValues("failed").Inc()
	}

	// Stage 9: receipt emit and response relay.
	rec.Explanation = "request served"
	emit()
	log.Info().
		Str("tool_id", rec.ToolID).
		Int("upstream_status", result.Status).
		Bool("settled", settled.TxHash != "").
		Msg("pipeline.served")

	p.writeReceiptHeader(w, rec)
	for name, values := range result.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// recordSpend charges the settled amount to the mandate when present,
// otherwise to the paying address. Mandate spend goes through the
// tracker's check-and-add so concurrent settlements cannot push a
// budget past its cap even after the admit-time check passed.
func (p *Pipeline) recordSpend(m *mandate.Mandate, payer string, price decimal.Decimal) bool {
	switch {
	case m != nil:
		cap, err := m.MaxSpend()
		if err != nil {
			return false
		}
		return p.Spend.RecordIfUnder(m.MandateID, price, cap)
	case payer != "":
		p.Spend.Record(strings.ToLower(payer), price)
	}
	return true
}

func (p *Pipeline) writeReceiptHeader(w http.ResponseWriter, rec *receipt.Receipt) {
	if encoded, err := rec.EncodeHeader(); err == nil {
		w.Header().Set(HeaderReceipt, encoded)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
