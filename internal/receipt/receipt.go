// Package receipt builds and stores the signed record emitted for every
// admitted request, successful or not.
package receipt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
)

// Outcome classifies the terminal state of a request.
// Header carries the encoded receipt on every gated response.
const Header = "X-Receipt"

type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeDenied   Outcome = "DENIED"
	OutcomeError    Outcome = "ERROR"
	OutcomeRefunded Outcome = "REFUNDED"
)

// Receipt is the structured record for one request. Exactly one is
// emitted per admitted request.
type Receipt struct {
	RequestID            string          `json:"request_id"`
	ToolID               string          `json:"tool_id,omitempty"`
	ProviderID           string          `json:"provider_id,omitempty"`
	Endpoint             string          `json:"endpoint"`
	Method               string          `json:"method"`
	Timestamp            time.Time       `json:"timestamp"`
	PriceUSDC            decimal.Decimal `json:"price_usdc"`
	Chain                string          `json:"chain,omitempty"`
	MandateID            string          `json:"mandate_id,omitempty"`
	MandateHash          string          `json:"mandate_hash,omitempty"`
	MandateVerdict       string          `json:"mandate_verdict"`
	ReasonCode           reason.Code     `json:"reason_code"`
	PaymentTxHash        *string         `json:"payment_tx_hash"`
	FacilitatorReceiptID string          `json:"facilitator_receipt_id,omitempty"`
	RequestHash          string          `json:"request_hash"`
	ResponseHash         string          `json:"response_hash,omitempty"`
	LatencyMS            *int64          `json:"latency_ms,omitempty"`
	Outcome              Outcome         `json:"outcome"`
	Explanation          string          `json:"explanation"`
}

// New starts a receipt for a freshly admitted request.
func New(method, endpoint string) *Receipt {
	return &Receipt{
		RequestID:      uuid.NewString(),
		Method:         method,
		Endpoint:       endpoint,
		Timestamp:      time.Now().UTC(),
		MandateVerdict: "SKIPPED",
		ReasonCode:     reason.CodeOK,
		Outcome:        OutcomeSuccess,
	}
}

// Deny marks the receipt as a pipeline denial.
func (r *Receipt) Deny(code reason.Code, explanation string) *Receipt {
	r.Outcome = OutcomeDenied
	r.ReasonCode = code
	r.Explanation = explanation
	return r
}

// Fail marks the receipt as an upstream or internal error.
func (r *Receipt) Fail(code reason.Code, explanation string) *Receipt {
	r.Outcome = OutcomeError
	r.ReasonCode = code
	r.Explanation = explanation
	return r
}

// SetTxHash records a successful settlement.
func (r *Receipt) SetTxHash(tx string) {
	if tx != "" {
		r.PaymentTxHash = &tx
	}
}

// SetLatency records the wall-clock duration of the request.
func (r *Receipt) SetLatency(d time.Duration) {
	ms := d.Milliseconds()
	r.LatencyMS = &ms
}

// EncodeHeader serializes the receipt for the X-Receipt response header.
func (r *Receipt) EncodeHeader() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("receipt: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
