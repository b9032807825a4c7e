// Package x402 implements the HTTP 402 payment protocol types and the
// facilitator client used to verify and settle USDC payments.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the x402 wire version this gateway speaks.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme supported: the payer authorizes
// the exact quoted amount.
const SchemeExact = "exact"

// PaymentRequirements describes what a resource costs. It is sent to the
// client inside the 402 challenge and to the facilitator on verify and
// settle.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string `json:"asset"`
}

// ExactEvmPayloadAuthorization carries the EIP-3009 transfer
// authorization fields, all as decimal or hex strings per the wire
// format.
type ExactEvmPayloadAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the signed authorization for the exact scheme on
// EVM networks.
type ExactEvmPayload struct {
	Signature     string                        `json:"signature"`
	Authorization *ExactEvmPayloadAuthorization `json:"authorization"`
}

// PaymentPayload is the decoded X-Payment header.
type PaymentPayload struct {
	X402Version int              `json:"x402Version"`
	Scheme      string           `json:"scheme"`
	Network     string           `json:"network"`
	Payload     *ExactEvmPayload `json:"payload"`
}

// DecodePaymentHeader parses a base64-encoded X-Payment header value.
func DecodePaymentHeader(headerValue string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, fmt.Errorf("x402: decode payment header: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("x402: parse payment payload: %w", err)
	}
	if p.Scheme == "" || p.Network == "" || p.Payload == nil {
		return nil, fmt.Errorf("x402: payment payload missing required fields")
	}
	return &p, nil
}

// Encode serializes the payload into header form.
func (p *PaymentPayload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyResponse is the facilitator's verdict on a payment payload.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's settlement result.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind names one (version, scheme, network) triple the
// facilitator can process.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the facilitator's capability listing.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// facilitatorRequest is the body for verify and settle calls.
type facilitatorRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// ChallengeAccept is one entry in the 402 challenge body: the quoted
// price in human USD form alongside the network and receiving address.
type ChallengeAccept struct {
	Scheme  string `json:"scheme"`
	Price   string `json:"price"`
	Network string `json:"network"`
	PayTo   string `json:"payTo"`
}

// Challenge is the 402 response body. Clients resubmit with a filled
// X-Payment header.
type Challenge struct {
	Accepts     []ChallengeAccept `json:"accepts"`
	Description string            `json:"description,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
}
