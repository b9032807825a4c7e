// Package mandate implements AP2 spending mandates: signed
// authorizations that let an agent spend up to a daily cap on an
// allowlisted set of tools. The gateway never stores a mandate; it rides
// on every request and its authority is its signature.
package mandate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mandate is the decoded X-Mandate header payload.
type Mandate struct {
	MandateID          string   `json:"mandate_id"`
	OwnerPubkey        string   `json:"owner_pubkey"`
	ExpiresAt          string   `json:"expires_at"`
	MaxSpendUSDCPerDay string   `json:"max_spend_usdc_per_day"`
	AllowlistedToolIDs []string `json:"allowlisted_tool_ids"`
	ConfirmOver        string   `json:"require_user_confirm_for_price_over,omitempty"`
	Signature          string   `json:"signature"`
}

// Decode parses a base64-encoded mandate header value.
func Decode(headerValue string) (*Mandate, error) {
	raw, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, fmt.Errorf("mandate: decode header: %w", err)
	}
	var m Mandate
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("mandate: parse payload: %w", err)
	}
	if m.MandateID == "" || m.OwnerPubkey == "" || m.ExpiresAt == "" {
		return nil, fmt.Errorf("mandate: missing required fields")
	}
	return &m, nil
}

// Encode serializes the mandate into header form. Used by tests and
// client tooling.
func (m *Mandate) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("mandate: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Expiry parses the expires_at timestamp.
func (m *Mandate) Expiry() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, m.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("mandate: parse expires_at %q: %w", m.ExpiresAt, err)
	}
	return ts, nil
}

// MaxSpend parses the daily cap.
func (m *Mandate) MaxSpend() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(m.MaxSpendUSDCPerDay)
	if err != nil {
		return decimal.Zero, fmt.Errorf("mandate: parse max_spend_usdc_per_day %q: %w", m.MaxSpendUSDCPerDay, err)
	}
	return v, nil
}

// Allows reports whether the tool id is allowlisted.
func (m *Mandate) Allows(toolID string) bool {
	for _, id := range m.AllowlistedToolIDs {
		if id == toolID {
			return true
		}
	}
	return false
}

// SigningPayload is the canonical byte-exact preimage for the EIP-191
// signature: pipe-joined fields in fixed order, with the owner address
// lowercased, the expiry normalized to RFC 3339 UTC, the tool ids sorted
// and comma-joined, and the confirm threshold empty when absent. The
// signature field itself is excluded. Two semantically equal mandates
// always produce identical payload bytes.
func (m *Mandate) SigningPayload() (string, error) {
	expiry, err := m.Expiry()
	if err != nil {
		return "", err
	}

	tools := make([]string, len(m.AllowlistedToolIDs))
	copy(tools, m.AllowlistedToolIDs)
	sort.Strings(tools)

	parts := []string{
		m.MandateID,
		strings.ToLower(m.OwnerPubkey),
		expiry.UTC().Format(time.RFC3339),
		m.MaxSpendUSDCPerDay,
		strings.Join(tools, ","),
		m.ConfirmOver,
	}
	return strings.Join(parts, "|"), nil
}

// Hash returns the hex SHA-256 of the canonical payload, used to
// reference the mandate in receipts without storing it.
func (m *Mandate) Hash() (string, error) {
	payload, err := m.SigningPayload()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}
