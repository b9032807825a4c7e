package mandate

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/spend"
)

// Verdict is the mandate check outcome recorded on every receipt.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictDenied   Verdict = "DENIED"
	VerdictSkipped  Verdict = "SKIPPED"
)

// SpendReader exposes the current day's settled spend for a mandate.
type SpendReader interface {
	Totals(mandateID string) spend.Totals
}

// Verifier runs the ordered mandate checks.
type Verifier struct {
	spend SpendReader
	now   func() time.Time
}

// NewVerifier builds a verifier backed by the given spend reader.
func NewVerifier(spend SpendReader) *Verifier {
	return &Verifier{spend: spend, now: time.Now}
}

// Check runs the checks in order, short-circuiting on the first failure:
// expiry, tool allowlist, confirmation threshold, daily budget,
// signature. A nil mandate yields SKIPPED. On APPROVED nothing is
// recorded; spend is recorded only after settlement succeeds.
func (v *Verifier) Check(m *Mandate, toolID string, price decimal.Decimal, confirmed bool) (Verdict, reason.Code) {
	if m == nil {
		return VerdictSkipped, reason.CodeOK
	}

	expiry, err := m.Expiry()
	if err != nil || !expiry.After(v.now()) {
		return VerdictDenied, reason.CodeMandateExpired
	}

	if !m.Allows(toolID) {
		return VerdictDenied, reason.CodeEndpointNotAllowlisted
	}

	if m.ConfirmOver != "" && !confirmed {
		threshold, err := decimal.NewFromString(m.ConfirmOver)
		if err != nil || price.GreaterThan(threshold) {
			return VerdictDenied, reason.CodeMandateConfirmRequired
		}
	}

	cap, err := m.MaxSpend()
	if err != nil {
		return VerdictDenied, reason.CodeMandateBudgetExceeded
	}
	spent := v.spend.Totals(m.MandateID).DaySpend
	if spent.Add(price).GreaterThan(cap) {
		return VerdictDenied, reason.CodeMandateBudgetExceeded
	}

	if err := v.verifySignature(m); err != nil {
		return VerdictDenied, reason.CodeInvalidSignature
	}

	return VerdictApproved, reason.CodeOK
}

// verifySignature recovers the EIP-191 personal-message signer of the
// canonical payload and compares it to owner_pubkey, case-insensitively.
func (v *Verifier) verifySignature(m *Mandate) error {
	payload, err := m.SigningPayload()
	if err != nil {
		return err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(m.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("mandate: decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("mandate: signature length %d, want %d", len(sig), crypto.SignatureLength)
	}

	// Wallets emit V as 27/28; secp256k1 recovery wants 0/1.
	recovery := make([]byte, crypto.SignatureLength)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(payload)), recovery)
	if err != nil {
		return fmt.Errorf("mandate: recover signer: %w", err)
	}

	signer := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(signer, m.OwnerPubkey) {
		return fmt.Errorf("mandate: signer %s does not match owner %s", signer, m.OwnerPubkey)
	}
	return nil
}
