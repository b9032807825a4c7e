package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/x402"
)

type stubFacilitator struct {
	verify    *x402.VerifyResponse
	verifyErr error
	settle    *x402.SettleResponse
	settleErr error

	lastReqs *x402.PaymentRequirements
}

func (s *stubFacilitator) Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	s.lastReqs = reqs
	return s.verify, s.verifyErr
}

func (s *stubFacilitator) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	return s.settle, s.settleErr
}

func quoteRule() routes.Rule {
	return routes.Rule{
		Method:      "GET",
		Path:        "/v1/quote",
		ToolID:      "quote",
		Price:       "0.01",
		Description: "quote lookup",
		Provider:    routes.Provider{ID: "quotes", BackendURL: "https://quotes.example.com"},
	}
}

func newCoordinator(t *testing.T, fac Facilitator) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(fac, "base-sepolia", "0x9999999999999999999999999999999999999999", "https://gateway.example.com/api", zerolog.Nop())
	require.NoError(t, err)
	c.RoutesUpdated([]routes.Rule{quoteRule()})
	return c
}

func encodedPayment(t *testing.T) string {
	t.Helper()
	p := &x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     "eip155:84532",
		Payload: &x402.ExactEvmPayload{
			Signature:     "0xsig",
			Authorization: &x402.ExactEvmPayloadAuthorization{From: "0x1", To: "0x2", Value: "10000"},
		},
	}
	encoded, err := p.Encode()
	require.NoError(t, err)
	return encoded
}

func TestNewCoordinatorValidation(t *testing.T) {
	_, err := NewCoordinator(&stubFacilitator{}, "unknown-net", "0x9", "https://g", zerolog.Nop())
	require.Error(t, err)

	_, err = NewCoordinator(&stubFacilitator{}, "base", "", "https://g", zerolog.Nop())
	require.Error(t, err)
}

func TestRequirementCompiled(t *testing.T) {
	c := newCoordinator(t, &stubFacilitator{})

	reqs, ok := c.Requirement("quote")
	require.True(t, ok)
	require.Equal(t, x402.SchemeExact, reqs.Scheme)
	require.Equal(t, "eip155:84532", reqs.Network)
	require.Equal(t, "10000", reqs.MaxAmountRequired)
	require.Equal(t, "0x9999999999999999999999999999999999999999", reqs.PayTo)
	require.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", reqs.Asset)
	require.Equal(t, "https://gateway.example.com/api/v1/quote", reqs.Resource)

	_, ok = c.Requirement("ghost")
	require.False(t, ok)
}

func TestRoutesUpdatedReplacesMap(t *testing.T) {
	c := newCoordinator(t, &stubFacilitator{})

	repriced := quoteRule()
	repriced.Price = "0.25"
	c.RoutesUpdated([]routes.Rule{repriced})

	reqs, ok := c.Requirement("quote")
	require.True(t, ok)
	require.Equal(t, "250000", reqs.MaxAmountRequired)

	c.RoutesUpdated(nil)
	_, ok = c.Requirement("quote")
	require.False(t, ok)
}

func TestRequireNoHeaderQuotes(t *testing.T) {
	c := newCoordinator(t, &stubFacilitator{})

	out, err := c.Require(context.Background(), "quote", "")
	require.NoError(t, err)
	require.Equal(t, StateQuoted, out.State)
	require.Len(t, out.Challenge.Accepts, 1)

	accept := out.Challenge.Accepts[0]
	require.Equal(t, "$0.01", accept.Price)
	require.Equal(t, "eip155:84532", accept.Network)
	require.Equal(t, "0x9999999999999999999999999999999999999999", accept.PayTo)
}

func TestRequireVerified(t *testing.T) {
	fac := &stubFacilitator{verify: &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}}
	c := newCoordinator(t, fac)

	out, err := c.Require(context.Background(), "quote", encodedPayment(t))
	require.NoError(t, err)
	require.Equal(t, StateVerified, out.State)
	require.Equal(t, "0xpayer", out.Payer)
	require.NotNil(t, out.Payload)
	require.Equal(t, "10000", fac.lastReqs.MaxAmountRequired)
}

func TestRequireFacilitatorRejects(t *testing.T) {
	fac := &stubFacilitator{verify: &x402.VerifyResponse{IsValid: false, InvalidReason: "expired authorization"}}
	c := newCoordinator(t, fac)

	out, err := c.Require(context.Background(), "quote", encodedPayment(t))
	require.NoError(t, err)
	require.Equal(t, StateDenied, out.State)
	require.Equal(t, "expired authorization", out.InvalidReason)
}

func TestRequireMalformedHeader(t *testing.T) {
	c := newCoordinator(t, &stubFacilitator{})

	out, err := c.Require(context.Background(), "quote", "!!not-base64!!")
	require.NoError(t, err)
	require.Equal(t, StateDenied, out.State)
}

func TestRequireFacilitatorDown(t *testing.T) {
	fac := &stubFacilitator{verifyErr: errors.New("connection refused")}
	c := newCoordinator(t, fac)

	out, err := c.Require(context.Background(), "quote", encodedPayment(t))
	require.NoError(t, err)
	require.Equal(t, StateDenied, out.State)
	require.Equal(t, "facilitator unavailable", out.InvalidReason)
}

func TestRequireUnknownTool(t *testing.T) {
	c := newCoordinator(t, &stubFacilitator{})
	_, err := c.Require(context.Background(), "ghost", "")
	require.Error(t, err)
}

func TestSettleSuccess(t *testing.T) {
	fac := &stubFacilitator{settle: &x402.SettleResponse{
		Success:     true,
		Transaction: "0xfeed",
		Network:     "eip155:84532",
		Payer:       "0xpayer",
	}}
	c := newCoordinator(t, fac)

	result := c.Settle(context.Background(), &x402.PaymentPayload{}, &x402.PaymentRequirements{})
	require.Equal(t, "0xfeed", result.TxHash)
	require.Equal(t, "eip155:84532", result.Network)
}

func TestSettleSoftFailure(t *testing.T) {
	for _, fac := range []*stubFacilitator{
		{settleErr: errors.New("timeout")},
		{settle: &x402.SettleResponse{Success: false, ErrorReason: "nonce used"}},
	} {
		c := newCoordinator(t, fac)
		result := c.Settle(context.Background(), &x402.PaymentPayload{}, &x402.PaymentRequirements{})
		require.Empty(t, result.TxHash)
	}
}
