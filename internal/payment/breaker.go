package payment

import (
	"context"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/x402"
)

// BreakerFacilitator runs facilitator calls behind the shared circuit
// breaker so a dead facilitator degrades to fast denials instead of
// tying up request goroutines.
type BreakerFacilitator struct {
	inner    Facilitator
	breakers *circuitbreaker.Manager
}

func NewBreakerFacilitator(inner Facilitator, breakers *circuitbreaker.Manager) *BreakerFacilitator {
	return &BreakerFacilitator{inner: inner, breakers: breakers}
}

func (b *BreakerFacilitator) Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	out, err := b.breakers.Execute(circuitbreaker.ServiceFacilitator, func() (any, error) {
		return b.inner.Verify(ctx, payload, reqs)
	})
	if err != nil {
		return nil, err
	}
	return out.(*x402.VerifyResponse), nil
}

func (b *BreakerFacilitator) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	out, err := b.breakers.Execute(circuitbreaker.ServiceFacilitator, func() (any, error) {
		return b.inner.Settle(ctx, payload, reqs)
	})
	if err != nil {
		return nil, err
	}
	return out.(*x402.SettleResponse), nil
}
