// Package payment coordinates the x402 flow for one request: quoting a
// 402 challenge, verifying a submitted payment with the facilitator, and
// settling it after the upstream call succeeds.
package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/money"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/x402"
)

// State is the per-request payment phase.
type State string

const (
	// StateQuoted means the request carried no payment header; respond
	// with a 402 challenge.
	StateQuoted State = "QUOTED"
	// StateVerified means the facilitator accepted the payment payload.
	StateVerified State = "VERIFIED"
	// StateDenied means the payload was malformed or the facilitator
	// rejected it.
	StateDenied State = "DENIED"
)

// Outcome is the result of the require step.
type Outcome struct {
	State         State
	Challenge     *x402.Challenge
	Payload       *x402.PaymentPayload
	Requirements  *x402.PaymentRequirements
	Payer         string
	InvalidReason string
}

// SettleResult carries the settlement identifiers for the receipt. A
// failed settlement leaves TxHash empty.
type SettleResult struct {
	TxHash  string
	Network string
	Payer   string
}

// Facilitator is the subset of the facilitator client the coordinator
// uses. Stubbed in tests.
type Facilitator interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Coordinator holds the facilitator connection and a compiled
// requirements map kept in sync with the route table via its subscriber
// interface.
type Coordinator struct {
	facilitator  Facilitator
	network      Network
	payTo        string
	resourceBase string
	logger       zerolog.Logger

	mu   sync.RWMutex
	reqs map[string]compiledRequirement
}

type compiledRequirement struct {
	requirements x402.PaymentRequirements
	price        decimal.Decimal
	description  string
}

// NewCoordinator builds a coordinator. The CAIP-2 network is resolved
// once here and never changes for the process lifetime.
func NewCoordinator(facilitator Facilitator, networkName, payTo, resourceBase string, logger zerolog.Logger) (*Coordinator, error) {
	network, err := ResolveNetwork(networkName)
	if err != nil {
		return nil, err
	}
	if payTo == "" {
		return nil, fmt.Errorf("payment: pay-to address is required")
	}
	return &Coordinator{
		facilitator:  facilitator,
		network:      network,
		payTo:        payTo,
		resourceBase: strings.TrimSuffix(resourceBase, "/"),
		logger:       logger.With().Str("component", "payment").Logger(),
		reqs:         make(map[string]compiledRequirement),
	}, nil
}

// Network returns the chain constants the coordinator settles on.
func (c *Coordinator) Network() Network {
	return c.network
}

// RoutesUpdated recompiles the requirements map from the full rule set.
// Registered with the route table as a subscriber so payment quotes can
// never reference a stale price.
func (c *Coordinator) RoutesUpdated(rules []routes.Rule) {
	next := make(map[string]compiledRequirement, len(rules))
	for _, rule := range rules {
		price, err := money.ParseUSD(rule.Price)
		if err != nil {
			// The route table validates prices at compile time; an
			// unparsable price here means the rule bypassed compilation.
			c.logger.Error().Str("tool_id", rule.ToolID).Str("price", rule.Price).Msg("payment.route_price_invalid")
			continue
		}
		next[rule.ToolID] = compiledRequirement{
			price:       price,
			description: rule.Description,
			requirements: x402.PaymentRequirements{
				Scheme:            x402.SchemeExact,
				Network:           c.network.CAIP2,
				MaxAmountRequired: money.ToAtomic(price),
				Resource:          c.resourceBase + rule.Path,
				Description:       rule.Description,
				MimeType:          "application/json",
				PayTo:             c.payTo,
				MaxTimeoutSeconds: 60,
				Asset:             c.network.USDCAddress,
			},
		}
	}

	c.mu.Lock()
	c.reqs = next
	c.mu.Unlock()
}

// Requirement returns the compiled payment requirements for a tool.
func (c *Coordinator) Requirement(toolID string) (*x402.PaymentRequirements, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cr, ok := c.reqs[toolID]
	if !ok {
		return nil, false
	}
	r := cr.requirements
	return &r, true
}

// Require runs the quote/verify phase for one matched route. An empty
// payment header yields a 402 challenge; a present header is verified
// with the facilitator.
func (c *Coordinator) Require(ctx context.Context, toolID, paymentHeader string) (*Outcome, error) {
	c.mu.RLock()
	cr, ok := c.reqs[toolID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payment: no requirements compiled for tool %q", toolID)
	}
	reqs := cr.requirements

	if paymentHeader == "" {
		return &Outcome{
			State: StateQuoted,
			Challenge: &x402.Challenge{
				Accepts: []x402.ChallengeAccept{{
					Scheme:  x402.SchemeExact,
					Price:   money.FormatUSD(cr.price),
					Network: c.network.CAIP2,
					PayTo:   c.payTo,
				}},
				Description: cr.description,
				MimeType:    "application/json",
			},
			Requirements: &reqs,
		}, nil
	}

	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return &Outcome{
			State:         StateDenied,
			Requirements:  &reqs,
			InvalidReason: "malformed payment header",
		}, nil
	}

	verdict, err := c.facilitator.Verify(ctx, payload, &reqs)
	if err != nil {
		c.logger.Error().Err(err).Str("tool_id", toolID).Msg("payment.verify_failed")
		return &Outcome{
			State:         StateDenied,
			Requirements:  &reqs,
			InvalidReason: "facilitator unavailable",
		}, nil
	}
	if !verdict.IsValid {
		return &Outcome{
			State:         StateDenied,
			Payload:       payload,
			Requirements:  &reqs,
			Payer:         verdict.Payer,
			InvalidReason: verdict.InvalidReason,
		}, nil
	}

	return &Outcome{
		State:        StateVerified,
		Payload:      payload,
		Requirements: &reqs,
		Payer:        verdict.Payer,
	}, nil
}

// Settle executes the verified payment on chain. Settlement failure is
// soft: it is logged and the zero result is returned so the upstream
// response still reaches the client, with a null tx hash on the receipt.
func (c *Coordinator) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) SettleResult {
	resp, err := c.facilitator.Settle(ctx, payload, reqs)
	if err != nil {
		c.logger.Warn().Err(err).Msg("payment.settle_failed")
		return SettleResult{}
	}
	if !resp.Success {
		c.logger.Warn().Str("reason", resp.ErrorReason).Msg("payment.settle_rejected")
		return SettleResult{}
	}
	return SettleResult{
		TxHash:  resp.Transaction,
		Network: resp.Network,
		Payer:   resp.Payer,
	}
}
