package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource mints a short-lived bearer token bound to one facilitator
// call. A nil TokenSource means the facilitator is unauthenticated.
type TokenSource interface {
	Token(method, host, path string) (string, error)
}

// FacilitatorClient talks to an x402 facilitator service.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewFacilitatorClient builds a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, client *http.Client, tokens TokenSource) *FacilitatorClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FacilitatorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		tokens:  tokens,
	}
}

// Verify asks the facilitator whether the payment payload satisfies the
// requirements. A network or decode failure is an error; a negative
// verdict is a successful call with IsValid=false.
func (c *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to execute the verified payment on chain.
func (c *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := c.post(ctx, "/settle", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported lists the (version, scheme, network) kinds the facilitator
// accepts.
func (c *FacilitatorClient) Supported(ctx context.Context) (*SupportedResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/supported", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x402: facilitator supported: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("supported", resp)
	}

	var out SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("x402: decode supported response: %w", err)
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload *PaymentPayload, reqs *PaymentRequirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("x402: marshal facilitator request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("x402: facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("x402: decode %s response: %w", path, err)
	}
	return nil
}

func (c *FacilitatorClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("x402: build request: %w", err)
	}

	if c.tokens != nil {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, fmt.Errorf("x402: parse facilitator url: %w", err)
		}
		token, err := c.tokens.Token(method, u.Host, u.Path)
		if err != nil {
			return nil, fmt.Errorf("x402: mint facilitator token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *FacilitatorClient) statusError(path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("x402: facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
