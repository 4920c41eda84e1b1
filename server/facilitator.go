package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/mark3labs/x402-market"
)

// Facilitator verifies and settles payment proofs. Settlement execution lives
// entirely behind this boundary; the marketplace never talks to a chain.
type Facilitator interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error)
	GetSupported(ctx context.Context) ([]SupportedKind, error)
}

// HTTPFacilitator implements Facilitator against a remote facilitator API.
type HTTPFacilitator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFacilitator creates a facilitator client with its own bounded
// timeout, independent of any request deadline.
func NewHTTPFacilitator(baseURL string, timeout time.Duration) *HTTPFacilitator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFacilitator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFacilitator) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error) {
	req := &VerifyRequest{
		X402Version:         x402.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	var verifyResp VerifyResponse
	if err := f.post(ctx, "/verify", req, &verifyResp); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return &verifyResp, nil
}

func (f *HTTPFacilitator) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error) {
	req := &SettleRequest{
		X402Version:         x402.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	var settleResp SettleResponse
	if err := f.post(ctx, "/settle", req, &settleResp); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	return &settleResp, nil
}

func (f *HTTPFacilitator) GetSupported(ctx context.Context) ([]SupportedKind, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("create supported request: %w", err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported failed with status %d", resp.StatusCode)
	}

	var result struct {
		Kinds []SupportedKind `json:"kinds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode supported response: %w", err)
	}

	return result.Kinds, nil
}

func (f *HTTPFacilitator) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MockFacilitator is an in-process Facilitator for tests and local
// development. It checks that the proof is actually bound to the requirement
// it claims to pay for instead of blindly approving.
type MockFacilitator struct {
	// VerifyErr / SettleErr simulate facilitator transport failures.
	VerifyErr error
	SettleErr error

	// RejectReason, when set, makes Verify return an invalid verdict.
	RejectReason string

	// FailSettlement makes Settle return an unsuccessful result.
	FailSettlement bool

	VerifyCalls int
	SettleCalls int
}

func (m *MockFacilitator) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error) {
	m.VerifyCalls++

	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	if m.RejectReason != "" {
		return &VerifyResponse{IsValid: false, InvalidReason: m.RejectReason}, nil
	}

	if reason := bindingMismatch(payment, requirement); reason != "" {
		return &VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}

	return &VerifyResponse{IsValid: true, Payer: payment.Payload.Authorization.From}, nil
}

func (m *MockFacilitator) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error) {
	m.SettleCalls++

	if m.SettleErr != nil {
		return nil, m.SettleErr
	}
	if m.FailSettlement {
		return &SettleResponse{Success: false, Network: payment.Network, ErrorReason: "insufficient_funds"}, nil
	}

	return &SettleResponse{
		Success:     true,
		Payer:       payment.Payload.Authorization.From,
		Transaction: fmt.Sprintf("0x%064x", m.SettleCalls),
		Network:     payment.Network,
	}, nil
}

func (m *MockFacilitator) GetSupported(ctx context.Context) ([]SupportedKind, error) {
	return []SupportedKind{
		{X402Version: x402.X402Version, Scheme: "exact", Network: "base"},
		{X402Version: x402.X402Version, Scheme: "exact", Network: "base-sepolia"},
	}, nil
}

// bindingMismatch checks that the proof pays what the requirement demands.
func bindingMismatch(payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) string {
	if payment.Network != requirement.Network {
		return "network_mismatch"
	}
	if payment.Resource != "" && payment.Resource != requirement.Resource {
		return "resource_mismatch"
	}

	auth := payment.Payload.Authorization
	if auth.From == "" {
		// Solana proofs carry a serialized transaction instead.
		if payment.Payload.Transaction == "" {
			return "missing_authorization"
		}
		return ""
	}
	if auth.To != requirement.PayTo {
		return "recipient_mismatch"
	}

	expected, err := requirement.AtomicAmount()
	if err != nil {
		return "invalid_amount"
	}
	if auth.Value != expected.String() {
		return "amount_mismatch"
	}
	return ""
}
