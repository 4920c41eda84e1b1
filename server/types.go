package server

import (
	x402 "github.com/mark3labs/x402-market"
)

// VerifyRequest is posted to the facilitator /verify endpoint.
type VerifyRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement  `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's verification verdict.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleRequest is posted to the facilitator /settle endpoint.
type SettleRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement  `json:"paymentRequirements"`
}

// SettleResponse is the facilitator's settlement result.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Payer       string `json:"payer"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedKind is a scheme/network pair the facilitator can settle.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// Settlement converts a settle result into the receipt shape carried in the
// X-PAYMENT-RESPONSE header.
func (r *SettleResponse) Settlement(amount string) x402.SettlementResponse {
	return x402.SettlementResponse{
		Success:     r.Success,
		Transaction: r.Transaction,
		Network:     r.Network,
		Payer:       r.Payer,
		Amount:      amount,
		ErrorReason: r.ErrorReason,
	}
}
