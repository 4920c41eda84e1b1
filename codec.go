package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// The codec turns protocol value objects into header-safe strings: standard
// base64 over the canonical JSON representation. Decoding is a hard parse
// boundary; callers must not use a partially decoded value.

// EncodeRequirement encodes a PaymentRequirement for the X-PAYMENT-REQUIRED
// header.
func EncodeRequirement(req PaymentRequirement) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal payment requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirement decodes an X-PAYMENT-REQUIRED header value. It returns
// ErrMalformedPaymentHeader on invalid encoding, invalid structure, or
// missing required fields.
func DecodeRequirement(encoded string) (PaymentRequirement, error) {
	var req PaymentRequirement
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if req.Amount == "" || req.Network == "" || req.PayTo == "" || req.Resource == "" {
		return PaymentRequirement{}, fmt.Errorf("%w: missing required fields", ErrMalformedPaymentHeader)
	}
	return req, nil
}

// EncodePayment encodes a PaymentPayload for the X-PAYMENT header.
func EncodePayment(payment PaymentPayload) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment decodes an X-PAYMENT header value.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payment PaymentPayload
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if err := json.Unmarshal(data, &payment); err != nil {
		return payment, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if payment.Network == "" || payment.Payload.Signature == "" {
		return PaymentPayload{}, fmt.Errorf("%w: missing required fields", ErrMalformedPaymentHeader)
	}
	return payment, nil
}

// EncodeSettlement encodes a SettlementResponse for the X-PAYMENT-RESPONSE
// header.
func EncodeSettlement(settlement SettlementResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("marshal settlement response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(encoded string) (SettlementResponse, error) {
	var settlement SettlementResponse
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if err := json.Unmarshal(data, &settlement); err != nil {
		return settlement, fmt.Errorf("%w: %v", ErrMalformedPaymentHeader, err)
	}
	if settlement.Transaction == "" || settlement.Network == "" {
		return SettlementResponse{}, fmt.Errorf("%w: missing required fields", ErrMalformedPaymentHeader)
	}
	return settlement, nil
}
