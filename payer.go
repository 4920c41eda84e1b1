package x402

import (
	"context"
	"fmt"
	"math/big"
)

// PaymentHandler decides whether to pay a challenge and produces the signed
// proof.
type PaymentHandler struct {
	signer        PaymentSigner
	budgetManager *BudgetManager
	config        *HandlerConfig
}

// HandlerConfig configures the payment handler. Amounts are atomic token
// units.
type HandlerConfig struct {
	MaxPaymentAmount string
	AutoPayThreshold string // Automatically pay if below this amount
	RateLimits       *RateLimits
	PaymentCallback  func(amount *big.Int, resource string) bool
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(signer PaymentSigner, config *HandlerConfig) (*PaymentHandler, error) {
	if signer == nil {
		return nil, ErrPaymentNotConfigured
	}

	if config == nil {
		config = &HandlerConfig{
			MaxPaymentAmount: "1000000", // Default 1 USDC
			AutoPayThreshold: "100000",  // Default 0.1 USDC
		}
	}

	budgetManager, err := NewBudgetManager(config.MaxPaymentAmount, config.RateLimits)
	if err != nil {
		return nil, err
	}

	return &PaymentHandler{
		signer:        signer,
		budgetManager: budgetManager,
		config:        config,
	}, nil
}

// ShouldPay determines if a payment should be made for the requirement.
func (h *PaymentHandler) ShouldPay(req PaymentRequirement) (bool, error) {
	amount, err := req.AtomicAmount()
	if err != nil {
		return false, err
	}
	if amount.Sign() <= 0 {
		return false, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}

	if err := h.budgetManager.CanSpend(amount, req.Resource); err != nil {
		return false, err
	}

	if h.config.AutoPayThreshold != "" {
		threshold := new(big.Int)
		if _, ok := threshold.SetString(h.config.AutoPayThreshold, 10); !ok {
			return false, fmt.Errorf("invalid auto-pay threshold: %s", h.config.AutoPayThreshold)
		}

		if amount.Cmp(threshold) <= 0 {
			return true, nil
		}
	}

	// Above the auto-pay threshold: defer to the approval callback when set
	if h.config.PaymentCallback != nil {
		return h.config.PaymentCallback(amount, req.Resource), nil
	}

	return true, nil
}

// CreatePayment creates a signed payment proof for a decoded challenge.
func (h *PaymentHandler) CreatePayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	if !h.signer.SupportsNetwork(req.Network) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, req.Network)
	}

	shouldPay, err := h.ShouldPay(req)
	if err != nil {
		return nil, err
	}
	if !shouldPay {
		return nil, ErrPaymentDeclined
	}

	payment, err := h.signer.SignPayment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	amount, err := req.AtomicAmount()
	if err != nil {
		return nil, err
	}
	h.budgetManager.RecordPayment(amount, req.Resource)

	return payment, nil
}

// GetMetrics returns budget metrics.
func (h *PaymentHandler) GetMetrics() BudgetMetrics {
	return h.budgetManager.GetMetrics()
}
