package x402

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentHandlerRequiresSigner(t *testing.T) {
	_, err := NewPaymentHandler(nil, nil)
	assert.ErrorIs(t, err, ErrPaymentNotConfigured)
}

func TestCreatePaymentSignsAndRecords(t *testing.T) {
	handler, err := NewPaymentHandler(NewMockSigner("0x1111111111111111111111111111111111111111"), nil)
	require.NoError(t, err)

	payment, err := handler.CreatePayment(context.Background(), testRequirement())
	require.NoError(t, err)
	assert.Equal(t, "50000", payment.Payload.Authorization.Value)

	metrics := handler.GetMetrics()
	assert.Equal(t, 1, metrics.PaymentCount)
	assert.Equal(t, "50000", metrics.TotalSpent)
}

func TestCreatePaymentRejectsAmountAboveLimit(t *testing.T) {
	handler, err := NewPaymentHandler(NewMockSigner("0x1111111111111111111111111111111111111111"), &HandlerConfig{
		MaxPaymentAmount: "10000", // 0.01 USDC
	})
	require.NoError(t, err)

	_, err = handler.CreatePayment(context.Background(), testRequirement())
	assert.ErrorIs(t, err, ErrAmountExceedsLimit)
	assert.Equal(t, 0, handler.GetMetrics().PaymentCount)
}

func TestCreatePaymentHonorsCallbackAboveThreshold(t *testing.T) {
	var askedAmount *big.Int
	handler, err := NewPaymentHandler(NewMockSigner("0x1111111111111111111111111111111111111111"), &HandlerConfig{
		MaxPaymentAmount: "1000000",
		AutoPayThreshold: "10000",
		PaymentCallback: func(amount *big.Int, resource string) bool {
			askedAmount = amount
			return false
		},
	})
	require.NoError(t, err)

	_, err = handler.CreatePayment(context.Background(), testRequirement())
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	require.NotNil(t, askedAmount)
	assert.Equal(t, "50000", askedAmount.String())
}

func TestCreatePaymentAutoPaysBelowThreshold(t *testing.T) {
	handler, err := NewPaymentHandler(NewMockSigner("0x1111111111111111111111111111111111111111"), &HandlerConfig{
		MaxPaymentAmount: "1000000",
		AutoPayThreshold: "100000",
		PaymentCallback: func(amount *big.Int, resource string) bool {
			t.Fatal("callback must not run below the auto-pay threshold")
			return false
		},
	})
	require.NoError(t, err)

	_, err = handler.CreatePayment(context.Background(), testRequirement())
	assert.NoError(t, err)
}

func TestCreatePaymentUnsupportedNetwork(t *testing.T) {
	signer, err := NewPrivateKeySigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	handler, err := NewPaymentHandler(signer, nil)
	require.NoError(t, err)

	req := testRequirement()
	req.Network = "unknown-net"
	_, err = handler.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestBudgetRateLimits(t *testing.T) {
	manager, err := NewBudgetManager("1000000", &RateLimits{MaxPaymentsPerMinute: 2})
	require.NoError(t, err)

	amount := big.NewInt(50000)
	require.NoError(t, manager.CanSpend(amount, "POST /a"))
	manager.RecordPayment(amount, "POST /a")
	require.NoError(t, manager.CanSpend(amount, "POST /a"))
	manager.RecordPayment(amount, "POST /a")

	assert.ErrorIs(t, manager.CanSpend(amount, "POST /a"), ErrRateLimitExceeded)
}

func TestBudgetHourlyLimit(t *testing.T) {
	manager, err := NewBudgetManager("1000000", &RateLimits{MaxAmountPerHour: "100000"})
	require.NoError(t, err)

	amount := big.NewInt(60000)
	require.NoError(t, manager.CanSpend(amount, "POST /a"))
	manager.RecordPayment(amount, "POST /a")

	assert.ErrorIs(t, manager.CanSpend(amount, "POST /a"), ErrBudgetExceeded)
}

func TestBudgetRejectsInvalidConfig(t *testing.T) {
	_, err := NewBudgetManager("not-a-number", nil)
	assert.Error(t, err)

	_, err = NewBudgetManager("-5", nil)
	assert.Error(t, err)
}
