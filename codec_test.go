package x402

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequirement() PaymentRequirement {
	return PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		Amount:            "0.05",
		Asset:             USDCAddressBaseSepolia,
		PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Resource:          "POST /api/agents/basic/invoke",
		Description:       "Basic agent invocation",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]string{"name": "USD Coin", "version": "2", "decimals": "6"},
	}
}

func TestRequirementRoundTrip(t *testing.T) {
	req := testRequirement()

	encoded, err := EncodeRequirement(req)
	require.NoError(t, err)

	decoded, err := DecodeRequirement(encoded)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestDecodeRequirementRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("{"))},
		{"wrong type", base64.StdEncoding.EncodeToString([]byte(`"just a string"`))},
		{"missing fields", base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact"}`))},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRequirement(tc.encoded)
			assert.ErrorIs(t, err, ErrMalformedPaymentHeader)
		})
	}
}

func TestDecodeRequirementMissingFieldsReturnsZeroValue(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact","network":"base"}`))

	decoded, err := DecodeRequirement(encoded)
	require.ErrorIs(t, err, ErrMalformedPaymentHeader)
	assert.Equal(t, PaymentRequirement{}, decoded)
}

func TestPaymentRoundTrip(t *testing.T) {
	payment := PaymentPayload{
		X402Version: X402Version,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Resource:    "POST /api/agents/basic/invoke",
		Payload: PaymentPayloadData{
			Signature: "0xabc123",
			Authorization: PaymentAuthorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "50000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000060",
				Nonce:       "0xdeadbeef",
			},
		},
	}

	encoded, err := EncodePayment(payment)
	require.NoError(t, err)

	decoded, err := DecodePayment(encoded)
	require.NoError(t, err)
	assert.Equal(t, payment, decoded)
}

func TestDecodePaymentRequiresSignature(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"network":"base","payload":{}}`))

	_, err := DecodePayment(encoded)
	assert.ErrorIs(t, err, ErrMalformedPaymentHeader)
}

func TestSettlementRoundTrip(t *testing.T) {
	settlement := SettlementResponse{
		Success:     true,
		Transaction: "0xfeedface",
		Network:     "base",
		Payer:       "0x1111111111111111111111111111111111111111",
		Amount:      "0.05",
	}

	encoded, err := EncodeSettlement(settlement)
	require.NoError(t, err)

	decoded, err := DecodeSettlement(encoded)
	require.NoError(t, err)
	assert.Equal(t, settlement, decoded)
}

func TestDecodeSettlementRequiresTransaction(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"success":true,"network":"base"}`))

	_, err := DecodeSettlement(encoded)
	assert.ErrorIs(t, err, ErrMalformedPaymentHeader)
}

func TestAtomicAmount(t *testing.T) {
	req := testRequirement()

	amount, err := req.AtomicAmount()
	require.NoError(t, err)
	assert.Equal(t, "50000", amount.String())

	req.Amount = "1"
	amount, err = req.AtomicAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000000", amount.String())

	req.Extra["decimals"] = "2"
	amount, err = req.AtomicAmount()
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())
}

func TestAtomicAmountRejectsBadValues(t *testing.T) {
	req := testRequirement()

	req.Amount = "not-a-number"
	_, err := req.AtomicAmount()
	assert.ErrorIs(t, err, ErrInvalidAmount)

	req.Amount = "-0.05"
	_, err = req.AtomicAmount()
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// More precision than the asset supports
	req.Amount = "0.0000001"
	_, err = req.AtomicAmount()
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
