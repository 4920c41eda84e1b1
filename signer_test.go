package x402

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key, never funded.
const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestNewPrivateKeySigner(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", signer.GetAddress())

	// 0x prefix is accepted too
	prefixed, err := NewPrivateKeySigner("0x" + testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, signer.GetAddress(), prefixed.GetAddress())
}

func TestNewPrivateKeySignerRejectsGarbage(t *testing.T) {
	_, err := NewPrivateKeySigner("zzzz")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = NewPrivateKeySigner("")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestPrivateKeySignerSignsAuthorization(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := testRequirement()
	payment, err := signer.SignPayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, X402Version, payment.X402Version)
	assert.Equal(t, req.Network, payment.Network)
	assert.Equal(t, req.Resource, payment.Resource)

	auth := payment.Payload.Authorization
	assert.Equal(t, signer.GetAddress(), auth.From)
	assert.Equal(t, req.PayTo, auth.To)
	assert.Equal(t, "50000", auth.Value)
	assert.Less(t, auth.ValidAfter, auth.ValidBefore)

	// 65-byte signature, hex encoded with 0x prefix
	assert.True(t, strings.HasPrefix(payment.Payload.Signature, "0x"))
	assert.Len(t, payment.Payload.Signature, 2+65*2)

	// bytes32 nonce
	assert.True(t, strings.HasPrefix(auth.Nonce, "0x"))
	assert.Len(t, auth.Nonce, 2+32*2)
}

func TestPrivateKeySignerRejectsUnknownNetwork(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := testRequirement()
	req.Network = "dogecoin"
	_, err = signer.SignPayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestMnemonicSigner(t *testing.T) {
	// BIP-39 reference vector mnemonic
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	signer, err := NewMnemonicSigner(mnemonic, "")
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", signer.GetAddress())
}

func TestMnemonicSignerRejectsInvalidPhrase(t *testing.T) {
	_, err := NewMnemonicSigner("definitely not a valid mnemonic phrase at all", "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestMockSignerProducesBoundProof(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")
	assert.Equal(t, "0x1111111111111111111111111111111111111111", signer.GetAddress())

	payment, err := signer.SignPayment(context.Background(), testRequirement())
	require.NoError(t, err)
	assert.Equal(t, "50000", payment.Payload.Authorization.Value)
	assert.Equal(t, testRequirement().PayTo, payment.Payload.Authorization.To)
}
