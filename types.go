package x402

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Protocol headers used on the wire.
const (
	// HeaderPayment carries the client's encoded payment proof.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentRequired carries the server's encoded payment requirement
	// on a 402 response.
	HeaderPaymentRequired = "X-PAYMENT-REQUIRED"
	// HeaderPaymentResponse carries the encoded settlement receipt on a
	// successful paid response.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	// HeaderRequestID correlates a request across client, server and logs.
	HeaderRequestID = "X-Request-ID"
	// HeaderPayerAddress is an optional hint identifying the paying account.
	HeaderPayerAddress = "X-Payer-Address"
)

// X402Version is the protocol version spoken by this module.
const X402Version = 1

// PaymentRequirement describes what payment satisfies a priced resource.
// It is built by the server's pricing resolver at challenge time and is
// immutable once created.
type PaymentRequirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	Amount            string            `json:"amount"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description,omitempty"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Nonce             string            `json:"nonce,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// AtomicAmount converts the requirement's decimal amount (e.g. "0.05") into
// atomic token units using the asset's decimals (Extra["decimals"], USDC's 6
// when unset).
func (r PaymentRequirement) AtomicAmount() (*big.Int, error) {
	d, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if d.IsNegative() {
		return nil, ErrInvalidAmount
	}

	decimals := int32(6)
	if s, ok := r.Extra["decimals"]; ok {
		parsed, err := decimal.NewFromString(s)
		if err != nil || !parsed.IsInteger() || parsed.IsNegative() {
			return nil, ErrInvalidAmount
		}
		decimals = int32(parsed.IntPart())
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, ErrInvalidAmount
	}
	return scaled.BigInt(), nil
}

// PaymentPayload is the signed payment proof sent in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int                `json:"x402Version"`
	Scheme      string             `json:"scheme"`
	Network     string             `json:"network"`
	Resource    string             `json:"resource,omitempty"`
	Payload     PaymentPayloadData `json:"payload"`
}

// PaymentPayloadData contains the signature and authorization.
type PaymentPayloadData struct {
	Signature     string               `json:"signature"`
	Authorization PaymentAuthorization `json:"authorization"`
	// Transaction carries a base64 partially signed transaction for networks
	// (like Solana) that settle whole transactions instead of authorizations.
	Transaction string `json:"transaction,omitempty"`
}

// PaymentAuthorization contains EIP-3009 authorization data.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementResponse is the payment receipt carried in the X-PAYMENT-RESPONSE
// header after successful settlement.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
	Amount      string `json:"amount,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// PaymentEvent represents a payment lifecycle event on the client.
type PaymentEvent struct {
	Type        PaymentEventType
	Resource    string
	Method      string
	URL         string
	Amount      *big.Int
	Network     string
	Asset       string
	Recipient   string
	Transaction string
	Error       error
	Timestamp   int64
}

// PaymentEventType represents types of payment events.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// NetworkChainIDs maps network names to chain IDs.
var NetworkChainIDs = map[string]*big.Int{
	"base-sepolia":   big.NewInt(84532),
	"base":           big.NewInt(8453),
	"avalanche-fuji": big.NewInt(43113),
	"avalanche":      big.NewInt(43114),
	"ethereum":       big.NewInt(1),
	"sepolia":        big.NewInt(11155111),
}

// GetChainID returns the chain ID for a network name.
func GetChainID(network string) *big.Int {
	if chainID, ok := NetworkChainIDs[network]; ok {
		return chainID
	}
	return big.NewInt(1) // Default to mainnet
}

// USDC contract/mint addresses per network.
const (
	USDCAddressBase        = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	USDCAddressBaseSepolia = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	USDCMintSolana         = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCMintSolanaDevnet   = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// USDCAddress returns the USDC asset address for a network, or the empty
// string for networks without a known deployment.
func USDCAddress(network string) string {
	switch network {
	case "base":
		return USDCAddressBase
	case "base-sepolia":
		return USDCAddressBaseSepolia
	case "solana":
		return USDCMintSolana
	case "solana-devnet":
		return USDCMintSolanaDevnet
	}
	return ""
}

// DefaultChallengeTimeout bounds how long a payment authorization stays valid.
const DefaultChallengeTimeout = 60 * time.Second
