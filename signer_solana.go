package x402

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaPrivateKeySigner builds partially signed SPL token transfers. The
// facilitator's fee payer co-signs and broadcasts the transaction during
// settlement.
type SolanaPrivateKeySigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// NewSolanaPrivateKeySigner creates a signer from a base58-encoded Solana private key.
func NewSolanaPrivateKeySigner(privateKeyBase58 string) (*SolanaPrivateKeySigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	return &SolanaPrivateKeySigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

// NewSolanaPrivateKeySignerFromFile creates a signer from a Solana keypair file.
func NewSolanaPrivateKeySignerFromFile(filepath string) (*SolanaPrivateKeySigner, error) {
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair file: %w", err)
	}

	return &SolanaPrivateKeySigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

// GetAddress returns the signer's Solana address.
func (s *SolanaPrivateKeySigner) GetAddress() string {
	return s.publicKey.String()
}

// SupportsNetwork returns true if the signer supports the given network.
func (s *SolanaPrivateKeySigner) SupportsNetwork(network string) bool {
	return network == "solana" || network == "solana-devnet"
}

// SignPayment builds and partially signs an SPL token transfer satisfying the
// requirement.
func (s *SolanaPrivateKeySigner) SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	var rpcURL string
	switch req.Network {
	case "solana":
		rpcURL = rpc.MainNetBeta_RPC
	case "solana-devnet":
		rpcURL = rpc.DevNet_RPC
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, req.Network)
	}
	client := rpc.New(rpcURL)

	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash from %s: %w", rpcURL, err)
	}

	mintAddr, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	toAddr, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	feePayerAddr, err := solana.PublicKeyFromBase58(req.Extra["feePayer"])
	if err != nil {
		return nil, fmt.Errorf("invalid fee payer address: %w", err)
	}

	fromATA, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mintAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender ATA: %w", err)
	}

	toATA, _, err := solana.FindAssociatedTokenAddress(toAddr, mintAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient ATA: %w", err)
	}

	amount, err := req.AtomicAmount()
	if err != nil {
		return nil, err
	}

	decimals := uint8(6) // Default USDC decimals
	if decStr, ok := req.Extra["decimals"]; ok {
		_, _ = fmt.Sscanf(decStr, "%d", &decimals)
	}

	var instructions []solana.Instruction

	// Compute budget instructions required by the settlement facilitator.
	// Instruction 0: SetComputeUnitLimit
	computeLimitInst := solana.NewInstruction(
		solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111"),
		solana.AccountMetaSlice{},
		[]byte{2, 0x40, 0x0d, 0x03, 0x00}, // SetComputeUnitLimit: 200,000 units
	)
	instructions = append(instructions, computeLimitInst)

	// Instruction 1: SetComputeUnitPrice
	computePriceInst := solana.NewInstruction(
		solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111"),
		solana.AccountMetaSlice{},
		[]byte{3, 0x10, 0x27, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, // SetComputeUnitPrice: 10,000 microlamports
	)
	instructions = append(instructions, computePriceInst)

	// Instruction 2: TransferChecked - includes mint and decimals for verification
	transferInst := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount.Uint64()).
		SetDecimals(decimals).
		SetSourceAccount(fromATA).
		SetDestinationAccount(toATA).
		SetMintAccount(mintAddr).
		SetOwnerAccount(s.publicKey).
		Build()
	instructions = append(instructions, transferInst)

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(feePayerAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if s.publicKey.Equals(key) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to partially sign transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Resource:    req.Resource,
		Payload: PaymentPayloadData{
			Signature:   "partial",
			Transaction: base64.StdEncoding.EncodeToString(txBytes),
		},
	}, nil
}
