package transfer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Keys holds the two signing keypairs the transfer client owns: escrow
// (source of stake payouts and refunds) and treasury (destination of the
// house fee). Both are loaded once at process start-up; a decode failure
// here is a start-up configuration failure, not a runtime error.
type Keys struct {
	Escrow   solana.PrivateKey
	Treasury solana.PrivateKey
}

// LoadKeys decodes the two base58 Ed25519 seeds. It rejects start-up on any
// decoding failure.
func LoadKeys(escrowSecret, treasurySecret string) (*Keys, error) {
	escrow, err := solana.PrivateKeyFromBase58(escrowSecret)
	if err != nil {
		return nil, fmt.Errorf("decode escrow wallet secret: %w", err)
	}
	treasury, err := solana.PrivateKeyFromBase58(treasurySecret)
	if err != nil {
		return nil, fmt.Errorf("decode treasury wallet secret: %w", err)
	}
	return &Keys{Escrow: escrow, Treasury: treasury}, nil
}

// LoadSingleKey decodes one base58 Ed25519 seed, for keypairs outside the
// escrow/treasury pair (the ledger-anchoring server-authority key).
func LoadSingleKey(secret string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return solana.PrivateKey{}, fmt.Errorf("decode wallet secret: %w", err)
	}
	return key, nil
}
