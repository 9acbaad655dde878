package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
)

// memoProgramID is the Solana Memo Program v2 address. It accepts an
// opaque instruction payload and does nothing else on-chain, which is
// exactly the "publish an opaque payload" primitive the core needs.
var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

const confirmationPollInterval = 400 * time.Millisecond
const confirmationPollAttempts = 10

// SolanaAnchor publishes commitment hashes as memo-program transactions,
// signed by the server-authority keypair, and polls for confirmation.
type SolanaAnchor struct {
	rpcClient *rpc.Client
	authority solana.PrivateKey
	log       *logrus.Entry
}

// NewSolanaAnchor builds a SolanaAnchor pointed at rpcURL, signing with
// authority.
func NewSolanaAnchor(rpcURL string, authority solana.PrivateKey, log *logrus.Entry) *SolanaAnchor {
	return &SolanaAnchor{
		rpcClient: rpc.New(rpcURL),
		authority: authority,
		log:       log,
	}
}

// Publish submits payload as a single memo instruction, signs with the
// server-authority keypair, and waits for "confirmed" status or a bounded
// number of polls.
func (a *SolanaAnchor) Publish(ctx context.Context, payload []byte) (string, error) {
	authorityPub := a.authority.PublicKey()

	instruction := solana.NewInstruction(
		memoProgramID,
		[]*solana.AccountMeta{
			{PublicKey: authorityPub, IsWritable: false, IsSigner: true},
		},
		payload,
	)

	recent, err := a.rpcClient.GetRecentBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		recent.Value.Blockhash,
		solana.TransactionPayer(authorityPub),
	)
	if err != nil {
		return "", fmt.Errorf("build memo transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authorityPub) {
			return &a.authority
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign memo transaction: %w", err)
	}

	sig, err := a.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("send memo transaction: %w", err)
	}

	a.awaitConfirmation(ctx, sig)
	return sig.String(), nil
}

// ConnectivityReport summarizes whether the anchor can currently reach its
// RPC endpoint, plus the authority public key it signs with, for
// /health/ready. No signature is produced or checked.
type ConnectivityReport struct {
	RPCConnected    bool   `json:"rpcConnected"`
	RPCError        string `json:"rpcError,omitempty"`
	LatestBlockhash string `json:"latestBlockhash,omitempty"`
	AuthorityPubkey string `json:"authorityPubkey"`
}

// Diagnose probes RPC connectivity without submitting a transaction. It
// never returns an error: a failed probe is reported in the result, not
// raised, so a caller building a readiness response can always render one.
func (a *SolanaAnchor) Diagnose(ctx context.Context) ConnectivityReport {
	report := ConnectivityReport{AuthorityPubkey: a.authority.PublicKey().String()}

	blockhash, err := a.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		report.RPCError = err.Error()
		return report
	}
	report.RPCConnected = true
	report.LatestBlockhash = blockhash.Value.Blockhash.String()
	return report
}

// awaitConfirmation polls GetSignatureStatuses a bounded number of times.
// It never returns an error: a commitment publish is non-fatal,
// so the caller already treats a submitted-but-unconfirmed signature as
// good enough to record.
func (a *SolanaAnchor) awaitConfirmation(ctx context.Context, sig solana.Signature) {
	for i := 0; i < confirmationPollAttempts; i++ {
		statuses, err := a.rpcClient.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(confirmationPollInterval):
		}
	}
	a.log.WithField("signature", sig.String()).Warn("memo transaction not confirmed within poll budget")
}
