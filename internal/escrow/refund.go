package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

// RefundInput collects the inputs to Refund.
type RefundInput struct {
	DuelID string
}

// RefundResult is the data returned to the caller on success.
type RefundResult struct {
	TxIDs []string
}

// Refund returns each locked participant's nominal stake, paying S rather
// than the after-deposit-fee amount A. The house float absorbs the deposit
// fee the transfer backend already charged on lock, so the player is made
// whole.
func (e *Engine) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	unlock := e.locks.lock(in.DuelID)
	defer unlock()

	record, ok := e.store.Get(in.DuelID)
	if !ok {
		return nil, newError(KindNotFound, "duel not found")
	}
	if record.Status == store.StatusSettled || record.Status == store.StatusRefunded {
		return nil, newError(KindPrecondition, "duel already settled or refunded")
	}

	var txIDs []string
	for _, participant := range []*store.Participant{&record.Player1, &record.Player2} {
		if !participant.StakeLocked {
			continue
		}
		wallet, resolvable := e.identity.Resolve(participant.StealthID)
		if !resolvable {
			e.log.WithField("duel_id", in.DuelID).Warn("refund: wallet no longer resolvable, skipping leg")
			continue
		}

		txID, err := e.transfer.InternalTransfer(ctx, transfer.TransferRequest{
			SenderWallet:    e.transfer.EscrowWallet(),
			RecipientWallet: wallet,
			Token:           record.Token,
			AmountSmallest:  participant.StakeAmount,
			Type:            transfer.TransferTypeRefund,
		})
		if err != nil {
			e.log.WithField("duel_id", in.DuelID).WithError(err).Warn("refund leg failed")
			continue
		}
		txIDs = append(txIDs, txID)
	}

	record.Status = store.StatusRefunded
	record.UpdatedAt = time.Now()
	e.store.Set(in.DuelID, record, terminalAuditTTL)

	e.identity.Unregister(record.Player1.StealthID)
	e.identity.Unregister(record.Player2.StealthID)

	return &RefundResult{TxIDs: txIDs}, nil
}

// DustSweepResult is the data returned to the caller on success.
type DustSweepResult struct {
	Swept       bool
	TxID        string
	AmountSwept uint64
}

// DustSweep attempts a single transfer of a token's accumulated dust to the
// treasury wallet. Below the per-token minimum, it reports under-minimum and
// leaves the counter untouched. No retry on failure; the dust simply stays
// accumulated for a later sweep.
func (e *Engine) DustSweep(ctx context.Context, token string) (*DustSweepResult, error) {
	tokenRules, ok := e.tokens[token]
	if !ok {
		return nil, newError(KindValidation, "unsupported token")
	}

	amount := e.store.ReadDust(token)
	if amount == 0 {
		return &DustSweepResult{Swept: false}, nil
	}
	if decimal.NewFromInt(int64(amount)).LessThan(tokenRules.MinimumTransfer) {
		return &DustSweepResult{Swept: false}, nil
	}

	txID, err := e.transfer.InternalTransfer(ctx, transfer.TransferRequest{
		SenderWallet:    e.transfer.EscrowWallet(),
		RecipientWallet: e.transfer.TreasuryWallet(),
		Token:           token,
		AmountSmallest:  int64(amount),
		Type:            transfer.TransferTypeTreasury,
	})
	if err != nil {
		return nil, newError(KindExternalPermanent, err.Error())
	}

	e.store.ResetDust(token)
	return &DustSweepResult{Swept: true, TxID: txID, AmountSwept: amount}, nil
}
