package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duelescrow/internal/config"
	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

// SettleInput collects the inputs to Settle.
type SettleInput struct {
	DuelID              string
	WinnerWallet        string
	WinnerCharacterID   string
	GameServerSignature string
	CombatSummary       map[string]any
}

// SettleResult is the data returned to the caller on success.
type SettleResult struct {
	WinnerTxID     string
	TreasuryTxID   string
	WinnerPayout   int64
	HouseFee       int64
	CommitmentHash string
	CommitmentTxID string
}

// Settle pays the declared winner. The commitment-then-settle protocol
// runs first; funds move only afterward. The whole call executes inside
// this duel's critical section, so a concurrent or duplicate settle call
// on the same duel id blocks until this one returns and then fails its own
// precondition check.
func (e *Engine) Settle(ctx context.Context, in SettleInput) (*SettleResult, error) {
	unlock := e.locks.lock(in.DuelID)
	defer unlock()

	record, ok := e.store.Get(in.DuelID)
	if !ok {
		return nil, newError(KindNotFound, "duel not found")
	}

	if record.Status != store.StatusActive && record.Status != store.StatusPendingSettlement {
		return nil, newError(KindPrecondition, "duel is not eligible for settlement")
	}

	winner, loser, err := e.winnerAndLoser(record, in.WinnerWallet)
	if err != nil {
		return nil, err
	}

	tokenRules, ok := e.tokens[record.Token]
	if !ok {
		return nil, newError(KindInternal, fmt.Sprintf("unknown token %q on existing duel", record.Token))
	}

	// Step 1: commit before any money moves. Publish failure is logged and
	// non-fatal.
	commitRecord, commitErr := e.ledger.CommitToSettlement(ctx, in.DuelID, winner.StealthID, loser.StealthID, in.GameServerSignature, true)
	var commitmentHash, commitmentTxID string
	if commitErr != nil {
		e.log.WithField("duel_id", in.DuelID).WithError(commitErr).Warn("commitment build failed, proceeding to settlement")
	} else {
		commitmentHash = commitRecord.CommitmentHash
		commitmentTxID = commitRecord.OnChainTxID
	}

	// Step 2: move into PENDING_SETTLEMENT with extended TTL, track in
	// pending_recovery.
	record.Status = store.StatusPendingSettlement
	record.UpdatedAt = time.Now()
	e.store.Set(in.DuelID, record, settlementRecoveryTTL)
	e.store.AddPending(in.DuelID)

	winnerWallet, resolvable := e.identity.Resolve(winner.StealthID)
	if !resolvable {
		// Reverse map entries live for the duel's lifetime; this can only
		// happen if the process restarted mid-duel.
		e.store.RemovePending(in.DuelID)
		e.store.AddFailed(in.DuelID)
		return nil, newError(KindInternal, "winner wallet no longer resolvable")
	}

	payout := computePayout(record.Player1.StakeAmount, tokenRules.DepositFeePercent, record.HouseFeePercent)

	winnerTxID, settleErr := e.payWinnerWithRetry(ctx, record, winnerWallet, payout.WinnerPayout)
	if settleErr != nil {
		record.Status = store.StatusActive
		record.UpdatedAt = time.Now()
		e.store.Set(in.DuelID, record, record.ExpiresAt.Sub(time.Now()))
		e.store.RemovePending(in.DuelID)
		e.store.AddFailed(in.DuelID)
		return nil, settleErr
	}
	e.store.RemovePending(in.DuelID)

	treasuryTxID := e.payTreasury(ctx, record.Token, tokenRules, payout.HouseFee)

	record.Status = store.StatusSettled
	record.WinnerStealthID = winner.StealthID
	record.CombatSummary = in.CombatSummary
	record.SettlementTxIDs = append(record.SettlementTxIDs, winnerTxID)
	if treasuryTxID != "" {
		record.SettlementTxIDs = append(record.SettlementTxIDs, treasuryTxID)
	}
	record.UpdatedAt = time.Now()
	e.store.Set(in.DuelID, record, terminalAuditTTL)

	e.identity.Unregister(record.Player1.StealthID)
	e.identity.Unregister(record.Player2.StealthID)

	return &SettleResult{
		WinnerTxID:     winnerTxID,
		TreasuryTxID:   treasuryTxID,
		WinnerPayout:   payout.WinnerPayout,
		HouseFee:       payout.HouseFee,
		CommitmentHash: commitmentHash,
		CommitmentTxID: commitmentTxID,
	}, nil
}

// payoutMath holds the two-fee-layer payout computation.
type payoutMath struct {
	ActualPerPlayer int64
	Pot             int64
	HouseFee        int64
	WinnerPayout    int64
}

// computePayout implements: A = floor(S*(1-f_d/100)); P = 2A;
// H = floor(P*f_h/100); W = P - H. depositFeePercent and
// houseFeePercent are both percentages (e.g. 0.5 and 2); the stake
// accounting switches from decimal.Decimal to plain int64 here, since the
// floor() semantics are exact integer operations once amounts are in
// smallest units.
func computePayout(stakePerPlayer int64, depositFeePercent decimal.Decimal, houseFeePercent int) payoutMath {
	hundred := decimal.NewFromInt(100)
	retained := hundred.Sub(depositFeePercent).Div(hundred)

	actual := decimal.NewFromInt(stakePerPlayer).Mul(retained).Truncate(0).IntPart()
	pot := actual * 2
	houseFee := decimal.NewFromInt(pot).Mul(decimal.NewFromInt(int64(houseFeePercent))).Div(hundred).Truncate(0).IntPart()
	winnerPayout := pot - houseFee

	return payoutMath{
		ActualPerPlayer: actual,
		Pot:             pot,
		HouseFee:        houseFee,
		WinnerPayout:    winnerPayout,
	}
}

// winnerAndLoser identifies which participant slot the declared winner
// wallet belongs to.
func (e *Engine) winnerAndLoser(record *store.Duel, winnerWallet string) (winner, loser *store.Participant, err error) {
	if e.identity.Verify(winnerWallet, record.Player1.StealthID) {
		return &record.Player1, &record.Player2, nil
	}
	if e.identity.Verify(winnerWallet, record.Player2.StealthID) {
		return &record.Player2, &record.Player1, nil
	}
	return nil, nil, newError(KindPrecondition, "winner wallet is not a participant")
}

// payWinnerWithRetry moves the winner payout from escrow, retrying on
// transient transfer-backend failures up to winnerPayoutAttempts times
// with a fixed winnerPayoutBackoff between attempts. One nonce is carried
// across every attempt within this call so a conforming backend can
// deduplicate a lost-response retry.
func (e *Engine) payWinnerWithRetry(ctx context.Context, record *store.Duel, winnerWallet string, amount int64) (string, error) {
	nonce := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= winnerPayoutAttempts; attempt++ {
		txID, err := e.transfer.InternalTransfer(ctx, transfer.TransferRequest{
			SenderWallet:    e.transfer.EscrowWallet(),
			RecipientWallet: winnerWallet,
			Token:           record.Token,
			AmountSmallest:  amount,
			Type:            transfer.TransferTypeSettlement,
			Nonce:           nonce,
		})
		if err == nil {
			return txID, nil
		}
		lastErr = err

		var transferErr *transfer.Error
		if te, ok := err.(*transfer.Error); ok {
			transferErr = te
		}
		if transferErr == nil || !transferErr.Transient() {
			return "", newError(KindExternalPermanent, err.Error())
		}

		e.log.WithField("duel_id", record.DuelID).WithField("attempt", attempt).WithError(err).Warn("winner payout attempt failed")

		if attempt < winnerPayoutAttempts {
			select {
			case <-ctx.Done():
				return "", newError(KindExternalTransient, ctx.Err().Error())
			case <-time.After(winnerPayoutBackoff):
			}
		}
	}

	return "", newError(KindExternalTransient, fmt.Sprintf("winner payout failed after %d attempts: %v", winnerPayoutAttempts, lastErr))
}

// payTreasury attempts a single house-fee transfer to the treasury wallet.
// Below the per-token minimum transfer, or on any failure, the fee is
// accumulated into the per-token dust counter instead.
func (e *Engine) payTreasury(ctx context.Context, token string, tokenRules config.TokenRules, houseFee int64) string {
	if houseFee <= 0 {
		return ""
	}
	if decimal.NewFromInt(houseFee).LessThan(tokenRules.MinimumTransfer) {
		e.store.AddDust(token, uint64(houseFee))
		return ""
	}

	txID, err := e.transfer.InternalTransfer(ctx, transfer.TransferRequest{
		SenderWallet:    e.transfer.EscrowWallet(),
		RecipientWallet: e.transfer.TreasuryWallet(),
		Token:           token,
		AmountSmallest:  houseFee,
		Type:            transfer.TransferTypeTreasury,
	})
	if err != nil {
		e.log.WithField("token", token).WithError(err).Warn("treasury transfer failed, accumulating into dust")
		e.store.AddDust(token, uint64(houseFee))
		return ""
	}
	return txID
}
