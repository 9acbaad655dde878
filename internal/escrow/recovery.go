package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

// EmergencyRefundInput collects the inputs to EmergencyRefund. Unlike
// Refund, this path takes the wallets and stake directly — it exists for
// the case where the reverse stealth map is gone (a process restart) and
// the duel record itself may no longer be present.
type EmergencyRefundInput struct {
	DuelID         string
	Player1Wallet  string
	Player2Wallet  string
	StakePerPlayer int64 // smallest unit, S
	Token          string
}

// EmergencyLegResult reports the outcome of one wallet's emergency refund
// attempt.
type EmergencyLegResult struct {
	Wallet  string
	Success bool
	TxID    string
	Error   string
}

// EmergencyRefundResult is the data returned to the caller.
type EmergencyRefundResult struct {
	Legs []EmergencyLegResult
}

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// EmergencyRefund recomputes A from the supplied S and attempts one
// transfer to each wallet. On all-success it clears both recovery sets for
// this duel id, marks the record REFUNDED if it is still present, and
// unregisters both stealth ids. On a leg failure for a duel that was
// already in failed_recovery, a still-present record is marked FAILED
// rather than left ACTIVE, so an operator sees it needs a second look.
func (e *Engine) EmergencyRefund(ctx context.Context, in EmergencyRefundInput) (*EmergencyRefundResult, error) {
	unlock := e.locks.lock(in.DuelID)
	defer unlock()

	tokenRules, ok := e.tokens[in.Token]
	if !ok {
		return nil, newError(KindValidation, "unsupported token")
	}

	hundred := decimal.NewFromInt(100)
	retained := hundred.Sub(tokenRules.DepositFeePercent).Div(hundred)
	amount := decimal.NewFromInt(in.StakePerPlayer).Mul(retained).Truncate(0).IntPart()

	legs := make([]EmergencyLegResult, 0, 2)
	allSucceeded := true
	for _, wallet := range []string{in.Player1Wallet, in.Player2Wallet} {
		txID, err := e.transfer.InternalTransfer(ctx, transfer.TransferRequest{
			SenderWallet:    e.transfer.EscrowWallet(),
			RecipientWallet: wallet,
			Token:           in.Token,
			AmountSmallest:  amount,
			Type:            transfer.TransferTypeEmergency,
		})
		if err != nil {
			allSucceeded = false
			legs = append(legs, EmergencyLegResult{Wallet: wallet, Success: false, Error: err.Error()})
			continue
		}
		legs = append(legs, EmergencyLegResult{Wallet: wallet, Success: true, TxID: txID})
	}

	record, present := e.store.Get(in.DuelID)
	wasFailedRecovery := contains(e.store.ListFailed(), in.DuelID)
	if allSucceeded {
		e.store.RemovePending(in.DuelID)
		e.store.RemoveFailed(in.DuelID)
		if present {
			record.Status = store.StatusRefunded
			record.UpdatedAt = time.Now()
			e.store.Set(in.DuelID, record, terminalAuditTTL)
			e.identity.Unregister(record.Player1.StealthID)
			e.identity.Unregister(record.Player2.StealthID)
		}
	} else if present && wasFailedRecovery {
		record.Status = store.StatusFailed
		record.UpdatedAt = time.Now()
		e.store.Set(in.DuelID, record, terminalAuditTTL)
	}

	return &EmergencyRefundResult{Legs: legs}, nil
}

// RecoveryStatus is the data surfaced at the recovery status endpoint.
type RecoveryStatus struct {
	PendingSettlements []string
	FailedDuels        []string
	Stats              store.Stats
	ActiveDuels        int
}

// GetRecoveryStatus snapshots the store's recovery sets and reaper counters.
func (e *Engine) GetRecoveryStatus() RecoveryStatus {
	return RecoveryStatus{
		PendingSettlements: e.store.ListPending(),
		FailedDuels:        e.store.ListFailed(),
		Stats:              e.store.Stats(),
		ActiveDuels:        e.store.Active(),
	}
}

// DustStatus reports the current dust counter for a single token.
type DustStatus struct {
	Token  string
	Amount uint64
}

// GetDustStatus reads the current dust counter for token without resetting
// it.
func (e *Engine) GetDustStatus(token string) DustStatus {
	return DustStatus{Token: token, Amount: e.store.ReadDust(token)}
}
