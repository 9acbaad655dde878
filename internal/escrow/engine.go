// Package escrow is the heart of the core: the duel lifecycle state
// machine and the settlement engine that computes payouts, retries
// transient transfer failures, and defers sub-minimum dust into a
// sweepable accumulator.
package escrow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"duelescrow/internal/config"
	"duelescrow/internal/ledger"
	"duelescrow/internal/stealth"
	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

// settlementRecoveryTTL is the TTL a duel record is extended to once it
// enters PENDING_SETTLEMENT.
const settlementRecoveryTTL = 24 * time.Hour

// terminalAuditTTL is the TTL applied on SETTLED/REFUNDED, kept for
// operator audit retention.
const terminalAuditTTL = 24 * time.Hour

const (
	winnerPayoutAttempts = 3
	winnerPayoutBackoff  = 2 * time.Second
)

// Engine wires together the stealth, store, transfer, and ledger
// components into the duel lifecycle state machine.
type Engine struct {
	store    *store.Store
	identity *stealth.Identity
	transfer *transfer.Client
	ledger   *ledger.Accountability
	tokens   config.TokenTable
	log      *logrus.Entry

	houseFeePercent int
	escrowTimeout   time.Duration

	locks *keyMutex
}

// New builds an Engine.
func New(
	st *store.Store,
	identity *stealth.Identity,
	transferClient *transfer.Client,
	accountability *ledger.Accountability,
	tokens config.TokenTable,
	houseFeePercent int,
	escrowTimeout time.Duration,
	log *logrus.Entry,
) *Engine {
	return &Engine{
		store:           st,
		identity:        identity,
		transfer:        transferClient,
		ledger:          accountability,
		tokens:          tokens,
		log:             log,
		houseFeePercent: houseFeePercent,
		escrowTimeout:   escrowTimeout,
		locks:           newKeyMutex(),
	}
}

// CreateDuelInput collects the inputs to CreateDuel.
type CreateDuelInput struct {
	Player1Wallet      string
	Player2Wallet      string
	Player1CharacterID string
	Player2CharacterID string
	Player1Name        string
	Player2Name        string
	StakeAmount        decimal.Decimal // human units
	Token              string
	Rules              map[string]any
}

// CreateDuelResult is the data returned to the caller on success.
type CreateDuelResult struct {
	DuelID              string
	Player1StealthID    string
	Player2StealthID    string
	StakeAmountSmallest int64
	ExpiresAt           time.Time
}

// CreateDuel creates a new PENDING_STAKES duel.
func (e *Engine) CreateDuel(in CreateDuelInput) (*CreateDuelResult, error) {
	if strings.TrimSpace(in.Player1Wallet) == strings.TrimSpace(in.Player2Wallet) {
		return nil, newError(KindValidation, "player1Wallet and player2Wallet must differ")
	}

	tokenRules, ok := e.tokens[in.Token]
	if !ok {
		return nil, newError(KindValidation, fmt.Sprintf("unsupported token %q", in.Token))
	}

	stakeSmallest := toSmallestUnit(in.StakeAmount, tokenRules.Decimals)
	if decimal.NewFromInt(stakeSmallest).LessThan(tokenRules.MinimumStake) {
		return nil, newError(KindValidation, "Stake too low")
	}

	p1Stealth := e.identity.Register(in.Player1Wallet)
	p2Stealth := e.identity.Register(in.Player2Wallet)

	duelID := newDuelID()
	now := time.Now()
	expiresAt := now.Add(e.escrowTimeout)

	record := &store.Duel{
		DuelID:          duelID,
		Status:          store.StatusPendingStakes,
		Token:           in.Token,
		HouseFeePercent: e.houseFeePercent,
		Rules:           in.Rules,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       expiresAt,
		Player1: store.Participant{
			StealthID:   p1Stealth,
			CharacterID: in.Player1CharacterID,
			DisplayName: in.Player1Name,
			StakeAmount: stakeSmallest,
		},
		Player2: store.Participant{
			StealthID:   p2Stealth,
			CharacterID: in.Player2CharacterID,
			DisplayName: in.Player2Name,
			StakeAmount: stakeSmallest,
		},
	}

	e.store.Set(duelID, record, e.escrowTimeout)

	return &CreateDuelResult{
		DuelID:              duelID,
		Player1StealthID:    p1Stealth,
		Player2StealthID:    p2Stealth,
		StakeAmountSmallest: stakeSmallest,
		ExpiresAt:           expiresAt,
	}, nil
}

// LockStakeInput collects the inputs to LockStake.
type LockStakeInput struct {
	DuelID       string
	PlayerWallet string
	PaymentProof string
}

// LockStakeResult is the data returned to the caller on success.
type LockStakeResult struct {
	TxID       string
	DuelStatus store.Status
	BothLocked bool
}

// LockStake marks one participant's stake as locked, advancing the duel to
// ACTIVE once both sides are locked.
func (e *Engine) LockStake(in LockStakeInput) (*LockStakeResult, error) {
	unlock := e.locks.lock(in.DuelID)
	defer unlock()

	record, ok := e.store.Get(in.DuelID)
	if !ok {
		return nil, newError(KindNotFound, "duel not found")
	}

	now := time.Now()
	if record.Status != store.StatusPendingStakes || now.After(record.ExpiresAt) {
		return nil, newError(KindPrecondition, "duel is not accepting stake locks")
	}

	participant, err := e.identifyParticipant(record, in.PlayerWallet)
	if err != nil {
		return nil, err
	}

	if participant.StakeLocked {
		return nil, newError(KindPrecondition, "already-locked")
	}

	txID := extractTxID(in.PaymentProof)
	lockedAt := now
	participant.StakeLocked = true
	participant.LockTxID = txID
	participant.LockedAt = &lockedAt
	record.UpdatedAt = now

	bothLocked := record.Player1.StakeLocked && record.Player2.StakeLocked
	if bothLocked {
		record.Status = store.StatusActive
	}

	remaining := record.ExpiresAt.Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	e.store.Set(in.DuelID, record, remaining)

	return &LockStakeResult{
		TxID:       txID,
		DuelStatus: record.Status,
		BothLocked: bothLocked,
	}, nil
}

// LedgerConnectivity reports whether the accountability component's
// underlying anchor can currently reach its RPC endpoint. ok is false if no
// anchor is configured or it does not support diagnostics.
func (e *Engine) LedgerConnectivity(ctx context.Context) (report ledger.ConnectivityReport, ok bool) {
	return e.ledger.Diagnose(ctx)
}

// GetDuel returns the current record for duelID.
func (e *Engine) GetDuel(duelID string) (*store.Duel, error) {
	record, ok := e.store.Get(duelID)
	if !ok {
		return nil, newError(KindNotFound, "duel not found")
	}
	return record, nil
}

// identifyParticipant returns a pointer to the participant slot matching
// wallet, or a precondition error if neither slot matches.
func (e *Engine) identifyParticipant(record *store.Duel, wallet string) (*store.Participant, error) {
	if e.identity.Verify(wallet, record.Player1.StealthID) {
		return &record.Player1, nil
	}
	if e.identity.Verify(wallet, record.Player2.StealthID) {
		return &record.Player2, nil
	}
	return nil, newError(KindPrecondition, "not-a-participant")
}

// extractTxID pulls a tx id out of an opaque payment proof: if it parses as
// JSON, read txSignature/signature/tx; otherwise treat the whole string as
// the tx id.
func extractTxID(proof string) string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(proof), &parsed); err == nil {
		for _, key := range []string{"txSignature", "signature", "tx"} {
			if v, ok := parsed[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return proof
}

// newDuelID returns a 32-char hex id generated from 16 random bytes. A v4
// UUID's 16 bytes already are cryptographically random, so hex-encoding it
// without dashes satisfies the requirement directly.
func newDuelID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// toSmallestUnit converts a human-unit decimal amount to the token's
// smallest-unit integer representation, truncating any sub-smallest-unit
// remainder.
func toSmallestUnit(amount decimal.Decimal, decimals int32) int64 {
	scale := decimal.New(1, decimals)
	return amount.Mul(scale).Truncate(0).IntPart()
}
