package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"duelescrow/internal/config"
	"duelescrow/internal/ledger"
	"duelescrow/internal/stealth"
	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func testTokens() config.TokenTable {
	return config.TokenTable{
		"SOL": {
			Symbol:            "SOL",
			Decimals:          9,
			MinimumStake:      decimal.NewFromInt(10000000),
			MinimumTransfer:   decimal.NewFromInt(100000000),
			DepositFeePercent: decimal.NewFromFloat(0.5),
		},
	}
}

// newTestEngine wires an Engine against an httptest transfer backend driven
// by handler, so each test controls exactly how internal_transfer responds.
func newTestEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	keys := &transfer.Keys{Escrow: solana.NewWallet().PrivateKey, Treasury: solana.NewWallet().PrivateKey}
	client := transfer.New(srv.URL, keys, transfer.NewLocalProofGenerator(), testLogger())

	st := store.New()
	identity := stealth.New("test-pepper-at-least-32-characters-long")
	accountability := ledger.New(nil, testLogger())

	engine := New(st, identity, client, accountability, testTokens(), 2, time.Hour, testLogger())
	return engine, st
}

func alwaysSucceedsHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		txID := "tx_" + body["sender_wallet"].(string)[:4]
		json.NewEncoder(w).Encode(map[string]any{"success": true, "tx_signature": txID})
	}
}

func createActiveDuel(t *testing.T, engine *Engine) (*CreateDuelResult, string, string) {
	t.Helper()
	p1Wallet := "Player1Wallet11111111111111111111111"
	p2Wallet := "Player2Wallet22222222222222222222222"

	created, err := engine.CreateDuel(CreateDuelInput{
		Player1Wallet:      p1Wallet,
		Player2Wallet:      p2Wallet,
		Player1CharacterID: "char1",
		Player2CharacterID: "char2",
		Player1Name:        "Alice",
		Player2Name:        "Bob",
		StakeAmount:        decimal.NewFromFloat(1.0),
		Token:              "SOL",
	})
	if err != nil {
		t.Fatalf("CreateDuel returned error: %v", err)
	}

	if _, err := engine.LockStake(LockStakeInput{DuelID: created.DuelID, PlayerWallet: p1Wallet, PaymentProof: "sig1"}); err != nil {
		t.Fatalf("LockStake(player1) returned error: %v", err)
	}
	lockResult, err := engine.LockStake(LockStakeInput{DuelID: created.DuelID, PlayerWallet: p2Wallet, PaymentProof: "sig2"})
	if err != nil {
		t.Fatalf("LockStake(player2) returned error: %v", err)
	}
	if !lockResult.BothLocked || lockResult.DuelStatus != store.StatusActive {
		t.Fatalf("expected duel to become ACTIVE once both locked, got %+v", lockResult)
	}

	return created, p1Wallet, p2Wallet
}

func TestCreateDuelRejectsSameWallet(t *testing.T) {
	engine, _ := newTestEngine(t, alwaysSucceedsHandler(t))
	_, err := engine.CreateDuel(CreateDuelInput{
		Player1Wallet: "sameWallet",
		Player2Wallet: "sameWallet",
		StakeAmount:   decimal.NewFromFloat(1.0),
		Token:         "SOL",
	})
	if err == nil {
		t.Fatalf("expected validation error for identical wallets")
	}
}

func TestCreateDuelRejectsStakeBelowMinimum(t *testing.T) {
	engine, _ := newTestEngine(t, alwaysSucceedsHandler(t))
	_, err := engine.CreateDuel(CreateDuelInput{
		Player1Wallet: "walletA",
		Player2Wallet: "walletB",
		StakeAmount:   decimal.NewFromFloat(0.0000001),
		Token:         "SOL",
	})
	if err == nil {
		t.Fatalf("expected validation error for stake below minimum")
	}
}

func TestLockStakeAdvancesToActive(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))
	created, _, _ := createActiveDuel(t, engine)

	record, ok := st.Get(created.DuelID)
	if !ok {
		t.Fatalf("expected duel record to be present")
	}
	if record.Status != store.StatusActive {
		t.Fatalf("Status = %v, want ACTIVE", record.Status)
	}
}

func TestLockStakeRejectsDoubleLock(t *testing.T) {
	engine, _ := newTestEngine(t, alwaysSucceedsHandler(t))
	created, p1Wallet, _ := createActiveDuel(t, engine)

	_, err := engine.LockStake(LockStakeInput{DuelID: created.DuelID, PlayerWallet: p1Wallet, PaymentProof: "sig1-again"})
	if err == nil {
		t.Fatalf("expected precondition error on double lock")
	}
}

func TestSettleHappyPath(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))
	created, p1Wallet, _ := createActiveDuel(t, engine)

	result, err := engine.Settle(context.Background(), SettleInput{
		DuelID:              created.DuelID,
		WinnerWallet:        p1Wallet,
		GameServerSignature: "gs-sig",
	})
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}

	// S = 1_000_000_000 (1 SOL at 9 decimals); f_d = 0.5%.
	// A = floor(S * 0.995) = 995_000_000; P = 2A = 1_990_000_000.
	// H = floor(P * 2%) = 39_800_000; W = P - H = 1_950_200_000.
	if result.HouseFee != 39800000 {
		t.Fatalf("HouseFee = %d, want 39800000", result.HouseFee)
	}
	if result.WinnerPayout != 1950200000 {
		t.Fatalf("WinnerPayout = %d, want 1950200000", result.WinnerPayout)
	}
	if result.WinnerTxID == "" {
		t.Fatalf("expected a non-empty winner tx id")
	}

	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusSettled {
		t.Fatalf("expected duel to be SETTLED, got %+v", record)
	}
}

func TestSettleRejectsNonParticipant(t *testing.T) {
	engine, _ := newTestEngine(t, alwaysSucceedsHandler(t))
	created, _, _ := createActiveDuel(t, engine)

	_, err := engine.Settle(context.Background(), SettleInput{
		DuelID:       created.DuelID,
		WinnerWallet: "someoneElseEntirely",
	})
	if err == nil {
		t.Fatalf("expected precondition error for non-participant winner")
	}
}

func TestSettleRetryExhaustionRevertsToActive(t *testing.T) {
	alwaysBadGateway := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	engine, st := newTestEngine(t, alwaysBadGateway)
	created, p1Wallet, _ := createActiveDuel(t, engine)

	start := time.Now()
	_, err := engine.Settle(context.Background(), SettleInput{
		DuelID:       created.DuelID,
		WinnerWallet: p1Wallet,
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	if elapsed < 2*winnerPayoutBackoff {
		t.Fatalf("expected at least two backoff waits between three attempts, elapsed %v", elapsed)
	}

	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusActive {
		t.Fatalf("expected duel reverted to ACTIVE, got %+v", record)
	}

	failed := st.ListFailed()
	if len(failed) != 1 || failed[0] != created.DuelID {
		t.Fatalf("expected duel id in failed-recovery set, got %v", failed)
	}
}

func TestRefundOneSidedLock(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))

	p1Wallet := "Player1Wallet11111111111111111111111"
	p2Wallet := "Player2Wallet22222222222222222222222"
	created, err := engine.CreateDuel(CreateDuelInput{
		Player1Wallet: p1Wallet,
		Player2Wallet: p2Wallet,
		StakeAmount:   decimal.NewFromFloat(1.0),
		Token:         "SOL",
	})
	if err != nil {
		t.Fatalf("CreateDuel returned error: %v", err)
	}
	if _, err := engine.LockStake(LockStakeInput{DuelID: created.DuelID, PlayerWallet: p1Wallet, PaymentProof: "sig1"}); err != nil {
		t.Fatalf("LockStake returned error: %v", err)
	}

	result, err := engine.Refund(context.Background(), RefundInput{DuelID: created.DuelID})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if len(result.TxIDs) != 1 {
		t.Fatalf("expected exactly one refund leg (only player1 locked), got %v", result.TxIDs)
	}

	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusRefunded {
		t.Fatalf("expected duel REFUNDED, got %+v", record)
	}
}

func TestDustSweepUnderMinimum(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))
	st.AddDust("SOL", 1000)

	result, err := engine.DustSweep(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("DustSweep returned error: %v", err)
	}
	if result.Swept {
		t.Fatalf("expected no sweep below minimum transfer")
	}
	if st.ReadDust("SOL") != 1000 {
		t.Fatalf("dust counter should be untouched below minimum")
	}
}

func TestDustSweepAboveMinimum(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))
	st.AddDust("SOL", 200000000)

	result, err := engine.DustSweep(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("DustSweep returned error: %v", err)
	}
	if !result.Swept || result.TxID == "" {
		t.Fatalf("expected a successful sweep, got %+v", result)
	}
	if st.ReadDust("SOL") != 0 {
		t.Fatalf("dust counter should reset to zero after sweep")
	}
}

func TestEmergencyRefundAllSuccessClearsRecoverySets(t *testing.T) {
	engine, st := newTestEngine(t, alwaysSucceedsHandler(t))
	created, p1Wallet, p2Wallet := createActiveDuel(t, engine)
	st.AddFailed(created.DuelID)

	result, err := engine.EmergencyRefund(context.Background(), EmergencyRefundInput{
		DuelID:         created.DuelID,
		Player1Wallet:  p1Wallet,
		Player2Wallet:  p2Wallet,
		StakePerPlayer: 1000000000,
		Token:          "SOL",
	})
	if err != nil {
		t.Fatalf("EmergencyRefund returned error: %v", err)
	}
	for _, leg := range result.Legs {
		if !leg.Success {
			t.Fatalf("expected all legs to succeed, got %+v", leg)
		}
	}

	if failed := st.ListFailed(); len(failed) != 0 {
		t.Fatalf("expected failed-recovery set cleared, got %v", failed)
	}
	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusRefunded {
		t.Fatalf("expected duel REFUNDED after emergency refund, got %+v", record)
	}

	if wallet, resolved := engine.identity.Resolve(record.Player1.StealthID); resolved {
		t.Fatalf("expected player1 stealth id unregistered after emergency refund, still resolves to %v", wallet)
	}
	if wallet, resolved := engine.identity.Resolve(record.Player2.StealthID); resolved {
		t.Fatalf("expected player2 stealth id unregistered after emergency refund, still resolves to %v", wallet)
	}
}

func TestEmergencyRefundPartialFailureMarksFailed(t *testing.T) {
	callCount := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		if callCount == 1 {
			json.NewEncoder(w).Encode(map[string]any{"success": true, "tx_signature": "tx_ok"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "insufficient-balance", "message": "no funds"})
	}
	engine, st := newTestEngine(t, handler)
	created, p1Wallet, p2Wallet := createActiveDuel(t, engine)
	st.AddFailed(created.DuelID)

	result, err := engine.EmergencyRefund(context.Background(), EmergencyRefundInput{
		DuelID:         created.DuelID,
		Player1Wallet:  p1Wallet,
		Player2Wallet:  p2Wallet,
		StakePerPlayer: 1000000000,
		Token:          "SOL",
	})
	if err != nil {
		t.Fatalf("EmergencyRefund returned error: %v", err)
	}
	if result.Legs[0].Success == result.Legs[1].Success {
		t.Fatalf("expected exactly one leg to fail, got %+v", result.Legs)
	}

	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusFailed {
		t.Fatalf("expected duel FAILED after a partial emergency refund, got %+v", record)
	}
}

func TestEmergencyRefundPartialFailureOutsideRecoveryLeavesStatusUntouched(t *testing.T) {
	callCount := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		if callCount == 1 {
			json.NewEncoder(w).Encode(map[string]any{"success": true, "tx_signature": "tx_ok"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "insufficient-balance", "message": "no funds"})
	}
	engine, st := newTestEngine(t, handler)
	created, p1Wallet, p2Wallet := createActiveDuel(t, engine)

	result, err := engine.EmergencyRefund(context.Background(), EmergencyRefundInput{
		DuelID:         created.DuelID,
		Player1Wallet:  p1Wallet,
		Player2Wallet:  p2Wallet,
		StakePerPlayer: 1000000000,
		Token:          "SOL",
	})
	if err != nil {
		t.Fatalf("EmergencyRefund returned error: %v", err)
	}
	if result.Legs[0].Success == result.Legs[1].Success {
		t.Fatalf("expected exactly one leg to fail, got %+v", result.Legs)
	}

	record, ok := st.Get(created.DuelID)
	if !ok || record.Status != store.StatusActive {
		t.Fatalf("expected duel status untouched (ACTIVE) for a duel not already in failed_recovery, got %+v", record)
	}
}
