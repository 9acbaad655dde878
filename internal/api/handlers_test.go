package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"duelescrow/internal/config"
	"duelescrow/internal/escrow"
	"duelescrow/internal/ledger"
	"duelescrow/internal/stealth"
	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

const testInternalKey = "test-internal-shared-secret"

// newTestRouter wires a full router backed by an in-process escrow engine
// whose transfer client talks to an httptest server driven by handler.
func newTestRouter(t *testing.T, handler http.HandlerFunc) *gin.Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	keys := &transfer.Keys{Escrow: solana.NewWallet().PrivateKey, Treasury: solana.NewWallet().PrivateKey}
	client := transfer.New(srv.URL, keys, transfer.NewLocalProofGenerator(), testLogger())

	st := store.New()
	identity := stealth.New("test-pepper-at-least-32-characters-long")
	accountability := ledger.New(nil, testLogger())

	engine := escrow.New(st, identity, client, accountability, testTokens(), 2, time.Hour, testLogger())

	cfg := &config.Config{
		Server: config.ServerConfig{Environment: "production", InternalKey: testInternalKey},
		Solana: config.SolanaConfig{Network: "devnet"},
		Tokens: testTokens(),
	}

	return NewRouter(engine, cfg, testLogger())
}

func doRequest(router *gin.Engine, method, path string, body any, internalKey string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if internalKey != "" {
		req.Header.Set("X-Internal-Secret", internalKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rec.Body.String())
	}
	return body
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	rec := doRequest(router, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestInternalRouteRejectsMissingSecret(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	rec := doRequest(router, http.MethodGet, "/api/v1/duel/recovery/status", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInternalRouteRejectsWrongSecret(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	rec := doRequest(router, http.MethodGet, "/api/v1/duel/recovery/status", nil, "not-the-secret")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateDuelRejectsInvalidWallet(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	rec := doRequest(router, http.MethodPost, "/api/v1/duel/create", map[string]any{
		"player1Wallet": "short",
		"player2Wallet": "Player2Wallet22222222222222222222222",
		"stakeAmount":   1.0,
		"token":         "SOL",
	}, testInternalKey)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateDuelRejectsUnsupportedToken(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	rec := doRequest(router, http.MethodPost, "/api/v1/duel/create", map[string]any{
		"player1Wallet": "Player1Wallet11111111111111111111111",
		"player2Wallet": "Player2Wallet22222222222222222222222",
		"stakeAmount":   1.0,
		"token":         "DOGE",
	}, testInternalKey)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestFullDuelLifecycleViaHTTP(t *testing.T) {
	router := newTestRouter(t, alwaysSucceedsHandler(t))
	p1Wallet := "Player1Wallet11111111111111111111111"
	p2Wallet := "Player2Wallet22222222222222222222222"

	createRec := doRequest(router, http.MethodPost, "/api/v1/duel/create", map[string]any{
		"player1Wallet":      p1Wallet,
		"player2Wallet":      p2Wallet,
		"player1CharacterId": "char1",
		"player2CharacterId": "char2",
		"player1Name":        "Alice",
		"player2Name":        "Bob",
		"stakeAmount":        1.0,
		"token":              "SOL",
	}, testInternalKey)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", createRec.Code, createRec.Body.String())
	}
	created := decodeBody(t, createRec)
	duelID, _ := created["duelId"].(string)
	if duelID == "" {
		t.Fatalf("expected a duel id in create response, got %v", created)
	}

	for _, wallet := range []string{p1Wallet, p2Wallet} {
		lockRec := doRequest(router, http.MethodPost, "/api/v1/duel/lock-stake", map[string]any{
			"duelId":       duelID,
			"playerWallet": wallet,
			"paymentProof": "sig-" + wallet[:6],
		}, testInternalKey)
		if lockRec.Code != http.StatusOK {
			t.Fatalf("lock-stake status = %d, body %s", lockRec.Code, lockRec.Body.String())
		}
	}

	settleRec := doRequest(router, http.MethodPost, "/api/v1/duel/settle", map[string]any{
		"duelId":          duelID,
		"winnerWallet":    p1Wallet,
		"serverSignature": "gs-sig",
	}, testInternalKey)
	if settleRec.Code != http.StatusOK {
		t.Fatalf("settle status = %d, body %s", settleRec.Code, settleRec.Body.String())
	}
	settled := decodeBody(t, settleRec)
	if settled["winnerPayoutLamports"] != "1950200000" {
		t.Fatalf("winnerPayoutLamports = %v, want 1950200000", settled["winnerPayoutLamports"])
	}

	getRec := doRequest(router, http.MethodGet, "/api/v1/duel/"+duelID, nil, testInternalKey)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", getRec.Code, getRec.Body.String())
	}

	verifyRec := doRequest(router, http.MethodGet, "/api/v1/duel/verify/"+duelID, nil, testInternalKey)
	if verifyRec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", verifyRec.Code, verifyRec.Body.String())
	}
	verified := decodeBody(t, verifyRec)
	commitment, _ := verified["commitment"].(map[string]any)
	if commitment == nil || commitment["hashMatches"] != true {
		t.Fatalf("expected hashMatches=true, got %v", verified)
	}
}

func TestDevDuelRouteOnlyMountedInDevelopment(t *testing.T) {
	srv := httptest.NewServer(alwaysSucceedsHandler(t))
	t.Cleanup(srv.Close)

	keys := &transfer.Keys{Escrow: solana.NewWallet().PrivateKey, Treasury: solana.NewWallet().PrivateKey}
	client := transfer.New(srv.URL, keys, transfer.NewLocalProofGenerator(), testLogger())
	st := store.New()
	identity := stealth.New("test-pepper-at-least-32-characters-long")
	accountability := ledger.New(nil, testLogger())
	engine := escrow.New(st, identity, client, accountability, testTokens(), 2, time.Hour, testLogger())

	prodCfg := &config.Config{Server: config.ServerConfig{Environment: "production", InternalKey: testInternalKey}, Tokens: testTokens()}
	prodRouter := NewRouter(engine, prodCfg, testLogger())
	rec := doRequest(prodRouter, http.MethodGet, "/dev/duel/anything", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected /dev unmounted in production, status = %d", rec.Code)
	}

	devCfg := &config.Config{Server: config.ServerConfig{Environment: "development", InternalKey: testInternalKey}, Tokens: testTokens()}
	devRouter := NewRouter(engine, devCfg, testLogger())
	rec = doRequest(devRouter, http.MethodGet, "/dev/duel/anything", nil, "")
	if rec.Code == http.StatusNotFound {
		t.Fatalf("expected /dev mounted in development")
	}
}
