// Package transfer is the client for the external zero-knowledge transfer
// backend: the shielded pool that actually moves value. The core treats it
// as an opaque HTTP service; this package owns the escrow/treasury
// keypairs, builds the signed intents, and never retries on its own — that
// policy belongs to the escrow engine.
package transfer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Scheme is the fixed protocol tag in every signed intent string.
const Scheme = "duelescrow"

// TransferType distinguishes the kinds of outbound value movement this
// client signs for.
type TransferType string

const (
	TransferTypeSettlement TransferType = "settlement"
	TransferTypeRefund     TransferType = "refund"
	TransferTypeTreasury   TransferType = "treasury"
	TransferTypeEmergency  TransferType = "emergency"
)

// Client talks to the zero-knowledge transfer backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       *Keys
	proofGen   ProofGenerator
	log        *logrus.Entry
}

// New builds a Client. baseURL is the transfer backend's base URL
// keys must already be decoded (see LoadKeys).
func New(baseURL string, keys *Keys, proofGen ProofGenerator, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		keys:     keys,
		proofGen: proofGen,
		log:      log,
	}
}

type balanceResponse struct {
	Available *string `json:"available"`
	Balance   *string `json:"balance"`
}

// EscrowWallet returns the escrow keypair's base58 public key.
func (c *Client) EscrowWallet() string {
	return c.keys.Escrow.PublicKey().String()
}

// TreasuryWallet returns the treasury keypair's base58 public key.
func (c *Client) TreasuryWallet() string {
	return c.keys.Treasury.PublicKey().String()
}

// GetBalance fetches the available balance for wallet in token's smallest
// unit, as reported by the shielded pool.
func (c *Client) GetBalance(ctx context.Context, wallet, token string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/pool/balance/%s", c.baseURL, wallet)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, &Error{Kind: KindUnknownWallet, Message: "wallet not known to transfer backend"}
	}
	if resp.StatusCode >= 500 {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: fmt.Sprintf("transfer backend returned %d", resp.StatusCode)}
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: fmt.Sprintf("parse balance response: %v", err)}
	}

	raw := parsed.Available
	if raw == nil {
		raw = parsed.Balance
	}
	if raw == nil {
		return decimal.Zero, nil
	}

	amount, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Message: fmt.Sprintf("parse balance amount: %v", err)}
	}
	return amount, nil
}

// TransferRequest describes one internal_transfer call.
type TransferRequest struct {
	SenderWallet    string
	RecipientWallet string
	Token           string
	AmountSmallest  int64
	Type            TransferType
	// Nonce, when non-empty, is carried across retries of the same logical
	// transfer so a conforming backend can deduplicate. Callers
	// performing a one-shot transfer may leave it empty; a fresh one is
	// generated per call.
	Nonce string
}

type internalTransferWire struct {
	SenderWallet    string `json:"sender_wallet"`
	RecipientWallet string `json:"recipient_wallet"`
	Token           string `json:"token"`
	Nonce           uint32 `json:"nonce"`
	Amount          int64  `json:"amount"`
	ProofBytes      string `json:"proof_bytes"`
	Commitment      string `json:"commitment"`
	SenderSignature string `json:"sender_signature"`
}

type internalTransferResponse struct {
	Success   bool    `json:"success"`
	TxID      *string `json:"tx_signature"`
	ErrorCode *string `json:"error"`
	Message   *string `json:"message"`
}

// InternalTransfer moves value inside the shielded pool. It never retries:
// the caller (the escrow engine) owns the retry policy.
func (c *Client) InternalTransfer(ctx context.Context, req TransferRequest) (string, error) {
	nonce := req.Nonce
	if nonce == "" {
		nonce = uuid.New().String()
	}

	proof, err := c.proofGen.Generate(req.AmountSmallest)
	if err != nil {
		return "", &Error{Kind: KindInvalidProof, Message: err.Error()}
	}

	signature, err := c.sign(string(req.Type), nonce)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: fmt.Sprintf("sign intent: %v", err)}
	}

	wire := internalTransferWire{
		SenderWallet:    req.SenderWallet,
		RecipientWallet: req.RecipientWallet,
		Token:           req.Token,
		Nonce:           nonceToUint32(nonce),
		Amount:          req.AmountSmallest,
		ProofBytes:      proof.ProofHex,
		Commitment:      proof.CommitmentHex,
		SenderSignature: signature,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/zk/internal-transfer", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &Error{Kind: KindRateLimit, Message: "transfer backend rate limit exceeded"}
	}
	if resp.StatusCode >= 500 {
		return "", &Error{Kind: KindNetwork, Message: fmt.Sprintf("transfer backend returned %d", resp.StatusCode)}
	}

	var parsed internalTransferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Kind: KindNetwork, Message: fmt.Sprintf("parse transfer response: %v", err)}
	}

	if !parsed.Success {
		return "", classifyBackendError(parsed)
	}
	if parsed.TxID == nil {
		return "", &Error{Kind: KindNetwork, Message: "transfer backend reported success without a tx id"}
	}
	return *parsed.TxID, nil
}

func classifyBackendError(resp internalTransferResponse) *Error {
	message := "transfer failed"
	if resp.Message != nil {
		message = *resp.Message
	}
	kind := KindNetwork
	if resp.ErrorCode != nil {
		switch *resp.ErrorCode {
		case "insufficient-balance":
			kind = KindInsufficientBalance
		case "below-minimum":
			kind = KindBelowMinimum
		case "invalid-proof":
			kind = KindInvalidProof
		case "rate-limit":
			kind = KindRateLimit
		default:
			kind = KindNetwork
		}
	}
	return &Error{Kind: kind, Message: message}
}

// sign produces a detached Ed25519 signature, base58-encoded, over
// "<scheme>:<transfer-type>:<uuid-nonce>:<unix-seconds>", signed by the
// escrow keypair (the payer of record for every outbound transfer in this
// client).
func (c *Client) sign(transferType, nonce string) (string, error) {
	intent := fmt.Sprintf("%s:%s:%s:%d", Scheme, transferType, nonce, time.Now().Unix())
	sig := ed25519.Sign(ed25519.PrivateKey(c.keys.Escrow), []byte(intent))
	return base58.Encode(sig), nil
}

// nonceToUint32 folds a uuid string into the 32-bit nonce field the
// backend's wire format expects, while the full string is what actually
// gets carried into the signed intent for dedup purposes.
func nonceToUint32(nonce string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(nonce); i++ {
		h ^= uint32(nonce[i])
		h *= 16777619
	}
	return h
}
