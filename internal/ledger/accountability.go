// Package ledger implements the commit-then-settle accountability
// protocol: a cryptographic commitment is written to a public ledger
// before any settlement funds move, so any deviation from the committed
// outcome is externally detectable.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProtocolVersion is bumped whenever the canonical commitment field order
// changes; recomputing a hash against the wrong version will not match.
const ProtocolVersion = 1

// Commitment is the object hashed and (optionally) anchored before a
// settlement transfer. Field order here is the canonical serialisation:
// changing it without bumping Version breaks every previously recorded
// hash.
type Commitment struct {
	DuelID              string `json:"duel_id"`
	WinnerStealthID     string `json:"winner_stealth_id"`
	LoserStealthID      string `json:"loser_stealth_id"`
	GameServerSignature string `json:"game_server_signature"`
	Timestamp           int64  `json:"timestamp"`
	Version             int    `json:"version"`
}

// Record is one audit-log entry.
type Record struct {
	ID             string
	DuelID         string
	Commitment     Commitment
	CommitmentHash string
	OnChainTxID    string
	OnChainSuccess bool
	RecordedAt     time.Time
}

// Anchor is the interface over the external ledger-anchoring primitive:
// publish an opaque payload, get a tx id back. Accountability treats it as
// a narrow dependency so it can be swapped for a no-op in tests.
type Anchor interface {
	Publish(ctx context.Context, payload []byte) (txID string, err error)
}

// Accountability owns the in-memory audit log and commit-then-settle
// algorithm. The audit log holds one record per duel id: a later commitment
// for the same duel replaces the earlier record, which is not kept. Writing
// the record is unconditional: a publish failure never prevents it.
type Accountability struct {
	anchor Anchor
	log    *logrus.Entry

	mu      sync.RWMutex
	records map[string]*Record // duel_id -> most recent commitment record
}

// New builds an Accountability component. anchor may be nil, in which case
// commit_to_settlement always behaves as if publish=false.
func New(anchor Anchor, log *logrus.Entry) *Accountability {
	return &Accountability{
		anchor:  anchor,
		log:     log,
		records: make(map[string]*Record),
	}
}

// CommitToSettlement builds the commitment object, hashes it, optionally
// publishes it to the ledger, and unconditionally stores it in the audit
// log, replacing any earlier record for the same duel id. Publication
// failure is logged and non-fatal: the caller proceeds to move funds
// regardless.
func (a *Accountability) CommitToSettlement(ctx context.Context, duelID, winnerStealthID, loserStealthID, gameServerSignature string, publish bool) (*Record, error) {
	now := time.Now()
	commitment := Commitment{
		DuelID:              duelID,
		WinnerStealthID:     winnerStealthID,
		LoserStealthID:      loserStealthID,
		GameServerSignature: gameServerSignature,
		Timestamp:           now.Unix(),
		Version:             ProtocolVersion,
	}

	hash, _, err := HashCommitment(commitment)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:             uuid.New().String(),
		DuelID:         duelID,
		Commitment:     commitment,
		CommitmentHash: hash,
		RecordedAt:     now,
	}

	if publish && a.anchor != nil {
		txID, err := a.anchor.Publish(ctx, []byte(hash))
		if err != nil {
			a.log.WithField("duel_id", duelID).WithError(err).Warn("ledger publish failed, continuing to settlement")
			record.OnChainSuccess = false
		} else {
			record.OnChainTxID = txID
			record.OnChainSuccess = true
		}
	}

	a.mu.Lock()
	a.records[duelID] = record
	a.mu.Unlock()

	return record, nil
}

// VerifyCommitment recomputes the hash of commitment and compares it
// against expectedHash byte-for-byte.
func VerifyCommitment(commitment Commitment, expectedHash string) bool {
	hash, _, err := HashCommitment(commitment)
	if err != nil {
		return false
	}
	return hash == expectedHash
}

// GetCommitmentRecord returns the most recent commitment record for
// duelID, or (nil, false) if none exists.
func (a *Accountability) GetCommitmentRecord(duelID string) (*Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[duelID]
	return r, ok
}

// diagnosable is implemented by anchors that can report RPC connectivity
// without submitting a transaction.
type diagnosable interface {
	Diagnose(ctx context.Context) ConnectivityReport
}

// Diagnose reports whether the underlying anchor can currently reach its
// RPC endpoint. It returns ok=false if no anchor is configured or the
// anchor does not support diagnostics.
func (a *Accountability) Diagnose(ctx context.Context) (report ConnectivityReport, ok bool) {
	d, ok := a.anchor.(diagnosable)
	if !ok {
		return ConnectivityReport{}, false
	}
	return d.Diagnose(ctx), true
}

// HashCommitment canonically serialises commitment (stable field order via
// struct tags, matching Go's natural marshal order) and returns its
// SHA-256 hex digest along with the raw bytes hashed.
func HashCommitment(commitment Commitment) (hash string, raw []byte, err error) {
	raw, err = json.Marshal(commitment)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), raw, nil
}
