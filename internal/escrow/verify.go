package escrow

import "duelescrow/internal/ledger"

// VerifyResult is the data returned by VerifyDuel: the stored commitment
// record plus an independently recomputed hash, so a caller can see for
// itself that the two match rather than trusting a stored boolean alone.
type VerifyResult struct {
	DuelID          string
	WinnerStealthID string
	Commitment      *ledger.Record
	RecomputedHash  string
	HashMatches     bool
}

// VerifyDuel looks up the most recent commitment record for duelID and
// recomputes its hash from the stored commitment fields.
func (e *Engine) VerifyDuel(duelID string) (*VerifyResult, error) {
	record, ok := e.store.Get(duelID)
	if !ok {
		return nil, newError(KindNotFound, "duel not found")
	}

	commitRecord, ok := e.ledger.GetCommitmentRecord(duelID)
	if !ok {
		return nil, newError(KindNotFound, "no commitment record for duel")
	}

	recomputedHash, _, err := ledger.HashCommitment(commitRecord.Commitment)
	if err != nil {
		return nil, newError(KindInternal, err.Error())
	}

	return &VerifyResult{
		DuelID:          duelID,
		WinnerStealthID: record.WinnerStealthID,
		Commitment:      commitRecord,
		RecomputedHash:  recomputedHash,
		HashMatches:     recomputedHash == commitRecord.CommitmentHash,
	}, nil
}
