// Package stealth derives deterministic, non-invertible identifiers for
// player wallets and keeps the in-process reverse mapping needed to pay out
// a wallet without ever persisting it.
package stealth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
)

// Identity generates and verifies stealth ids and owns the reverse map from
// stealth id back to wallet. A single Identity is shared across duels; the
// escrow engine serialises register/resolve/unregister calls per duel under
// its own critical section.
type Identity struct {
	pepper []byte

	mu      sync.RWMutex
	reverse map[string]string // stealth id -> wallet
}

// New builds an Identity keyed by pepper. pepper must be at least 32 bytes;
// callers validate this at config load time.
func New(pepper string) *Identity {
	return &Identity{
		pepper:  []byte(pepper),
		reverse: make(map[string]string),
	}
}

// Generate derives the stealth id for wallet: HMAC-SHA256(pepper,
// normalise(wallet)), lowercase hex. Deterministic and pure; never fails.
func (id *Identity) Generate(wallet string) string {
	mac := hmac.New(sha256.New, id.pepper)
	mac.Write([]byte(normalise(wallet)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether wallet hashes to stealthID, in constant time.
func (id *Identity) Verify(wallet, stealthID string) bool {
	want := id.Generate(wallet)
	return subtle.ConstantTimeCompare([]byte(want), []byte(stealthID)) == 1
}

// Register records the reverse mapping stealth id -> wallet, overwriting
// any prior entry for the same id.
func (id *Identity) Register(wallet string) string {
	stealthID := id.Generate(wallet)
	id.mu.Lock()
	id.reverse[stealthID] = wallet
	id.mu.Unlock()
	return stealthID
}

// Resolve looks up the wallet behind a stealth id. The second return value
// is false when the id is unknown (never registered, or already
// unregistered on a terminal transition).
func (id *Identity) Resolve(stealthID string) (string, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	wallet, ok := id.reverse[stealthID]
	return wallet, ok
}

// Unregister drops the reverse mapping for stealthID. Called on every
// terminal transition (SETTLED, REFUNDED) so invariant 2 holds.
func (id *Identity) Unregister(stealthID string) {
	id.mu.Lock()
	delete(id.reverse, stealthID)
	id.mu.Unlock()
}

// Mask returns a display-safe truncation of wallet; never the raw value in
// full.
func Mask(wallet string) string {
	w := normalise(wallet)
	if len(w) <= 8 {
		return strings.Repeat("*", len(w))
	}
	return w[:4] + "..." + w[len(w)-4:]
}

// normalise trims surrounding whitespace. External wallet address casing is
// preserved as-is.
func normalise(wallet string) string {
	return strings.TrimSpace(wallet)
}
