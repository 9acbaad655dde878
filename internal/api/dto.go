package api

import (
	"fmt"
	"strings"

	"duelescrow/internal/config"
)

// createDuelRequest is the wire body for POST /create.
type createDuelRequest struct {
	Player1Wallet      string         `json:"player1Wallet"`
	Player2Wallet      string         `json:"player2Wallet"`
	Player1CharacterID string         `json:"player1CharacterId"`
	Player2CharacterID string         `json:"player2CharacterId"`
	Player1Name        string         `json:"player1Name"`
	Player2Name        string         `json:"player2Name"`
	StakeAmount        float64        `json:"stakeAmount"`
	Token              string         `json:"token"`
	Rules              map[string]any `json:"rules"`
}

func (r createDuelRequest) validate(tokens config.TokenTable) error {
	if err := validateWallet(r.Player1Wallet); err != nil {
		return fmt.Errorf("player1Wallet: %w", err)
	}
	if err := validateWallet(r.Player2Wallet); err != nil {
		return fmt.Errorf("player2Wallet: %w", err)
	}
	if strings.TrimSpace(r.Player1CharacterID) == "" {
		return fmt.Errorf("player1CharacterId is required")
	}
	if strings.TrimSpace(r.Player2CharacterID) == "" {
		return fmt.Errorf("player2CharacterId is required")
	}
	if err := validateName(r.Player1Name); err != nil {
		return fmt.Errorf("player1Name: %w", err)
	}
	if err := validateName(r.Player2Name); err != nil {
		return fmt.Errorf("player2Name: %w", err)
	}
	if r.StakeAmount <= 0 {
		return fmt.Errorf("stakeAmount must be positive")
	}
	token := r.Token
	if token == "" {
		token = "SOL"
	}
	if !tokens.Supported(token) {
		return fmt.Errorf("token %q is not supported", token)
	}
	return nil
}

func (r createDuelRequest) tokenOrDefault() string {
	if r.Token == "" {
		return "SOL"
	}
	return r.Token
}

type lockStakeRequest struct {
	DuelID       string `json:"duelId"`
	PlayerWallet string `json:"playerWallet"`
	PaymentProof string `json:"paymentProof"`
}

func (r lockStakeRequest) validate() error {
	if err := validateDuelID(r.DuelID); err != nil {
		return err
	}
	if err := validateWallet(r.PlayerWallet); err != nil {
		return fmt.Errorf("playerWallet: %w", err)
	}
	if strings.TrimSpace(r.PaymentProof) == "" {
		return fmt.Errorf("paymentProof is required")
	}
	return nil
}

type settleRequest struct {
	DuelID            string         `json:"duelId"`
	WinnerWallet      string         `json:"winnerWallet"`
	WinnerCharacterID string         `json:"winnerCharacterId"`
	ServerSignature   string         `json:"serverSignature"`
	CombatSummary     map[string]any `json:"combatSummary"`
}

func (r settleRequest) validate() error {
	if err := validateDuelID(r.DuelID); err != nil {
		return err
	}
	if err := validateWallet(r.WinnerWallet); err != nil {
		return fmt.Errorf("winnerWallet: %w", err)
	}
	return nil
}

type refundRequest struct {
	DuelID          string `json:"duelId"`
	Reason          string `json:"reason"`
	ServerSignature string `json:"serverSignature"`
}

func (r refundRequest) validate() error {
	if err := validateDuelID(r.DuelID); err != nil {
		return err
	}
	switch r.Reason {
	case "timeout", "cancelled", "error":
	default:
		return fmt.Errorf("reason must be one of timeout, cancelled, error")
	}
	return nil
}

type emergencyRefundRequest struct {
	DuelID                 string `json:"duelId"`
	Player1Wallet          string `json:"player1Wallet"`
	Player2Wallet          string `json:"player2Wallet"`
	StakePerPlayerLamports int64  `json:"stakePerPlayerLamports"`
	Token                  string `json:"token"`
}

func (r emergencyRefundRequest) validate() error {
	if err := validateDuelID(r.DuelID); err != nil {
		return err
	}
	if err := validateWallet(r.Player1Wallet); err != nil {
		return fmt.Errorf("player1Wallet: %w", err)
	}
	if err := validateWallet(r.Player2Wallet); err != nil {
		return fmt.Errorf("player2Wallet: %w", err)
	}
	if r.StakePerPlayerLamports <= 0 {
		return fmt.Errorf("stakePerPlayerLamports must be positive")
	}
	return nil
}

func (r emergencyRefundRequest) tokenOrDefault() string {
	if r.Token == "" {
		return "SOL"
	}
	return r.Token
}

type sweepDustRequest struct {
	Token string `json:"token"`
}

func (r sweepDustRequest) tokenOrDefault() string {
	if r.Token == "" {
		return "SOL"
	}
	return r.Token
}

func validateWallet(wallet string) error {
	n := len(strings.TrimSpace(wallet))
	if n < 32 || n > 44 {
		return fmt.Errorf("must be 32-44 characters, got %d", n)
	}
	return nil
}

func validateDuelID(duelID string) error {
	if len(duelID) != 32 {
		return fmt.Errorf("duelId: must be exactly 32 hex characters, got %d", len(duelID))
	}
	return nil
}

func validateName(name string) error {
	n := len(strings.TrimSpace(name))
	if n < 1 || n > 32 {
		return fmt.Errorf("must be 1-32 characters, got %d", n)
	}
	return nil
}
