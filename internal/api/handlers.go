package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"duelescrow/internal/config"
	"duelescrow/internal/escrow"
	"duelescrow/internal/store"
)

// Handler wires the escrow engine into gin route handlers.
type Handler struct {
	engine        *escrow.Engine
	tokens        config.TokenTable
	solanaNetwork string
}

// NewHandler builds a Handler.
func NewHandler(engine *escrow.Engine, tokens config.TokenTable, solanaNetwork string) *Handler {
	return &Handler{engine: engine, tokens: tokens, solanaNetwork: solanaNetwork}
}

// HealthReady reports readiness, including whether the ledger anchor can
// currently reach its RPC endpoint. It always returns 200: an unreachable
// anchor degrades commit-then-settle publishing, not liveness.
func (h *Handler) HealthReady(c *gin.Context) {
	report, ok := h.engine.LedgerConnectivity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "ledger": "not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "ledger": report})
}

func (h *Handler) CreateDuel(c *gin.Context) {
	var req createDuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := req.validate(h.tokens); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.CreateDuel(escrow.CreateDuelInput{
		Player1Wallet:      req.Player1Wallet,
		Player2Wallet:      req.Player2Wallet,
		Player1CharacterID: req.Player1CharacterID,
		Player2CharacterID: req.Player2CharacterID,
		Player1Name:        req.Player1Name,
		Player2Name:        req.Player2Name,
		StakeAmount:        decimal.NewFromFloat(req.StakeAmount),
		Token:              req.tokenOrDefault(),
		Rules:              req.Rules,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"duelId":              result.DuelID,
		"player1StealthId":    result.Player1StealthID,
		"player2StealthId":    result.Player2StealthID,
		"stakeAmountLamports": fmt.Sprintf("%d", result.StakeAmountSmallest),
		"expiresAt":           result.ExpiresAt,
	})
}

func (h *Handler) LockStake(c *gin.Context) {
	var req lockStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.LockStake(escrow.LockStakeInput{
		DuelID:       req.DuelID,
		PlayerWallet: req.PlayerWallet,
		PaymentProof: req.PaymentProof,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"txSignature": result.TxID,
		"duelStatus":  result.DuelStatus,
		"bothLocked":  result.BothLocked,
	})
}

func (h *Handler) Settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.Settle(c.Request.Context(), escrow.SettleInput{
		DuelID:              req.DuelID,
		WinnerWallet:        req.WinnerWallet,
		WinnerCharacterID:   req.WinnerCharacterID,
		GameServerSignature: req.ServerSignature,
		CombatSummary:       req.CombatSummary,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"winnerTxSignature":     result.WinnerTxID,
		"treasuryTxSignature":   result.TreasuryTxID,
		"winnerPayoutLamports":  fmt.Sprintf("%d", result.WinnerPayout),
		"treasuryFeeLamports":   fmt.Sprintf("%d", result.HouseFee),
		"commitmentHash":        result.CommitmentHash,
		"commitmentTxSignature": result.CommitmentTxID,
	})
}

func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.Refund(c.Request.Context(), escrow.RefundInput{DuelID: req.DuelID})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"refundTxSignatures": result.TxIDs,
	})
}

func (h *Handler) GetDuel(c *gin.Context) {
	duelID := c.Param("duelId")
	if err := validateDuelID(duelID); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	record, err := h.engine.GetDuel(duelID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"duel":    duelResponse(record),
	})
}

func (h *Handler) VerifyDuel(c *gin.Context) {
	duelID := c.Param("duelId")
	if err := validateDuelID(duelID); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.VerifyDuel(duelID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	onChain := gin.H{"posted": result.Commitment.OnChainSuccess}
	if result.Commitment.OnChainSuccess {
		onChain["txSignature"] = result.Commitment.OnChainTxID
		onChain["explorerUrl"] = explorerURL(h.solanaNetwork, result.Commitment.OnChainTxID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"verification": gin.H{
			"winnerStealthId": result.WinnerStealthID,
		},
		"commitment": gin.H{
			"rawData":        result.Commitment.Commitment,
			"hash":           result.Commitment.CommitmentHash,
			"recomputedHash": result.RecomputedHash,
			"hashMatches":    result.HashMatches,
		},
		"onChain": onChain,
	})
}

func (h *Handler) RecoveryStatus(c *gin.Context) {
	status := h.engine.GetRecoveryStatus()
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"failedDuels":        status.FailedDuels,
		"pendingSettlements": status.PendingSettlements,
		"stats": gin.H{
			"created": status.Stats.Created,
			"expired": status.Stats.Expired,
			"active":  status.ActiveDuels,
		},
	})
}

func (h *Handler) EmergencyRefund(c *gin.Context) {
	var req emergencyRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.engine.EmergencyRefund(c.Request.Context(), escrow.EmergencyRefundInput{
		DuelID:         req.DuelID,
		Player1Wallet:  req.Player1Wallet,
		Player2Wallet:  req.Player2Wallet,
		StakePerPlayer: req.StakePerPlayerLamports,
		Token:          req.tokenOrDefault(),
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	refunds := make([]gin.H, 0, len(result.Legs))
	for _, leg := range result.Legs {
		entry := gin.H{"player": leg.Wallet, "success": leg.Success}
		if leg.Success {
			entry["txSignature"] = leg.TxID
		} else {
			entry["error"] = leg.Error
		}
		refunds = append(refunds, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"refunds": refunds,
	})
}

func (h *Handler) DustStatus(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = "SOL"
	}
	rules, ok := h.tokens[token]
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("unsupported token"))
		return
	}

	status := h.engine.GetDustStatus(token)
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"dustLamports":   status.Amount,
		"canSweep":       decimal.NewFromInt(int64(status.Amount)).GreaterThanOrEqual(rules.MinimumTransfer),
		"minimumToSweep": rules.MinimumTransfer.String(),
	})
}

func (h *Handler) SweepDust(c *gin.Context) {
	var req sweepDustRequest
	_ = c.ShouldBindJSON(&req)
	token := req.tokenOrDefault()
	if !h.tokens.Supported(token) {
		c.JSON(http.StatusBadRequest, errorResponse("unsupported token"))
		return
	}

	result, err := h.engine.DustSweep(c.Request.Context(), token)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"sweptLamports": result.AmountSwept,
		"txSignature":   result.TxID,
	})
}

func duelResponse(record *store.Duel) gin.H {
	return gin.H{
		"duelId": record.DuelID,
		"status": record.Status,
		"player1": gin.H{
			"stealthId":   record.Player1.StealthID,
			"name":        record.Player1.DisplayName,
			"characterId": record.Player1.CharacterID,
			"locked":      record.Player1.StakeLocked,
		},
		"player2": gin.H{
			"stealthId":   record.Player2.StealthID,
			"name":        record.Player2.DisplayName,
			"characterId": record.Player2.CharacterID,
			"locked":      record.Player2.StakeLocked,
		},
		"stake":           fmt.Sprintf("%d", record.Player1.StakeAmount),
		"token":           record.Token,
		"rules":           record.Rules,
		"expiresAt":       record.ExpiresAt,
		"winnerStealthId": record.WinnerStealthID,
		"combatSummary":   record.CombatSummary,
	}
}

func explorerURL(network, signature string) string {
	if signature == "" {
		return ""
	}
	if network == "mainnet-beta" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", signature)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, network)
}
