// Package api is the inbound HTTP surface: a shared-secret-gated internal
// API under /api/v1/duel, plus public health endpoints and, in
// development, a read-only single-duel lookup for browser testing.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"duelescrow/internal/config"
	"duelescrow/internal/escrow"
)

// NewRouter builds the full gin engine for the service.
func NewRouter(engine *escrow.Engine, cfg *config.Config, log *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler := NewHandler(engine, cfg.Tokens, cfg.Solana.Network)
	router.GET("/health/ready", handler.HealthReady)

	limiter := newClientLimiter()

	v1 := router.Group("/api/v1/duel")
	v1.Use(internalAuth(cfg.Server.InternalKey))
	v1.Use(rateLimit(limiter))
	{
		v1.POST("/create", handler.CreateDuel)
		v1.POST("/lock-stake", handler.LockStake)
		v1.POST("/settle", handler.Settle)
		v1.POST("/refund", handler.Refund)
		v1.GET("/verify/:duelId", handler.VerifyDuel)
		v1.GET("/recovery/status", handler.RecoveryStatus)
		v1.POST("/recovery/emergency-refund", handler.EmergencyRefund)
		v1.GET("/dust-status", handler.DustStatus)
		v1.POST("/sweep-dust", handler.SweepDust)
		v1.GET("/:duelId", handler.GetDuel)
	}

	if cfg.Server.Environment == "development" {
		dev := router.Group("/dev")
		dev.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET"},
			AllowHeaders:    []string{"Origin", "Content-Type"},
		}))
		dev.GET("/duel/:duelId", handler.GetDuel)
		log.Info("development duel CRUD surface mounted at /dev")
	}

	return router
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration", time.Since(start)).
			Debug("handled request")
	}
}
