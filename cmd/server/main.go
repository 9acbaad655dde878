package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"duelescrow/internal/api"
	"duelescrow/internal/config"
	"duelescrow/internal/escrow"
	"duelescrow/internal/ledger"
	"duelescrow/internal/stealth"
	"duelescrow/internal/store"
	"duelescrow/internal/transfer"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	entry := logrus.NewEntry(log)

	cfg, err := config.Load()
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Server.Environment == "development" {
		log.SetLevel(logrus.DebugLevel)
	}

	keys, err := transfer.LoadKeys(cfg.Wallets.EscrowSecret, cfg.Wallets.TreasurySecret)
	if err != nil {
		entry.WithError(err).Fatal("failed to load escrow/treasury keypairs")
	}

	authorityKey, err := transfer.LoadSingleKey(cfg.Wallets.ServerAuthoritySecret)
	if err != nil {
		entry.WithError(err).Fatal("failed to load server authority keypair")
	}

	transferClient := transfer.New(
		cfg.Solana.TransferBase,
		keys,
		transfer.NewLocalProofGenerator(),
		entry.WithField("component", "transfer"),
	)

	anchor := ledger.NewSolanaAnchor(cfg.Solana.RPCURL, authorityKey, entry.WithField("component", "ledger"))
	accountability := ledger.New(anchor, entry.WithField("component", "ledger"))

	identity := stealth.New(cfg.Wallets.WalletPepper)
	st := store.New()
	reaper := store.NewReaper(st, time.Minute, entry.WithField("component", "reaper"))
	go reaper.Start()

	engine := escrow.New(
		st,
		identity,
		transferClient,
		accountability,
		cfg.Tokens,
		cfg.Escrow.HouseFeePercent,
		time.Duration(cfg.Escrow.EscrowTimeoutSeconds)*time.Second,
		entry.WithField("component", "escrow"),
	)

	router := api.NewRouter(engine, cfg, entry.WithField("component", "api"))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		entry.WithField("port", cfg.Server.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	entry.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		entry.WithError(err).Error("server forced to shutdown")
	}

	reaper.Stop()
	st.Clear()

	entry.Info("server exited")
}
