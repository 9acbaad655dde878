// Package config loads and validates process-wide configuration. All values
// are read once at start-up and are immutable for the life of the
// process: there is no hot-reload, no persisted config store.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Wallets WalletConfig
	Escrow  EscrowConfig
	Solana  SolanaConfig
	Tokens  TokenTable
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        string
	Environment string // "development" or "production"
	InternalKey string
}

// WalletConfig holds the base58-encoded Ed25519 seeds for the three
// process-wide shared keypairs and other resources.
type WalletConfig struct {
	EscrowSecret          string
	TreasurySecret        string
	ServerAuthoritySecret string
	WalletPepper          string
}

// EscrowConfig holds duel-lifecycle tunables.
type EscrowConfig struct {
	HouseFeePercent      int
	EscrowTimeoutSeconds int
}

// SolanaConfig holds the ledger-anchoring network settings.
type SolanaConfig struct {
	Network      string
	RPCURL       string
	TransferBase string
}

// Load loads configuration from the environment, applying defaults, then
// validates required secrets and fails fast: the process exits only on
// start-up configuration failure, never mid-run.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tokens, err := LoadTokenTable()
	if err != nil {
		return nil, fmt.Errorf("load token table: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "production"),
			InternalKey: getEnv("INTERNAL_API_KEY", ""),
		},
		Wallets: WalletConfig{
			EscrowSecret:          getEnv("ESCROW_WALLET_SECRET", ""),
			TreasurySecret:        getEnv("TREASURY_WALLET_SECRET", ""),
			ServerAuthoritySecret: getEnv("SERVER_AUTHORITY_SECRET", ""),
			WalletPepper:          getEnv("WALLET_PEPPER", ""),
		},
		Escrow: EscrowConfig{
			HouseFeePercent:      getEnvInt("HOUSE_FEE_PERCENT", 2),
			EscrowTimeoutSeconds: getEnvInt("ESCROW_TIMEOUT_SECONDS", 1800),
		},
		Solana: SolanaConfig{
			Network:      getEnv("SOLANA_NETWORK", "devnet"),
			RPCURL:       resolveRPCURL(getEnv("SOLANA_NETWORK", "devnet")),
			TransferBase: getEnv("TRANSFER_BACKEND_URL", "http://localhost:9090"),
		},
		Tokens: tokens,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Wallets.WalletPepper) < 32 {
		return fmt.Errorf("WALLET_PEPPER must be at least 32 characters")
	}
	if len(c.Server.InternalKey) < 32 {
		return fmt.Errorf("INTERNAL_API_KEY must be at least 32 characters")
	}
	if c.Wallets.EscrowSecret == "" {
		return fmt.Errorf("ESCROW_WALLET_SECRET is required")
	}
	if c.Wallets.TreasurySecret == "" {
		return fmt.Errorf("TREASURY_WALLET_SECRET is required")
	}
	if c.Wallets.ServerAuthoritySecret == "" {
		return fmt.Errorf("SERVER_AUTHORITY_SECRET is required")
	}
	if c.Escrow.HouseFeePercent < 0 || c.Escrow.HouseFeePercent > 10 {
		return fmt.Errorf("HOUSE_FEE_PERCENT must be between 0 and 10, got %d", c.Escrow.HouseFeePercent)
	}
	return nil
}

func resolveRPCURL(network string) string {
	switch network {
	case "mainnet-beta":
		return "https://api.mainnet-beta.solana.com"
	case "testnet":
		return "https://api.testnet.solana.com"
	default:
		return "https://api.devnet.solana.com"
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}
