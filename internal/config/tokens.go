package config

import (
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var tokensYAML []byte

// TokenRules is the static, per-token table: decimals,
// the minimum stake a duel may be created with, the minimum amount the
// transfer backend will move in one call, and the backend's own deposit-fee
// percentage (f_d in the payout math).
type TokenRules struct {
	Symbol            string          `yaml:"symbol"`
	Decimals          int32           `yaml:"decimals"`
	MinimumStake      decimal.Decimal `yaml:"minimum_stake"`
	MinimumTransfer   decimal.Decimal `yaml:"minimum_transfer"`
	DepositFeePercent decimal.Decimal `yaml:"deposit_fee_percent"`
}

type tokenFile struct {
	Tokens []rawTokenRules `yaml:"tokens"`
}

type rawTokenRules struct {
	Symbol            string `yaml:"symbol"`
	Decimals          int32  `yaml:"decimals"`
	MinimumStake      string `yaml:"minimum_stake"`
	MinimumTransfer   string `yaml:"minimum_transfer"`
	DepositFeePercent string `yaml:"deposit_fee_percent"`
}

// TokenTable is the closed set of supported tokens, keyed by symbol.
type TokenTable map[string]TokenRules

// LoadTokenTable parses the embedded per-token YAML document. It never fails
// at runtime (the document is compiled into the binary) but returns an error
// to keep the call site honest about what embedding guarantees.
func LoadTokenTable() (TokenTable, error) {
	var raw tokenFile
	if err := yaml.Unmarshal(tokensYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse embedded token table: %w", err)
	}

	table := make(TokenTable, len(raw.Tokens))
	for _, t := range raw.Tokens {
		minStake, err := decimal.NewFromString(t.MinimumStake)
		if err != nil {
			return nil, fmt.Errorf("token %s: minimum_stake: %w", t.Symbol, err)
		}
		minTransfer, err := decimal.NewFromString(t.MinimumTransfer)
		if err != nil {
			return nil, fmt.Errorf("token %s: minimum_transfer: %w", t.Symbol, err)
		}
		feePercent, err := decimal.NewFromString(t.DepositFeePercent)
		if err != nil {
			return nil, fmt.Errorf("token %s: deposit_fee_percent: %w", t.Symbol, err)
		}

		table[t.Symbol] = TokenRules{
			Symbol:            t.Symbol,
			Decimals:          t.Decimals,
			MinimumStake:      minStake,
			MinimumTransfer:   minTransfer,
			DepositFeePercent: feePercent,
		}
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("embedded token table is empty")
	}

	return table, nil
}

// Supported reports whether symbol is one of the closed set of tokens.
func (t TokenTable) Supported(symbol string) bool {
	_, ok := t[symbol]
	return ok
}
