package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	apperrors "github.com/portfolio-guardian/internal/errors"
)

// TotalValueTolerance is the allowed drift between a portfolio's declared
// total and the sum of its holdings.
const TotalValueTolerance = 0.01

// TokenHolding is one position in a portfolio
type TokenHolding struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	PriceUSD float64 `json:"price_usd"`
	ValueUSD float64 `json:"value_usd"`
}

// Portfolio is the immutable input of one analysis request
type Portfolio struct {
	WalletAddress     string         `json:"wallet_address"`
	Tokens            []TokenHolding `json:"tokens"`
	TotalValueUSD     float64        `json:"total_value_usd"`
	AnalysisTimestamp time.Time      `json:"analysis_timestamp"`
}

// NewPortfolio builds a validated portfolio. Symbols are upper-cased and the
// holdings slice is copied so the caller cannot mutate it afterwards.
func NewPortfolio(wallet string, tokens []TokenHolding, totalValueUSD float64) (*Portfolio, error) {
	holdings := make([]TokenHolding, len(tokens))
	for i, t := range tokens {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		holdings[i] = t
	}

	p := &Portfolio{
		WalletAddress:     strings.TrimSpace(wallet),
		Tokens:            holdings,
		TotalValueUSD:     totalValueUSD,
		AnalysisTimestamp: time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// IsWalletAddress reports whether s is 0x followed by 40 hex characters
func IsWalletAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// Validate enforces the structural invariants of a portfolio
func (p *Portfolio) Validate() error {
	if p == nil {
		return apperrors.NewInvalidDataError("portfolio", "missing")
	}
	if !IsWalletAddress(p.WalletAddress) {
		return apperrors.NewInvalidDataError("wallet_address",
			fmt.Sprintf("%q must be 0x followed by 40 hex characters", p.WalletAddress))
	}
	if len(p.Tokens) == 0 {
		return apperrors.NewInvalidDataError("tokens", "portfolio must contain at least one holding")
	}

	var sum float64
	for i, t := range p.Tokens {
		if strings.TrimSpace(t.Symbol) == "" {
			return apperrors.NewInvalidDataError(fmt.Sprintf("tokens[%d].symbol", i), "empty symbol")
		}
		if !positive(t.Amount) {
			return apperrors.NewInvalidDataError(fmt.Sprintf("tokens[%d].amount", i), "amount must be positive")
		}
		if !positive(t.PriceUSD) {
			return apperrors.NewInvalidDataError(fmt.Sprintf("tokens[%d].price_usd", i), "price must be positive")
		}
		if !positive(t.ValueUSD) {
			return apperrors.NewInvalidDataError(fmt.Sprintf("tokens[%d].value_usd", i), "value must be positive")
		}
		sum += t.ValueUSD
	}

	if !positive(p.TotalValueUSD) {
		return apperrors.NewInvalidDataError("total_value_usd", "total must be positive")
	}
	if math.Abs(p.TotalValueUSD-sum) > TotalValueTolerance {
		return apperrors.NewInvalidDataError("total_value_usd",
			fmt.Sprintf("total %.2f does not match sum of holdings %.2f", p.TotalValueUSD, sum))
	}
	return nil
}

// Symbols returns the holding symbols in portfolio order
func (p *Portfolio) Symbols() []string {
	out := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		out[i] = t.Symbol
	}
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
