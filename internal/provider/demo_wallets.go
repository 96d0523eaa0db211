package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/models"
)

// DemoWallet is one wallet in the demo wallet file
type DemoWallet struct {
	WalletAddress string                `json:"wallet_address"`
	Name          string                `json:"name"`
	RiskProfile   string                `json:"risk_profile"`
	Tokens        []models.TokenHolding `json:"tokens"`
	TotalValueUSD float64               `json:"total_value_usd"`
}

// DemoWalletSource resolves wallets from a static file. Addresses match
// case-insensitively.
type DemoWalletSource struct {
	wallets map[common.Address]DemoWallet
	order   []string
}

// NewDemoWalletSource loads wallets from path, or the embedded default when
// path is empty.
func NewDemoWalletSource(path string) (*DemoWalletSource, error) {
	raw, err := readDataFile(path, "data/demo_wallets.json")
	if err != nil {
		return nil, fmt.Errorf("load demo wallets: %w", err)
	}

	var f struct {
		Wallets []DemoWallet `json:"wallets"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse demo wallets: %w", err)
	}

	src := &DemoWalletSource{wallets: make(map[common.Address]DemoWallet, len(f.Wallets))}
	for _, w := range f.Wallets {
		if !models.IsWalletAddress(w.WalletAddress) {
			return nil, fmt.Errorf("demo wallets: invalid address %q", w.WalletAddress)
		}
		src.wallets[common.HexToAddress(w.WalletAddress)] = w
		src.order = append(src.order, w.WalletAddress)
	}
	return src, nil
}

// LoadPortfolio returns a validated portfolio for wallet
func (s *DemoWalletSource) LoadPortfolio(ctx context.Context, wallet string) (*models.Portfolio, error) {
	if !models.IsWalletAddress(wallet) {
		return nil, apperrors.NewInvalidDataError("wallet_address", fmt.Sprintf("%q is not a wallet address", wallet))
	}

	w, ok := s.wallets[common.HexToAddress(wallet)]
	if !ok {
		e := apperrors.NewNotFoundError("wallet", wallet)
		e.Details["available"] = strings.Join(s.order, ", ")
		return nil, e
	}
	return models.NewPortfolio(w.WalletAddress, w.Tokens, w.TotalValueUSD)
}

// Wallets returns the demo wallet addresses in file order
func (s *DemoWalletSource) Wallets() []string {
	return append([]string(nil), s.order...)
}
