package provider

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed data/*.json
var defaultData embed.FS

// SectorInfo describes one token in the sector mapping file
type SectorInfo struct {
	Sector      string `json:"sector"`
	Name        string `json:"name"`
	CoinGeckoID string `json:"coingecko_id"`
}

// FileSectorMap serves a sector mapping loaded once from disk or the
// embedded default.
type FileSectorMap struct {
	tokens map[string]SectorInfo
}

// NewFileSectorMap loads mappings from path, or the embedded default when
// path is empty.
func NewFileSectorMap(path string) (*FileSectorMap, error) {
	raw, err := readDataFile(path, "data/sector_mappings.json")
	if err != nil {
		return nil, fmt.Errorf("load sector mappings: %w", err)
	}

	var tokens map[string]SectorInfo
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("parse sector mappings: %w", err)
	}

	normalized := make(map[string]SectorInfo, len(tokens))
	for sym, info := range tokens {
		if info.Sector == "" {
			return nil, fmt.Errorf("sector mappings: %s has no sector", sym)
		}
		normalized[strings.ToUpper(sym)] = info
	}
	return &FileSectorMap{tokens: normalized}, nil
}

// SectorMap returns a copy of symbol -> sector
func (m *FileSectorMap) SectorMap(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.tokens))
	for sym, info := range m.tokens {
		out[sym] = info.Sector
	}
	return out, nil
}

// CoinGeckoIDs returns symbol -> CoinGecko id for every mapped token that has one
func (m *FileSectorMap) CoinGeckoIDs() map[string]string {
	out := make(map[string]string, len(m.tokens))
	for sym, info := range m.tokens {
		if info.CoinGeckoID != "" {
			out[sym] = info.CoinGeckoID
		}
	}
	return out
}

// Symbols returns all mapped symbols, sorted
func (m *FileSectorMap) Symbols() []string {
	out := make([]string, 0, len(m.tokens))
	for sym := range m.tokens {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func readDataFile(path, embedded string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return defaultData.ReadFile(embedded)
}
