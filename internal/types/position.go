package types

import (
	"strings"
	"time"
)

// PortfolioTag identifies one independently simulated book.
type PortfolioTag string

const (
	PortfolioKALIC PortfolioTag = "KALIC"
	PortfolioDC    PortfolioTag = "DC"
)

// NormalizePortfolio upper-cases and trims a raw portfolio tag.
func NormalizePortfolio(raw string) PortfolioTag {
	return PortfolioTag(strings.ToUpper(strings.TrimSpace(raw)))
}

func (p PortfolioTag) String() string { return string(p) }

type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
	PositionValue float64 `json:"position_value,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	AccountRatio  float64 `json:"account_ratio,omitempty"`
}

// PortfolioState is the read-only view guardrails and the context builder work from.
type PortfolioState struct {
	Portfolio      PortfolioTag       `json:"portfolio"`
	Cash           float64            `json:"cash"`
	PositionsValue float64            `json:"positions_value"`
	TotalValue     float64            `json:"total_value"`
	Positions      []PositionSnapshot `json:"positions"`
	TradesToday    int                `json:"trades_today"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Position returns the open position for symbol, if any.
func (s PortfolioState) Position(symbol string) (PositionSnapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range s.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}
