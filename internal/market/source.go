// Package market assembles the read-only context a decision cycle reasons over.
package market

import (
	"context"
	"errors"
	"time"

	"phinance/internal/types"
)

// ErrNoPrice is returned by a PriceSource that has never seen the symbol.
var ErrNoPrice = errors.New("no price for symbol")

// Quote is the latest known price; AsOf may be old.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// Bar is one daily OHLCV candle.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSource is the market-data collaborator. Reads are synchronous and may be stale.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (Quote, error)
	History(ctx context.Context, symbol string, bars int) ([]Bar, error)
}

// PortfolioReader supplies the valued state of one book.
type PortfolioReader interface {
	Snapshot(ctx context.Context, portfolio types.PortfolioTag) (types.PortfolioState, error)
}
