package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const maxBookBars = 400

// PriceBook is an in-memory PriceSource fed by whatever process owns the
// market-data connection.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	bars   map[string][]Bar
}

func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[string]Quote), bars: make(map[string][]Bar)}
}

// Update records the latest price of symbol.
func (p *PriceBook) Update(symbol string, price float64, asOf time.Time) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if price <= 0 {
		return fmt.Errorf("price must be > 0, got %v", price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = Quote{Symbol: symbol, Price: price, AsOf: asOf}
	return nil
}

// AppendBars adds daily bars; a bar with the same date replaces the older one.
func (p *PriceBook) AppendBars(symbol string, bars ...Bar) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.Lock()
	defer p.mu.Unlock()
	series := p.bars[symbol]
	for _, bar := range bars {
		day := bar.Date.Truncate(24 * time.Hour)
		if n := len(series); n > 0 && series[n-1].Date.Truncate(24*time.Hour).Equal(day) {
			series[n-1] = bar
			continue
		}
		series = append(series, bar)
	}
	if len(series) > maxBookBars {
		series = append([]Bar(nil), series[len(series)-maxBookBars:]...)
	}
	p.bars[symbol] = series
}

func (p *PriceBook) LatestPrice(_ context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return q, nil
}

func (p *PriceBook) History(_ context.Context, symbol string, bars int) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.RLock()
	defer p.mu.RUnlock()
	series := p.bars[symbol]
	if len(series) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	if bars > 0 && len(series) > bars {
		series = series[len(series)-bars:]
	}
	return append([]Bar(nil), series...), nil
}
