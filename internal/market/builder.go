package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"phinance/internal/logger"
	"phinance/internal/types"
)

const (
	defaultHistoryBars = 60
	defaultStaleAfter  = 24 * time.Hour
)

// SymbolContext is everything the providers see about one symbol.
type SymbolContext struct {
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	PriceAsOf  time.Time  `json:"price_as_of"`
	Stale      bool       `json:"stale,omitempty"`
	Held       bool       `json:"held,omitempty"`
	Indicators Indicators `json:"indicators,omitempty"`
	Confluence Confluence `json:"confluence"`
}

// Snapshot is the read-only context of one decision cycle.
type Snapshot struct {
	Portfolio types.PortfolioTag   `json:"portfolio"`
	AsOf      time.Time            `json:"as_of"`
	Mode      types.TradingMode    `json:"mode,omitempty"`
	State     types.PortfolioState `json:"portfolio_state"`
	Symbols   []SymbolContext      `json:"symbols"`
	Benchmark *Quote               `json:"benchmark,omitempty"`
}

// Symbol returns the context for symbol, if it was built.
func (s Snapshot) Symbol(symbol string) (SymbolContext, bool) {
	for _, sc := range s.Symbols {
		if strings.EqualFold(sc.Symbol, symbol) {
			return sc, true
		}
	}
	return SymbolContext{}, false
}

// Price returns the snapshot price of symbol, if known.
func (s Snapshot) Price(symbol string) (float64, bool) {
	sc, ok := s.Symbol(symbol)
	if !ok || sc.Price <= 0 {
		return 0, false
	}
	return sc.Price, true
}

// BuilderOptions tunes Builder.
type BuilderOptions struct {
	Watchlists  map[types.PortfolioTag][]string
	Benchmark   string
	HistoryBars int
	StaleAfter  time.Duration
	Confluence  ConfluenceConfig
}

// Builder assembles snapshots. It never mutates the collaborators.
type Builder struct {
	prices     PriceSource
	portfolios PortfolioReader
	opts       BuilderOptions
	nowFn      func() time.Time
}

func NewBuilder(prices PriceSource, portfolios PortfolioReader, opts BuilderOptions) *Builder {
	if opts.HistoryBars <= 0 {
		opts.HistoryBars = defaultHistoryBars
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Confluence.MinAgreeing <= 0 {
		opts.Confluence = DefaultConfluenceConfig()
	}
	return &Builder{prices: prices, portfolios: portfolios, opts: opts, nowFn: time.Now}
}

// SetClock swaps the time source, for tests.
func (b *Builder) SetClock(fn func() time.Time) {
	if fn != nil {
		b.nowFn = fn
	}
}

// Build reads the portfolio and every watched or held symbol. A symbol whose
// price cannot be read is left out; an old price is kept and flagged stale.
func (b *Builder) Build(ctx context.Context, portfolio types.PortfolioTag) (Snapshot, error) {
	if b == nil || b.prices == nil || b.portfolios == nil {
		return Snapshot{}, fmt.Errorf("market context builder not configured")
	}
	state, err := b.portfolios.Snapshot(ctx, portfolio)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read portfolio %s: %w", portfolio, err)
	}
	now := b.nowFn()
	snap := Snapshot{Portfolio: portfolio, AsOf: now, State: state}

	held := make(map[string]bool, len(state.Positions))
	for _, p := range state.Positions {
		held[strings.ToUpper(p.Symbol)] = true
	}
	for _, symbol := range b.symbols(portfolio, held) {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		sc, ok := b.symbolContext(ctx, symbol, now)
		if !ok {
			continue
		}
		sc.Held = held[symbol]
		snap.Symbols = append(snap.Symbols, sc)
	}

	if bench := strings.ToUpper(strings.TrimSpace(b.opts.Benchmark)); bench != "" {
		if q, err := b.prices.LatestPrice(ctx, bench); err == nil {
			snap.Benchmark = &q
		} else if !errors.Is(err, ErrNoPrice) {
			logger.Warnf("market: benchmark %s unavailable: %v", bench, err)
		}
	}
	return snap, nil
}

func (b *Builder) symbols(portfolio types.PortfolioTag, held map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range b.opts.Watchlists[portfolio] {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	extra := make([]string, 0, len(held))
	for s := range held {
		if !seen[s] {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (b *Builder) symbolContext(ctx context.Context, symbol string, now time.Time) (SymbolContext, bool) {
	q, err := b.prices.LatestPrice(ctx, symbol)
	if err != nil {
		logger.Warnf("market: no price for %s: %v", symbol, err)
		return SymbolContext{}, false
	}
	sc := SymbolContext{
		Symbol:    symbol,
		Price:     q.Price,
		PriceAsOf: q.AsOf,
		Stale:     !q.AsOf.IsZero() && now.Sub(q.AsOf) > b.opts.StaleAfter,
	}
	bars, err := b.prices.History(ctx, symbol, b.opts.HistoryBars)
	if err != nil {
		logger.Debugf("market: no history for %s: %v", symbol, err)
		sc.Confluence = Confluence{Direction: Neutral}
		return sc, true
	}
	sc.Indicators = ComputeIndicators(bars)
	sc.Confluence = EvaluateConfluence(q.Price, sc.Indicators, b.opts.Confluence)
	return sc, true
}
