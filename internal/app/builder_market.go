package app

import (
	"fmt"
	"time"

	"phinance/internal/config"
	"phinance/internal/execution"
	"phinance/internal/market"
	"phinance/internal/portfolio"
	"phinance/internal/types"
)

func buildHours(cfg config.MarketConfig) (market.Hours, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return market.Hours{}, fmt.Errorf("market.timezone: %w", err)
	}
	open, err := config.ParseClock(cfg.Open)
	if err != nil {
		return market.Hours{}, fmt.Errorf("market.open: %w", err)
	}
	closing, err := config.ParseClock(cfg.Close)
	if err != nil {
		return market.Hours{}, fmt.Errorf("market.close: %w", err)
	}
	holidays, err := market.NewStaticHolidays(cfg.Holidays)
	if err != nil {
		return market.Hours{}, fmt.Errorf("market.holidays: %w", err)
	}
	return market.Hours{Location: loc, Open: open, Close: closing, Holidays: holidays}, nil
}

func buildContextBuilder(cfg *config.Config, prices market.PriceSource, reader *portfolio.Reader) *market.Builder {
	watchlists := make(map[types.PortfolioTag][]string, len(cfg.Portfolios))
	for _, p := range cfg.Portfolios {
		watchlists[types.NormalizePortfolio(p.Tag)] = append([]string(nil), p.Symbols...)
	}
	return market.NewBuilder(prices, reader, market.BuilderOptions{
		Watchlists: watchlists,
		Benchmark:  cfg.Market.BenchmarkSymbol,
	})
}

func buildPaperExecutor(books execution.BookStore, prices market.PriceSource) execution.Executor {
	return execution.NewPaperExecutor(books, prices)
}
