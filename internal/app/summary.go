package app

import (
	"fmt"
	"sort"
	"strings"

	"phinance/internal/config"
	"phinance/internal/guardrail"
	"phinance/internal/types"
)

type StartupSummary struct {
	Portfolios []PortfolioSummary
	Providers  []string
	Modes      map[types.TradingMode]guardrail.Policy
	Market     MarketSummary
	Scheduler  SchedulerSummary
	Breaker    config.BreakerConfig
}

type PortfolioSummary struct {
	Tag          string
	StartingCash float64
	Symbols      []string
}

type MarketSummary struct {
	Timezone  string
	Open      string
	Close     string
	Holidays  int
	Benchmark string
}

type SchedulerSummary struct {
	TickSeconds  int
	CycleMinutes int
	AutoCycle    bool
}

func newStartupSummary(cfg *config.Config, providers []string, modes map[types.TradingMode]guardrail.Policy) *StartupSummary {
	s := &StartupSummary{
		Providers: providers,
		Modes:     modes,
		Market: MarketSummary{
			Timezone:  cfg.Market.Timezone,
			Open:      cfg.Market.Open,
			Close:     cfg.Market.Close,
			Holidays:  len(cfg.Market.Holidays),
			Benchmark: cfg.Market.BenchmarkSymbol,
		},
		Scheduler: SchedulerSummary{
			TickSeconds:  cfg.Scheduler.TickSeconds,
			CycleMinutes: cfg.Scheduler.CycleMinutes,
			AutoCycle:    cfg.Scheduler.AutoCycle,
		},
		Breaker: cfg.Breaker,
	}
	for _, p := range cfg.Portfolios {
		s.Portfolios = append(s.Portfolios, PortfolioSummary{Tag: p.Tag, StartingCash: p.StartingCash, Symbols: p.Symbols})
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[PORTFOLIOS]")
	for _, p := range s.Portfolios {
		fmt.Printf("  %-8s starting cash %.2f, watchlist: %s\n", p.Tag, p.StartingCash, formatList(p.Symbols))
	}
	fmt.Println()

	fmt.Println("[PROVIDER CASCADE]")
	if len(s.Providers) == 0 {
		fmt.Println("  (none enabled)")
	}
	for i, id := range s.Providers {
		fmt.Printf("  %d. %s\n", i+1, id)
	}
	fmt.Println()

	fmt.Println("[TRADING MODES]")
	modes := make([]string, 0, len(s.Modes))
	for m := range s.Modes {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	for _, m := range modes {
		p := s.Modes[types.TradingMode(m)]
		fmt.Printf("  %-12s max position %.1f%%, %d trades/day, confluence=%t\n", m, p.MaxPositionPct, p.MaxTradesPerDay, p.RequiresConfluence)
	}
	fmt.Println()

	fmt.Println("[MARKET / SCHEDULER]")
	fmt.Printf("  session: %s-%s %s, %d holidays, benchmark %s\n", s.Market.Open, s.Market.Close, s.Market.Timezone, s.Market.Holidays, s.Market.Benchmark)
	fmt.Printf("  tick every %ds, cycle every %dm (auto=%t)\n", s.Scheduler.TickSeconds, s.Scheduler.CycleMinutes, s.Scheduler.AutoCycle)
	fmt.Printf("  breaker: daily loss %.1f%%, %d losses -> %dm pause, fallback %s\n",
		s.Breaker.DailyLossLimitPct, s.Breaker.MaxConsecutiveLosses, s.Breaker.PauseMinutes, s.Breaker.FallbackMode)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
