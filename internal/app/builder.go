package app

import (
	"context"
	"fmt"
	"strings"

	"phinance/internal/audit"
	"phinance/internal/config"
	"phinance/internal/engine"
	"phinance/internal/execution"
	"phinance/internal/gateway/provider"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/portfolio"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/scheduler"
	"phinance/internal/store/gormstore"
	"phinance/internal/types"
	livehttp "phinance/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	providersFn func(config.AIConfig) ([]provider.ModelProvider, error)
	executorFn  func(execution.BookStore, market.PriceSource) execution.Executor
	liveHTTPFn  func(config.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		providersFn: buildModelProviders,
		executorFn:  buildPaperExecutor,
		liveHTTPFn:  buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// portfolioHandles is the per-portfolio state owners.
type portfolioHandles struct {
	tag     types.PortfolioTag
	cash    float64
	modes   *guardrail.ModeController
	breaker *risk.Breaker
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	hours, err := buildHours(cfg.Market)
	if err != nil {
		return nil, err
	}

	st, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init gorm store failed: %w", err)
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open audit log failed: %w", err)
	}
	app, err := b.assemble(ctx, st, auditLog, hours)
	if err != nil {
		_ = auditLog.Close()
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

func (b *AppBuilder) assemble(ctx context.Context, st *gormstore.GormStore, auditLog *audit.Log, hours market.Hours) (*App, error) {
	cfg := b.cfg
	if err := initBooks(ctx, st, cfg.Portfolios); err != nil {
		return nil, err
	}
	logger.Infof("✓ %d portfolios ready: %v", len(cfg.Portfolios), portfolioTags(cfg.Portfolios))

	presets, err := guardrail.NewPresets(cfg.Guardrail.ModesPath)
	if err != nil {
		return nil, fmt.Errorf("load mode presets failed: %w", err)
	}
	defaultMode, err := types.ParseTradingMode(cfg.Guardrail.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("guardrail.default_mode: %w", err)
	}

	prices := market.NewPriceBook()
	reader := portfolio.NewReader(st, prices, hours)
	locks := portfolio.NewLocks()

	handles, err := buildRiskHandles(cfg, st, auditLog, hours, defaultMode)
	if err != nil {
		return nil, err
	}
	breakers := make([]*risk.Breaker, 0, len(handles))
	controllers := make([]*guardrail.ModeController, 0, len(handles))
	books := make([]engine.Book, 0, len(handles))
	tags := make([]types.PortfolioTag, 0, len(handles))
	for _, h := range handles {
		breakers = append(breakers, h.breaker)
		controllers = append(controllers, h.modes)
		books = append(books, engine.Book{Tag: h.tag, StartingValue: h.cash, Modes: h.modes, Breaker: h.breaker})
		tags = append(tags, h.tag)
	}
	monitor := risk.NewMonitor(hours.Loc(), breakers...)
	desk := risk.NewDesk(monitor, presets, controllers...)

	executor := b.executorFn(st, prices)
	q := queue.New(st, executor, hours, locks, monitor, auditLog, queue.Options{
		ExecuteTimeout: cfg.Scheduler.ExecuteTimeout(),
		Portfolios:     tags,
	}).WithCashCheck(reader, prices)

	providers, err := b.providersFn(cfg.AI)
	if err != nil {
		return nil, err
	}
	cascade := buildCascade(cfg.AI, providers)

	eng := engine.New(engine.Params{
		Builder:    buildContextBuilder(cfg, prices, reader),
		Cascade:    cascade,
		Guard:      guardrail.NewEvaluator(presets, guardrail.Limits{ConfidenceThreshold: cfg.Guardrail.ConfidenceThreshold, MinSignals: cfg.Guardrail.MinSignals}),
		Queue:      q,
		Portfolios: reader,
		Prices:     prices,
		Locks:      locks,
		Store:      st,
		Audit:      auditLog,
		Verifier:   auditLog,
		Books:      books,
		Benchmark:  cfg.Market.BenchmarkSymbol,
	})

	q.WithHaltSource(eng)
	sched := scheduler.NewService(q, eng, scheduler.Options{
		TickInterval:  cfg.Scheduler.TickInterval(),
		CycleInterval: cfg.Scheduler.CycleInterval(),
		AutoCycle:     cfg.Scheduler.AutoCycle,
		Portfolios:    tags,
		Halt:          eng,
	})

	server, err := b.liveHTTPFn(cfg.App, livehttp.ServerConfig{Engine: eng, Queue: q, Risk: desk, Prices: prices})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		store:     st,
		auditLog:  auditLog,
		prices:    prices,
		engine:    eng,
		queue:     q,
		desk:      desk,
		monitor:   monitor,
		scheduler: sched,
		liveHTTP:  server,
		Summary:   newStartupSummary(cfg, cascade.ProviderIDs(), presets.All()),
	}, nil
}

// initBooks creates the book of every configured portfolio on first boot.
// Existing books are left alone.
func initBooks(ctx context.Context, st *gormstore.GormStore, portfolios []config.PortfolioConfig) error {
	for _, p := range portfolios {
		tag := types.NormalizePortfolio(p.Tag)
		_, ok, err := st.LoadBook(ctx, tag)
		if err != nil {
			return fmt.Errorf("load book %s: %w", tag, err)
		}
		if ok {
			continue
		}
		if err := st.InitBook(ctx, tag, p.StartingCash); err != nil {
			return fmt.Errorf("init book %s: %w", tag, err)
		}
		logger.Infof("book %s initialised with %.2f cash", tag, p.StartingCash)
	}
	return nil
}

func buildRiskHandles(cfg *config.Config, st *gormstore.GormStore, auditLog *audit.Log, hours market.Hours, defaultMode types.TradingMode) ([]portfolioHandles, error) {
	breakerCfg := risk.Config{
		DailyLossLimitPct:    cfg.Breaker.DailyLossLimitPct,
		MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
		PauseDuration:        cfg.Breaker.PauseDuration(),
		FallbackMode:         types.TradingMode(strings.ToLower(strings.TrimSpace(cfg.Breaker.FallbackMode))),
	}
	out := make([]portfolioHandles, 0, len(cfg.Portfolios))
	for _, p := range cfg.Portfolios {
		tag := types.NormalizePortfolio(p.Tag)
		mc := guardrail.NewModeController(tag, st, auditLog, defaultMode)
		br, err := risk.NewBreaker(tag, breakerCfg, st, mc, auditLog, hours.Loc())
		if err != nil {
			return nil, fmt.Errorf("init circuit breaker %s: %w", tag, err)
		}
		out = append(out, portfolioHandles{tag: tag, cash: p.StartingCash, modes: mc, breaker: br})
	}
	return out, nil
}

func portfolioTags(portfolios []config.PortfolioConfig) []string {
	out := make([]string, 0, len(portfolios))
	for _, p := range portfolios {
		out = append(out, p.Tag)
	}
	return out
}

func WithModelProviders(fn func(config.AIConfig) ([]provider.ModelProvider, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.providersFn = fn
		}
	}
}

func WithExecutor(fn func(execution.BookStore, market.PriceSource) execution.Executor) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.executorFn = fn
		}
	}
}

func WithLiveHTTP(fn func(config.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.liveHTTPFn = fn
		}
	}
}
