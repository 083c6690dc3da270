package scheduler

import (
	"context"
	"errors"
	"time"

	"phinance/internal/engine"
	"phinance/internal/logger"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/types"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTickInterval  = 30 * time.Second
	defaultCycleInterval = 30 * time.Minute
)

// Ticker is the queue side of the service.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (queue.TickReport, error)
	MarketOpen(now time.Time) bool
	SetRunning(v bool)
}

// CycleRunner is the engine side of the service.
type CycleRunner interface {
	RunCycle(ctx context.Context, portfolio types.PortfolioTag) ([]types.TradeDecision, error)
	EvaluatePredictions(ctx context.Context, now time.Time) (int, error)
}

type Options struct {
	TickInterval  time.Duration
	CycleInterval time.Duration
	AutoCycle     bool
	Portfolios    []types.PortfolioTag
	// Halt, when set, pauses ticks and cycles while it reports a reason.
	Halt queue.HaltSource
}

// Service runs the queue tick loop and, when enabled, the automatic decision
// cycle for every portfolio during market hours.
type Service struct {
	ticker Ticker
	cycles CycleRunner
	opts   Options
	nowFn  func() time.Time
}

func NewService(ticker Ticker, cycles CycleRunner, opts Options) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = defaultCycleInterval
	}
	return &Service{ticker: ticker, cycles: cycles, opts: opts, nowFn: time.Now}
}

func (s *Service) SetClock(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Run blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ticker.SetRunning(true)
	defer s.ticker.SetRunning(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sch := NewAlignedScheduler(gctx, "queue-tick", s.opts.TickInterval, 0)
		sch.SetClock(s.nowFn)
		sch.RunImmediately = true
		sch.Start(func(time.Time) { s.TickOnce(gctx) })
		return nil
	})
	if s.opts.AutoCycle && s.cycles != nil {
		g.Go(func() error {
			sch := NewAlignedScheduler(gctx, "decision-cycle", s.opts.CycleInterval, 0)
			sch.SetClock(s.nowFn)
			sch.Start(func(time.Time) { s.CycleOnce(gctx) })
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TickOnce runs one queue tick at the current time.
func (s *Service) TickOnce(ctx context.Context) queue.TickReport {
	now := s.nowFn()
	if reason := s.halted(); reason != "" {
		logger.Warnf("scheduler: queue tick skipped, trading halted: %s", reason)
		return queue.TickReport{At: now, Halted: reason}
	}
	rep, err := s.ticker.Tick(ctx, now)
	if err != nil {
		logger.Errorf("scheduler: queue tick: %v", err)
	}
	return rep
}

// CycleOnce runs a decision cycle for every portfolio when the market is open
// and then settles due predictions. It returns the number of cycles that ran.
func (s *Service) CycleOnce(ctx context.Context) int {
	now := s.nowFn()
	if reason := s.halted(); reason != "" {
		logger.Warnf("scheduler: auto cycle skipped, trading halted: %s", reason)
		return 0
	}
	if !s.ticker.MarketOpen(now) {
		logger.Debugf("scheduler: market closed, skip auto cycle")
		return 0
	}
	ran := 0
	for _, p := range s.opts.Portfolios {
		if ctx.Err() != nil {
			return ran
		}
		decisions, err := s.cycles.RunCycle(ctx, p)
		switch {
		case err == nil:
			ran++
			logger.Infof("scheduler: cycle %s produced %d decision(s)", p, len(decisions))
		case errors.Is(err, engine.ErrNoActiveSession):
			logger.Debugf("scheduler: no active session, skip %s", p)
		case errors.Is(err, engine.ErrCycleInProgress), errors.Is(err, risk.ErrCircuitBreakerPauseActive),
			errors.Is(err, engine.ErrTradingHalted):
			logger.Infof("scheduler: cycle %s skipped: %v", p, err)
		default:
			logger.Errorf("scheduler: cycle %s: %v", p, err)
		}
	}
	if n, err := s.cycles.EvaluatePredictions(ctx, now); err != nil {
		logger.Warnf("scheduler: evaluate predictions: %v", err)
	} else if n > 0 {
		logger.Infof("scheduler: settled %d prediction(s)", n)
	}
	return ran
}

func (s *Service) halted() string {
	if s.opts.Halt == nil {
		return ""
	}
	return s.opts.Halt.Halted()
}
