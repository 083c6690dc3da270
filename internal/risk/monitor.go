package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"phinance/internal/logger"
	"phinance/internal/types"

	"github.com/robfig/cron/v3"
)

// midnightSpec fires at 00:00:00 in the cron location.
const midnightSpec = "0 0 0 * * *"

// Monitor groups the breakers of all portfolios and resets them at exchange midnight.
type Monitor struct {
	mu       sync.RWMutex
	breakers map[types.PortfolioTag]*Breaker
	cron     *cron.Cron
}

func NewMonitor(loc *time.Location, breakers ...*Breaker) *Monitor {
	if loc == nil {
		loc = time.UTC
	}
	m := &Monitor{
		breakers: make(map[types.PortfolioTag]*Breaker, len(breakers)),
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
	}
	for _, b := range breakers {
		m.breakers[b.Portfolio()] = b
	}
	return m
}

// Breaker returns the breaker of portfolio.
func (m *Monitor) Breaker(portfolio types.PortfolioTag) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[portfolio]
	return b, ok
}

// Portfolios lists the monitored portfolios in a stable order.
func (m *Monitor) Portfolios() []types.PortfolioTag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.PortfolioTag, 0, len(m.breakers))
	for p := range m.breakers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResetAll runs the day rollover on every breaker.
func (m *Monitor) ResetAll(ctx context.Context) {
	for _, p := range m.Portfolios() {
		b, _ := m.Breaker(p)
		if err := b.ResetDay(ctx); err != nil {
			logger.Errorf("circuit breaker %s: daily reset failed: %v", p, err)
		}
	}
}

// Run schedules the midnight reset and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.cron.AddFunc(midnightSpec, func() { m.ResetAll(ctx) }); err != nil {
		return fmt.Errorf("register breaker reset: %w", err)
	}
	m.cron.Start()
	logger.Infof("circuit breaker reset scheduled at exchange midnight for %d portfolios", len(m.Portfolios()))
	<-ctx.Done()
	stopped := m.cron.Stop()
	<-stopped.Done()
	return nil
}

// RecordOutcome routes out to its portfolio's breaker.
func (m *Monitor) RecordOutcome(ctx context.Context, out TradeOutcome) error {
	b, ok := m.Breaker(out.Portfolio)
	if !ok {
		return fmt.Errorf("no circuit breaker for portfolio %s", out.Portfolio)
	}
	_, err := b.RecordOutcome(ctx, out)
	return err
}
