package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"phinance/internal/engine"
	"phinance/internal/queue"
	"phinance/internal/types"
)

func TestAlignedSchedulerNextTimes(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "t", 30*time.Second, 5*time.Second)
	now := time.Date(2026, 3, 3, 14, 0, 10, 0, time.UTC)
	boundary, wake, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 30, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 35, 0, time.UTC), wake)
	assert.Equal(t, 25*time.Second, wait)

	_, wake, wait = s.nextTimes(time.Date(2026, 3, 3, 14, 0, 2, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 5, 0, time.UTC), wake)
	assert.Equal(t, 3*time.Second, wait)
}

func TestAlignedSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, "t", 10*time.Millisecond, 0)
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func(time.Time) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestParseIntervalDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{" 4H ", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"2w", 14 * 24 * time.Hour, true},
		{"1d12h", 36 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{"45", 45 * time.Minute, true},
		{"-5", 0, false},
		{"5ms", 0, false},
		{"0m", 0, false},
		{"m", 0, false},
		{"5y", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseIntervalDuration(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

type MockTicker struct {
	mock.Mock
}

func (m *MockTicker) Tick(ctx context.Context, now time.Time) (queue.TickReport, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(queue.TickReport), args.Error(1)
}

func (m *MockTicker) MarketOpen(now time.Time) bool { return m.Called(now).Bool(0) }

func (m *MockTicker) SetRunning(v bool) { m.Called(v) }

type MockCycleRunner struct {
	mock.Mock
}

func (m *MockCycleRunner) RunCycle(ctx context.Context, p types.PortfolioTag) ([]types.TradeDecision, error) {
	args := m.Called(ctx, p)
	decisions, _ := args.Get(0).([]types.TradeDecision)
	return decisions, args.Error(1)
}

func (m *MockCycleRunner) EvaluatePredictions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func TestServiceCycleOnce(t *testing.T) {
	now := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	ticker := &MockTicker{}
	ticker.On("MarketOpen", now).Return(true)
	cycles := &MockCycleRunner{}
	cycles.On("RunCycle", mock.Anything, types.PortfolioKALIC).Return([]types.TradeDecision{{}}, nil)
	cycles.On("RunCycle", mock.Anything, types.PortfolioDC).Return(nil, engine.ErrNoActiveSession)
	cycles.On("EvaluatePredictions", mock.Anything, now).Return(2, nil)

	s := NewService(ticker, cycles, Options{AutoCycle: true, Portfolios: []types.PortfolioTag{types.PortfolioKALIC, types.PortfolioDC}})
	s.SetClock(func() time.Time { return now })
	assert.Equal(t, 1, s.CycleOnce(context.Background()))
	cycles.AssertExpectations(t)
}

func TestServiceCycleOnceMarketClosed(t *testing.T) {
	now := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)
	ticker := &MockTicker{}
	ticker.On("MarketOpen", now).Return(false)
	cycles := &MockCycleRunner{}

	s := NewService(ticker, cycles, Options{AutoCycle: true, Portfolios: []types.PortfolioTag{types.PortfolioKALIC}})
	s.SetClock(func() time.Time { return now })
	assert.Zero(t, s.CycleOnce(context.Background()))
	cycles.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
}

func TestServiceRunTicksUntilCancelled(t *testing.T) {
	ticker := &MockTicker{}
	ticker.On("SetRunning", true).Once()
	ticker.On("SetRunning", false).Once()
	ctx, cancel := context.WithCancel(context.Background())
	ticker.On("Tick", mock.Anything, mock.Anything).Return(queue.TickReport{}, errors.New("boom")).Run(func(mock.Arguments) {
		cancel()
	})

	s := NewService(ticker, nil, Options{TickInterval: 10 * time.Millisecond})
	assert.NoError(t, s.Run(ctx))
	ticker.AssertExpectations(t)
}

type haltFlag string

func (h haltFlag) Halted() string { return string(h) }

func TestServiceHaltedSkipsTickAndCycle(t *testing.T) {
	now := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	ticker := &MockTicker{}
	cycles := &MockCycleRunner{}

	s := NewService(ticker, cycles, Options{
		AutoCycle:  true,
		Portfolios: []types.PortfolioTag{types.PortfolioKALIC},
		Halt:       haltFlag("audit chain broken at entry 2"),
	})
	s.SetClock(func() time.Time { return now })

	rep := s.TickOnce(context.Background())
	assert.Equal(t, "audit chain broken at entry 2", rep.Halted)
	assert.Zero(t, rep.Executed+rep.Failed)
	assert.Zero(t, s.CycleOnce(context.Background()))
	ticker.AssertNotCalled(t, "Tick", mock.Anything, mock.Anything)
	cycles.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
}
