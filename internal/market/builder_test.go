package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"phinance/internal/types"
)

type MockPortfolioReader struct {
	mock.Mock
}

func (m *MockPortfolioReader) Snapshot(ctx context.Context, portfolio types.PortfolioTag) (types.PortfolioState, error) {
	args := m.Called(ctx, portfolio)
	return args.Get(0).(types.PortfolioState), args.Error(1)
}

func trendingBars(n int, start time.Time) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/4) + float64(i)*0.2
		bars[i] = Bar{Date: start.AddDate(0, 0, i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return bars
}

func TestComputeIndicatorsFullHistory(t *testing.T) {
	ind := ComputeIndicators(trendingBars(80, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	for _, key := range []string{KeyRSI14, KeyMACD, KeyMACDSignal, KeyBBUpper, KeyBBLower, KeyStochK, KeySMA20, KeySMA50} {
		_, ok := ind[key]
		assert.True(t, ok, key)
	}
	assert.Greater(t, ind[KeyBBUpper], ind[KeyBBLower])
	assert.GreaterOrEqual(t, ind[KeyRSI14], 0.0)
	assert.LessOrEqual(t, ind[KeyRSI14], 100.0)
}

func TestComputeIndicatorsShortHistory(t *testing.T) {
	ind := ComputeIndicators(trendingBars(10, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, ind)
	assert.Empty(t, ComputeIndicators(nil))
}

func TestBuildToleratesStaleAndMissingPrices(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	book := NewPriceBook()
	require.NoError(t, book.Update("AAPL", 190, now.Add(-time.Minute)))
	require.NoError(t, book.Update("MSFT", 400, now.Add(-72*time.Hour)))
	require.NoError(t, book.Update("SPY", 500, now))
	book.AppendBars("AAPL", trendingBars(60, now.AddDate(0, 0, -60))...)

	reader := new(MockPortfolioReader)
	reader.On("Snapshot", mock.Anything, types.PortfolioKALIC).Return(types.PortfolioState{
		Portfolio:  types.PortfolioKALIC,
		Cash:       900000,
		TotalValue: 1000000,
		Positions:  []types.PositionSnapshot{{Symbol: "NVDA", Quantity: 10}},
	}, nil)

	b := NewBuilder(book, reader, BuilderOptions{
		Watchlists: map[types.PortfolioTag][]string{types.PortfolioKALIC: {"aapl", "MSFT", "TSLA"}},
		Benchmark:  "SPY",
	})
	b.SetClock(func() time.Time { return now })

	snap, err := b.Build(context.Background(), types.PortfolioKALIC)
	require.NoError(t, err)
	assert.Equal(t, now, snap.AsOf)
	require.Len(t, snap.Symbols, 2)

	aapl, ok := snap.Symbol("AAPL")
	require.True(t, ok)
	assert.False(t, aapl.Stale)
	assert.NotEmpty(t, aapl.Indicators)

	msft, ok := snap.Symbol("MSFT")
	require.True(t, ok)
	assert.True(t, msft.Stale)
	assert.Empty(t, msft.Indicators)

	_, ok = snap.Symbol("TSLA")
	assert.False(t, ok)
	require.NotNil(t, snap.Benchmark)
	assert.Equal(t, 500.0, snap.Benchmark.Price)
	reader.AssertExpectations(t)
}

func TestBuildPortfolioError(t *testing.T) {
	reader := new(MockPortfolioReader)
	reader.On("Snapshot", mock.Anything, types.PortfolioDC).Return(types.PortfolioState{}, errors.New("db down"))
	b := NewBuilder(NewPriceBook(), reader, BuilderOptions{})
	_, err := b.Build(context.Background(), types.PortfolioDC)
	assert.Error(t, err)
}

func TestPriceBookHistoryWindow(t *testing.T) {
	book := NewPriceBook()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	book.AppendBars("spy", trendingBars(30, start)...)
	book.AppendBars("SPY", Bar{Date: start.AddDate(0, 0, 29), Close: 1})
	bars, err := book.History(context.Background(), "SPY", 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, 1.0, bars[4].Close)

	_, err = book.LatestPrice(context.Background(), "QQQ")
	assert.ErrorIs(t, err, ErrNoPrice)
	assert.Error(t, book.Update("QQQ", 0, start))
}
