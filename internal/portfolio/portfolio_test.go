package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"phinance/internal/market"
	"phinance/internal/types"
)

type MockBookStore struct {
	mock.Mock
}

func (m *MockBookStore) LoadBook(ctx context.Context, p types.PortfolioTag) (types.Book, bool, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(types.Book), args.Bool(1), args.Error(2)
}

func (m *MockBookStore) CountFillsSince(ctx context.Context, p types.PortfolioTag, since time.Time) (int, error) {
	args := m.Called(ctx, p, since)
	return args.Int(0), args.Error(1)
}

func TestLocksArePerPortfolio(t *testing.T) {
	l := NewLocks()
	unlock := l.Lock(types.PortfolioKALIC)

	acquired := func(p types.PortfolioTag) <-chan func() {
		ch := make(chan func(), 1)
		go func() { ch <- l.Lock(p) }()
		return ch
	}

	select {
	case other := <-acquired(types.PortfolioDC):
		other()
	case <-time.After(time.Second):
		t.Fatal("DC lock blocked by KALIC")
	}

	same := acquired(types.PortfolioKALIC)
	select {
	case <-same:
		t.Fatal("KALIC locked twice")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case again := <-same:
		again()
	case <-time.After(time.Second):
		t.Fatal("KALIC lock not released")
	}
}

func TestReaderSnapshotValuesBook(t *testing.T) {
	hours, err := market.DefaultHours()
	require.NoError(t, err)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, hours.Location)

	prices := market.NewPriceBook()
	require.NoError(t, prices.Update("AAPL", 200, now))

	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioKALIC).Return(types.Book{
		Portfolio: types.PortfolioKALIC,
		Cash:      9000,
		Holdings: []types.Holding{
			{Symbol: "AAPL", Quantity: 10, AvgCost: 150},
			{Symbol: "OLD", Quantity: 5, AvgCost: 20},
		},
	}, true, nil)
	books.On("CountFillsSince", mock.Anything, types.PortfolioKALIC, hours.DayStart(now)).Return(2, nil)

	r := NewReader(books, prices, hours)
	r.SetClock(func() time.Time { return now })
	state, err := r.Snapshot(context.Background(), types.PortfolioKALIC)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, state.Cash)
	assert.Equal(t, 2100.0, state.PositionsValue)
	assert.Equal(t, 11100.0, state.TotalValue)
	assert.Equal(t, 2, state.TradesToday)

	aapl, ok := state.Position("aapl")
	require.True(t, ok)
	assert.Equal(t, 500.0, aapl.UnrealizedPnL)
	assert.InDelta(t, 0.1802, aapl.AccountRatio, 1e-9)
	old, ok := state.Position("OLD")
	require.True(t, ok)
	assert.Equal(t, 20.0, old.CurrentPrice)
	books.AssertExpectations(t)
}

func TestReaderUnknownBook(t *testing.T) {
	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioDC).Return(types.Book{}, false, nil)
	r := NewReader(books, market.NewPriceBook(), nil)
	_, err := r.Snapshot(context.Background(), types.PortfolioDC)
	assert.ErrorIs(t, err, ErrUnknownPortfolio)
	_, err = r.CanAfford(context.Background(), types.PortfolioDC, 1)
	assert.ErrorIs(t, err, ErrUnknownPortfolio)
}

func TestReaderCanAfford(t *testing.T) {
	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioDC).Return(types.Book{Cash: 100}, true, nil)
	r := NewReader(books, market.NewPriceBook(), nil)
	ok, err := r.CanAfford(context.Background(), types.PortfolioDC, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.CanAfford(context.Background(), types.PortfolioDC, 100.01)
	require.NoError(t, err)
	assert.False(t, ok)
}
