package execution

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

func (m *MockBookStore) ApplyFill(ctx context.Context, fill *types.Fill, cash float64, holding types.Holding) error {
	return m.Called(ctx, fill, cash, holding).Error(0)
}

func testBook() types.Book {
	return types.Book{
		Portfolio: types.PortfolioDC,
		Cash:      10000,
		Holdings:  []types.Holding{{Portfolio: types.PortfolioDC, Symbol: "AAPL", Quantity: 10, AvgCost: 150}},
	}
}

func newPaper(t *testing.T, books *MockBookStore) (*PaperExecutor, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	prices := market.NewPriceBook()
	require.NoError(t, prices.Update("AAPL", 200, now))
	require.NoError(t, prices.Update("MSFT", 400, now))
	p := NewPaperExecutor(books, prices)
	p.SetClock(func() time.Time { return now })
	return p, now
}

func TestPaperBuyAveragesCost(t *testing.T) {
	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioDC).Return(testBook(), true, nil)
	books.On("ApplyFill", mock.Anything, mock.AnythingOfType("*types.Fill"), 8000.0, mock.MatchedBy(func(h types.Holding) bool {
		return h.Symbol == "AAPL" && h.Quantity == 20 && h.AvgCost == 175
	})).Return(nil).Once()

	p, _ := newPaper(t, books)
	res, err := p.Execute(context.Background(), Request{Portfolio: types.PortfolioDC, Symbol: "AAPL", Action: types.ActionBuy, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 200.0, res.Price())
	assert.Contains(t, res.Ref(), "paper-")
	assert.Nil(t, res.Fill.RealizedPnL)
	assert.Equal(t, 12000.0, res.ValueBefore)
	books.AssertExpectations(t)
}

func TestPaperSellRealizesPnL(t *testing.T) {
	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioDC).Return(testBook(), true, nil)
	books.On("ApplyFill", mock.Anything, mock.Anything, 10498.0, mock.MatchedBy(func(h types.Holding) bool {
		return h.Quantity == 7
	})).Return(nil).Once()

	p, _ := newPaper(t, books)
	limit := 166.0
	res, err := p.Execute(context.Background(), Request{Portfolio: types.PortfolioDC, Symbol: "AAPL", Action: types.ActionSell, Quantity: 3, LimitPrice: &limit})
	require.NoError(t, err)
	require.NotNil(t, res.Fill.RealizedPnL)
	assert.Equal(t, 48.0, *res.Fill.RealizedPnL)
	assert.True(t, res.Fill.Closed())
	books.AssertExpectations(t)
}

func TestPaperRejectsImpossibleOrders(t *testing.T) {
	books := new(MockBookStore)
	books.On("LoadBook", mock.Anything, types.PortfolioDC).Return(testBook(), true, nil)
	p, _ := newPaper(t, books)
	ctx := context.Background()

	_, err := p.Execute(ctx, Request{Portfolio: types.PortfolioDC, Symbol: "MSFT", Action: types.ActionBuy, Quantity: 30})
	assert.ErrorIs(t, err, ErrInsufficientCash)
	_, err = p.Execute(ctx, Request{Portfolio: types.PortfolioDC, Symbol: "AAPL", Action: types.ActionSell, Quantity: 11})
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	_, err = p.Execute(ctx, Request{Portfolio: types.PortfolioDC, Symbol: "NOPE", Action: types.ActionBuy, Quantity: 1})
	assert.ErrorIs(t, err, ErrNoExecutionPrice)
	_, err = p.Execute(ctx, Request{Portfolio: types.PortfolioDC, Symbol: "AAPL", Action: types.ActionBuy, Quantity: 0})
	assert.Error(t, err)
	books.AssertNotCalled(t, "ApplyFill", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
