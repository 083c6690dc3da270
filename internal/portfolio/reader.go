package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/types"

	"github.com/shopspring/decimal"
)

// ErrUnknownPortfolio is returned for a book that was never initialised.
var ErrUnknownPortfolio = errors.New("unknown portfolio")

// BookStore is the book persistence Reader uses.
type BookStore interface {
	LoadBook(ctx context.Context, portfolio types.PortfolioTag) (types.Book, bool, error)
	CountFillsSince(ctx context.Context, portfolio types.PortfolioTag, since time.Time) (int, error)
}

// DayClock maps an instant to the start of its exchange day.
type DayClock interface {
	DayStart(t time.Time) time.Time
}

// Reader values books at the latest known prices. It implements market.PortfolioReader.
type Reader struct {
	books  BookStore
	prices market.PriceSource
	days   DayClock
	nowFn  func() time.Time
}

var _ market.PortfolioReader = (*Reader)(nil)

func NewReader(books BookStore, prices market.PriceSource, days DayClock) *Reader {
	return &Reader{books: books, prices: prices, days: days, nowFn: time.Now}
}

func (r *Reader) SetClock(fn func() time.Time) {
	if fn != nil {
		r.nowFn = fn
	}
}

// Snapshot values portfolio. Holdings without a price are valued at cost.
func (r *Reader) Snapshot(ctx context.Context, portfolio types.PortfolioTag) (types.PortfolioState, error) {
	book, ok, err := r.books.LoadBook(ctx, portfolio)
	if err != nil {
		return types.PortfolioState{}, fmt.Errorf("load book %s: %w", portfolio, err)
	}
	if !ok {
		return types.PortfolioState{}, fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolio)
	}
	now := r.nowFn()
	state := types.PortfolioState{Portfolio: portfolio, Cash: book.Cash, UpdatedAt: now}

	positionsValue := decimal.Zero
	for _, h := range book.Holdings {
		qty := decimal.NewFromFloat(h.Quantity)
		cost := decimal.NewFromFloat(h.AvgCost)
		price := cost
		if q, err := r.prices.LatestPrice(ctx, h.Symbol); err == nil && q.Price > 0 {
			price = decimal.NewFromFloat(q.Price)
		} else if err != nil && !errors.Is(err, market.ErrNoPrice) {
			logger.Warnf("portfolio %s: price for %s unavailable: %v", portfolio, h.Symbol, err)
		}
		value := qty.Mul(price)
		positionsValue = positionsValue.Add(value)
		state.Positions = append(state.Positions, types.PositionSnapshot{
			Symbol:        h.Symbol,
			Quantity:      h.Quantity,
			EntryPrice:    h.AvgCost,
			CurrentPrice:  price.InexactFloat64(),
			PositionValue: value.InexactFloat64(),
			UnrealizedPnL: price.Sub(cost).Mul(qty).InexactFloat64(),
		})
	}
	total := positionsValue.Add(decimal.NewFromFloat(book.Cash))
	state.PositionsValue = positionsValue.InexactFloat64()
	state.TotalValue = total.InexactFloat64()
	if total.IsPositive() {
		for i := range state.Positions {
			state.Positions[i].AccountRatio = decimal.NewFromFloat(state.Positions[i].PositionValue).Div(total).Round(4).InexactFloat64()
		}
	}

	if r.days != nil {
		n, err := r.books.CountFillsSince(ctx, portfolio, r.days.DayStart(now))
		if err != nil {
			return types.PortfolioState{}, fmt.Errorf("count fills %s: %w", portfolio, err)
		}
		state.TradesToday = n
	}
	return state, nil
}

// CanAfford reports whether portfolio holds at least amount in cash.
func (r *Reader) CanAfford(ctx context.Context, portfolio types.PortfolioTag, amount float64) (bool, error) {
	book, ok, err := r.books.LoadBook(ctx, portfolio)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPortfolio, portfolio)
	}
	return decimal.NewFromFloat(book.Cash).GreaterThanOrEqual(decimal.NewFromFloat(amount)), nil
}
