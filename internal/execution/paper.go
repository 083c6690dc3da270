package execution

import (
	"context"
	"fmt"
	"time"

	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookStore is the persistence the paper executor books fills into.
type BookStore interface {
	LoadBook(ctx context.Context, portfolio types.PortfolioTag) (types.Book, bool, error)
	ApplyFill(ctx context.Context, fill *types.Fill, cash float64, holding types.Holding) error
}

// PaperExecutor fills orders against the simulated books at the limit price,
// or the latest price when no limit is given.
type PaperExecutor struct {
	books  BookStore
	prices market.PriceSource
	nowFn  func() time.Time
}

var _ Executor = (*PaperExecutor)(nil)

func NewPaperExecutor(books BookStore, prices market.PriceSource) *PaperExecutor {
	return &PaperExecutor{books: books, prices: prices, nowFn: time.Now}
}

func (p *PaperExecutor) SetClock(fn func() time.Time) {
	if fn != nil {
		p.nowFn = fn
	}
}

func (p *PaperExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Quantity <= 0 {
		return Result{}, fmt.Errorf("quantity must be > 0, got %v", req.Quantity)
	}
	book, ok, err := p.books.LoadBook(ctx, req.Portfolio)
	if err != nil {
		return Result{}, fmt.Errorf("load book %s: %w", req.Portfolio, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("book %s not initialised", req.Portfolio)
	}
	price, err := p.fillPrice(ctx, req)
	if err != nil {
		return Result{}, err
	}

	qty := decimal.NewFromFloat(req.Quantity)
	px := decimal.NewFromFloat(price)
	cash := decimal.NewFromFloat(book.Cash)
	held, _ := book.Holding(req.Symbol)
	heldQty := decimal.NewFromFloat(held.Quantity)
	avg := decimal.NewFromFloat(held.AvgCost)
	now := p.nowFn()

	fill := types.Fill{
		Portfolio:  req.Portfolio,
		QueueID:    req.QueueID,
		Symbol:     req.Symbol,
		Action:     req.Action,
		Quantity:   req.Quantity,
		Price:      price,
		Ref:        "paper-" + uuid.NewString(),
		ExecutedAt: now,
	}
	next := types.Holding{Portfolio: req.Portfolio, Symbol: req.Symbol, UpdatedAt: now}

	switch req.Action {
	case types.ActionBuy:
		cost := qty.Mul(px)
		if cost.GreaterThan(cash) {
			return Result{}, fmt.Errorf("%w: cost %s, cash %s", ErrInsufficientCash, cost.StringFixed(2), cash.StringFixed(2))
		}
		newQty := heldQty.Add(qty)
		next.Quantity = newQty.InexactFloat64()
		next.AvgCost = heldQty.Mul(avg).Add(cost).Div(newQty).Round(6).InexactFloat64()
		cash = cash.Sub(cost)
	case types.ActionSell:
		if qty.GreaterThan(heldQty) {
			return Result{}, fmt.Errorf("%w: selling %s of %s, holding %s", ErrInsufficientPosition, qty.String(), req.Symbol, heldQty.String())
		}
		realized := px.Sub(avg).Mul(qty).Round(6).InexactFloat64()
		fill.RealizedPnL = &realized
		next.Quantity = heldQty.Sub(qty).InexactFloat64()
		next.AvgCost = held.AvgCost
		cash = cash.Add(qty.Mul(px))
	default:
		return Result{}, fmt.Errorf("unsupported action %q", req.Action)
	}

	valueBefore := p.bookValue(ctx, book)
	if err := p.books.ApplyFill(ctx, &fill, cash.InexactFloat64(), next); err != nil {
		return Result{}, fmt.Errorf("book fill: %w", err)
	}
	logger.Infof("paper fill %s %s %s x%v @ %.4f ref=%s", req.Portfolio, req.Action, req.Symbol, req.Quantity, price, fill.Ref)
	return Result{Fill: fill, ValueBefore: valueBefore}, nil
}

func (p *PaperExecutor) fillPrice(ctx context.Context, req Request) (float64, error) {
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		return *req.LimitPrice, nil
	}
	q, err := p.prices.LatestPrice(ctx, req.Symbol)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %v", ErrNoExecutionPrice, req.Symbol, err)
	}
	if q.Price <= 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoExecutionPrice, req.Symbol)
	}
	return q.Price, nil
}

func (p *PaperExecutor) bookValue(ctx context.Context, book types.Book) float64 {
	total := decimal.NewFromFloat(book.Cash)
	for _, h := range book.Holdings {
		price := h.AvgCost
		if q, err := p.prices.LatestPrice(ctx, h.Symbol); err == nil && q.Price > 0 {
			price = q.Price
		}
		total = total.Add(decimal.NewFromFloat(h.Quantity).Mul(decimal.NewFromFloat(price)))
	}
	return total.InexactFloat64()
}
