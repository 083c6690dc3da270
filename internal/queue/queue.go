// Package queue holds approved and deferred orders until their trading window
// opens and executes each exactly once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"phinance/internal/audit"
	"phinance/internal/execution"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/pkg/symbol"
	"phinance/internal/pkg/text"
	"phinance/internal/portfolio"
	"phinance/internal/risk"
	"phinance/internal/types"
)

var (
	// ErrNotCancellable is returned when an order has left the queued state.
	ErrNotCancellable = errors.New("order is not cancellable")
	ErrInvalidOrder   = errors.New("invalid order")
	// ErrQueueExecutionFailed marks an order that reached the terminal failed state.
	ErrQueueExecutionFailed = errors.New("queue execution failed")
	// ErrQueueHalted is returned by Dispatch while automated trading is halted.
	ErrQueueHalted = errors.New("queue halted")
)

const (
	defaultExecuteTimeout = 30 * time.Second
	maxErrorMessage       = 500
)

// tickBatch is the page size Tick reads the queue with.
var tickBatch = 500

// Store is the persistence the queue needs.
type Store interface {
	InsertQueuedTrade(ctx context.Context, t *types.QueuedTrade) error
	GetQueuedTrade(ctx context.Context, id int64) (types.QueuedTrade, error)
	ListQueuedTrades(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error)
	CountQueuedTrades(ctx context.Context, portfolio types.PortfolioTag) (int, error)
	CompareAndSetStatus(ctx context.Context, id int64, from, to types.QueueStatus, upd types.QueueUpdate) (bool, error)
	AppendQueueEvent(ctx context.Context, evt types.QueueEvent) error
	ListQueueEvents(ctx context.Context, queueID int64) ([]types.QueueEvent, error)
}

// OutcomeSink receives realized outcomes synchronously after a closing fill.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, out risk.TradeOutcome) error
}

// CashChecker gates orders deferred while awaiting cash.
type CashChecker interface {
	CanAfford(ctx context.Context, portfolio types.PortfolioTag, amount float64) (bool, error)
}

// PriceLookup estimates the cost of a deferred BUY.
type PriceLookup interface {
	LatestPrice(ctx context.Context, symbol string) (market.Quote, error)
}

// HaltSource reports why automated trading is stopped, or "" when it is not.
type HaltSource interface {
	Halted() string
}

type Options struct {
	ExecuteTimeout time.Duration
	Portfolios     []types.PortfolioTag
}

// Queue is the trade queue. Tick is its only execution entry point besides
// Dispatch, which the engine uses for orders approved while the market is open.
type Queue struct {
	store    Store
	executor execution.Executor
	hours    market.Hours
	locks    *portfolio.Locks
	outcomes OutcomeSink
	cash     CashChecker
	prices   PriceLookup
	halt     HaltSource
	audit    audit.Appender
	opts     Options
	known    map[types.PortfolioTag]bool
	nowFn    func() time.Time
	running  atomic.Bool
}

func New(st Store, exec execution.Executor, hours market.Hours, locks *portfolio.Locks, outcomes OutcomeSink, appender audit.Appender, opts Options) *Queue {
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = defaultExecuteTimeout
	}
	if locks == nil {
		locks = portfolio.NewLocks()
	}
	known := make(map[types.PortfolioTag]bool, len(opts.Portfolios))
	for _, p := range opts.Portfolios {
		known[p] = true
	}
	return &Queue{
		store:    st,
		executor: exec,
		hours:    hours,
		locks:    locks,
		outcomes: outcomes,
		audit:    appender,
		opts:     opts,
		known:    known,
		nowFn:    time.Now,
	}
}

// WithCashCheck enables the awaiting_cash condition gate.
func (q *Queue) WithCashCheck(cash CashChecker, prices PriceLookup) *Queue {
	q.cash = cash
	q.prices = prices
	return q
}

// WithHaltSource stops Tick and Dispatch while h reports a halt.
func (q *Queue) WithHaltSource(h HaltSource) *Queue {
	q.halt = h
	return q
}

func (q *Queue) haltReason() string {
	if q.halt == nil {
		return ""
	}
	return q.halt.Halted()
}

func (q *Queue) SetClock(fn func() time.Time) {
	if fn != nil {
		q.nowFn = fn
	}
}

// SetRunning flags whether a scheduler is driving Tick.
func (q *Queue) SetRunning(v bool) { q.running.Store(v) }

func (q *Queue) Hours() market.Hours { return q.hours }

func (q *Queue) Locks() *portfolio.Locks { return q.locks }

// MarketOpen reports whether the exchange window is open at now.
func (q *Queue) MarketOpen(now time.Time) bool { return q.hours.IsOpen(now) }

func (q *Queue) validate(order *types.QueuedTrade) error {
	order.Portfolio = types.NormalizePortfolio(string(order.Portfolio))
	if len(q.known) > 0 && !q.known[order.Portfolio] {
		return fmt.Errorf("%w: unknown portfolio %q", ErrInvalidOrder, order.Portfolio)
	}
	sym, err := symbol.Normalize(order.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	order.Symbol = sym
	action, ok := types.ParseAction(string(order.Action))
	if !ok || action == types.ActionHold {
		return fmt.Errorf("%w: action must be BUY or SELL, got %q", ErrInvalidOrder, order.Action)
	}
	order.Action = action
	if order.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidOrder)
	}
	if order.TargetPrice != nil && *order.TargetPrice <= 0 {
		return fmt.Errorf("%w: target_price must be > 0", ErrInvalidOrder)
	}
	if order.Conviction != nil && (*order.Conviction < 1 || *order.Conviction > 10) {
		return fmt.Errorf("%w: conviction must be within 1..10", ErrInvalidOrder)
	}
	if strings.TrimSpace(order.Source) == "" {
		order.Source = "manual"
	}
	return nil
}

// Enqueue stores order as queued and returns its id.
func (q *Queue) Enqueue(ctx context.Context, order types.QueuedTrade) (int64, error) {
	if err := q.validate(&order); err != nil {
		return 0, err
	}
	return q.insert(ctx, order)
}

// EnqueueBatch validates every order before inserting any of them.
func (q *Queue) EnqueueBatch(ctx context.Context, orders []types.QueuedTrade) ([]int64, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidOrder)
	}
	for i := range orders {
		if err := q.validate(&orders[i]); err != nil {
			return nil, fmt.Errorf("order #%d: %w", i+1, err)
		}
	}
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		id, err := q.insert(ctx, o)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *Queue) insert(ctx context.Context, order types.QueuedTrade) (int64, error) {
	now := q.nowFn()
	order.ID = 0
	order.Status = types.QueueStatusQueued
	order.CreatedAt = now
	order.ExecutedAt = nil
	order.ExecutionPrice = nil
	order.ExecutionRef = ""
	order.ErrorMessage = ""
	if err := q.store.InsertQueuedTrade(ctx, &order); err != nil {
		return 0, fmt.Errorf("insert queued trade: %w", err)
	}
	details := fmt.Sprintf("%s %v %s from %s", order.Action, order.Quantity, order.Symbol, order.Source)
	if order.Condition != "" {
		details += " awaiting " + order.Condition
	}
	q.event(ctx, order.ID, types.QueueStatusQueued, details, now)
	logger.Infof("queue: #%d %s %s %s x%v queued (%s)", order.ID, order.Portfolio, order.Action, order.Symbol, order.Quantity, order.Source)
	return order.ID, nil
}

// Cancel moves a queued order to cancelled. Any other status is ErrNotCancellable,
// including an order a Tick is executing right now.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	order, err := q.store.GetQueuedTrade(ctx, id)
	if err != nil {
		return err
	}
	if order.Status != types.QueueStatusQueued {
		return fmt.Errorf("%w: #%d is %s", ErrNotCancellable, id, order.Status)
	}
	ok, err := q.store.CompareAndSetStatus(ctx, id, types.QueueStatusQueued, types.QueueStatusCancelled, types.QueueUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: #%d left the queue", ErrNotCancellable, id)
	}
	q.event(ctx, id, types.QueueStatusCancelled, "cancelled", q.nowFn())
	return nil
}

func (q *Queue) Get(ctx context.Context, id int64) (types.QueuedTrade, error) {
	return q.store.GetQueuedTrade(ctx, id)
}

func (q *Queue) List(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error) {
	return q.store.ListQueuedTrades(ctx, filter)
}

// Events returns the per-order event log.
func (q *Queue) Events(ctx context.Context, id int64) ([]types.QueueEvent, error) {
	if _, err := q.store.GetQueuedTrade(ctx, id); err != nil {
		return nil, err
	}
	return q.store.ListQueueEvents(ctx, id)
}

// PendingCount counts queued orders; an empty portfolio counts all.
func (q *Queue) PendingCount(ctx context.Context, p types.PortfolioTag) (int, error) {
	return q.store.CountQueuedTrades(ctx, p)
}

// Status is the scheduling-status view.
type Status struct {
	Running        bool      `json:"running"`
	QueuedCount    int       `json:"queued_count"`
	CurrentTime    time.Time `json:"current_time"`
	MarketOpen     bool      `json:"market_open"`
	NextMarketOpen time.Time `json:"next_market_open"`
}

func (q *Queue) Status(ctx context.Context) (Status, error) {
	now := q.nowFn()
	n, err := q.store.CountQueuedTrades(ctx, "")
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:        q.running.Load(),
		QueuedCount:    n,
		CurrentTime:    now.In(q.hours.Loc()),
		MarketOpen:     q.hours.IsOpen(now),
		NextMarketOpen: q.hours.NextOpen(now).In(q.hours.Loc()),
	}, nil
}

func (q *Queue) event(ctx context.Context, id int64, status types.QueueStatus, details string, at time.Time) {
	evt := types.QueueEvent{QueueID: id, Event: status, Details: text.Truncate(details, maxErrorMessage), Timestamp: at}
	if err := q.store.AppendQueueEvent(ctx, evt); err != nil {
		logger.Warnf("queue: event %s for #%d not recorded: %v", status, id, err)
	}
}

// conditionHolds reports whether order still waits on its deferral condition.
func (q *Queue) conditionHolds(ctx context.Context, order types.QueuedTrade) (bool, string) {
	if order.Condition != guardrail.ConditionAwaitingCash || order.Action != types.ActionBuy || q.cash == nil {
		return false, ""
	}
	price := 0.0
	if order.TargetPrice != nil {
		price = *order.TargetPrice
	} else if q.prices != nil {
		if quote, err := q.prices.LatestPrice(ctx, order.Symbol); err == nil {
			price = quote.Price
		}
	}
	if price <= 0 {
		return true, "no price to size cash check"
	}
	ok, err := q.cash.CanAfford(ctx, order.Portfolio, price*order.Quantity)
	if err != nil {
		return true, err.Error()
	}
	if !ok {
		return true, "awaiting cash"
	}
	return false, ""
}
