package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"phinance/internal/audit"
	"phinance/internal/execution"
	"phinance/internal/logger"
	"phinance/internal/pkg/text"
	"phinance/internal/risk"
	"phinance/internal/types"

	"golang.org/x/sync/errgroup"
)

// TickReport summarises one Tick.
type TickReport struct {
	At         time.Time `json:"at"`
	MarketOpen bool      `json:"market_open"`
	Considered int       `json:"considered"`
	Executed   int       `json:"executed"`
	Failed     int       `json:"failed"`
	Held       int       `json:"held"`
	Halted     string    `json:"halted,omitempty"`
}

type dispatchOutcome int

const (
	outcomeHeld dispatchOutcome = iota
	outcomeExecuted
	outcomeFailed
)

// Tick executes every due queued order while the window is open. With the
// market closed or trading halted it changes nothing. Portfolios run
// concurrently; orders of one portfolio run in id order, each under the
// portfolio lock.
func (q *Queue) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	rep := TickReport{At: now, MarketOpen: q.hours.IsOpen(now)}
	if !rep.MarketOpen {
		return rep, nil
	}
	if reason := q.haltReason(); reason != "" {
		rep.Halted = reason
		logger.Warnf("queue tick skipped: trading halted: %s", reason)
		return rep, nil
	}
	orders, err := q.queued(ctx)
	if err != nil {
		return rep, err
	}
	rep.Considered = len(orders)
	if len(orders) == 0 {
		return rep, nil
	}

	byPortfolio := make(map[types.PortfolioTag][]types.QueuedTrade)
	for _, o := range orders {
		byPortfolio[o.Portfolio] = append(byPortfolio[o.Portfolio], o)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for p, list := range byPortfolio {
		p, list := p, list
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		g.Go(func() error {
			for _, order := range list {
				if ctx.Err() != nil {
					return nil
				}
				if order.ScheduledFor != nil && now.Before(*order.ScheduledFor) {
					mu.Lock()
					rep.Held++
					mu.Unlock()
					continue
				}
				if q.haltReason() != "" {
					return nil
				}
				unlock := q.locks.Lock(p)
				out, err := q.dispatchLocked(ctx, order, now)
				unlock()

				mu.Lock()
				switch out {
				case outcomeExecuted:
					rep.Executed++
				case outcomeFailed:
					rep.Failed++
				default:
					rep.Held++
				}
				if err != nil && !errors.Is(err, ErrQueueExecutionFailed) {
					errs = append(errs, err)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if rep.Executed+rep.Failed > 0 {
		logger.Infof("queue tick: %d considered, %d executed, %d failed, %d held", rep.Considered, rep.Executed, rep.Failed, rep.Held)
	}
	return rep, errors.Join(errs...)
}

// queued pages through every queued order in id order, so orders held by a
// condition never hide newer due ones.
func (q *Queue) queued(ctx context.Context) ([]types.QueuedTrade, error) {
	var (
		out   []types.QueuedTrade
		after int64
	)
	for {
		page, err := q.store.ListQueuedTrades(ctx, types.QueueFilter{Status: types.QueueStatusQueued, AfterID: after, Limit: tickBatch})
		if err != nil {
			return nil, fmt.Errorf("list queued trades: %w", err)
		}
		out = append(out, page...)
		if len(page) < tickBatch {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

// Dispatch executes queued order id right away. The caller must hold the
// order's portfolio lock. A failed execution returns the failed order and an
// error wrapping ErrQueueExecutionFailed.
func (q *Queue) Dispatch(ctx context.Context, id int64) (types.QueuedTrade, error) {
	if reason := q.haltReason(); reason != "" {
		return types.QueuedTrade{}, fmt.Errorf("%w: %s", ErrQueueHalted, reason)
	}
	order, err := q.store.GetQueuedTrade(ctx, id)
	if err != nil {
		return types.QueuedTrade{}, err
	}
	if order.Status != types.QueueStatusQueued {
		return order, fmt.Errorf("order #%d is %s, not queued", id, order.Status)
	}
	out, derr := q.dispatchLocked(ctx, order, q.nowFn())
	latest, err := q.store.GetQueuedTrade(context.WithoutCancel(ctx), id)
	if err != nil {
		return order, errors.Join(derr, err)
	}
	if out == outcomeHeld && derr == nil {
		return latest, fmt.Errorf("order #%d held: %s", id, latest.Status)
	}
	return latest, derr
}

func (q *Queue) dispatchLocked(ctx context.Context, order types.QueuedTrade, now time.Time) (dispatchOutcome, error) {
	if hold, why := q.conditionHolds(ctx, order); hold {
		logger.Debugf("queue: #%d held: %s", order.ID, why)
		return outcomeHeld, nil
	}
	ok, err := q.store.CompareAndSetStatus(ctx, order.ID, types.QueueStatusQueued, types.QueueStatusExecuting, types.QueueUpdate{})
	if err != nil {
		return outcomeHeld, fmt.Errorf("claim #%d: %w", order.ID, err)
	}
	if !ok {
		// cancelled or claimed by another tick in the meantime
		return outcomeHeld, nil
	}
	q.event(ctx, order.ID, types.QueueStatusExecuting, "execution started", now)

	id := order.ID
	req := execution.Request{
		Portfolio:  order.Portfolio,
		QueueID:    &id,
		Symbol:     order.Symbol,
		Action:     order.Action,
		Quantity:   order.Quantity,
		LimitPrice: order.TargetPrice,
	}
	execCtx, cancel := context.WithTimeout(ctx, q.opts.ExecuteTimeout)
	res, execErr := q.executor.Execute(execCtx, req)
	cancel()

	// the venue call has returned; record its result even if ctx was cancelled meanwhile
	persistCtx := context.WithoutCancel(ctx)
	finished := q.nowFn()
	if execErr != nil {
		msg := text.Truncate(execErr.Error(), maxErrorMessage)
		if _, err := q.store.CompareAndSetStatus(persistCtx, order.ID, types.QueueStatusExecuting, types.QueueStatusFailed, types.QueueUpdate{
			ExecutedAt:   &finished,
			ErrorMessage: msg,
		}); err != nil {
			return outcomeFailed, fmt.Errorf("mark #%d failed: %w", order.ID, err)
		}
		q.event(persistCtx, order.ID, types.QueueStatusFailed, msg, finished)
		logger.Warnf("queue: #%d %s %s failed: %s", order.ID, order.Action, order.Symbol, msg)
		if err := q.auditExecution(persistCtx, order, types.QueueStatusFailed, nil, msg); err != nil {
			return outcomeFailed, err
		}
		return outcomeFailed, fmt.Errorf("%w: #%d: %s", ErrQueueExecutionFailed, order.ID, msg)
	}

	price := res.Price()
	executedAt := res.Fill.ExecutedAt
	if executedAt.IsZero() {
		executedAt = finished
	}
	if _, err := q.store.CompareAndSetStatus(persistCtx, order.ID, types.QueueStatusExecuting, types.QueueStatusExecuted, types.QueueUpdate{
		ExecutedAt:     &executedAt,
		ExecutionPrice: &price,
		ExecutionRef:   res.Ref(),
	}); err != nil {
		return outcomeExecuted, fmt.Errorf("mark #%d executed: %w", order.ID, err)
	}
	q.event(persistCtx, order.ID, types.QueueStatusExecuted, fmt.Sprintf("filled @ %.4f ref=%s", price, res.Ref()), executedAt)
	if err := q.auditExecution(persistCtx, order, types.QueueStatusExecuted, &res, ""); err != nil {
		return outcomeExecuted, err
	}
	if res.Fill.RealizedPnL != nil && q.outcomes != nil {
		out := risk.TradeOutcome{
			Portfolio:      order.Portfolio,
			Symbol:         order.Symbol,
			RealizedPnL:    *res.Fill.RealizedPnL,
			PortfolioValue: res.ValueBefore,
			Ref:            res.Ref(),
			At:             executedAt,
		}
		if err := q.outcomes.RecordOutcome(persistCtx, out); err != nil {
			return outcomeExecuted, fmt.Errorf("record outcome of #%d: %w", order.ID, err)
		}
	}
	return outcomeExecuted, nil
}

type executionRecord struct {
	QueueID     int64              `json:"queue_id"`
	Portfolio   types.PortfolioTag `json:"portfolio"`
	Symbol      string             `json:"symbol"`
	Action      types.Action       `json:"action"`
	Quantity    float64            `json:"quantity"`
	Status      types.QueueStatus  `json:"status"`
	Price       float64            `json:"price,omitempty"`
	Ref         string             `json:"ref,omitempty"`
	RealizedPnL *float64           `json:"realized_pnl,omitempty"`
	Error       string             `json:"error,omitempty"`
	DecisionID  *int64             `json:"decision_id,omitempty"`
}

func (q *Queue) auditExecution(ctx context.Context, order types.QueuedTrade, status types.QueueStatus, res *execution.Result, errMsg string) error {
	if q.audit == nil {
		return nil
	}
	rec := executionRecord{
		QueueID:    order.ID,
		Portfolio:  order.Portfolio,
		Symbol:     order.Symbol,
		Action:     order.Action,
		Quantity:   order.Quantity,
		Status:     status,
		Error:      errMsg,
		DecisionID: order.DecisionID,
	}
	if res != nil {
		rec.Price = res.Price()
		rec.Ref = res.Ref()
		rec.RealizedPnL = res.Fill.RealizedPnL
	}
	if _, err := q.audit.Append(ctx, audit.Record{Kind: audit.KindQueueExecution, Portfolio: order.Portfolio, Payload: rec}); err != nil {
		return fmt.Errorf("audit execution of #%d: %w", order.ID, err)
	}
	return nil
}
