package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"phinance/internal/audit"
	"phinance/internal/decision"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/types"

	"github.com/google/uuid"
)

// RunCycle runs one decision cycle for portfolio p inside the active session.
// Cancelling ctx between steps ends the cycle early: unprocessed proposals come
// back marked cancelled and the error is nil. A halt raised during the cycle
// (a failed audit append) cancels the remaining proposals the same way but
// returns ErrTradingHalted.
func (e *Engine) RunCycle(ctx context.Context, p types.PortfolioTag) ([]types.TradeDecision, error) {
	book, err := e.book(p)
	if err != nil {
		return nil, err
	}
	sess, ok, err := e.store.ActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if !ok {
		return nil, ErrNoActiveSession
	}
	release, err := e.claimSession(sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := book.Breaker.Check(ctx); err != nil {
		logger.Warnf("engine: cycle %s refused: %v", p, err)
		return nil, err
	}

	traceID := uuid.NewString()
	snap, err := e.builder.Build(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	mode, err := book.Modes.Mode(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mode: %w", err)
	}
	snap.Mode = mode
	if err := book.Breaker.MarkDayStart(ctx, snap.State.TotalValue); err != nil {
		logger.Warnf("engine: mark day start %s: %v", p, err)
	}
	if ctx.Err() != nil {
		logger.Infof("engine: cycle %s cancelled after context build", p)
		return []types.TradeDecision{}, nil
	}

	raw, providerID, err := e.cascade.Query(ctx, snap, traceID)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("engine: cycle %s cancelled during provider query", p)
			return []types.TradeDecision{}, nil
		}
		return nil, fmt.Errorf("query providers: %w", err)
	}
	parsed, err := decision.ParseEnvelope(raw.Envelope)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", providerID, err)
	}
	for _, bad := range parsed.Malformed {
		logger.Warnf("engine: %s: %v", providerID, bad)
	}

	c := &cycle{e: e, book: book, session: sess, traceID: traceID, providerID: providerID, snap: snap}
	decisions := c.apply(ctx, parsed.Proposals)

	// outcomes already happened; persist them even if ctx was cancelled meanwhile
	persistCtx := context.WithoutCancel(ctx)
	for i := range decisions {
		if err := e.store.InsertDecision(persistCtx, &decisions[i]); err != nil {
			e.Halt(fmt.Sprintf("store decision failed: %v", err))
			return decisions, fmt.Errorf("store decision: %w", err)
		}
		if err := e.appendAudit(persistCtx, audit.KindDecision, p, decisions[i]); err != nil {
			return decisions, err
		}
	}
	if err := e.store.AddSessionCounts(persistCtx, sess.ID, len(decisions), c.trades); err != nil {
		logger.Warnf("engine: session %d counts: %v", sess.ID, err)
	}
	if reason := e.Halted(); reason != "" {
		logger.Warnf("engine: cycle %s trace=%s stopped: trading halted: %s", p, traceID, reason)
		return decisions, fmt.Errorf("%w: %s", ErrTradingHalted, reason)
	}

	cancelled := ctx.Err() != nil
	summary := cycleSummary{
		TraceID:    traceID,
		SessionID:  sess.ID,
		Portfolio:  p,
		Mode:       mode,
		Provider:   providerID,
		Shape:      parsed.Shape.String(),
		Analysis:   parsed.Analysis,
		Malformed:  len(parsed.Malformed),
		Outcomes:   countOutcomes(decisions),
		Cancelled:  cancelled,
		StartedAt:  snap.AsOf,
		FinishedAt: e.nowFn(),
	}
	if !cancelled {
		perf, err := e.recordPerformance(persistCtx, book, &sess, snap)
		if err != nil {
			logger.Warnf("engine: performance snapshot %s: %v", p, err)
		} else {
			summary.PortfolioValue = perf.PortfolioValue
		}
	}
	if err := e.appendAudit(persistCtx, audit.KindCycleCompleted, p, summary); err != nil {
		return decisions, err
	}
	logger.Infof("engine: cycle %s trace=%s provider=%s decisions=%d trades=%d cancelled=%v",
		p, traceID, providerID, len(decisions), c.trades, cancelled)
	return decisions, nil
}

type cycleSummary struct {
	TraceID        string                        `json:"trace_id"`
	SessionID      int64                         `json:"session_id"`
	Portfolio      types.PortfolioTag            `json:"portfolio"`
	Mode           types.TradingMode             `json:"mode"`
	Provider       string                        `json:"provider"`
	Shape          string                        `json:"shape"`
	Analysis       string                        `json:"analysis,omitempty"`
	Malformed      int                           `json:"malformed"`
	Outcomes       map[types.DecisionOutcome]int `json:"outcomes"`
	Cancelled      bool                          `json:"cancelled,omitempty"`
	PortfolioValue float64                       `json:"portfolio_value,omitempty"`
	StartedAt      time.Time                     `json:"started_at"`
	FinishedAt     time.Time                     `json:"finished_at"`
}

type rejectionRecord struct {
	TraceID   string             `json:"trace_id"`
	Symbol    string             `json:"symbol"`
	Action    types.Action       `json:"action"`
	RuleID    guardrail.RuleID   `json:"rule_id"`
	Reason    string             `json:"reason"`
	Mode      types.TradingMode  `json:"mode"`
	CapPct    float64            `json:"cap_pct"`
	Override  bool               `json:"override,omitempty"`
	Portfolio types.PortfolioTag `json:"portfolio"`
}

type deferralRecord struct {
	TraceID   string  `json:"trace_id"`
	QueueID   int64   `json:"queue_id"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Condition string  `json:"condition"`
	Reason    string  `json:"reason"`
}

func countOutcomes(decisions []types.TradeDecision) map[types.DecisionOutcome]int {
	out := make(map[types.DecisionOutcome]int)
	for _, d := range decisions {
		out[d.Outcome]++
	}
	return out
}

// cycle carries the per-run state of RunCycle.
type cycle struct {
	e          *Engine
	book       Book
	session    types.TradingSession
	traceID    string
	providerID string
	snap       market.Snapshot
	trades     int
}

// apply evaluates every proposal under the portfolio lock so a concurrent
// queue tick cannot move cash or positions between check and dispatch.
func (c *cycle) apply(ctx context.Context, proposals []types.Proposal) []types.TradeDecision {
	unlock := c.e.locks.Lock(c.book.Tag)
	defer unlock()

	state, err := c.e.portfolios.Snapshot(ctx, c.book.Tag)
	if err != nil {
		logger.Warnf("engine: fresh portfolio read %s: %v, using context snapshot", c.book.Tag, err)
		state = c.snap.State
	}
	decisions := make([]types.TradeDecision, 0, len(proposals))
	for _, prop := range proposals {
		d := c.newDecision(prop)
		if ctx.Err() != nil {
			d.Outcome = types.OutcomeCancelled
			d.OutcomeReason = "cycle cancelled"
			decisions = append(decisions, d)
			continue
		}
		if c.halted(&d) {
			decisions = append(decisions, d)
			continue
		}
		c.handle(ctx, &d, prop, &state)
		decisions = append(decisions, d)
	}
	return decisions
}

func (c *cycle) newDecision(prop types.Proposal) types.TradeDecision {
	sessionID := c.session.ID
	d := types.TradeDecision{
		SessionID:          &sessionID,
		Portfolio:          c.book.Tag,
		TraceID:            c.traceID,
		Timestamp:          c.e.nowFn().UTC(),
		Action:             prop.Action,
		Symbol:             prop.Symbol,
		Confidence:         prop.Confidence,
		Reasoning:          prop.Reasoning,
		Signals:            prop.Signals,
		ModelUsed:          c.providerID,
		PredictedDirection: prop.PredictedDirection,
	}
	if price, ok := c.snap.Price(prop.Symbol); ok {
		d.PriceAtDecision = &price
	}
	if prop.Quantity > 0 {
		q := prop.Quantity
		d.Quantity = &q
	}
	if prop.PredictedPriceTarget > 0 {
		t := prop.PredictedPriceTarget
		d.PredictedPriceTarget = &t
	}
	if prop.PredictedTimeframeDays > 0 {
		n := prop.PredictedTimeframeDays
		d.PredictedTimeframeDays = &n
	}
	return d
}

func (c *cycle) handle(ctx context.Context, d *types.TradeDecision, prop types.Proposal, state *types.PortfolioState) {
	if prop.Action == types.ActionHold {
		d.Outcome = types.OutcomeHold
		return
	}
	mode, err := c.book.Modes.Mode(ctx)
	if err != nil {
		c.fail(d, fmt.Errorf("load mode: %w", err))
		return
	}
	ov, err := c.book.Modes.ActiveOverride(ctx)
	if err != nil {
		c.fail(d, fmt.Errorf("load override: %w", err))
		return
	}
	prop.Signals = mergeSignals(prop, c.snap)
	d.Signals = prop.Signals
	price, _ := c.snap.Price(prop.Symbol)

	v := c.e.guard.Evaluate(prop, price, *state, mode, ov)
	if v.Price > 0 {
		p := v.Price
		d.PriceAtDecision = &p
	}
	switch v.Kind {
	case guardrail.Skipped:
		d.Outcome = types.OutcomeHold
	case guardrail.Rejected:
		d.Outcome = types.OutcomeRejected
		d.RuleID = string(v.RuleID)
		d.OutcomeReason = v.Reason
		logger.Infof("engine: %s %s %s rejected [%s] %s", c.book.Tag, prop.Action, prop.Symbol, v.RuleID, v.Reason)
		// a failed append halts trading; the rest of the cycle sees it
		_ = c.e.appendAudit(ctx, audit.KindRejection, c.book.Tag, rejectionRecord{
			TraceID:   c.traceID,
			Symbol:    prop.Symbol,
			Action:    prop.Action,
			RuleID:    v.RuleID,
			Reason:    v.Reason,
			Mode:      mode,
			CapPct:    v.CapPct,
			Override:  v.OverrideCap,
			Portfolio: c.book.Tag,
		})
	case guardrail.Deferred:
		qty := v.Quantity
		d.Quantity = &qty
		if c.halted(d) {
			return
		}
		id, err := c.e.queue.Enqueue(ctx, c.order(prop, v))
		if err != nil {
			c.fail(d, fmt.Errorf("enqueue deferred order: %w", err))
			return
		}
		d.QueueID = &id
		d.Outcome = types.OutcomeDeferred
		d.OutcomeReason = v.Reason
		reserve(state, prop.Symbol, prop.Action, v.Quantity, v.Price)
		_ = c.e.appendAudit(ctx, audit.KindDeferral, c.book.Tag, deferralRecord{
			TraceID:   c.traceID,
			QueueID:   id,
			Symbol:    prop.Symbol,
			Quantity:  v.Quantity,
			Condition: v.Condition,
			Reason:    v.Reason,
		})
	case guardrail.Approved:
		qty := v.Quantity
		d.Quantity = &qty
		d.OutcomeReason = v.ClampNote
		if c.halted(d) {
			return
		}
		id, err := c.e.queue.Enqueue(ctx, c.order(prop, v))
		if err != nil {
			c.fail(d, fmt.Errorf("enqueue approved order: %w", err))
			return
		}
		d.QueueID = &id
		if !c.e.queue.MarketOpen(c.e.nowFn()) {
			d.Outcome = types.OutcomeQueued
			reserve(state, prop.Symbol, prop.Action, v.Quantity, v.Price)
			return
		}
		if reason := c.e.Halted(); reason != "" {
			d.Outcome = types.OutcomeQueued
			d.OutcomeReason = "held, trading halted: " + reason
			return
		}
		order, err := c.e.queue.Dispatch(ctx, id)
		if err != nil {
			d.Outcome = types.OutcomeFailed
			d.OutcomeReason = err.Error()
			if order.ErrorMessage != "" {
				d.OutcomeReason = order.ErrorMessage
			}
			return
		}
		d.Outcome = types.OutcomeExecuted
		if order.ExecutionPrice != nil {
			d.PriceAtDecision = order.ExecutionPrice
		}
		c.trades++
		if fresh, err := c.e.portfolios.Snapshot(ctx, c.book.Tag); err == nil {
			*state = fresh
		} else {
			reserve(state, prop.Symbol, prop.Action, v.Quantity, v.Price)
		}
	}
}

// halted marks d cancelled when automated trading stopped mid-cycle.
func (c *cycle) halted(d *types.TradeDecision) bool {
	reason := c.e.Halted()
	if reason == "" {
		return false
	}
	d.Outcome = types.OutcomeCancelled
	d.OutcomeReason = "trading halted: " + reason
	return true
}

func (c *cycle) fail(d *types.TradeDecision, err error) {
	d.Outcome = types.OutcomeFailed
	d.OutcomeReason = err.Error()
	logger.Errorf("engine: %s %s %s: %v", c.book.Tag, d.Action, d.Symbol, err)
}

func (c *cycle) order(prop types.Proposal, v guardrail.Verdict) types.QueuedTrade {
	o := types.QueuedTrade{
		Portfolio: c.book.Tag,
		Symbol:    prop.Symbol,
		Action:    prop.Action,
		Quantity:  v.Quantity,
		Source:    "engine:" + c.providerID,
		Reasoning: prop.Reasoning,
		Condition: v.Condition,
	}
	if prop.LimitPrice > 0 {
		lp := prop.LimitPrice
		o.TargetPrice = &lp
	}
	if prop.Confidence > 0 {
		conv := int(math.Round(prop.Confidence * 10))
		conv = max(1, min(10, conv))
		o.Conviction = &conv
	}
	return o
}

// reserve books an order that has not filled yet into the in-cycle state so
// later proposals of the same cycle see its cash, position and trade count.
func reserve(state *types.PortfolioState, symbol string, action types.Action, qty, price float64) {
	state.TradesToday++
	if price <= 0 || qty <= 0 {
		return
	}
	notional := qty * price
	idx := -1
	for i, pos := range state.Positions {
		if strings.EqualFold(pos.Symbol, symbol) {
			idx = i
			break
		}
	}
	switch action {
	case types.ActionBuy:
		state.Cash -= notional
		state.PositionsValue += notional
		if idx < 0 {
			state.Positions = append(state.Positions, types.PositionSnapshot{Symbol: symbol, EntryPrice: price, CurrentPrice: price})
			idx = len(state.Positions) - 1
		}
		state.Positions[idx].Quantity += qty
		state.Positions[idx].PositionValue += notional
	case types.ActionSell:
		if idx < 0 {
			return
		}
		pos := &state.Positions[idx]
		sold := math.Min(qty, pos.Quantity)
		pos.Quantity -= sold
		pos.PositionValue -= sold * price
		state.PositionsValue -= sold * price
		state.Cash += sold * price
		if pos.Quantity <= 0 {
			state.Positions = append(state.Positions[:idx], state.Positions[idx+1:]...)
		}
	}
}

// mergeSignals adds the snapshot's indicator votes to the provider's signals
// when they agree with the proposed direction.
func mergeSignals(prop types.Proposal, snap market.Snapshot) []string {
	out := make([]string, 0, len(prop.Signals)+4)
	seen := make(map[string]bool)
	add := func(s string) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
	}
	for _, s := range prop.Signals {
		add(s)
	}
	sc, ok := snap.Symbol(prop.Symbol)
	if ok {
		want := market.Bullish
		if prop.Action == types.ActionSell {
			want = market.Bearish
		}
		if sc.Confluence.Direction == want {
			for _, s := range sc.Confluence.Signals() {
				add(s)
			}
		}
	}
	return out
}
