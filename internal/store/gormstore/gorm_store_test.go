package gormstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"phinance/internal/store"
	"phinance/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	st, err := NewGormStore(filepath.Join(t.TempDir(), "phinance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGormStore_SessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.ActiveSession(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	sess := types.TradingSession{StartTime: time.Now(), StartingValue: 1_000_000}
	require.NoError(t, st.CreateSession(ctx, &sess))
	assert.NotZero(t, sess.ID)

	active, ok, err := st.ActiveSession(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sess.ID, active.ID)

	assert.NoError(t, st.AddSessionCounts(ctx, sess.ID, 3, 1))

	ended, err := st.EndSession(ctx, sess.ID, time.Now(), 1_010_000)
	require.NoError(t, err)
	assert.Equal(t, types.SessionEnded, ended.Status)
	assert.Equal(t, 3, ended.DecisionsCount)

	_, err = st.EndSession(ctx, sess.ID, time.Now(), 0)
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.ErrorIs(t, st.AddSessionCounts(ctx, sess.ID, 1, 0), ErrSessionEnded)

	_, err = st.GetSession(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGormStore_QueueCompareAndSet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	trade := types.QueuedTrade{Portfolio: types.PortfolioKALIC, Symbol: "AAPL", Action: types.ActionBuy, Quantity: 10, Source: "test"}
	require.NoError(t, st.InsertQueuedTrade(ctx, &trade))
	assert.Equal(t, types.QueueStatusQueued, trade.Status)

	ok, err := st.CompareAndSetStatus(ctx, trade.ID, types.QueueStatusQueued, types.QueueStatusExecuting, types.QueueUpdate{})
	assert.NoError(t, err)
	assert.True(t, ok)

	// second claimer loses
	ok, err = st.CompareAndSetStatus(ctx, trade.ID, types.QueueStatusQueued, types.QueueStatusExecuting, types.QueueUpdate{})
	assert.NoError(t, err)
	assert.False(t, ok)

	now := time.Now()
	price := 190.5
	ok, err = st.CompareAndSetStatus(ctx, trade.ID, types.QueueStatusExecuting, types.QueueStatusExecuted, types.QueueUpdate{
		ExecutedAt: &now, ExecutionPrice: &price, ExecutionRef: "paper-1",
	})
	assert.NoError(t, err)
	assert.True(t, ok)

	_, err = st.CompareAndSetStatus(ctx, trade.ID, types.QueueStatusExecuted, types.QueueStatusQueued, types.QueueUpdate{})
	assert.Error(t, err)

	got, err := st.GetQueuedTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusExecuted, got.Status)
	assert.Equal(t, "paper-1", got.ExecutionRef)
	require.NotNil(t, got.ExecutionPrice)
	assert.InDelta(t, 190.5, *got.ExecutionPrice, 1e-9)

	n, err := st.CountQueuedTrades(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGormStore_ListQueuedTradesFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, p := range []types.PortfolioTag{types.PortfolioKALIC, types.PortfolioDC, types.PortfolioDC} {
		tr := types.QueuedTrade{Portfolio: p, Symbol: "MSFT", Action: types.ActionBuy, Quantity: 1}
		require.NoError(t, st.InsertQueuedTrade(ctx, &tr))
	}
	dc, err := st.ListQueuedTrades(ctx, types.QueueFilter{Portfolio: types.PortfolioDC})
	assert.NoError(t, err)
	assert.Len(t, dc, 2)

	limited, err := st.ListQueuedTrades(ctx, types.QueueFilter{Status: types.QueueStatusQueued, Limit: 1})
	assert.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, st.AppendQueueEvent(ctx, types.QueueEvent{QueueID: dc[0].ID, Event: types.QueueStatusQueued, Details: "added"}))
	events, err := st.ListQueueEvents(ctx, dc[0].ID)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGormStore_OverrideSingleActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := types.Override{Portfolio: types.PortfolioDC, GrantedAt: now, ExpiresAt: now.Add(time.Hour), MaxPositionPct: 15, Reason: "earnings"}
	second := types.Override{Portfolio: types.PortfolioDC, GrantedAt: now.Add(time.Minute), ExpiresAt: now.Add(2 * time.Hour), MaxPositionPct: 25, Reason: "conviction"}
	require.NoError(t, st.SaveOverride(ctx, first))
	require.NoError(t, st.SaveOverride(ctx, second))

	got, err := st.LoadOverride(ctx, types.PortfolioDC)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 25.0, got.MaxPositionPct)

	require.NoError(t, st.RevokeOverride(ctx, types.PortfolioDC, now.Add(2*time.Minute)))
	got, err = st.LoadOverride(ctx, types.PortfolioDC)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormStore_BreakerAndMode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	state := types.BreakerState{
		Portfolio:         types.PortfolioKALIC,
		TradingDay:        "2026-10-19",
		ConsecutiveLosses: 5,
		PausedUntil:       &until,
		ResumeMode:        types.ModeNormal,
		LastTriggerReason: "5 consecutive losses",
	}
	require.NoError(t, st.SaveBreakerState(ctx, state))
	state.LastTriggerReason = "updated"
	require.NoError(t, st.SaveBreakerState(ctx, state))

	got, ok, err := st.LoadBreakerState(ctx, types.PortfolioKALIC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, got.ConsecutiveLosses)
	assert.Equal(t, "updated", got.LastTriggerReason)
	assert.Equal(t, types.ModeNormal, got.ResumeMode)
	require.NotNil(t, got.PausedUntil)
	assert.True(t, until.Equal(*got.PausedUntil))

	require.NoError(t, st.SaveMode(ctx, types.ModeRecord{Portfolio: types.PortfolioKALIC, Mode: types.ModePaused, ChangedAt: time.Now()}))
	mode, ok, err := st.LoadMode(ctx, types.PortfolioKALIC)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ModePaused, mode.Mode)
}

func TestGormStore_ApplyFill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InitBook(ctx, types.PortfolioDC, 100_000))
	// second init must not reset cash
	require.NoError(t, st.InitBook(ctx, types.PortfolioDC, 1))

	buy := types.Fill{Portfolio: types.PortfolioDC, Symbol: "NVDA", Action: types.ActionBuy, Quantity: 10, Price: 100, ExecutedAt: time.Now()}
	require.NoError(t, st.ApplyFill(ctx, &buy, 99_000, types.Holding{Symbol: "NVDA", Quantity: 10, AvgCost: 100}))

	book, ok, err := st.LoadBook(ctx, types.PortfolioDC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 99_000.0, book.Cash)
	h, ok := book.Holding("NVDA")
	assert.True(t, ok)
	assert.Equal(t, 10.0, h.Quantity)

	pnl := -50.0
	sell := types.Fill{Portfolio: types.PortfolioDC, Symbol: "NVDA", Action: types.ActionSell, Quantity: 10, Price: 95, RealizedPnL: &pnl, ExecutedAt: time.Now()}
	require.NoError(t, st.ApplyFill(ctx, &sell, 99_950, types.Holding{Symbol: "NVDA"}))

	book, _, err = st.LoadBook(ctx, types.PortfolioDC)
	require.NoError(t, err)
	assert.Empty(t, book.Holdings)

	n, err := st.CountFillsSince(ctx, types.PortfolioDC, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	fills, err := st.ListFills(ctx, types.PortfolioDC, 0)
	assert.NoError(t, err)
	require.Len(t, fills, 2)
	assert.True(t, fills[0].Closed())
}

func TestGormStore_DecisionsAndEvaluation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	price := 100.0
	days := 5
	d := types.TradeDecision{
		Portfolio:              types.PortfolioKALIC,
		Timestamp:              time.Now().Add(-6 * 24 * time.Hour),
		Action:                 types.ActionBuy,
		Symbol:                 "AAPL",
		PriceAtDecision:        &price,
		Confidence:             0.8,
		Signals:                []string{"RSI oversold", "MACD cross"},
		ModelUsed:              "deepseek",
		PredictedDirection:     "up",
		PredictedTimeframeDays: &days,
		Outcome:                types.OutcomeExecuted,
	}
	require.NoError(t, st.InsertDecision(ctx, &d))

	pending, err := st.ListDueDecisions(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"RSI oversold", "MACD cross"}, pending[0].Signals)

	require.NoError(t, st.RecordPredictionOutcome(ctx, d.ID, "up", 110, true, time.Now()))
	pending, err = st.ListDueDecisions(ctx, time.Now(), 10)
	assert.NoError(t, err)
	assert.Empty(t, pending)

	list, err := st.ListDecisions(ctx, types.DecisionFilter{Symbol: "aapl"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].PredictionAccurate)
	assert.True(t, *list[0].PredictionAccurate)
}

func fullDecision() types.TradeDecision {
	session := int64(3)
	qty := 12.5
	price := 187.33
	target := 205.0
	days := 5
	queueID := int64(41)
	actual := 199.1
	accurate := true
	evaluated := time.Date(2026, 3, 10, 20, 0, 0, 987654321, time.UTC)
	return types.TradeDecision{
		SessionID:              &session,
		Portfolio:              types.PortfolioKALIC,
		TraceID:                "trace-1",
		Timestamp:              time.Date(2026, 3, 3, 15, 0, 0, 123, time.UTC),
		Action:                 types.ActionBuy,
		Symbol:                 "AAPL",
		Quantity:               &qty,
		PriceAtDecision:        &price,
		Confidence:             0.82,
		Reasoning:              "earnings beat",
		Signals:                []string{"RSI_14 oversold", "MACD bullish cross"},
		ModelUsed:              "deepseek",
		PredictedDirection:     "up",
		PredictedPriceTarget:   &target,
		PredictedTimeframeDays: &days,
		Outcome:                types.OutcomeQueued,
		RuleID:                 "",
		OutcomeReason:          "clamped to cap",
		QueueID:                &queueID,
		ActualOutcome:          "up",
		ActualPriceAtTimeframe: &actual,
		PredictionAccurate:     &accurate,
		EvaluatedAt:            &evaluated,
	}
}

func TestGormStore_DecisionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	want := fullDecision()
	d := want
	require.NoError(t, st.InsertDecision(ctx, &d))
	want.ID = d.ID

	list, err := st.ListDecisions(ctx, types.DecisionFilter{Portfolio: types.PortfolioKALIC})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, want, list[0])
}

func TestDecisionJSONRoundTrip(t *testing.T) {
	want := fullDecision()
	want.ID = 9
	raw, err := json.Marshal(want)
	require.NoError(t, err)
	var got types.TradeDecision
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, want, got)
}

func TestGormStore_DueDecisionsSkipPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
	price := 100.0
	insert := func(ts time.Time, days int) int64 {
		d := types.TradeDecision{
			Portfolio: types.PortfolioDC, Timestamp: ts, Action: types.ActionBuy, Symbol: "MSFT",
			PriceAtDecision: &price, PredictedTimeframeDays: &days, Outcome: types.OutcomeExecuted,
		}
		require.NoError(t, st.InsertDecision(ctx, &d))
		return d.ID
	}
	for i := 0; i < 3; i++ {
		insert(now.Add(-48*time.Hour), 30)
	}
	due := insert(now.Add(-24*time.Hour), 1)

	pending, err := st.ListDueDecisions(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due, pending[0].ID)
}
