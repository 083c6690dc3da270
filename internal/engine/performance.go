package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/types"
)

const (
	evaluationBatch = 200
	// price moves inside this band count as flat
	flatBandPct = 1.0
	statsWindow = 10_000
)

func (e *Engine) recordPerformance(ctx context.Context, book Book, sess *types.TradingSession, snap market.Snapshot) (types.PerformanceSnapshot, error) {
	state, err := e.portfolios.Snapshot(ctx, book.Tag)
	if err != nil {
		state = snap.State
	}
	sessionID := sess.ID
	perf := types.PerformanceSnapshot{
		Portfolio:      book.Tag,
		SessionID:      &sessionID,
		Timestamp:      e.nowFn(),
		PortfolioValue: state.TotalValue,
		Cash:           state.Cash,
		PositionsValue: state.PositionsValue,
	}
	if book.StartingValue > 0 {
		perf.TotalPnL = state.TotalValue - book.StartingValue
		perf.TotalPnLPct = perf.TotalPnL / book.StartingValue * 100
	}
	if snap.Benchmark != nil && snap.Benchmark.Price > 0 {
		perf.BenchmarkSymbol = snap.Benchmark.Symbol
		perf.BenchmarkValue = snap.Benchmark.Price
		e.mu.Lock()
		base, ok := e.benchBase[book.Tag]
		if !ok {
			base = snap.Benchmark.Price
			e.benchBase[book.Tag] = base
		}
		e.mu.Unlock()
		perf.BenchmarkPnLPct = (snap.Benchmark.Price - base) / base * 100
	}

	fills, err := e.store.ListFills(ctx, book.Tag, statsWindow)
	if err != nil {
		return perf, fmt.Errorf("list fills: %w", err)
	}
	perf.TradesToDate = len(fills)
	for _, f := range fills {
		if f.RealizedPnL == nil {
			continue
		}
		switch {
		case *f.RealizedPnL > 0:
			perf.WinningTrades++
		case *f.RealizedPnL < 0:
			perf.LosingTrades++
		}
	}
	if closed := perf.WinningTrades + perf.LosingTrades; closed > 0 {
		rate := float64(perf.WinningTrades) / float64(closed)
		perf.WinRate = &rate
	}
	if acc, ok := e.predictionAccuracy(ctx, book.Tag); ok {
		perf.PredictionAccuracy = &acc
	}
	if err := e.store.InsertSnapshot(ctx, &perf); err != nil {
		return perf, fmt.Errorf("insert snapshot: %w", err)
	}
	return perf, nil
}

func (e *Engine) predictionAccuracy(ctx context.Context, p types.PortfolioTag) (float64, bool) {
	decisions, err := e.store.ListDecisions(ctx, types.DecisionFilter{Portfolio: p, Limit: statsWindow})
	if err != nil {
		logger.Warnf("engine: prediction accuracy %s: %v", p, err)
		return 0, false
	}
	hit, total := 0, 0
	for _, d := range decisions {
		if d.PredictionAccurate == nil {
			continue
		}
		total++
		if *d.PredictionAccurate {
			hit++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(hit) / float64(total), true
}

// EvaluatePredictions settles every decision whose predicted timeframe has
// elapsed at now and returns how many were settled.
func (e *Engine) EvaluatePredictions(ctx context.Context, now time.Time) (int, error) {
	pending, err := e.store.ListDueDecisions(ctx, now, evaluationBatch)
	if err != nil {
		return 0, fmt.Errorf("list due decisions: %w", err)
	}
	settled := 0
	for _, d := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if !d.DueForEvaluation(now) {
			continue
		}
		quote, err := e.prices.LatestPrice(ctx, d.Symbol)
		if err != nil {
			logger.Debugf("engine: no price to settle decision #%d (%s): %v", d.ID, d.Symbol, err)
			continue
		}
		outcome := classifyMove(*d.PriceAtDecision, quote.Price)
		accurate := predictionHit(d, outcome)
		if err := e.store.RecordPredictionOutcome(ctx, d.ID, outcome, quote.Price, accurate, now); err != nil {
			return settled, fmt.Errorf("record outcome of #%d: %w", d.ID, err)
		}
		settled++
	}
	return settled, nil
}

func classifyMove(from, to float64) string {
	if from <= 0 {
		return "flat"
	}
	change := (to - from) / from * 100
	switch {
	case change >= flatBandPct:
		return "up"
	case change <= -flatBandPct:
		return "down"
	default:
		return "flat"
	}
}

// predictionHit compares the realised move with the predicted direction, or
// with the direction implied by the action when none was given.
func predictionHit(d types.TradeDecision, outcome string) bool {
	predicted := strings.ToLower(strings.TrimSpace(d.PredictedDirection))
	if predicted == "" {
		switch d.Action {
		case types.ActionBuy:
			predicted = "up"
		case types.ActionSell:
			predicted = "down"
		default:
			predicted = "flat"
		}
	}
	return predicted == outcome
}
