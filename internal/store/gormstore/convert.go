package gormstore

import (
	"encoding/json"
	"time"

	"phinance/internal/store/model"
	"phinance/internal/types"

	"gorm.io/datatypes"
)

func newSessionModel(s types.TradingSession) model.SessionModel {
	return model.SessionModel{
		ID:             s.ID,
		StartUnix:      s.StartTime.UnixMilli(),
		EndUnix:        timeToMillisPtr(s.EndTime),
		StartingValue:  s.StartingValue,
		EndingValue:    s.EndingValue,
		DecisionsCount: s.DecisionsCount,
		TradesCount:    s.TradesCount,
		Notes:          s.Notes,
		Status:         string(s.Status),
	}
}

func sessionModelToRecord(m model.SessionModel) types.TradingSession {
	return types.TradingSession{
		ID:             m.ID,
		StartTime:      millisToTime(m.StartUnix),
		EndTime:        millisPtrToTime(m.EndUnix),
		StartingValue:  m.StartingValue,
		EndingValue:    m.EndingValue,
		DecisionsCount: m.DecisionsCount,
		TradesCount:    m.TradesCount,
		Notes:          m.Notes,
		Status:         types.SessionStatus(m.Status),
	}
}

func newDecisionModel(d types.TradeDecision) model.DecisionModel {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return model.DecisionModel{
		ID:                     d.ID,
		SessionID:              d.SessionID,
		Portfolio:              string(d.Portfolio),
		TraceID:                d.TraceID,
		TimestampNanos:         ts.UnixNano(),
		Action:                 string(d.Action),
		Symbol:                 d.Symbol,
		Quantity:               d.Quantity,
		PriceAtDecision:        d.PriceAtDecision,
		Confidence:             d.Confidence,
		Reasoning:              d.Reasoning,
		SignalsJSON:            marshalStrings(d.Signals),
		ModelUsed:              d.ModelUsed,
		PredictedDirection:     d.PredictedDirection,
		PredictedPriceTarget:   d.PredictedPriceTarget,
		PredictedTimeframeDays: d.PredictedTimeframeDays,
		Outcome:                string(d.Outcome),
		RuleID:                 d.RuleID,
		OutcomeReason:          d.OutcomeReason,
		QueueID:                d.QueueID,
		ActualOutcome:          d.ActualOutcome,
		ActualPriceAtTimeframe: d.ActualPriceAtTimeframe,
		PredictionAccurate:     d.PredictionAccurate,
		EvaluatedNanos:         timeToNanosPtr(d.EvaluatedAt),
		DueNanos:               dueNanos(ts, d.PredictedTimeframeDays),
	}
}

// dueNanos is when the predicted timeframe of a decision stamped at ts elapses.
func dueNanos(ts time.Time, days *int) *int64 {
	if days == nil {
		return nil
	}
	v := ts.Add(time.Duration(*days) * 24 * time.Hour).UnixNano()
	return &v
}

func decisionModelsToRecords(models []model.DecisionModel) []types.TradeDecision {
	out := make([]types.TradeDecision, 0, len(models))
	for _, m := range models {
		out = append(out, types.TradeDecision{
			ID:                     m.ID,
			SessionID:              m.SessionID,
			Portfolio:              types.PortfolioTag(m.Portfolio),
			TraceID:                m.TraceID,
			Timestamp:              nanosToTime(m.TimestampNanos),
			Action:                 types.Action(m.Action),
			Symbol:                 m.Symbol,
			Quantity:               m.Quantity,
			PriceAtDecision:        m.PriceAtDecision,
			Confidence:             m.Confidence,
			Reasoning:              m.Reasoning,
			Signals:                unmarshalStrings(m.SignalsJSON),
			ModelUsed:              m.ModelUsed,
			PredictedDirection:     m.PredictedDirection,
			PredictedPriceTarget:   m.PredictedPriceTarget,
			PredictedTimeframeDays: m.PredictedTimeframeDays,
			Outcome:                types.DecisionOutcome(m.Outcome),
			RuleID:                 m.RuleID,
			OutcomeReason:          m.OutcomeReason,
			QueueID:                m.QueueID,
			ActualOutcome:          m.ActualOutcome,
			ActualPriceAtTimeframe: m.ActualPriceAtTimeframe,
			PredictionAccurate:     m.PredictionAccurate,
			EvaluatedAt:            nanosPtrToTime(m.EvaluatedNanos),
		})
	}
	return out
}

func newQueuedTradeModel(t types.QueuedTrade) model.QueuedTradeModel {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return model.QueuedTradeModel{
		ID:             t.ID,
		Portfolio:      string(t.Portfolio),
		Symbol:         t.Symbol,
		Action:         string(t.Action),
		Quantity:       t.Quantity,
		TargetPrice:    t.TargetPrice,
		Status:         string(t.Status),
		Source:         t.Source,
		Conviction:     t.Conviction,
		Reasoning:      t.Reasoning,
		Condition:      t.Condition,
		DecisionID:     t.DecisionID,
		CreatedAtUnix:  created.UnixMilli(),
		ScheduledUnix:  timeToMillisPtr(t.ScheduledFor),
		ExecutedUnix:   timeToMillisPtr(t.ExecutedAt),
		ExecutionPrice: t.ExecutionPrice,
		ExecutionRef:   t.ExecutionRef,
		ErrorMessage:   t.ErrorMessage,
	}
}

func queuedTradeModelToRecord(m model.QueuedTradeModel) types.QueuedTrade {
	return types.QueuedTrade{
		ID:             m.ID,
		Portfolio:      types.PortfolioTag(m.Portfolio),
		Symbol:         m.Symbol,
		Action:         types.Action(m.Action),
		Quantity:       m.Quantity,
		TargetPrice:    m.TargetPrice,
		Status:         types.QueueStatus(m.Status),
		Source:         m.Source,
		Conviction:     m.Conviction,
		Reasoning:      m.Reasoning,
		Condition:      m.Condition,
		DecisionID:     m.DecisionID,
		CreatedAt:      millisToTime(m.CreatedAtUnix),
		ScheduledFor:   millisPtrToTime(m.ScheduledUnix),
		ExecutedAt:     millisPtrToTime(m.ExecutedUnix),
		ExecutionPrice: m.ExecutionPrice,
		ExecutionRef:   m.ExecutionRef,
		ErrorMessage:   m.ErrorMessage,
	}
}

func newBreakerStateModel(st types.BreakerState) (model.BreakerStateModel, error) {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return model.BreakerStateModel{}, err
	}
	return model.BreakerStateModel{
		Portfolio:         string(st.Portfolio),
		TradingDay:        st.TradingDay,
		StateJSON:         datatypes.JSON(raw),
		ConsecutiveLosses: st.ConsecutiveLosses,
		PausedUntilUnix:   timeToMillisPtr(st.PausedUntil),
		UpdatedAtUnix:     st.UpdatedAt.UnixMilli(),
	}, nil
}

func breakerModelToRecord(m model.BreakerStateModel) (types.BreakerState, error) {
	var st types.BreakerState
	if len(m.StateJSON) > 0 {
		if err := json.Unmarshal(m.StateJSON, &st); err != nil {
			return types.BreakerState{}, err
		}
	}
	st.Portfolio = types.PortfolioTag(m.Portfolio)
	st.TradingDay = m.TradingDay
	st.ConsecutiveLosses = m.ConsecutiveLosses
	st.PausedUntil = millisPtrToTime(m.PausedUntilUnix)
	return st, nil
}

func newFillModel(f types.Fill) model.FillModel {
	return model.FillModel{
		Portfolio:      string(f.Portfolio),
		QueueID:        f.QueueID,
		Symbol:         f.Symbol,
		Action:         string(f.Action),
		Quantity:       f.Quantity,
		Price:          f.Price,
		RealizedPnL:    f.RealizedPnL,
		Ref:            f.Ref,
		ExecutedAtUnix: f.ExecutedAt.UnixMilli(),
	}
}

func fillModelToRecord(m model.FillModel) types.Fill {
	return types.Fill{
		ID:          m.ID,
		Portfolio:   types.PortfolioTag(m.Portfolio),
		QueueID:     m.QueueID,
		Symbol:      m.Symbol,
		Action:      types.Action(m.Action),
		Quantity:    m.Quantity,
		Price:       m.Price,
		RealizedPnL: m.RealizedPnL,
		Ref:         m.Ref,
		ExecutedAt:  millisToTime(m.ExecutedAtUnix),
	}
}

func newSnapshotModel(s types.PerformanceSnapshot) model.SnapshotModel {
	return model.SnapshotModel{
		Portfolio:          string(s.Portfolio),
		SessionID:          s.SessionID,
		TimestampUnix:      s.Timestamp.UnixMilli(),
		PortfolioValue:     s.PortfolioValue,
		Cash:               s.Cash,
		PositionsValue:     s.PositionsValue,
		BenchmarkSymbol:    s.BenchmarkSymbol,
		BenchmarkValue:     s.BenchmarkValue,
		TotalPnL:           s.TotalPnL,
		TotalPnLPct:        s.TotalPnLPct,
		BenchmarkPnLPct:    s.BenchmarkPnLPct,
		PredictionAccuracy: s.PredictionAccuracy,
		TradesToDate:       s.TradesToDate,
		WinningTrades:      s.WinningTrades,
		LosingTrades:       s.LosingTrades,
		WinRate:            s.WinRate,
	}
}

func snapshotModelToRecord(m model.SnapshotModel) types.PerformanceSnapshot {
	return types.PerformanceSnapshot{
		ID:                 m.ID,
		Portfolio:          types.PortfolioTag(m.Portfolio),
		SessionID:          m.SessionID,
		Timestamp:          millisToTime(m.TimestampUnix),
		PortfolioValue:     m.PortfolioValue,
		Cash:               m.Cash,
		PositionsValue:     m.PositionsValue,
		BenchmarkSymbol:    m.BenchmarkSymbol,
		BenchmarkValue:     m.BenchmarkValue,
		TotalPnL:           m.TotalPnL,
		TotalPnLPct:        m.TotalPnLPct,
		BenchmarkPnLPct:    m.BenchmarkPnLPct,
		PredictionAccuracy: m.PredictionAccuracy,
		TradesToDate:       m.TradesToDate,
		WinningTrades:      m.WinningTrades,
		LosingTrades:       m.LosingTrades,
		WinRate:            m.WinRate,
	}
}

func marshalStrings(items []string) datatypes.JSON {
	if len(items) == 0 {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func unmarshalStrings(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func timeToMillisPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func millisPtrToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := millisToTime(*v)
	return &t
}

func millisToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

// Decision times keep full precision, in UTC.
func timeToNanosPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UnixNano()
	return &v
}

func nanosPtrToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := nanosToTime(*v)
	return &t
}

func nanosToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
