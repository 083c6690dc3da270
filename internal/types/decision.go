package types

import (
	"strings"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction maps provider spellings onto the canonical action set.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "OPEN_LONG", "LONG", "ACCUMULATE":
		return ActionBuy, true
	case "SELL", "CLOSE_LONG", "TRIM", "EXIT":
		return ActionSell, true
	case "HOLD", "WAIT", "NONE", "":
		return ActionHold, true
	default:
		return "", false
	}
}

// Proposal is an unvalidated candidate trade produced by a reasoning provider.
type Proposal struct {
	Symbol                 string   `json:"symbol"`
	Action                 Action   `json:"action"`
	Quantity               float64  `json:"quantity,omitempty"`
	PositionSizeUSD        float64  `json:"position_size_usd,omitempty"`
	LimitPrice             float64  `json:"limit_price,omitempty"`
	Confidence             float64  `json:"confidence"`
	Reasoning              string   `json:"reasoning"`
	Signals                []string `json:"signals,omitempty"`
	PredictedDirection     string   `json:"predicted_direction,omitempty"`
	PredictedPriceTarget   float64  `json:"predicted_price_target,omitempty"`
	PredictedTimeframeDays int      `json:"predicted_timeframe_days,omitempty"`
}

// DecisionOutcome labels what the guardrail path did with a decision.
type DecisionOutcome string

const (
	OutcomeExecuted  DecisionOutcome = "executed"
	OutcomeQueued    DecisionOutcome = "queued"
	OutcomeDeferred  DecisionOutcome = "deferred"
	OutcomeRejected  DecisionOutcome = "rejected"
	OutcomeHold      DecisionOutcome = "hold"
	OutcomeCancelled DecisionOutcome = "cancelled"
	OutcomeFailed    DecisionOutcome = "failed"
)

// TradeDecision is persisted once per proposal per cycle and never deleted.
// Actual* fields stay empty until the prediction evaluation pass fills them.
type TradeDecision struct {
	ID                     int64           `json:"id"`
	SessionID              *int64          `json:"session_id,omitempty"`
	Portfolio              PortfolioTag    `json:"portfolio"`
	TraceID                string          `json:"trace_id"`
	Timestamp              time.Time       `json:"timestamp"`
	Action                 Action          `json:"action"`
	Symbol                 string          `json:"symbol"`
	Quantity               *float64        `json:"quantity,omitempty"`
	PriceAtDecision        *float64        `json:"price_at_decision,omitempty"`
	Confidence             float64         `json:"confidence"`
	Reasoning              string          `json:"reasoning"`
	Signals                []string        `json:"signals,omitempty"`
	ModelUsed              string          `json:"model_used"`
	PredictedDirection     string          `json:"predicted_direction,omitempty"`
	PredictedPriceTarget   *float64        `json:"predicted_price_target,omitempty"`
	PredictedTimeframeDays *int            `json:"predicted_timeframe_days,omitempty"`
	Outcome                DecisionOutcome `json:"outcome"`
	RuleID                 string          `json:"rule_id,omitempty"`
	OutcomeReason          string          `json:"outcome_reason,omitempty"`
	QueueID                *int64          `json:"queue_id,omitempty"`

	ActualOutcome          string     `json:"actual_outcome,omitempty"`
	ActualPriceAtTimeframe *float64   `json:"actual_price_at_timeframe,omitempty"`
	PredictionAccurate     *bool      `json:"prediction_accurate,omitempty"`
	EvaluatedAt            *time.Time `json:"evaluated_at,omitempty"`
}

// Evaluated reports whether the prediction evaluation pass has run.
func (d TradeDecision) Evaluated() bool {
	return d.EvaluatedAt != nil
}

// DueForEvaluation reports whether the predicted timeframe elapsed at now.
func (d TradeDecision) DueForEvaluation(now time.Time) bool {
	if d.Evaluated() || d.PredictedTimeframeDays == nil || d.PriceAtDecision == nil {
		return false
	}
	due := d.Timestamp.Add(time.Duration(*d.PredictedTimeframeDays) * 24 * time.Hour)
	return !now.Before(due)
}

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	SessionID *int64
	Portfolio PortfolioTag
	Symbol    string
	Limit     int
}
