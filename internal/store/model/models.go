package model

import (
	"gorm.io/datatypes"
)

// Timestamps are stored as unix milliseconds, matching every other table.

type SessionModel struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	StartUnix      int64    `gorm:"column:start_time"`
	EndUnix        *int64   `gorm:"column:end_time"`
	StartingValue  float64  `gorm:"column:starting_value"`
	EndingValue    *float64 `gorm:"column:ending_value"`
	DecisionsCount int      `gorm:"column:decisions_count"`
	TradesCount    int      `gorm:"column:trades_count"`
	Notes          string   `gorm:"column:notes"`
	Status         string   `gorm:"column:status;index"`
}

func (SessionModel) TableName() string { return "trading_sessions" }

type DecisionModel struct {
	ID                     int64          `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID              *int64         `gorm:"column:session_id;index"`
	Portfolio              string         `gorm:"column:portfolio;index"`
	TraceID                string         `gorm:"column:trace_id;index"`
	TimestampNanos         int64          `gorm:"column:timestamp_ns;index"`
	Action                 string         `gorm:"column:action"`
	Symbol                 string         `gorm:"column:symbol;index"`
	Quantity               *float64       `gorm:"column:quantity"`
	PriceAtDecision        *float64       `gorm:"column:price_at_decision"`
	Confidence             float64        `gorm:"column:confidence"`
	Reasoning              string         `gorm:"column:reasoning"`
	SignalsJSON            datatypes.JSON `gorm:"column:signals_json;type:TEXT"`
	ModelUsed              string         `gorm:"column:model_used"`
	PredictedDirection     string         `gorm:"column:predicted_direction"`
	PredictedPriceTarget   *float64       `gorm:"column:predicted_price_target"`
	PredictedTimeframeDays *int           `gorm:"column:predicted_timeframe_days"`
	Outcome                string         `gorm:"column:outcome"`
	RuleID                 string         `gorm:"column:rule_id"`
	OutcomeReason          string         `gorm:"column:outcome_reason"`
	QueueID                *int64         `gorm:"column:queue_id"`
	ActualOutcome          string         `gorm:"column:actual_outcome"`
	ActualPriceAtTimeframe *float64       `gorm:"column:actual_price_at_timeframe"`
	PredictionAccurate     *bool          `gorm:"column:prediction_accurate"`
	EvaluatedNanos         *int64         `gorm:"column:evaluated_at_ns;index"`
	DueNanos               *int64         `gorm:"column:due_at_ns;index"`
}

func (DecisionModel) TableName() string { return "trade_decisions" }

type QueuedTradeModel struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	Portfolio      string   `gorm:"column:portfolio_tag;index"`
	Symbol         string   `gorm:"column:symbol"`
	Action         string   `gorm:"column:action"`
	Quantity       float64  `gorm:"column:quantity"`
	TargetPrice    *float64 `gorm:"column:target_price"`
	Status         string   `gorm:"column:status;index"`
	Source         string   `gorm:"column:source"`
	Conviction     *int     `gorm:"column:conviction"`
	Reasoning      string   `gorm:"column:reasoning"`
	Condition      string   `gorm:"column:condition"`
	DecisionID     *int64   `gorm:"column:decision_id"`
	CreatedAtUnix  int64    `gorm:"column:created_at"`
	ScheduledUnix  *int64   `gorm:"column:scheduled_for"`
	ExecutedUnix   *int64   `gorm:"column:executed_at"`
	ExecutionPrice *float64 `gorm:"column:execution_price"`
	ExecutionRef   string   `gorm:"column:execution_ref"`
	ErrorMessage   string   `gorm:"column:error_message"`
}

func (QueuedTradeModel) TableName() string { return "trade_queue" }

type QueueEventModel struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	QueueID       int64  `gorm:"column:queue_id;index"`
	Event         string `gorm:"column:event"`
	Details       string `gorm:"column:details"`
	TimestampUnix int64  `gorm:"column:timestamp"`
}

func (QueueEventModel) TableName() string { return "queue_log" }

type ModeModel struct {
	Portfolio     string `gorm:"column:portfolio;primaryKey"`
	Mode          string `gorm:"column:mode"`
	Reason        string `gorm:"column:reason"`
	ChangedAtUnix int64  `gorm:"column:changed_at"`
}

func (ModeModel) TableName() string { return "trading_modes" }

type OverrideModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Portfolio      string  `gorm:"column:portfolio;index"`
	GrantedAtUnix  int64   `gorm:"column:granted_at"`
	ExpiresAtUnix  int64   `gorm:"column:expires_at"`
	MaxPositionPct float64 `gorm:"column:max_position_pct"`
	Reason         string  `gorm:"column:reason"`
	RevokedAtUnix  *int64  `gorm:"column:revoked_at"`
}

func (OverrideModel) TableName() string { return "overrides" }

type BreakerStateModel struct {
	Portfolio         string         `gorm:"column:portfolio;primaryKey"`
	TradingDay        string         `gorm:"column:trading_day"`
	StateJSON         datatypes.JSON `gorm:"column:state_json;type:TEXT"`
	ConsecutiveLosses int            `gorm:"column:consecutive_losses"`
	PausedUntilUnix   *int64         `gorm:"column:paused_until"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (BreakerStateModel) TableName() string { return "circuit_breaker_state" }

type BookModel struct {
	Portfolio     string  `gorm:"column:portfolio;primaryKey"`
	Cash          float64 `gorm:"column:cash"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (BookModel) TableName() string { return "books" }

type HoldingModel struct {
	Portfolio     string  `gorm:"column:portfolio;primaryKey"`
	Symbol        string  `gorm:"column:symbol;primaryKey"`
	Quantity      float64 `gorm:"column:quantity"`
	AvgCost       float64 `gorm:"column:avg_cost"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (HoldingModel) TableName() string { return "holdings" }

type FillModel struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	Portfolio      string   `gorm:"column:portfolio;index:idx_fill_portfolio_time,priority:1"`
	QueueID        *int64   `gorm:"column:queue_id"`
	Symbol         string   `gorm:"column:symbol"`
	Action         string   `gorm:"column:action"`
	Quantity       float64  `gorm:"column:quantity"`
	Price          float64  `gorm:"column:price"`
	RealizedPnL    *float64 `gorm:"column:realized_pnl"`
	Ref            string   `gorm:"column:ref"`
	ExecutedAtUnix int64    `gorm:"column:executed_at;index:idx_fill_portfolio_time,priority:2"`
}

func (FillModel) TableName() string { return "fills" }

type SnapshotModel struct {
	ID                 int64    `gorm:"column:id;primaryKey;autoIncrement"`
	Portfolio          string   `gorm:"column:portfolio;index"`
	SessionID          *int64   `gorm:"column:session_id"`
	TimestampUnix      int64    `gorm:"column:timestamp"`
	PortfolioValue     float64  `gorm:"column:portfolio_value"`
	Cash               float64  `gorm:"column:cash"`
	PositionsValue     float64  `gorm:"column:positions_value"`
	BenchmarkSymbol    string   `gorm:"column:benchmark_symbol"`
	BenchmarkValue     float64  `gorm:"column:benchmark_value"`
	TotalPnL           float64  `gorm:"column:total_pnl"`
	TotalPnLPct        float64  `gorm:"column:total_pnl_percent"`
	BenchmarkPnLPct    float64  `gorm:"column:benchmark_pnl_percent"`
	PredictionAccuracy *float64 `gorm:"column:prediction_accuracy"`
	TradesToDate       int      `gorm:"column:trades_to_date"`
	WinningTrades      int      `gorm:"column:winning_trades"`
	LosingTrades       int      `gorm:"column:losing_trades"`
	WinRate            *float64 `gorm:"column:win_rate"`
}

func (SnapshotModel) TableName() string { return "performance_snapshots" }
