package types

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// TradingSession brackets a run of cycles. Closed sessions are immutable.
type TradingSession struct {
	ID             int64         `json:"id"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	StartingValue  float64       `json:"starting_value"`
	EndingValue    *float64      `json:"ending_value,omitempty"`
	DecisionsCount int           `json:"decisions_count"`
	TradesCount    int           `json:"trades_count"`
	Notes          string        `json:"notes,omitempty"`
	Status         SessionStatus `json:"status"`
}

func (s TradingSession) Active() bool { return s.Status == SessionActive }

// PerformanceSnapshot is written at the end of every cycle, HOLD-only cycles included.
type PerformanceSnapshot struct {
	ID                 int64        `json:"id"`
	Portfolio          PortfolioTag `json:"portfolio"`
	SessionID          *int64       `json:"session_id,omitempty"`
	Timestamp          time.Time    `json:"timestamp"`
	PortfolioValue     float64      `json:"portfolio_value"`
	Cash               float64      `json:"cash"`
	PositionsValue     float64      `json:"positions_value"`
	BenchmarkSymbol    string       `json:"benchmark_symbol"`
	BenchmarkValue     float64      `json:"benchmark_value"`
	TotalPnL           float64      `json:"total_pnl"`
	TotalPnLPct        float64      `json:"total_pnl_pct"`
	BenchmarkPnLPct    float64      `json:"benchmark_pnl_pct"`
	PredictionAccuracy *float64     `json:"prediction_accuracy,omitempty"`
	TradesToDate       int          `json:"trades_to_date"`
	WinningTrades      int          `json:"winning_trades"`
	LosingTrades       int          `json:"losing_trades"`
	WinRate            *float64     `json:"win_rate,omitempty"`
}
