package types

import (
	"fmt"
	"strings"
	"time"
)

// TradingMode names a risk-policy preset.
type TradingMode string

const (
	ModeAggressive   TradingMode = "aggressive"
	ModeNormal       TradingMode = "normal"
	ModeConservative TradingMode = "conservative"
	ModePaused       TradingMode = "paused"
)

func ParseTradingMode(raw string) (TradingMode, error) {
	switch m := TradingMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeAggressive, ModeNormal, ModeConservative, ModePaused:
		return m, nil
	default:
		return "", fmt.Errorf("unknown trading mode %q", raw)
	}
}

// Override is a time-limited, human-granted exception to the active mode's size cap.
type Override struct {
	Portfolio      PortfolioTag `json:"portfolio"`
	GrantedAt      time.Time    `json:"granted_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	MaxPositionPct float64      `json:"max_position_pct"`
	Reason         string       `json:"reason"`
	RevokedAt      *time.Time   `json:"revoked_at,omitempty"`
}

// ActiveAt reports whether the override applies at now.
func (o *Override) ActiveAt(now time.Time) bool {
	if o == nil || o.RevokedAt != nil {
		return false
	}
	return now.Before(o.ExpiresAt)
}

// BreakerState is the persisted circuit-breaker view of one portfolio.
type BreakerState struct {
	Portfolio         PortfolioTag `json:"portfolio"`
	TradingDay        string       `json:"trading_day"`
	DayStartValue     float64      `json:"day_start_value"`
	RealizedPnLToday  float64      `json:"realized_pnl_today"`
	DailyLossPct      float64      `json:"daily_loss_pct"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	DailyLossTripped  bool         `json:"daily_loss_tripped,omitempty"`
	PauseStarted      *time.Time   `json:"pause_started,omitempty"`
	PausedUntil       *time.Time   `json:"paused_until,omitempty"`
	ResumeMode        TradingMode  `json:"resume_mode,omitempty"`
	LastTriggerReason string       `json:"last_trigger_reason,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// PausedAt reports whether a consecutive-loss pause is still running at now.
func (s BreakerState) PausedAt(now time.Time) bool {
	return s.PausedUntil != nil && now.Before(*s.PausedUntil)
}

// ModeRecord is the persisted active mode of one portfolio.
type ModeRecord struct {
	Portfolio PortfolioTag `json:"portfolio"`
	Mode      TradingMode  `json:"mode"`
	Reason    string       `json:"reason"`
	ChangedAt time.Time    `json:"changed_at"`
}
