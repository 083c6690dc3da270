// Package risk holds the per-portfolio circuit breaker that forces the trading
// mode down after adverse outcomes.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"phinance/internal/audit"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/types"
)

// ErrCircuitBreakerPauseActive refuses new entries while a loss-streak pause runs.
var ErrCircuitBreakerPauseActive = errors.New("circuit breaker pause active")

var ErrInvalidConfig = errors.New("invalid circuit breaker config")

const (
	TriggerDailyLoss         = "daily_loss"
	TriggerConsecutiveLosses = "consecutive_losses"
	TriggerPauseElapsed      = "pause_elapsed"
	TriggerOverrideResume    = "override_resume"
	TriggerDailyReset        = "daily_reset"
	TriggerConfigUpdated     = "config_updated"
)

// Config is the breaker configuration. DailyLossLimitPct is a positive
// percentage; the trigger fires at -DailyLossLimitPct.
type Config struct {
	DailyLossLimitPct    float64           `json:"daily_loss_limit_pct"`
	MaxConsecutiveLosses int               `json:"max_consecutive_losses"`
	PauseDuration        time.Duration     `json:"pause_duration"`
	FallbackMode         types.TradingMode `json:"fallback_mode"`
}

func (c Config) Validate() error {
	if c.DailyLossLimitPct <= 0 || c.DailyLossLimitPct > 100 {
		return fmt.Errorf("%w: daily_loss_limit_pct must be within (0,100], got %v", ErrInvalidConfig, c.DailyLossLimitPct)
	}
	if c.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("%w: max_consecutive_losses must be > 0, got %d", ErrInvalidConfig, c.MaxConsecutiveLosses)
	}
	if c.PauseDuration <= 0 {
		return fmt.Errorf("%w: pause duration must be > 0", ErrInvalidConfig)
	}
	switch c.FallbackMode {
	case types.ModeConservative, types.ModeNormal, types.ModePaused:
	default:
		return fmt.Errorf("%w: fallback_mode %q is not a restricting mode", ErrInvalidConfig, c.FallbackMode)
	}
	return nil
}

// TradeOutcome is the realized result of one closed trade. PortfolioValue is
// the total value before the fill and seeds the day's loss baseline.
type TradeOutcome struct {
	Portfolio      types.PortfolioTag `json:"portfolio"`
	Symbol         string             `json:"symbol"`
	RealizedPnL    float64            `json:"realized_pnl"`
	PortfolioValue float64            `json:"portfolio_value"`
	Ref            string             `json:"ref,omitempty"`
	At             time.Time          `json:"at"`
}

// Event is written to the audit log for every trigger and recovery.
type Event struct {
	Portfolio types.PortfolioTag `json:"portfolio"`
	Trigger   string             `json:"trigger"`
	Reason    string             `json:"reason"`
	From      types.TradingMode  `json:"from,omitempty"`
	To        types.TradingMode  `json:"to,omitempty"`
	State     types.BreakerState `json:"state"`
	At        time.Time          `json:"at"`
}

// ModeSwitcher is the mode owner the breaker drives.
type ModeSwitcher interface {
	Mode(ctx context.Context) (types.TradingMode, error)
	SetMode(ctx context.Context, mode types.TradingMode, reason string) (guardrail.ModeTransition, error)
	ActiveOverride(ctx context.Context) (*types.Override, error)
}

// StateStore persists breaker state.
type StateStore interface {
	LoadBreakerState(ctx context.Context, portfolio types.PortfolioTag) (types.BreakerState, bool, error)
	SaveBreakerState(ctx context.Context, st types.BreakerState) error
}

// Breaker monitors one portfolio. Callers that mutate the book hold the
// portfolio lock around RecordOutcome.
type Breaker struct {
	portfolio types.PortfolioTag
	store     StateStore
	modes     ModeSwitcher
	audit     audit.Appender
	loc       *time.Location

	mu     sync.Mutex
	cfg    Config
	state  types.BreakerState
	loaded bool
	nowFn  func() time.Time
}

func NewBreaker(portfolio types.PortfolioTag, cfg Config, st StateStore, modes ModeSwitcher, appender audit.Appender, loc *time.Location) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Breaker{
		portfolio: portfolio,
		store:     st,
		modes:     modes,
		audit:     appender,
		loc:       loc,
		cfg:       cfg,
		nowFn:     time.Now,
	}, nil
}

func (b *Breaker) SetClock(fn func() time.Time) {
	if fn != nil {
		b.mu.Lock()
		b.nowFn = fn
		b.mu.Unlock()
	}
}

func (b *Breaker) Portfolio() types.PortfolioTag { return b.portfolio }

func (b *Breaker) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// State returns the current state after applying any day rollover.
func (b *Breaker) State(ctx context.Context) (types.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLocked(ctx); err != nil {
		return types.BreakerState{}, err
	}
	if err := b.rolloverLocked(ctx, b.nowFn()); err != nil {
		return types.BreakerState{}, err
	}
	return b.state, nil
}

// RecordOutcome folds one realized outcome into the state and fires triggers
// before returning.
func (b *Breaker) RecordOutcome(ctx context.Context, out TradeOutcome) (types.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLocked(ctx); err != nil {
		return types.BreakerState{}, err
	}
	now := out.At
	if now.IsZero() {
		now = b.nowFn()
	}
	if err := b.rolloverLocked(ctx, now); err != nil {
		return types.BreakerState{}, err
	}

	st := &b.state
	if st.DayStartValue <= 0 && out.PortfolioValue > 0 {
		st.DayStartValue = out.PortfolioValue
	}
	st.RealizedPnLToday += out.RealizedPnL
	if st.DayStartValue > 0 {
		st.DailyLossPct = st.RealizedPnLToday / st.DayStartValue * 100
	}
	if out.RealizedPnL < 0 {
		st.ConsecutiveLosses++
	} else {
		st.ConsecutiveLosses = 0
	}
	st.UpdatedAt = now

	var events []Event
	if !st.DailyLossTripped && st.DailyLossPct <= -b.cfg.DailyLossLimitPct {
		evt, err := b.tripDailyLossLocked(ctx, now)
		if err != nil {
			return b.state, err
		}
		events = append(events, evt)
	}
	if st.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses && !st.PausedAt(now) {
		evt, err := b.tripPauseLocked(ctx, now)
		if err != nil {
			return b.state, err
		}
		events = append(events, evt)
	}
	if err := b.saveLocked(ctx); err != nil {
		return b.state, err
	}
	return b.state, b.auditLocked(ctx, events...)
}

func (b *Breaker) tripDailyLossLocked(ctx context.Context, now time.Time) (Event, error) {
	st := &b.state
	st.DailyLossTripped = true
	reason := fmt.Sprintf("daily realized loss %.2f%% breached -%.2f%%", st.DailyLossPct, b.cfg.DailyLossLimitPct)
	st.LastTriggerReason = reason
	evt := Event{Portfolio: b.portfolio, Trigger: TriggerDailyLoss, Reason: reason, At: now}

	current, err := b.modes.Mode(ctx)
	if err != nil {
		return evt, err
	}
	evt.From = current
	switch {
	case current == types.ModePaused && st.PauseStarted != nil:
		// resume into the fallback once the pause ends
		st.ResumeMode = b.cfg.FallbackMode
		evt.To = current
	case restrictiveness(current) >= restrictiveness(b.cfg.FallbackMode):
		evt.To = current
	default:
		if _, err := b.modes.SetMode(ctx, b.cfg.FallbackMode, "circuit breaker: "+reason); err != nil {
			return evt, err
		}
		evt.To = b.cfg.FallbackMode
	}
	logger.Warnf("circuit breaker %s: %s", b.portfolio, reason)
	evt.State = *st
	return evt, nil
}

func (b *Breaker) tripPauseLocked(ctx context.Context, now time.Time) (Event, error) {
	st := &b.state
	until := now.Add(b.cfg.PauseDuration)
	reason := fmt.Sprintf("%d consecutive losing trades, paused until %s", st.ConsecutiveLosses, until.In(b.loc).Format(time.RFC3339))
	current, err := b.modes.Mode(ctx)
	if err != nil {
		return Event{}, err
	}
	resume := current
	if current == types.ModePaused {
		resume = b.cfg.FallbackMode
	}
	if st.DailyLossTripped && restrictiveness(resume) < restrictiveness(b.cfg.FallbackMode) {
		resume = b.cfg.FallbackMode
	}
	started := now
	st.PauseStarted = &started
	st.PausedUntil = &until
	st.ResumeMode = resume
	st.LastTriggerReason = reason
	if current != types.ModePaused {
		if _, err := b.modes.SetMode(ctx, types.ModePaused, "circuit breaker: "+reason); err != nil {
			return Event{}, err
		}
	}
	logger.Warnf("circuit breaker %s: %s", b.portfolio, reason)
	return Event{
		Portfolio: b.portfolio,
		Trigger:   TriggerConsecutiveLosses,
		Reason:    reason,
		From:      current,
		To:        types.ModePaused,
		State:     *st,
		At:        now,
	}, nil
}

// Check refuses new entries while a pause runs. Once the pause has elapsed, or
// an override was granted after it started, the pre-pause mode is restored.
func (b *Breaker) Check(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLocked(ctx); err != nil {
		return err
	}
	now := b.nowFn()
	if err := b.rolloverLocked(ctx, now); err != nil {
		return err
	}
	st := &b.state
	if st.PausedUntil == nil {
		return nil
	}
	trigger := TriggerPauseElapsed
	if st.PausedAt(now) {
		ov, err := b.modes.ActiveOverride(ctx)
		if err != nil {
			return err
		}
		if ov == nil || st.PauseStarted == nil || !ov.GrantedAt.After(*st.PauseStarted) {
			return fmt.Errorf("%w until %s: %s", ErrCircuitBreakerPauseActive,
				st.PausedUntil.In(b.loc).Format(time.RFC3339), st.LastTriggerReason)
		}
		trigger = TriggerOverrideResume
	}
	return b.resumeLocked(ctx, now, trigger)
}

func (b *Breaker) resumeLocked(ctx context.Context, now time.Time, trigger string) error {
	st := &b.state
	resume := st.ResumeMode
	if resume == "" {
		resume = types.ModeNormal
	}
	current, err := b.modes.Mode(ctx)
	if err != nil {
		return err
	}
	reason := "pause elapsed"
	if trigger == TriggerOverrideResume {
		reason = "override granted during pause"
	}
	evt := Event{Portfolio: b.portfolio, Trigger: trigger, Reason: reason, From: current, To: current, At: now}
	// an operator may have changed the mode during the pause; leave it alone then
	if current == types.ModePaused {
		if _, err := b.modes.SetMode(ctx, resume, "circuit breaker: "+reason); err != nil {
			return err
		}
		evt.To = resume
	}
	st.PausedUntil = nil
	st.PauseStarted = nil
	st.ResumeMode = ""
	st.ConsecutiveLosses = 0
	st.UpdatedAt = now
	evt.State = *st
	logger.Infof("circuit breaker %s: %s, mode %s", b.portfolio, reason, evt.To)
	if err := b.saveLocked(ctx); err != nil {
		return err
	}
	return b.auditLocked(ctx, evt)
}

// ResetDay applies the exchange-midnight rollover now.
func (b *Breaker) ResetDay(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLocked(ctx); err != nil {
		return err
	}
	return b.rolloverLocked(ctx, b.nowFn())
}

// MarkDayStart records the value the day's loss percentage is measured against,
// if the day has no baseline yet.
func (b *Breaker) MarkDayStart(ctx context.Context, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLocked(ctx); err != nil {
		return err
	}
	if err := b.rolloverLocked(ctx, b.nowFn()); err != nil {
		return err
	}
	if b.state.DayStartValue > 0 || value <= 0 {
		return nil
	}
	b.state.DayStartValue = value
	return b.saveLocked(ctx)
}

// UpdateConfig swaps the configuration at runtime. State is kept.
func (b *Breaker) UpdateConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.cfg
	b.cfg = cfg
	now := b.nowFn()
	evt := Event{
		Portfolio: b.portfolio,
		Trigger:   TriggerConfigUpdated,
		Reason: fmt.Sprintf("loss limit %.2f%%->%.2f%%, streak %d->%d, pause %s->%s, fallback %s->%s",
			prev.DailyLossLimitPct, cfg.DailyLossLimitPct, prev.MaxConsecutiveLosses, cfg.MaxConsecutiveLosses,
			prev.PauseDuration, cfg.PauseDuration, prev.FallbackMode, cfg.FallbackMode),
		State: b.state,
		At:    now,
	}
	return b.auditLocked(ctx, evt)
}

func (b *Breaker) ensureLocked(ctx context.Context) error {
	if b.loaded {
		return nil
	}
	st, ok, err := b.store.LoadBreakerState(ctx, b.portfolio)
	if err != nil {
		return fmt.Errorf("load breaker state for %s: %w", b.portfolio, err)
	}
	if !ok {
		st = types.BreakerState{Portfolio: b.portfolio}
	}
	b.state = st
	b.loaded = true
	return nil
}

// rolloverLocked resets the daily counters when the exchange day changed.
// The loss streak and a running pause survive the boundary.
func (b *Breaker) rolloverLocked(ctx context.Context, now time.Time) error {
	day := now.In(b.loc).Format("2006-01-02")
	if b.state.TradingDay == day {
		return nil
	}
	prevDay := b.state.TradingDay
	b.state.TradingDay = day
	b.state.DayStartValue = 0
	b.state.RealizedPnLToday = 0
	b.state.DailyLossPct = 0
	b.state.DailyLossTripped = false
	b.state.UpdatedAt = now
	if err := b.saveLocked(ctx); err != nil {
		return err
	}
	if prevDay == "" {
		return nil
	}
	logger.Debugf("circuit breaker %s: trading day %s -> %s", b.portfolio, prevDay, day)
	return b.auditLocked(ctx, Event{
		Portfolio: b.portfolio,
		Trigger:   TriggerDailyReset,
		Reason:    "new trading day " + day,
		State:     b.state,
		At:        now,
	})
}

func (b *Breaker) saveLocked(ctx context.Context) error {
	b.state.Portfolio = b.portfolio
	if err := b.store.SaveBreakerState(ctx, b.state); err != nil {
		return fmt.Errorf("save breaker state for %s: %w", b.portfolio, err)
	}
	return nil
}

func (b *Breaker) auditLocked(ctx context.Context, events ...Event) error {
	if b.audit == nil {
		return nil
	}
	for _, evt := range events {
		if _, err := b.audit.Append(ctx, audit.Record{Kind: audit.KindBreakerEvent, Portfolio: b.portfolio, Payload: evt}); err != nil {
			return fmt.Errorf("audit breaker event: %w", err)
		}
	}
	return nil
}

func restrictiveness(m types.TradingMode) int {
	switch m {
	case types.ModeAggressive:
		return 0
	case types.ModeNormal:
		return 1
	case types.ModeConservative:
		return 2
	case types.ModePaused:
		return 3
	default:
		return 1
	}
}
