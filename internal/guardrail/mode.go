package guardrail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"phinance/internal/audit"
	"phinance/internal/logger"
	"phinance/internal/types"
)

var (
	ErrInvalidOverride = errors.New("invalid override")
	ErrNoOverride      = errors.New("no active override")
)

// ModeStore is the persistence ModeController needs.
type ModeStore interface {
	LoadMode(ctx context.Context, portfolio types.PortfolioTag) (types.ModeRecord, bool, error)
	SaveMode(ctx context.Context, rec types.ModeRecord) error
	SaveOverride(ctx context.Context, o types.Override) error
	LoadOverride(ctx context.Context, portfolio types.PortfolioTag) (*types.Override, error)
	RevokeOverride(ctx context.Context, portfolio types.PortfolioTag, at time.Time) error
}

// ModeTransition is emitted for every mode change.
type ModeTransition struct {
	Portfolio types.PortfolioTag `json:"portfolio"`
	From      types.TradingMode  `json:"from"`
	To        types.TradingMode  `json:"to"`
	Reason    string             `json:"reason"`
	At        time.Time          `json:"at"`
}

// ModeController owns the active mode and override of one portfolio.
type ModeController struct {
	portfolio   types.PortfolioTag
	store       ModeStore
	audit       audit.Appender
	defaultMode types.TradingMode
	nowFn       func() time.Time

	mu       sync.Mutex
	current  types.ModeRecord
	loaded   bool
	onChange []func(ModeTransition)
}

func NewModeController(portfolio types.PortfolioTag, st ModeStore, appender audit.Appender, defaultMode types.TradingMode) *ModeController {
	if defaultMode == "" {
		defaultMode = types.ModeNormal
	}
	return &ModeController{
		portfolio:   portfolio,
		store:       st,
		audit:       appender,
		defaultMode: defaultMode,
		nowFn:       time.Now,
	}
}

func (c *ModeController) SetClock(fn func() time.Time) {
	if fn != nil {
		c.nowFn = fn
	}
}

func (c *ModeController) Portfolio() types.PortfolioTag { return c.portfolio }

// OnChange registers a listener called after each persisted transition.
func (c *ModeController) OnChange(fn func(ModeTransition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Mode returns the active mode, loading it on first use.
func (c *ModeController) Mode(ctx context.Context) (types.TradingMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return "", err
	}
	return c.current.Mode, nil
}

// Record returns the active mode with its reason.
func (c *ModeController) Record(ctx context.Context) (types.ModeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return types.ModeRecord{}, err
	}
	return c.current, nil
}

func (c *ModeController) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	rec, ok, err := c.store.LoadMode(ctx, c.portfolio)
	if err != nil {
		return fmt.Errorf("load mode for %s: %w", c.portfolio, err)
	}
	if !ok {
		rec = types.ModeRecord{Portfolio: c.portfolio, Mode: c.defaultMode, Reason: "default", ChangedAt: c.nowFn()}
	}
	c.current = rec
	c.loaded = true
	return nil
}

// SetMode persists and audits a transition. Setting the current mode again is a no-op.
func (c *ModeController) SetMode(ctx context.Context, mode types.TradingMode, reason string) (ModeTransition, error) {
	if _, err := types.ParseTradingMode(string(mode)); err != nil {
		return ModeTransition{}, err
	}
	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.mu.Unlock()
		return ModeTransition{}, err
	}
	from := c.current.Mode
	now := c.nowFn()
	tr := ModeTransition{Portfolio: c.portfolio, From: from, To: mode, Reason: strings.TrimSpace(reason), At: now}
	if from == mode {
		c.mu.Unlock()
		return tr, nil
	}
	rec := types.ModeRecord{Portfolio: c.portfolio, Mode: mode, Reason: tr.Reason, ChangedAt: now}
	if err := c.store.SaveMode(ctx, rec); err != nil {
		c.mu.Unlock()
		return ModeTransition{}, fmt.Errorf("save mode for %s: %w", c.portfolio, err)
	}
	c.current = rec
	listeners := append([]func(ModeTransition){}, c.onChange...)
	c.mu.Unlock()

	logger.Infof("mode %s: %s -> %s (%s)", c.portfolio, from, mode, tr.Reason)
	if c.audit != nil {
		if _, err := c.audit.Append(ctx, audit.Record{Kind: audit.KindModeTransition, Portfolio: c.portfolio, Payload: tr}); err != nil {
			return tr, fmt.Errorf("audit mode transition: %w", err)
		}
	}
	for _, fn := range listeners {
		fn(tr)
	}
	return tr, nil
}

// GrantOverride replaces any active override. maxPositionPct is a percentage.
func (c *ModeController) GrantOverride(ctx context.Context, maxPositionPct float64, ttl time.Duration, reason string) (types.Override, error) {
	if maxPositionPct <= 0 || maxPositionPct > 100 {
		return types.Override{}, fmt.Errorf("%w: max_position_pct must be within (0,100], got %v", ErrInvalidOverride, maxPositionPct)
	}
	if ttl <= 0 {
		return types.Override{}, fmt.Errorf("%w: duration must be positive", ErrInvalidOverride)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return types.Override{}, fmt.Errorf("%w: reason is required", ErrInvalidOverride)
	}
	now := c.nowFn()
	o := types.Override{
		Portfolio:      c.portfolio,
		GrantedAt:      now,
		ExpiresAt:      now.Add(ttl),
		MaxPositionPct: maxPositionPct,
		Reason:         reason,
	}
	if err := c.store.SaveOverride(ctx, o); err != nil {
		return types.Override{}, fmt.Errorf("save override for %s: %w", c.portfolio, err)
	}
	logger.Infof("override granted on %s: %.2f%% until %s", c.portfolio, maxPositionPct, o.ExpiresAt.Format(time.RFC3339))
	if c.audit != nil {
		if _, err := c.audit.Append(ctx, audit.Record{Kind: audit.KindOverrideGranted, Portfolio: c.portfolio, Payload: o}); err != nil {
			return o, fmt.Errorf("audit override grant: %w", err)
		}
	}
	return o, nil
}

// RevokeOverride ends the active override early.
func (c *ModeController) RevokeOverride(ctx context.Context, reason string) error {
	active, err := c.ActiveOverride(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return ErrNoOverride
	}
	now := c.nowFn()
	if err := c.store.RevokeOverride(ctx, c.portfolio, now); err != nil {
		return fmt.Errorf("revoke override for %s: %w", c.portfolio, err)
	}
	active.RevokedAt = &now
	if c.audit != nil {
		payload := map[string]any{"override": active, "reason": strings.TrimSpace(reason)}
		if _, err := c.audit.Append(ctx, audit.Record{Kind: audit.KindOverrideRevoked, Portfolio: c.portfolio, Payload: payload}); err != nil {
			return fmt.Errorf("audit override revoke: %w", err)
		}
	}
	return nil
}

// ActiveOverride returns the unexpired override, or nil.
func (c *ModeController) ActiveOverride(ctx context.Context) (*types.Override, error) {
	o, err := c.store.LoadOverride(ctx, c.portfolio)
	if err != nil {
		return nil, fmt.Errorf("load override for %s: %w", c.portfolio, err)
	}
	if !o.ActiveAt(c.nowFn()) {
		return nil, nil
	}
	return o, nil
}
