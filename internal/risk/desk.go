package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phinance/internal/guardrail"
	"phinance/internal/types"
)

var ErrUnknownPortfolio = errors.New("unknown portfolio")

// Status is the risk view of one portfolio for the control surface.
type Status struct {
	Portfolio types.PortfolioTag `json:"portfolio"`
	Mode      types.TradingMode  `json:"mode"`
	Policy    guardrail.Policy   `json:"policy"`
	Override  *types.Override    `json:"override,omitempty"`
	Breaker   types.BreakerState `json:"breaker"`
	Config    Config             `json:"config"`
	Paused    bool               `json:"paused"`
}

// Desk is the operator's handle on modes, overrides and breakers.
type Desk struct {
	monitor  *Monitor
	policies guardrail.PolicySource
	modes    map[types.PortfolioTag]*guardrail.ModeController
	nowFn    func() time.Time
}

func NewDesk(monitor *Monitor, policies guardrail.PolicySource, controllers ...*guardrail.ModeController) *Desk {
	d := &Desk{
		monitor:  monitor,
		policies: policies,
		modes:    make(map[types.PortfolioTag]*guardrail.ModeController, len(controllers)),
		nowFn:    time.Now,
	}
	for _, c := range controllers {
		d.modes[c.Portfolio()] = c
	}
	return d
}

func (d *Desk) SetClock(fn func() time.Time) {
	if fn != nil {
		d.nowFn = fn
	}
}

func (d *Desk) handles(p types.PortfolioTag) (*guardrail.ModeController, *Breaker, error) {
	mc, ok := d.modes[p]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownPortfolio, p)
	}
	b, ok := d.monitor.Breaker(p)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q has no breaker", ErrUnknownPortfolio, p)
	}
	return mc, b, nil
}

func (d *Desk) Status(ctx context.Context, p types.PortfolioTag) (Status, error) {
	mc, b, err := d.handles(p)
	if err != nil {
		return Status{}, err
	}
	mode, err := mc.Mode(ctx)
	if err != nil {
		return Status{}, err
	}
	ov, err := mc.ActiveOverride(ctx)
	if err != nil {
		return Status{}, err
	}
	st, err := b.State(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Portfolio: p,
		Mode:      mode,
		Policy:    d.policies.Policy(mode),
		Override:  ov,
		Breaker:   st,
		Config:    b.Config(),
		Paused:    st.PausedAt(d.nowFn()),
	}, nil
}

func (d *Desk) SetMode(ctx context.Context, p types.PortfolioTag, mode types.TradingMode, reason string) (guardrail.ModeTransition, error) {
	mc, _, err := d.handles(p)
	if err != nil {
		return guardrail.ModeTransition{}, err
	}
	return mc.SetMode(ctx, mode, reason)
}

func (d *Desk) GrantOverride(ctx context.Context, p types.PortfolioTag, maxPositionPct float64, ttl time.Duration, reason string) (types.Override, error) {
	mc, _, err := d.handles(p)
	if err != nil {
		return types.Override{}, err
	}
	return mc.GrantOverride(ctx, maxPositionPct, ttl, reason)
}

func (d *Desk) RevokeOverride(ctx context.Context, p types.PortfolioTag, reason string) error {
	mc, _, err := d.handles(p)
	if err != nil {
		return err
	}
	return mc.RevokeOverride(ctx, reason)
}

func (d *Desk) UpdateBreaker(ctx context.Context, p types.PortfolioTag, cfg Config) error {
	_, b, err := d.handles(p)
	if err != nil {
		return err
	}
	return b.UpdateConfig(ctx, cfg)
}
