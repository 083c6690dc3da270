package guardrail

import (
	"time"

	"phinance/internal/types"

	"github.com/shopspring/decimal"
)

// Limits are the confluence thresholds applied by modes that require it.
type Limits struct {
	ConfidenceThreshold float64
	MinSignals          int
}

// Evaluator is a pure function of its inputs plus the preset table.
type Evaluator struct {
	policies PolicySource
	limits   Limits
	nowFn    func() time.Time
}

func NewEvaluator(policies PolicySource, limits Limits) *Evaluator {
	if limits.ConfidenceThreshold <= 0 {
		limits.ConfidenceThreshold = 0.7
	}
	if limits.MinSignals <= 0 {
		limits.MinSignals = 3
	}
	return &Evaluator{policies: policies, limits: limits, nowFn: time.Now}
}

func (e *Evaluator) SetClock(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Policy exposes the policy used for mode.
func (e *Evaluator) Policy(mode types.TradingMode) Policy {
	return e.policies.Policy(mode)
}

var hundred = decimal.NewFromInt(100)

// Evaluate checks p against the mode policy, an optional override and the
// portfolio state. price is the reference price; a proposal limit price wins.
//
// An explicit quantity or dollar size that breaks the position cap is
// rejected. A proposal with neither is sized to the cap and the verdict is
// marked Clamped.
func (e *Evaluator) Evaluate(p types.Proposal, price float64, state types.PortfolioState, mode types.TradingMode, ov *types.Override) Verdict {
	if p.Action == types.ActionHold {
		return Verdict{Kind: Skipped}
	}
	policy := e.policies.Policy(mode)
	capPct := policy.MaxPositionPct
	viaOverride := false
	if ov.ActiveAt(e.nowFn()) {
		capPct = ov.MaxPositionPct
		viaOverride = true
	}
	v := e.evaluate(p, price, state, mode, policy, capPct)
	v.CapPct = capPct
	v.OverrideCap = viaOverride
	return v
}

func (e *Evaluator) evaluate(p types.Proposal, price float64, state types.PortfolioState, mode types.TradingMode, policy Policy, capPct float64) Verdict {
	if mode == types.ModePaused {
		return reject(RuleModePaused, "trading mode is paused")
	}
	if p.LimitPrice > 0 {
		price = p.LimitPrice
	}
	if price <= 0 {
		return reject(RuleInvalidProposal, "no usable price for %s", p.Symbol)
	}
	if p.Quantity < 0 || p.PositionSizeUSD < 0 {
		return reject(RuleInvalidProposal, "negative size for %s", p.Symbol)
	}

	px := decimal.NewFromFloat(price)
	total := decimal.NewFromFloat(state.TotalValue)
	cash := decimal.NewFromFloat(state.Cash)
	capValue := total.Mul(decimal.NewFromFloat(capPct)).Div(hundred)
	held := decimal.Zero
	if pos, ok := state.Position(p.Symbol); ok {
		held = decimal.NewFromFloat(pos.Quantity)
	}

	var (
		qty       decimal.Decimal
		clamped   bool
		clampNote string
	)
	switch p.Action {
	case types.ActionBuy:
		heldValue := held.Mul(px)
		switch {
		case p.Quantity > 0:
			qty = decimal.NewFromFloat(p.Quantity)
		case p.PositionSizeUSD > 0:
			qty = decimal.NewFromFloat(p.PositionSizeUSD).Div(px).Floor()
		default:
			room := capValue.Sub(heldValue)
			if !room.IsPositive() {
				return reject(RuleMaxPositionExceeded, "%s already at %.2f%% cap", p.Symbol, capPct)
			}
			budget := decimal.Min(room, cash)
			qty = budget.Div(px).Floor()
			if qty.IsZero() {
				if cash.LessThan(px) {
					return Verdict{Kind: Deferred, Condition: ConditionAwaitingCash, Price: price,
						Reason: "cash below one share of " + p.Symbol}
				}
				return reject(RuleMaxPositionExceeded, "cap room below one share of %s", p.Symbol)
			}
			clamped = true
			clampNote = "sized to " + qty.String() + " shares within " + decimal.NewFromFloat(capPct).String() + "% cap"
		}
		if !qty.IsPositive() {
			return reject(RuleInvalidProposal, "quantity for %s rounds to zero", p.Symbol)
		}
		after := heldValue.Add(qty.Mul(px))
		if after.GreaterThan(capValue) {
			pct := decimal.Zero
			if total.IsPositive() {
				pct = after.Div(total).Mul(hundred)
			}
			return reject(RuleMaxPositionExceeded, "%s position would be %s%% of portfolio, cap %s%%",
				p.Symbol, pct.StringFixed(2), decimal.NewFromFloat(capPct).StringFixed(2))
		}
	case types.ActionSell:
		if !held.IsPositive() {
			return reject(RuleNoPosition, "no open position in %s", p.Symbol)
		}
		switch {
		case p.Quantity > 0:
			qty = decimal.NewFromFloat(p.Quantity)
			if qty.GreaterThan(held) {
				return reject(RuleInsufficientPosition, "sell %s of %s exceeds held %s", qty.String(), p.Symbol, held.String())
			}
		case p.PositionSizeUSD > 0:
			qty = decimal.NewFromFloat(p.PositionSizeUSD).Div(px).Floor()
			if qty.GreaterThan(held) {
				qty = held
				clamped = true
				clampNote = "sell size reduced to held " + held.String()
			}
		default:
			qty = held
		}
		if !qty.IsPositive() {
			return reject(RuleInvalidProposal, "quantity for %s rounds to zero", p.Symbol)
		}
	default:
		return reject(RuleInvalidProposal, "unsupported action %q", p.Action)
	}

	if state.TradesToday >= policy.MaxTradesPerDay {
		return reject(RuleMaxTradesPerDay, "%d trades today, limit %d", state.TradesToday, policy.MaxTradesPerDay)
	}
	if policy.RequiresConfluence {
		if p.Confidence < e.limits.ConfidenceThreshold {
			return reject(RuleConfidenceBelow, "confidence %.2f below %.2f", p.Confidence, e.limits.ConfidenceThreshold)
		}
		if len(p.Signals) < e.limits.MinSignals {
			return reject(RuleInsufficientConfluence, "%d supporting signals, need %d", len(p.Signals), e.limits.MinSignals)
		}
	}
	if p.Action == types.ActionBuy && qty.Mul(px).GreaterThan(cash) {
		return Verdict{Kind: Deferred, Condition: ConditionAwaitingCash, Quantity: qty.InexactFloat64(), Price: price,
			Reason: "cost " + qty.Mul(px).StringFixed(2) + " exceeds cash " + cash.StringFixed(2)}
	}
	return Verdict{
		Kind:      Approved,
		Quantity:  qty.InexactFloat64(),
		Price:     price,
		Clamped:   clamped,
		ClampNote: clampNote,
	}
}
