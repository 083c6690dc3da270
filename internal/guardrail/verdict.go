package guardrail

import "fmt"

// RuleID is the machine-readable reason of a rejection.
type RuleID string

const (
	RuleModePaused             RuleID = "MODE_PAUSED"
	RuleInvalidProposal        RuleID = "INVALID_PROPOSAL"
	RuleMaxPositionExceeded    RuleID = "MAX_POSITION_EXCEEDED"
	RuleMaxTradesPerDay        RuleID = "MAX_TRADES_PER_DAY"
	RuleConfidenceBelow        RuleID = "CONFIDENCE_BELOW_THRESHOLD"
	RuleInsufficientConfluence RuleID = "INSUFFICIENT_CONFLUENCE"
	RuleNoPosition             RuleID = "NO_POSITION"
	RuleInsufficientPosition   RuleID = "INSUFFICIENT_POSITION"
)

// ConditionAwaitingCash defers a BUY until the book can pay for it.
const ConditionAwaitingCash = "awaiting_cash"

type VerdictKind string

const (
	Approved VerdictKind = "approved"
	Rejected VerdictKind = "rejected"
	Deferred VerdictKind = "deferred"
	// Skipped is returned for HOLD proposals, which are never evaluated.
	Skipped VerdictKind = "skipped"
)

// Verdict is the outcome of one evaluation. Only the fields of its Kind are set.
type Verdict struct {
	Kind      VerdictKind `json:"kind"`
	Quantity  float64     `json:"quantity,omitempty"`
	Price     float64     `json:"price,omitempty"`
	Clamped   bool        `json:"clamped,omitempty"`
	ClampNote string      `json:"clamp_note,omitempty"`
	RuleID    RuleID      `json:"rule_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Condition string      `json:"condition,omitempty"`
	// CapPct is the effective max position percentage used.
	CapPct      float64 `json:"cap_pct"`
	OverrideCap bool    `json:"override_cap,omitempty"`
}

func (v Verdict) Approved() bool { return v.Kind == Approved }

// Err returns a *RejectionError for rejected verdicts and nil otherwise.
func (v Verdict) Err() error {
	if v.Kind != Rejected {
		return nil
	}
	return &RejectionError{RuleID: v.RuleID, Reason: v.Reason}
}

// RejectionError lets callers outside the engine surface a rejection as an error.
type RejectionError struct {
	RuleID RuleID
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("guardrail rejected (%s): %s", e.RuleID, e.Reason)
}

func reject(rule RuleID, format string, args ...any) Verdict {
	return Verdict{Kind: Rejected, RuleID: rule, Reason: fmt.Sprintf(format, args...)}
}
