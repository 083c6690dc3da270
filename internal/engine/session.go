package engine

import (
	"context"
	"fmt"
	"strings"

	"phinance/internal/audit"
	"phinance/internal/logger"
	"phinance/internal/types"
)

type sessionRecord struct {
	SessionID int64                          `json:"session_id"`
	Value     float64                        `json:"value"`
	Books     map[types.PortfolioTag]float64 `json:"books"`
	Notes     string                         `json:"notes,omitempty"`
	Decisions int                            `json:"decisions,omitempty"`
	Trades    int                            `json:"trades,omitempty"`
}

// StartSession opens a new session after the audit chain verified. Only one
// session can be active.
func (e *Engine) StartSession(ctx context.Context, notes string) (types.TradingSession, error) {
	if _, err := e.VerifyAudit(ctx); err != nil {
		return types.TradingSession{}, err
	}
	if reason := e.Halted(); reason != "" {
		return types.TradingSession{}, fmt.Errorf("%w: %s", ErrTradingHalted, reason)
	}
	if _, ok, err := e.store.ActiveSession(ctx); err != nil {
		return types.TradingSession{}, err
	} else if ok {
		return types.TradingSession{}, ErrSessionActive
	}
	total, books := e.totalValue(ctx)
	sess := types.TradingSession{
		StartTime:     e.nowFn(),
		StartingValue: total,
		Notes:         strings.TrimSpace(notes),
		Status:        types.SessionActive,
	}
	if err := e.store.CreateSession(ctx, &sess); err != nil {
		return types.TradingSession{}, fmt.Errorf("create session: %w", err)
	}
	e.mu.Lock()
	e.benchBase = make(map[types.PortfolioTag]float64)
	e.mu.Unlock()
	if err := e.appendAudit(ctx, audit.KindSessionStarted, "", sessionRecord{
		SessionID: sess.ID, Value: total, Books: books, Notes: sess.Notes,
	}); err != nil {
		return sess, err
	}
	logger.Infof("engine: session %d started, value %.2f", sess.ID, total)
	return sess, nil
}

// EndSession closes the active session. A closed session is never written again.
func (e *Engine) EndSession(ctx context.Context) (types.TradingSession, error) {
	sess, ok, err := e.store.ActiveSession(ctx)
	if err != nil {
		return types.TradingSession{}, err
	}
	if !ok {
		return types.TradingSession{}, ErrNoActiveSession
	}
	total, books := e.totalValue(ctx)
	ended, err := e.store.EndSession(ctx, sess.ID, e.nowFn(), total)
	if err != nil {
		return types.TradingSession{}, fmt.Errorf("end session %d: %w", sess.ID, err)
	}
	if err := e.appendAudit(ctx, audit.KindSessionEnded, "", sessionRecord{
		SessionID: ended.ID, Value: total, Books: books,
		Decisions: ended.DecisionsCount, Trades: ended.TradesCount,
	}); err != nil {
		return ended, err
	}
	logger.Infof("engine: session %d ended, value %.2f (%d decisions, %d trades)", ended.ID, total, ended.DecisionsCount, ended.TradesCount)
	return ended, nil
}

// ActiveSession returns the active session, ErrNoActiveSession if none.
func (e *Engine) ActiveSession(ctx context.Context) (types.TradingSession, error) {
	sess, ok, err := e.store.ActiveSession(ctx)
	if err != nil {
		return types.TradingSession{}, err
	}
	if !ok {
		return types.TradingSession{}, ErrNoActiveSession
	}
	return sess, nil
}

func (e *Engine) ListSessions(ctx context.Context, limit int) ([]types.TradingSession, error) {
	return e.store.ListSessions(ctx, limit)
}

func (e *Engine) ListDecisions(ctx context.Context, filter types.DecisionFilter) ([]types.TradeDecision, error) {
	return e.store.ListDecisions(ctx, filter)
}

func (e *Engine) ListSnapshots(ctx context.Context, p types.PortfolioTag, limit int) ([]types.PerformanceSnapshot, error) {
	return e.store.ListSnapshots(ctx, p, limit)
}

// totalValue sums every book. A book that cannot be read counts its starting value.
func (e *Engine) totalValue(ctx context.Context) (float64, map[types.PortfolioTag]float64) {
	books := make(map[types.PortfolioTag]float64, len(e.order))
	total := 0.0
	for _, tag := range e.order {
		v := e.books[tag].StartingValue
		if st, err := e.portfolios.Snapshot(ctx, tag); err == nil {
			v = st.TotalValue
		} else {
			logger.Warnf("engine: value of %s: %v", tag, err)
		}
		books[tag] = v
		total += v
	}
	return total, books
}
