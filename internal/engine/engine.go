// Package engine runs the decision cycle: context, provider cascade, guardrails,
// then queue or execution, with every outcome recorded and audited.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"phinance/internal/audit"
	"phinance/internal/decision"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/portfolio"
	"phinance/internal/store"
	"phinance/internal/types"
)

var (
	ErrNoActiveSession  = errors.New("no active trading session")
	ErrSessionActive    = errors.New("a trading session is already active")
	ErrCycleInProgress  = errors.New("a decision cycle is already running for this session")
	ErrTradingHalted    = errors.New("automated trading halted")
	ErrUnknownPortfolio = errors.New("unknown portfolio")
)

type ContextBuilder interface {
	Build(ctx context.Context, portfolio types.PortfolioTag) (market.Snapshot, error)
}

type ProviderQuerier interface {
	Query(ctx context.Context, snap market.Snapshot, traceID string) (decision.RawResponse, string, error)
}

type ProposalEvaluator interface {
	Evaluate(p types.Proposal, price float64, state types.PortfolioState, mode types.TradingMode, ov *types.Override) guardrail.Verdict
}

// ModeSource is the per-portfolio mode and override owner.
type ModeSource interface {
	Mode(ctx context.Context) (types.TradingMode, error)
	ActiveOverride(ctx context.Context) (*types.Override, error)
}

// BreakerGate is the per-portfolio circuit breaker as the engine sees it.
type BreakerGate interface {
	Check(ctx context.Context) error
	MarkDayStart(ctx context.Context, value float64) error
}

type OrderQueue interface {
	Enqueue(ctx context.Context, order types.QueuedTrade) (int64, error)
	Dispatch(ctx context.Context, id int64) (types.QueuedTrade, error)
	MarketOpen(now time.Time) bool
}

type AuditVerifier interface {
	Verify(ctx context.Context) (audit.VerifyResult, error)
}

type Store interface {
	store.SessionRepository
	store.DecisionRepository
	store.SnapshotRepository
	ListFills(ctx context.Context, portfolio types.PortfolioTag, limit int) ([]types.Fill, error)
}

// Book binds one portfolio tag to its own mode and breaker state.
type Book struct {
	Tag           types.PortfolioTag
	StartingValue float64
	Modes         ModeSource
	Breaker       BreakerGate
}

type Params struct {
	Builder    ContextBuilder
	Cascade    ProviderQuerier
	Guard      ProposalEvaluator
	Queue      OrderQueue
	Portfolios market.PortfolioReader
	Prices     market.PriceSource
	Locks      *portfolio.Locks
	Store      Store
	Audit      audit.Appender
	Verifier   AuditVerifier
	Books      []Book
	Benchmark  string
}

type Engine struct {
	builder    ContextBuilder
	cascade    ProviderQuerier
	guard      ProposalEvaluator
	queue      OrderQueue
	portfolios market.PortfolioReader
	prices     market.PriceSource
	locks      *portfolio.Locks
	store      Store
	audit      audit.Appender
	verifier   AuditVerifier
	books      map[types.PortfolioTag]Book
	order      []types.PortfolioTag
	benchmark  string
	nowFn      func() time.Time

	mu        sync.Mutex
	running   map[int64]bool
	halted    string
	benchBase map[types.PortfolioTag]float64
}

func New(p Params) *Engine {
	locks := p.Locks
	if locks == nil {
		locks = portfolio.NewLocks()
	}
	e := &Engine{
		builder:    p.Builder,
		cascade:    p.Cascade,
		guard:      p.Guard,
		queue:      p.Queue,
		portfolios: p.Portfolios,
		prices:     p.Prices,
		locks:      locks,
		store:      p.Store,
		audit:      p.Audit,
		verifier:   p.Verifier,
		books:      make(map[types.PortfolioTag]Book, len(p.Books)),
		benchmark:  p.Benchmark,
		nowFn:      time.Now,
		running:    make(map[int64]bool),
		benchBase:  make(map[types.PortfolioTag]float64),
	}
	for _, b := range p.Books {
		e.books[b.Tag] = b
		e.order = append(e.order, b.Tag)
	}
	return e
}

func (e *Engine) SetClock(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Portfolios lists the configured books in configuration order.
func (e *Engine) Portfolios() []types.PortfolioTag {
	return append([]types.PortfolioTag(nil), e.order...)
}

func (e *Engine) book(p types.PortfolioTag) (Book, error) {
	b, ok := e.books[p]
	if !ok {
		return Book{}, fmt.Errorf("%w: %q", ErrUnknownPortfolio, p)
	}
	return b, nil
}

// Halt stops automated trading until ResumeTrading succeeds.
func (e *Engine) Halt(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted == "" {
		logger.Errorf("engine: automated trading halted: %s", reason)
	}
	e.halted = reason
}

// Halted returns the halt reason, empty while trading is allowed.
func (e *Engine) Halted() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// VerifyAudit checks the audit chain and halts trading when it is broken.
func (e *Engine) VerifyAudit(ctx context.Context) (audit.VerifyResult, error) {
	if e.verifier == nil {
		return audit.VerifyResult{OK: true}, nil
	}
	res, err := e.verifier.Verify(ctx)
	if err != nil {
		if errors.Is(err, audit.ErrChainVerificationFailed) {
			e.Halt(fmt.Sprintf("audit chain broken at entry %d: %s", res.BrokenAt, res.Reason))
		}
		return res, err
	}
	return res, nil
}

// ResumeTrading lifts a halt, but only once the chain verifies again.
func (e *Engine) ResumeTrading(ctx context.Context) error {
	if _, err := e.VerifyAudit(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != "" {
		logger.Infof("engine: automated trading resumed (was: %s)", e.halted)
	}
	e.halted = ""
	return nil
}

func (e *Engine) claimSession(id int64) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != "" {
		return nil, fmt.Errorf("%w: %s", ErrTradingHalted, e.halted)
	}
	if e.running[id] {
		return nil, fmt.Errorf("%w (session %d)", ErrCycleInProgress, id)
	}
	e.running[id] = true
	return func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
	}, nil
}

func (e *Engine) appendAudit(ctx context.Context, kind audit.Kind, p types.PortfolioTag, payload any) error {
	if e.audit == nil {
		return nil
	}
	if _, err := e.audit.Append(ctx, audit.Record{Kind: kind, Portfolio: p, Payload: payload}); err != nil {
		e.Halt(fmt.Sprintf("audit append failed: %v", err))
		return fmt.Errorf("audit %s: %w", kind, err)
	}
	return nil
}
