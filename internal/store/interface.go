package store

import (
	"context"
	"errors"
	"time"

	"phinance/internal/types"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("store: record not found")

// SessionRepository persists trading sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, sess *types.TradingSession) error
	// EndSession closes an active session; ended sessions are never written again.
	EndSession(ctx context.Context, id int64, endedAt time.Time, endingValue float64) (types.TradingSession, error)
	GetSession(ctx context.Context, id int64) (types.TradingSession, error)
	ActiveSession(ctx context.Context) (types.TradingSession, bool, error)
	ListSessions(ctx context.Context, limit int) ([]types.TradingSession, error)
	AddSessionCounts(ctx context.Context, id int64, decisions, trades int) error
}

// DecisionRepository persists trade decisions. Rows are never deleted.
type DecisionRepository interface {
	InsertDecision(ctx context.Context, d *types.TradeDecision) error
	ListDecisions(ctx context.Context, filter types.DecisionFilter) ([]types.TradeDecision, error)
	ListDueDecisions(ctx context.Context, now time.Time, limit int) ([]types.TradeDecision, error)
	RecordPredictionOutcome(ctx context.Context, id int64, outcome string, actualPrice float64, accurate bool, at time.Time) error
}

// QueueRepository persists queued trades and their event log.
type QueueRepository interface {
	InsertQueuedTrade(ctx context.Context, t *types.QueuedTrade) error
	GetQueuedTrade(ctx context.Context, id int64) (types.QueuedTrade, error)
	ListQueuedTrades(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error)
	CountQueuedTrades(ctx context.Context, portfolio types.PortfolioTag) (int, error)
	// CompareAndSetStatus moves id from -> to only if its stored status is still from.
	// It reports false without error when another writer got there first.
	CompareAndSetStatus(ctx context.Context, id int64, from, to types.QueueStatus, upd types.QueueUpdate) (bool, error)
	AppendQueueEvent(ctx context.Context, evt types.QueueEvent) error
	ListQueueEvents(ctx context.Context, queueID int64) ([]types.QueueEvent, error)
}

// RiskRepository persists modes, overrides and breaker state per portfolio.
type RiskRepository interface {
	LoadMode(ctx context.Context, portfolio types.PortfolioTag) (types.ModeRecord, bool, error)
	SaveMode(ctx context.Context, rec types.ModeRecord) error
	SaveOverride(ctx context.Context, o types.Override) error
	LoadOverride(ctx context.Context, portfolio types.PortfolioTag) (*types.Override, error)
	RevokeOverride(ctx context.Context, portfolio types.PortfolioTag, at time.Time) error
	LoadBreakerState(ctx context.Context, portfolio types.PortfolioTag) (types.BreakerState, bool, error)
	SaveBreakerState(ctx context.Context, st types.BreakerState) error
}

// BookRepository persists the cash and holdings of the simulated books.
type BookRepository interface {
	LoadBook(ctx context.Context, portfolio types.PortfolioTag) (types.Book, bool, error)
	InitBook(ctx context.Context, portfolio types.PortfolioTag, cash float64) error
	// ApplyFill writes the fill, the new cash balance and the resulting holding in one transaction.
	// A holding with zero quantity is removed.
	ApplyFill(ctx context.Context, fill *types.Fill, cash float64, holding types.Holding) error
	CountFillsSince(ctx context.Context, portfolio types.PortfolioTag, since time.Time) (int, error)
	ListFills(ctx context.Context, portfolio types.PortfolioTag, limit int) ([]types.Fill, error)
}

// SnapshotRepository persists performance snapshots.
type SnapshotRepository interface {
	InsertSnapshot(ctx context.Context, snap *types.PerformanceSnapshot) error
	ListSnapshots(ctx context.Context, portfolio types.PortfolioTag, limit int) ([]types.PerformanceSnapshot, error)
}

// Store is the entry point for database access.
type Store interface {
	SessionRepository
	DecisionRepository
	QueueRepository
	RiskRepository
	BookRepository
	SnapshotRepository
	Close() error
}
