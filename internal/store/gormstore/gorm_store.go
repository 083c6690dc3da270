package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"phinance/internal/store"
	"phinance/internal/store/model"
	"phinance/internal/types"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrSessionEnded is returned when a write targets a closed session.
var ErrSessionEnded = errors.New("gorm store: session already ended")

const defaultListLimit = 100

// GormStore implements store.Store on Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (or creates) the SQLite file at path and migrates every table.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.SessionModel{},
		&model.DecisionModel{},
		&model.QueuedTradeModel{},
		&model.QueueEventModel{},
		&model.ModeModel{},
		&model.OverrideModel{},
		&model.BreakerStateModel{},
		&model.BookModel{},
		&model.HoldingModel{},
		&model.FillModel{},
		&model.SnapshotModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for health checks.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialised")
	}
	return s.db.DB()
}

// --------------------- Sessions -------------------------

func (s *GormStore) CreateSession(ctx context.Context, sess *types.TradingSession) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if sess.Status == "" {
		sess.Status = types.SessionActive
	}
	m := newSessionModel(*sess)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	sess.ID = m.ID
	return nil
}

func (s *GormStore) EndSession(ctx context.Context, id int64, endedAt time.Time, endingValue float64) (types.TradingSession, error) {
	var out types.TradingSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.SessionModel
		if err := tx.First(&m, id).Error; err != nil {
			return wrapNotFound(err)
		}
		if m.Status != string(types.SessionActive) {
			return ErrSessionEnded
		}
		end := endedAt.UnixMilli()
		m.EndUnix = &end
		m.EndingValue = &endingValue
		m.Status = string(types.SessionEnded)
		res := tx.Model(&model.SessionModel{}).
			Where("id = ? AND status = ?", id, string(types.SessionActive)).
			Updates(map[string]interface{}{
				"end_time":     end,
				"ending_value": endingValue,
				"status":       m.Status,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionEnded
		}
		out = sessionModelToRecord(m)
		return nil
	})
	return out, err
}

func (s *GormStore) GetSession(ctx context.Context, id int64) (types.TradingSession, error) {
	var m model.SessionModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return types.TradingSession{}, wrapNotFound(err)
	}
	return sessionModelToRecord(m), nil
}

func (s *GormStore) ActiveSession(ctx context.Context) (types.TradingSession, bool, error) {
	var models []model.SessionModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.SessionActive)).
		Order("id DESC").Limit(1).Find(&models).Error
	if err != nil {
		return types.TradingSession{}, false, err
	}
	if len(models) == 0 {
		return types.TradingSession{}, false, nil
	}
	return sessionModelToRecord(models[0]), true, nil
}

func (s *GormStore) ListSessions(ctx context.Context, limit int) ([]types.TradingSession, error) {
	var models []model.SessionModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(normalizeLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradingSession, 0, len(models))
	for _, m := range models {
		out = append(out, sessionModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) AddSessionCounts(ctx context.Context, id int64, decisions, trades int) error {
	res := s.db.WithContext(ctx).Model(&model.SessionModel{}).
		Where("id = ? AND status = ?", id, string(types.SessionActive)).
		Updates(map[string]interface{}{
			"decisions_count": gorm.Expr("decisions_count + ?", decisions),
			"trades_count":    gorm.Expr("trades_count + ?", trades),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionEnded
	}
	return nil
}

// --------------------- Decisions -------------------------

func (s *GormStore) InsertDecision(ctx context.Context, d *types.TradeDecision) error {
	if d == nil {
		return fmt.Errorf("decision is nil")
	}
	m := newDecisionModel(*d)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	d.ID = m.ID
	return nil
}

func (s *GormStore) ListDecisions(ctx context.Context, filter types.DecisionFilter) ([]types.TradeDecision, error) {
	q := s.db.WithContext(ctx).Model(&model.DecisionModel{})
	if filter.SessionID != nil {
		q = q.Where("session_id = ?", *filter.SessionID)
	}
	if filter.Portfolio != "" {
		q = q.Where("portfolio = ?", string(filter.Portfolio))
	}
	if sym := strings.ToUpper(strings.TrimSpace(filter.Symbol)); sym != "" {
		q = q.Where("symbol = ?", sym)
	}
	var models []model.DecisionModel
	if err := q.Order("timestamp_ns DESC").Order("id DESC").Limit(normalizeLimit(filter.Limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	return decisionModelsToRecords(models), nil
}

// ListDueDecisions returns unevaluated decisions whose predicted timeframe
// elapsed at or before now, oldest due first.
func (s *GormStore) ListDueDecisions(ctx context.Context, now time.Time, limit int) ([]types.TradeDecision, error) {
	var models []model.DecisionModel
	err := s.db.WithContext(ctx).
		Where("evaluated_at_ns IS NULL AND price_at_decision IS NOT NULL AND due_at_ns IS NOT NULL AND due_at_ns <= ?", now.UnixNano()).
		Order("due_at_ns ASC").Order("id ASC").Limit(normalizeLimit(limit)).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return decisionModelsToRecords(models), nil
}

func (s *GormStore) RecordPredictionOutcome(ctx context.Context, id int64, outcome string, actualPrice float64, accurate bool, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.DecisionModel{}).
		Where("id = ? AND evaluated_at_ns IS NULL", id).
		Updates(map[string]interface{}{
			"actual_outcome":            outcome,
			"actual_price_at_timeframe": actualPrice,
			"prediction_accurate":       accurate,
			"evaluated_at_ns":           at.UnixNano(),
		})
	return res.Error
}

// --------------------- Queue -------------------------

func (s *GormStore) InsertQueuedTrade(ctx context.Context, t *types.QueuedTrade) error {
	if t == nil {
		return fmt.Errorf("queued trade is nil")
	}
	if t.Status == "" {
		t.Status = types.QueueStatusQueued
	}
	m := newQueuedTradeModel(*t)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	t.ID = m.ID
	return nil
}

func (s *GormStore) GetQueuedTrade(ctx context.Context, id int64) (types.QueuedTrade, error) {
	var m model.QueuedTradeModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return types.QueuedTrade{}, wrapNotFound(err)
	}
	return queuedTradeModelToRecord(m), nil
}

func (s *GormStore) ListQueuedTrades(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error) {
	q := s.db.WithContext(ctx).Model(&model.QueuedTradeModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Portfolio != "" {
		q = q.Where("portfolio_tag = ?", string(filter.Portfolio))
	}
	if filter.AfterID > 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	var models []model.QueuedTradeModel
	if err := q.Order("id ASC").Limit(normalizeLimit(filter.Limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.QueuedTrade, 0, len(models))
	for _, m := range models {
		out = append(out, queuedTradeModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) CountQueuedTrades(ctx context.Context, portfolio types.PortfolioTag) (int, error) {
	q := s.db.WithContext(ctx).Model(&model.QueuedTradeModel{}).Where("status = ?", string(types.QueueStatusQueued))
	if portfolio != "" {
		q = q.Where("portfolio_tag = ?", string(portfolio))
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *GormStore) CompareAndSetStatus(ctx context.Context, id int64, from, to types.QueueStatus, upd types.QueueUpdate) (bool, error) {
	if !types.CanTransition(from, to) {
		return false, fmt.Errorf("illegal queue transition %s -> %s", from, to)
	}
	updates := map[string]interface{}{"status": string(to)}
	if upd.ExecutedAt != nil {
		updates["executed_at"] = upd.ExecutedAt.UnixMilli()
	}
	if upd.ExecutionPrice != nil {
		updates["execution_price"] = *upd.ExecutionPrice
	}
	if upd.ExecutionRef != "" {
		updates["execution_ref"] = upd.ExecutionRef
	}
	if upd.ErrorMessage != "" {
		updates["error_message"] = upd.ErrorMessage
	}
	res := s.db.WithContext(ctx).Model(&model.QueuedTradeModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) AppendQueueEvent(ctx context.Context, evt types.QueueEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m := model.QueueEventModel{
		QueueID:       evt.QueueID,
		Event:         string(evt.Event),
		Details:       evt.Details,
		TimestampUnix: evt.Timestamp.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) ListQueueEvents(ctx context.Context, queueID int64) ([]types.QueueEvent, error) {
	var models []model.QueueEventModel
	if err := s.db.WithContext(ctx).Where("queue_id = ?", queueID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.QueueEvent, 0, len(models))
	for _, m := range models {
		out = append(out, types.QueueEvent{
			ID:        m.ID,
			QueueID:   m.QueueID,
			Event:     types.QueueStatus(m.Event),
			Details:   m.Details,
			Timestamp: millisToTime(m.TimestampUnix),
		})
	}
	return out, nil
}

// --------------------- Risk -------------------------

func (s *GormStore) LoadMode(ctx context.Context, portfolio types.PortfolioTag) (types.ModeRecord, bool, error) {
	var m model.ModeModel
	err := s.db.WithContext(ctx).Where("portfolio = ?", string(portfolio)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ModeRecord{}, false, nil
	}
	if err != nil {
		return types.ModeRecord{}, false, err
	}
	return types.ModeRecord{
		Portfolio: types.PortfolioTag(m.Portfolio),
		Mode:      types.TradingMode(m.Mode),
		Reason:    m.Reason,
		ChangedAt: millisToTime(m.ChangedAtUnix),
	}, true, nil
}

func (s *GormStore) SaveMode(ctx context.Context, rec types.ModeRecord) error {
	m := model.ModeModel{
		Portfolio:     string(rec.Portfolio),
		Mode:          string(rec.Mode),
		Reason:        rec.Reason,
		ChangedAtUnix: rec.ChangedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

// SaveOverride revokes any still-open override of the portfolio before inserting o,
// so at most one is ever active.
func (s *GormStore) SaveOverride(ctx context.Context, o types.Override) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := revokeOverrides(tx, o.Portfolio, o.GrantedAt); err != nil {
			return err
		}
		m := model.OverrideModel{
			Portfolio:      string(o.Portfolio),
			GrantedAtUnix:  o.GrantedAt.UnixMilli(),
			ExpiresAtUnix:  o.ExpiresAt.UnixMilli(),
			MaxPositionPct: o.MaxPositionPct,
			Reason:         o.Reason,
		}
		return tx.Create(&m).Error
	})
}

func (s *GormStore) LoadOverride(ctx context.Context, portfolio types.PortfolioTag) (*types.Override, error) {
	var models []model.OverrideModel
	err := s.db.WithContext(ctx).
		Where("portfolio = ? AND revoked_at IS NULL", string(portfolio)).
		Order("id DESC").Limit(1).Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	m := models[0]
	return &types.Override{
		Portfolio:      types.PortfolioTag(m.Portfolio),
		GrantedAt:      millisToTime(m.GrantedAtUnix),
		ExpiresAt:      millisToTime(m.ExpiresAtUnix),
		MaxPositionPct: m.MaxPositionPct,
		Reason:         m.Reason,
	}, nil
}

func (s *GormStore) RevokeOverride(ctx context.Context, portfolio types.PortfolioTag, at time.Time) error {
	return revokeOverrides(s.db.WithContext(ctx), portfolio, at)
}

func revokeOverrides(tx *gorm.DB, portfolio types.PortfolioTag, at time.Time) error {
	return tx.Model(&model.OverrideModel{}).
		Where("portfolio = ? AND revoked_at IS NULL", string(portfolio)).
		Update("revoked_at", at.UnixMilli()).Error
}

func (s *GormStore) LoadBreakerState(ctx context.Context, portfolio types.PortfolioTag) (types.BreakerState, bool, error) {
	var m model.BreakerStateModel
	err := s.db.WithContext(ctx).Where("portfolio = ?", string(portfolio)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.BreakerState{}, false, nil
	}
	if err != nil {
		return types.BreakerState{}, false, err
	}
	st, err := breakerModelToRecord(m)
	if err != nil {
		return types.BreakerState{}, false, err
	}
	return st, true, nil
}

func (s *GormStore) SaveBreakerState(ctx context.Context, st types.BreakerState) error {
	m, err := newBreakerStateModel(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

// --------------------- Books -------------------------

func (s *GormStore) LoadBook(ctx context.Context, portfolio types.PortfolioTag) (types.Book, bool, error) {
	var bm model.BookModel
	err := s.db.WithContext(ctx).Where("portfolio = ?", string(portfolio)).First(&bm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Book{}, false, nil
	}
	if err != nil {
		return types.Book{}, false, err
	}
	var holdings []model.HoldingModel
	if err := s.db.WithContext(ctx).Where("portfolio = ?", string(portfolio)).Order("symbol ASC").Find(&holdings).Error; err != nil {
		return types.Book{}, false, err
	}
	book := types.Book{Portfolio: portfolio, Cash: bm.Cash, Holdings: make([]types.Holding, 0, len(holdings))}
	for _, h := range holdings {
		book.Holdings = append(book.Holdings, types.Holding{
			Portfolio: portfolio,
			Symbol:    h.Symbol,
			Quantity:  h.Quantity,
			AvgCost:   h.AvgCost,
			UpdatedAt: millisToTime(h.UpdatedAtUnix),
		})
	}
	return book, true, nil
}

// InitBook creates the book with its starting cash; an existing book is left untouched.
func (s *GormStore) InitBook(ctx context.Context, portfolio types.PortfolioTag, cash float64) error {
	m := model.BookModel{Portfolio: string(portfolio), Cash: cash, UpdatedAtUnix: time.Now().UnixMilli()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

func (s *GormStore) ApplyFill(ctx context.Context, fill *types.Fill, cash float64, holding types.Holding) error {
	if fill == nil {
		return fmt.Errorf("fill is nil")
	}
	now := fill.ExecutedAt.UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fm := newFillModel(*fill)
		if err := tx.Create(&fm).Error; err != nil {
			return err
		}
		fill.ID = fm.ID
		book := model.BookModel{Portfolio: string(fill.Portfolio), Cash: cash, UpdatedAtUnix: now}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&book).Error; err != nil {
			return err
		}
		if holding.Quantity <= 0 {
			return tx.Where("portfolio = ? AND symbol = ?", string(fill.Portfolio), holding.Symbol).
				Delete(&model.HoldingModel{}).Error
		}
		hm := model.HoldingModel{
			Portfolio:     string(fill.Portfolio),
			Symbol:        holding.Symbol,
			Quantity:      holding.Quantity,
			AvgCost:       holding.AvgCost,
			UpdatedAtUnix: now,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&hm).Error
	})
}

func (s *GormStore) CountFillsSince(ctx context.Context, portfolio types.PortfolioTag, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.FillModel{}).
		Where("portfolio = ? AND executed_at >= ?", string(portfolio), since.UnixMilli()).
		Count(&n).Error
	return int(n), err
}

func (s *GormStore) ListFills(ctx context.Context, portfolio types.PortfolioTag, limit int) ([]types.Fill, error) {
	q := s.db.WithContext(ctx).Model(&model.FillModel{})
	if portfolio != "" {
		q = q.Where("portfolio = ?", string(portfolio))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []model.FillModel
	if err := q.Order("executed_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Fill, 0, len(models))
	for _, m := range models {
		out = append(out, fillModelToRecord(m))
	}
	return out, nil
}

// --------------------- Snapshots -------------------------

func (s *GormStore) InsertSnapshot(ctx context.Context, snap *types.PerformanceSnapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	m := newSnapshotModel(*snap)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	snap.ID = m.ID
	return nil
}

func (s *GormStore) ListSnapshots(ctx context.Context, portfolio types.PortfolioTag, limit int) ([]types.PerformanceSnapshot, error) {
	q := s.db.WithContext(ctx).Model(&model.SnapshotModel{})
	if portfolio != "" {
		q = q.Where("portfolio = ?", string(portfolio))
	}
	var models []model.SnapshotModel
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(normalizeLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PerformanceSnapshot, 0, len(models))
	for _, m := range models {
		out = append(out, snapshotModelToRecord(m))
	}
	return out, nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
