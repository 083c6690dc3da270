package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"phinance/internal/audit"
	"phinance/internal/engine"
	"phinance/internal/guardrail"
	"phinance/internal/market"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEngine struct{ mock.Mock }

func (m *MockEngine) StartSession(ctx context.Context, notes string) (types.TradingSession, error) {
	args := m.Called(ctx, notes)
	return args.Get(0).(types.TradingSession), args.Error(1)
}

func (m *MockEngine) EndSession(ctx context.Context) (types.TradingSession, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.TradingSession), args.Error(1)
}

func (m *MockEngine) ActiveSession(ctx context.Context) (types.TradingSession, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.TradingSession), args.Error(1)
}

func (m *MockEngine) ListSessions(ctx context.Context, limit int) ([]types.TradingSession, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]types.TradingSession), args.Error(1)
}

func (m *MockEngine) ListDecisions(ctx context.Context, filter types.DecisionFilter) ([]types.TradeDecision, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]types.TradeDecision), args.Error(1)
}

func (m *MockEngine) ListSnapshots(ctx context.Context, p types.PortfolioTag, limit int) ([]types.PerformanceSnapshot, error) {
	args := m.Called(ctx, p, limit)
	return args.Get(0).([]types.PerformanceSnapshot), args.Error(1)
}

func (m *MockEngine) RunCycle(ctx context.Context, p types.PortfolioTag) ([]types.TradeDecision, error) {
	args := m.Called(ctx, p)
	return args.Get(0).([]types.TradeDecision), args.Error(1)
}

func (m *MockEngine) VerifyAudit(ctx context.Context) (audit.VerifyResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(audit.VerifyResult), args.Error(1)
}

func (m *MockEngine) ResumeTrading(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) Halted() string { return "" }

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Enqueue(ctx context.Context, order types.QueuedTrade) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueue) EnqueueBatch(ctx context.Context, orders []types.QueuedTrade) ([]int64, error) {
	args := m.Called(ctx, orders)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockQueue) Cancel(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockQueue) Get(ctx context.Context, id int64) (types.QueuedTrade, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.QueuedTrade), args.Error(1)
}

func (m *MockQueue) List(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]types.QueuedTrade), args.Error(1)
}

func (m *MockQueue) Events(ctx context.Context, id int64) ([]types.QueueEvent, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]types.QueueEvent), args.Error(1)
}

func (m *MockQueue) PendingCount(ctx context.Context, p types.PortfolioTag) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

func (m *MockQueue) Status(ctx context.Context) (queue.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Status), args.Error(1)
}

type MockRisk struct{ mock.Mock }

func (m *MockRisk) Status(ctx context.Context, p types.PortfolioTag) (risk.Status, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(risk.Status), args.Error(1)
}

func (m *MockRisk) SetMode(ctx context.Context, p types.PortfolioTag, mode types.TradingMode, reason string) (guardrail.ModeTransition, error) {
	args := m.Called(ctx, p, mode, reason)
	return args.Get(0).(guardrail.ModeTransition), args.Error(1)
}

func (m *MockRisk) GrantOverride(ctx context.Context, p types.PortfolioTag, pct float64, ttl time.Duration, reason string) (types.Override, error) {
	args := m.Called(ctx, p, pct, ttl, reason)
	return args.Get(0).(types.Override), args.Error(1)
}

func (m *MockRisk) RevokeOverride(ctx context.Context, p types.PortfolioTag, reason string) error {
	return m.Called(ctx, p, reason).Error(0)
}

func (m *MockRisk) UpdateBreaker(ctx context.Context, p types.PortfolioTag, cfg risk.Config) error {
	return m.Called(ctx, p, cfg).Error(0)
}

type recordingFeed struct {
	symbol string
	price  float64
	bars   int
}

func (f *recordingFeed) Update(symbol string, price float64, _ time.Time) error {
	if price <= 0 {
		return fmt.Errorf("price must be > 0")
	}
	f.symbol, f.price = symbol, price
	return nil
}

func (f *recordingFeed) AppendBars(_ string, bars ...market.Bar) { f.bars += len(bars) }

type harness struct {
	engine *MockEngine
	queue  *MockQueue
	risk   *MockRisk
	feed   *recordingFeed
	server *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{engine: &MockEngine{}, queue: &MockQueue{}, risk: &MockRisk{}, feed: &recordingFeed{}}
	srv, err := NewServer(ServerConfig{Engine: h.engine, Queue: h.queue, Risk: h.risk, Prices: h.feed})
	require.NoError(t, err)
	h.server = srv
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerRequiresServices(t *testing.T) {
	_, err := NewServer(ServerConfig{Engine: &MockEngine{}})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestQueueAdd(t *testing.T) {
	h := newHarness(t)
	h.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(o types.QueuedTrade) bool {
		return o.Portfolio == types.PortfolioKALIC && o.Action == types.ActionBuy && o.Quantity == 10
	})).Return(int64(7), nil)

	rec := h.do(t, http.MethodPost, "/api/queue", `{"portfolio":"kalic","symbol":"AAPL","action":"buy","quantity":10}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":7`)
	h.queue.AssertExpectations(t)
}

func TestQueueAddInvalidOrder(t *testing.T) {
	h := newHarness(t)
	h.queue.On("Enqueue", mock.Anything, mock.Anything).
		Return(int64(0), fmt.Errorf("%w: quantity must be > 0", queue.ErrInvalidOrder))

	rec := h.do(t, http.MethodPost, "/api/queue", `{"portfolio":"DC","symbol":"AAPL","action":"BUY","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeError(t, rec)
	assert.Equal(t, "invalid_request", out.Error)
	assert.Contains(t, out.Reason, "quantity")
}

func TestQueueAddMalformedBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/queue", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	h.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestQueueBatch(t *testing.T) {
	h := newHarness(t)
	h.queue.On("EnqueueBatch", mock.Anything, mock.MatchedBy(func(o []types.QueuedTrade) bool { return len(o) == 2 })).
		Return([]int64{1, 2}, nil)

	body := `{"orders":[{"portfolio":"KALIC","symbol":"AAPL","action":"BUY","quantity":1},{"portfolio":"DC","symbol":"MSFT","action":"SELL","quantity":2}]}`
	rec := h.do(t, http.MethodPost, "/api/queue/batch", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/queue?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueListFilters(t *testing.T) {
	h := newHarness(t)
	want := types.QueueFilter{Status: types.QueueStatusQueued, Portfolio: types.PortfolioDC, Limit: 5}
	h.queue.On("List", mock.Anything, want).Return([]types.QueuedTrade{{ID: 3}}, nil)

	rec := h.do(t, http.MethodGet, "/api/queue?status=queued&portfolio=dc&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestPendingCountIsNotAnID(t *testing.T) {
	h := newHarness(t)
	h.queue.On("PendingCount", mock.Anything, types.PortfolioTag("")).Return(4, nil)

	rec := h.do(t, http.MethodGet, "/api/queue/pending-count", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":4}`, rec.Body.String())
}

func TestQueueCancelConflict(t *testing.T) {
	h := newHarness(t)
	h.queue.On("Cancel", mock.Anything, int64(9)).Return(fmt.Errorf("order 9 is executed: %w", queue.ErrNotCancellable))

	rec := h.do(t, http.MethodPost, "/api/queue/9/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_cancellable", decodeError(t, rec).Error)
}

func TestQueueGetBadID(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/queue/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunCyclePausedByBreaker(t *testing.T) {
	h := newHarness(t)
	h.engine.On("RunCycle", mock.Anything, types.PortfolioKALIC).
		Return([]types.TradeDecision(nil), fmt.Errorf("KALIC: %w", risk.ErrCircuitBreakerPauseActive))

	rec := h.do(t, http.MethodPost, "/api/cycle/kalic", "")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "circuit_breaker_pause_active", decodeError(t, rec).Error)
}

func TestSessionStartConflict(t *testing.T) {
	h := newHarness(t)
	h.engine.On("StartSession", mock.Anything, "open").Return(types.TradingSession{}, engine.ErrSessionActive)

	rec := h.do(t, http.MethodPost, "/api/sessions/start", `{"notes":"open"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDecisionFilterParsesSession(t *testing.T) {
	h := newHarness(t)
	h.engine.On("ListDecisions", mock.Anything, mock.MatchedBy(func(f types.DecisionFilter) bool {
		return f.SessionID != nil && *f.SessionID == 12 && f.Symbol == "AAPL" && f.Limit == 100
	})).Return([]types.TradeDecision{}, nil)

	rec := h.do(t, http.MethodGet, "/api/decisions?session=12&symbol=AAPL", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/decisions?session=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetMode(t *testing.T) {
	h := newHarness(t)
	h.risk.On("SetMode", mock.Anything, types.PortfolioDC, types.ModeConservative, "operator").
		Return(guardrail.ModeTransition{Portfolio: types.PortfolioDC, From: types.ModeNormal, To: types.ModeConservative}, nil)

	rec := h.do(t, http.MethodPut, "/api/portfolios/DC/mode", `{"mode":"conservative"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/portfolios/DC/mode", `{"mode":"yolo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGrantOverrideParsesTTL(t *testing.T) {
	h := newHarness(t)
	h.risk.On("GrantOverride", mock.Anything, types.PortfolioKALIC, 25.0, 4*time.Hour, "earnings").
		Return(types.Override{Portfolio: types.PortfolioKALIC, MaxPositionPct: 25}, nil)

	rec := h.do(t, http.MethodPost, "/api/portfolios/KALIC/override", `{"max_position_pct":25,"ttl":"4h","reason":"earnings"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/portfolios/KALIC/override", `{"max_position_pct":25,"ttl":"soon","reason":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	h.risk.AssertNumberOfCalls(t, "GrantOverride", 1)
}

func TestRevokeOverride(t *testing.T) {
	h := newHarness(t)
	h.risk.On("RevokeOverride", mock.Anything, types.PortfolioKALIC, "operator").Return(nil).Once()
	h.risk.On("RevokeOverride", mock.Anything, types.PortfolioDC, "operator").Return(guardrail.ErrNoOverride).Once()

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/portfolios/KALIC/override", "").Code)
	rec := h.do(t, http.MethodDelete, "/api/portfolios/DC/override", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_override", decodeError(t, rec).Error)
}

func TestUpdateBreaker(t *testing.T) {
	h := newHarness(t)
	cfg := risk.Config{DailyLossLimitPct: 3, MaxConsecutiveLosses: 4, PauseDuration: 90 * time.Minute, FallbackMode: types.ModeConservative}
	h.risk.On("UpdateBreaker", mock.Anything, types.PortfolioDC, cfg).Return(nil)
	h.risk.On("Status", mock.Anything, types.PortfolioDC).Return(risk.Status{Portfolio: types.PortfolioDC, Config: cfg}, nil)

	body := `{"daily_loss_limit_pct":3,"max_consecutive_losses":4,"pause_minutes":90,"fallback_mode":"conservative"}`
	rec := h.do(t, http.MethodPut, "/api/portfolios/DC/breaker", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	h.risk.AssertExpectations(t)
}

func TestUpdateBreakerInvalid(t *testing.T) {
	h := newHarness(t)
	h.risk.On("UpdateBreaker", mock.Anything, types.PortfolioDC, mock.Anything).
		Return(fmt.Errorf("%w: daily loss limit must be > 0", risk.ErrInvalidConfig))

	rec := h.do(t, http.MethodPut, "/api/portfolios/DC/breaker", `{"daily_loss_limit_pct":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditVerify(t *testing.T) {
	h := newHarness(t)
	h.engine.On("VerifyAudit", mock.Anything).Return(audit.VerifyResult{OK: true, Entries: 3}, nil).Once()
	rec := h.do(t, http.MethodGet, "/api/audit/verify", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.engine.On("VerifyAudit", mock.Anything).
		Return(audit.VerifyResult{OK: false, BrokenAt: 2}, fmt.Errorf("entry 2: %w", audit.ErrChainVerificationFailed)).Once()
	rec = h.do(t, http.MethodGet, "/api/audit/verify", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "chain_verification_failed", decodeError(t, rec).Error)
}

func TestUnknownErrorIsInternal(t *testing.T) {
	h := newHarness(t)
	h.queue.On("Status", mock.Anything).Return(queue.Status{}, errors.New("disk on fire"))

	rec := h.do(t, http.MethodGet, "/api/scheduler/status", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Error)
}

func TestPriceUpdate(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPut, "/api/prices/aapl", `{"price":187.5,"bars":[{"close":186},{"close":187}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", h.feed.symbol)
	assert.Equal(t, 187.5, h.feed.price)
	assert.Equal(t, 2, h.feed.bars)
}
