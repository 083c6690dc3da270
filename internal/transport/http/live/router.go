package livehttp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"phinance/internal/audit"
	"phinance/internal/guardrail"
	"phinance/internal/market"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/scheduler"
	"phinance/internal/types"

	"github.com/gin-gonic/gin"
)

const maxListLimit = 500

type EngineService interface {
	StartSession(ctx context.Context, notes string) (types.TradingSession, error)
	EndSession(ctx context.Context) (types.TradingSession, error)
	ActiveSession(ctx context.Context) (types.TradingSession, error)
	ListSessions(ctx context.Context, limit int) ([]types.TradingSession, error)
	ListDecisions(ctx context.Context, filter types.DecisionFilter) ([]types.TradeDecision, error)
	ListSnapshots(ctx context.Context, p types.PortfolioTag, limit int) ([]types.PerformanceSnapshot, error)
	RunCycle(ctx context.Context, p types.PortfolioTag) ([]types.TradeDecision, error)
	VerifyAudit(ctx context.Context) (audit.VerifyResult, error)
	ResumeTrading(ctx context.Context) error
	Halted() string
}

type QueueService interface {
	Enqueue(ctx context.Context, order types.QueuedTrade) (int64, error)
	EnqueueBatch(ctx context.Context, orders []types.QueuedTrade) ([]int64, error)
	Cancel(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (types.QueuedTrade, error)
	List(ctx context.Context, filter types.QueueFilter) ([]types.QueuedTrade, error)
	Events(ctx context.Context, id int64) ([]types.QueueEvent, error)
	PendingCount(ctx context.Context, p types.PortfolioTag) (int, error)
	Status(ctx context.Context) (queue.Status, error)
}

type RiskService interface {
	Status(ctx context.Context, p types.PortfolioTag) (risk.Status, error)
	SetMode(ctx context.Context, p types.PortfolioTag, mode types.TradingMode, reason string) (guardrail.ModeTransition, error)
	GrantOverride(ctx context.Context, p types.PortfolioTag, maxPositionPct float64, ttl time.Duration, reason string) (types.Override, error)
	RevokeOverride(ctx context.Context, p types.PortfolioTag, reason string) error
	UpdateBreaker(ctx context.Context, p types.PortfolioTag, cfg risk.Config) error
}

// PriceFeed accepts quotes and daily bars pushed by an outer market-data process.
type PriceFeed interface {
	Update(symbol string, price float64, asOf time.Time) error
	AppendBars(symbol string, bars ...market.Bar)
}

type Router struct {
	engine EngineService
	queue  QueueService
	risk   RiskService
	prices PriceFeed
}

func NewRouter(eng EngineService, q QueueService, r RiskService, prices PriceFeed) *Router {
	return &Router{engine: eng, queue: q, risk: r, prices: prices}
}

// Register mounts every route under group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/scheduler/status", r.handleSchedulerStatus)

	group.GET("/queue", r.handleQueueList)
	group.POST("/queue", r.handleQueueAdd)
	group.POST("/queue/batch", r.handleQueueBatch)
	group.GET("/queue/pending-count", r.handlePendingCount)
	group.GET("/queue/:id", r.handleQueueGet)
	group.GET("/queue/:id/log", r.handleQueueLog)
	group.POST("/queue/:id/cancel", r.handleQueueCancel)

	group.POST("/sessions/start", r.handleSessionStart)
	group.POST("/sessions/end", r.handleSessionEnd)
	group.GET("/sessions", r.handleSessionList)
	group.GET("/sessions/active", r.handleSessionActive)
	group.GET("/decisions", r.handleDecisionList)
	group.POST("/cycle/:portfolio", r.handleRunCycle)

	group.GET("/portfolios/:portfolio/risk", r.handleRiskStatus)
	group.GET("/portfolios/:portfolio/snapshots", r.handleSnapshots)
	group.PUT("/portfolios/:portfolio/mode", r.handleSetMode)
	group.POST("/portfolios/:portfolio/override", r.handleGrantOverride)
	group.DELETE("/portfolios/:portfolio/override", r.handleRevokeOverride)
	group.PUT("/portfolios/:portfolio/breaker", r.handleUpdateBreaker)

	group.GET("/audit/verify", r.handleAuditVerify)
	group.POST("/audit/resume", r.handleAuditResume)

	if r.prices != nil {
		group.PUT("/prices/:symbol", r.handlePriceUpdate)
	}
}

func portfolioParam(c *gin.Context) types.PortfolioTag {
	return types.NormalizePortfolio(c.Param("portfolio"))
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func limitQuery(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	return min(limit, maxListLimit)
}

// ---------------- scheduler / queue ----------------

func (r *Router) handleSchedulerStatus(c *gin.Context) {
	st, err := r.queue.Status(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleQueueList(c *gin.Context) {
	filter := types.QueueFilter{
		Portfolio: types.NormalizePortfolio(c.Query("portfolio")),
		Limit:     limitQuery(c, 100),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := types.ParseQueueStatus(strings.ToLower(raw))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.Status = status
	}
	items, err := r.queue.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

type orderRequest struct {
	Portfolio    string     `json:"portfolio" binding:"required"`
	Symbol       string     `json:"symbol" binding:"required"`
	Action       string     `json:"action" binding:"required"`
	Quantity     float64    `json:"quantity"`
	TargetPrice  *float64   `json:"target_price"`
	Source       string     `json:"source"`
	Conviction   *int       `json:"conviction"`
	Reasoning    string     `json:"reasoning"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (o orderRequest) toOrder() types.QueuedTrade {
	return types.QueuedTrade{
		Portfolio:    types.NormalizePortfolio(o.Portfolio),
		Symbol:       o.Symbol,
		Action:       types.Action(strings.ToUpper(strings.TrimSpace(o.Action))),
		Quantity:     o.Quantity,
		TargetPrice:  o.TargetPrice,
		Source:       o.Source,
		Conviction:   o.Conviction,
		Reasoning:    o.Reasoning,
		ScheduledFor: o.ScheduledFor,
	}
}

func (r *Router) handleQueueAdd(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := r.queue.Enqueue(c.Request.Context(), req.toOrder())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "status": types.QueueStatusQueued})
}

func (r *Router) handleQueueBatch(c *gin.Context) {
	var req struct {
		Orders []orderRequest `json:"orders" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	orders := make([]types.QueuedTrade, 0, len(req.Orders))
	for _, o := range req.Orders {
		orders = append(orders, o.toOrder())
	}
	ids, err := r.queue.EnqueueBatch(c.Request.Context(), orders)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids, "count": len(ids)})
}

func (r *Router) handlePendingCount(c *gin.Context) {
	n, err := r.queue.PendingCount(c.Request.Context(), types.NormalizePortfolio(c.Query("portfolio")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (r *Router) handleQueueGet(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := r.queue.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (r *Router) handleQueueLog(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	events, err := r.queue.Events(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue_id": id, "events": events})
}

func (r *Router) handleQueueCancel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := r.queue.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": types.QueueStatusCancelled})
}

// ---------------- sessions / cycles ----------------

func (r *Router) handleSessionStart(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	sess, err := r.engine.StartSession(c.Request.Context(), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (r *Router) handleSessionEnd(c *gin.Context) {
	sess, err := r.engine.EndSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) handleSessionList(c *gin.Context) {
	items, err := r.engine.ListSessions(c.Request.Context(), limitQuery(c, 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (r *Router) handleSessionActive(c *gin.Context) {
	sess, err := r.engine.ActiveSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) handleDecisionList(c *gin.Context) {
	filter := types.DecisionFilter{
		Portfolio: types.NormalizePortfolio(c.Query("portfolio")),
		Symbol:    c.Query("symbol"),
		Limit:     limitQuery(c, 100),
	}
	if raw := strings.TrimSpace(c.Query("session")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, fmt.Sprintf("invalid session %q", raw))
			return
		}
		filter.SessionID = &id
	}
	items, err := r.engine.ListDecisions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (r *Router) handleRunCycle(c *gin.Context) {
	decisions, err := r.engine.RunCycle(c.Request.Context(), portfolioParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}

func (r *Router) handleSnapshots(c *gin.Context) {
	items, err := r.engine.ListSnapshots(c.Request.Context(), portfolioParam(c), limitQuery(c, 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ---------------- risk controls ----------------

func (r *Router) handleRiskStatus(c *gin.Context) {
	st, err := r.risk.Status(c.Request.Context(), portfolioParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleSetMode(c *gin.Context) {
	var req struct {
		Mode   string `json:"mode" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	mode, err := types.ParseTradingMode(req.Mode)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator"
	}
	tr, err := r.risk.SetMode(c.Request.Context(), portfolioParam(c), mode, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (r *Router) handleGrantOverride(c *gin.Context) {
	var req struct {
		MaxPositionPct float64 `json:"max_position_pct" binding:"required"`
		TTL            string  `json:"ttl" binding:"required"`
		Reason         string  `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ttl, ok := scheduler.ParseIntervalDuration(req.TTL)
	if !ok {
		badRequest(c, fmt.Sprintf("invalid ttl %q, use e.g. 30m, 4h, 1d", req.TTL))
		return
	}
	ov, err := r.risk.GrantOverride(c.Request.Context(), portfolioParam(c), req.MaxPositionPct, ttl, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ov)
}

func (r *Router) handleRevokeOverride(c *gin.Context) {
	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = "operator"
	}
	if err := r.risk.RevokeOverride(c.Request.Context(), portfolioParam(c), reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) handleUpdateBreaker(c *gin.Context) {
	var req struct {
		DailyLossLimitPct    float64 `json:"daily_loss_limit_pct"`
		MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
		PauseMinutes         int     `json:"pause_minutes"`
		FallbackMode         string  `json:"fallback_mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cfg := risk.Config{
		DailyLossLimitPct:    req.DailyLossLimitPct,
		MaxConsecutiveLosses: req.MaxConsecutiveLosses,
		PauseDuration:        time.Duration(req.PauseMinutes) * time.Minute,
		FallbackMode:         types.TradingMode(strings.ToLower(strings.TrimSpace(req.FallbackMode))),
	}
	p := portfolioParam(c)
	if err := r.risk.UpdateBreaker(c.Request.Context(), p, cfg); err != nil {
		writeError(c, err)
		return
	}
	st, err := r.risk.Status(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ---------------- audit / prices ----------------

func (r *Router) handleAuditVerify(c *gin.Context) {
	res, err := r.engine.VerifyAudit(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleAuditResume(c *gin.Context) {
	if err := r.engine.ResumeTrading(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

func (r *Router) handlePriceUpdate(c *gin.Context) {
	var req struct {
		Price float64      `json:"price" binding:"required"`
		AsOf  *time.Time   `json:"as_of"`
		Bars  []market.Bar `json:"bars"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	asOf := time.Now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if err := r.prices.Update(symbol, req.Price, asOf); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Bars) > 0 {
		r.prices.AppendBars(symbol, req.Bars...)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": req.Price, "as_of": asOf})
}
