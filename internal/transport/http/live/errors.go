package livehttp

import (
	"errors"
	"net/http"

	"phinance/internal/audit"
	"phinance/internal/decision"
	"phinance/internal/engine"
	"phinance/internal/guardrail"
	"phinance/internal/logger"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/store"
	"phinance/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

// errorKind maps a sentinel to its HTTP status and machine-readable kind.
type errorKind struct {
	target error
	status int
	kind   string
}

var errorKinds = []errorKind{
	{engine.ErrNoActiveSession, http.StatusConflict, "no_active_session"},
	{engine.ErrSessionActive, http.StatusConflict, "session_active"},
	{engine.ErrCycleInProgress, http.StatusConflict, "cycle_in_progress"},
	{engine.ErrTradingHalted, http.StatusLocked, "trading_halted"},
	{engine.ErrUnknownPortfolio, http.StatusNotFound, "unknown_portfolio"},
	{risk.ErrUnknownPortfolio, http.StatusNotFound, "unknown_portfolio"},
	{risk.ErrCircuitBreakerPauseActive, http.StatusLocked, "circuit_breaker_pause_active"},
	{risk.ErrInvalidConfig, http.StatusBadRequest, "invalid_request"},
	{decision.ErrAllProvidersExhausted, http.StatusBadGateway, "all_providers_exhausted"},
	{audit.ErrChainVerificationFailed, http.StatusInternalServerError, "chain_verification_failed"},
	{queue.ErrNotCancellable, http.StatusConflict, "not_cancellable"},
	{queue.ErrInvalidOrder, http.StatusBadRequest, "invalid_request"},
	{queue.ErrQueueExecutionFailed, http.StatusBadGateway, "queue_execution_failed"},
	{queue.ErrQueueHalted, http.StatusLocked, "trading_halted"},
	{guardrail.ErrInvalidOverride, http.StatusBadRequest, "invalid_request"},
	{guardrail.ErrNoOverride, http.StatusNotFound, "no_override"},
	{gormstore.ErrSessionEnded, http.StatusConflict, "session_ended"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			c.JSON(k.status, errorResponse{Error: k.kind, Reason: err.Error()})
			return
		}
	}
	logger.Errorf("HTTP %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Reason: err.Error()})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Reason: reason})
}
