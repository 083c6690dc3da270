package types

import (
	"fmt"
	"time"
)

type QueueStatus string

const (
	QueueStatusQueued    QueueStatus = "queued"
	QueueStatusExecuting QueueStatus = "executing"
	QueueStatusExecuted  QueueStatus = "executed"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusQueued:    {QueueStatusExecuting, QueueStatusCancelled},
	QueueStatusExecuting: {QueueStatusExecuted, QueueStatusFailed},
}

// CanTransition reports whether from -> to is a legal forward move.
// executed, failed and cancelled are terminal.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range queueTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s QueueStatus) Terminal() bool {
	return len(queueTransitions[s]) == 0
}

func ParseQueueStatus(raw string) (QueueStatus, error) {
	switch s := QueueStatus(raw); s {
	case QueueStatusQueued, QueueStatusExecuting, QueueStatusExecuted, QueueStatusFailed, QueueStatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown queue status %q", raw)
	}
}

// QueuedTrade is an approved or deferred order waiting for its trading window.
type QueuedTrade struct {
	ID             int64        `json:"id"`
	Portfolio      PortfolioTag `json:"portfolio"`
	Symbol         string       `json:"symbol"`
	Action         Action       `json:"action"`
	Quantity       float64      `json:"quantity"`
	TargetPrice    *float64     `json:"target_price,omitempty"`
	Status         QueueStatus  `json:"status"`
	Source         string       `json:"source"`
	Conviction     *int         `json:"conviction,omitempty"`
	Reasoning      string       `json:"reasoning,omitempty"`
	Condition      string       `json:"condition,omitempty"`
	DecisionID     *int64       `json:"decision_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ScheduledFor   *time.Time   `json:"scheduled_for,omitempty"`
	ExecutedAt     *time.Time   `json:"executed_at,omitempty"`
	ExecutionPrice *float64     `json:"execution_price,omitempty"`
	ExecutionRef   string       `json:"execution_ref,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

// QueueEvent is one line of a queued order's own history.
type QueueEvent struct {
	ID        int64       `json:"id"`
	QueueID   int64       `json:"queue_id"`
	Event     QueueStatus `json:"event"`
	Details   string      `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// QueueFilter narrows queue listings for the status surface.
type QueueFilter struct {
	Status    QueueStatus
	Portfolio PortfolioTag
	// AfterID pages by id; zero starts at the oldest order.
	AfterID int64
	Limit   int
}

// QueueUpdate carries the fields written alongside a status transition.
type QueueUpdate struct {
	ExecutedAt     *time.Time
	ExecutionPrice *float64
	ExecutionRef   string
	ErrorMessage   string
}
