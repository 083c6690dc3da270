// Package execution is the order-execution collaborator: one call, one fill.
package execution

import (
	"context"
	"errors"

	"phinance/internal/types"
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrNoExecutionPrice     = errors.New("no execution price")
)

// Request is one order handed to an Executor.
type Request struct {
	Portfolio  types.PortfolioTag
	QueueID    *int64
	Symbol     string
	Action     types.Action
	Quantity   float64
	LimitPrice *float64
}

// Result is what the venue reported back. RealizedPnL is set when the fill
// closed (part of) a position; ValueBefore is the book's total value just
// before the fill.
type Result struct {
	Fill        types.Fill
	ValueBefore float64
}

func (r Result) Price() float64 { return r.Fill.Price }
func (r Result) Ref() string    { return r.Fill.Ref }

// Executor places orders. Implementations must honour ctx.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
