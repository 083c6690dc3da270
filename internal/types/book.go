package types

import "time"

// Holding is one open long position of a simulated book.
type Holding struct {
	Portfolio PortfolioTag `json:"portfolio"`
	Symbol    string       `json:"symbol"`
	Quantity  float64      `json:"quantity"`
	AvgCost   float64      `json:"avg_cost"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Fill records an executed order against a book.
// RealizedPnL is set for SELL fills only.
type Fill struct {
	ID          int64        `json:"id"`
	Portfolio   PortfolioTag `json:"portfolio"`
	QueueID     *int64       `json:"queue_id,omitempty"`
	Symbol      string       `json:"symbol"`
	Action      Action       `json:"action"`
	Quantity    float64      `json:"quantity"`
	Price       float64      `json:"price"`
	RealizedPnL *float64     `json:"realized_pnl,omitempty"`
	Ref         string       `json:"ref"`
	ExecutedAt  time.Time    `json:"executed_at"`
}

// Closed reports whether the fill closed (part of) a position.
func (f Fill) Closed() bool { return f.RealizedPnL != nil }

// Book is cash plus holdings of one portfolio.
type Book struct {
	Portfolio PortfolioTag `json:"portfolio"`
	Cash      float64      `json:"cash"`
	Holdings  []Holding    `json:"holdings"`
}

// Holding returns the position for symbol, if any.
func (b Book) Holding(symbol string) (Holding, bool) {
	for _, h := range b.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}
