// Package broker abstracts order routing and market data behind one
// interface with an Alpaca implementation and a deterministic simulator.
package broker

import (
	"context"
	"encoding/json"

	"tradedesk/internal/domain"
)

// Quote is the current top of book for one ticker.
type Quote struct {
	Bid float64
	Ask float64
}

// Mid returns the quote midpoint, falling back to whichever side is set.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

// OrderStatus is the broker-side lifecycle of a submitted order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderState is a snapshot of one order at the broker.
type OrderState struct {
	OrderID        string
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	Raw            json.RawMessage
}

// Position is a holding as the broker reports it. The internal ledger is
// authoritative; broker positions serve as a reconciliation fallback.
type Position struct {
	Ticker        string
	Qty           float64
	AvgEntryPrice float64
}

// Broker routes orders and serves quotes for one brokerage account.
type Broker interface {
	Name() string
	GetQuote(ctx context.Context, ticker string) (Quote, error)
	SubmitMarketOrder(ctx context.Context, ticker string, side domain.Direction, qty float64) (string, error)
	GetOrderState(ctx context.Context, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListPositions(ctx context.Context) ([]Position, error)
}
