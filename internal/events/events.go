// Package events broadcasts lifecycle events to websocket subscribers.
// Dashboards and operator tooling subscribe to one feed; slow consumers
// are dropped rather than allowed to stall trading.
package events

import (
	"time"

	"tradedesk/internal/domain"
)

// Event is one envelope on the feed.
type Event struct {
	Type    string      `json:"type"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

const (
	TypeTradePending   = "trade_pending"
	TypeTradeExecuted  = "trade_executed"
	TypeTradeFailed    = "trade_failed"
	TypeCircuitBreaker = "circuit_breaker"
)

// TradePending announces a proposal waiting for manual review.
type TradePending struct {
	ProposalID      int64   `json:"proposalId"`
	Instrument      string  `json:"instrument"`
	Action          string  `json:"action"`
	Book            string  `json:"book"`
	Confidence      float64 `json:"confidence"`
	WashSaleFlagged bool    `json:"washSaleFlagged"`
}

// TradeExecuted announces a completed fill.
type TradeExecuted struct {
	ProposalID  int64   `json:"proposalId"`
	Instrument  string  `json:"instrument"`
	Book        string  `json:"book"`
	Side        string  `json:"side"`
	Qty         float64 `json:"qty"`
	FilledPrice float64 `json:"filledPrice"`
	Slippage    float64 `json:"slippage"`
	OrderID     string  `json:"orderId"`
}

// TradeFailed announces an execution that did not complete.
type TradeFailed struct {
	ProposalID int64  `json:"proposalId"`
	Instrument string `json:"instrument"`
	Action     string `json:"action"`
	OrderID    string `json:"orderId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CircuitBreaker announces a trip.
type CircuitBreaker struct {
	Scope     string  `json:"scope"`
	EventType string  `json:"eventType"`
	Reason    string  `json:"reason"`
	PnLToday  float64 `json:"pnlToday"`
	Limit     float64 `json:"limit"`
}

// NewEvent wraps a payload in an envelope stamped now.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, At: time.Now().UTC(), Payload: payload}
}

// PendingFrom builds the trade_pending payload for a proposal.
func PendingFrom(p domain.Proposal) TradePending {
	return TradePending{
		ProposalID:      p.ID,
		Instrument:      p.Ticker,
		Action:          string(p.Direction),
		Book:            string(p.Book),
		Confidence:      p.Confidence,
		WashSaleFlagged: p.WashSaleFlagged,
	}
}
