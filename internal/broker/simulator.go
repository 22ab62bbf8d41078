package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tradedesk/internal/domain"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Simulator is an in-memory broker for paper runs and tests. Orders fill
// after a configurable number of polls at the quoted price plus slippage.
type Simulator struct {
	mu        sync.Mutex
	quotes    map[string]Quote
	orders    map[string]*simOrder
	positions map[string]float64

	// FillAfterPolls is how many GetOrderState calls an order stays open
	// before filling. Zero fills on the first poll.
	FillAfterPolls int
	// SlippagePct shifts the fill price against the order side.
	SlippagePct float64
	// RejectAll makes every submit fail, for error-path tests.
	RejectAll bool
}

type simOrder struct {
	ticker string
	side   domain.Direction
	qty    float64
	price  float64
	status OrderStatus
	polls  int
}

// NewSimulator builds a simulator with no quotes. Seed prices with SetQuote.
func NewSimulator() *Simulator {
	return &Simulator{
		quotes:    map[string]Quote{},
		orders:    map[string]*simOrder{},
		positions: map[string]float64{},
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// SetQuote seeds or replaces the quote for ticker.
func (s *Simulator) SetQuote(ticker string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ticker] = Quote{Bid: bid, Ask: ask}
}

// GetQuote returns the seeded quote for ticker.
func (s *Simulator) GetQuote(_ context.Context, ticker string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("simulator has no quote for %s", ticker)
	}
	return q, nil
}

// SubmitMarketOrder opens a simulated order at the current quote.
func (s *Simulator) SubmitMarketOrder(_ context.Context, ticker string, side domain.Direction, qty float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectAll {
		return "", fmt.Errorf("simulator rejecting all orders")
	}
	q, ok := s.quotes[ticker]
	if !ok {
		return "", fmt.Errorf("simulator has no quote for %s", ticker)
	}
	price := q.Ask
	slip := 1 + s.SlippagePct/100
	if side == domain.Sell {
		price = q.Bid
		slip = 1 - s.SlippagePct/100
	}
	id := uuid.NewString()
	s.orders[id] = &simOrder{
		ticker: ticker,
		side:   side,
		qty:    qty,
		price:  price * slip,
		status: OrderOpen,
	}
	return id, nil
}

// GetOrderState advances and returns the order's simulated state.
func (s *Simulator) GetOrderState(_ context.Context, orderID string) (OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("simulator order %s not found", orderID)
	}
	if o.status == OrderOpen {
		o.polls++
		if o.polls > s.FillAfterPolls {
			o.status = OrderFilled
			delta := o.qty
			if o.side == domain.Sell {
				delta = -o.qty
			}
			s.positions[o.ticker] += delta
		}
	}
	state := OrderState{OrderID: orderID, Status: o.status}
	if o.status == OrderFilled {
		state.FilledQty = o.qty
		state.FilledAvgPrice = o.price
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"id":     orderID,
		"ticker": o.ticker,
		"side":   o.side,
		"status": o.status,
		"ts":     time.Now().UTC(),
	})
	state.Raw = raw
	return state, nil
}

// CancelOrder cancels an open order. Terminal orders are left untouched.
func (s *Simulator) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("simulator order %s not found", orderID)
	}
	if o.status == OrderOpen {
		o.status = OrderCancelled
	}
	return nil
}

// ListPositions returns the simulated holdings with nonzero quantity.
func (s *Simulator) ListPositions(_ context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Position
	for ticker, qty := range s.positions {
		if qty != 0 {
			out = append(out, Position{Ticker: ticker, Qty: qty})
		}
	}
	return out, nil
}
