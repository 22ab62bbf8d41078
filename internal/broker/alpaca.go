package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"tradedesk/internal/domain"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker routes orders through the Alpaca trading API and serves
// quotes from the Alpaca market data API.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

// AlpacaOpts configures the Alpaca client pair. Empty URLs fall back to
// the SDK defaults.
type AlpacaOpts struct {
	APIKey    string
	APISecret string
	BaseURL   string
	DataURL   string
}

// NewAlpacaBroker builds trading and market data clients from one set of
// credentials.
func NewAlpacaBroker(opts AlpacaOpts) *AlpacaBroker {
	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.DataURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// GetQuote fetches the latest quote for ticker.
func (b *AlpacaBroker) GetQuote(_ context.Context, ticker string) (Quote, error) {
	q, err := b.data.GetLatestQuote(ticker, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return Quote{}, fmt.Errorf("alpaca latest quote %s: %w", ticker, err)
	}
	return Quote{Bid: q.BidPrice, Ask: q.AskPrice}, nil
}

// SubmitMarketOrder places a day market order and returns the broker
// order ID.
func (b *AlpacaBroker) SubmitMarketOrder(_ context.Context, ticker string, side domain.Direction, qty float64) (string, error) {
	q := decimal.NewFromFloat(qty)
	alpacaSide := alpaca.Buy
	if side == domain.Sell {
		alpacaSide = alpaca.Sell
	}
	order, err := b.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      ticker,
		Qty:         &q,
		Side:        alpacaSide,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return "", fmt.Errorf("alpaca place order %s %s: %w", side, ticker, err)
	}
	return order.ID, nil
}

// GetOrderState polls one order's current state.
func (b *AlpacaBroker) GetOrderState(_ context.Context, orderID string) (OrderState, error) {
	order, err := b.trading.GetOrder(orderID)
	if err != nil {
		return OrderState{}, fmt.Errorf("alpaca get order %s: %w", orderID, err)
	}
	state := OrderState{
		OrderID:   order.ID,
		Status:    mapAlpacaStatus(order.Status),
		FilledQty: order.FilledQty.InexactFloat64(),
	}
	if order.FilledAvgPrice != nil {
		state.FilledAvgPrice = order.FilledAvgPrice.InexactFloat64()
	}
	if raw, err := json.Marshal(order); err == nil {
		state.Raw = raw
	}
	return state, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.trading.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel order %s: %w", orderID, err)
	}
	return nil
}

// ListPositions returns the account's open positions.
func (b *AlpacaBroker) ListPositions(_ context.Context) ([]Position, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca list positions: %w", err)
	}
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, Position{
			Ticker:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

func mapAlpacaStatus(status string) OrderStatus {
	switch status {
	case "filled":
		return OrderFilled
	case "canceled", "expired", "done_for_day":
		return OrderCancelled
	case "rejected":
		return OrderRejected
	default:
		// new, accepted, partially_filled, pending_* all count as open.
		return OrderOpen
	}
}
