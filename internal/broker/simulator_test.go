package broker

import (
	"context"
	"testing"

	"tradedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorFillsAfterPolls(t *testing.T) {
	sim := NewSimulator()
	sim.FillAfterPolls = 2
	sim.SetQuote("AAPL", 99, 101)
	ctx := context.Background()

	id, err := sim.SubmitMarketOrder(ctx, "AAPL", domain.Buy, 3)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		st, err := sim.GetOrderState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OrderOpen, st.Status)
	}
	st, err := sim.GetOrderState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, st.Status)
	assert.Equal(t, 3.0, st.FilledQty)
	assert.Equal(t, 101.0, st.FilledAvgPrice)

	positions, err := sim.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 3.0, positions[0].Qty)
}

func TestSimulatorSellUsesBidAndSlippage(t *testing.T) {
	sim := NewSimulator()
	sim.SlippagePct = 1
	sim.SetQuote("XYZ", 100, 102)
	ctx := context.Background()

	id, err := sim.SubmitMarketOrder(ctx, "XYZ", domain.Sell, 2)
	require.NoError(t, err)
	st, err := sim.GetOrderState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, st.Status)
	assert.InDelta(t, 99.0, st.FilledAvgPrice, 1e-9)
}

func TestSimulatorCancelOpenOrder(t *testing.T) {
	sim := NewSimulator()
	sim.FillAfterPolls = 100
	sim.SetQuote("AAPL", 99, 101)
	ctx := context.Background()

	id, err := sim.SubmitMarketOrder(ctx, "AAPL", domain.Buy, 1)
	require.NoError(t, err)
	require.NoError(t, sim.CancelOrder(ctx, id))

	st, err := sim.GetOrderState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, st.Status)
	assert.Zero(t, st.FilledQty)

	// Cancelling again leaves the terminal state alone.
	require.NoError(t, sim.CancelOrder(ctx, id))
}

func TestSimulatorRejectsUnknownTicker(t *testing.T) {
	sim := NewSimulator()
	_, err := sim.SubmitMarketOrder(context.Background(), "NOPE", domain.Buy, 1)
	require.Error(t, err)
}

func TestQuoteMid(t *testing.T) {
	assert.Equal(t, 100.0, Quote{Bid: 99, Ask: 101}.Mid())
	assert.Equal(t, 101.0, Quote{Ask: 101}.Mid())
	assert.Equal(t, 99.0, Quote{Bid: 99}.Mid())
}
