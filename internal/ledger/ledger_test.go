package ledger

import (
	"context"
	"testing"
	"time"

	"tradedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory stand-in for the gorm store.
type fakeStore struct {
	positions []*domain.Position
	washes    []*domain.WashSale
	nextID    int64
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) OpenPosition(_ context.Context, ticker string, book domain.Book) (*domain.Position, error) {
	for _, p := range f.positions {
		if p.Ticker == ticker && p.Book == book && p.IsOpen {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SavePosition(_ context.Context, p *domain.Position) error {
	if p.ID == 0 {
		p.ID = f.id()
		cp := *p
		f.positions = append(f.positions, &cp)
		return nil
	}
	for i, existing := range f.positions {
		if existing.ID == p.ID {
			cp := *p
			f.positions[i] = &cp
			return nil
		}
	}
	cp := *p
	f.positions = append(f.positions, &cp)
	return nil
}

func (f *fakeStore) CountOpenPositions(_ context.Context, book domain.Book) (int, error) {
	n := 0
	for _, p := range f.positions {
		if p.Book == book && p.IsOpen {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListOpenPositions(_ context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.positions {
		if p.IsOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateWashSale(_ context.Context, w *domain.WashSale) error {
	w.ID = f.id()
	cp := *w
	f.washes = append(f.washes, &cp)
	return nil
}

func (f *fakeStore) ActiveWashSales(_ context.Context, ticker string, asOf time.Time) ([]domain.WashSale, error) {
	var out []domain.WashSale
	for _, w := range f.washes {
		if w.Ticker == ticker && !w.Rebought && !w.BlackoutUntil.Before(asOf) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkWashSaleRebought(_ context.Context, id int64, at time.Time) error {
	for _, w := range f.washes {
		if w.ID == id {
			w.Rebought = true
			t := at
			w.ReboughtAt = &t
		}
	}
	return nil
}

func newLedgers() (*PositionLedger, *WashSaleLedger, *fakeStore) {
	store := &fakeStore{}
	wash := NewWashSaleLedger(store)
	return NewPositionLedger(store, wash), wash, store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestApplyBuyOpensAndAverages(t *testing.T) {
	pl, _, _ := newLedgers()
	ctx := context.Background()

	res, err := pl.ApplyBuy(ctx, "AAPL", domain.BookMain, 10, 100, date(2025, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Position.EntryPrice)
	assert.Equal(t, 1000.0, res.Position.CostBasis)

	// 10 @ 100 then 10 @ 110 blends to 105.
	res, err = pl.ApplyBuy(ctx, "AAPL", domain.BookMain, 10, 110, date(2025, 6, 2))
	require.NoError(t, err)
	assert.InDelta(t, 105.0, res.Position.EntryPrice, 1e-9)
	assert.Equal(t, 20.0, res.Position.Qty)
	assert.InDelta(t, 2100.0, res.Position.CostBasis, 1e-9)
}

func TestApplySellFullCloseRealizesPnL(t *testing.T) {
	pl, _, store := newLedgers()
	ctx := context.Background()

	_, err := pl.ApplyBuy(ctx, "MSFT", domain.BookMain, 5, 200, date(2025, 6, 1))
	require.NoError(t, err)

	res, err := pl.ApplySell(ctx, "MSFT", domain.BookMain, 5, 220, date(2025, 7, 1))
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.InDelta(t, 100.0, res.RealizedPnL, 1e-9)
	assert.Nil(t, res.WashSale)
	assert.False(t, res.Position.IsOpen)
	require.NotNil(t, res.Position.RealizedPnL)
	assert.InDelta(t, 100.0, *res.Position.RealizedPnL, 1e-9)
	assert.Empty(t, store.washes)
}

func TestApplySellAtLossSpawnsWashSale(t *testing.T) {
	pl, _, _ := newLedgers()
	ctx := context.Background()

	_, err := pl.ApplyBuy(ctx, "XYZ", domain.BookPenny, 4, 2.0, date(2025, 12, 1))
	require.NoError(t, err)

	res, err := pl.ApplySell(ctx, "XYZ", domain.BookPenny, 4, 1.5, date(2025, 12, 10))
	require.NoError(t, err)
	assert.InDelta(t, -2.0, res.RealizedPnL, 1e-9)
	require.NotNil(t, res.WashSale)
	assert.InDelta(t, 2.0, res.WashSale.LossAmount, 1e-9)
	// Dec 10 sale blacks out through Jan 9 and hard-blocks for year end.
	assert.Equal(t, date(2026, 1, 9), res.WashSale.BlackoutUntil)
	assert.True(t, res.WashSale.YearEndBlocked)
}

func TestWashCheckDistinguishesHardAndSoft(t *testing.T) {
	_, wl, _ := newLedgers()
	ctx := context.Background()

	_, err := wl.RecordLossSale(ctx, "SOFT", date(2025, 6, 10), 5, 10, 1, 1.5)
	require.NoError(t, err)
	_, err = wl.RecordLossSale(ctx, "HARD", date(2025, 12, 10), 5, 10, 1, 1.5)
	require.NoError(t, err)

	st, err := wl.Check(ctx, "SOFT", date(2025, 6, 20))
	require.NoError(t, err)
	assert.False(t, st.HardBlocked)
	assert.True(t, st.Flagged)

	st, err = wl.Check(ctx, "HARD", date(2025, 12, 20))
	require.NoError(t, err)
	assert.True(t, st.HardBlocked)

	// Window elapses.
	st, err = wl.Check(ctx, "SOFT", date(2025, 7, 11))
	require.NoError(t, err)
	assert.False(t, st.HardBlocked)
	assert.False(t, st.Flagged)
}

func TestRebuyInsideWindowAdjustsBasis(t *testing.T) {
	pl, _, store := newLedgers()
	ctx := context.Background()

	_, err := pl.ApplyBuy(ctx, "TIK", domain.BookMain, 10, 10, date(2025, 6, 1))
	require.NoError(t, err)
	res, err := pl.ApplySell(ctx, "TIK", domain.BookMain, 10, 8, date(2025, 6, 5))
	require.NoError(t, err)
	assert.InDelta(t, -20.0, res.RealizedPnL, 1e-9)

	// Rebuy inside the window consumes it and folds the loss back in.
	res, err = pl.ApplyBuy(ctx, "TIK", domain.BookMain, 10, 9, date(2025, 6, 15))
	require.NoError(t, err)
	require.NotNil(t, res.Position.AdjustedCostBasis)
	assert.InDelta(t, 110.0, *res.Position.AdjustedCostBasis, 1e-9)
	assert.True(t, store.washes[0].Rebought)
}

func TestRebuyConsumesOnlyNewestWindow(t *testing.T) {
	_, wl, store := newLedgers()
	ctx := context.Background()

	_, err := wl.RecordLossSale(ctx, "TIK", date(2025, 6, 1), 20, 10, 8, 10)
	require.NoError(t, err)
	_, err = wl.RecordLossSale(ctx, "TIK", date(2025, 6, 10), 5, 5, 9, 10)
	require.NoError(t, err)

	disallowed, err := wl.ConsumeRebuy(ctx, "TIK", date(2025, 6, 15))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, disallowed, 1e-9)
	assert.True(t, store.washes[1].Rebought)
	assert.False(t, store.washes[0].Rebought)

	// A second rebuy consumes the remaining window.
	disallowed, err = wl.ConsumeRebuy(ctx, "TIK", date(2025, 6, 20))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, disallowed, 1e-9)
	assert.True(t, store.washes[0].Rebought)
}

func TestSellWithoutPositionFails(t *testing.T) {
	pl, _, _ := newLedgers()
	_, err := pl.ApplySell(context.Background(), "NONE", domain.BookMain, 1, 10, date(2025, 6, 1))
	require.Error(t, err)
}

func TestSellExceedingQtyFails(t *testing.T) {
	pl, _, _ := newLedgers()
	ctx := context.Background()
	_, err := pl.ApplyBuy(ctx, "AAA", domain.BookMain, 2, 10, date(2025, 6, 1))
	require.NoError(t, err)
	_, err = pl.ApplySell(ctx, "AAA", domain.BookMain, 3, 10, date(2025, 6, 2))
	require.Error(t, err)
}

func TestWeightedAvgPriceProperty(t *testing.T) {
	cases := []struct {
		oldQty, oldPrice, newQty, newPrice, want float64
	}{
		{10, 100, 10, 110, 105},
		{1, 1, 3, 2, 1.75},
		{0, 0, 5, 3, 3},
	}
	for _, c := range cases {
		got := weightedAvgPrice(c.oldQty, c.oldPrice, c.newQty, c.newPrice)
		assert.InDelta(t, c.want, got, 1e-9)
	}
}
