// Package ledger owns the position and wash-sale bookkeeping. All state
// lives in the store; this package adds the arithmetic and the per-key
// locking that keeps concurrent fills consistent.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/logger"
)

// blackoutDays is the IRS rebuy window after a loss sale.
const blackoutDays = 30

type washStore interface {
	CreateWashSale(ctx context.Context, w *domain.WashSale) error
	ActiveWashSales(ctx context.Context, ticker string, asOf time.Time) ([]domain.WashSale, error)
	MarkWashSaleRebought(ctx context.Context, id int64, at time.Time) error
}

// WashSaleLedger tracks loss sales and their rebuy blackout windows.
type WashSaleLedger struct {
	store washStore
	now   func() time.Time
}

// NewWashSaleLedger builds a ledger over the given store.
func NewWashSaleLedger(store washStore) *WashSaleLedger {
	return &WashSaleLedger{store: store, now: time.Now}
}

// WashStatus is the result of checking a ticker against the ledger.
type WashStatus struct {
	// HardBlocked means a December loss sale is still inside its window;
	// the rebuy would void a tax-year loss and must not happen.
	HardBlocked bool
	// Flagged means a non-December loss sale is inside its window; the
	// rebuy is allowed but surfaced for review.
	Flagged bool
	// BlackoutUntil is the latest active window end, zero when clear.
	BlackoutUntil time.Time
}

// RecordLossSale creates a wash-sale record for a loss-producing sell.
// lossAmount is the magnitude of the loss (positive).
func (l *WashSaleLedger) RecordLossSale(ctx context.Context, ticker string, saleDate time.Time, lossAmount, qtySold, salePrice, costBasisPS float64) (*domain.WashSale, error) {
	if lossAmount <= 0 {
		return nil, fmt.Errorf("wash sale for %s requires a positive loss amount, got %f", ticker, lossAmount)
	}
	w := &domain.WashSale{
		Ticker:         ticker,
		SaleDate:       saleDate,
		LossAmount:     lossAmount,
		QtySold:        qtySold,
		SalePrice:      salePrice,
		CostBasisPS:    costBasisPS,
		BlackoutUntil:  saleDate.AddDate(0, 0, blackoutDays),
		YearEndBlocked: saleDate.Month() == time.December,
	}
	if err := l.store.CreateWashSale(ctx, w); err != nil {
		return nil, err
	}
	logger.Infof("wash sale recorded: %s loss=%.2f blackout_until=%s year_end=%v",
		ticker, lossAmount, w.BlackoutUntil.Format("2006-01-02"), w.YearEndBlocked)
	return w, nil
}

// Check evaluates whether a buy of ticker at asOf falls inside any active
// blackout window.
func (l *WashSaleLedger) Check(ctx context.Context, ticker string, asOf time.Time) (WashStatus, error) {
	records, err := l.store.ActiveWashSales(ctx, ticker, asOf)
	if err != nil {
		return WashStatus{}, err
	}
	var st WashStatus
	for _, w := range records {
		if w.YearEndBlocked {
			st.HardBlocked = true
		} else {
			st.Flagged = true
		}
		if w.BlackoutUntil.After(st.BlackoutUntil) {
			st.BlackoutUntil = w.BlackoutUntil
		}
	}
	return st, nil
}

// ConsumeRebuy marks the most recent active wash-sale record for ticker
// as rebought and returns its disallowed loss to fold into the new
// position's cost basis. Older windows stay active; each rebuy consumes
// one. Returns 0 when no window was active.
func (l *WashSaleLedger) ConsumeRebuy(ctx context.Context, ticker string, at time.Time) (float64, error) {
	records, err := l.store.ActiveWashSales(ctx, ticker, at)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	newest := records[0]
	for _, w := range records[1:] {
		if w.SaleDate.After(newest.SaleDate) || (w.SaleDate.Equal(newest.SaleDate) && w.ID > newest.ID) {
			newest = w
		}
	}
	if err := l.store.MarkWashSaleRebought(ctx, newest.ID, at); err != nil {
		return 0, err
	}
	logger.Warnf("wash sale triggered: %s rebuy inside window (loss %.2f disallowed)", ticker, newest.LossAmount)
	return math.Abs(newest.LossAmount), nil
}
