package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/logger"
)

type positionStore interface {
	OpenPosition(ctx context.Context, ticker string, book domain.Book) (*domain.Position, error)
	SavePosition(ctx context.Context, p *domain.Position) error
	CountOpenPositions(ctx context.Context, book domain.Book) (int, error)
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)
}

// PositionLedger applies fills to the authoritative position records.
// A per-(ticker, book) mutex serializes fills on the same key so two
// concurrent executions cannot both read the same snapshot.
type PositionLedger struct {
	store positionStore
	wash  *WashSaleLedger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPositionLedger builds a ledger over the given store. The wash-sale
// ledger handles the rebuy and loss-sale bookkeeping that fills trigger.
func NewPositionLedger(store positionStore, wash *WashSaleLedger) *PositionLedger {
	return &PositionLedger{
		store: store,
		wash:  wash,
		locks: map[string]*sync.Mutex{},
	}
}

func (l *PositionLedger) keyLock(ticker string, book domain.Book) *sync.Mutex {
	key := ticker + "|" + string(book)
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[key] = lk
	}
	return lk
}

// FillResult summarizes the ledger effect of one fill.
type FillResult struct {
	Position    *domain.Position
	RealizedPnL float64          // sells only, signed
	WashSale    *domain.WashSale // set when a loss sale spawned a record
	Closed      bool
}

// ApplyBuy folds a buy fill into the open position for (ticker, book),
// creating one if flat. A rebuy inside an active wash-sale window consumes
// the window and folds the disallowed loss into the adjusted cost basis.
func (l *PositionLedger) ApplyBuy(ctx context.Context, ticker string, book domain.Book, qty, price float64, at time.Time) (*FillResult, error) {
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("buy fill for %s requires positive qty and price", ticker)
	}
	lk := l.keyLock(ticker, book)
	lk.Lock()
	defer lk.Unlock()

	pos, err := l.store.OpenPosition(ctx, ticker, book)
	if err != nil {
		return nil, err
	}
	fillCost := decToFloat(decFromFloat(qty).Mul(decFromFloat(price)))
	if pos == nil {
		pos = &domain.Position{
			Ticker:     ticker,
			Book:       book,
			EntryPrice: price,
			EntryDate:  at,
			Qty:        qty,
			CostBasis:  fillCost,
			IsOpen:     true,
		}
	} else {
		pos.EntryPrice = weightedAvgPrice(pos.Qty, pos.EntryPrice, qty, price)
		pos.Qty = decToFloat(decFromFloat(pos.Qty).Add(decFromFloat(qty)))
		pos.CostBasis = decToFloat(decFromFloat(pos.CostBasis).Add(decFromFloat(fillCost)))
	}

	disallowed, err := l.wash.ConsumeRebuy(ctx, ticker, at)
	if err != nil {
		return nil, err
	}
	if disallowed > 0 {
		adjusted := decToFloat(decFromFloat(pos.CostBasis).Add(decFromFloat(disallowed)))
		pos.AdjustedCostBasis = &adjusted
	}

	if err := l.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}
	logger.Infof("buy applied: %s/%s qty=%.4f avg=%.4f basis=%.2f", ticker, book, pos.Qty, pos.EntryPrice, pos.CostBasis)
	return &FillResult{Position: pos}, nil
}

// ApplySell reduces the open position for (ticker, book) by qty shares at
// price. A remainder below the close epsilon closes the position. A net
// loss on the sold shares spawns a wash-sale record.
func (l *PositionLedger) ApplySell(ctx context.Context, ticker string, book domain.Book, qty, price float64, at time.Time) (*FillResult, error) {
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("sell fill for %s requires positive qty and price", ticker)
	}
	lk := l.keyLock(ticker, book)
	lk.Lock()
	defer lk.Unlock()

	pos, err := l.store.OpenPosition(ctx, ticker, book)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("sell fill for %s/%s with no open position", ticker, book)
	}
	if decimalLT(pos.Qty, qty) {
		return nil, fmt.Errorf("sell fill for %s/%s of %.4f exceeds open qty %.4f", ticker, book, qty, pos.Qty)
	}

	basisPS := l.basisPerShare(pos)
	realized := realizedPnL(qty, price, basisPS)
	soldBasis := decToFloat(decFromFloat(qty).Mul(decFromFloat(basisPS)))

	pos.Qty = decToFloat(decFromFloat(pos.Qty).Sub(decFromFloat(qty)))
	pos.CostBasis = decToFloat(decFromFloat(pos.CostBasis).Sub(decFromFloat(soldBasis)))
	if pos.AdjustedCostBasis != nil {
		adj := decToFloat(decFromFloat(*pos.AdjustedCostBasis).Sub(decFromFloat(soldBasis)))
		pos.AdjustedCostBasis = &adj
	}
	total := realized
	if pos.RealizedPnL != nil {
		total = decToFloat(decFromFloat(*pos.RealizedPnL).Add(decFromFloat(realized)))
	}
	pos.RealizedPnL = &total

	res := &FillResult{Position: pos, RealizedPnL: realized}
	if isFullClose(pos.Qty) {
		pos.Qty = 0
		pos.CostBasis = 0
		pos.IsOpen = false
		closed := at
		pos.ClosedAt = &closed
		res.Closed = true
	}
	if err := l.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	if realized < 0 {
		ws, err := l.wash.RecordLossSale(ctx, ticker, at, math.Abs(realized), qty, price, basisPS)
		if err != nil {
			// The fill is already booked; a missing wash record degrades
			// the rebuy check, it must not fail the sell.
			logger.Errorf("wash sale record failed for %s: %v", ticker, err)
		} else {
			res.WashSale = ws
		}
	}
	logger.Infof("sell applied: %s/%s qty=%.4f pnl=%.2f closed=%v", ticker, book, qty, realized, res.Closed)
	return res, nil
}

// basisPerShare prefers the wash-sale adjusted basis when one exists.
func (l *PositionLedger) basisPerShare(pos *domain.Position) float64 {
	if pos.Qty <= 0 {
		return 0
	}
	basis := pos.CostBasis
	if pos.AdjustedCostBasis != nil {
		basis = *pos.AdjustedCostBasis
	}
	return decToFloat(decFromFloat(basis).Div(decFromFloat(pos.Qty)))
}

// OpenQty returns the open share count for (ticker, book), 0 when flat.
func (l *PositionLedger) OpenQty(ctx context.Context, ticker string, book domain.Book) (float64, error) {
	pos, err := l.store.OpenPosition(ctx, ticker, book)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.Qty, nil
}

// OpenCount returns the number of open positions in a book.
func (l *PositionLedger) OpenCount(ctx context.Context, book domain.Book) (int, error) {
	return l.store.CountOpenPositions(ctx, book)
}

// Open lists every open position across both books.
func (l *PositionLedger) Open(ctx context.Context) ([]domain.Position, error) {
	return l.store.ListOpenPositions(ctx)
}
