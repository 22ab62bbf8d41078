package execution

import (
	"context"
	"testing"
	"time"

	"tradedesk/internal/broker"
	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
	"tradedesk/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore backs the engine, ledger, and breaker in one in-memory map.
type memStore struct {
	proposals  map[int64]*domain.Proposal
	executions []*domain.Execution
	positions  []*domain.Position
	washes     []*domain.WashSale
	breakers   []*domain.BreakerEvent
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{proposals: map[int64]*domain.Proposal{}}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) CreateExecution(_ context.Context, e *domain.Execution) error {
	e.ID = m.id()
	cp := *e
	m.executions = append(m.executions, &cp)
	return nil
}

func (m *memStore) UpdateExecution(_ context.Context, e *domain.Execution) error {
	for i, ex := range m.executions {
		if ex.ID == e.ID {
			cp := *e
			m.executions[i] = &cp
		}
	}
	return nil
}

func (m *memStore) ListPendingExecutions(_ context.Context) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range m.executions {
		if e.Status == domain.ExecPending {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) GetProposal(_ context.Context, id int64) (*domain.Proposal, error) {
	p, ok := m.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FinalizeProposal(_ context.Context, id int64, status domain.ProposalStatus, reason string) error {
	if p, ok := m.proposals[id]; ok {
		p.Status = status
		p.Reason = reason
	}
	return nil
}

func (m *memStore) OpenPosition(_ context.Context, ticker string, book domain.Book) (*domain.Position, error) {
	for _, p := range m.positions {
		if p.Ticker == ticker && p.Book == book && p.IsOpen {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SavePosition(_ context.Context, p *domain.Position) error {
	if p.ID == 0 {
		p.ID = m.id()
		cp := *p
		m.positions = append(m.positions, &cp)
		return nil
	}
	for i, existing := range m.positions {
		if existing.ID == p.ID {
			cp := *p
			m.positions[i] = &cp
		}
	}
	return nil
}

func (m *memStore) CountOpenPositions(_ context.Context, book domain.Book) (int, error) {
	n := 0
	for _, p := range m.positions {
		if p.Book == book && p.IsOpen {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListOpenPositions(_ context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range m.positions {
		if p.IsOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CreateWashSale(_ context.Context, w *domain.WashSale) error {
	w.ID = m.id()
	cp := *w
	m.washes = append(m.washes, &cp)
	return nil
}

func (m *memStore) ActiveWashSales(_ context.Context, ticker string, asOf time.Time) ([]domain.WashSale, error) {
	var out []domain.WashSale
	for _, w := range m.washes {
		if w.Ticker == ticker && !w.Rebought && !w.BlackoutUntil.Before(asOf) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memStore) MarkWashSaleRebought(_ context.Context, id int64, at time.Time) error {
	for _, w := range m.washes {
		if w.ID == id {
			w.Rebought = true
			t := at
			w.ReboughtAt = &t
		}
	}
	return nil
}

func (m *memStore) CreateBreakerEvent(_ context.Context, b *domain.BreakerEvent) error {
	b.ID = m.id()
	cp := *b
	m.breakers = append(m.breakers, &cp)
	return nil
}

func (m *memStore) ActiveBreakerExists(_ context.Context, book domain.Book) (bool, error) {
	for _, b := range m.breakers {
		if b.IsActive && (b.Scope == nil || *b.Scope == book) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListBreakerEvents(_ context.Context, activeOnly bool) ([]domain.BreakerEvent, error) {
	var out []domain.BreakerEvent
	for _, b := range m.breakers {
		if !activeOnly || b.IsActive {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ResolveBreakerEvent(_ context.Context, id int64, by string, at time.Time) error {
	for _, b := range m.breakers {
		if b.ID == id && b.IsActive {
			b.IsActive = false
			b.ResolvedBy = by
			t := at
			b.ResolvedAt = &t
		}
	}
	return nil
}

func (m *memStore) RealizedPnLBetween(_ context.Context, book domain.Book, from, to time.Time) (float64, error) {
	var total float64
	for _, p := range m.positions {
		if p.Book == book && !p.IsOpen && p.RealizedPnL != nil && p.ClosedAt != nil &&
			!p.ClosedAt.Before(from) && p.ClosedAt.Before(to) {
			total += *p.RealizedPnL
		}
	}
	return total, nil
}

func (m *memStore) RecentClosedPositionsInBook(_ context.Context, book domain.Book, limit int) ([]domain.Position, error) {
	var out []domain.Position
	for i := len(m.positions) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.positions[i]
		if p.Book == book && !p.IsOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) addProposal(p domain.Proposal) domain.Proposal {
	p.ID = m.id()
	cp := p
	m.proposals[p.ID] = &cp
	return p
}

func testConfig() *config.Config {
	return &config.Config{
		Books: config.BooksConfig{
			Main: config.BookConfig{
				Allocation: 75, MaxPositionPct: 30, MinConfidence: 0.65,
				AutoApproveConf: 0.70, DailyLossLimitPct: 5, MaxPositions: 8,
			},
			Penny: config.BookConfig{
				Allocation: 25, MaxPositionPct: 100, MaxPositionUSD: 8,
				MinConfidence: 0.60, AutoApproveConf: 0.60, DailyLossLimitPct: 15, MaxPositions: 5,
			},
		},
		Risk:      config.RiskConfig{AutoApprove: true, ManualReviewSizePct: 30, ConsecutiveLossMax: 3},
		Execution: config.ExecutionConfig{PollIntervalSeconds: 1, PollTimeoutSeconds: 1},
	}
}

func newTestEngine(store *memStore, sim *broker.Simulator) *Engine {
	wash := ledger.NewWashSaleLedger(store)
	positions := ledger.NewPositionLedger(store, wash)
	cb := risk.NewCircuitBreaker(store)
	cfg := testConfig()
	return NewEngine(store, sim, positions, cb, nil, nil, nil, func() *config.Config { return cfg })
}

func TestExecuteBuyFills(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("AAPL", 6.9, 7.0)
	eng := newTestEngine(store, sim)

	// 20% of $75 = $15 at $7 ask floors to 2 shares.
	p := store.addProposal(domain.Proposal{
		Ticker: "AAPL", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 20, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Filled, outcome)

	require.Len(t, store.executions, 1)
	exec := store.executions[0]
	assert.Equal(t, domain.ExecFilled, exec.Status)
	assert.Equal(t, 2.0, exec.Qty)
	assert.Equal(t, 7.0, exec.FilledPrice)
	assert.Equal(t, domain.StatusExecuted, store.proposals[p.ID].Status)

	pos, err := store.OpenPosition(context.Background(), "AAPL", domain.BookMain)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.Qty)
}

func TestExecuteBuyPennyDollarCap(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("XYZ", 1.9, 2.0)
	eng := newTestEngine(store, sim)

	// 80% of $25 = $20 is capped at $8, flooring to 4 shares at $2.
	p := store.addProposal(domain.Proposal{
		Ticker: "XYZ", Book: domain.BookPenny, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 80, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Filled, outcome)
	assert.Equal(t, 4.0, store.executions[0].Qty)
}

func TestExecuteZeroQtySkips(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("BRK", 999, 1000)
	eng := newTestEngine(store, sim)

	p := store.addProposal(domain.Proposal{
		Ticker: "BRK", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 10, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, outcome)
	assert.Equal(t, domain.StatusSkipped, store.proposals[p.ID].Status)
	assert.Empty(t, store.executions)
}

func TestExecuteSellLiquidatesFullPosition(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("MSFT", 210, 211)
	eng := newTestEngine(store, sim)

	entry := time.Now().UTC().Add(-24 * time.Hour)
	store.positions = append(store.positions, &domain.Position{
		ID: store.id(), Ticker: "MSFT", Book: domain.BookMain,
		EntryPrice: 200, EntryDate: entry, Qty: 5, CostBasis: 1000, IsOpen: true,
	})
	p := store.addProposal(domain.Proposal{
		Ticker: "MSFT", Book: domain.BookMain, Direction: domain.Sell,
		Confidence: 0.9, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Filled, outcome)
	assert.Equal(t, 5.0, store.executions[0].Qty)

	pos, err := store.OpenPosition(context.Background(), "MSFT", domain.BookMain)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestExecuteSellLossTripsDailyBreaker(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	// Selling 5 shares bought at $200 for $199 bid realizes -$5, past the
	// $3.75 MAIN daily limit.
	sim.SetQuote("MSFT", 199, 200)
	eng := newTestEngine(store, sim)

	store.positions = append(store.positions, &domain.Position{
		ID: store.id(), Ticker: "MSFT", Book: domain.BookMain,
		EntryPrice: 200, EntryDate: time.Now().UTC().Add(-24 * time.Hour),
		Qty: 5, CostBasis: 1000, IsOpen: true,
	})
	p := store.addProposal(domain.Proposal{
		Ticker: "MSFT", Book: domain.BookMain, Direction: domain.Sell,
		Confidence: 0.9, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Filled, outcome)

	require.NotEmpty(t, store.breakers)
	assert.Equal(t, "DAILY_LOSS_MAIN", store.breakers[0].EventType)
	// The losing sale also spawns a wash-sale record.
	require.Len(t, store.washes, 1)
	assert.Equal(t, "MSFT", store.washes[0].Ticker)
}

func TestExecuteSellFallbackStillRunsBreakerChecks(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("TIK", 10, 10.1)
	eng := newTestEngine(store, sim)
	ctx := context.Background()

	// The broker holds 3 shares the ledger never saw; the sell sizes off
	// the broker and the ledger apply fails afterwards.
	orderID, err := sim.SubmitMarketOrder(ctx, "TIK", domain.Buy, 3)
	require.NoError(t, err)
	_, err = sim.GetOrderState(ctx, orderID) // fills, seeding the holding
	require.NoError(t, err)

	// Today's closed losses already sit past the $3.75 MAIN limit.
	closedAt := time.Now().UTC()
	pnl := -10.0
	store.positions = append(store.positions, &domain.Position{
		ID: store.id(), Ticker: "OLD", Book: domain.BookMain,
		IsOpen: false, ClosedAt: &closedAt, RealizedPnL: &pnl,
	})

	p := store.addProposal(domain.Proposal{
		Ticker: "TIK", Book: domain.BookMain, Direction: domain.Sell,
		Confidence: 0.9, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, Filled, outcome)
	assert.Equal(t, 3.0, store.executions[0].Qty)

	// The daily loss breaker fires off the store even though the fill
	// could not be booked into the ledger.
	require.NotEmpty(t, store.breakers)
	assert.Equal(t, "DAILY_LOSS_MAIN", store.breakers[0].EventType)
}

func TestExecuteTimeoutCancelsOnce(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.FillAfterPolls = 1000
	sim.SetQuote("AAPL", 6.9, 7.0)
	eng := newTestEngine(store, sim)

	p := store.addProposal(domain.Proposal{
		Ticker: "AAPL", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 20, Status: domain.StatusApproved,
	})
	start := time.Now()
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, outcome)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, domain.ExecCancelled, store.executions[0].Status)
	assert.Equal(t, domain.StatusFailed, store.proposals[p.ID].Status)
}

func TestExecuteSubmitErrorFails(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.RejectAll = true
	sim.SetQuote("AAPL", 6.9, 7.0)
	eng := newTestEngine(store, sim)

	p := store.addProposal(domain.Proposal{
		Ticker: "AAPL", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 20, Status: domain.StatusApproved,
	})
	outcome, err := eng.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Error, outcome)
	assert.Equal(t, domain.StatusFailed, store.proposals[p.ID].Status)
	assert.Equal(t, domain.ExecFailed, store.executions[0].Status)
}

func TestReconcileBooksLateFill(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.SetQuote("AAPL", 6.9, 7.0)
	eng := newTestEngine(store, sim)
	ctx := context.Background()

	// Simulate a crash after submit: a PENDING execution whose order has
	// since filled at the broker.
	orderID, err := sim.SubmitMarketOrder(ctx, "AAPL", domain.Buy, 2)
	require.NoError(t, err)
	_, err = sim.GetOrderState(ctx, orderID) // fills
	require.NoError(t, err)

	p := store.addProposal(domain.Proposal{
		Ticker: "AAPL", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 20, Status: domain.StatusApproved,
	})
	exec := &domain.Execution{
		ProposalID: p.ID, OrderID: orderID, Side: domain.Buy,
		Qty: 2, IntendedPrice: 7.0, Status: domain.ExecPending,
	}
	require.NoError(t, store.CreateExecution(ctx, exec))

	require.NoError(t, eng.Reconcile(ctx))

	assert.Equal(t, domain.ExecFilled, store.executions[0].Status)
	assert.Equal(t, domain.StatusExecuted, store.proposals[p.ID].Status)
	pos, err := store.OpenPosition(ctx, "AAPL", domain.BookMain)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.Qty)
}

func TestReconcileCancelsOpenOrder(t *testing.T) {
	store := newMemStore()
	sim := broker.NewSimulator()
	sim.FillAfterPolls = 1000
	sim.SetQuote("AAPL", 6.9, 7.0)
	eng := newTestEngine(store, sim)
	ctx := context.Background()

	orderID, err := sim.SubmitMarketOrder(ctx, "AAPL", domain.Buy, 2)
	require.NoError(t, err)
	p := store.addProposal(domain.Proposal{
		Ticker: "AAPL", Book: domain.BookMain, Direction: domain.Buy,
		Confidence: 0.9, SizePct: 20, Status: domain.StatusApproved,
	})
	exec := &domain.Execution{
		ProposalID: p.ID, OrderID: orderID, Side: domain.Buy,
		Qty: 2, IntendedPrice: 7.0, Status: domain.ExecPending,
	}
	require.NoError(t, store.CreateExecution(ctx, exec))

	require.NoError(t, eng.Reconcile(ctx))
	assert.Equal(t, domain.ExecCancelled, store.executions[0].Status)
	assert.Equal(t, domain.StatusFailed, store.proposals[p.ID].Status)
}
