package risk

import (
	"context"
	"testing"
	"time"

	"tradedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBreakerStore struct {
	events []*domain.BreakerEvent
	pnl    map[domain.Book]float64
	closed map[domain.Book][]domain.Position
	nextID int64
}

func newFakeBreakerStore() *fakeBreakerStore {
	return &fakeBreakerStore{
		pnl:    map[domain.Book]float64{},
		closed: map[domain.Book][]domain.Position{},
	}
}

func (f *fakeBreakerStore) CreateBreakerEvent(_ context.Context, b *domain.BreakerEvent) error {
	f.nextID++
	b.ID = f.nextID
	cp := *b
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeBreakerStore) ActiveBreakerExists(_ context.Context, book domain.Book) (bool, error) {
	for _, e := range f.events {
		if e.IsActive && (e.Scope == nil || *e.Scope == book) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBreakerStore) ListBreakerEvents(_ context.Context, activeOnly bool) ([]domain.BreakerEvent, error) {
	var out []domain.BreakerEvent
	for _, e := range f.events {
		if !activeOnly || e.IsActive {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeBreakerStore) ResolveBreakerEvent(_ context.Context, id int64, by string, at time.Time) error {
	for _, e := range f.events {
		if e.ID == id && e.IsActive {
			e.IsActive = false
			e.ResolvedBy = by
			t := at
			e.ResolvedAt = &t
		}
	}
	return nil
}

func (f *fakeBreakerStore) RealizedPnLBetween(_ context.Context, book domain.Book, _, _ time.Time) (float64, error) {
	return f.pnl[book], nil
}

func (f *fakeBreakerStore) RecentClosedPositionsInBook(_ context.Context, book domain.Book, limit int) ([]domain.Position, error) {
	rows := f.closed[book]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func TestTripAndScopedActivation(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	main := domain.BookMain
	_, err := cb.Trip(ctx, "DAILY_LOSS_MAIN", &main, "limit breached")
	require.NoError(t, err)

	active, err := cb.IsActive(ctx, domain.BookMain)
	require.NoError(t, err)
	assert.True(t, active)

	// A MAIN-scoped trip leaves PENNY trading.
	active, err = cb.IsActive(ctx, domain.BookPenny)
	require.NoError(t, err)
	assert.False(t, active)

	// A system-wide trip halts both.
	_, err = cb.Trip(ctx, "MANUAL_HALT", nil, "operator halt")
	require.NoError(t, err)
	active, err = cb.IsActive(ctx, domain.BookPenny)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestTripIsNotIdempotent(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	main := domain.BookMain
	_, err := cb.Trip(ctx, "DAILY_LOSS_MAIN", &main, "first")
	require.NoError(t, err)
	_, err = cb.Trip(ctx, "DAILY_LOSS_MAIN", &main, "second")
	require.NoError(t, err)
	assert.Len(t, store.events, 2)
}

func TestResolveIsNoOpWhenAlreadyResolved(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	main := domain.BookMain
	evt, err := cb.Trip(ctx, "DAILY_LOSS_MAIN", &main, "x")
	require.NoError(t, err)

	require.NoError(t, cb.Resolve(ctx, evt.ID, "ops"))
	first := *store.events[0].ResolvedAt

	require.NoError(t, cb.Resolve(ctx, evt.ID, "someone-else"))
	assert.Equal(t, first, *store.events[0].ResolvedAt)
	assert.Equal(t, "ops", store.events[0].ResolvedBy)
}

func TestCheckDailyLossTripsPastLimit(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	// 5% of $75 is $3.75; a $4 loss breaches.
	store.pnl[domain.BookMain] = -4
	report, err := cb.CheckDailyLoss(ctx, domain.BookMain, 75, 5)
	require.NoError(t, err)
	assert.True(t, report.Tripped)
	require.NotNil(t, report.Event)
	assert.Equal(t, "DAILY_LOSS_MAIN", report.Event.EventType)
	assert.InDelta(t, 3.75, report.Limit, 1e-9)

	// A $1 loss does not.
	store2 := newFakeBreakerStore()
	store2.pnl[domain.BookMain] = -1
	cb2 := NewCircuitBreaker(store2)
	report, err = cb2.CheckDailyLoss(ctx, domain.BookMain, 75, 5)
	require.NoError(t, err)
	assert.False(t, report.Tripped)
}

func TestCheckDailyLossExactlyAtLimitDoesNotTrip(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)

	store.pnl[domain.BookMain] = -3.75
	report, err := cb.CheckDailyLoss(context.Background(), domain.BookMain, 75, 5)
	require.NoError(t, err)
	assert.False(t, report.Tripped)
	assert.Empty(t, store.events)
}

func TestCheckDailyLossDoesNotStackWhileHalted(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	store.pnl[domain.BookMain] = -10
	report, err := cb.CheckDailyLoss(ctx, domain.BookMain, 75, 5)
	require.NoError(t, err)
	assert.True(t, report.Tripped)

	// Concurrent sell settlements re-check after the trip; the halt must
	// not accumulate duplicate active events.
	report, err = cb.CheckDailyLoss(ctx, domain.BookMain, 75, 5)
	require.NoError(t, err)
	assert.False(t, report.Tripped)
	assert.Len(t, store.events, 1)
}

func TestCheckConsecutiveLosses(t *testing.T) {
	store := newFakeBreakerStore()
	cb := NewCircuitBreaker(store)
	ctx := context.Background()

	loss := -1.0
	win := 2.0
	store.closed[domain.BookPenny] = []domain.Position{
		{RealizedPnL: &loss}, {RealizedPnL: &loss}, {RealizedPnL: &loss},
	}
	evt, err := cb.CheckConsecutiveLosses(ctx, domain.BookPenny, 3)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "CONSECUTIVE_LOSS_PENNY", evt.EventType)

	// A win inside the window resets the streak.
	store.closed[domain.BookPenny][1] = domain.Position{RealizedPnL: &win}
	evt, err = cb.CheckConsecutiveLosses(ctx, domain.BookPenny, 3)
	require.NoError(t, err)
	assert.Nil(t, evt)
}
