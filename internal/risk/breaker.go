// Package risk holds the pre-trade gate and the circuit breaker. The gate
// is a pure function over a snapshot of inputs; the breaker persists its
// trips so a halt survives restarts.
package risk

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/logger"
)

type breakerStore interface {
	CreateBreakerEvent(ctx context.Context, b *domain.BreakerEvent) error
	ActiveBreakerExists(ctx context.Context, book domain.Book) (bool, error)
	ListBreakerEvents(ctx context.Context, activeOnly bool) ([]domain.BreakerEvent, error)
	ResolveBreakerEvent(ctx context.Context, id int64, by string, at time.Time) error
	RealizedPnLBetween(ctx context.Context, book domain.Book, from, to time.Time) (float64, error)
	RecentClosedPositionsInBook(ctx context.Context, book domain.Book, limit int) ([]domain.Position, error)
}

// TripListener is notified after a trip has been persisted.
type TripListener func(domain.BreakerEvent)

// CircuitBreaker halts trading per book or system-wide. Trips are
// persisted events; a book is halted while any unresolved event covers it.
type CircuitBreaker struct {
	store     breakerStore
	now       func() time.Time
	listeners []TripListener
}

// NewCircuitBreaker builds a breaker over the given store.
func NewCircuitBreaker(store breakerStore) *CircuitBreaker {
	return &CircuitBreaker{store: store, now: time.Now}
}

// OnTrip registers a listener. Not safe to call once trading has started.
func (c *CircuitBreaker) OnTrip(fn TripListener) {
	if fn != nil {
		c.listeners = append(c.listeners, fn)
	}
}

// IsActive reports whether trading in book is halted.
func (c *CircuitBreaker) IsActive(ctx context.Context, book domain.Book) (bool, error) {
	return c.store.ActiveBreakerExists(ctx, book)
}

// Trip records a new halt. Every call creates a fresh event even when an
// equivalent one is already active; the audit trail keeps each trigger.
func (c *CircuitBreaker) Trip(ctx context.Context, eventType string, scope *domain.Book, reason string) (*domain.BreakerEvent, error) {
	evt := &domain.BreakerEvent{
		EventType:   eventType,
		Scope:       scope,
		Reason:      reason,
		TriggeredAt: c.now().UTC(),
		IsActive:    true,
	}
	if err := c.store.CreateBreakerEvent(ctx, evt); err != nil {
		return nil, err
	}
	logger.Warnf("circuit breaker tripped: %s scope=%s reason=%s", eventType, evt.ScopeLabel(), reason)
	for _, fn := range c.listeners {
		fn(*evt)
	}
	return evt, nil
}

// Resolve deactivates one trip. Resolving an inactive event is a no-op.
func (c *CircuitBreaker) Resolve(ctx context.Context, id int64, by string) error {
	return c.store.ResolveBreakerEvent(ctx, id, by, c.now().UTC())
}

// Events lists breaker events, optionally only the active ones.
func (c *CircuitBreaker) Events(ctx context.Context, activeOnly bool) ([]domain.BreakerEvent, error) {
	return c.store.ListBreakerEvents(ctx, activeOnly)
}

// DailyLossReport is the outcome of a post-sell daily loss evaluation.
type DailyLossReport struct {
	PnLToday float64
	Limit    float64 // positive dollar threshold
	Tripped  bool
	Event    *domain.BreakerEvent
}

// DailyLoss reports the book's realized P&L for the current calendar day
// against limitPct of allocation. It never trips.
func (c *CircuitBreaker) DailyLoss(ctx context.Context, book domain.Book, allocation, limitPct float64) (*DailyLossReport, error) {
	now := c.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	pnl, err := c.store.RealizedPnLBetween(ctx, book, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return &DailyLossReport{PnLToday: pnl, Limit: allocation * limitPct / 100}, nil
}

// CheckDailyLoss evaluates the daily loss limit and trips when the loss
// strictly exceeds it. A book already halted is not tripped again.
func (c *CircuitBreaker) CheckDailyLoss(ctx context.Context, book domain.Book, allocation, limitPct float64) (*DailyLossReport, error) {
	report, err := c.DailyLoss(ctx, book, allocation, limitPct)
	if err != nil {
		return nil, err
	}
	pnl, limit := report.PnLToday, report.Limit
	if pnl >= -limit {
		return report, nil
	}
	active, err := c.IsActive(ctx, book)
	if err != nil {
		return report, err
	}
	if active {
		return report, nil
	}
	scope := book
	evt, err := c.Trip(ctx, fmt.Sprintf("DAILY_LOSS_%s", book), &scope,
		fmt.Sprintf("realized %.2f today against limit %.2f", pnl, limit))
	if err != nil {
		return report, err
	}
	report.Tripped = true
	report.Event = evt
	return report, nil
}

// CheckConsecutiveLosses trips the book when its last maxLosses closed
// positions all realized a loss. maxLosses <= 0 disables the check.
func (c *CircuitBreaker) CheckConsecutiveLosses(ctx context.Context, book domain.Book, maxLosses int) (*domain.BreakerEvent, error) {
	if maxLosses <= 0 {
		return nil, nil
	}
	closed, err := c.store.RecentClosedPositionsInBook(ctx, book, maxLosses)
	if err != nil {
		return nil, err
	}
	if len(closed) < maxLosses {
		return nil, nil
	}
	for _, p := range closed {
		if p.RealizedPnL == nil || *p.RealizedPnL >= 0 {
			return nil, nil
		}
	}
	active, err := c.IsActive(ctx, book)
	if err != nil || active {
		return nil, err
	}
	scope := book
	return c.Trip(ctx, fmt.Sprintf("CONSECUTIVE_LOSS_%s", book), &scope,
		fmt.Sprintf("last %d closed positions all lost", maxLosses))
}
