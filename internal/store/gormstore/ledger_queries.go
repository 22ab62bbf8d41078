package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradedesk/internal/domain"
	storemodel "tradedesk/internal/store/model"

	"gorm.io/gorm"
)

// ── Positions ──────────────────────────────────────────────────────────

// OpenPosition returns the open position for (ticker, book), or nil when
// flat.
func (s *GormStore) OpenPosition(ctx context.Context, ticker string, book domain.Book) (*domain.Position, error) {
	var m storemodel.PositionModel
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND book = ? AND is_open = ?", ticker, string(book), true).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open position %s/%s: %w", ticker, book, err)
	}
	p := positionFromModel(m)
	return &p, nil
}

// SavePosition inserts a new position row or updates an existing one.
func (s *GormStore) SavePosition(ctx context.Context, p *domain.Position) error {
	m := positionToModel(p)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("save position %s/%s: %w", p.Ticker, p.Book, err)
	}
	p.ID = m.ID
	return nil
}

// CountOpenPositions counts open positions in one book.
func (s *GormStore) CountOpenPositions(ctx context.Context, book domain.Book) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&storemodel.PositionModel{}).
		Where("book = ? AND is_open = ?", string(book), true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open positions %s: %w", book, err)
	}
	return int(n), nil
}

// EverHeld reports whether any position row, open or closed, exists for
// (ticker, book).
func (s *GormStore) EverHeld(ctx context.Context, ticker string, book domain.Book) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&storemodel.PositionModel{}).
		Where("ticker = ? AND book = ?", ticker, string(book)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("ever held %s/%s: %w", ticker, book, err)
	}
	return n > 0, nil
}

// RealizedPnLBetween sums realized P&L of positions closed in [from, to).
func (s *GormStore) RealizedPnLBetween(ctx context.Context, book domain.Book, from, to time.Time) (float64, error) {
	var total *float64
	err := s.db.WithContext(ctx).
		Model(&storemodel.PositionModel{}).
		Select("SUM(realized_pnl)").
		Where("book = ? AND is_open = ? AND closed_at >= ? AND closed_at < ?", string(book), false, from, to).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("realized pnl %s: %w", book, err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// RecentClosedPositions returns the most recently closed positions,
// newest first.
func (s *GormStore) RecentClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	var rows []storemodel.PositionModel
	err := s.db.WithContext(ctx).
		Where("is_open = ?", false).
		Order("closed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent closed positions: %w", err)
	}
	out := make([]domain.Position, 0, len(rows))
	for _, m := range rows {
		out = append(out, positionFromModel(m))
	}
	return out, nil
}

// RecentClosedPositionsInBook returns the book's most recently closed
// positions, newest first.
func (s *GormStore) RecentClosedPositionsInBook(ctx context.Context, book domain.Book, limit int) ([]domain.Position, error) {
	var rows []storemodel.PositionModel
	err := s.db.WithContext(ctx).
		Where("book = ? AND is_open = ?", string(book), false).
		Order("closed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent closed positions %s: %w", book, err)
	}
	out := make([]domain.Position, 0, len(rows))
	for _, m := range rows {
		out = append(out, positionFromModel(m))
	}
	return out, nil
}

// ListOpenPositions returns every open position across both books.
func (s *GormStore) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	var rows []storemodel.PositionModel
	err := s.db.WithContext(ctx).
		Where("is_open = ?", true).
		Order("ticker ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	out := make([]domain.Position, 0, len(rows))
	for _, m := range rows {
		out = append(out, positionFromModel(m))
	}
	return out, nil
}

// ── Wash sales ─────────────────────────────────────────────────────────

// CreateWashSale records a loss-producing sale and backfills its ID.
func (s *GormStore) CreateWashSale(ctx context.Context, w *domain.WashSale) error {
	m := washSaleToModel(w)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create wash sale %s: %w", w.Ticker, err)
	}
	w.ID = m.ID
	w.CreatedAt = m.CreatedAt
	return nil
}

// ActiveWashSales returns unrebought wash-sale records for ticker whose
// blackout window has not elapsed at asOf, newest sale first.
func (s *GormStore) ActiveWashSales(ctx context.Context, ticker string, asOf time.Time) ([]domain.WashSale, error) {
	var rows []storemodel.WashSaleModel
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND rebought = ? AND blackout_until >= ?", ticker, false, asOf).
		Order("sale_date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("active wash sales %s: %w", ticker, err)
	}
	out := make([]domain.WashSale, 0, len(rows))
	for _, m := range rows {
		out = append(out, washSaleFromModel(m))
	}
	return out, nil
}

// MarkWashSaleRebought flags a wash-sale record as consumed by a rebuy.
func (s *GormStore) MarkWashSaleRebought(ctx context.Context, id int64, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&storemodel.WashSaleModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rebought":    true,
			"rebought_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("mark wash sale %d rebought: %w", id, err)
	}
	return nil
}

// ── Circuit breaker events ─────────────────────────────────────────────

// CreateBreakerEvent inserts a trip record and backfills its ID.
func (s *GormStore) CreateBreakerEvent(ctx context.Context, b *domain.BreakerEvent) error {
	m := breakerToModel(b)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create breaker event: %w", err)
	}
	b.ID = m.ID
	return nil
}

// ActiveBreakerExists reports whether trading in book is halted. A
// system-wide trip (NULL scope) halts every book.
func (s *GormStore) ActiveBreakerExists(ctx context.Context, book domain.Book) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&storemodel.BreakerEventModel{}).
		Where("is_active = ? AND (scope IS NULL OR scope = ?)", true, string(book)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("active breaker check %s: %w", book, err)
	}
	return n > 0, nil
}

// ListBreakerEvents returns breaker events, optionally only active ones,
// newest first.
func (s *GormStore) ListBreakerEvents(ctx context.Context, activeOnly bool) ([]domain.BreakerEvent, error) {
	q := s.db.WithContext(ctx).Model(&storemodel.BreakerEventModel{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []storemodel.BreakerEventModel
	if err := q.Order("triggered_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list breaker events: %w", err)
	}
	out := make([]domain.BreakerEvent, 0, len(rows))
	for _, m := range rows {
		out = append(out, breakerFromModel(m))
	}
	return out, nil
}

// ResolveBreakerEvent deactivates one trip. Resolving an already resolved
// event is a no-op.
func (s *GormStore) ResolveBreakerEvent(ctx context.Context, id int64, by string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&storemodel.BreakerEventModel{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":   false,
			"resolved_at": at,
			"resolved_by": by,
		}).Error
	if err != nil {
		return fmt.Errorf("resolve breaker event %d: %w", id, err)
	}
	return nil
}
