// Package gormstore persists the trading core's records in SQLite via Gorm.
// One store instance owns the database; components reach it through the
// narrow interfaces they declare locally.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradedesk/internal/domain"
	storemodel "tradedesk/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements proposal, execution, position, wash-sale, and
// circuit-breaker storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the SQLite database at path and runs
// migrations.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&storemodel.ProposalModel{},
		&storemodel.ExecutionModel{},
		&storemodel.PositionModel{},
		&storemodel.WashSaleModel{},
		&storemodel.BreakerEventModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads while keeping
	// writer lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// ── Proposals ──────────────────────────────────────────────────────────

// CreateProposal inserts a new proposal and backfills its ID.
func (s *GormStore) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	m := proposalToModel(p)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = string(domain.StatusPending)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	p.ID = m.ID
	p.CreatedAt = m.CreatedAt
	p.Status = domain.ProposalStatus(m.Status)
	return nil
}

// GetProposal loads one proposal by ID.
func (s *GormStore) GetProposal(ctx context.Context, id int64) (*domain.Proposal, error) {
	var m storemodel.ProposalModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %d: %w", id, err)
	}
	p := proposalFromModel(m)
	return &p, nil
}

// ListPendingProposals returns all proposals awaiting action, newest first.
func (s *GormStore) ListPendingProposals(ctx context.Context) ([]domain.Proposal, error) {
	var rows []storemodel.ProposalModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusPending)).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	out := make([]domain.Proposal, 0, len(rows))
	for _, m := range rows {
		out = append(out, proposalFromModel(m))
	}
	return out, nil
}

// ResolveProposalIfPending atomically moves a PENDING proposal to the given
// status. Returns the post-call proposal and whether this call performed
// the transition; a contended call observes changed=false and the state
// the winner left behind.
func (s *GormStore) ResolveProposalIfPending(ctx context.Context, id int64, status domain.ProposalStatus, by domain.Resolver, reason string) (*domain.Proposal, bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&storemodel.ProposalModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusPending)).
		Updates(map[string]interface{}{
			"status":      string(status),
			"resolved_by": string(by),
			"resolved_at": now,
			"reason":      reason,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("resolve proposal %d: %w", id, res.Error)
	}
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return p, res.RowsAffected == 1, nil
}

// FinalizeProposal moves an APPROVED proposal to its final outcome.
func (s *GormStore) FinalizeProposal(ctx context.Context, id int64, status domain.ProposalStatus, reason string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&storemodel.ProposalModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      string(status),
			"resolved_at": now,
			"reason":      reason,
		}).Error
	if err != nil {
		return fmt.Errorf("finalize proposal %d: %w", id, err)
	}
	return nil
}

// FlagWashSale marks a proposal as wash-sale flagged without touching its
// status.
func (s *GormStore) FlagWashSale(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).
		Model(&storemodel.ProposalModel{}).
		Where("id = ?", id).
		Update("wash_sale_flagged", true).Error
	if err != nil {
		return fmt.Errorf("flag proposal %d: %w", id, err)
	}
	return nil
}

// ── Executions ─────────────────────────────────────────────────────────

// CreateExecution persists the execution shell and backfills its ID.
func (s *GormStore) CreateExecution(ctx context.Context, e *domain.Execution) error {
	m := executionToModel(e)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	e.ID = m.ID
	e.CreatedAt = m.CreatedAt
	return nil
}

// UpdateExecution saves the mutable fields of an execution.
func (s *GormStore) UpdateExecution(ctx context.Context, e *domain.Execution) error {
	err := s.db.WithContext(ctx).
		Model(&storemodel.ExecutionModel{}).
		Where("id = ?", e.ID).
		Updates(map[string]interface{}{
			"order_id":     e.OrderID,
			"qty":          e.Qty,
			"filled_price": e.FilledPrice,
			"slippage":     e.Slippage,
			"status":       string(e.Status),
			"raw_order":    datatypes.JSON(e.RawOrder),
			"executed_at":  e.ExecutedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("update execution %d: %w", e.ID, err)
	}
	return nil
}

// ListPendingExecutions returns executions stuck in PENDING, oldest first.
// Used by the startup reconciliation pass.
func (s *GormStore) ListPendingExecutions(ctx context.Context) ([]domain.Execution, error) {
	var rows []storemodel.ExecutionModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.ExecPending)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}
	out := make([]domain.Execution, 0, len(rows))
	for _, m := range rows {
		out = append(out, executionFromModel(m))
	}
	return out, nil
}
