// Package model defines the persistence schema for proposals, executions,
// positions, wash sales, and circuit breaker events.
package model

import (
	"time"

	"gorm.io/datatypes"
)

type ProposalModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	Ticker          string         `gorm:"column:ticker;index"`
	Book            string         `gorm:"column:book;index"`
	Direction       string         `gorm:"column:direction"`
	Confidence      float64        `gorm:"column:confidence"`
	SizePct         float64        `gorm:"column:size_pct"`
	Rationale       string         `gorm:"column:rationale;type:TEXT"`
	StopLossPct     *float64       `gorm:"column:stop_loss_pct"`
	TakeProfitPct   *float64       `gorm:"column:take_profit_pct"`
	Status          string         `gorm:"column:status;index"`
	ResolvedBy      string         `gorm:"column:resolved_by"`
	ResolvedAt      *time.Time     `gorm:"column:resolved_at"`
	Reason          string         `gorm:"column:reason;type:TEXT"`
	WashSaleFlagged bool           `gorm:"column:wash_sale_flagged"`
	RawPayload      datatypes.JSON `gorm:"column:raw_payload;type:TEXT"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (ProposalModel) TableName() string { return "proposals" }

type ExecutionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ProposalID    int64          `gorm:"column:proposal_id;index"`
	OrderID       string         `gorm:"column:order_id;index"`
	Side          string         `gorm:"column:side"`
	Qty           float64        `gorm:"column:qty"`
	IntendedPrice float64        `gorm:"column:intended_price"`
	FilledPrice   float64        `gorm:"column:filled_price"`
	Slippage      float64        `gorm:"column:slippage"`
	Status        string         `gorm:"column:status;index"`
	RawOrder      datatypes.JSON `gorm:"column:raw_order;type:TEXT"`
	ExecutedAt    *time.Time     `gorm:"column:executed_at"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (ExecutionModel) TableName() string { return "executions" }

type PositionModel struct {
	ID                int64      `gorm:"column:id;primaryKey"`
	Ticker            string     `gorm:"column:ticker;index:idx_pos_key,priority:1"`
	Book              string     `gorm:"column:book;index:idx_pos_key,priority:2"`
	EntryPrice        float64    `gorm:"column:entry_price"`
	EntryDate         time.Time  `gorm:"column:entry_date"`
	Qty               float64    `gorm:"column:qty"`
	CostBasis         float64    `gorm:"column:cost_basis"`
	AdjustedCostBasis *float64   `gorm:"column:adjusted_cost_basis"`
	IsOpen            bool       `gorm:"column:is_open;index"`
	ClosedAt          *time.Time `gorm:"column:closed_at"`
	RealizedPnL       *float64   `gorm:"column:realized_pnl"`
}

func (PositionModel) TableName() string { return "positions" }

type WashSaleModel struct {
	ID             int64      `gorm:"column:id;primaryKey"`
	Ticker         string     `gorm:"column:ticker;index"`
	SaleDate       time.Time  `gorm:"column:sale_date"`
	LossAmount     float64    `gorm:"column:loss_amount"`
	QtySold        float64    `gorm:"column:qty_sold"`
	SalePrice      float64    `gorm:"column:sale_price"`
	CostBasisPS    float64    `gorm:"column:cost_basis_per_share"`
	BlackoutUntil  time.Time  `gorm:"column:blackout_until"`
	YearEndBlocked bool       `gorm:"column:year_end_blocked"`
	Rebought       bool       `gorm:"column:rebought"`
	ReboughtAt     *time.Time `gorm:"column:rebought_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (WashSaleModel) TableName() string { return "wash_sales" }

type BreakerEventModel struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	EventType   string     `gorm:"column:event_type"`
	Scope       *string    `gorm:"column:scope;index"` // NULL = system-wide
	Reason      string     `gorm:"column:reason;type:TEXT"`
	TriggeredAt time.Time  `gorm:"column:triggered_at"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
	ResolvedBy  string     `gorm:"column:resolved_by"`
	IsActive    bool       `gorm:"column:is_active;index"`
}

func (BreakerEventModel) TableName() string { return "circuit_breaker_events" }
