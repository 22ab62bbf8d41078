package gormstore

import (
	"encoding/json"

	"tradedesk/internal/domain"
	storemodel "tradedesk/internal/store/model"

	"gorm.io/datatypes"
)

func proposalToModel(p *domain.Proposal) storemodel.ProposalModel {
	return storemodel.ProposalModel{
		ID:              p.ID,
		Ticker:          p.Ticker,
		Book:            string(p.Book),
		Direction:       string(p.Direction),
		Confidence:      p.Confidence,
		SizePct:         p.SizePct,
		Rationale:       p.Rationale,
		StopLossPct:     p.StopLossPct,
		TakeProfitPct:   p.TakeProfitPct,
		Status:          string(p.Status),
		ResolvedBy:      string(p.ResolvedBy),
		ResolvedAt:      p.ResolvedAt,
		Reason:          p.Reason,
		WashSaleFlagged: p.WashSaleFlagged,
		RawPayload:      datatypes.JSON(p.RawPayload),
		CreatedAt:       p.CreatedAt,
	}
}

func proposalFromModel(m storemodel.ProposalModel) domain.Proposal {
	return domain.Proposal{
		ID:              m.ID,
		Ticker:          m.Ticker,
		Book:            domain.Book(m.Book),
		Direction:       domain.Direction(m.Direction),
		Confidence:      m.Confidence,
		SizePct:         m.SizePct,
		Rationale:       m.Rationale,
		StopLossPct:     m.StopLossPct,
		TakeProfitPct:   m.TakeProfitPct,
		Status:          domain.ProposalStatus(m.Status),
		ResolvedBy:      domain.Resolver(m.ResolvedBy),
		ResolvedAt:      m.ResolvedAt,
		Reason:          m.Reason,
		WashSaleFlagged: m.WashSaleFlagged,
		RawPayload:      json.RawMessage(m.RawPayload),
		CreatedAt:       m.CreatedAt,
	}
}

func executionToModel(e *domain.Execution) storemodel.ExecutionModel {
	return storemodel.ExecutionModel{
		ID:            e.ID,
		ProposalID:    e.ProposalID,
		OrderID:       e.OrderID,
		Side:          string(e.Side),
		Qty:           e.Qty,
		IntendedPrice: e.IntendedPrice,
		FilledPrice:   e.FilledPrice,
		Slippage:      e.Slippage,
		Status:        string(e.Status),
		RawOrder:      datatypes.JSON(e.RawOrder),
		ExecutedAt:    e.ExecutedAt,
		CreatedAt:     e.CreatedAt,
	}
}

func executionFromModel(m storemodel.ExecutionModel) domain.Execution {
	return domain.Execution{
		ID:            m.ID,
		ProposalID:    m.ProposalID,
		OrderID:       m.OrderID,
		Side:          domain.Direction(m.Side),
		Qty:           m.Qty,
		IntendedPrice: m.IntendedPrice,
		FilledPrice:   m.FilledPrice,
		Slippage:      m.Slippage,
		Status:        domain.ExecutionStatus(m.Status),
		RawOrder:      json.RawMessage(m.RawOrder),
		ExecutedAt:    m.ExecutedAt,
		CreatedAt:     m.CreatedAt,
	}
}

func positionToModel(p *domain.Position) storemodel.PositionModel {
	return storemodel.PositionModel{
		ID:                p.ID,
		Ticker:            p.Ticker,
		Book:              string(p.Book),
		EntryPrice:        p.EntryPrice,
		EntryDate:         p.EntryDate,
		Qty:               p.Qty,
		CostBasis:         p.CostBasis,
		AdjustedCostBasis: p.AdjustedCostBasis,
		IsOpen:            p.IsOpen,
		ClosedAt:          p.ClosedAt,
		RealizedPnL:       p.RealizedPnL,
	}
}

func positionFromModel(m storemodel.PositionModel) domain.Position {
	return domain.Position{
		ID:                m.ID,
		Ticker:            m.Ticker,
		Book:              domain.Book(m.Book),
		EntryPrice:        m.EntryPrice,
		EntryDate:         m.EntryDate,
		Qty:               m.Qty,
		CostBasis:         m.CostBasis,
		AdjustedCostBasis: m.AdjustedCostBasis,
		IsOpen:            m.IsOpen,
		ClosedAt:          m.ClosedAt,
		RealizedPnL:       m.RealizedPnL,
	}
}

func washSaleToModel(w *domain.WashSale) storemodel.WashSaleModel {
	return storemodel.WashSaleModel{
		ID:             w.ID,
		Ticker:         w.Ticker,
		SaleDate:       w.SaleDate,
		LossAmount:     w.LossAmount,
		QtySold:        w.QtySold,
		SalePrice:      w.SalePrice,
		CostBasisPS:    w.CostBasisPS,
		BlackoutUntil:  w.BlackoutUntil,
		YearEndBlocked: w.YearEndBlocked,
		Rebought:       w.Rebought,
		ReboughtAt:     w.ReboughtAt,
		CreatedAt:      w.CreatedAt,
	}
}

func washSaleFromModel(m storemodel.WashSaleModel) domain.WashSale {
	return domain.WashSale{
		ID:             m.ID,
		Ticker:         m.Ticker,
		SaleDate:       m.SaleDate,
		LossAmount:     m.LossAmount,
		QtySold:        m.QtySold,
		SalePrice:      m.SalePrice,
		CostBasisPS:    m.CostBasisPS,
		BlackoutUntil:  m.BlackoutUntil,
		YearEndBlocked: m.YearEndBlocked,
		Rebought:       m.Rebought,
		ReboughtAt:     m.ReboughtAt,
		CreatedAt:      m.CreatedAt,
	}
}

func breakerToModel(b *domain.BreakerEvent) storemodel.BreakerEventModel {
	var scope *string
	if b.Scope != nil {
		s := string(*b.Scope)
		scope = &s
	}
	return storemodel.BreakerEventModel{
		ID:          b.ID,
		EventType:   b.EventType,
		Scope:       scope,
		Reason:      b.Reason,
		TriggeredAt: b.TriggeredAt,
		ResolvedAt:  b.ResolvedAt,
		ResolvedBy:  b.ResolvedBy,
		IsActive:    b.IsActive,
	}
}

func breakerFromModel(m storemodel.BreakerEventModel) domain.BreakerEvent {
	var scope *domain.Book
	if m.Scope != nil {
		b := domain.Book(*m.Scope)
		scope = &b
	}
	return domain.BreakerEvent{
		ID:          m.ID,
		EventType:   m.EventType,
		Scope:       scope,
		Reason:      m.Reason,
		TriggeredAt: m.TriggeredAt,
		ResolvedAt:  m.ResolvedAt,
		ResolvedBy:  m.ResolvedBy,
		IsActive:    m.IsActive,
	}
}
