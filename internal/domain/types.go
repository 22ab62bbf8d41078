// Package domain holds the closed vocabulary of the trading core: books,
// directions, proposal/execution statuses, and the proposal record itself.
// Raw strings from the outside world are converted here exactly once; the
// rest of the system only sees typed values.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Book is a capital allocation bucket with independent risk limits.
type Book string

const (
	BookMain  Book = "MAIN"
	BookPenny Book = "PENNY"
)

// ParseBook validates a raw book string at the boundary.
func ParseBook(raw string) (Book, error) {
	switch Book(strings.ToUpper(strings.TrimSpace(raw))) {
	case BookMain:
		return BookMain, nil
	case BookPenny:
		return BookPenny, nil
	default:
		return "", fmt.Errorf("unknown book %q", raw)
	}
}

// Books lists all known books in a stable order.
func Books() []Book { return []Book{BookMain, BookPenny} }

// Direction is the trade side of a proposal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// ProposalStatus is the lifecycle state of a trade proposal. A proposal
// leaves PENDING exactly once, and moves from APPROVED to a final outcome
// at most once more.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "PENDING"
	StatusApproved ProposalStatus = "APPROVED"
	StatusRejected ProposalStatus = "REJECTED"
	StatusExecuted ProposalStatus = "EXECUTED"
	StatusFailed   ProposalStatus = "FAILED"
	StatusSkipped  ProposalStatus = "SKIPPED"
)

// Terminal reports whether no further transition is allowed.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Resolver identifies who moved a proposal out of PENDING.
type Resolver string

const (
	ResolverAuto   Resolver = "AUTO"
	ResolverManual Resolver = "MANUAL"
)

// ExecutionStatus is the state of a single fill attempt.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "PENDING"
	ExecFilled    ExecutionStatus = "FILLED"
	ExecCancelled ExecutionStatus = "CANCELLED"
	ExecFailed    ExecutionStatus = "FAILED"
)

// Proposal is an immutable trade proposal produced by the upstream
// pipeline. The core only ever appends a resolution to it.
type Proposal struct {
	ID         int64
	Ticker     string
	Book       Book
	Direction  Direction
	Confidence float64 // 0..1
	SizePct    float64 // percent of book allocation (buys)
	Rationale  string

	StopLossPct   *float64
	TakeProfitPct *float64

	Status          ProposalStatus
	ResolvedBy      Resolver
	ResolvedAt      *time.Time
	Reason          string // terminal reason, human readable
	WashSaleFlagged bool

	// RawPayload keeps the inbound JSON verbatim for auditing.
	RawPayload json.RawMessage

	CreatedAt time.Time
}

// Execution is one fill attempt tied to one proposal.
type Execution struct {
	ID            int64
	ProposalID    int64
	OrderID       string
	Side          Direction
	Qty           float64
	IntendedPrice float64
	FilledPrice   float64
	Slippage      float64 // filled - intended
	Status        ExecutionStatus
	RawOrder      json.RawMessage // broker order snapshot at terminal state
	ExecutedAt    *time.Time
	CreatedAt     time.Time
}

// Position is the authoritative record of a holding per (ticker, book).
// At most one open position exists per key; buys average into it, sells
// reduce it.
type Position struct {
	ID                int64
	Ticker            string
	Book              Book
	EntryPrice        float64
	EntryDate         time.Time
	Qty               float64
	CostBasis         float64
	AdjustedCostBasis *float64 // set when a wash-sale disallowed loss is folded in
	IsOpen            bool
	ClosedAt          *time.Time
	RealizedPnL       *float64 // cumulative over sells, final at close
}

// WashSale records a loss-producing sell and its rebuy window.
type WashSale struct {
	ID             int64
	Ticker         string
	SaleDate       time.Time
	LossAmount     float64
	QtySold        float64
	SalePrice      float64
	CostBasisPS    float64
	BlackoutUntil  time.Time // sale date + 30 calendar days
	YearEndBlocked bool      // sale month == December
	Rebought       bool
	ReboughtAt     *time.Time
	CreatedAt      time.Time
}

// BreakerEvent is one circuit-breaker trip. Scope nil means system-wide.
type BreakerEvent struct {
	ID          int64
	EventType   string
	Scope       *Book
	Reason      string
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
	IsActive    bool
}

// ScopeLabel renders the breaker scope for logs and events.
func (e BreakerEvent) ScopeLabel() string {
	if e.Scope == nil {
		return "ALL"
	}
	return string(*e.Scope)
}
