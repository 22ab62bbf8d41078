package risk

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
)

// Inputs is the snapshot the gate decides on. All lookups happen before
// evaluation so the decision itself is a pure function.
type Inputs struct {
	Proposal domain.Proposal
	Book     config.BookConfig

	AutoApproveEnabled  bool
	ManualReviewSizePct float64

	OpenCount     int
	FirstPosition bool
	BreakerActive bool
	Wash          ledger.WashStatus
}

// Verdict is the gate's decision on one proposal.
type Verdict struct {
	Allowed        bool
	DenyReason     string
	RequiresManual bool
	ManualReasons  []string
	WashFlagged    bool
}

func deny(reason string) Verdict {
	return Verdict{Allowed: false, DenyReason: reason}
}

// Evaluate runs the pre-trade checks in a fixed order. The first failing
// check denies; later checks never run. Sells skip the sizing, capacity,
// and wash-sale checks because reducing exposure is always safe on those
// axes.
func Evaluate(in Inputs) Verdict {
	p := in.Proposal
	isBuy := p.Direction == domain.Buy

	// 1. Confidence floor.
	if p.Confidence < in.Book.MinConfidence {
		return deny(fmt.Sprintf("confidence %.2f below book minimum %.2f", p.Confidence, in.Book.MinConfidence))
	}

	if isBuy {
		// 2. Position size cap. The dollar cap is not a deny: sizing
		// clamps the order to it instead.
		if in.Book.MaxPositionPct > 0 && p.SizePct > in.Book.MaxPositionPct {
			return deny(fmt.Sprintf("size %.1f%% exceeds book cap %.1f%%", p.SizePct, in.Book.MaxPositionPct))
		}

		// 3. Book capacity.
		if in.OpenCount >= in.Book.MaxPositions {
			return deny(fmt.Sprintf("book at capacity (%d/%d open positions)", in.OpenCount, in.Book.MaxPositions))
		}
	}

	// 4. Circuit breaker halts everything in scope, sells included.
	if in.BreakerActive {
		return deny("circuit breaker active")
	}

	v := Verdict{Allowed: true}

	if isBuy {
		// 5. Wash-sale hard block: a December loss sale must not be
		// rebought inside its window.
		if in.Wash.HardBlocked {
			return deny(fmt.Sprintf("wash sale blackout until %s (year-end loss protection)",
				in.Wash.BlackoutUntil.Format("2006-01-02")))
		}
		// 6. Wash-sale soft flag: allowed, surfaced for review.
		if in.Wash.Flagged {
			v.WashFlagged = true
			v.ManualReasons = append(v.ManualReasons, "rebuy inside wash sale window")
		}
	}

	// 7. Manual review routing.
	if !in.AutoApproveEnabled {
		v.ManualReasons = append(v.ManualReasons, "auto-approve disabled")
	}
	if p.Confidence < in.Book.AutoApproveConf {
		v.ManualReasons = append(v.ManualReasons,
			fmt.Sprintf("confidence %.2f below auto-approve threshold %.2f", p.Confidence, in.Book.AutoApproveConf))
	}
	if isBuy && in.ManualReviewSizePct > 0 && p.SizePct > in.ManualReviewSizePct {
		v.ManualReasons = append(v.ManualReasons,
			fmt.Sprintf("size %.1f%% above manual review threshold %.1f%%", p.SizePct, in.ManualReviewSizePct))
	}
	if isBuy && in.FirstPosition {
		v.ManualReasons = append(v.ManualReasons,
			fmt.Sprintf("first position in %s for this book", p.Ticker))
	}
	v.RequiresManual = len(v.ManualReasons) > 0
	return v
}

type gateStore interface {
	CountOpenPositions(ctx context.Context, book domain.Book) (int, error)
	EverHeld(ctx context.Context, ticker string, book domain.Book) (bool, error)
}

// Gate gathers the state snapshot for a proposal and evaluates it.
type Gate struct {
	store   gateStore
	breaker *CircuitBreaker
	wash    *ledger.WashSaleLedger
	now     func() time.Time
}

// NewGate builds a gate over the store, breaker, and wash-sale ledger.
func NewGate(store gateStore, breaker *CircuitBreaker, wash *ledger.WashSaleLedger) *Gate {
	return &Gate{store: store, breaker: breaker, wash: wash, now: time.Now}
}

// Review snapshots current state and evaluates the proposal against it.
// autoApprove is the runtime toggle, which can differ from the configured
// initial value.
func (g *Gate) Review(ctx context.Context, p domain.Proposal, cfg *config.Config, autoApprove bool) (Verdict, error) {
	book := cfg.Book(p.Book)
	in := Inputs{
		Proposal:            p,
		Book:                book,
		AutoApproveEnabled:  autoApprove,
		ManualReviewSizePct: cfg.Risk.ManualReviewSizePct,
	}

	active, err := g.breaker.IsActive(ctx, p.Book)
	if err != nil {
		return Verdict{}, err
	}
	in.BreakerActive = active

	if p.Direction == domain.Buy {
		count, err := g.store.CountOpenPositions(ctx, p.Book)
		if err != nil {
			return Verdict{}, err
		}
		in.OpenCount = count
		held, err := g.store.EverHeld(ctx, p.Ticker, p.Book)
		if err != nil {
			return Verdict{}, err
		}
		in.FirstPosition = !held
		st, err := g.wash.Check(ctx, p.Ticker, g.now().UTC())
		if err != nil {
			return Verdict{}, err
		}
		in.Wash = st
	}
	return Evaluate(in), nil
}
