package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradedesk/internal/broker"
	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/notifier"
	"tradedesk/internal/risk"
)

type engineStore interface {
	CreateExecution(ctx context.Context, e *domain.Execution) error
	UpdateExecution(ctx context.Context, e *domain.Execution) error
	ListPendingExecutions(ctx context.Context) ([]domain.Execution, error)
	GetProposal(ctx context.Context, id int64) (*domain.Proposal, error)
	FinalizeProposal(ctx context.Context, id int64, status domain.ProposalStatus, reason string) error
}

type auditLog interface {
	Append(ctx context.Context, eventType, subject string, detail interface{}) error
}

// Engine executes approved proposals: it sizes the order, submits it,
// polls to a terminal state, and applies the fill to the position ledger.
type Engine struct {
	store     engineStore
	broker    broker.Broker
	positions *ledger.PositionLedger
	breaker   *risk.CircuitBreaker
	hub       *events.Hub
	notify    notifier.TextNotifier
	journal   auditLog
	cfg       func() *config.Config
	now       func() time.Time
}

// NewEngine wires an engine. cfg is called per execution so hot reloads
// take effect without restarting.
func NewEngine(store engineStore, brk broker.Broker, positions *ledger.PositionLedger, cb *risk.CircuitBreaker, hub *events.Hub, notify notifier.TextNotifier, journal auditLog, cfg func() *config.Config) *Engine {
	return &Engine{
		store:     store,
		broker:    brk,
		positions: positions,
		breaker:   cb,
		hub:       hub,
		notify:    notify,
		journal:   journal,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Execute runs one approved proposal to a terminal outcome. The proposal
// must already be APPROVED; the engine finalizes it to EXECUTED, FAILED,
// or SKIPPED.
func (e *Engine) Execute(ctx context.Context, p domain.Proposal) (Outcome, error) {
	cfg := e.cfg()
	book := cfg.Book(p.Book)

	quote, err := e.broker.GetQuote(ctx, p.Ticker)
	if err != nil {
		return e.fail(ctx, p, "", fmt.Sprintf("quote unavailable: %v", err))
	}
	intended := intendedPrice(quote, p.Direction)
	if intended <= 0 {
		return e.fail(ctx, p, "", fmt.Sprintf("no usable price for %s", p.Ticker))
	}

	qty, err := e.orderQty(ctx, p, book, intended)
	if err != nil {
		return e.fail(ctx, p, "", err.Error())
	}
	if qty <= 0 {
		reason := fmt.Sprintf("computed quantity is zero at price %.4f", intended)
		if err := e.store.FinalizeProposal(ctx, p.ID, domain.StatusSkipped, reason); err != nil {
			logger.Errorf("finalize skipped proposal %d: %v", p.ID, err)
		}
		e.audit(ctx, "execution_skipped", p.ID, map[string]any{"reason": reason})
		return Cancelled, nil
	}

	exec := &domain.Execution{
		ProposalID:    p.ID,
		Side:          p.Direction,
		Qty:           qty,
		IntendedPrice: intended,
		Status:        domain.ExecPending,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return e.fail(ctx, p, "", fmt.Sprintf("persist execution: %v", err))
	}

	orderID, err := e.broker.SubmitMarketOrder(ctx, p.Ticker, p.Direction, qty)
	if err != nil {
		e.markExec(ctx, exec, domain.ExecFailed, nil)
		return e.fail(ctx, p, "", fmt.Sprintf("order submit: %v", err))
	}
	exec.OrderID = orderID
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("persist order id for execution %d: %v", exec.ID, err)
	}
	e.audit(ctx, "order_submitted", p.ID, map[string]any{"orderId": orderID, "qty": qty, "intended": intended})

	state, outcome := e.poll(ctx, orderID, cfg.Execution)
	switch outcome {
	case Filled:
		return e.settle(ctx, p, exec, state, book)
	case TimedOut:
		// Exactly one cancel; a fill racing the cancel is caught by the
		// startup reconciliation pass.
		if err := e.broker.CancelOrder(ctx, orderID); err != nil {
			logger.Errorf("cancel timed out order %s: %v", orderID, err)
		}
		e.markExec(ctx, exec, domain.ExecCancelled, nil)
		_, err := e.fail(ctx, p, orderID, fmt.Sprintf("no fill within %ds, order cancelled", cfg.Execution.PollTimeoutSeconds))
		return TimedOut, err
	default:
		e.markExec(ctx, exec, domain.ExecCancelled, state.Raw)
		_, err := e.fail(ctx, p, orderID, fmt.Sprintf("order ended %s at broker", state.Status))
		return Cancelled, err
	}
}

// poll watches the order until it is terminal or the window closes.
func (e *Engine) poll(ctx context.Context, orderID string, cfg config.ExecutionConfig) (broker.OrderState, Outcome) {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	deadline := e.now().Add(time.Duration(cfg.PollTimeoutSeconds) * time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := e.broker.GetOrderState(ctx, orderID)
		if err != nil {
			logger.Warnf("poll order %s: %v", orderID, err)
		} else {
			switch state.Status {
			case broker.OrderFilled:
				return state, Filled
			case broker.OrderCancelled, broker.OrderRejected:
				return state, Cancelled
			}
		}
		if e.now().After(deadline) {
			return state, TimedOut
		}
		select {
		case <-ctx.Done():
			return broker.OrderState{}, TimedOut
		case <-ticker.C:
		}
	}
}

// settle books a fill: execution row, position ledger, proposal status,
// events, and the post-sell breaker checks.
func (e *Engine) settle(ctx context.Context, p domain.Proposal, exec *domain.Execution, state broker.OrderState, book config.BookConfig) (Outcome, error) {
	filledAt := e.now().UTC()
	exec.Qty = state.FilledQty
	exec.FilledPrice = state.FilledAvgPrice
	exec.Slippage = state.FilledAvgPrice - exec.IntendedPrice
	exec.Status = domain.ExecFilled
	exec.RawOrder = state.Raw
	exec.ExecutedAt = &filledAt
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("persist filled execution %d: %v", exec.ID, err)
	}

	var applyErr error
	if p.Direction == domain.Buy {
		_, applyErr = e.positions.ApplyBuy(ctx, p.Ticker, p.Book, state.FilledQty, state.FilledAvgPrice, filledAt)
	} else {
		_, applyErr = e.positions.ApplySell(ctx, p.Ticker, p.Book, state.FilledQty, state.FilledAvgPrice, filledAt)
	}
	if applyErr != nil {
		// The order filled at the broker; the proposal is EXECUTED even
		// though the ledger write failed. Reconciliation cannot undo a
		// fill, so surface it loudly instead.
		logger.Errorf("ledger update after fill of proposal %d: %v", p.ID, applyErr)
		e.notifySend(notifier.FailedMessage(p, fmt.Sprintf("fill booked at broker but ledger update failed: %v", applyErr)))
	}

	if err := e.store.FinalizeProposal(ctx, p.ID, domain.StatusExecuted, "filled"); err != nil {
		logger.Errorf("finalize executed proposal %d: %v", p.ID, err)
	}
	e.audit(ctx, "order_filled", p.ID, map[string]any{
		"orderId": exec.OrderID, "qty": exec.Qty, "price": exec.FilledPrice, "slippage": exec.Slippage,
	})
	e.publish(events.NewEvent(events.TypeTradeExecuted, events.TradeExecuted{
		ProposalID:  p.ID,
		Instrument:  p.Ticker,
		Book:        string(p.Book),
		Side:        string(p.Direction),
		Qty:         exec.Qty,
		FilledPrice: exec.FilledPrice,
		Slippage:    exec.Slippage,
		OrderID:     exec.OrderID,
	}))
	e.notifySend(notifier.ExecutedMessage(p, exec.Qty, exec.FilledPrice, exec.Slippage))

	// The breaker checks read the store, not the fill; they run even when
	// the ledger write above failed.
	if p.Direction == domain.Sell {
		e.postSellChecks(ctx, p.Book, book)
	}
	return Filled, nil
}

// postSellChecks runs the daily loss and consecutive loss breakers after
// a sell has been booked.
func (e *Engine) postSellChecks(ctx context.Context, book domain.Book, cfg config.BookConfig) {
	report, err := e.breaker.CheckDailyLoss(ctx, book, cfg.Allocation, cfg.DailyLossLimitPct)
	if err != nil {
		logger.Errorf("daily loss check %s: %v", book, err)
	} else if report.Tripped {
		e.publish(events.NewEvent(events.TypeCircuitBreaker, events.CircuitBreaker{
			Scope:     report.Event.ScopeLabel(),
			EventType: report.Event.EventType,
			Reason:    report.Event.Reason,
			PnLToday:  report.PnLToday,
			Limit:     report.Limit,
		}))
		e.notifySend(notifier.BreakerMessage(*report.Event, report))
	}

	evt, err := e.breaker.CheckConsecutiveLosses(ctx, book, e.cfg().Risk.ConsecutiveLossMax)
	if err != nil {
		logger.Errorf("consecutive loss check %s: %v", book, err)
	} else if evt != nil {
		e.publish(events.NewEvent(events.TypeCircuitBreaker, events.CircuitBreaker{
			Scope: evt.ScopeLabel(), EventType: evt.EventType, Reason: evt.Reason,
		}))
		e.notifySend(notifier.BreakerMessage(*evt, nil))
	}
}

// orderQty sizes the order. Buys convert the size percentage of the book
// allocation into whole shares; sells liquidate the full open quantity.
func (e *Engine) orderQty(ctx context.Context, p domain.Proposal, book config.BookConfig, price float64) (float64, error) {
	if p.Direction == domain.Sell {
		qty, err := e.positions.OpenQty(ctx, p.Ticker, p.Book)
		if err != nil {
			return 0, err
		}
		if qty > 0 {
			return qty, nil
		}
		// Ledger is flat; fall back to broker-reported holdings so an
		// out-of-band position can still be closed.
		logger.Warnf("sell %s/%s with flat ledger, falling back to broker positions", p.Ticker, p.Book)
		positions, err := e.broker.ListPositions(ctx)
		if err != nil {
			return 0, fmt.Errorf("broker positions fallback: %w", err)
		}
		for _, pos := range positions {
			if pos.Ticker == p.Ticker && pos.Qty > 0 {
				return pos.Qty, nil
			}
		}
		return 0, fmt.Errorf("nothing to sell for %s", p.Ticker)
	}

	dollars := p.SizePct / 100 * book.Allocation
	if book.MaxPositionUSD > 0 && dollars > book.MaxPositionUSD {
		dollars = book.MaxPositionUSD
	}
	return math.Floor(dollars / price), nil
}

// Reconcile resolves executions left PENDING by a crash: fills are booked,
// still-open orders are cancelled.
func (e *Engine) Reconcile(ctx context.Context) error {
	pending, err := e.store.ListPendingExecutions(ctx)
	if err != nil {
		return err
	}
	for _, exec := range pending {
		exec := exec
		if exec.OrderID == "" {
			e.markExec(ctx, &exec, domain.ExecFailed, nil)
			continue
		}
		state, err := e.broker.GetOrderState(ctx, exec.OrderID)
		if err != nil {
			logger.Warnf("reconcile order %s: %v", exec.OrderID, err)
			continue
		}
		p, err := e.store.GetProposal(ctx, exec.ProposalID)
		if err != nil || p == nil {
			logger.Errorf("reconcile execution %d: proposal %d missing", exec.ID, exec.ProposalID)
			continue
		}
		switch state.Status {
		case broker.OrderFilled:
			logger.Infof("reconcile: booking fill for order %s found after restart", exec.OrderID)
			book := e.cfg().Book(p.Book)
			if _, err := e.settle(ctx, *p, &exec, state, book); err != nil {
				logger.Errorf("reconcile settle %s: %v", exec.OrderID, err)
			}
		case broker.OrderOpen:
			if err := e.broker.CancelOrder(ctx, exec.OrderID); err != nil {
				logger.Errorf("reconcile cancel %s: %v", exec.OrderID, err)
				continue
			}
			e.markExec(ctx, &exec, domain.ExecCancelled, nil)
			if _, err := e.fail(ctx, *p, exec.OrderID, "order cancelled during startup reconciliation"); err != nil {
				logger.Errorf("reconcile fail %s: %v", exec.OrderID, err)
			}
		default:
			e.markExec(ctx, &exec, domain.ExecCancelled, state.Raw)
			if _, err := e.fail(ctx, *p, exec.OrderID, fmt.Sprintf("order ended %s at broker", state.Status)); err != nil {
				logger.Errorf("reconcile fail %s: %v", exec.OrderID, err)
			}
		}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, p domain.Proposal, orderID, reason string) (Outcome, error) {
	logger.Errorf("execution failed for proposal %d (%s %s): %s", p.ID, p.Direction, p.Ticker, reason)
	if err := e.store.FinalizeProposal(ctx, p.ID, domain.StatusFailed, reason); err != nil {
		logger.Errorf("finalize failed proposal %d: %v", p.ID, err)
	}
	e.audit(ctx, "execution_failed", p.ID, map[string]any{"orderId": orderID, "reason": reason})
	e.publish(events.NewEvent(events.TypeTradeFailed, events.TradeFailed{
		ProposalID: p.ID,
		Instrument: p.Ticker,
		Action:     string(p.Direction),
		OrderID:    orderID,
		Error:      reason,
	}))
	e.notifySend(notifier.FailedMessage(p, reason))
	return Error, nil
}

func (e *Engine) markExec(ctx context.Context, exec *domain.Execution, status domain.ExecutionStatus, raw []byte) {
	exec.Status = status
	if raw != nil {
		exec.RawOrder = raw
	}
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("mark execution %d %s: %v", exec.ID, status, err)
	}
}

func (e *Engine) publish(evt events.Event) {
	if e.hub != nil {
		e.hub.Publish(evt)
	}
}

func (e *Engine) notifySend(text string) {
	if e.notify == nil {
		return
	}
	if err := e.notify.SendText(text); err != nil {
		logger.Warnf("notification failed: %v", err)
	}
}

func (e *Engine) audit(ctx context.Context, eventType string, proposalID int64, detail interface{}) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, eventType, fmt.Sprintf("proposal:%d", proposalID), detail); err != nil {
		logger.Warnf("journal append %s: %v", eventType, err)
	}
}

func intendedPrice(q broker.Quote, side domain.Direction) float64 {
	if side == domain.Buy {
		if q.Ask > 0 {
			return q.Ask
		}
	} else if q.Bid > 0 {
		return q.Bid
	}
	return q.Mid()
}
