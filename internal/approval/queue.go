// Package approval runs proposals through the risk gate and routes them
// to auto-execution or the manual review queue.
package approval

import (
	"context"
	"fmt"
	"sync"

	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/logger"
	"tradedesk/internal/notifier"
	"tradedesk/internal/proposal"
	"tradedesk/internal/risk"

	"golang.org/x/sync/errgroup"
)

const maxConcurrentProposals = 4

type queueStore interface {
	CreateProposal(ctx context.Context, p *domain.Proposal) error
	GetProposal(ctx context.Context, id int64) (*domain.Proposal, error)
	ListPendingProposals(ctx context.Context) ([]domain.Proposal, error)
	ResolveProposalIfPending(ctx context.Context, id int64, status domain.ProposalStatus, by domain.Resolver, reason string) (*domain.Proposal, bool, error)
	FlagWashSale(ctx context.Context, id int64) error
}

type executor interface {
	Execute(ctx context.Context, p domain.Proposal) (execution.Outcome, error)
}

type auditLog interface {
	Append(ctx context.Context, eventType, subject string, detail interface{}) error
}

// Queue is the approval pipeline. It owns the runtime auto-approve
// toggle; everything else it reads fresh per proposal.
type Queue struct {
	store   queueStore
	gate    *risk.Gate
	engine  executor
	hub     *events.Hub
	notify  notifier.TextNotifier
	journal auditLog
	cfg     func() *config.Config

	mu          sync.Mutex
	autoApprove bool
}

// NewQueue wires the pipeline. The auto-approve toggle starts at the
// configured value.
func NewQueue(store queueStore, gate *risk.Gate, engine executor, hub *events.Hub, notify notifier.TextNotifier, journal auditLog, cfg func() *config.Config) *Queue {
	return &Queue{
		store:       store,
		gate:        gate,
		engine:      engine,
		hub:         hub,
		notify:      notify,
		journal:     journal,
		cfg:         cfg,
		autoApprove: cfg().Risk.AutoApprove,
	}
}

// AutoApproveEnabled returns the runtime toggle.
func (q *Queue) AutoApproveEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.autoApprove
}

// SetAutoApprove flips the runtime toggle and returns the previous value.
func (q *Queue) SetAutoApprove(enabled bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.autoApprove
	q.autoApprove = enabled
	if prev != enabled {
		logger.Infof("auto-approve toggled %v -> %v", prev, enabled)
	}
	return prev
}

// Submit validates one raw proposal payload, persists it, and routes it
// through the gate. The returned proposal carries its final routing state.
func (q *Queue) Submit(ctx context.Context, raw []byte) (*domain.Proposal, error) {
	p, err := proposal.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := q.store.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	q.audit(ctx, "proposal_created", p.ID, map[string]any{
		"ticker": p.Ticker, "book": p.Book, "action": p.Direction, "confidence": p.Confidence,
	})
	return q.route(ctx, *p)
}

// route evaluates the gate verdict and either rejects, parks for manual
// review, or auto-approves and executes.
func (q *Queue) route(ctx context.Context, p domain.Proposal) (*domain.Proposal, error) {
	verdict, err := q.gate.Review(ctx, p, q.cfg(), q.AutoApproveEnabled())
	if err != nil {
		return nil, err
	}

	if !verdict.Allowed {
		resolved, _, err := q.store.ResolveProposalIfPending(ctx, p.ID, domain.StatusRejected, domain.ResolverAuto, verdict.DenyReason)
		if err != nil {
			return nil, err
		}
		q.audit(ctx, "proposal_rejected", p.ID, map[string]any{"reason": verdict.DenyReason, "by": "auto"})
		logger.Infof("proposal %d rejected: %s", p.ID, verdict.DenyReason)
		return resolved, nil
	}

	if verdict.WashFlagged {
		if err := q.store.FlagWashSale(ctx, p.ID); err != nil {
			logger.Errorf("flag wash sale on proposal %d: %v", p.ID, err)
		}
		p.WashSaleFlagged = true
	}

	if verdict.RequiresManual {
		q.audit(ctx, "proposal_parked", p.ID, map[string]any{"reasons": verdict.ManualReasons})
		q.publish(events.NewEvent(events.TypeTradePending, events.PendingFrom(p)))
		q.notifySend(notifier.PendingReviewMessage(p, verdict.ManualReasons))
		logger.Infof("proposal %d awaiting manual review: %v", p.ID, verdict.ManualReasons)
		fresh, err := q.store.GetProposal(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}

	return q.approveAndExecute(ctx, p.ID, domain.ResolverAuto, "auto-approved")
}

// approveAndExecute moves a PENDING proposal to APPROVED and runs it. A
// lost race returns the winner's state without executing.
func (q *Queue) approveAndExecute(ctx context.Context, id int64, by domain.Resolver, reason string) (*domain.Proposal, error) {
	resolved, changed, err := q.store.ResolveProposalIfPending(ctx, id, domain.StatusApproved, by, reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		logger.Warnf("proposal %d already resolved to %s, not executing", id, resolved.Status)
		return resolved, nil
	}
	q.audit(ctx, "proposal_approved", id, map[string]any{"by": string(by)})
	if _, err := q.engine.Execute(ctx, *resolved); err != nil {
		return nil, err
	}
	return q.store.GetProposal(ctx, id)
}

// Approve resolves a pending proposal by operator action and executes it.
// Approving an already resolved proposal is a no-op returning its state.
func (q *Queue) Approve(ctx context.Context, id int64) (*domain.Proposal, error) {
	p, err := q.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %d not found", id)
	}
	return q.approveAndExecute(ctx, id, domain.ResolverManual, "approved by operator")
}

// Reject resolves a pending proposal by operator action. Rejecting an
// already resolved proposal is a no-op returning its state.
func (q *Queue) Reject(ctx context.Context, id int64, reason string) (*domain.Proposal, error) {
	if reason == "" {
		reason = "rejected by operator"
	}
	resolved, changed, err := q.store.ResolveProposalIfPending(ctx, id, domain.StatusRejected, domain.ResolverManual, reason)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, fmt.Errorf("proposal %d not found", id)
	}
	if changed {
		q.audit(ctx, "proposal_rejected", id, map[string]any{"reason": reason, "by": "manual"})
	}
	return resolved, nil
}

// ListPending returns the proposals awaiting manual review.
func (q *Queue) ListPending(ctx context.Context) ([]domain.Proposal, error) {
	return q.store.ListPendingProposals(ctx)
}

// SubmitBatch processes several payloads concurrently. A panic in one
// proposal is contained and reported as that proposal's error.
func (q *Queue) SubmitBatch(ctx context.Context, payloads [][]byte) []error {
	results := make([]error, len(payloads))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProposals)
	for i, raw := range payloads {
		i, raw := i, raw
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("panic processing proposal payload %d: %v", i, r)
					results[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			if _, err := q.Submit(ctx, raw); err != nil {
				results[i] = err
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (q *Queue) publish(evt events.Event) {
	if q.hub != nil {
		q.hub.Publish(evt)
	}
}

func (q *Queue) notifySend(text string) {
	if q.notify == nil {
		return
	}
	if err := q.notify.SendText(text); err != nil {
		logger.Warnf("notification failed: %v", err)
	}
}

func (q *Queue) audit(ctx context.Context, eventType string, id int64, detail interface{}) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Append(ctx, eventType, fmt.Sprintf("proposal:%d", id), detail); err != nil {
		logger.Warnf("journal append %s: %v", eventType, err)
	}
}
