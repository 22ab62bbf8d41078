package notifier

import (
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/risk"
)

const maxMessageLen = 3800

// PendingReviewMessage renders the notification for a proposal that needs
// manual approval.
func PendingReviewMessage(p domain.Proposal, reasons []string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏳ Pending review: %s %s (%s)\n", p.Direction, p.Ticker, p.Book))
	b.WriteString(fmt.Sprintf("confidence %.2f", p.Confidence))
	if p.Direction == domain.Buy {
		b.WriteString(fmt.Sprintf(", size %.1f%%", p.SizePct))
	}
	b.WriteString("\n")
	for _, r := range reasons {
		if r = strings.TrimSpace(r); r != "" {
			b.WriteString("- " + r + "\n")
		}
	}
	if p.WashSaleFlagged {
		b.WriteString("⚠️ wash sale window active\n")
	}
	return clamp(b.String())
}

// ExecutedMessage renders the notification for a completed fill.
func ExecutedMessage(p domain.Proposal, qty, filledPrice, slippage float64) string {
	return clamp(fmt.Sprintf("✅ Executed: %s %.4g %s @ %.4f (%s, slippage %+.4f)",
		p.Direction, qty, p.Ticker, filledPrice, p.Book, slippage))
}

// FailedMessage renders the notification for a failed execution.
func FailedMessage(p domain.Proposal, reason string) string {
	return clamp(fmt.Sprintf("❌ Failed: %s %s (%s)\n%s", p.Direction, p.Ticker, p.Book, reason))
}

// BreakerMessage renders the notification for a circuit breaker trip.
func BreakerMessage(evt domain.BreakerEvent, report *risk.DailyLossReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🛑 Circuit breaker: %s scope=%s\n%s", evt.EventType, evt.ScopeLabel(), evt.Reason))
	if report != nil {
		b.WriteString(fmt.Sprintf("\npnl today %.2f, limit %.2f", report.PnLToday, report.Limit))
	}
	if !evt.TriggeredAt.IsZero() {
		b.WriteString("\nat " + evt.TriggeredAt.Format(time.RFC3339))
	}
	return clamp(b.String())
}

func clamp(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen] + "..."
	}
	return s
}
