// Package execution turns approved proposals into broker orders, polls
// them to a terminal state, and books fills into the ledger.
package execution

// Outcome is the terminal result of one execution attempt.
type Outcome string

const (
	// Filled: the order filled and the ledger was updated.
	Filled Outcome = "FILLED"
	// Cancelled: the broker cancelled or rejected the order.
	Cancelled Outcome = "CANCELLED"
	// TimedOut: the order did not reach a terminal state within the poll
	// window and a cancel was issued.
	TimedOut Outcome = "TIMED_OUT"
	// Error: submission or bookkeeping failed outright.
	Error Outcome = "ERROR"
)
