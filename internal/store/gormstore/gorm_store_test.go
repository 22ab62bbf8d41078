package gormstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"tradedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpdateExecutionPersistsOrderID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &domain.Execution{
		ProposalID:    1,
		Side:          domain.Buy,
		Qty:           2,
		IntendedPrice: 7.0,
		Status:        domain.ExecPending,
	}
	require.NoError(t, store.CreateExecution(ctx, exec))
	require.NotZero(t, exec.ID)

	// The broker order ID arrives after the shell is persisted; a restart
	// during polling must find it again.
	exec.OrderID = "order-abc"
	exec.RawOrder = json.RawMessage(`{"id":"order-abc"}`)
	require.NoError(t, store.UpdateExecution(ctx, exec))

	pending, err := store.ListPendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "order-abc", pending[0].OrderID)
	assert.JSONEq(t, `{"id":"order-abc"}`, string(pending[0].RawOrder))

	// Terminal executions leave the pending set.
	exec.Status = domain.ExecFilled
	exec.FilledPrice = 7.05
	exec.Slippage = 0.05
	require.NoError(t, store.UpdateExecution(ctx, exec))
	pending, err = store.ListPendingExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
