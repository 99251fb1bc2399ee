package jobs_test

import (
	"context"
	"errors"
	"testing"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionExecute_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)

	var pushed []gateway.LineItem
	h.orders.GroupLineItemsFunc = func(context.Context, int64) ([]gateway.LineItem, error) {
		return testutil.NewTestLineItems(), nil
	}
	h.gateway.UpdateLineItemsFunc = func(_ context.Context, _, _ int64, items []gateway.LineItem) error {
		pushed = items
		return nil
	}

	c, err := h.completionEngine().Execute(ctx, testutil.TestOrderID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSent, c.State)
	require.NotNil(t, c.CompletionID)
	assert.Len(t, pushed, 2)
	assert.Equal(t, 1, h.gateway.Calls("CompleteOnline"))
	assert.Equal(t, []job.State{job.StateCreated, job.StateItemsUpdated, job.StateSent}, h.observer.states)
}

func TestCompletionExecute_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		state   gateway.TransactionState
		seed    func(h *harness)
		wantErr error
	}{
		{
			name:    "not authorized",
			state:   gateway.TransactionCompleted,
			wantErr: domainErrors.ErrNotCompletable,
		},
		{
			name:    "completion running",
			state:   gateway.TransactionAuthorized,
			seed:    func(h *harness) { h.seedCompletion(job.StateSent) },
			wantErr: domainErrors.ErrOperationInProgress,
		},
		{
			name:    "void running",
			state:   gateway.TransactionAuthorized,
			seed:    func(h *harness) { h.seedVoid(job.StateCreated) },
			wantErr: domainErrors.ErrOperationInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.state)
			if tt.seed != nil {
				tt.seed(h)
			}

			_, err := h.completionEngine().Execute(context.Background(), testutil.TestOrderID)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, h.gateway.Calls("UpdateLineItems"))
			assert.Zero(t, h.gateway.Calls("CompleteOnline"))
		})
	}
}

func TestCompletionExecute_LineItemRejection(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)
	h.gateway.UpdateLineItemsFunc = func(context.Context, int64, int64, []gateway.LineItem) error {
		return &gateway.ClientError{StatusCode: 422, Reason: "invalid_line_items", Message: "Totals do not match"}
	}

	c, err := h.completionEngine().Execute(context.Background(), testutil.TestOrderID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailure, c.State)
	assert.Equal(t, "Could not update the line items. Error: Totals do not match", *c.FailureReason)
	assert.Zero(t, h.gateway.Calls("CompleteOnline"))
}

func TestCompletionSend_TransientErrorKeepsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedCompletion(job.StateItemsUpdated)
	h.gateway.CompleteOnlineFunc = func(context.Context, int64, int64) (*gateway.Completion, error) {
		return nil, errors.New("gateway timeout")
	}
	engine := h.completionEngine()

	_, err := engine.Send(ctx, seeded.ID)
	require.Error(t, err)

	stored, err := h.completions.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateItemsUpdated, stored.State)

	h.gateway.CompleteOnlineFunc = nil
	c, err := engine.Send(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSent, c.State)

	c, err = engine.Send(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSent, c.State)
	assert.Equal(t, 2, h.gateway.Calls("CompleteOnline"))
}

func TestCompletionReconcile_ByCompletionID(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedCompletion(job.StateCreated)
	seeded.State = job.StateSent
	seeded.CompletionID = testutil.Int64Ptr(900)
	h.completions.Put(seeded)

	c, err := h.completionEngine().Reconcile(context.Background(), &gateway.Completion{
		ID:            900,
		SpaceID:       testutil.TestSpaceID,
		TransactionID: testutil.TestTransactionID,
		State:         gateway.OperationSuccessful,
	})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, c.ID)
	assert.Equal(t, job.StateSuccess, c.State)
}

func TestCompletionReconcile_FallsBackToRunningJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedCompletion(job.StateItemsUpdated)

	c, err := h.completionEngine().Reconcile(ctx, &gateway.Completion{
		ID:            901,
		SpaceID:       testutil.TestSpaceID,
		TransactionID: testutil.TestTransactionID,
		State:         gateway.OperationFailed,
		FailureReason: testutil.StringPtr("Authorization expired"),
	})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, c.ID)
	assert.Equal(t, job.StateFailure, c.State)

	stored, err := h.completions.GetByCompletionID(ctx, testutil.TestSpaceID, 901)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, stored.ID)
	assert.Equal(t, "Authorization expired", *stored.FailureReason)
}

func TestCompletionReconcile_FallbackSkipsJobWithOtherCompletionID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedCompletion(job.StateCreated)
	seeded.State = job.StateSent
	seeded.CompletionID = testutil.Int64Ptr(900)
	h.completions.Put(seeded)

	c, err := h.completionEngine().Reconcile(ctx, &gateway.Completion{
		ID:            902,
		SpaceID:       testutil.TestSpaceID,
		TransactionID: testutil.TestTransactionID,
		State:         gateway.OperationFailed,
	})
	require.NoError(t, err)
	assert.Nil(t, c)

	stored, err := h.completions.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSent, stored.State)
	assert.Equal(t, int64(900), *stored.CompletionID)
}

func TestCompletionReconcile_Ignored(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)
	engine := h.completionEngine()

	c, err := engine.Reconcile(context.Background(), &gateway.Completion{
		ID: 1, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationSuccessful,
	})
	require.NoError(t, err)
	assert.Nil(t, c)

	h.seedCompletion(job.StateSent)
	c, err = engine.Reconcile(context.Background(), &gateway.Completion{
		ID: 1, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationPending,
	})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 1, h.lock.Calls(testutil.TestSpaceID, testutil.TestTransactionID))
}

func TestCompletionUpdateForOrder(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedCompletion(job.StateCreated)

	c, err := h.completionEngine().UpdateForOrder(context.Background(), testutil.TestOrderID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, c.ID)
	assert.Equal(t, job.StateSent, c.State)
}
