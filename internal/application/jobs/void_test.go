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

func TestVoidExecute_Success(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)

	v, err := h.voidEngine().Execute(context.Background(), testutil.TestOrderID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSent, v.State)
	require.NotNil(t, v.VoidID)
	assert.Equal(t, 1, h.gateway.Calls("VoidOnline"))
}

func TestVoidExecute_Preconditions(t *testing.T) {
	t.Run("not authorized", func(t *testing.T) {
		h := newHarness(gateway.TransactionFulfill)
		_, err := h.voidEngine().Execute(context.Background(), testutil.TestOrderID)
		require.ErrorIs(t, err, domainErrors.ErrNotVoidable)
	})

	t.Run("completion running", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		h.seedCompletion(job.StateItemsUpdated)
		_, err := h.voidEngine().Execute(context.Background(), testutil.TestOrderID)
		require.ErrorIs(t, err, domainErrors.ErrOperationInProgress)
		assert.Zero(t, h.gateway.Calls("VoidOnline"))
	})

	t.Run("void running", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		h.seedVoid(job.StateSent)
		_, err := h.voidEngine().Execute(context.Background(), testutil.TestOrderID)
		require.ErrorIs(t, err, domainErrors.ErrOperationInProgress)
	})
}

func TestVoidSend_ClientError(t *testing.T) {
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedVoid(job.StateCreated)
	h.gateway.VoidOnlineFunc = func(context.Context, int64, int64) (*gateway.Void, error) {
		return nil, &gateway.ClientError{StatusCode: 409, Reason: "already_completed", Message: "Transaction already completed"}
	}

	v, err := h.voidEngine().Send(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailure, v.State)
	assert.Equal(t, "Could not send the void. Error: Transaction already completed", *v.FailureReason)
}

func TestVoidSend_TransientError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(gateway.TransactionAuthorized)
	seeded := h.seedVoid(job.StateCreated)
	h.gateway.VoidOnlineFunc = func(context.Context, int64, int64) (*gateway.Void, error) {
		return nil, errors.New("503 service unavailable")
	}

	_, err := h.voidEngine().Send(ctx, seeded.ID)
	require.Error(t, err)

	stored, err := h.voids.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCreated, stored.State)
}

func TestVoidReconcile(t *testing.T) {
	t.Run("by void id", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		seeded := job.NewVoid(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID)
		require.NoError(t, seeded.MarkSent(800))
		h.voids.Put(seeded)

		v, err := h.voidEngine().Reconcile(context.Background(), &gateway.Void{
			ID: 800, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationSuccessful,
		})
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, v.ID)
		assert.Equal(t, job.StateSuccess, v.State)
	})

	t.Run("falls back to running job", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(gateway.TransactionAuthorized)
		seeded := h.seedVoid(job.StateCreated)

		v, err := h.voidEngine().Reconcile(ctx, &gateway.Void{
			ID: 801, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationSuccessful,
		})
		require.NoError(t, err)
		assert.Equal(t, job.StateSuccess, v.State)

		stored, err := h.voids.GetByVoidID(ctx, testutil.TestSpaceID, 801)
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, stored.ID)
	})

	t.Run("fallback skips job with other void id", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(gateway.TransactionAuthorized)
		seeded := job.NewVoid(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID)
		require.NoError(t, seeded.MarkSent(800))
		h.voids.Put(seeded)

		v, err := h.voidEngine().Reconcile(ctx, &gateway.Void{
			ID: 804, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationSuccessful,
		})
		require.NoError(t, err)
		assert.Nil(t, v)

		stored, err := h.voids.GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StateSent, stored.State)
		assert.Empty(t, h.observer.states)
	})

	t.Run("terminal job unchanged", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		seeded := job.NewVoid(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID)
		require.NoError(t, seeded.MarkSent(802))
		require.NoError(t, seeded.MarkSucceeded())
		h.voids.Put(seeded)

		v, err := h.voidEngine().Reconcile(context.Background(), &gateway.Void{
			ID: 802, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationFailed,
		})
		require.NoError(t, err)
		assert.Equal(t, job.StateSuccess, v.State)
		assert.Empty(t, h.observer.states)
	})

	t.Run("no job", func(t *testing.T) {
		h := newHarness(gateway.TransactionAuthorized)
		v, err := h.voidEngine().Reconcile(context.Background(), &gateway.Void{
			ID: 803, SpaceID: testutil.TestSpaceID, TransactionID: testutil.TestTransactionID, State: gateway.OperationFailed,
		})
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}
