package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobController_RequiresAuth(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, s.gateway.Calls("VoidOnline"))
}

func TestJobController_Void(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t)})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[JobResponse](t, w)
	assert.Equal(t, job.KindVoid, resp.Kind)
	assert.Equal(t, job.StateSent, resp.State)
	assert.Equal(t, testutil.TestOrderID, resp.OrderID)
	require.NotNil(t, resp.RemoteID)
}

func TestJobController_VoidNotAuthorized(t *testing.T) {
	s := newTestServer(t, gateway.TransactionFulfill)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t)})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_voidable", decode[ErrorResponse](t, w).Code)
}

func TestJobController_VoidWhileCompletionRunning(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.completions.Put(job.NewCompletion(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID))

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t)})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "operation_in_progress", decode[ErrorResponse](t, w).Code)
}

func TestJobController_VoidDeferredOnTransientFailure(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.gateway.VoidOnlineFunc = func(context.Context, int64, int64) (*gateway.Void, error) {
		return nil, errors.New("read tcp: i/o timeout")
	}

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t)})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, job.StateCreated, decode[JobResponse](t, w).State)
}

func TestJobController_VoidRejectedByGateway(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.gateway.VoidOnlineFunc = func(context.Context, int64, int64) (*gateway.Void, error) {
		return nil, &gateway.ClientError{Reason: "INVALID_STATE", Message: "Transaction cannot be voided"}
	}

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t)})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[JobResponse](t, w)
	assert.Equal(t, job.StateFailure, resp.State)
	require.NotNil(t, resp.FailureReason)
}

func TestJobController_Complete(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/completion", token: adminToken(t)})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[JobResponse](t, w)
	assert.Equal(t, job.KindCompletion, resp.Kind)
	assert.Equal(t, job.StateSent, resp.State)
	assert.Equal(t, 1, s.gateway.Calls("UpdateLineItems"))
	assert.Equal(t, 1, s.gateway.Calls("CompleteOnline"))
}

func TestJobController_UnknownOrder(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/555/completion", token: adminToken(t)})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobController_Refund(t *testing.T) {
	s := newTestServer(t, gateway.TransactionFulfill)

	w := s.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/orders/100/refunds",
		token:  adminToken(t),
		body:   RefundRequest{Fields: map[string]any{"quantity_1": "1", "amount_1": "30,00"}},
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[JobResponse](t, w)
	assert.Equal(t, job.KindRefund, resp.Kind)
	assert.NotEmpty(t, resp.ExternalID)
	require.NotNil(t, resp.ApplyTries)
	assert.Zero(t, *resp.ApplyTries)
	assert.Equal(t, 1, s.gateway.Calls("CreateRefund"))
}

func TestJobController_RefundInvalidFields(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "no fields", body: RefundRequest{}},
		{name: "bad quantity", body: RefundRequest{Fields: map[string]any{"quantity_1": "one"}}},
		{name: "nothing to refund", body: RefundRequest{Fields: map[string]any{"quantity_1": 0}}},
		{name: "not json", body: "quantity_1=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, gateway.TransactionFulfill)

			w := s.do(t, request{method: http.MethodPost, path: "/api/v1/orders/100/refunds", token: adminToken(t), body: tt.body})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, s.gateway.Calls("CreateRefund"))
		})
	}
}

func TestJobController_IdempotentReplay(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	req := request{method: http.MethodPost, path: "/api/v1/orders/100/void", token: adminToken(t), idempotencyKey: "void-100"}

	first := s.do(t, req)
	second := s.do(t, req)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, s.gateway.Calls("VoidOnline"))
}

func TestJobController_List(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.refunds.Put(job.NewRefund(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID, testutil.NewTestRefundParameters(), nil))
	s.voids.Put(job.NewVoid(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID))
	s.voids.Put(job.NewVoid(testutil.TestSpaceID, 9999, 101))

	w := s.do(t, request{method: http.MethodGet, path: "/api/v1/orders/100/jobs", token: adminToken(t)})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[JobListResponse](t, w)
	assert.Equal(t, testutil.TestOrderID, resp.OrderID)
	require.Len(t, resp.Jobs, 2)
	kinds := []job.Kind{resp.Jobs[0].Kind, resp.Jobs[1].Kind}
	assert.ElementsMatch(t, []job.Kind{job.KindRefund, job.KindVoid}, kinds)
}

func TestJobController_ListInvalidOrderID(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodGet, path: "/api/v1/orders/abc/jobs", token: adminToken(t)})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
