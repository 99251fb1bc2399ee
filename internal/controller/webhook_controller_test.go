package controller

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cassiomorais/txops/internal/application/webhook"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookController_Enqueues(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	n := webhook.Notification{EventID: 9, SpaceID: 7, EntityID: 3000, ListenerEntityID: webhook.ListenerRefund}

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/webhooks", body: n})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "1700000000000-0", decode[WebhookAcceptedResponse](t, w).MessageID)
	assert.Equal(t, n, s.queue.published["1472041839405:3000"])
}

func TestWebhookController_Invalid(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/webhooks", body: map[string]int64{"entityId": 5}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.queue.published)
}

func TestWebhookController_QueueUnavailable(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.queue.err = errQueueDown
	n := webhook.Notification{SpaceID: 7, EntityID: 1, ListenerEntityID: webhook.ListenerVoid}

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/webhooks", body: n})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCronController_Sweep(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	deadline := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/cron", body: SweepRequest{Deadline: &deadline}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[SweepResponse](t, w)
	assert.True(t, deadline.Equal(resp.Deadline))
	assert.False(t, resp.Interrupted)
	assert.Equal(t, 1, s.guard.released)
}

func TestCronController_DeadlineCutToBudget(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	late := time.Now().Add(time.Hour)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/cron", body: SweepRequest{Deadline: &late}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.WithinDuration(t, time.Now().Add(time.Minute), decode[SweepResponse](t, w).Deadline, 5*time.Second)
}

func TestCronController_DefaultDeadline(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/cron"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.WithinDuration(t, time.Now().Add(time.Minute), decode[SweepResponse](t, w).Deadline, 5*time.Second)
}

func TestCronController_SweepInProgress(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)
	s.guard.busy = true

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/cron"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "sweep_in_progress", decode[ErrorResponse](t, w).Code)
	assert.Zero(t, s.guard.released)
}

func TestHealthController(t *testing.T) {
	s := newTestServer(t, gateway.TransactionAuthorized)

	w := s.do(t, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["pending_jobs"])

	w = s.do(t, request{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, w.Code)

	s.ready = errors.New("connection refused")
	w = s.do(t, request{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "database unavailable", decode[map[string]string](t, w)["reason"])
}
