package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/txops/internal/application/jobs"
	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/infrastructure/config"
	customMW "github.com/cassiomorais/txops/internal/middleware"
	"github.com/cassiomorais/txops/internal/repository/postgres"
	"github.com/cassiomorais/txops/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) (*postgres.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

func (s *memoryIdempotencyStore) Set(_ context.Context, e *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published map[string]any
	err       error
}

func (q *fakeQueue) Publish(_ context.Context, key string, v any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.published[key] = v
	return "1700000000000-0", nil
}

type fakeGuard struct {
	busy     bool
	released int
}

func (g *fakeGuard) Acquire(context.Context) (bool, error) { return !g.busy, nil }
func (g *fakeGuard) Release(context.Context) error {
	g.released++
	return nil
}

type testServer struct {
	handler     http.Handler
	mirrors     *testutil.MockMirrorRepository
	refunds     *testutil.MockRefundRepository
	completions *testutil.MockCompletionRepository
	voids       *testutil.MockVoidRepository
	gateway     *testutil.MockGateway
	queue       *fakeQueue
	guard       *fakeGuard
	ready       error
}

func newTestServer(t *testing.T, state gateway.TransactionState) *testServer {
	t.Helper()
	s := &testServer{
		mirrors:     testutil.NewMockMirrorRepository(),
		refunds:     testutil.NewMockRefundRepository(),
		completions: testutil.NewMockCompletionRepository(),
		voids:       testutil.NewMockVoidRepository(),
		gateway:     testutil.NewMockGateway(),
		queue:       &fakeQueue{published: make(map[string]any)},
		guard:       &fakeGuard{},
	}
	s.mirrors.AddMirror(testutil.NewTestMirror(state))
	s.gateway.BaseLineItemsFunc = func(context.Context, int64, int64) ([]gateway.LineItem, error) {
		return testutil.NewTestLineItems(), nil
	}
	orders := testutil.NewMockOrderService()
	orders.AddOrder(testutil.NewTestOrder())

	deps := jobs.Deps{
		Lock:        testutil.NewMockTransactionLock(),
		Mirrors:     s.mirrors,
		Refunds:     s.refunds,
		Completions: s.completions,
		Voids:       s.voids,
		Gateway:     s.gateway,
		Orders:      orders,
		Logger:      zerolog.Nop(),
	}
	strategy, err := commerce.NewStrategy(commerce.StrategyDefault, testutil.NewMockLedger())
	require.NoError(t, err)

	refunds := jobs.NewRefundEngine(deps, strategy, 3, 2)
	completions := jobs.NewCompletionEngine(deps)
	voids := jobs.NewVoidEngine(deps)
	reaper := jobs.NewReaper(deps, refunds, completions, voids, 15*time.Second)
	runner := jobs.NewSweepRunner(reaper, func() jobs.SweepGuard { return s.guard }, time.Minute)

	readiness := ReadinessCheck{Name: "database", Check: func(context.Context) error { return s.ready }}

	s.handler = NewRouter(RouterDeps{
		Health:           NewHealthController(reaper, readiness),
		Jobs:             NewJobController(refunds, completions, voids, s.refunds, s.completions, s.voids),
		Webhooks:         NewWebhookController(s.queue),
		Cron:             NewCronController(runner),
		IdempotencyStore: &memoryIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)},
		IdempotencyTTL:   time.Hour,
		CORSConfig:       config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWTSecret:        testJWTSecret,
		WebhookRateLimit: 1000,
	})
	return s
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, customMW.Claims{
		UserID:           "admin-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

type request struct {
	method         string
	path           string
	body           any
	token          string
	idempotencyKey string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

var errQueueDown = errors.New("redis: connection refused")
