package jobs_test

import (
	"sync"
	"time"

	"github.com/cassiomorais/txops/internal/application/jobs"
	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/testutil"
	"github.com/rs/zerolog"
)

type recordingObserver struct {
	mu            sync.Mutex
	states        []job.State
	gatewayErrors map[bool]int
	applyFailures []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{gatewayErrors: make(map[bool]int)}
}

func (o *recordingObserver) JobStateChanged(_ job.Kind, state job.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) GatewayCallFailed(_ job.Kind, _ string, classified bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gatewayErrors[classified]++
}

func (o *recordingObserver) ApplyAttemptFailed(terminal bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyFailures = append(o.applyFailures, terminal)
}

type harness struct {
	lock        *testutil.MockTransactionLock
	mirrors     *testutil.MockMirrorRepository
	refunds     *testutil.MockRefundRepository
	completions *testutil.MockCompletionRepository
	voids       *testutil.MockVoidRepository
	gateway     *testutil.MockGateway
	orders      *testutil.MockOrderService
	ledger      *testutil.MockLedger
	observer    *recordingObserver
	now         time.Time
}

func newHarness(state gateway.TransactionState) *harness {
	h := &harness{
		lock:        testutil.NewMockTransactionLock(),
		mirrors:     testutil.NewMockMirrorRepository(),
		refunds:     testutil.NewMockRefundRepository(),
		completions: testutil.NewMockCompletionRepository(),
		voids:       testutil.NewMockVoidRepository(),
		gateway:     testutil.NewMockGateway(),
		orders:      testutil.NewMockOrderService(),
		ledger:      testutil.NewMockLedger(),
		observer:    newRecordingObserver(),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.mirrors.AddMirror(testutil.NewTestMirror(state))
	h.orders.AddOrder(testutil.NewTestOrder())
	return h
}

func (h *harness) deps() jobs.Deps {
	return jobs.Deps{
		Lock:        h.lock,
		Mirrors:     h.mirrors,
		Refunds:     h.refunds,
		Completions: h.completions,
		Voids:       h.voids,
		Gateway:     h.gateway,
		Orders:      h.orders,
		Observer:    h.observer,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return h.now },
	}
}

func (h *harness) refundEngine() *jobs.RefundEngine {
	strategy, err := commerce.NewStrategy(commerce.StrategyDefault, h.ledger)
	if err != nil {
		panic(err)
	}
	return jobs.NewRefundEngine(h.deps(), strategy, 3, 8)
}

func (h *harness) completionEngine() *jobs.CompletionEngine {
	return jobs.NewCompletionEngine(h.deps())
}

func (h *harness) voidEngine() *jobs.VoidEngine {
	return jobs.NewVoidEngine(h.deps())
}

// seedRefund stores a refund job for the test transaction in the given state.
func (h *harness) seedRefund(state job.State) *job.Refund {
	r := job.NewRefund(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID, testutil.NewTestRefundParameters(), nil)
	r.State = state
	h.refunds.Put(r)
	return r
}

func (h *harness) seedCompletion(state job.State) *job.Completion {
	c := job.NewCompletion(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID)
	c.State = state
	h.completions.Put(c)
	return c
}

func (h *harness) seedVoid(state job.State) *job.Void {
	v := job.NewVoid(testutil.TestSpaceID, testutil.TestTransactionID, testutil.TestOrderID)
	v.State = state
	h.voids.Put(v)
	return v
}
