package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"github.com/shopspring/decimal"
)

// --- Transaction Lock Mock ---

type lockKey struct {
	spaceID       int64
	transactionID int64
}

// MockTransactionLock serializes callers per transaction with in-process mutexes.
type MockTransactionLock struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
	calls map[lockKey]int

	WithLockFunc func(ctx context.Context, spaceID, transactionID int64, fn func(ctx context.Context) error) error
}

func NewMockTransactionLock() *MockTransactionLock {
	return &MockTransactionLock{
		locks: make(map[lockKey]*sync.Mutex),
		calls: make(map[lockKey]int),
	}
}

func (m *MockTransactionLock) WithLock(ctx context.Context, spaceID, transactionID int64, fn func(ctx context.Context) error) error {
	if m.WithLockFunc != nil {
		return m.WithLockFunc(ctx, spaceID, transactionID, fn)
	}
	key := lockKey{spaceID, transactionID}
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.calls[key]++
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// Calls returns how often the lock of a transaction was taken.
func (m *MockTransactionLock) Calls(spaceID, transactionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[lockKey{spaceID, transactionID}]
}

// --- Mirror Repository Mock ---

// MockMirrorRepository is an in-memory transaction.Repository.
type MockMirrorRepository struct {
	mu      sync.Mutex
	mirrors map[lockKey]transaction.Mirror

	GetFunc  func(ctx context.Context, spaceID, transactionID int64) (*transaction.Mirror, error)
	SaveFunc func(ctx context.Context, m *transaction.Mirror) error
}

func NewMockMirrorRepository() *MockMirrorRepository {
	return &MockMirrorRepository{mirrors: make(map[lockKey]transaction.Mirror)}
}

// AddMirror pre-populates the mock with a mirror.
func (m *MockMirrorRepository) AddMirror(mirror *transaction.Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors[lockKey{mirror.SpaceID, mirror.TransactionID}] = *mirror
}

func (m *MockMirrorRepository) Get(ctx context.Context, spaceID, transactionID int64) (*transaction.Mirror, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, spaceID, transactionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mirror, ok := m.mirrors[lockKey{spaceID, transactionID}]
	if !ok {
		return nil, domainErrors.ErrNoTransaction
	}
	return &mirror, nil
}

func (m *MockMirrorRepository) GetByOrderID(ctx context.Context, orderID int64) (*transaction.Mirror, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mirror := range m.mirrors {
		if mirror.OrderID == orderID {
			return &mirror, nil
		}
	}
	return nil, domainErrors.ErrNoTransaction
}

func (m *MockMirrorRepository) Save(ctx context.Context, mirror *transaction.Mirror) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, mirror)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors[lockKey{mirror.SpaceID, mirror.TransactionID}] = *mirror
	return nil
}

// --- Job Repository Mocks ---

// jobStore keeps value copies so callers only change stored jobs through Update.
type jobStore[T any] struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]T
	base   func(T) *job.Base
}

func newJobStore[T any](base func(T) *job.Base) *jobStore[T] {
	return &jobStore[T]{jobs: make(map[int64]T), base: base}
}

func (s *jobStore[T]) find(match func(T) bool) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if match(s.jobs[id]) {
			return s.jobs[id], true
		}
	}
	var zero T
	return zero, false
}

func (s *jobStore[T]) update(j T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.base(j).ID
	if _, ok := s.jobs[id]; !ok {
		return domainErrors.ErrJobNotFound
	}
	s.jobs[id] = j
	return nil
}

func (s *jobStore[T]) idsByState(states []job.State) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, j := range s.jobs {
		for _, st := range states {
			if s.base(j).State == st {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *jobStore[T]) byOrder(orderID int64) []T {
	var out []T
	s.find(func(j T) bool {
		if s.base(j).OrderID == orderID {
			out = append(out, j)
		}
		return false
	})
	return out
}

func running(b *job.Base, spaceID, transactionID int64) bool {
	return b.SpaceID == spaceID && b.TransactionID == transactionID && !b.IsTerminal()
}

// MockRefundRepository is an in-memory job.RefundRepository.
type MockRefundRepository struct {
	store *jobStore[job.Refund]

	UpdateFunc func(ctx context.Context, r *job.Refund) error
}

func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{store: newJobStore(func(r job.Refund) *job.Base { return &r.Base })}
}

func (m *MockRefundRepository) Create(ctx context.Context, r *job.Refund) error {
	m.Put(r)
	return nil
}

func (m *MockRefundRepository) GetByID(ctx context.Context, id int64) (*job.Refund, error) {
	r, ok := m.store.find(func(r job.Refund) bool { return r.ID == id })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &r, nil
}

func (m *MockRefundRepository) GetByExternalID(ctx context.Context, spaceID int64, externalID string) (*job.Refund, error) {
	r, ok := m.store.find(func(r job.Refund) bool { return r.SpaceID == spaceID && r.ExternalID == externalID })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &r, nil
}

func (m *MockRefundRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Refund, error) {
	r, ok := m.store.find(func(r job.Refund) bool { return running(&r.Base, spaceID, transactionID) })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &r, nil
}

func (m *MockRefundRepository) Update(ctx context.Context, r *job.Refund) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	return m.store.update(*r)
}

func (m *MockRefundRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return m.store.idsByState(states), nil
}

func (m *MockRefundRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Refund, error) {
	var out []*job.Refund
	for _, r := range m.store.byOrder(orderID) {
		out = append(out, &r)
	}
	return out, nil
}

// Put stores r as is, assigning an ID when it has none.
func (m *MockRefundRepository) Put(r *job.Refund) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if r.ID == 0 {
		m.store.nextID++
		r.ID = m.store.nextID
	}
	m.store.jobs[r.ID] = *r
}

// MockCompletionRepository is an in-memory job.CompletionRepository.
type MockCompletionRepository struct {
	store *jobStore[job.Completion]
}

func NewMockCompletionRepository() *MockCompletionRepository {
	return &MockCompletionRepository{store: newJobStore(func(c job.Completion) *job.Base { return &c.Base })}
}

func (m *MockCompletionRepository) Create(ctx context.Context, c *job.Completion) error {
	m.Put(c)
	return nil
}

func (m *MockCompletionRepository) GetByID(ctx context.Context, id int64) (*job.Completion, error) {
	c, ok := m.store.find(func(c job.Completion) bool { return c.ID == id })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &c, nil
}

func (m *MockCompletionRepository) GetByCompletionID(ctx context.Context, spaceID, completionID int64) (*job.Completion, error) {
	c, ok := m.store.find(func(c job.Completion) bool {
		return c.SpaceID == spaceID && c.CompletionID != nil && *c.CompletionID == completionID
	})
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &c, nil
}

func (m *MockCompletionRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Completion, error) {
	c, ok := m.store.find(func(c job.Completion) bool { return running(&c.Base, spaceID, transactionID) })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &c, nil
}

func (m *MockCompletionRepository) Update(ctx context.Context, c *job.Completion) error {
	return m.store.update(*c)
}

func (m *MockCompletionRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return m.store.idsByState(states), nil
}

func (m *MockCompletionRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Completion, error) {
	var out []*job.Completion
	for _, c := range m.store.byOrder(orderID) {
		out = append(out, &c)
	}
	return out, nil
}

// Put stores c as is, assigning an ID when it has none.
func (m *MockCompletionRepository) Put(c *job.Completion) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if c.ID == 0 {
		m.store.nextID++
		c.ID = m.store.nextID
	}
	m.store.jobs[c.ID] = *c
}

// MockVoidRepository is an in-memory job.VoidRepository.
type MockVoidRepository struct {
	store *jobStore[job.Void]
}

func NewMockVoidRepository() *MockVoidRepository {
	return &MockVoidRepository{store: newJobStore(func(v job.Void) *job.Base { return &v.Base })}
}

func (m *MockVoidRepository) Create(ctx context.Context, v *job.Void) error {
	m.Put(v)
	return nil
}

func (m *MockVoidRepository) GetByID(ctx context.Context, id int64) (*job.Void, error) {
	v, ok := m.store.find(func(v job.Void) bool { return v.ID == id })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &v, nil
}

func (m *MockVoidRepository) GetByVoidID(ctx context.Context, spaceID, voidID int64) (*job.Void, error) {
	v, ok := m.store.find(func(v job.Void) bool {
		return v.SpaceID == spaceID && v.VoidID != nil && *v.VoidID == voidID
	})
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &v, nil
}

func (m *MockVoidRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Void, error) {
	v, ok := m.store.find(func(v job.Void) bool { return running(&v.Base, spaceID, transactionID) })
	if !ok {
		return nil, domainErrors.ErrJobNotFound
	}
	return &v, nil
}

func (m *MockVoidRepository) Update(ctx context.Context, v *job.Void) error {
	return m.store.update(*v)
}

func (m *MockVoidRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return m.store.idsByState(states), nil
}

func (m *MockVoidRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Void, error) {
	var out []*job.Void
	for _, v := range m.store.byOrder(orderID) {
		out = append(out, &v)
	}
	return out, nil
}

// Put stores v as is, assigning an ID when it has none.
func (m *MockVoidRepository) Put(v *job.Void) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if v.ID == 0 {
		m.store.nextID++
		v.ID = m.store.nextID
	}
	m.store.jobs[v.ID] = *v
}

// --- Gateway Mock ---

// MockGateway is a gateway.Client with overridable calls. Unset calls succeed
// with deterministic ids starting at 1000.
type MockGateway struct {
	mu     sync.Mutex
	nextID int64
	calls  map[string]int

	ReadTransactionFunc func(ctx context.Context, spaceID, transactionID int64) (*gateway.Transaction, error)
	UpdateLineItemsFunc func(ctx context.Context, spaceID, transactionID int64, items []gateway.LineItem) error
	BaseLineItemsFunc   func(ctx context.Context, spaceID, transactionID int64) ([]gateway.LineItem, error)
	CreateRefundFunc    func(ctx context.Context, spaceID int64, refund gateway.RefundCreate) (*gateway.Refund, error)
	ReadRefundFunc      func(ctx context.Context, spaceID, refundID int64) (*gateway.Refund, error)
	CompleteOnlineFunc  func(ctx context.Context, spaceID, transactionID int64) (*gateway.Completion, error)
	ReadCompletionFunc  func(ctx context.Context, spaceID, completionID int64) (*gateway.Completion, error)
	VoidOnlineFunc      func(ctx context.Context, spaceID, transactionID int64) (*gateway.Void, error)
	ReadVoidFunc        func(ctx context.Context, spaceID, voidID int64) (*gateway.Void, error)
}

func NewMockGateway() *MockGateway {
	return &MockGateway{nextID: 999, calls: make(map[string]int)}
}

func (m *MockGateway) record(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	m.nextID++
	return m.nextID
}

// Calls returns how often the named method was invoked.
func (m *MockGateway) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockGateway) ReadTransaction(ctx context.Context, spaceID, transactionID int64) (*gateway.Transaction, error) {
	m.record("ReadTransaction")
	if m.ReadTransactionFunc != nil {
		return m.ReadTransactionFunc(ctx, spaceID, transactionID)
	}
	return nil, fmt.Errorf("transaction %d not stubbed", transactionID)
}

func (m *MockGateway) UpdateLineItems(ctx context.Context, spaceID, transactionID int64, items []gateway.LineItem) error {
	m.record("UpdateLineItems")
	if m.UpdateLineItemsFunc != nil {
		return m.UpdateLineItemsFunc(ctx, spaceID, transactionID, items)
	}
	return nil
}

func (m *MockGateway) BaseLineItems(ctx context.Context, spaceID, transactionID int64) ([]gateway.LineItem, error) {
	m.record("BaseLineItems")
	if m.BaseLineItemsFunc != nil {
		return m.BaseLineItemsFunc(ctx, spaceID, transactionID)
	}
	return nil, nil
}

func (m *MockGateway) CreateRefund(ctx context.Context, spaceID int64, refund gateway.RefundCreate) (*gateway.Refund, error) {
	id := m.record("CreateRefund")
	if m.CreateRefundFunc != nil {
		return m.CreateRefundFunc(ctx, spaceID, refund)
	}
	return &gateway.Refund{
		ID:            id,
		SpaceID:       spaceID,
		ExternalID:    refund.ExternalID,
		TransactionID: refund.TransactionID,
		State:         gateway.RefundPending,
	}, nil
}

func (m *MockGateway) ReadRefund(ctx context.Context, spaceID, refundID int64) (*gateway.Refund, error) {
	m.record("ReadRefund")
	if m.ReadRefundFunc != nil {
		return m.ReadRefundFunc(ctx, spaceID, refundID)
	}
	return nil, fmt.Errorf("refund %d not stubbed", refundID)
}

func (m *MockGateway) CompleteOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Completion, error) {
	id := m.record("CompleteOnline")
	if m.CompleteOnlineFunc != nil {
		return m.CompleteOnlineFunc(ctx, spaceID, transactionID)
	}
	return &gateway.Completion{ID: id, SpaceID: spaceID, TransactionID: transactionID, State: gateway.OperationPending}, nil
}

func (m *MockGateway) ReadCompletion(ctx context.Context, spaceID, completionID int64) (*gateway.Completion, error) {
	m.record("ReadCompletion")
	if m.ReadCompletionFunc != nil {
		return m.ReadCompletionFunc(ctx, spaceID, completionID)
	}
	return nil, fmt.Errorf("completion %d not stubbed", completionID)
}

func (m *MockGateway) VoidOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Void, error) {
	id := m.record("VoidOnline")
	if m.VoidOnlineFunc != nil {
		return m.VoidOnlineFunc(ctx, spaceID, transactionID)
	}
	return &gateway.Void{ID: id, SpaceID: spaceID, TransactionID: transactionID, State: gateway.OperationPending}, nil
}

func (m *MockGateway) ReadVoid(ctx context.Context, spaceID, voidID int64) (*gateway.Void, error) {
	m.record("ReadVoid")
	if m.ReadVoidFunc != nil {
		return m.ReadVoidFunc(ctx, spaceID, voidID)
	}
	return nil, fmt.Errorf("void %d not stubbed", voidID)
}

// --- Commerce Mocks ---

// MockOrderService serves orders from memory.
type MockOrderService struct {
	mu     sync.Mutex
	orders map[int64]*commerce.Order

	GroupLineItemsFunc func(ctx context.Context, orderID int64) ([]gateway.LineItem, error)
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{orders: make(map[int64]*commerce.Order)}
}

// AddOrder pre-populates the mock with an order.
func (m *MockOrderService) AddOrder(o *commerce.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID int64) (*commerce.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockOrderService) GroupLineItems(ctx context.Context, orderID int64) ([]gateway.LineItem, error) {
	if m.GroupLineItemsFunc != nil {
		return m.GroupLineItemsFunc(ctx, orderID)
	}
	return nil, nil
}

// MockLedger records shop-side refund effects.
type MockLedger struct {
	mu         sync.Mutex
	creditSlip int64
	messages   []string

	IssueCreditSlipFunc func(ctx context.Context, orderID int64, lines map[int64]commerce.LineInput, shipping decimal.Decimal) (int64, error)
	AddOrderMessageFunc func(ctx context.Context, orderID int64, message string) error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (m *MockLedger) IssueCreditSlip(ctx context.Context, orderID int64, lines map[int64]commerce.LineInput, shipping decimal.Decimal) (int64, error) {
	if m.IssueCreditSlipFunc != nil {
		return m.IssueCreditSlipFunc(ctx, orderID, lines, shipping)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditSlip++
	return m.creditSlip, nil
}

func (m *MockLedger) ReturnStock(ctx context.Context, orderID int64, lines map[int64]commerce.LineInput) error {
	return nil
}

func (m *MockLedger) IssueVoucher(ctx context.Context, orderID int64, amount decimal.Decimal) (int64, error) {
	return 1, nil
}

func (m *MockLedger) AddOrderMessage(ctx context.Context, orderID int64, message string) error {
	if m.AddOrderMessageFunc != nil {
		return m.AddOrderMessageFunc(ctx, orderID, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

// CreditSlips returns how many credit slips were issued.
func (m *MockLedger) CreditSlips() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditSlip
}
