package gatewayapi

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/cassiomorais/txops/internal/domain/gateway"
)

// Simulator is an in-process gateway for local runs. Operations settle
// immediately unless WithSettleDelay is set, in which case they stay
// PENDING until read after the delay.
type Simulator struct {
	mu           sync.Mutex
	nextID       int64
	latency      time.Duration
	failureRate  float64
	rejectRate   float64
	settleDelay  time.Duration
	transactions map[int64]*gateway.Transaction
	lineItems    map[int64][]gateway.LineItem
	refunds      map[int64]*simulated[gateway.Refund]
	completions  map[int64]*simulated[gateway.Completion]
	voids        map[int64]*simulated[gateway.Void]
}

type simulated[T any] struct {
	value     T
	settlesAt time.Time
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithLatency sets the simulated round trip.
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = d }
}

// WithFailureRate sets the probability of a transient error.
func WithFailureRate(rate float64) SimulatorOption {
	return func(s *Simulator) { s.failureRate = rate }
}

// WithRejectRate sets the probability that a mutation is rejected with a
// client error.
func WithRejectRate(rate float64) SimulatorOption {
	return func(s *Simulator) { s.rejectRate = rate }
}

// WithSettleDelay keeps operations PENDING for d.
func WithSettleDelay(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.settleDelay = d }
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		nextID:       1,
		transactions: make(map[int64]*gateway.Transaction),
		lineItems:    make(map[int64][]gateway.LineItem),
		refunds:      make(map[int64]*simulated[gateway.Refund]),
		completions:  make(map[int64]*simulated[gateway.Completion]),
		voids:        make(map[int64]*simulated[gateway.Void]),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ gateway.Client = (*Simulator)(nil)

// AddTransaction registers a transaction and its invoice line items.
func (s *Simulator) AddTransaction(tx gateway.Transaction, items []gateway.LineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = &tx
	s.lineItems[tx.ID] = items
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rand.Float64() < s.failureRate {
		return fmt.Errorf("simulated gateway outage")
	}
	return nil
}

func (s *Simulator) reject(action string) error {
	if rand.Float64() < s.rejectRate {
		return &gateway.ClientError{
			StatusCode: http.StatusUnprocessableEntity,
			Reason:     "CLIENT_ERROR",
			Message:    "simulated rejection of " + action,
		}
	}
	return nil
}

func notFound(entity string, id int64) error {
	return &gateway.ClientError{
		StatusCode: http.StatusNotFound,
		Reason:     "CLIENT_ERROR",
		Message:    fmt.Sprintf("%s %d not found", entity, id),
	}
}

func (s *Simulator) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Simulator) transaction(spaceID, transactionID int64) (*gateway.Transaction, error) {
	tx, ok := s.transactions[transactionID]
	if !ok || tx.SpaceID != spaceID {
		return nil, notFound("transaction", transactionID)
	}
	return tx, nil
}

func (s *Simulator) settled(settlesAt time.Time) bool {
	return !time.Now().Before(settlesAt)
}

func (s *Simulator) ReadTransaction(ctx context.Context, spaceID, transactionID int64) (*gateway.Transaction, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.transaction(spaceID, transactionID)
	if err != nil {
		return nil, err
	}
	cp := *tx
	return &cp, nil
}

func (s *Simulator) UpdateLineItems(ctx context.Context, spaceID, transactionID int64, items []gateway.LineItem) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.reject("line item update"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.transaction(spaceID, transactionID); err != nil {
		return err
	}
	s.lineItems[transactionID] = items
	return nil
}

func (s *Simulator) BaseLineItems(ctx context.Context, spaceID, transactionID int64) ([]gateway.LineItem, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.transaction(spaceID, transactionID); err != nil {
		return nil, err
	}
	return s.lineItems[transactionID], nil
}

func (s *Simulator) CreateRefund(ctx context.Context, spaceID int64, create gateway.RefundCreate) (*gateway.Refund, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if err := s.reject("refund"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.transaction(spaceID, create.TransactionID)
	if err != nil {
		return nil, err
	}
	r := &simulated[gateway.Refund]{
		value: gateway.Refund{
			ID:                s.id(),
			SpaceID:           spaceID,
			ExternalID:        create.ExternalID,
			TransactionID:     tx.ID,
			MerchantReference: tx.MerchantReference,
			State:             gateway.RefundPending,
		},
		settlesAt: time.Now().Add(s.settleDelay),
	}
	s.refunds[r.value.ID] = r
	return s.readRefund(r), nil
}

func (s *Simulator) readRefund(r *simulated[gateway.Refund]) *gateway.Refund {
	if r.value.State == gateway.RefundPending && s.settled(r.settlesAt) {
		r.value.State = gateway.RefundSuccessful
		r.value.ReducedLineItems = s.lineItems[r.value.TransactionID]
	}
	cp := r.value
	return &cp
}

func (s *Simulator) ReadRefund(ctx context.Context, spaceID, refundID int64) (*gateway.Refund, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refunds[refundID]
	if !ok || r.value.SpaceID != spaceID {
		return nil, notFound("refund", refundID)
	}
	return s.readRefund(r), nil
}

func (s *Simulator) CompleteOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Completion, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if err := s.reject("completion"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.transaction(spaceID, transactionID)
	if err != nil {
		return nil, err
	}
	c := &simulated[gateway.Completion]{
		value: gateway.Completion{
			ID:                s.id(),
			SpaceID:           spaceID,
			TransactionID:     tx.ID,
			MerchantReference: tx.MerchantReference,
			State:             gateway.OperationPending,
		},
		settlesAt: time.Now().Add(s.settleDelay),
	}
	s.completions[c.value.ID] = c
	return s.readCompletion(c), nil
}

func (s *Simulator) readCompletion(c *simulated[gateway.Completion]) *gateway.Completion {
	if c.value.State == gateway.OperationPending && s.settled(c.settlesAt) {
		c.value.State = gateway.OperationSuccessful
		s.transactions[c.value.TransactionID].State = gateway.TransactionCompleted
	}
	cp := c.value
	return &cp
}

func (s *Simulator) ReadCompletion(ctx context.Context, spaceID, completionID int64) (*gateway.Completion, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.completions[completionID]
	if !ok || c.value.SpaceID != spaceID {
		return nil, notFound("completion", completionID)
	}
	return s.readCompletion(c), nil
}

func (s *Simulator) VoidOnline(ctx context.Context, spaceID, transactionID int64) (*gateway.Void, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if err := s.reject("void"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.transaction(spaceID, transactionID)
	if err != nil {
		return nil, err
	}
	v := &simulated[gateway.Void]{
		value: gateway.Void{
			ID:                s.id(),
			SpaceID:           spaceID,
			TransactionID:     tx.ID,
			MerchantReference: tx.MerchantReference,
			State:             gateway.OperationPending,
		},
		settlesAt: time.Now().Add(s.settleDelay),
	}
	s.voids[v.value.ID] = v
	return s.readVoid(v), nil
}

func (s *Simulator) readVoid(v *simulated[gateway.Void]) *gateway.Void {
	if v.value.State == gateway.OperationPending && s.settled(v.settlesAt) {
		v.value.State = gateway.OperationSuccessful
		s.transactions[v.value.TransactionID].State = gateway.TransactionVoided
	}
	cp := v.value
	return &cp
}

func (s *Simulator) ReadVoid(ctx context.Context, spaceID, voidID int64) (*gateway.Void, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.voids[voidID]
	if !ok || v.value.SpaceID != spaceID {
		return nil, notFound("void", voidID)
	}
	return s.readVoid(v), nil
}
