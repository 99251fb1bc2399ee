package job

import (
	"time"

	"github.com/cassiomorais/txops/internal/domain/errors"
)

// Kind identifies the operation a job performs against a transaction.
type Kind string

const (
	KindRefund     Kind = "refund"
	KindCompletion Kind = "completion"
	KindVoid       Kind = "void"
)

// State is a job state. Each kind only uses a subset, see its transitions table.
type State string

const (
	StateCreated      State = "created"
	StateItemsUpdated State = "items_updated"
	StateSent         State = "sent"
	StatePending      State = "pending"
	StateApply        State = "apply"
	StateSuccess      State = "success"
	StateFailure      State = "failure"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// TerminalStates lists the states a running-job query must exclude.
var TerminalStates = []State{StateSuccess, StateFailure}

type transitions map[State][]State

func (t transitions) allows(from, to State) bool {
	for _, allowed := range t[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Base holds the fields shared by every job kind.
type Base struct {
	ID            int64
	SpaceID       int64
	TransactionID int64
	OrderID       int64
	State         State
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func newBase(spaceID, transactionID, orderID int64) Base {
	now := time.Now()
	return Base{
		SpaceID:       spaceID,
		TransactionID: transactionID,
		OrderID:       orderID,
		State:         StateCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the job reached success or failure.
func (b *Base) IsTerminal() bool {
	return b.State.IsTerminal()
}

func (b *Base) transitionTo(kind Kind, table transitions, to State) error {
	if !table.allows(b.State, to) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition "+string(kind)+" job from "+string(b.State)+" to "+string(to),
			errors.ErrInvalidStateTransition,
		)
	}
	b.State = to
	b.UpdatedAt = time.Now()
	return nil
}

func (b *Base) fail(kind Kind, table transitions, reason string) error {
	if err := b.transitionTo(kind, table, StateFailure); err != nil {
		return err
	}
	if reason != "" {
		b.FailureReason = &reason
	}
	return nil
}

// Summary is the kind-agnostic view of a job used for listings.
type Summary struct {
	Kind          Kind      `json:"kind"`
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	State         State     `json:"state"`
	RemoteID      *int64    `json:"remote_id,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (b *Base) summary(kind Kind, remoteID *int64) Summary {
	return Summary{
		Kind:          kind,
		ID:            b.ID,
		TransactionID: b.TransactionID,
		State:         b.State,
		RemoteID:      remoteID,
		FailureReason: b.FailureReason,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}
