package job

import "context"

// RefundRepository defines the interface for refund job persistence.
// Lookups return errors.ErrJobNotFound when nothing matches.
type RefundRepository interface {
	// Create inserts the job and assigns its ID
	Create(ctx context.Context, r *Refund) error

	GetByID(ctx context.Context, id int64) (*Refund, error)

	// GetByExternalID finds the job by the correlation id sent to the gateway
	GetByExternalID(ctx context.Context, spaceID int64, externalID string) (*Refund, error)

	// FindRunning returns the non-terminal refund job of a transaction
	FindRunning(ctx context.Context, spaceID, transactionID int64) (*Refund, error)

	Update(ctx context.Context, r *Refund) error

	// ListIDsByState returns job ids in the given states, oldest first
	ListIDsByState(ctx context.Context, states ...State) ([]int64, error)

	ListByOrder(ctx context.Context, orderID int64) ([]*Refund, error)
}

// CompletionRepository defines the interface for completion job persistence.
type CompletionRepository interface {
	Create(ctx context.Context, c *Completion) error
	GetByID(ctx context.Context, id int64) (*Completion, error)
	GetByCompletionID(ctx context.Context, spaceID, completionID int64) (*Completion, error)
	FindRunning(ctx context.Context, spaceID, transactionID int64) (*Completion, error)
	Update(ctx context.Context, c *Completion) error
	ListIDsByState(ctx context.Context, states ...State) ([]int64, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*Completion, error)
}

// VoidRepository defines the interface for void job persistence.
type VoidRepository interface {
	Create(ctx context.Context, v *Void) error
	GetByID(ctx context.Context, id int64) (*Void, error)
	GetByVoidID(ctx context.Context, spaceID, voidID int64) (*Void, error)
	FindRunning(ctx context.Context, spaceID, transactionID int64) (*Void, error)
	Update(ctx context.Context, v *Void) error
	ListIDsByState(ctx context.Context, states ...State) ([]int64, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*Void, error)
}
