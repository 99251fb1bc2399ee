package job

var completionTransitions = transitions{
	StateCreated:      {StateItemsUpdated, StateSuccess, StateFailure},
	StateItemsUpdated: {StateSent, StateSuccess, StateFailure},
	StateSent:         {StateSuccess, StateFailure},
}

// Completion is a transaction completion job.
type Completion struct {
	Base
	CompletionID *int64
}

func NewCompletion(spaceID, transactionID, orderID int64) *Completion {
	return &Completion{Base: newBase(spaceID, transactionID, orderID)}
}

// MarkItemsUpdated records that the gateway holds the final line items.
func (c *Completion) MarkItemsUpdated() error {
	return c.transitionTo(KindCompletion, completionTransitions, StateItemsUpdated)
}

func (c *Completion) MarkSent(completionID int64) error {
	if err := c.transitionTo(KindCompletion, completionTransitions, StateSent); err != nil {
		return err
	}
	c.CompletionID = &completionID
	return nil
}

func (c *Completion) MarkSucceeded() error {
	return c.transitionTo(KindCompletion, completionTransitions, StateSuccess)
}

func (c *Completion) MarkFailed(reason string) error {
	return c.fail(KindCompletion, completionTransitions, reason)
}

// AttachCompletionID stores the gateway id when it was never persisted.
func (c *Completion) AttachCompletionID(completionID int64) {
	if c.CompletionID == nil {
		c.CompletionID = &completionID
	}
}

func (c *Completion) Summary() Summary {
	return c.summary(KindCompletion, c.CompletionID)
}
