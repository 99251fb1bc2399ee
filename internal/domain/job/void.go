package job

var voidTransitions = transitions{
	StateCreated: {StateSent, StateSuccess, StateFailure},
	StateSent:    {StateSuccess, StateFailure},
}

// Void is a transaction void job.
type Void struct {
	Base
	VoidID *int64
}

func NewVoid(spaceID, transactionID, orderID int64) *Void {
	return &Void{Base: newBase(spaceID, transactionID, orderID)}
}

func (v *Void) MarkSent(voidID int64) error {
	if err := v.transitionTo(KindVoid, voidTransitions, StateSent); err != nil {
		return err
	}
	v.VoidID = &voidID
	return nil
}

func (v *Void) MarkSucceeded() error {
	return v.transitionTo(KindVoid, voidTransitions, StateSuccess)
}

func (v *Void) MarkFailed(reason string) error {
	return v.fail(KindVoid, voidTransitions, reason)
}

// AttachVoidID stores the gateway id when it was never persisted.
func (v *Void) AttachVoidID(voidID int64) {
	if v.VoidID == nil {
		v.VoidID = &voidID
	}
}

func (v *Void) Summary() Summary {
	return v.summary(KindVoid, v.VoidID)
}
