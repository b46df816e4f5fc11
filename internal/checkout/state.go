package checkout

import (
	"fmt"

	"pasal/internal/domain/orders"
)

// State tracks a checkout attempt through the sequencer. The order of the
// happy path is fixed: a gateway intent always exists before an order row
// does.
type State string

const (
	StateStarted         State = "started"
	StateValidated       State = "validated"
	StateIntentRequested State = "intent_requested"
	StateIntentCreated   State = "intent_created"
	StateOrderPersisted  State = "order_persisted"
	StateAwaitingPayment State = "awaiting_payment"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
	StateAbandoned       State = "abandoned"
)

func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateAbandoned:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateStarted:         {StateValidated, StateFailed, StateAbandoned},
	StateValidated:       {StateIntentRequested, StateFailed, StateAbandoned},
	StateIntentRequested: {StateIntentCreated, StateFailed},
	StateIntentCreated:   {StateOrderPersisted, StateFailed},
	StateOrderPersisted:  {StateAwaitingPayment, StateCompleted, StateFailed, StateCancelled},
	StateAwaitingPayment: {StateCompleted, StateFailed, StateCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal step of
// the sequence. Terminal states allow nothing.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// advance moves an attempt to next, refusing any step the transition table
// does not allow. On refusal the current state is left unchanged.
func advance(cur *State, next State) error {
	if !cur.CanTransitionTo(next) {
		return fmt.Errorf("checkout sequence violation: %s to %s", *cur, next)
	}
	*cur = next
	return nil
}

// stateForPaymentStatus maps a persisted payment status back onto the
// sequence, so operations on an existing order consult the same transition
// table the sequencer does.
func stateForPaymentStatus(s orders.PaymentStatus) State {
	switch s {
	case orders.PaymentPaid:
		return StateCompleted
	case orders.PaymentFailed, orders.PaymentExpired, orders.PaymentRefunded:
		return StateFailed
	case orders.PaymentCancelled:
		return StateCancelled
	default:
		return StateAwaitingPayment
	}
}
