package checkout

import (
	"errors"
	"fmt"

	"pasal/internal/payments"
)

var (
	// ErrEmptyCart means there is nothing to check out; no intent was
	// requested.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrCheckoutInProgress means another checkout for the same shopper is
	// between intent request and order persistence. The caller should retry
	// after the first attempt settles.
	ErrCheckoutInProgress = errors.New("checkout already in progress")

	// ErrOrderNotFound mirrors the order store's not-found for handlers.
	ErrOrderNotFound = errors.New("order not found")
)

// ValidationError is a pre-intent draft rejection. Field names the offending
// input so the storefront can highlight it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid checkout draft: %s %s", e.Field, e.Reason)
}

// BelowMinimumError rejects a crypto checkout whose order total is under the
// provider's minimum for the chosen coin. Raised before any intent exists.
type BelowMinimumError struct {
	PayCurrency    string
	MinAmount      float64
	FiatEquivalent float64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("order total below the %s minimum of %v (~%v fiat)",
		e.PayCurrency, e.MinAmount, e.FiatEquivalent)
}

// OrphanedIntentError is the one failure mode where gateway and local state
// disagree: the intent was created but the order row could not be written.
// The intent is carried so it can be logged for reconciliation.
type OrphanedIntentError struct {
	Intent *payments.Intent
	Err    error
}

func (e *OrphanedIntentError) Error() string {
	return fmt.Sprintf("intent %s created but order not persisted: %v", e.Intent.IntentID, e.Err)
}

func (e *OrphanedIntentError) Unwrap() error { return e.Err }
