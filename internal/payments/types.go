package payments

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrGatewayUnavailable marks transient provider failures: network errors,
// 5xx responses, open circuit breaker. The checkout flow stays pre-intent on
// this error, so retrying is safe.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Provider string

const (
	ProviderFiat   Provider = "fiat"
	ProviderCrypto Provider = "crypto"
)

// IntentStatus is the gateway's view of a payment. Statuses are never
// invented locally: every value stored on an order came from a gateway
// response.
type IntentStatus string

const (
	IntentWaiting       IntentStatus = "waiting"
	IntentConfirming    IntentStatus = "confirming"
	IntentConfirmed     IntentStatus = "confirmed"
	IntentPartiallyPaid IntentStatus = "partially_paid"
	IntentFinished      IntentStatus = "finished"
	IntentFailed        IntentStatus = "failed"
	IntentExpired       IntentStatus = "expired"
	IntentRefunded      IntentStatus = "refunded"
)

// Succeeded reports whether the payment completed.
func (s IntentStatus) Succeeded() bool {
	return s == IntentFinished || s == IntentConfirmed
}

// Terminal reports whether the gateway will not move this status again.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentFinished, IntentConfirmed, IntentFailed, IntentExpired, IntentRefunded:
		return true
	}
	return false
}

// Intent is the gateway-side record of a requested payment. It exists before
// and independently of the local order row; only Status ever changes, and
// only from gateway responses.
type Intent struct {
	Provider         Provider     `json:"provider"`
	IntentID         string       `json:"intent_id"`
	OrderRef         string       `json:"order_ref"`
	PriceAmountCents int64        `json:"price_amount_cents"`
	PriceCurrency    string       `json:"price_currency"`
	PayAmount        float64      `json:"pay_amount,omitempty"`
	PayCurrency      string       `json:"pay_currency,omitempty"`
	PayAddress       string       `json:"pay_address,omitempty"`
	RedirectURL      string       `json:"redirect_url,omitempty"`
	Status           IntentStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
}

type LineItem struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

// IntentRequest carries everything either gateway needs to create an intent.
// OrderRef is a fresh, locally generated reference per attempt; it is the
// idempotency handle on the gateway side.
type IntentRequest struct {
	AmountCents int64
	Currency    string
	OrderRef    string
	Email       string
	PayCurrency string // crypto only
	LineItems   []LineItem
}

// StatusResult is one gateway status response.
type StatusResult struct {
	Status       IntentStatus
	PaidAmount   float64
	PaidCurrency string
	Raw          json.RawMessage
}

// MinAmount is the smallest payable amount in a crypto currency and its
// fiat equivalent.
type MinAmount struct {
	Currency       string  `json:"currency"`
	MinAmount      float64 `json:"min_amount"`
	FiatEquivalent float64 `json:"fiat_equivalent"`
}

// PaymentSummary is a row from the gateway's own payment list, used by the
// reconciliation sweep.
type PaymentSummary struct {
	IntentID    string       `json:"intent_id"`
	OrderRef    string       `json:"order_ref"`
	Status      IntentStatus `json:"status"`
	AmountCents int64        `json:"amount_cents"`
	Currency    string       `json:"currency"`
	CreatedAt   time.Time    `json:"created_at"`
}
