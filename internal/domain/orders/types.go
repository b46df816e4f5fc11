package orders

import (
	"encoding/json"
	"time"

	"pasal/internal/domain/carts"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentWaiting    PaymentStatus = "waiting"
	PaymentConfirming PaymentStatus = "confirming"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentExpired    PaymentStatus = "expired"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentPaid, PaymentFailed, PaymentExpired, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// nonTerminalPaymentStatuses is the compare-and-set guard: terminal states
// are never overwritten, so a late gateway "finished" cannot resurrect a
// cancelled order and a cancel cannot land on a finalized one.
var nonTerminalPaymentStatuses = []string{
	string(PaymentPending), string(PaymentWaiting), string(PaymentConfirming),
}

type Address struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	PostalCode *string `json:"postal_code,omitempty"`
	Country    string  `json:"country"`
}

// PaymentDetails is the normalized snapshot written at finalization: what was
// actually paid, which for variable-rate crypto payments can differ from the
// requested amount.
type PaymentDetails struct {
	PaidAmount     float64         `json:"paid_amount"`
	PaidCurrency   string          `json:"paid_currency"`
	ProviderStatus string          `json:"provider_status"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// OrderLine is an immutable snapshot of a cart line at checkout time.
type OrderLine struct {
	ProductID       int64                    `json:"product_id"`
	ProductName     string                   `json:"product_name"`
	SizeLabel       *string                  `json:"size_label,omitempty"`
	ColorLabel      *string                  `json:"color_label,omitempty"`
	Variants        []carts.VariantSelection `json:"variants,omitempty"`
	Quantity        int                      `json:"quantity"`
	UnitPriceCents  int64                    `json:"unit_price_cents"`
	TotalPriceCents int64                    `json:"total_price_cents"`
	ImageURL        *string                  `json:"image_url,omitempty"`
}

// Order rows are append-only: once created they are only ever
// status-updated, never deleted. Any order whose payment status is not
// "cancelled" references an intent that exists at the gateway. Exactly one
// of AccountID/DeviceID identifies the owner; reconciled orphan rows carry
// neither and are reachable only by support.
type Order struct {
	ID            int64         `json:"id"`
	OrderNumber   string        `json:"order_number"`
	OrderRef      string        `json:"order_ref"`
	AccountID     *int64        `json:"account_id,omitempty"`
	DeviceID      *string       `json:"device_id,omitempty"`
	Email         string        `json:"email"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method"`

	Provider        string     `json:"provider,omitempty"`
	IntentID        *string    `json:"intent_id,omitempty"`
	PayAddress      *string    `json:"pay_address,omitempty"`
	PayAmount       *float64   `json:"pay_amount,omitempty"`
	PayCurrency     *string    `json:"pay_currency,omitempty"`
	IntentExpiresAt *time.Time `json:"intent_expires_at,omitempty"`

	Currency      string `json:"currency"`
	SubtotalCents int64  `json:"subtotal_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`

	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	PaymentDetails  *PaymentDetails `json:"payment_details,omitempty"`

	CancelledReason  *string    `json:"cancelled_reason,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	ReconciledOrphan bool       `json:"reconciled_orphan,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`

	Lines []OrderLine `json:"lines,omitempty"`
}
