package checkout

import (
	"github.com/go-playground/validator/v10"

	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Draft is everything the shopper submits to start a checkout. It is
// validated in full before the gateway is contacted, so a rejected draft
// leaves no trace anywhere.
type Draft struct {
	Owner carts.Owner

	Email         string `json:"email" validate:"required,email"`
	PaymentMethod string `json:"payment_method" validate:"required"`

	// PayCurrency is the coin for crypto payments, ignored otherwise.
	PayCurrency string `json:"pay_currency"`

	ShippingAddress orders.Address  `json:"shipping_address"`
	BillingAddress  *orders.Address `json:"billing_address,omitempty"`

	// SaveAddress appends the shipping address to the account's address
	// book once the order is paid. Ignored for guests.
	SaveAddress bool `json:"save_address"`
}

// Validate rejects incomplete drafts. The payment method itself is checked
// against the configured gateways by the engine, not here.
func (d *Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: errs[0].Field(), Reason: "failed " + errs[0].Tag()}
		}
		return &ValidationError{Field: "draft", Reason: err.Error()}
	}

	if d.PaymentMethod == "crypto" && d.PayCurrency == "" {
		return &ValidationError{Field: "pay_currency", Reason: "required for crypto payments"}
	}
	if err := validateAddress("shipping_address", d.ShippingAddress); err != nil {
		return err
	}
	if d.BillingAddress != nil {
		if err := validateAddress("billing_address", *d.BillingAddress); err != nil {
			return err
		}
	}
	return nil
}

func validateAddress(field string, a orders.Address) error {
	switch {
	case a.Name == "":
		return &ValidationError{Field: field + ".name", Reason: "is required"}
	case a.Phone == "":
		return &ValidationError{Field: field + ".phone", Reason: "is required"}
	case a.Street == "":
		return &ValidationError{Field: field + ".street", Reason: "is required"}
	case a.City == "":
		return &ValidationError{Field: field + ".city", Reason: "is required"}
	case a.Country == "":
		return &ValidationError{Field: field + ".country", Reason: "is required"}
	}
	return nil
}
