package payments

import "context"

// FiatGateway is an invoice-style provider: the shopper is redirected to a
// hosted payment page and the invoice is looked up afterwards.
type FiatGateway interface {
	CreateInvoice(ctx context.Context, req IntentRequest) (*Intent, error)
	CheckStatus(ctx context.Context, invoiceID string) (*StatusResult, error)
}

// CryptoGateway is a polling-style provider: a payment gets a deposit
// address and the engine polls its status until terminal.
type CryptoGateway interface {
	ListCurrencies(ctx context.Context) ([]string, error)
	MinAmount(ctx context.Context, payCurrency, fiatCurrency string) (*MinAmount, error)
	CreatePayment(ctx context.Context, req IntentRequest) (*Intent, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error)
	ListPayments(ctx context.Context, limit int) ([]PaymentSummary, error)
}
