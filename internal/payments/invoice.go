package payments

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InvoiceGateway adapts the fiat provider's invoice API. The shopper pays on
// the provider's hosted page (RedirectURL); there is no polling monitor for
// this provider, status is looked up on demand.
type InvoiceGateway struct {
	client     *apiClient
	successURL string
	cancelURL  string
}

func NewInvoiceGateway(baseURL, apiKey, successURL, cancelURL string, timeout time.Duration) *InvoiceGateway {
	return &InvoiceGateway{
		client:     newAPIClient("fiat-invoice", baseURL, apiKey, timeout),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (g *InvoiceGateway) CreateInvoice(ctx context.Context, req IntentRequest) (*Intent, error) {
	items := make([]map[string]any, 0, len(req.LineItems))
	for _, it := range req.LineItems {
		items = append(items, map[string]any{
			"name":     it.Name,
			"quantity": it.Quantity,
			"amount":   centsToAmount(it.AmountCents),
		})
	}

	payload := map[string]any{
		"price_amount":   centsToAmount(req.AmountCents),
		"price_currency": req.Currency,
		"order_id":       req.OrderRef,
		"customer_email": req.Email,
		"line_items":     items,
		"success_url":    g.successURL,
		"cancel_url":     g.cancelURL,
	}

	var res struct {
		ID             string `json:"id"`
		InvoiceURL     string `json:"invoice_url"`
		CreatedAt      string `json:"created_at"`
		ExpirationDate string `json:"expiration_date"`
	}
	if err := g.client.doJSON(ctx, "POST", "/v1/invoice", payload, &res); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	if res.ID == "" {
		return nil, fmt.Errorf("create invoice: gateway returned no invoice id")
	}

	intent := &Intent{
		Provider:         ProviderFiat,
		IntentID:         res.ID,
		OrderRef:         req.OrderRef,
		PriceAmountCents: req.AmountCents,
		PriceCurrency:    req.Currency,
		RedirectURL:      res.InvoiceURL,
		Status:           IntentWaiting,
		CreatedAt:        time.Now(),
	}
	if exp, err := time.Parse(time.RFC3339, res.ExpirationDate); err == nil {
		intent.ExpiresAt = &exp
	}
	return intent, nil
}

func (g *InvoiceGateway) CheckStatus(ctx context.Context, invoiceID string) (*StatusResult, error) {
	var res struct {
		PaymentStatus string  `json:"payment_status"`
		OrderStatus   string  `json:"order_status"`
		PaidAmount    float64 `json:"paid_amount"`
		PriceCurrency string  `json:"price_currency"`
	}
	if err := g.client.doJSON(ctx, "GET", "/v1/invoice/"+invoiceID, nil, &res); err != nil {
		return nil, fmt.Errorf("check invoice status: %w", err)
	}

	return &StatusResult{
		Status:       parseInvoiceStatus(res.PaymentStatus),
		PaidAmount:   res.PaidAmount,
		PaidCurrency: res.PriceCurrency,
	}, nil
}

// parseInvoiceStatus maps the invoice provider's vocabulary onto the shared
// intent statuses. Unknown values are held as waiting rather than guessed
// terminal, so they get re-checked instead of closing an order wrongly.
func parseInvoiceStatus(s string) IntentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "complete", "completed", "finished":
		return IntentFinished
	case "confirmed":
		return IntentConfirmed
	case "processing", "confirming":
		return IntentConfirming
	case "expired":
		return IntentExpired
	case "invalid", "failed":
		return IntentFailed
	case "refunded":
		return IntentRefunded
	default:
		return IntentWaiting
	}
}

var _ FiatGateway = (*InvoiceGateway)(nil)
