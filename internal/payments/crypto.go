package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CryptoClient adapts the cryptocurrency provider. Payments are address
// based: the provider returns a deposit address and amount in the chosen
// coin, and status is polled until terminal.
type CryptoClient struct {
	client *apiClient
}

func NewCryptoClient(baseURL, apiKey string, timeout time.Duration) *CryptoClient {
	return &CryptoClient{client: newAPIClient("crypto-gateway", baseURL, apiKey, timeout)}
}

func (g *CryptoClient) ListCurrencies(ctx context.Context) ([]string, error) {
	var res struct {
		Currencies []string `json:"currencies"`
	}
	if err := g.client.doJSON(ctx, "GET", "/v1/currencies", nil, &res); err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	return res.Currencies, nil
}

// MinAmount returns the smallest payable amount in payCurrency together with
// its fiat equivalent. The sequencer rejects currencies whose minimum
// exceeds the order total before any intent is created.
func (g *CryptoClient) MinAmount(ctx context.Context, payCurrency, fiatCurrency string) (*MinAmount, error) {
	path := fmt.Sprintf("/v1/min-amount?currency_from=%s&fiat_equivalent=%s",
		strings.ToLower(payCurrency), strings.ToLower(fiatCurrency))

	var res struct {
		CurrencyFrom   string  `json:"currency_from"`
		MinAmount      float64 `json:"min_amount"`
		FiatEquivalent float64 `json:"fiat_equivalent"`
	}
	if err := g.client.doJSON(ctx, "GET", path, nil, &res); err != nil {
		return nil, fmt.Errorf("min amount for %s: %w", payCurrency, err)
	}

	return &MinAmount{
		Currency:       res.CurrencyFrom,
		MinAmount:      res.MinAmount,
		FiatEquivalent: res.FiatEquivalent,
	}, nil
}

func (g *CryptoClient) CreatePayment(ctx context.Context, req IntentRequest) (*Intent, error) {
	payload := map[string]any{
		"price_amount":   centsToAmount(req.AmountCents),
		"price_currency": strings.ToLower(req.Currency),
		"pay_currency":   strings.ToLower(req.PayCurrency),
		"order_id":       req.OrderRef,
	}

	var res struct {
		PaymentID      json.Number `json:"payment_id"`
		PaymentStatus  string      `json:"payment_status"`
		PayAddress     string      `json:"pay_address"`
		PayAmount      float64     `json:"pay_amount"`
		PayCurrency    string      `json:"pay_currency"`
		CreatedAt      string      `json:"created_at"`
		ExpirationDate string      `json:"expiration_estimate_date"`
	}
	if err := g.client.doJSON(ctx, "POST", "/v1/payment", payload, &res); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if res.PaymentID.String() == "" {
		return nil, fmt.Errorf("create payment: gateway returned no payment id")
	}

	intent := &Intent{
		Provider:         ProviderCrypto,
		IntentID:         res.PaymentID.String(),
		OrderRef:         req.OrderRef,
		PriceAmountCents: req.AmountCents,
		PriceCurrency:    req.Currency,
		PayAmount:        res.PayAmount,
		PayCurrency:      res.PayCurrency,
		PayAddress:       res.PayAddress,
		Status:           parseCryptoStatus(res.PaymentStatus),
		CreatedAt:        time.Now(),
	}
	if exp, err := time.Parse(time.RFC3339, res.ExpirationDate); err == nil {
		intent.ExpiresAt = &exp
	}
	return intent, nil
}

func (g *CryptoClient) GetPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	var raw json.RawMessage
	if err := g.client.doJSON(ctx, "GET", "/v1/payment/"+paymentID, nil, &raw); err != nil {
		return nil, fmt.Errorf("payment status: %w", err)
	}

	var res struct {
		PaymentStatus string  `json:"payment_status"`
		ActuallyPaid  float64 `json:"actually_paid"`
		PayCurrency   string  `json:"pay_currency"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode payment status: %w", err)
	}

	return &StatusResult{
		Status:       parseCryptoStatus(res.PaymentStatus),
		PaidAmount:   res.ActuallyPaid,
		PaidCurrency: res.PayCurrency,
		Raw:          raw,
	}, nil
}

// ListPayments returns the provider's most recent payments, newest first.
// Used only by the reconciliation sweep.
func (g *CryptoClient) ListPayments(ctx context.Context, limit int) ([]PaymentSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	path := fmt.Sprintf("/v1/payments?limit=%d&sortBy=created_at&orderBy=desc", limit)

	var res struct {
		Data []struct {
			PaymentID     json.Number `json:"payment_id"`
			OrderID       string      `json:"order_id"`
			PaymentStatus string      `json:"payment_status"`
			PriceAmount   float64     `json:"price_amount"`
			PriceCurrency string      `json:"price_currency"`
			CreatedAt     string      `json:"created_at"`
		} `json:"data"`
	}
	if err := g.client.doJSON(ctx, "GET", path, nil, &res); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	out := make([]PaymentSummary, 0, len(res.Data))
	for _, p := range res.Data {
		s := PaymentSummary{
			IntentID:    p.PaymentID.String(),
			OrderRef:    p.OrderID,
			Status:      parseCryptoStatus(p.PaymentStatus),
			AmountCents: int64(p.PriceAmount * 100),
			Currency:    p.PriceCurrency,
		}
		if ts, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			s.CreatedAt = ts
		}
		out = append(out, s)
	}
	return out, nil
}

// parseCryptoStatus normalizes the provider's status strings. Unknown values
// are held as waiting so they keep being polled instead of being closed on a
// guess.
func parseCryptoStatus(s string) IntentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "finished":
		return IntentFinished
	case "confirmed":
		return IntentConfirmed
	case "confirming", "sending":
		return IntentConfirming
	case "partially_paid":
		return IntentPartiallyPaid
	case "failed":
		return IntentFailed
	case "expired":
		return IntentExpired
	case "refunded":
		return IntentRefunded
	default:
		return IntentWaiting
	}
}

var _ CryptoGateway = (*CryptoClient)(nil)
