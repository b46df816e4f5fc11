package payments

import (
	"context"
	"fmt"
)

// Manager routes payment methods to the right gateway: "crypto" goes to the
// crypto provider, every registered fiat method to the invoice provider.
type Manager struct {
	fiat        FiatGateway
	crypto      CryptoGateway
	fiatMethods map[string]bool
}

func NewManager(fiat FiatGateway, crypto CryptoGateway, fiatMethods []string) *Manager {
	methods := make(map[string]bool, len(fiatMethods))
	for _, m := range fiatMethods {
		methods[m] = true
	}
	return &Manager{fiat: fiat, crypto: crypto, fiatMethods: methods}
}

func (m *Manager) ProviderFor(method string) (Provider, error) {
	switch {
	case method == "crypto":
		return ProviderCrypto, nil
	case m.fiatMethods[method]:
		return ProviderFiat, nil
	default:
		return "", fmt.Errorf("unsupported payment method: %s", method)
	}
}

// CreateIntent obtains a payment intent from the gateway owning the method.
// No local state is touched here; the caller persists the order only after
// this returns successfully.
func (m *Manager) CreateIntent(ctx context.Context, method string, req IntentRequest) (*Intent, error) {
	provider, err := m.ProviderFor(method)
	if err != nil {
		return nil, err
	}
	if provider == ProviderCrypto {
		return m.crypto.CreatePayment(ctx, req)
	}
	return m.fiat.CreateInvoice(ctx, req)
}

// CheckStatus queries the gateway that owns the intent.
func (m *Manager) CheckStatus(ctx context.Context, provider Provider, intentID string) (*StatusResult, error) {
	switch provider {
	case ProviderCrypto:
		return m.crypto.GetPaymentStatus(ctx, intentID)
	case ProviderFiat:
		return m.fiat.CheckStatus(ctx, intentID)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func (m *Manager) Crypto() CryptoGateway { return m.crypto }
