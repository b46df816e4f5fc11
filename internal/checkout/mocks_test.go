package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
	"pasal/internal/payments"
)

type fakeCartStore struct {
	mu    sync.Mutex
	carts map[string][]carts.CartLine
	fail  bool
}

func newFakeCartStore() *fakeCartStore {
	return &fakeCartStore{carts: make(map[string][]carts.CartLine)}
}

func (s *fakeCartStore) Load(ctx context.Context, owner carts.Owner) (*carts.Cart, error) {
	if s.fail {
		return nil, carts.ErrStoreUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append([]carts.CartLine(nil), s.carts[ownerKey(owner)]...)
	return &carts.Cart{Owner: owner, Lines: lines}, nil
}

func (s *fakeCartStore) ReplaceAll(ctx context.Context, owner carts.Owner, lines []carts.CartLine) error {
	if s.fail {
		return carts.ErrStoreUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[ownerKey(owner)] = append([]carts.CartLine(nil), lines...)
	return nil
}

func (s *fakeCartStore) Clear(ctx context.Context, owner carts.Owner) error {
	if s.fail {
		return carts.ErrStoreUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, ownerKey(owner))
	return nil
}

func (s *fakeCartStore) lineCount(owner carts.Owner) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts[ownerKey(owner)])
}

type fakeOrderStore struct {
	mu          sync.Mutex
	nextID      int64
	orders      map[int64]*orders.Order
	failCreate  bool
	cancelCalls int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[int64]*orders.Order)}
}

func (s *fakeOrderStore) Create(ctx context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errors.New("insert order: connection refused")
	}
	if o.PaymentStatus != orders.PaymentCancelled && (o.IntentID == nil || *o.IntentID == "") {
		return fmt.Errorf("refusing to persist order %q without a gateway intent", o.OrderRef)
	}
	s.nextID++
	o.ID = s.nextID
	o.OrderNumber = fmt.Sprintf("PSL-%06d", s.nextID)
	o.CreatedAt = time.Now()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) MarkPaid(ctx context.Context, orderID int64, details orders.PaymentDetails) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.PaymentStatus.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	o.PaymentStatus = orders.PaymentPaid
	o.Status = orders.StatusProcessing
	o.PaymentDetails = &details
	o.PaidAt = &now
	return true, nil
}

func (s *fakeOrderStore) MarkPaymentFailed(ctx context.Context, orderID int64, status orders.PaymentStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.PaymentStatus.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	o.PaymentStatus = status
	o.Status = orders.StatusCancelled
	o.CancelledReason = &reason
	o.CancelledAt = &now
	return true, nil
}

func (s *fakeOrderStore) Cancel(ctx context.Context, orderID int64, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	o, ok := s.orders[orderID]
	if !ok || o.PaymentStatus.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	o.PaymentStatus = orders.PaymentCancelled
	o.Status = orders.StatusCancelled
	o.CancelledReason = &reason
	o.CancelledAt = &now
	return true, nil
}

func (s *fakeOrderStore) SetPaymentProgress(ctx context.Context, orderID int64, status orders.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && !o.PaymentStatus.IsTerminal() {
		o.PaymentStatus = status
	}
	return nil
}

func (s *fakeOrderStore) ExistsByOrderRef(ctx context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *fakeOrderStore) cancelAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCalls
}

// stubGateways plays both the manager and the crypto gateway.
type stubGateways struct {
	mu          sync.Mutex
	createErr   error
	intent      payments.Intent
	createCalls int
	statusSeq   []payments.StatusResult
	statusIdx   int
	statusCalls int
	min         payments.MinAmount
	minErr      error
	payList     []payments.PaymentSummary
	listCalls   int
}

func (g *stubGateways) ProviderFor(method string) (payments.Provider, error) {
	switch method {
	case "crypto":
		return payments.ProviderCrypto, nil
	case "card":
		return payments.ProviderFiat, nil
	}
	return "", fmt.Errorf("unsupported payment method: %s", method)
}

func (g *stubGateways) CreateIntent(ctx context.Context, method string, req payments.IntentRequest) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	intent := g.intent
	intent.OrderRef = req.OrderRef
	if intent.IntentID == "" {
		intent.IntentID = fmt.Sprintf("intent-%d", g.createCalls)
	}
	return &intent, nil
}

func (g *stubGateways) CheckStatus(ctx context.Context, provider payments.Provider, intentID string) (*payments.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if len(g.statusSeq) == 0 {
		return &payments.StatusResult{Status: payments.IntentWaiting}, nil
	}
	res := g.statusSeq[g.statusIdx]
	if g.statusIdx < len(g.statusSeq)-1 {
		g.statusIdx++
	}
	return &res, nil
}

func (g *stubGateways) Crypto() payments.CryptoGateway { return g }

func (g *stubGateways) ListCurrencies(ctx context.Context) ([]string, error) {
	return []string{"btc", "trx"}, nil
}

func (g *stubGateways) MinAmount(ctx context.Context, payCurrency, fiatCurrency string) (*payments.MinAmount, error) {
	if g.minErr != nil {
		return nil, g.minErr
	}
	min := g.min
	return &min, nil
}

func (g *stubGateways) CreatePayment(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	return g.CreateIntent(ctx, "crypto", req)
}

func (g *stubGateways) GetPaymentStatus(ctx context.Context, paymentID string) (*payments.StatusResult, error) {
	return g.CheckStatus(ctx, payments.ProviderCrypto, paymentID)
}

func (g *stubGateways) ListPayments(ctx context.Context, limit int) ([]payments.PaymentSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	return g.payList, nil
}

func (g *stubGateways) listCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listCalls
}

func (g *stubGateways) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *fakeRecorder) Record(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeRecorder) byStage(stage Stage) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

type fakeProfile struct {
	mu        sync.Mutex
	addresses map[int64][]orders.Address
}

func newFakeProfile() *fakeProfile {
	return &fakeProfile{addresses: make(map[int64][]orders.Address)}
}

func (p *fakeProfile) GetAddresses(ctx context.Context, accountID int64) ([]orders.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]orders.Address(nil), p.addresses[accountID]...), nil
}

func (p *fakeProfile) AppendAddress(ctx context.Context, accountID int64, addr orders.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[accountID] = append(p.addresses[accountID], addr)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) SendOrderConfirmation(email string, order *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}
