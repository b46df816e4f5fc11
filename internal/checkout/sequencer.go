package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
	"pasal/internal/domain/profile"
	"pasal/internal/payments"
)

// OrderStore is the slice of the order repository the engine uses.
type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) error
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	MarkPaid(ctx context.Context, orderID int64, details orders.PaymentDetails) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID int64, status orders.PaymentStatus, reason string) (bool, error)
	Cancel(ctx context.Context, orderID int64, reason string) (bool, error)
	SetPaymentProgress(ctx context.Context, orderID int64, status orders.PaymentStatus) error
}

// AuditRecorder appends checkout lifecycle events.
type AuditRecorder interface {
	Record(ctx context.Context, e Event) error
}

// Mailer sends the order confirmation. Failures are logged, never surfaced:
// a paid order is paid whether or not the email went out.
type Mailer interface {
	SendOrderConfirmation(email string, order *orders.Order) error
}

// GatewayManager routes payment methods to gateways.
type GatewayManager interface {
	StatusChecker
	ProviderFor(method string) (payments.Provider, error)
	CreateIntent(ctx context.Context, method string, req payments.IntentRequest) (*payments.Intent, error)
	Crypto() payments.CryptoGateway
}

type Config struct {
	Currency          string // fiat price currency, lowercase
	ShippingFlatCents int64
	TaxRateBps        int64 // tax on the subtotal, in basis points
	PollInterval      time.Duration
}

// Engine runs checkouts in a fixed sequence: validate the draft, request a
// gateway intent, persist the order, then watch the payment. The intent
// always exists before the order row; a failure before the intent leaves no
// local trace at all.
type Engine struct {
	cfg       Config
	logger    *zap.SugaredLogger
	cartStore carts.Store
	orders    OrderStore
	profiles  profile.Store
	gateways  GatewayManager
	recorder  AuditRecorder
	mailer    Mailer
	monitor   *Monitor

	mu       sync.Mutex
	inflight map[string]bool
}

func NewEngine(
	cfg Config,
	logger *zap.SugaredLogger,
	cartStore carts.Store,
	orderStore OrderStore,
	profiles profile.Store,
	gateways GatewayManager,
	recorder AuditRecorder,
	mailer Mailer,
) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		cartStore: cartStore,
		orders:    orderStore,
		profiles:  profiles,
		gateways:  gateways,
		recorder:  recorder,
		mailer:    mailer,
		inflight:  make(map[string]bool),
	}
	e.monitor = NewMonitor(logger, gateways, e, cfg.PollInterval)
	return e
}

// Monitor exposes the poll monitor for shutdown.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// Result is what the storefront needs to move the shopper to payment.
type Result struct {
	Order       *orders.Order `json:"order"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	PayAddress  string        `json:"pay_address,omitempty"`
	PayAmount   float64       `json:"pay_amount,omitempty"`
	PayCurrency string        `json:"pay_currency,omitempty"`
}

func ownerKey(o carts.Owner) string {
	if o.IsGuest() {
		return "d:" + o.DeviceID
	}
	return fmt.Sprintf("a:%d", o.AccountID)
}

func (e *Engine) acquire(o carts.Owner) bool {
	key := ownerKey(o)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[key] {
		return false
	}
	e.inflight[key] = true
	return true
}

func (e *Engine) release(o carts.Owner) {
	e.mu.Lock()
	delete(e.inflight, ownerKey(o))
	e.mu.Unlock()
}

// StartCheckout runs the full sequence for one draft. Errors before
// CreateIntent leave no state anywhere; an OrphanedIntentError means the
// intent exists at the gateway but no order row does, which the
// reconciliation sweep later repairs.
func (e *Engine) StartCheckout(ctx context.Context, draft Draft) (*Result, error) {
	if !e.acquire(draft.Owner) {
		return nil, ErrCheckoutInProgress
	}
	defer e.release(draft.Owner)

	state := StateStarted
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if err := advance(&state, StateValidated); err != nil {
		return nil, err
	}
	provider, err := e.gateways.ProviderFor(draft.PaymentMethod)
	if err != nil {
		return nil, &ValidationError{Field: "payment_method", Reason: err.Error()}
	}

	cart, err := e.cartStore.Load(ctx, draft.Owner)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	subtotal := cart.SubtotalCents()
	shipping := e.cfg.ShippingFlatCents
	tax := subtotal * e.cfg.TaxRateBps / 10000
	total := subtotal + shipping + tax

	if provider == payments.ProviderCrypto {
		min, err := e.gateways.Crypto().MinAmount(ctx, draft.PayCurrency, e.cfg.Currency)
		if err != nil {
			return nil, fmt.Errorf("minimum amount check: %w", err)
		}
		if int64(math.Round(min.FiatEquivalent*100)) > total {
			return nil, &BelowMinimumError{
				PayCurrency:    draft.PayCurrency,
				MinAmount:      min.MinAmount,
				FiatEquivalent: min.FiatEquivalent,
			}
		}
	}

	// A fresh reference per attempt: a retried checkout never reuses the
	// reference of an attempt whose fate is unknown.
	orderRef := uuid.New().String()

	items := make([]payments.LineItem, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		items = append(items, payments.LineItem{
			Name:        l.ProductName,
			Quantity:    l.Quantity,
			AmountCents: l.UnitPriceCents,
		})
	}

	if err := advance(&state, StateIntentRequested); err != nil {
		return nil, err
	}
	intent, err := e.gateways.CreateIntent(ctx, draft.PaymentMethod, payments.IntentRequest{
		AmountCents: total,
		Currency:    e.cfg.Currency,
		OrderRef:    orderRef,
		Email:       draft.Email,
		PayCurrency: draft.PayCurrency,
		LineItems:   items,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if err := advance(&state, StateIntentCreated); err != nil {
		return nil, err
	}

	// The order row is only allowed to exist once the sequence has passed
	// through intent creation.
	if err := advance(&state, StateOrderPersisted); err != nil {
		return nil, err
	}
	order := e.buildOrder(draft, cart, intent, subtotal, shipping, tax, total)
	if err := e.orders.Create(ctx, order); err != nil {
		e.logger.Errorw("order persistence failed after intent creation",
			"intent_id", intent.IntentID, "order_ref", orderRef, "provider", intent.Provider, "error", err)
		if rerr := e.recorder.Record(ctx, Event{
			Owner:    draft.Owner,
			OrderRef: orderRef,
			IntentID: intent.IntentID,
			Stage:    StageOrphan,
			Reason:   err.Error(),
		}); rerr != nil {
			e.logger.Errorw("orphaned intent audit failed", "intent_id", intent.IntentID, "error", rerr)
		}
		return nil, &OrphanedIntentError{Intent: intent, Err: err}
	}

	e.logger.Infow("checkout order created",
		"order_number", order.OrderNumber, "order_ref", orderRef,
		"intent_id", intent.IntentID, "method", draft.PaymentMethod, "total_cents", total)

	if provider == payments.ProviderCrypto {
		if err := advance(&state, StateAwaitingPayment); err != nil {
			return nil, err
		}
		e.monitor.Watch(WatchSpec{
			IntentID:    intent.IntentID,
			Provider:    intent.Provider,
			OrderID:     order.ID,
			OrderRef:    orderRef,
			Owner:       draft.Owner,
			SaveAddress: draft.SaveAddress,
			ExpiresAt:   intent.ExpiresAt,
		})
	}

	return &Result{
		Order:       order,
		RedirectURL: intent.RedirectURL,
		PayAddress:  intent.PayAddress,
		PayAmount:   intent.PayAmount,
		PayCurrency: intent.PayCurrency,
	}, nil
}

func (e *Engine) buildOrder(draft Draft, cart *carts.Cart, intent *payments.Intent, subtotal, shipping, tax, total int64) *orders.Order {
	o := &orders.Order{
		OrderRef:      intent.OrderRef,
		Email:         draft.Email,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		PaymentMethod: draft.PaymentMethod,

		Provider:        string(intent.Provider),
		IntentID:        &intent.IntentID,
		IntentExpiresAt: intent.ExpiresAt,

		Currency:      e.cfg.Currency,
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		TaxCents:      tax,
		TotalCents:    total,

		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.BillingAddress,
	}
	if draft.Owner.IsGuest() {
		device := draft.Owner.DeviceID
		o.DeviceID = &device
	} else {
		id := draft.Owner.AccountID
		o.AccountID = &id
	}
	if intent.PayAddress != "" {
		o.PayAddress = &intent.PayAddress
		o.PayAmount = &intent.PayAmount
		o.PayCurrency = &intent.PayCurrency
	}

	o.Lines = snapshotLines(cart)
	return o
}

func snapshotLines(cart *carts.Cart) []orders.OrderLine {
	lines := make([]orders.OrderLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lines = append(lines, orders.OrderLine{
			ProductID:       l.ProductID,
			ProductName:     l.ProductName,
			SizeLabel:       l.SizeLabel,
			ColorLabel:      l.ColorLabel,
			Variants:        l.Variants,
			Quantity:        l.Quantity,
			UnitPriceCents:  l.UnitPriceCents,
			TotalPriceCents: l.LineTotalCents(),
			ImageURL:        l.ImageURL,
		})
	}
	return lines
}

// SettleIntent applies one gateway status to the order. Returns true when
// the payment reached a terminal outcome.
func (e *Engine) SettleIntent(ctx context.Context, w WatchSpec, res *payments.StatusResult) bool {
	switch {
	case res.Status.Succeeded():
		return e.finalize(ctx, w, res)

	case res.Status == payments.IntentFailed, res.Status == payments.IntentExpired, res.Status == payments.IntentRefunded:
		return e.closeFailed(ctx, w, res)

	case res.Status == payments.IntentConfirming, res.Status == payments.IntentPartiallyPaid:
		if err := e.orders.SetPaymentProgress(ctx, w.OrderID, orders.PaymentConfirming); err != nil {
			e.logger.Warnw("payment progress update failed", "order_id", w.OrderID, "error", err)
		}
		return false

	default:
		return false
	}
}

func (e *Engine) finalize(ctx context.Context, w WatchSpec, res *payments.StatusResult) bool {
	swapped, err := e.orders.MarkPaid(ctx, w.OrderID, orders.PaymentDetails{
		PaidAmount:     res.PaidAmount,
		PaidCurrency:   res.PaidCurrency,
		ProviderStatus: string(res.Status),
		Raw:            res.Raw,
	})
	if err != nil {
		e.logger.Errorw("finalize failed, will retry", "order_id", w.OrderID, "error", err)
		return false
	}
	if !swapped {
		// Lost the race against a cancellation; the terminal state stands.
		e.logger.Infow("payment settled after order closed", "order_id", w.OrderID, "status", res.Status)
		return true
	}

	e.clearCart(ctx, w.Owner, w.OrderID)

	order, err := e.orders.GetByID(ctx, w.OrderID)
	if err != nil {
		e.logger.Errorw("paid order reload failed", "order_id", w.OrderID, "error", err)
		return true
	}

	if w.SaveAddress && !w.Owner.IsGuest() {
		if err := e.profiles.AppendAddress(ctx, w.Owner.AccountID, order.ShippingAddress); err != nil {
			e.logger.Warnw("address book append failed", "order_id", w.OrderID, "error", err)
		}
	}
	if e.mailer != nil {
		if err := e.mailer.SendOrderConfirmation(order.Email, order); err != nil {
			e.logger.Warnw("order confirmation email failed", "order_id", w.OrderID, "error", err)
		}
	}

	e.logger.Infow("order paid", "order_id", w.OrderID, "order_number", order.OrderNumber,
		"paid_amount", res.PaidAmount, "paid_currency", res.PaidCurrency)
	return true
}

func (e *Engine) closeFailed(ctx context.Context, w WatchSpec, res *payments.StatusResult) bool {
	status := orders.PaymentFailed
	if res.Status == payments.IntentExpired {
		status = orders.PaymentExpired
	}

	swapped, err := e.orders.MarkPaymentFailed(ctx, w.OrderID, status, "gateway reported "+string(res.Status))
	if err != nil {
		e.logger.Errorw("payment failure close failed, will retry", "order_id", w.OrderID, "error", err)
		return false
	}
	if swapped {
		e.logger.Infow("payment closed unpaid", "order_id", w.OrderID, "status", res.Status)
		if err := e.recorder.Record(ctx, Event{
			Owner:    w.Owner,
			OrderID:  &w.OrderID,
			OrderRef: w.OrderRef,
			IntentID: w.IntentID,
			Stage:    StageSettled,
			Reason:   string(res.Status),
		}); err != nil {
			e.logger.Warnw("settlement audit failed", "order_id", w.OrderID, "error", err)
		}
		e.clearCart(ctx, w.Owner, w.OrderID)
	}
	return true
}

// clearCart consumes the attempt once the order reached a terminal record.
// Failures are logged; the order outcome already stands.
func (e *Engine) clearCart(ctx context.Context, owner carts.Owner, orderID int64) {
	if err := e.cartStore.Clear(ctx, owner); err != nil {
		e.logger.Errorw("cart clear failed", "order_id", orderID, "error", err)
	}
}

// ExpireIntent closes a watch whose window elapsed with no terminal gateway
// status. One final check catches a payment that landed at the buzzer.
func (e *Engine) ExpireIntent(ctx context.Context, w WatchSpec) {
	if res, err := e.gateways.CheckStatus(ctx, w.Provider, w.IntentID); err == nil && res.Status.Terminal() {
		e.SettleIntent(ctx, w, res)
		return
	}

	if _, err := e.orders.MarkPaymentFailed(ctx, w.OrderID, orders.PaymentExpired, "payment window elapsed"); err != nil {
		e.logger.Errorw("expiry close failed", "order_id", w.OrderID, "error", err)
	}
}

// StatusView is what PollStatus returns to the storefront.
type StatusView struct {
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
}

// PollStatus reports where an order's payment stands. Fiat orders have no
// background monitor, so a pending fiat order gets a gateway check right
// here; crypto orders just report the monitor's latest write.
func (e *Engine) PollStatus(ctx context.Context, owner carts.Owner, orderID int64) (*StatusView, error) {
	order, err := e.getAuthorized(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}

	if order.Provider == string(payments.ProviderFiat) &&
		stateForPaymentStatus(order.PaymentStatus).CanTransitionTo(StateCompleted) &&
		order.IntentID != nil {
		res, err := e.gateways.CheckStatus(ctx, payments.ProviderFiat, *order.IntentID)
		if err != nil {
			e.logger.Warnw("fiat status check failed", "order_id", orderID, "error", err)
		} else {
			e.SettleIntent(ctx, WatchSpec{
				IntentID: *order.IntentID,
				Provider: payments.ProviderFiat,
				OrderID:  order.ID,
				OrderRef: order.OrderRef,
				Owner:    owner,
			}, res)
			if order, err = e.orders.GetByID(ctx, orderID); err != nil {
				return nil, err
			}
		}
	}

	return &StatusView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaidAt:        order.PaidAt,
	}, nil
}

// CancelCheckout applies a shopper-initiated cancellation. If the payment
// already settled the cancel is refused and the caller sees the settled
// order. A successful cancel consumes the attempt: the cancelled order row
// stays as the audit trace and the cart is cleared.
func (e *Engine) CancelCheckout(ctx context.Context, owner carts.Owner, orderID int64, reason string) (*orders.Order, error) {
	order, err := e.getAuthorized(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}

	if !stateForPaymentStatus(order.PaymentStatus).CanTransitionTo(StateCancelled) {
		e.logger.Infow("cancel refused, payment already terminal", "order_id", orderID)
		return order, nil
	}

	swapped, err := e.orders.Cancel(ctx, orderID, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	if order.IntentID != nil {
		e.monitor.Unwatch(*order.IntentID)
	}

	if swapped {
		intentID := ""
		if order.IntentID != nil {
			intentID = *order.IntentID
		}
		if err := e.recorder.Record(ctx, Event{
			Owner:    owner,
			OrderID:  &orderID,
			OrderRef: order.OrderRef,
			IntentID: intentID,
			Stage:    StageAwaiting,
			Reason:   reason,
		}); err != nil {
			e.logger.Warnw("cancellation audit failed", "order_id", orderID, "error", err)
		}
		e.clearCart(ctx, owner, orderID)
		e.logger.Infow("checkout cancelled", "order_id", orderID, "reason", reason)
	} else {
		e.logger.Infow("cancel refused, payment already terminal", "order_id", orderID)
	}

	return e.orders.GetByID(ctx, orderID)
}

// RecordAbandoned closes a checkout the shopper walked away from before any
// intent existed (e.g. dismissing the coin picker). The attempt still leaves
// a trace: a cancelled order row snapshotting the cart, plus an audit event.
// The cart is then cleared; the attempt is consumed.
func (e *Engine) RecordAbandoned(ctx context.Context, owner carts.Owner, email, reason string) error {
	cart, err := e.cartStore.Load(ctx, owner)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		// Nothing was at stake; an audit event is trace enough.
		return e.recorder.Record(ctx, Event{Owner: owner, Stage: StageDraft, Reason: reason})
	}

	subtotal := cart.SubtotalCents()
	order := &orders.Order{
		OrderRef:        uuid.New().String(),
		Email:           email,
		Status:          orders.StatusCancelled,
		PaymentStatus:   orders.PaymentCancelled,
		Currency:        e.cfg.Currency,
		SubtotalCents:   subtotal,
		TotalCents:      subtotal,
		CancelledReason: &reason,
	}
	if owner.IsGuest() {
		device := owner.DeviceID
		order.DeviceID = &device
	} else {
		id := owner.AccountID
		order.AccountID = &id
	}
	order.Lines = snapshotLines(cart)

	if err := e.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("record abandoned checkout: %w", err)
	}
	if err := e.recorder.Record(ctx, Event{
		Owner:    owner,
		OrderID:  &order.ID,
		OrderRef: order.OrderRef,
		Stage:    StageDraft,
		Reason:   reason,
	}); err != nil {
		e.logger.Warnw("abandonment audit failed", "order_id", order.ID, "error", err)
	}
	e.clearCart(ctx, owner, order.ID)
	return nil
}

// getAuthorized loads an order only for its owner. Account orders require a
// matching account; guest orders require the device that placed them. Rows
// with no owner at all (reconciled orphans) are reachable by nobody here.
func (e *Engine) getAuthorized(ctx context.Context, owner carts.Owner, orderID int64) (*orders.Order, error) {
	order, err := e.orders.GetByID(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.AccountID != nil {
		if owner.IsGuest() || *order.AccountID != owner.AccountID {
			return nil, ErrOrderNotFound
		}
		return order, nil
	}
	if order.DeviceID == nil || owner.DeviceID == "" || *order.DeviceID != owner.DeviceID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
