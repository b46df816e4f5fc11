package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
	"pasal/internal/payments"
)

type testEnv struct {
	engine   *Engine
	carts    *fakeCartStore
	orders   *fakeOrderStore
	gateways *stubGateways
	recorder *fakeRecorder
	profile  *fakeProfile
	mailer   *fakeMailer
}

func newTestEnv(t *testing.T, g *stubGateways) *testEnv {
	t.Helper()
	env := &testEnv{
		carts:    newFakeCartStore(),
		orders:   newFakeOrderStore(),
		gateways: g,
		recorder: &fakeRecorder{},
		profile:  newFakeProfile(),
		mailer:   &fakeMailer{},
	}
	env.engine = NewEngine(
		Config{Currency: "usd", ShippingFlatCents: 500, TaxRateBps: 800, PollInterval: time.Hour},
		zap.NewNop().Sugar(),
		env.carts, env.orders, env.profile, g, env.recorder, env.mailer,
	)
	t.Cleanup(env.engine.Monitor().Stop)
	return env
}

func (env *testEnv) seedCart(t *testing.T, owner carts.Owner) {
	t.Helper()
	require.NoError(t, env.carts.ReplaceAll(context.Background(), owner, []carts.CartLine{
		{ProductID: 1, ProductName: "Wool Sweater", Quantity: 2, UnitPriceCents: 1000},
		{ProductID: 2, ProductName: "Hiking Boots", Quantity: 1, UnitPriceCents: 2500},
	}))
}

func validDraft(owner carts.Owner, method string) Draft {
	d := Draft{
		Owner:         owner,
		Email:         "shopper@example.com",
		PaymentMethod: method,
		ShippingAddress: orders.Address{
			Name:    "Asha Rai",
			Phone:   "555-0101",
			Street:  "12 Hill Road",
			City:    "Portland",
			Country: "US",
		},
	}
	if method == "crypto" {
		d.PayCurrency = "trx"
	}
	return d
}

func TestStartCheckoutCrypto(t *testing.T) {
	g := &stubGateways{
		intent: payments.Intent{
			Provider:    payments.ProviderCrypto,
			IntentID:    "pay-77",
			PayAddress:  "TAddr123",
			PayAmount:   120.5,
			PayCurrency: "trx",
			Status:      payments.IntentWaiting,
		},
		min: payments.MinAmount{Currency: "trx", MinAmount: 10, FiatEquivalent: 1.50},
	}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	res, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "crypto"))
	require.NoError(t, err)

	// subtotal 4500, flat shipping 500, 8% tax 360
	assert.Equal(t, int64(4500), res.Order.SubtotalCents)
	assert.Equal(t, int64(500), res.Order.ShippingCents)
	assert.Equal(t, int64(360), res.Order.TaxCents)
	assert.Equal(t, int64(5360), res.Order.TotalCents)

	assert.Equal(t, orders.StatusPending, res.Order.Status)
	// The gateway's status is the monitor's business; the row starts pending.
	assert.Equal(t, orders.PaymentPending, res.Order.PaymentStatus)
	require.NotNil(t, res.Order.IntentID)
	assert.Equal(t, "pay-77", *res.Order.IntentID)
	assert.NotEmpty(t, res.Order.OrderRef)
	assert.Len(t, res.Order.Lines, 2)

	assert.Equal(t, "TAddr123", res.PayAddress)
	assert.Equal(t, 120.5, res.PayAmount)
	assert.Empty(t, res.RedirectURL)

	// The cart survives until the payment lands.
	assert.Equal(t, 2, env.carts.lineCount(owner))
	assert.True(t, env.engine.Monitor().Watching("pay-77"))
}

func TestStartCheckoutFiat(t *testing.T) {
	g := &stubGateways{
		intent: payments.Intent{
			Provider:    payments.ProviderFiat,
			IntentID:    "inv-5",
			RedirectURL: "https://pay.example.com/inv-5",
			Status:      payments.IntentWaiting,
		},
	}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(3)
	env.seedCart(t, owner)

	res, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "card"))
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/inv-5", res.RedirectURL)
	assert.Empty(t, res.PayAddress)
	// Fiat payments are checked on demand, not watched.
	assert.False(t, env.engine.Monitor().Watching("inv-5"))
}

func TestGatewayFailureLeavesNoState(t *testing.T) {
	g := &stubGateways{createErr: payments.ErrGatewayUnavailable}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	_, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "card"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, payments.ErrGatewayUnavailable))

	assert.Equal(t, 0, env.orders.count())
	assert.Equal(t, 2, env.carts.lineCount(owner))
	assert.Empty(t, env.recorder.events)
}

func TestBelowMinimumRejectedBeforeIntent(t *testing.T) {
	g := &stubGateways{
		min: payments.MinAmount{Currency: "btc", MinAmount: 0.01, FiatEquivalent: 250.00},
	}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner) // total 5360 cents, minimum 25000

	draft := validDraft(owner, "crypto")
	draft.PayCurrency = "btc"
	_, err := env.engine.StartCheckout(context.Background(), draft)

	var minErr *BelowMinimumError
	require.ErrorAs(t, err, &minErr)
	assert.Equal(t, "btc", minErr.PayCurrency)

	assert.Equal(t, 0, g.createCalls)
	assert.Equal(t, 0, env.orders.count())
}

func TestBelowMinimumUsesRoundedFiatEquivalent(t *testing.T) {
	// 53.609 usd is 5360.9 cents. Truncation would read it as 5360 and let
	// a 5360-cent order through one cent under the minimum.
	g := &stubGateways{
		min: payments.MinAmount{Currency: "btc", MinAmount: 0.002, FiatEquivalent: 53.609},
	}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner) // total 5360 cents

	draft := validDraft(owner, "crypto")
	draft.PayCurrency = "btc"
	_, err := env.engine.StartCheckout(context.Background(), draft)

	var minErr *BelowMinimumError
	require.ErrorAs(t, err, &minErr)
	assert.Equal(t, 53.609, minErr.FiatEquivalent)
	assert.Equal(t, 0, g.createCalls)
}

func TestEmptyCartRejected(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	_, err := env.engine.StartCheckout(context.Background(), validDraft(carts.AccountOwner(7), "card"))
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, env.gateways.createCalls)
}

func TestDraftValidation(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	cases := []struct {
		name   string
		mutate func(*Draft)
		field  string
	}{
		{"bad email", func(d *Draft) { d.Email = "not-an-email" }, "Email"},
		{"missing email", func(d *Draft) { d.Email = "" }, "Email"},
		{"missing pay currency", func(d *Draft) { d.PayCurrency = "" }, "pay_currency"},
		{"missing street", func(d *Draft) { d.ShippingAddress.Street = "" }, "shipping_address.street"},
		{"missing country", func(d *Draft) { d.ShippingAddress.Country = "" }, "shipping_address.country"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := validDraft(owner, "crypto")
			tc.mutate(&draft)
			_, err := env.engine.StartCheckout(context.Background(), draft)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
	assert.Equal(t, 0, env.gateways.createCalls)
}

func TestUnknownPaymentMethod(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	_, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "cheque"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payment_method", verr.Field)
}

func TestOrphanedIntentIsReportedAndAudited(t *testing.T) {
	g := &stubGateways{
		intent: payments.Intent{Provider: payments.ProviderFiat, IntentID: "inv-9", Status: payments.IntentWaiting},
	}
	env := newTestEnv(t, g)
	env.orders.failCreate = true
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	_, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "card"))

	var oerr *OrphanedIntentError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "inv-9", oerr.Intent.IntentID)

	events := env.recorder.byStage(StageOrphan)
	require.Len(t, events, 1)
	assert.Equal(t, "inv-9", events[0].IntentID)
	assert.Equal(t, oerr.Intent.OrderRef, events[0].OrderRef)
}

func TestCheckoutSerializedPerShopper(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	require.True(t, env.engine.acquire(owner))
	_, err := env.engine.StartCheckout(context.Background(), validDraft(owner, "card"))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	// A different shopper is unaffected.
	other := carts.AccountOwner(8)
	env.seedCart(t, other)
	_, err = env.engine.StartCheckout(context.Background(), validDraft(other, "card"))
	require.NoError(t, err)

	env.engine.release(owner)
	_, err = env.engine.StartCheckout(context.Background(), validDraft(owner, "card"))
	require.NoError(t, err)
}

func seedOrder(t *testing.T, env *testEnv, owner carts.Owner, intentID string) *orders.Order {
	t.Helper()
	accountID := owner.AccountID
	o := &orders.Order{
		OrderRef:      "ref-" + intentID,
		Email:         "shopper@example.com",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentWaiting,
		PaymentMethod: "crypto",
		Provider:      string(payments.ProviderCrypto),
		IntentID:      &intentID,
		Currency:      "usd",
		TotalCents:    5360,
		ShippingAddress: orders.Address{
			Name: "Asha Rai", Phone: "555-0101", Street: "12 Hill Road", City: "Portland", Country: "US",
		},
	}
	if owner.IsGuest() {
		device := owner.DeviceID
		o.DeviceID = &device
	} else {
		o.AccountID = &accountID
	}
	require.NoError(t, env.orders.Create(context.Background(), o))
	return o
}

func TestSettleFinishedFinalizesOrder(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)
	o := seedOrder(t, env, owner, "pay-1")

	done := env.engine.SettleIntent(context.Background(), WatchSpec{
		IntentID: "pay-1", Provider: payments.ProviderCrypto,
		OrderID: o.ID, OrderRef: o.OrderRef, Owner: owner, SaveAddress: true,
	}, &payments.StatusResult{Status: payments.IntentFinished, PaidAmount: 120.5, PaidCurrency: "trx"})
	require.True(t, done)

	got, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	require.NotNil(t, got.PaymentDetails)
	assert.Equal(t, 120.5, got.PaymentDetails.PaidAmount)
	assert.NotNil(t, got.PaidAt)

	// Cart cleared, address saved, confirmation sent.
	assert.Equal(t, 0, env.carts.lineCount(owner))
	addrs, _ := env.profile.GetAddresses(context.Background(), 7)
	require.Len(t, addrs, 1)
	assert.Equal(t, "Asha Rai", addrs[0].Name)
	assert.Equal(t, []string{"shopper@example.com"}, env.mailer.sent)
}

func TestSettleFailedConsumesCart(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)
	o := seedOrder(t, env, owner, "pay-2")

	done := env.engine.SettleIntent(context.Background(), WatchSpec{
		IntentID: "pay-2", Provider: payments.ProviderCrypto,
		OrderID: o.ID, OrderRef: o.OrderRef, Owner: owner,
	}, &payments.StatusResult{Status: payments.IntentExpired})
	require.True(t, done)

	got, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, got.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, got.Status)

	// The attempt is consumed once the outcome is recorded.
	assert.Equal(t, 0, env.carts.lineCount(owner))
	assert.Empty(t, env.mailer.sent)
	assert.Len(t, env.recorder.byStage(StageSettled), 1)
}

func TestSettleProgressKeepsWatching(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	o := seedOrder(t, env, owner, "pay-3")

	spec := WatchSpec{IntentID: "pay-3", Provider: payments.ProviderCrypto, OrderID: o.ID, Owner: owner}

	done := env.engine.SettleIntent(context.Background(), spec, &payments.StatusResult{Status: payments.IntentConfirming})
	assert.False(t, done)
	got, _ := env.orders.GetByID(context.Background(), o.ID)
	assert.Equal(t, orders.PaymentConfirming, got.PaymentStatus)

	done = env.engine.SettleIntent(context.Background(), spec, &payments.StatusResult{Status: payments.IntentWaiting})
	assert.False(t, done)
}

func TestCancellationWinsAgainstLateSettlement(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)
	o := seedOrder(t, env, owner, "pay-4")

	_, err := env.engine.CancelCheckout(context.Background(), owner, o.ID, "changed my mind")
	require.NoError(t, err)

	// The gateway confirmation arrives after the cancel. It must not
	// resurrect the order.
	done := env.engine.SettleIntent(context.Background(), WatchSpec{
		IntentID: "pay-4", Provider: payments.ProviderCrypto,
		OrderID: o.ID, OrderRef: o.OrderRef, Owner: owner,
	}, &payments.StatusResult{Status: payments.IntentFinished, PaidAmount: 120.5})
	assert.True(t, done)

	got, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCancelled, got.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Nil(t, got.PaidAt)
	assert.Empty(t, env.mailer.sent)
}

func TestCancelCheckout(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)
	o := seedOrder(t, env, owner, "pay-5")

	got, err := env.engine.CancelCheckout(context.Background(), owner, o.ID, "took too long")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCancelled, got.PaymentStatus)
	require.NotNil(t, got.CancelledReason)
	assert.Equal(t, "took too long", *got.CancelledReason)

	events := env.recorder.byStage(StageAwaiting)
	require.Len(t, events, 1)
	assert.Equal(t, "pay-5", events[0].IntentID)

	// A recorded cancellation consumes the attempt, cart included.
	assert.Equal(t, 0, env.carts.lineCount(owner))
}

func TestCancelRefusedOnceSettled(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.AccountOwner(7)
	o := seedOrder(t, env, owner, "pay-6")

	_, err := env.orders.MarkPaid(context.Background(), o.ID, orders.PaymentDetails{PaidAmount: 1})
	require.NoError(t, err)

	got, err := env.engine.CancelCheckout(context.Background(), owner, o.ID, "too late")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Empty(t, env.recorder.byStage(StageAwaiting))
	// The transition table refuses the cancel before the store is even asked.
	assert.Equal(t, 0, env.orders.cancelAttempts())
}

func TestPollStatusFiatChecksGateway(t *testing.T) {
	g := &stubGateways{
		statusSeq: []payments.StatusResult{{Status: payments.IntentFinished, PaidAmount: 53.6, PaidCurrency: "usd"}},
	}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	env.seedCart(t, owner)

	o := seedOrder(t, env, owner, "inv-1")
	env.orders.mu.Lock()
	env.orders.orders[o.ID].Provider = string(payments.ProviderFiat)
	env.orders.orders[o.ID].PaymentMethod = "card"
	env.orders.mu.Unlock()

	view, err := env.engine.PollStatus(context.Background(), owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, view.PaymentStatus)
	assert.NotNil(t, view.PaidAt)
	assert.Equal(t, 1, g.checkCount())
	assert.Equal(t, 0, env.carts.lineCount(owner))

	// Terminal orders are served from the local row.
	_, err = env.engine.PollStatus(context.Background(), owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, g.checkCount())
}

func TestPollStatusCryptoReadsLocalRow(t *testing.T) {
	g := &stubGateways{}
	env := newTestEnv(t, g)
	owner := carts.AccountOwner(7)
	o := seedOrder(t, env, owner, "pay-7")

	view, err := env.engine.PollStatus(context.Background(), owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, view.PaymentStatus)
	assert.Equal(t, 0, g.checkCount())
}

func TestOrdersHiddenFromOtherAccounts(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	o := seedOrder(t, env, carts.AccountOwner(7), "pay-8")

	_, err := env.engine.PollStatus(context.Background(), carts.AccountOwner(8), o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = env.engine.CancelCheckout(context.Background(), carts.AccountOwner(8), o.ID, "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// Guests cannot reach account orders either.
	_, err = env.engine.PollStatus(context.Background(), carts.GuestOwner("device-x"), o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGuestOrdersHiddenFromOtherDevices(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.GuestOwner("device-owner")
	env.seedCart(t, owner)
	o := seedOrder(t, env, owner, "pay-9")

	// Another device guessing sequential order IDs sees and changes nothing.
	stranger := carts.GuestOwner("device-stranger")
	_, err := env.engine.PollStatus(context.Background(), stranger, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = env.engine.CancelCheckout(context.Background(), stranger, o.ID, "not mine")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// Nor does a signed-in account.
	_, err = env.engine.CancelCheckout(context.Background(), carts.AccountOwner(8), o.ID, "not mine")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	got, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, got.PaymentStatus)

	// The device that placed the order still owns it.
	view, err := env.engine.PollStatus(context.Background(), owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, view.PaymentStatus)

	cancelled, err := env.engine.CancelCheckout(context.Background(), owner, o.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCancelled, cancelled.PaymentStatus)
}

func TestRecordAbandoned(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.GuestOwner("device-1")
	env.seedCart(t, owner)

	err := env.engine.RecordAbandoned(context.Background(), owner, "shopper@example.com", "left at address step")
	require.NoError(t, err)

	events := env.recorder.byStage(StageDraft)
	require.Len(t, events, 1)
	assert.Equal(t, "device-1", events[0].Owner.DeviceID)
	require.NotNil(t, events[0].OrderID)

	got, err := env.orders.GetByID(context.Background(), *events[0].OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.PaymentCancelled, got.PaymentStatus)
	assert.Nil(t, got.IntentID)
	require.NotNil(t, got.DeviceID)
	assert.Equal(t, "device-1", *got.DeviceID)
	assert.Equal(t, int64(4500), got.SubtotalCents)
	assert.Len(t, got.Lines, 2)
	require.NotNil(t, got.CancelledReason)
	assert.Equal(t, "left at address step", *got.CancelledReason)

	assert.Equal(t, 0, env.carts.lineCount(owner))
}

func TestRecordAbandonedEmptyCart(t *testing.T) {
	env := newTestEnv(t, &stubGateways{})
	owner := carts.GuestOwner("device-2")

	err := env.engine.RecordAbandoned(context.Background(), owner, "", "bounced from cart page")
	require.NoError(t, err)

	// No order row for an empty cart, just the audit trail.
	assert.Equal(t, 0, env.orders.count())
	events := env.recorder.byStage(StageDraft)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].OrderID)
}
