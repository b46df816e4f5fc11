package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pasal/internal/domain/orders"
	"pasal/internal/payments"
)

func TestSweepRecordsOrphans(t *testing.T) {
	store := newFakeOrderStore()
	recorder := &fakeRecorder{}

	// ref-known has a local order; ref-lost does not.
	knownIntent := "pay-known"
	require.NoError(t, store.Create(context.Background(), &orders.Order{
		OrderRef:      "ref-known",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentWaiting,
		IntentID:      &knownIntent,
	}))

	g := &stubGateways{payList: []payments.PaymentSummary{
		{IntentID: "pay-known", OrderRef: "ref-known", Status: payments.IntentWaiting, AmountCents: 5360, Currency: "usd"},
		{IntentID: "pay-lost", OrderRef: "ref-lost", Status: payments.IntentExpired, AmountCents: 1200, Currency: "usd", CreatedAt: time.Now()},
		{IntentID: "pay-noref", OrderRef: "", Status: payments.IntentWaiting},
	}}

	r := NewReconciler(zap.NewNop().Sugar(), g, store, recorder, "usd")
	n, err := r.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := store.ExistsByOrderRef(context.Background(), "ref-lost")
	require.NoError(t, err)
	assert.True(t, exists)

	var orphan *orders.Order
	store.mu.Lock()
	for _, o := range store.orders {
		if o.OrderRef == "ref-lost" {
			cp := *o
			orphan = &cp
		}
	}
	store.mu.Unlock()
	require.NotNil(t, orphan)
	assert.True(t, orphan.ReconciledOrphan)
	assert.Equal(t, orders.PaymentCancelled, orphan.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, orphan.Status)
	require.NotNil(t, orphan.IntentID)
	assert.Equal(t, "pay-lost", *orphan.IntentID)
	assert.Equal(t, int64(1200), orphan.TotalCents)

	events := recorder.byStage(StageOrphan)
	require.Len(t, events, 1)
	assert.Equal(t, "ref-lost", events[0].OrderRef)
}

func TestSweepIsIdempotent(t *testing.T) {
	store := newFakeOrderStore()
	recorder := &fakeRecorder{}
	g := &stubGateways{payList: []payments.PaymentSummary{
		{IntentID: "pay-lost", OrderRef: "ref-lost", Status: payments.IntentExpired, AmountCents: 1200, Currency: "usd"},
	}}

	r := NewReconciler(zap.NewNop().Sugar(), g, store, recorder, "usd")

	n, err := r.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The recorded orphan satisfies the next sweep's existence check.
	n, err = r.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, store.count())
}

func TestSweepPropagatesGatewayFailure(t *testing.T) {
	store := newFakeOrderStore()
	g := &gatewayDownCrypto{}

	r := NewReconciler(zap.NewNop().Sugar(), g, store, &fakeRecorder{}, "usd")
	_, err := r.Sweep(context.Background(), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, payments.ErrGatewayUnavailable)
	assert.Equal(t, 0, store.count())
}

type gatewayDownCrypto struct{ stubGateways }

func (g *gatewayDownCrypto) ListPayments(ctx context.Context, limit int) ([]payments.PaymentSummary, error) {
	return nil, payments.ErrGatewayUnavailable
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeOrderStore()
	g := &stubGateways{}
	r := NewReconciler(zap.NewNop().Sugar(), g, store, &fakeRecorder{}, "usd")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond, 100)
		close(done)
	}()

	require.Eventually(t, func() bool { return g.listCount() >= 2 },
		time.Second, time.Millisecond, "expected the loop to sweep more than once")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancellation")
	}
}
