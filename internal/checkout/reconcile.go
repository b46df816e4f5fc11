package checkout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pasal/internal/domain/orders"
	"pasal/internal/payments"
)

// reconcileStore is the slice of the order repository the sweep uses.
type reconcileStore interface {
	Create(ctx context.Context, o *orders.Order) error
	ExistsByOrderRef(ctx context.Context, ref string) (bool, error)
}

// Reconciler finds gateway intents that have no local order. That gap has
// exactly one cause: the order insert failed after the intent was created.
// Each orphan is recorded as a cancelled, flagged order row so support can
// match a shopper's "I paid but have no order" against it.
type Reconciler struct {
	logger   *zap.SugaredLogger
	crypto   payments.CryptoGateway
	orders   reconcileStore
	recorder AuditRecorder
	currency string
}

func NewReconciler(logger *zap.SugaredLogger, crypto payments.CryptoGateway, store reconcileStore, recorder AuditRecorder, currency string) *Reconciler {
	if currency == "" {
		currency = "usd"
	}
	return &Reconciler{logger: logger, crypto: crypto, orders: store, recorder: recorder, currency: currency}
}

// Run sweeps once immediately, then on every tick, until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.sweepOnce(ctx, limit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx, limit)
		}
	}
}

func (r *Reconciler) sweepOnce(ctx context.Context, limit int) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := r.Sweep(sweepCtx, limit)
	if err != nil {
		// Stay quiet when the loop itself is being shut down.
		if ctx.Err() == nil {
			r.logger.Errorw("reconciliation sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logger.Warnw("reconciliation sweep recorded orphans", "count", n)
	} else {
		r.logger.Infow("reconciliation sweep clean")
	}
}

// Sweep walks the gateway's recent payments and records every one whose
// order reference is unknown locally. Returns how many orphans were
// recorded. Individual failures are logged and skipped so one bad row never
// stalls the sweep.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (int, error) {
	list, err := r.crypto.ListPayments(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	recorded := 0
	for _, p := range list {
		if p.OrderRef == "" {
			continue
		}
		exists, err := r.orders.ExistsByOrderRef(ctx, p.OrderRef)
		if err != nil {
			r.logger.Warnw("reconcile lookup failed", "order_ref", p.OrderRef, "error", err)
			continue
		}
		if exists {
			continue
		}

		if err := r.recordOrphan(ctx, p); err != nil {
			r.logger.Errorw("reconcile record failed",
				"order_ref", p.OrderRef, "intent_id", p.IntentID, "error", err)
			continue
		}
		recorded++
		r.logger.Warnw("orphaned intent reconciled",
			"order_ref", p.OrderRef, "intent_id", p.IntentID, "gateway_status", p.Status)
	}
	return recorded, nil
}

func (r *Reconciler) recordOrphan(ctx context.Context, p payments.PaymentSummary) error {
	intentID := p.IntentID
	reason := "reconciled orphaned intent, gateway status " + string(p.Status)
	currency := p.Currency
	if currency == "" {
		currency = r.currency
	}

	o := &orders.Order{
		OrderRef:         p.OrderRef,
		Status:           orders.StatusCancelled,
		PaymentStatus:    orders.PaymentCancelled,
		PaymentMethod:    "crypto",
		Provider:         string(payments.ProviderCrypto),
		IntentID:         &intentID,
		Currency:         currency,
		SubtotalCents:    p.AmountCents,
		TotalCents:       p.AmountCents,
		CancelledReason:  &reason,
		ReconciledOrphan: true,
	}
	if err := r.orders.Create(ctx, o); err != nil {
		return err
	}

	if err := r.recorder.Record(ctx, Event{
		OrderID:  &o.ID,
		OrderRef: p.OrderRef,
		IntentID: p.IntentID,
		Stage:    StageOrphan,
		Reason:   reason,
	}); err != nil {
		r.logger.Warnw("orphan audit failed", "order_ref", p.OrderRef, "error", err)
	}
	return nil
}
