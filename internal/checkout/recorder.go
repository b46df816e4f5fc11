package checkout

import (
	"context"
	"fmt"
	"time"

	"pasal/internal/domain/carts"
	"pasal/internal/infra/dbx"
)

// Stage says how far a checkout got before it ended.
type Stage string

const (
	StageDraft    Stage = "draft"    // abandoned before any intent existed
	StageAwaiting Stage = "awaiting" // cancelled while a payment was pending
	StageSettled  Stage = "settled"  // closed by a terminal gateway status
	StageOrphan   Stage = "orphaned" // intent created, order row never written
)

// Event is one audit row. Order fields are empty for draft-stage events.
type Event struct {
	Owner    carts.Owner
	OrderID  *int64
	OrderRef string
	IntentID string
	Stage    Stage
	Reason   string
	At       time.Time
}

// Recorder appends checkout lifecycle events to an audit table. Rows are
// never updated or deleted; support reads them when a shopper asks what
// happened to a payment.
type Recorder struct {
	db dbx.Querier
}

func NewRecorder(db dbx.Querier) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) Record(ctx context.Context, e Event) error {
	var accountID *int64
	if !e.Owner.IsGuest() {
		id := e.Owner.AccountID
		accountID = &id
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.Exec(ctx, `
INSERT INTO checkout_events (account_id, device_id, order_id, order_ref, intent_id, stage, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		accountID, e.Owner.DeviceID, e.OrderID, e.OrderRef, e.IntentID, e.Stage, e.Reason, at)
	if err != nil {
		return fmt.Errorf("record checkout event: %w", err)
	}
	return nil
}

var _ AuditRecorder = (*Recorder)(nil)
