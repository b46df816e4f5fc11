package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pasal/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("order not found")

type Repository struct {
	db interface {
		dbx.Querier
		dbx.Beginner
	}
	gen *OrderNumberGenerator
}

func NewRepository(db interface {
	dbx.Querier
	dbx.Beginner
}, gen *OrderNumberGenerator) *Repository {
	if gen == nil {
		panic("orders: OrderNumberGenerator is nil")
	}
	return &Repository{db: db, gen: gen}
}

const orderColumns = `
id, order_number, order_ref, account_id, device_id, email, status, payment_status, payment_method,
provider, intent_id, pay_address, pay_amount, pay_currency, intent_expires_at,
currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
shipping_address, billing_address, payment_details,
cancelled_reason, cancelled_at, reconciled_orphan, paid_at, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var shipping, billing, details []byte
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.OrderRef, &o.AccountID, &o.DeviceID, &o.Email, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Provider, &o.IntentID, &o.PayAddress, &o.PayAmount, &o.PayCurrency, &o.IntentExpiresAt,
		&o.Currency, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&shipping, &billing, &details,
		&o.CancelledReason, &o.CancelledAt, &o.ReconciledOrphan, &o.PaidAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if len(billing) > 0 {
		o.BillingAddress = &Address{}
		_ = json.Unmarshal(billing, o.BillingAddress)
	}
	if len(details) > 0 {
		o.PaymentDetails = &PaymentDetails{}
		_ = json.Unmarshal(details, o.PaymentDetails)
	}
	return &o, nil
}

// Create writes the order and its line snapshots in one transaction and
// fills ID, OrderNumber and CreatedAt. The caller must already hold a
// gateway intent: a non-cancelled order without one is refused here as the
// last line of defense (the schema has the same CHECK).
func (r *Repository) Create(ctx context.Context, o *Order) error {
	if o.PaymentStatus != PaymentCancelled && (o.IntentID == nil || *o.IntentID == "") {
		return fmt.Errorf("refusing to persist order %q without a gateway intent", o.OrderRef)
	}

	var accountID int64
	if o.AccountID != nil {
		accountID = *o.AccountID
	}
	o.OrderNumber = r.gen.Generate(accountID)

	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	var billing []byte
	if o.BillingAddress != nil {
		if billing, err = json.Marshal(o.BillingAddress); err != nil {
			return fmt.Errorf("marshal billing address: %w", err)
		}
	}
	var details []byte
	if o.PaymentDetails != nil {
		if details, err = json.Marshal(o.PaymentDetails); err != nil {
			return fmt.Errorf("marshal payment details: %w", err)
		}
	}

	return dbx.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
INSERT INTO orders (
  order_number, order_ref, account_id, device_id, email, status, payment_status, payment_method,
  provider, intent_id, pay_address, pay_amount, pay_currency, intent_expires_at,
  currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
  shipping_address, billing_address, payment_details,
  cancelled_reason, cancelled_at, reconciled_orphan
) VALUES (
  $1, $2, $3, $4, $5, $6::order_status, $7::payment_status, $8,
  $9, $10, $11, $12, $13, $14,
  $15, $16, $17, $18, $19,
  $20, $21, $22,
  $23, CASE WHEN $7 = 'cancelled' THEN now() ELSE NULL END, $24
)
RETURNING id, created_at
`,
			o.OrderNumber, o.OrderRef, o.AccountID, o.DeviceID, o.Email, o.Status, o.PaymentStatus, o.PaymentMethod,
			o.Provider, o.IntentID, o.PayAddress, o.PayAmount, o.PayCurrency, o.IntentExpiresAt,
			o.Currency, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents,
			shipping, billing, details,
			o.CancelledReason, o.ReconciledOrphan,
		).Scan(&o.ID, &o.CreatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, l := range o.Lines {
			variants, err := json.Marshal(l.Variants)
			if err != nil {
				return fmt.Errorf("marshal line variants: %w", err)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO order_lines (order_id, product_id, product_name, size_label, color_label,
                         variants, quantity, unit_price_cents, total_price_cents, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, o.ID, l.ProductID, l.ProductName, l.SizeLabel, l.ColorLabel,
				variants, l.Quantity, l.UnitPriceCents, l.TotalPriceCents, l.ImageURL,
			); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *Repository) GetDetail(ctx context.Context, id int64) (*Order, error) {
	o, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
SELECT product_id, product_name, size_label, color_label, variants,
       quantity, unit_price_cents, total_price_cents, image_url
FROM order_lines
WHERE order_id=$1
ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l OrderLine
		var variants []byte
		if err := rows.Scan(
			&l.ProductID, &l.ProductName, &l.SizeLabel, &l.ColorLabel, &variants,
			&l.Quantity, &l.UnitPriceCents, &l.TotalPriceCents, &l.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		_ = json.Unmarshal(variants, &l.Variants)
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) ExistsByOrderRef(ctx context.Context, ref string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE order_ref=$1)`, ref,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("order ref lookup: %w", err)
	}
	return exists, nil
}

// MarkPaid finalizes a paid order. Returns false when the order was already
// in a terminal payment state (e.g. cancelled by the user while the gateway
// confirmation was in flight) — the caller must not treat that as success.
func (r *Repository) MarkPaid(ctx context.Context, orderID int64, details PaymentDetails) (bool, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return false, fmt.Errorf("marshal payment details: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
UPDATE orders
   SET payment_status='paid'::payment_status,
       status='processing'::order_status,
       payment_details=$2,
       paid_at=now(),
       updated_at=now()
 WHERE id=$1
   AND payment_status::text = ANY($3)
`, orderID, raw, nonTerminalPaymentStatuses)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPaymentFailed records a gateway-observed failed/expired payment and
// closes the order as cancelled. Same CAS rule as MarkPaid.
func (r *Repository) MarkPaymentFailed(ctx context.Context, orderID int64, status PaymentStatus, reason string) (bool, error) {
	if status != PaymentFailed && status != PaymentExpired {
		return false, fmt.Errorf("invalid failure status %q", status)
	}

	tag, err := r.db.Exec(ctx, `
UPDATE orders
   SET payment_status=$2::payment_status,
       status='cancelled'::order_status,
       cancelled_reason=$3,
       cancelled_at=now(),
       updated_at=now()
 WHERE id=$1
   AND payment_status::text = ANY($4)
`, orderID, status, reason, nonTerminalPaymentStatuses)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel applies a user-initiated cancellation. Returns false when the
// payment already reached a terminal state.
func (r *Repository) Cancel(ctx context.Context, orderID int64, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE orders
   SET status='cancelled'::order_status,
       payment_status='cancelled'::payment_status,
       cancelled_reason=$2,
       cancelled_at=now(),
       updated_at=now()
 WHERE id=$1
   AND payment_status::text = ANY($3)
`, orderID, reason, nonTerminalPaymentStatuses)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetPaymentProgress records a non-terminal gateway status (waiting,
// confirming). Terminal rows are left untouched.
func (r *Repository) SetPaymentProgress(ctx context.Context, orderID int64, status PaymentStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("%q is terminal, use MarkPaid/MarkPaymentFailed/Cancel", status)
	}
	_, err := r.db.Exec(ctx, `
UPDATE orders
   SET payment_status=$2::payment_status, updated_at=now()
 WHERE id=$1
   AND payment_status::text = ANY($3)
`, orderID, status, nonTerminalPaymentStatuses)
	if err != nil {
		return fmt.Errorf("set payment progress: %w", err)
	}
	return nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID int64, status string, limit, offset int) ([]Order, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
SELECT `+orderColumns+`, COUNT(*) OVER() AS total_count
FROM orders
WHERE account_id = $1
  AND ($2 = '' OR status::text = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`, accountID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		out   []Order
		total int
	)
	for rows.Next() {
		var o Order
		var shipping, billing, details []byte
		var t int
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.OrderRef, &o.AccountID, &o.DeviceID, &o.Email, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
			&o.Provider, &o.IntentID, &o.PayAddress, &o.PayAmount, &o.PayCurrency, &o.IntentExpiresAt,
			&o.Currency, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
			&shipping, &billing, &details,
			&o.CancelledReason, &o.CancelledAt, &o.ReconciledOrphan, &o.PaidAt, &o.CreatedAt,
			&t,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		_ = json.Unmarshal(shipping, &o.ShippingAddress)
		if len(billing) > 0 {
			o.BillingAddress = &Address{}
			_ = json.Unmarshal(billing, o.BillingAddress)
		}
		if len(details) > 0 {
			o.PaymentDetails = &PaymentDetails{}
			_ = json.Unmarshal(details, o.PaymentDetails)
		}
		if total == 0 {
			total = t
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
