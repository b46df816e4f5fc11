package carts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pasal/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

// PostgresStore is the durable, account-scoped cart store.
type PostgresStore struct {
	db interface {
		dbx.Querier
		dbx.Beginner
	}
}

func NewPostgresStore(db interface {
	dbx.Querier
	dbx.Beginner
}) *PostgresStore {
	return &PostgresStore{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

func (s *PostgresStore) Load(ctx context.Context, owner Owner) (*Cart, error) {
	cart := &Cart{Owner: owner}

	var cartID int64
	err := s.db.QueryRow(ctx, `
SELECT id, updated_at
FROM carts
WHERE account_id = $1
`, owner.AccountID).Scan(&cartID, &cart.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		// no cart yet: empty cart, not an error
		return cart, nil
	}
	if err != nil {
		return nil, storeErr("load cart", err)
	}

	rows, err := s.db.Query(ctx, `
SELECT product_id, product_name, quantity, size_label, color_label, variants,
       unit_price_cents, image_url, added_at
FROM cart_lines
WHERE cart_id = $1
ORDER BY id ASC
`, cartID)
	if err != nil {
		return nil, storeErr("load cart lines", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l CartLine
		var variants []byte
		if err := rows.Scan(
			&l.ProductID, &l.ProductName, &l.Quantity, &l.SizeLabel, &l.ColorLabel,
			&variants, &l.UnitPriceCents, &l.ImageURL, &l.AddedAt,
		); err != nil {
			return nil, storeErr("scan cart line", err)
		}
		_ = json.Unmarshal(variants, &l.Variants)
		cart.Lines = append(cart.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("cart lines rows", err)
	}

	return cart, nil
}

// ReplaceAll swaps the account's full line set inside one transaction: the
// old set is deleted and the new one inserted, so readers never observe a
// partial cart.
func (s *PostgresStore) ReplaceAll(ctx context.Context, owner Owner, lines []CartLine) error {
	err := dbx.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var cartID int64
		if err := tx.QueryRow(ctx, `
INSERT INTO carts (account_id, updated_at)
VALUES ($1, now())
ON CONFLICT (account_id) DO UPDATE SET updated_at = now()
RETURNING id
`, owner.AccountID).Scan(&cartID); err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear old lines: %w", err)
		}

		for _, l := range lines {
			variants, err := json.Marshal(l.Variants)
			if err != nil {
				return fmt.Errorf("marshal variants: %w", err)
			}
			addedAt := l.AddedAt
			if addedAt.IsZero() {
				addedAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO cart_lines (cart_id, product_id, product_name, variant_key, quantity,
                        size_label, color_label, variants, unit_price_cents, image_url, added_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, cartID, l.ProductID, l.ProductName, VariantKey(l), l.Quantity,
				l.SizeLabel, l.ColorLabel, variants, l.UnitPriceCents, l.ImageURL, addedAt,
			); err != nil {
				return fmt.Errorf("insert line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("replace cart", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, owner Owner) error {
	_, err := s.db.Exec(ctx, `
DELETE FROM cart_lines
WHERE cart_id = (SELECT id FROM carts WHERE account_id = $1)
`, owner.AccountID)
	if err != nil {
		return storeErr("clear cart", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE account_id = $1`, owner.AccountID)
	if err != nil {
		return storeErr("touch cart", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
