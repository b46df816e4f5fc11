// Package profile is the address book: the only piece of account profile
// data the checkout flow touches. The shipping address of a successful order
// is appended here so the next checkout can offer it.
package profile

import (
	"context"
	"fmt"

	"pasal/internal/domain/orders"
	"pasal/internal/infra/dbx"
)

type Store interface {
	GetAddresses(ctx context.Context, accountID int64) ([]orders.Address, error)
	AppendAddress(ctx context.Context, accountID int64, addr orders.Address) error
}

type Repository struct {
	db dbx.Querier
}

func NewRepository(db dbx.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAddresses(ctx context.Context, accountID int64) ([]orders.Address, error) {
	rows, err := r.db.Query(ctx, `
SELECT name, phone, street, city, postal_code, country
FROM addresses
WHERE account_id = $1
ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []orders.Address
	for rows.Next() {
		var a orders.Address
		if err := rows.Scan(&a.Name, &a.Phone, &a.Street, &a.City, &a.PostalCode, &a.Country); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) AppendAddress(ctx context.Context, accountID int64, addr orders.Address) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO addresses (account_id, name, phone, street, city, postal_code, country)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		accountID, addr.Name, addr.Phone, addr.Street, addr.City, addr.PostalCode, addr.Country)
	if err != nil {
		return fmt.Errorf("append address: %w", err)
	}
	return nil
}

var _ Store = (*Repository)(nil)
