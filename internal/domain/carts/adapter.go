package carts

import "context"

// Routed presents guest and account carts as one Store: guest owners hit the
// Redis store, account owners hit Postgres. Callers never pick a backend.
type Routed struct {
	guest   Store
	account Store
}

func NewRouted(guest, account Store) *Routed {
	return &Routed{guest: guest, account: account}
}

func (r *Routed) storeFor(owner Owner) Store {
	if owner.IsGuest() {
		return r.guest
	}
	return r.account
}

func (r *Routed) Load(ctx context.Context, owner Owner) (*Cart, error) {
	return r.storeFor(owner).Load(ctx, owner)
}

func (r *Routed) ReplaceAll(ctx context.Context, owner Owner, lines []CartLine) error {
	return r.storeFor(owner).ReplaceAll(ctx, owner, lines)
}

func (r *Routed) Clear(ctx context.Context, owner Owner) error {
	return r.storeFor(owner).Clear(ctx, owner)
}

var _ Store = (*Routed)(nil)
