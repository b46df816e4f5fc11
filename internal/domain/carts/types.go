package carts

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marks transient backend failures; callers may retry.
// An unknown owner is NOT an error: stores return an empty cart for it.
var ErrStoreUnavailable = errors.New("cart store unavailable")

// VariantSelection is one named option picked for a cart line, e.g.
// {Name:"Fabric", Option:"Cotton"}. Order of selections carries no meaning.
type VariantSelection struct {
	Name               string  `json:"name"`
	Option             string  `json:"option"`
	PriceCentsOverride *int64  `json:"price_cents_override,omitempty"`
	ImageURL           *string `json:"image_url,omitempty"`
}

type CartLine struct {
	ProductID      int64              `json:"product_id"`
	ProductName    string             `json:"product_name"`
	Quantity       int                `json:"quantity"`
	SizeLabel      *string            `json:"size_label,omitempty"`
	ColorLabel     *string            `json:"color_label,omitempty"`
	Variants       []VariantSelection `json:"variants,omitempty"`
	UnitPriceCents int64              `json:"unit_price_cents"`
	ImageURL       *string            `json:"image_url,omitempty"`
	AddedAt        time.Time          `json:"added_at"`
}

func (l CartLine) LineTotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// Owner identifies who a cart belongs to: exactly one of AccountID or
// DeviceID is set.
type Owner struct {
	AccountID int64
	DeviceID  string
}

func AccountOwner(accountID int64) Owner { return Owner{AccountID: accountID} }
func GuestOwner(deviceID string) Owner   { return Owner{DeviceID: deviceID} }

func (o Owner) IsGuest() bool { return o.AccountID == 0 }

type Cart struct {
	Owner        Owner      `json:"-"`
	Lines        []CartLine `json:"lines"`
	LastModified time.Time  `json:"last_modified"`
}

func (c *Cart) IsEmpty() bool { return c == nil || len(c.Lines) == 0 }

func (c *Cart) SubtotalCents() int64 {
	var sum int64
	for _, l := range c.Lines {
		sum += l.LineTotalCents()
	}
	return sum
}

// Store is the cart repository adapter. ReplaceAll swaps the whole line set
// atomically: readers see either the old set or the new one, never a mix.
// Concurrent ReplaceAll calls for the same owner are last-writer-wins on the
// full set; the checkout engine serializes them per account.
type Store interface {
	Load(ctx context.Context, owner Owner) (*Cart, error)
	ReplaceAll(ctx context.Context, owner Owner, lines []CartLine) error
	Clear(ctx context.Context, owner Owner) error
}
