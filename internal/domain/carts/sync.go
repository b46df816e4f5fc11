package carts

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Syncer reconciles the two cart stores when a visitor signs in: the guest
// cart is merged into the account cart, then destroyed.
type Syncer struct {
	guest   Store
	account Store
	logger  *zap.SugaredLogger
}

func NewSyncer(guest, account Store, logger *zap.SugaredLogger) *Syncer {
	return &Syncer{guest: guest, account: account, logger: logger}
}

// MergeGuestCart merges the device's guest cart into the account cart and
// clears the guest store. Ordering matters for retry safety:
//
//  1. the merged set is written to the account store first;
//  2. the guest cart is cleared only after that write succeeds.
//
// If the account write fails the guest cart is left intact, so the caller can
// retry the whole merge. A second merge with an already-cleared (empty) guest
// cart is a no-op on quantities.
func (s *Syncer) MergeGuestCart(ctx context.Context, accountID int64, deviceID string) (*Cart, error) {
	guestOwner := GuestOwner(deviceID)
	accountOwner := AccountOwner(accountID)

	guestCart, err := s.guest.Load(ctx, guestOwner)
	if err != nil {
		return nil, fmt.Errorf("load guest cart: %w", err)
	}

	accountCart, err := s.account.Load(ctx, accountOwner)
	if err != nil {
		return nil, fmt.Errorf("load account cart: %w", err)
	}

	if guestCart.IsEmpty() {
		return accountCart, nil
	}

	merged := Merge(guestCart.Lines, accountCart.Lines, time.Now())

	if err := s.account.ReplaceAll(ctx, accountOwner, merged); err != nil {
		// guest cart intentionally NOT cleared: the merge can be retried
		return nil, fmt.Errorf("replace account cart: %w", err)
	}

	if err := s.guest.Clear(ctx, guestOwner); err != nil {
		// account cart already holds the merged set; a retry would double
		// quantities, so surface loudly but do not fail the merge
		s.logger.Errorw("guest cart not cleared after merge", "device_id", deviceID, "account_id", accountID, "error", err)
	}

	return &Cart{Owner: accountOwner, Lines: merged, LastModified: time.Now()}, nil
}
