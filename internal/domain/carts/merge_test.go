package carts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sizeM() []VariantSelection {
	return []VariantSelection{{Name: "Size", Option: "M"}}
}

func TestMerge_SumsQuantitiesForMatchingKeys(t *testing.T) {
	guest := []CartLine{{ProductID: 1, Quantity: 2, Variants: sizeM()}}
	account := []CartLine{{ProductID: 1, Quantity: 1, Variants: sizeM()}}

	merged := Merge(guest, account, time.Now())

	require.Len(t, merged, 1)
	assert.Equal(t, 3, merged[0].Quantity)
}

func TestMerge_AppendsNonMatchingLines(t *testing.T) {
	now := time.Now()
	guest := []CartLine{{ProductID: 2, Quantity: 5}}
	account := []CartLine{{ProductID: 1, Quantity: 1}}

	merged := Merge(guest, account, now)

	require.Len(t, merged, 2)
	assert.Equal(t, 1, merged[0].Quantity)
	assert.Equal(t, 5, merged[1].Quantity)
	assert.Equal(t, now, merged[1].AddedAt)
}

func TestMerge_OrderInsensitiveMatching(t *testing.T) {
	guest := []CartLine{{ProductID: 1, Quantity: 2, Variants: []VariantSelection{
		{Name: "Size", Option: "M"}, {Name: "Color", Option: "Red"},
	}}}
	account := []CartLine{{ProductID: 1, Quantity: 1, Variants: []VariantSelection{
		{Name: "Color", Option: "Red"}, {Name: "Size", Option: "M"},
	}}}

	merged := Merge(guest, account, time.Now())

	require.Len(t, merged, 1)
	assert.Equal(t, 3, merged[0].Quantity)
}

func TestMerge_Idempotent(t *testing.T) {
	guest := []CartLine{{ProductID: 1, Quantity: 2, Variants: sizeM()}}
	account := []CartLine{{ProductID: 1, Quantity: 1, Variants: sizeM()}}

	once := Merge(guest, account, time.Now())
	// second merge runs with an empty guest cart (it was cleared)
	twice := Merge(nil, once, time.Now())

	assert.Equal(t, once, twice)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	guest := []CartLine{{ProductID: 1, Quantity: 2, Variants: sizeM()}}
	account := []CartLine{{ProductID: 1, Quantity: 1, Variants: sizeM()}}

	_ = Merge(guest, account, time.Now())

	assert.Equal(t, 2, guest[0].Quantity)
	assert.Equal(t, 1, account[0].Quantity)
}

// fakeStore is an in-memory Store for exercising the Syncer.
type fakeStore struct {
	carts      map[Owner][]CartLine
	replaceErr error
	clearErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{carts: make(map[Owner][]CartLine)}
}

func (f *fakeStore) Load(_ context.Context, owner Owner) (*Cart, error) {
	return &Cart{Owner: owner, Lines: f.carts[owner]}, nil
}

func (f *fakeStore) ReplaceAll(_ context.Context, owner Owner, lines []CartLine) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.carts[owner] = lines
	return nil
}

func (f *fakeStore) Clear(_ context.Context, owner Owner) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.carts, owner)
	return nil
}

func TestSyncer_MergeGuestCartClearsGuestStore(t *testing.T) {
	guest := newFakeStore()
	account := newFakeStore()
	guest.carts[GuestOwner("dev-1")] = []CartLine{{ProductID: 1, Quantity: 2, Variants: sizeM()}}
	account.carts[AccountOwner(9)] = []CartLine{{ProductID: 1, Quantity: 1, Variants: sizeM()}}

	s := NewSyncer(guest, account, zap.NewNop().Sugar())
	merged, err := s.MergeGuestCart(context.Background(), 9, "dev-1")

	require.NoError(t, err)
	require.Len(t, merged.Lines, 1)
	assert.Equal(t, 3, merged.Lines[0].Quantity)
	assert.Empty(t, guest.carts[GuestOwner("dev-1")], "guest cart should be cleared")
	assert.Equal(t, 3, account.carts[AccountOwner(9)][0].Quantity)
}

func TestSyncer_GuestCartSurvivesFailedAccountWrite(t *testing.T) {
	guest := newFakeStore()
	account := newFakeStore()
	guest.carts[GuestOwner("dev-1")] = []CartLine{{ProductID: 1, Quantity: 2}}
	account.replaceErr = errors.New("boom")

	s := NewSyncer(guest, account, zap.NewNop().Sugar())
	_, err := s.MergeGuestCart(context.Background(), 9, "dev-1")

	require.Error(t, err)
	assert.Len(t, guest.carts[GuestOwner("dev-1")], 1, "guest cart must not be cleared on failure")
}

func TestSyncer_EmptyGuestCartIsNoOp(t *testing.T) {
	guest := newFakeStore()
	account := newFakeStore()
	account.carts[AccountOwner(9)] = []CartLine{{ProductID: 1, Quantity: 1}}

	s := NewSyncer(guest, account, zap.NewNop().Sugar())
	merged, err := s.MergeGuestCart(context.Background(), 9, "missing-device")

	require.NoError(t, err)
	require.Len(t, merged.Lines, 1)
	assert.Equal(t, 1, merged.Lines[0].Quantity)
}
