package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	hashids "github.com/speps/go-hashids/v2"
)

// OrderNumberGenerator produces human-readable order numbers. The hashid
// encodes (unix second, account id, nonce) under a private salt, so numbers
// are non-guessable without being opaque UUIDs on an invoice.
type OrderNumberGenerator struct {
	h *hashids.HashID
}

func NewOrderNumberGenerator(salt string) (*OrderNumberGenerator, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = 10
	data.Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("order number hashid: %w", err)
	}
	return &OrderNumberGenerator{h: h}, nil
}

func (g *OrderNumberGenerator) Generate(accountID int64) string {
	nonce := int64(uuid.New().ID())

	tag, err := g.h.EncodeInt64([]int64{time.Now().Unix(), accountID, nonce})
	if err != nil {
		// EncodeInt64 only fails on negative input; nonce and unix time never are
		tag = uuid.NewString()[:10]
	}
	return fmt.Sprintf("PSL-%s", tag)
}
