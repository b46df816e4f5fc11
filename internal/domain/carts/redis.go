package carts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore holds guest carts: device-scoped, ephemeral, expired by TTL.
// A small jitter on the TTL avoids synchronized expiry of many carts.
type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, baseTTL: 7 * 24 * time.Hour}
}

func NewRedisStoreWithTTL(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, baseTTL: ttl}
}

func guestKey(deviceID string) string {
	return fmt.Sprintf("guestcart:%s", deviceID)
}

func (s *RedisStore) Load(ctx context.Context, owner Owner) (*Cart, error) {
	data, err := s.client.Get(ctx, guestKey(owner.DeviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// unknown device: empty cart, not an error
		return &Cart{Owner: owner}, nil
	}
	if err != nil {
		return nil, storeErr("redis get", err)
	}

	cart := &Cart{Owner: owner}
	if err := json.Unmarshal(data, cart); err != nil {
		return nil, storeErr("unmarshal guest cart", err)
	}
	return cart, nil
}

func (s *RedisStore) ReplaceAll(ctx context.Context, owner Owner, lines []CartLine) error {
	if len(lines) == 0 {
		return s.Clear(ctx, owner)
	}

	cart := Cart{Lines: lines, LastModified: time.Now()}
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal guest cart: %w", err)
	}

	jitter := time.Duration(rand.Intn(30)) * time.Minute
	if err := s.client.Set(ctx, guestKey(owner.DeviceID), data, s.baseTTL+jitter).Err(); err != nil {
		return storeErr("redis set", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, owner Owner) error {
	if err := s.client.Del(ctx, guestKey(owner.DeviceID)).Err(); err != nil {
		return storeErr("redis del", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
