package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"urembo-be/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix         = "mpesa:order:"
	pendingValue      = "pending"
	DefaultInProgress = 75 * time.Second
)

// InProgressStore guards an order against a second STK push while the
// first is still open on the buyer's phone.
type InProgressStore interface {
	// Claim reports false when the order is already claimed.
	Claim(ctx context.Context, orderID string) (bool, error)
	// Attach records the checkout id on an existing claim.
	Attach(ctx context.Context, orderID, checkoutRequestID string) error
	// Lookup returns the checkout id holding the claim, or "" when free.
	Lookup(ctx context.Context, orderID string) (string, error)
	Release(ctx context.Context, orderID string) error
}

// RedisStore implements InProgressStore with SET NX and a TTL, so a
// crashed server never locks an order for longer than the TTL.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultInProgress
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient connects to Redis. An unreachable server is logged, not
// fatal: the in-progress guard fails open.
func NewRedisClient(ctx context.Context, addr, password string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis unreachable, in-progress guard degraded", zap.String("addr", addr), zap.Error(err))
	}
	return rdb
}

func orderKey(orderID string) string {
	return keyPrefix + orderID
}

func (r *RedisStore) Claim(ctx context.Context, orderID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, orderKey(orderID), pendingValue, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Attach(ctx context.Context, orderID, checkoutRequestID string) error {
	if err := r.client.SetXX(ctx, orderKey(orderID), checkoutRequestID, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis SET XX error: %w", err)
	}
	return nil
}

func (r *RedisStore) Lookup(ctx context.Context, orderID string) (string, error) {
	v, err := r.client.Get(ctx, orderKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET error: %w", err)
	}
	if v == pendingValue {
		return "", nil
	}
	return v, nil
}

func (r *RedisStore) Release(ctx context.Context, orderID string) error {
	if err := r.client.Del(ctx, orderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis DEL error: %w", err)
	}
	return nil
}
