package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Cache holds the short-lived keys of the order service. Redis is never the
// source of truth: a miss or an error means "ask the database".
type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache { return &Cache{rdb: rdb} }

// IdempotentOrder returns the order already created for this key, if any.
func (c *Cache) IdempotentOrder(ctx context.Context, storeID, key string) (string, bool, error) {
	return c.get(ctx, fmt.Sprintf(KeyIdemOrderCreate, storeID, key))
}

func (c *Cache) RememberOrder(ctx context.Context, storeID, key, orderID string) error {
	return errors.Wrap(c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, storeID, key), orderID, TTLIdempotency).Err(), "remember order")
}

func (c *Cache) OrderSummary(ctx context.Context, orderID string) ([]byte, bool, error) {
	s, ok, err := c.get(ctx, fmt.Sprintf(KeyOrderSummary, orderID))
	return []byte(s), ok, err
}

func (c *Cache) PutOrderSummary(ctx context.Context, orderID string, body []byte) error {
	return errors.Wrap(c.rdb.Set(ctx, fmt.Sprintf(KeyOrderSummary, orderID), body, TTLSummaryCache).Err(), "cache order summary")
}

func (c *Cache) DropOrderSummary(ctx context.Context, orderID string) error {
	return errors.Wrap(c.rdb.Del(ctx, fmt.Sprintf(KeyOrderSummary, orderID)).Err(), "drop order summary")
}

// Seen reports whether an event was already handled by service.
func (c *Cache) Seen(ctx context.Context, service, eventID string) (bool, error) {
	ok, err := Exists(ctx, c.rdb, fmt.Sprintf(KeyDedup, service, eventID))
	return ok, errors.Wrap(err, "dedup lookup")
}

func (c *Cache) MarkSeen(ctx context.Context, service, eventID string) error {
	return errors.Wrap(c.rdb.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Err(), "dedup mark")
}

func (c *Cache) get(ctx context.Context, key string) (string, bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return s, true, nil
}
