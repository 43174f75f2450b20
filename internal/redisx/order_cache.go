package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache stores orders as JSON under KeyOrder. A per-order generation
// counter under KeyOrderGen guards fills against racing invalidations.
type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ orders.Cache = (*OrderCache)(nil)

var errStaleFill = errors.New("order changed since generation read")

func NewOrderCache(rdb *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func (c *OrderCache) Generation(ctx context.Context, id int64) (int64, error) {
	return generation(ctx, c.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, g getter, id int64) (int64, error) {
	n, err := g.Get(ctx, fmt.Sprintf(KeyOrderGen, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *OrderCache) GetOrder(ctx context.Context, id int64) (orders.Order, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, false, fmt.Errorf("decode cached order %d: %w", id, err)
	}
	return o, true, nil
}

// SetOrder writes o only while the generation still equals gen. A lost race
// is not an error; the fill is simply dropped.
func (c *OrderCache) SetOrder(ctx context.Context, o orders.Order, gen int64) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	genKey := fmt.Sprintf(KeyOrderGen, o.ID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := generation(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate bumps the generation and deletes the cached copy atomically.
func (c *OrderCache) Invalidate(ctx context.Context, id int64) error {
	genKey := fmt.Sprintf(KeyOrderGen, id)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, TTLOrderGen)
		p.Del(ctx, fmt.Sprintf(KeyOrder, id))
		return nil
	})
	return err
}
