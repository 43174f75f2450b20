// Package inventory watches checkout events and tracks depleted stock in
// Redis. It never writes stock; the order store stays authoritative.
package inventory

import (
	"context"
	"fmt"
	"strconv"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const dedupScope = "inventory"

type Watcher struct {
	Redis *redis.Client
	Log   *zap.Logger
	// Items at or below Threshold are flagged as low stock.
	Threshold int
}

// HandleCheckedOut is installed as the order.checked_out consumer handler.
func (w *Watcher) HandleCheckedOut(ctx context.Context, m kafkago.Message) error {
	if et := kafkax.Header(m, orders.HeaderEventType); et != "" && et != orders.EventOrderCheckedOut {
		return nil
	}
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// Poison message: log it and let the offset move on.
		w.Log.Error("skip undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderCheckedOut {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	fresh, err := w.Redis.SetNX(ctx, dkey, "1", redisx.TTLDedup).Result()
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !fresh {
		w.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCheckedOutPayload](env.Payload)
	if err != nil {
		w.Log.Error("skip event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if err := w.apply(ctx, p); err != nil {
		// The consumer retries the whole event.
		_ = w.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

func (w *Watcher) apply(ctx context.Context, p orders.OrderCheckedOutPayload) error {
	if len(p.Movements) == 0 {
		return nil
	}
	pipe := w.Redis.TxPipeline()
	for _, mv := range p.Movements {
		id := strconv.FormatInt(mv.ItemID, 10)
		pipe.HSet(ctx, redisx.KeyStockLevels, id, mv.Remaining)
		if mv.Remaining <= w.Threshold {
			pipe.SAdd(ctx, redisx.KeyLowStock, id)
		} else {
			pipe.SRem(ctx, redisx.KeyLowStock, id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record stock levels for order %d: %w", p.OrderID, err)
	}

	for _, mv := range p.Movements {
		fields := []zap.Field{
			zap.Int64("order_id", p.OrderID),
			zap.Int64("item_id", mv.ItemID),
			zap.Int("remaining", mv.Remaining),
		}
		switch {
		case mv.Remaining < 0:
			w.Log.Error("item oversold", fields...)
		case mv.Remaining <= w.Threshold:
			w.Log.Warn("item low on stock", fields...)
		}
	}
	for _, id := range p.SkippedItems {
		w.Log.Warn("checkout referenced unknown item", zap.Int64("order_id", p.OrderID), zap.Int64("item_id", id))
	}
	return nil
}

// LowStock returns the flagged item ids.
func (w *Watcher) LowStock(ctx context.Context) ([]int64, error) {
	members, err := w.Redis.SMembers(ctx, redisx.KeyLowStock).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, s := range members {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("low stock member %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
