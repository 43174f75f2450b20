package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := New(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewOrderCache(rdb, time.Minute)

	_, ok, err := c.GetOrder(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	pm := "cash"
	o := orders.Order{
		ID:            7,
		CreatedAt:     time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		Status:        orders.StatusCompleted,
		PaymentMethod: &pm,
		Items:         []orders.OrderItem{{ID: 1, OrderID: 7, ItemID: 3, Quantity: 2, OptionIDs: []int64{4}, Options: []orders.Option{}}},
	}
	gen, err := c.Generation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
	require.NoError(t, c.SetOrder(ctx, o, gen))
	assert.True(t, mr.Exists("order:7"))
	assert.Equal(t, time.Minute, mr.TTL("order:7"))

	got, ok, err := c.GetOrder(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, o, got)

	require.NoError(t, c.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("order:7"))
	require.NoError(t, c.Invalidate(ctx, 7))
	gen, err = c.Generation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
}

func TestOrderCacheDropsFillAfterInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := New(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewOrderCache(rdb, time.Minute)

	// A reader takes the generation, then a mutation commits and invalidates
	// before the reader's fill lands.
	gen, err := c.Generation(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 3))

	require.NoError(t, c.SetOrder(ctx, orders.Order{ID: 3, Status: orders.StatusPending}, gen))
	assert.False(t, mr.Exists("order:3"))

	fresh, err := c.Generation(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, c.SetOrder(ctx, orders.Order{ID: 3, Status: orders.StatusCompleted}, fresh))
	got, ok, err := c.GetOrder(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusCompleted, got.Status)
}

func TestOrderCacheCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := New(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, mr.Set("order:1", "{not json"))
	_, ok, err := NewOrderCache(rdb, 0).GetOrder(ctx, 1)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
