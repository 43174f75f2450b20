package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// setupPostgres needs POSTGRES_TEST_DSN pointing at a disposable database.
func setupPostgres(t *testing.T) (*pgxpool.Pool, *Store) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE order_item_options, order_items, orders, item_options, options, items RESTART IDENTITY`)
	require.NoError(t, err)
	return pool, NewStore(pool, 0)
}

func seedItem(t *testing.T, pool *pgxpool.Pool, name string, stock int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO items (name, price, stock) VALUES ($1, 100, $2) RETURNING id`, name, stock).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPostgresConcurrentCheckoutsNoLostUpdate(t *testing.T) {
	pool, store := setupPostgres(t)
	ctx := context.Background()
	svc := orders.NewService(store, nil, nil, nil, orders.Config{MaxRetries: 5})

	a := seedItem(t, pool, "americano", 100)
	b := seedItem(t, pool, "latte", 100)

	const n = 20
	ids := make([]int64, n)
	for i := range ids {
		// Opposite line orders on alternate orders would deadlock without lock ordering.
		lines := []orders.LineItem{{ItemID: a, Quantity: 1}, {ItemID: b, Quantity: 2}}
		if i%2 == 1 {
			lines[0], lines[1] = lines[1], lines[0]
		}
		o, err := svc.CreateOrder(ctx, orders.NewOrder{Items: lines})
		require.NoError(t, err)
		ids[i] = o.ID
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := svc.Checkout(ctx, id, "cash")
			return err
		})
	}
	require.NoError(t, g.Wait())

	itA, err := store.GetItem(ctx, a)
	require.NoError(t, err)
	itB, err := store.GetItem(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 100-n, itA.Stock)
	assert.Equal(t, 100-2*n, itB.Stock)
}

func TestPostgresOrderRoundTrip(t *testing.T) {
	pool, store := setupPostgres(t)
	ctx := context.Background()
	svc := orders.NewService(store, nil, nil, nil, orders.Config{})

	item := seedItem(t, pool, "mocha", 10)
	var opt int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO options (name, price_adjustment) VALUES ('oat milk', 50) RETURNING id`).Scan(&opt))

	o, err := svc.CreateOrder(ctx, orders.NewOrder{Items: []orders.LineItem{
		{ItemID: item, Quantity: 2, OptionIDs: []int64{opt, 404}},
	}})
	require.NoError(t, err)

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, []int64{opt, 404}, got.Items[0].OptionIDs)
	require.Len(t, got.Items[0].Options, 1)
	assert.Equal(t, 50, got.Items[0].Options[0].PriceAdjustment)

	done, err := svc.Checkout(ctx, o.ID, "card")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, 8, done.Items[0].Item.Stock)
}
