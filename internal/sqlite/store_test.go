package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store, name string, stock int) orders.Item {
	t.Helper()
	it, err := s.CreateItem(context.Background(), orders.Item{Name: name, Price: 100, Stock: stock})
	require.NoError(t, err)
	return it
}

func strp(s string) *string { return &s }

func TestInsertAndGetOrder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	latte := seed(t, s, "latte", 10)
	oat, err := s.CreateOption(ctx, orders.Option{Name: "oat milk", PriceAdjustment: 5})
	require.NoError(t, err)

	var id int64
	err = s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.InsertOrder(ctx, strp("18-24"), nil)
		if err != nil {
			return err
		}
		id = o.ID
		return tx.InsertItems(ctx, o.ID, []orders.LineItem{
			{ItemID: latte.ID, Quantity: 2, OptionIDs: []int64{oat.ID, oat.ID, 999}},
			{ItemID: 4242, Quantity: 1},
		})
	})
	require.NoError(t, err)

	o, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Nil(t, o.PaymentMethod)
	require.NotNil(t, o.AgeGroup)
	assert.Equal(t, "18-24", *o.AgeGroup)
	assert.Nil(t, o.Gender)
	require.Len(t, o.Items, 2)

	first := o.Items[0]
	require.NotNil(t, first.Item)
	assert.Equal(t, "latte", first.Item.Name)
	assert.Equal(t, 2, first.Quantity)
	// Duplicate option links collapse; the dangling one is kept as an id only.
	assert.Equal(t, []int64{oat.ID, 999}, first.OptionIDs)
	assert.Equal(t, []orders.Option{oat}, first.Options)

	dangling := o.Items[1]
	assert.Nil(t, dangling.Item)
	assert.Equal(t, int64(4242), dangling.ItemID)
	assert.Empty(t, dangling.Options)
}

func TestGetOrderMissing(t *testing.T) {
	s := openTest(t)
	_, err := s.GetOrder(context.Background(), 1)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
			o, err := tx.InsertOrder(ctx, nil, nil)
			ids = append(ids, o.ID)
			return err
		})
		require.NoError(t, err)
	}

	got, err := s.ListOrders(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, base.Add(3*time.Second), got[0].CreatedAt)

	got, err = s.ListOrders(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[1], got[0].ID)
}

func TestLockAndReadSkipsMissingItems(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a := seed(t, s, "a", 3)
	b := seed(t, s, "b", 7)

	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		stock, err := tx.LockAndRead(ctx, []int64{b.ID, 999, a.ID})
		if err != nil {
			return err
		}
		assert.Equal(t, map[int64]int{a.ID: 3, b.ID: 7}, stock)
		return tx.Decrement(ctx, a.ID, 5)
	})
	require.NoError(t, err)

	it, err := s.GetItem(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, -2, it.Stock)
}

func TestDecrementVersionConflictIsTransient(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a := seed(t, s, "a", 10)

	err := s.InTx(ctx, func(ctx context.Context, otx orders.Tx) error {
		if _, err := otx.LockAndRead(ctx, []int64{a.ID}); err != nil {
			return err
		}
		// Another writer bumps the row after the read.
		if _, err := otx.(*tx).q.ExecContext(ctx, `UPDATE items SET version = version + 1 WHERE id = ?`, a.ID); err != nil {
			return err
		}
		return otx.Decrement(ctx, a.ID, 1)
	})
	require.Error(t, err)
	assert.True(t, orders.IsTransient(err))
	assert.ErrorIs(t, err, orders.ErrConflict)

	it, err := s.GetItem(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, it.Stock, "rolled back")
}

func TestDecrementWithoutReadFails(t *testing.T) {
	s := openTest(t)
	a := seed(t, s, "a", 1)
	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Decrement(ctx, a.ID, 1)
	})
	require.Error(t, err)
	assert.False(t, orders.IsTransient(err))
}

func TestCompleteOrderTwiceConflicts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.InsertOrder(ctx, nil, nil)
		if err != nil {
			return err
		}
		if err := tx.CompleteOrder(ctx, o.ID, "cash"); err != nil {
			return err
		}
		return tx.CompleteOrder(ctx, o.ID, "card")
	})
	assert.ErrorIs(t, err, orders.ErrConflict)
}

func TestLockOrderAndSetStatusMissing(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := tx.LockOrder(ctx, 77)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	err = s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.SetStatus(ctx, 77, "served")
	})
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if _, err := tx.InsertOrder(ctx, nil, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.ListOrders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCatalog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a := seed(t, s, "americano", 10)
	b := seed(t, s, "cookie", 4)
	shot, err := s.CreateOption(ctx, orders.Option{Name: "extra shot", PriceAdjustment: 8})
	require.NoError(t, err)
	require.NoError(t, s.AttachOption(ctx, a.ID, shot.ID))
	require.NoError(t, s.AttachOption(ctx, a.ID, shot.ID))

	items, err := s.ListItems(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []orders.Option{shot}, items[0].Options)
	assert.Empty(t, items[1].Options)
	assert.Equal(t, b.ID, items[1].ID)

	got, err := s.GetOption(ctx, shot.ID)
	require.NoError(t, err)
	assert.Equal(t, shot, got)

	_, err = s.GetOption(ctx, 500)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, err = s.GetItem(ctx, 500)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestReadsDoNotWaitForOpenCheckout(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	latte := seed(t, s, "latte", 10)

	var id int64
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.InsertOrder(ctx, nil, nil)
		id = o.ID
		if err != nil {
			return err
		}
		return tx.InsertItems(ctx, o.ID, []orders.LineItem{{ItemID: latte.ID, Quantity: 1}})
	}))

	locked, release := make(chan struct{}), make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
			if _, err := tx.LockOrder(ctx, id); err != nil {
				return err
			}
			if _, err := tx.LockAndRead(ctx, []int64{latte.ID}); err != nil {
				return err
			}
			if err := tx.Decrement(ctx, latte.ID, 1); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	o, err := s.GetOrder(rctx, id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	it, err := s.GetItem(rctx, latte.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, it.Stock, "uncommitted decrement is invisible")

	close(release)
	require.NoError(t, <-txDone)
	it, err = s.GetItem(ctx, latte.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, it.Stock)
}
