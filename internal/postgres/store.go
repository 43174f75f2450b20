package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store keeps orders and the stock ledger in Postgres. Checkout uses
// pessimistic row locks (SELECT ... FOR UPDATE).
type Store struct {
	db          DB
	lockTimeout time.Duration
}

var _ orders.Store = (*Store)(nil)

// NewStore returns a store over db. A positive lockTimeout bounds every row
// lock wait inside InTx; exceeding it surfaces as a transient error.
func NewStore(db DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgtx.Rollback(ctx)
			panic(p)
		}
	}()

	if s.lockTimeout > 0 {
		if _, err := pgtx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
			_ = pgtx.Rollback(ctx)
			return classify(err)
		}
	}
	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		_ = pgtx.Rollback(ctx)
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *Store) ListOrders(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	return listOrders(ctx, s.db, offset, limit)
}

// ---- transaction ----

type tx struct{ q pgx.Tx }

func (t *tx) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	return getOrder(ctx, t.q, id, false)
}

func (t *tx) ListOrders(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	return listOrders(ctx, t.q, offset, limit)
}

func (t *tx) LockOrder(ctx context.Context, id int64) (orders.Order, error) {
	return getOrder(ctx, t.q, id, true)
}

func (t *tx) InsertOrder(ctx context.Context, ageGroup, gender *string) (orders.Order, error) {
	o := orders.Order{Status: orders.StatusPending, AgeGroup: ageGroup, Gender: gender, Items: []orders.OrderItem{}}
	err := t.q.QueryRow(ctx, `
		INSERT INTO orders (status, age_group, gender)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		string(orders.StatusPending), ageGroup, gender,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return orders.Order{}, classify(err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (t *tx) InsertItems(ctx context.Context, orderID int64, items []orders.LineItem) error {
	for _, it := range items {
		var lineID int64
		if err := t.q.QueryRow(ctx, `
			INSERT INTO order_items (order_id, item_id, quantity)
			VALUES ($1, $2, $3)
			RETURNING id`,
			orderID, it.ItemID, it.Quantity,
		).Scan(&lineID); err != nil {
			return classify(err)
		}
		for _, optID := range it.OptionIDs {
			if _, err := t.q.Exec(ctx, `
				INSERT INTO order_item_options (order_item_id, option_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`,
				lineID, optID,
			); err != nil {
				return classify(err)
			}
		}
	}
	return nil
}

// LockAndRead takes the row locks one by one in ascending id order.
func (t *tx) LockAndRead(ctx context.Context, itemIDs []int64) (map[int64]int, error) {
	ids := sortedUnique(itemIDs)
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		var stock int
		err := t.q.QueryRow(ctx, `SELECT stock FROM items WHERE id = $1 FOR UPDATE`, id).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		out[id] = stock
	}
	return out, nil
}

func (t *tx) Decrement(ctx context.Context, itemID int64, amount int) error {
	ct, err := t.q.Exec(ctx, `UPDATE items SET stock = stock - $2 WHERE id = $1`, itemID, amount)
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("decrement item %d: row not locked", itemID)
	}
	return nil
}

func (t *tx) CompleteOrder(ctx context.Context, id int64, paymentMethod string) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET payment_method = $2, status = $3
		WHERE id = $1 AND payment_method IS NULL`,
		id, paymentMethod, string(orders.StatusCompleted),
	)
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() != 1 {
		return orders.Transient(fmt.Errorf("complete order %d: %w", id, orders.ErrConflict))
	}
	return nil
}

func (t *tx) SetStatus(ctx context.Context, id int64, status orders.Status) error {
	ct, err := t.q.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}
