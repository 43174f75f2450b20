// Package sqlite is a single-node store for orders and stock.
//
// A file database runs in WAL mode with one writer connection and a separate
// read-only pool, so order and catalog reads never queue behind an open
// checkout. Writers still serialize: checkouts on disjoint items run one at a
// time here, unlike the postgres store.
//
// SQLite has no row-level locks, so the ledger is optimistic: LockAndRead
// records a version per item and Decrement only applies when that version is
// unchanged. A mismatch surfaces as a transient orders.ErrConflict and the
// whole checkout is retried.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jmoiron/sqlx"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type Store struct {
	db  *sqlx.DB // writer, also used by transactions
	rdb *sqlx.DB // reads outside a transaction
	now func() time.Time
}

const readPoolSize = 4

var _ orders.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database on a single connection that
// reads and writes share.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; a single pooled connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if path == ":memory:" {
		return &Store{db: db, rdb: db, now: time.Now}, nil
	}

	rdb, err := sqlx.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(readPoolSize)
	rdb.SetMaxIdleConns(readPoolSize)
	if err := rdb.PingContext(ctx); err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	return &Store{db: db, rdb: rdb, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.rdb != s.db {
		_ = s.rdb.Close()
	}
	return s.db.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{q: sqlTx, now: s.now, versions: map[int64]int64{}}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	return getOrder(ctx, s.rdb, id)
}

func (s *Store) ListOrders(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	return listOrders(ctx, s.rdb, offset, limit)
}

// ---- transaction ----

type tx struct {
	q        *sqlx.Tx
	now      func() time.Time
	versions map[int64]int64 // item id -> version seen by LockAndRead
}

func (t *tx) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	return getOrder(ctx, t.q, id)
}

func (t *tx) ListOrders(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	return listOrders(ctx, t.q, offset, limit)
}

// LockOrder bumps the order version first. The write takes SQLite's writer
// lock, which serializes every later write against other connections.
func (t *tx) LockOrder(ctx context.Context, id int64) (orders.Order, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE orders SET version = version + 1 WHERE id = ?`, id)
	if err != nil {
		return orders.Order{}, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orders.Order{}, orders.ErrNotFound
	}
	return getOrder(ctx, t.q, id)
}

func (t *tx) InsertOrder(ctx context.Context, ageGroup, gender *string) (orders.Order, error) {
	now := t.now().UTC()
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO orders (created_at, status, age_group, gender) VALUES (?, ?, ?, ?)`,
		now.Format(timeLayout), string(orders.StatusPending), ageGroup, gender)
	if err != nil {
		return orders.Order{}, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return orders.Order{}, err
	}
	return orders.Order{
		ID:        id,
		CreatedAt: now,
		Status:    orders.StatusPending,
		AgeGroup:  ageGroup,
		Gender:    gender,
		Items:     []orders.OrderItem{},
	}, nil
}

func (t *tx) InsertItems(ctx context.Context, orderID int64, items []orders.LineItem) error {
	for _, it := range items {
		res, err := t.q.ExecContext(ctx,
			`INSERT INTO order_items (order_id, item_id, quantity) VALUES (?, ?, ?)`,
			orderID, it.ItemID, it.Quantity)
		if err != nil {
			return classify(err)
		}
		lineID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, optID := range it.OptionIDs {
			if _, err := t.q.ExecContext(ctx,
				`INSERT INTO order_item_options (order_item_id, option_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				lineID, optID); err != nil {
				return classify(err)
			}
		}
	}
	return nil
}

type stockRow struct {
	ID      int64 `db:"id"`
	Stock   int   `db:"stock"`
	Version int64 `db:"version"`
}

func (t *tx) LockAndRead(ctx context.Context, itemIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, stock, version FROM items WHERE id IN (?) ORDER BY id`, itemIDs)
	if err != nil {
		return nil, err
	}
	var rows []stockRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, classify(err)
	}
	for _, r := range rows {
		out[r.ID] = r.Stock
		t.versions[r.ID] = r.Version
	}
	return out, nil
}

func (t *tx) Decrement(ctx context.Context, itemID int64, amount int) error {
	v, ok := t.versions[itemID]
	if !ok {
		return fmt.Errorf("decrement item %d: not read in this transaction", itemID)
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE items SET stock = stock - ?, version = version + 1 WHERE id = ? AND version = ?`,
		amount, itemID, v)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return orders.Transient(fmt.Errorf("decrement item %d: %w", itemID, orders.ErrConflict))
	}
	t.versions[itemID] = v + 1
	return nil
}

func (t *tx) CompleteOrder(ctx context.Context, id int64, paymentMethod string) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE orders SET payment_method = ?, status = ?, version = version + 1
		WHERE id = ? AND payment_method IS NULL`,
		paymentMethod, string(orders.StatusCompleted), id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return orders.Transient(fmt.Errorf("complete order %d: %w", id, orders.ErrConflict))
	}
	return nil
}

func (t *tx) SetStatus(ctx context.Context, id int64, status orders.Status) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, version = version + 1 WHERE id = ?`, string(status), id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
