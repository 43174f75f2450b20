package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jmoiron/sqlx"
)

type itemRow struct {
	ID       int64          `db:"id"`
	Name     string         `db:"name"`
	Price    int            `db:"price"`
	Stock    int            `db:"stock"`
	Category sql.NullString `db:"category"`
	ImageURL sql.NullString `db:"image_url"`
	StoreID  sql.NullInt64  `db:"store_id"`
}

func (r itemRow) toItem() orders.Item {
	return orders.Item{
		ID:       r.ID,
		Name:     r.Name,
		Price:    r.Price,
		Stock:    r.Stock,
		Category: nullString(r.Category),
		ImageURL: nullString(r.ImageURL),
		StoreID:  nullInt64(r.StoreID),
	}
}

const itemColumns = `id, name, price, stock, category, image_url, store_id`

func (s *Store) GetItem(ctx context.Context, id int64) (orders.Item, error) {
	var r itemRow
	err := sqlx.GetContext(ctx, s.rdb, &r, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if isNoRows(err) {
		return orders.Item{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Item{}, classify(err)
	}
	items := []orders.Item{r.toItem()}
	if err := s.attachItemOptions(ctx, items); err != nil {
		return orders.Item{}, err
	}
	return items[0], nil
}

func (s *Store) GetOption(ctx context.Context, id int64) (orders.Option, error) {
	var o orders.Option
	err := s.rdb.QueryRowxContext(ctx,
		`SELECT id, name, price_adjustment FROM options WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &o.PriceAdjustment)
	if isNoRows(err) {
		return orders.Option{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Option{}, classify(err)
	}
	return o, nil
}

func (s *Store) ListItems(ctx context.Context, offset, limit int) ([]orders.Item, error) {
	var rows []itemRow
	if err := sqlx.SelectContext(ctx, s.rdb, &rows,
		`SELECT `+itemColumns+` FROM items ORDER BY id LIMIT ? OFFSET ?`, limit, offset); err != nil {
		return nil, classify(err)
	}
	items := make([]orders.Item, len(rows))
	for i, r := range rows {
		items[i] = r.toItem()
	}
	if err := s.attachItemOptions(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

type itemOptionRow struct {
	ItemID int64  `db:"item_id"`
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Adjust int    `db:"price_adjustment"`
}

func (s *Store) attachItemOptions(ctx context.Context, items []orders.Item) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]int64, len(items))
	pos := make(map[int64]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		pos[items[i].ID] = i
	}
	query, args, err := sqlx.In(`
		SELECT io.item_id, o.id, o.name, o.price_adjustment
		FROM item_options io
		JOIN options o ON o.id = io.option_id
		WHERE io.item_id IN (?)
		ORDER BY io.item_id, o.id`, ids)
	if err != nil {
		return err
	}
	var rows []itemOptionRow
	if err := sqlx.SelectContext(ctx, s.rdb, &rows, query, args...); err != nil {
		return classify(err)
	}
	for _, r := range rows {
		it := &items[pos[r.ItemID]]
		it.Options = append(it.Options, orders.Option{ID: r.ID, Name: r.Name, PriceAdjustment: r.Adjust})
	}
	return nil
}

// CreateItem inserts a catalog item and returns it with its id. Catalog
// management is outside the order API; this exists for seeding.
func (s *Store) CreateItem(ctx context.Context, it orders.Item) (orders.Item, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (name, price, stock, category, image_url, store_id) VALUES (?, ?, ?, ?, ?, ?)`,
		it.Name, it.Price, it.Stock, it.Category, it.ImageURL, it.StoreID)
	if err != nil {
		return orders.Item{}, fmt.Errorf("create item %q: %w", it.Name, classify(err))
	}
	if it.ID, err = res.LastInsertId(); err != nil {
		return orders.Item{}, err
	}
	it.Options = nil
	return it, nil
}

func (s *Store) CreateOption(ctx context.Context, o orders.Option) (orders.Option, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO options (name, price_adjustment) VALUES (?, ?)`, o.Name, o.PriceAdjustment)
	if err != nil {
		return orders.Option{}, fmt.Errorf("create option %q: %w", o.Name, classify(err))
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return orders.Option{}, err
	}
	return o, nil
}

// AttachOption offers an option on an item.
func (s *Store) AttachOption(ctx context.Context, itemID, optionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_options (item_id, option_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, itemID, optionID)
	return classify(err)
}
