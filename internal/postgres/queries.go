package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, created_at, status, payment_method, age_group, gender`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.CreatedAt, &status, &o.PaymentMethod, &o.AgeGroup, &o.Gender); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, classify(err)
	}
	list := []orders.Order{o}
	if err := hydrate(ctx, q, list); err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func listOrders(ctx context.Context, q querier, offset, limit int) ([]orders.Order, error) {
	rows, err := q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, classify(err)
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func collectOrders(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()
	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, o)
	}
	return out, classify(rows.Err())
}

// hydrate attaches lines, their items and options to every order in list.
func hydrate(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	pos := make(map[int64]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		pos[list[i].ID] = i
		list[i].Items = []orders.OrderItem{}
	}

	lines, err := queryLines(ctx, q, ids)
	if err != nil {
		return err
	}
	if len(lines) > 0 {
		lineIDs := make([]int64, len(lines))
		linePos := make(map[int64]int, len(lines))
		for i := range lines {
			lineIDs[i] = lines[i].ID
			linePos[lines[i].ID] = i
		}
		if err := attachLineOptions(ctx, q, lineIDs, func(lineID int64, optID int64, opt *orders.Option) {
			l := &lines[linePos[lineID]]
			l.OptionIDs = append(l.OptionIDs, optID)
			if opt != nil {
				l.Options = append(l.Options, *opt)
			}
		}); err != nil {
			return err
		}
	}
	for _, l := range lines {
		o := &list[pos[l.OrderID]]
		o.Items = append(o.Items, l)
	}
	return nil
}

func queryLines(ctx context.Context, q querier, orderIDs []int64) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.item_id, oi.quantity,
		       i.id, i.name, i.price, i.stock, i.category, i.image_url, i.store_id
		FROM order_items oi
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id`, orderIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var (
			l                  orders.OrderItem
			itemID, storeID    *int64
			name               *string
			price, stock       *int
			category, imageURL *string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Quantity,
			&itemID, &name, &price, &stock, &category, &imageURL, &storeID); err != nil {
			return nil, classify(err)
		}
		if itemID != nil {
			l.Item = &orders.Item{
				ID:       *itemID,
				Name:     deref(name),
				Price:    deref(price),
				Stock:    deref(stock),
				Category: category,
				ImageURL: imageURL,
				StoreID:  storeID,
			}
		}
		l.OptionIDs = []int64{}
		l.Options = []orders.Option{}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}

// attachLineOptions calls fn for every option link; opt is nil when the
// option id does not resolve.
func attachLineOptions(ctx context.Context, q querier, lineIDs []int64, fn func(lineID, optID int64, opt *orders.Option)) error {
	rows, err := q.Query(ctx, `
		SELECT oio.order_item_id, oio.option_id, o.name, o.price_adjustment
		FROM order_item_options oio
		LEFT JOIN options o ON o.id = oio.option_id
		WHERE oio.order_item_id = ANY($1)
		ORDER BY oio.order_item_id, oio.option_id`, lineIDs)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lineID, optID int64
			name          *string
			adj           *int
		)
		if err := rows.Scan(&lineID, &optID, &name, &adj); err != nil {
			return classify(err)
		}
		var opt *orders.Option
		if name != nil {
			opt = &orders.Option{ID: optID, Name: *name, PriceAdjustment: deref(adj)}
		}
		fn(lineID, optID, opt)
	}
	return classify(rows.Err())
}

// ---- catalog ----

const itemColumns = `id, name, price, stock, category, image_url, store_id`

func scanItem(row pgx.Row) (orders.Item, error) {
	var it orders.Item
	err := row.Scan(&it.ID, &it.Name, &it.Price, &it.Stock, &it.Category, &it.ImageURL, &it.StoreID)
	return it, err
}

func (s *Store) GetItem(ctx context.Context, id int64) (orders.Item, error) {
	it, err := scanItem(s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Item{}, classify(err)
	}
	list := []orders.Item{it}
	if err := s.attachItemOptions(ctx, list); err != nil {
		return orders.Item{}, err
	}
	return list[0], nil
}

func (s *Store) GetOption(ctx context.Context, id int64) (orders.Option, error) {
	var o orders.Option
	err := s.db.QueryRow(ctx, `SELECT id, name, price_adjustment FROM options WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.PriceAdjustment)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Option{}, orders.ErrNotFound
	}
	return o, classify(err)
}

func (s *Store) ListItems(ctx context.Context, offset, limit int) ([]orders.Item, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, classify(err)
	}
	if err := s.attachItemOptions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
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
		items[i].Options = []orders.Option{}
	}
	rows, err := s.db.Query(ctx, `
		SELECT io.item_id, o.id, o.name, o.price_adjustment
		FROM item_options io
		JOIN options o ON o.id = io.option_id
		WHERE io.item_id = ANY($1)
		ORDER BY io.item_id, o.id`, ids)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			itemID int64
			o      orders.Option
		)
		if err := rows.Scan(&itemID, &o.ID, &o.Name, &o.PriceAdjustment); err != nil {
			return classify(err)
		}
		it := &items[pos[itemID]]
		it.Options = append(it.Options, o)
	}
	return classify(rows.Err())
}

func sortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
