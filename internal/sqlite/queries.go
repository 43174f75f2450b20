package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jmoiron/sqlx"
)

type orderRow struct {
	ID            int64          `db:"id"`
	CreatedAt     string         `db:"created_at"`
	Status        string         `db:"status"`
	PaymentMethod sql.NullString `db:"payment_method"`
	AgeGroup      sql.NullString `db:"age_group"`
	Gender        sql.NullString `db:"gender"`
}

const orderColumns = `id, created_at, status, payment_method, age_group, gender`

func (r orderRow) toOrder() (orders.Order, error) {
	created, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %d created_at: %w", r.ID, err)
	}
	return orders.Order{
		ID:            r.ID,
		CreatedAt:     created,
		Status:        orders.Status(r.Status),
		PaymentMethod: nullString(r.PaymentMethod),
		AgeGroup:      nullString(r.AgeGroup),
		Gender:        nullString(r.Gender),
		Items:         []orders.OrderItem{},
	}, nil
}

func getOrder(ctx context.Context, q querier, id int64) (orders.Order, error) {
	var r orderRow
	err := sqlx.GetContext(ctx, q, &r, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if isNoRows(err) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, classify(err)
	}
	o, err := r.toOrder()
	if err != nil {
		return orders.Order{}, err
	}
	list := []orders.Order{o}
	if err := hydrate(ctx, q, list); err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func listOrders(ctx context.Context, q querier, offset, limit int) ([]orders.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset); err != nil {
		return nil, classify(err)
	}
	out := make([]orders.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := hydrate(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

type lineRow struct {
	ID       int64          `db:"id"`
	OrderID  int64          `db:"order_id"`
	ItemID   int64          `db:"item_id"`
	Quantity int            `db:"quantity"`
	RefID    sql.NullInt64  `db:"ref_id"`
	Name     sql.NullString `db:"ref_name"`
	Price    sql.NullInt64  `db:"ref_price"`
	Stock    sql.NullInt64  `db:"ref_stock"`
	Category sql.NullString `db:"ref_category"`
	ImageURL sql.NullString `db:"ref_image_url"`
	StoreID  sql.NullInt64  `db:"ref_store_id"`
}

type lineOptionRow struct {
	LineID   int64          `db:"order_item_id"`
	OptionID int64          `db:"option_id"`
	Name     sql.NullString `db:"name"`
	Adjust   sql.NullInt64  `db:"price_adjustment"`
}

func hydrate(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	pos := make(map[int64]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		pos[list[i].ID] = i
	}

	query, args, err := sqlx.In(`
		SELECT oi.id, oi.order_id, oi.item_id, oi.quantity,
		       i.id AS ref_id, i.name AS ref_name, i.price AS ref_price, i.stock AS ref_stock,
		       i.category AS ref_category, i.image_url AS ref_image_url, i.store_id AS ref_store_id
		FROM order_items oi
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.id`, ids)
	if err != nil {
		return err
	}
	var rows []lineRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return classify(err)
	}
	if len(rows) == 0 {
		return nil
	}

	lines := make([]orders.OrderItem, len(rows))
	lineIDs := make([]int64, len(rows))
	linePos := make(map[int64]int, len(rows))
	for i, r := range rows {
		lines[i] = r.toOrderItem()
		lineIDs[i] = r.ID
		linePos[r.ID] = i
	}

	query, args, err = sqlx.In(`
		SELECT oio.order_item_id, oio.option_id, o.name, o.price_adjustment
		FROM order_item_options oio
		LEFT JOIN options o ON o.id = oio.option_id
		WHERE oio.order_item_id IN (?)
		ORDER BY oio.order_item_id, oio.option_id`, lineIDs)
	if err != nil {
		return err
	}
	var opts []lineOptionRow
	if err := sqlx.SelectContext(ctx, q, &opts, query, args...); err != nil {
		return classify(err)
	}
	for _, r := range opts {
		l := &lines[linePos[r.LineID]]
		l.OptionIDs = append(l.OptionIDs, r.OptionID)
		if r.Name.Valid {
			l.Options = append(l.Options, orders.Option{
				ID:              r.OptionID,
				Name:            r.Name.String,
				PriceAdjustment: int(r.Adjust.Int64),
			})
		}
	}

	for _, l := range lines {
		o := &list[pos[l.OrderID]]
		o.Items = append(o.Items, l)
	}
	return nil
}

func (r lineRow) toOrderItem() orders.OrderItem {
	l := orders.OrderItem{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ItemID:    r.ItemID,
		Quantity:  r.Quantity,
		OptionIDs: []int64{},
		Options:   []orders.Option{},
	}
	if r.RefID.Valid {
		l.Item = &orders.Item{
			ID:       r.RefID.Int64,
			Name:     r.Name.String,
			Price:    int(r.Price.Int64),
			Stock:    int(r.Stock.Int64),
			Category: nullString(r.Category),
			ImageURL: nullString(r.ImageURL),
			StoreID:  nullInt64(r.StoreID),
		}
	}
	return l
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
