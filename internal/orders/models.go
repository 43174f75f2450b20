package orders

import "time"

// Item is catalog reference data. Stock is only ever changed by checkout.
type Item struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Price    int      `json:"price"`
	Stock    int      `json:"stock"`
	Category *string  `json:"category,omitempty"`
	ImageURL *string  `json:"image_url,omitempty"`
	StoreID  *int64   `json:"store_id,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

type Option struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	PriceAdjustment int    `json:"price_adjustment"`
}

type Order struct {
	ID            int64       `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Status        Status      `json:"status"`
	PaymentMethod *string     `json:"payment_method"`
	AgeGroup      *string     `json:"age_group"`
	Gender        *string     `json:"gender"`
	Items         []OrderItem `json:"items"`
}

// Paid reports whether checkout already ran for the order.
func (o Order) Paid() bool { return o.PaymentMethod != nil }

// OrderItem is one persisted line. OptionIDs holds every linked id, Options
// only those that resolve to an Option row. Item is nil for a dangling item id.
type OrderItem struct {
	ID        int64    `json:"id"`
	OrderID   int64    `json:"order_id"`
	ItemID    int64    `json:"item_id"`
	Quantity  int      `json:"quantity"`
	Item      *Item    `json:"item"`
	OptionIDs []int64  `json:"option_ids"`
	Options   []Option `json:"options"`
}

// LineItem is the caller-supplied shape of an order line.
type LineItem struct {
	ItemID    int64   `json:"item_id"`
	Quantity  int     `json:"quantity"`
	OptionIDs []int64 `json:"option_ids"`
}

type NewOrder struct {
	Items    []LineItem `json:"items"`
	AgeGroup *string    `json:"age_group"`
	Gender   *string    `json:"gender"`
}
