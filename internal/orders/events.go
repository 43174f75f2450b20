package orders

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderItemsAdded    = "OrderItemsAdded"
	EventOrderCheckedOut    = "OrderCheckedOut"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers an encoded envelope to a topic. Delivery is best-effort.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, []byte, []byte, ...kafka.Header) {}

// ---- payloads ----

type LineQty struct {
	ItemID    int64   `json:"item_id"`
	Qty       int     `json:"qty"`
	OptionIDs []int64 `json:"option_ids,omitempty"`
}

type OrderCreatedPayload struct {
	OrderID  int64     `json:"order_id"`
	Items    []LineQty `json:"items"`
	AgeGroup *string   `json:"age_group,omitempty"`
	Gender   *string   `json:"gender,omitempty"`
}

type OrderItemsAddedPayload struct {
	OrderID int64     `json:"order_id"`
	Items   []LineQty `json:"items"`
}

// StockMovement is one ledger decrement. Remaining is the stock right after
// the decrement and may be negative.
type StockMovement struct {
	ItemID    int64 `json:"item_id"`
	Qty       int   `json:"qty"`
	Remaining int   `json:"remaining"`
}

type OrderCheckedOutPayload struct {
	OrderID       int64           `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	Movements     []StockMovement `json:"movements"`
	// SkippedItems lists referenced item ids with no item row.
	SkippedItems []int64 `json:"skipped_items,omitempty"`
	// Recovered marks an event emitted after a commit whose acknowledgement
	// was lost and confirmed on retry.
	Recovered bool `json:"recovered,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

func toLineQty(items []LineItem) []LineQty {
	out := make([]LineQty, 0, len(items))
	for _, it := range items {
		out = append(out, LineQty{ItemID: it.ItemID, Qty: it.Quantity, OptionIDs: it.OptionIDs})
	}
	return out
}
