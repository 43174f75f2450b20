package orders

import "strconv"

const (
	TopicOrderCreated       = "order.created"
	TopicOrderItemsAdded    = "order.items.added"
	TopicOrderCheckedOut    = "order.checked_out"
	TopicOrderStatusChanged = "order.status.changed"
)

// Message headers set on every event; consumers may route on them without
// decoding the value.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
