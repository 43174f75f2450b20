package redisx

import "time"

const (
	// Order read cache: order:{order_id} -> JSON order
	KeyOrder = "order:%d"

	// Bumped by every invalidation; cache fills compare against it.
	KeyOrderGen = "order:gen:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Set of item ids at or below the low-stock threshold.
	KeyLowStock = "stock:low"

	// Hash item_id -> last stock seen on a checkout event.
	KeyStockLevels = "stock:levels"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLOrderGen   = 24 * time.Hour
	TTLDedup      = 48 * time.Hour
)
