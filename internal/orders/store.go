package orders

import "context"

// Reader is the query side shared by a Store and an open Tx.
type Reader interface {
	// GetOrder returns the hydrated order or ErrNotFound.
	GetOrder(ctx context.Context, id int64) (Order, error)
	// ListOrders returns hydrated orders, newest created first.
	ListOrders(ctx context.Context, offset, limit int) ([]Order, error)
}

// Catalog is the read-only view of items and options.
type Catalog interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	GetOption(ctx context.Context, id int64) (Option, error)
	ListItems(ctx context.Context, offset, limit int) ([]Item, error)
}

// Ledger is the stock protocol used by checkout.
//
// LockAndRead locks every existing item row for the rest of the transaction,
// acquiring locks in ascending id order regardless of input order. Ids with no
// item row are absent from the result. Decrement has no lower bound.
type Ledger interface {
	LockAndRead(ctx context.Context, itemIDs []int64) (map[int64]int, error)
	Decrement(ctx context.Context, itemID int64, amount int) error
}

type Tx interface {
	Reader
	Ledger

	InsertOrder(ctx context.Context, ageGroup, gender *string) (Order, error)
	InsertItems(ctx context.Context, orderID int64, items []LineItem) error
	// LockOrder returns the hydrated order and holds its row for the rest of
	// the transaction.
	LockOrder(ctx context.Context, id int64) (Order, error)
	// CompleteOrder sets payment method and status. It fails with a transient
	// ErrConflict when the order was paid concurrently.
	CompleteOrder(ctx context.Context, id int64, paymentMethod string) error
	SetStatus(ctx context.Context, id int64, status Status) error
}

type Store interface {
	Reader
	Catalog
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Cache fronts GetOrder. Implementations must tolerate concurrent use.
//
// Fills are conditional: Generation is read before the store read and
// SetOrder stores the order only if no Invalidate ran in between, so a slow
// reader can never write back a copy older than a committed mutation.
type Cache interface {
	Generation(ctx context.Context, id int64) (int64, error)
	GetOrder(ctx context.Context, id int64) (Order, bool, error)
	SetOrder(ctx context.Context, o Order, gen int64) error
	Invalidate(ctx context.Context, id int64) error
}

type nopCache struct{}

func (nopCache) Generation(context.Context, int64) (int64, error)      { return 0, nil }
func (nopCache) GetOrder(context.Context, int64) (Order, bool, error) { return Order{}, false, nil }
func (nopCache) SetOrder(context.Context, Order, int64) error         { return nil }
func (nopCache) Invalidate(context.Context, int64) error              { return nil }
